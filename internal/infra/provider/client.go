package provider

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"product-media-studio/internal/config"
	"product-media-studio/internal/domain"
	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
	"product-media-studio/internal/infra/metrics"
)

// Compile-time assurance this client satisfies the port
var _ adapter.GenerationProvider = (*Client)(nil)

// Task id key names tried in priority order when parsing a create response.
var taskIDKeys = []string{"task_id", "taskId", "request_id", "job_id", "id"}

// Client talks to one external generation provider over HTTP. Image and video
// jobs use different endpoint families; payload field names come from
// configuration because they are provider-specific, not a stable contract.
// The client keeps no state between calls.
type Client struct {
	cfg  config.ProviderConfig
	http *http.Client
	log  *zerolog.Logger
}

func NewClient(cfg config.ProviderConfig, logger *zerolog.Logger) (*Client, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: provider api key empty", domain.ErrInvalidArgument)
	}
	if cfg.Image.BaseURL == "" && cfg.Video.BaseURL == "" {
		return nil, fmt.Errorf("%w: provider base url empty", domain.ErrInvalidArgument)
	}
	return &Client{
		cfg:  cfg,
		http: &http.Client{Timeout: cfg.Timeout},
		log:  logger,
	}, nil
}

func (c *Client) endpoint(kind model.JobKind) config.EndpointConfig {
	if kind == model.JobKindVideo {
		return c.cfg.Video
	}
	return c.cfg.Image
}

// CreateTask submits the generation request and returns the provider task
// handle. A decodable non-success synchronous response maps to
// ErrProviderRejected; transport failures map to ErrProviderUnreachable.
func (c *Client) CreateTask(ctx context.Context, req *model.JobRequest) (model.JobHandle, error) {
	ep := c.endpoint(req.Kind)

	body := map[string]any{ep.PromptField: req.Prompt}
	if len(req.ReferenceURLs) > 0 {
		body[ep.ReferenceField] = req.ReferenceURLs
	}
	if req.AspectRatio != "" {
		body[ep.AspectRatioField] = req.AspectRatio
	}
	if req.OutputFormat != "" {
		body[ep.FormatField] = req.OutputFormat
	}

	payload, err := c.postJSON(ctx, req.Kind, "create", strings.TrimRight(ep.BaseURL, "/")+ep.CreatePath, body)
	if err != nil {
		return model.JobHandle{}, err
	}

	if msg, rejected := rejectionFromBody(payload); rejected {
		return model.JobHandle{}, fmt.Errorf("%w: %s", domain.ErrProviderRejected, msg)
	}

	taskID := findTaskID(payload)
	if taskID == "" {
		return model.JobHandle{}, fmt.Errorf("%w: create response carried no task id", domain.ErrProviderRejected)
	}
	return model.JobHandle{TaskID: taskID, Kind: req.Kind}, nil
}

// TaskStatus polls the task once and normalizes whatever shape comes back.
func (c *Client) TaskStatus(ctx context.Context, handle model.JobHandle) (*adapter.TaskStatus, error) {
	ep := c.endpoint(handle.Kind)

	u := strings.TrimRight(ep.BaseURL, "/") + ep.StatusPath
	q := url.Values{}
	q.Set(ep.TaskIDParam, handle.TaskID)
	u += "?" + q.Encode()

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	if resp.StatusCode >= 500 {
		metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: poll http %d", domain.ErrProviderUnreachable, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		// The task is gone or the request is malformed; retrying cannot help.
		metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: poll http %d: %s", domain.ErrProviderRejected, resp.StatusCode, truncate(raw, 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		// A garbled body is transient: the next poll gets a fresh one.
		metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: undecodable poll body", domain.ErrProviderUnreachable)
	}

	metrics.ObserveProviderCall(string(handle.Kind), "poll", int(latency/time.Millisecond), true)
	st := Normalize(payload)
	c.log.Debug().
		Str("task_id", handle.TaskID).
		Str("state", string(st.State)).
		Int("urls", len(st.ResultURLs)).
		Msg("poll normalized")
	return st, nil
}

func (c *Client) postJSON(ctx context.Context, kind model.JobKind, op, u string, body map[string]any) (map[string]any, error) {
	b, _ := json.Marshal(body)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, u, bytes.NewReader(b))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrInvalidArgument, err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.cfg.APIKey)

	start := time.Now()
	resp, err := c.http.Do(httpReq)
	latency := time.Since(start)
	if err != nil {
		metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %v", domain.ErrProviderUnreachable, err)
	}

	if resp.StatusCode >= 500 {
		metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %s http %d", domain.ErrProviderUnreachable, op, resp.StatusCode)
	}
	if resp.StatusCode >= 300 {
		metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: %s http %d: %s", domain.ErrProviderRejected, op, resp.StatusCode, truncate(raw, 200))
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), false)
		return nil, fmt.Errorf("%w: undecodable %s body", domain.ErrProviderUnreachable, op)
	}
	metrics.ObserveProviderCall(string(kind), op, int(latency/time.Millisecond), true)
	return payload, nil
}

// rejectionFromBody detects providers that return HTTP 200 with an in-body
// error code on create. Codes 0 and 200 are accepted as success.
func rejectionFromBody(payload map[string]any) (string, bool) {
	v, ok := payload["code"]
	if !ok {
		return "", false
	}
	f, ok := v.(float64)
	if !ok {
		return "", false
	}
	code := int(f)
	if code == 0 || code == 200 {
		return "", false
	}
	msg := fmt.Sprintf("code %d", code)
	if s, ok := findString(scopes(payload), messageKeys); ok {
		msg = msg + ": " + s
	}
	return msg, true
}

func findTaskID(payload map[string]any) string {
	for _, m := range scopes(payload) {
		for _, key := range taskIDKeys {
			switch v := m[key].(type) {
			case string:
				if strings.TrimSpace(v) != "" {
					return strings.TrimSpace(v)
				}
			case float64:
				if v == float64(int64(v)) && v > 0 {
					return fmt.Sprintf("%d", int64(v))
				}
			}
		}
	}
	return ""
}

func truncate(b []byte, n int) string {
	s := string(b)
	if len(s) > n {
		return s[:n] + "..."
	}
	return s
}
