package provider

import (
	"encoding/json"
	"strconv"
	"strings"
	"time"

	"product-media-studio/internal/domain/model"
	"product-media-studio/internal/domain/ports/adapter"
)

// Real providers disagree on almost every field of a task-status payload: the
// success flag may be an integer code, a string state or only implied by the
// presence of result URLs; progress may be 0..1, 0..100 or "65%"; result URLs
// hide under several key names or inside a JSON-encoded string field.
// Normalize collapses all of that into one canonical TaskStatus by trying
// fields in a fixed priority order per axis and stopping at the first
// confident match. Unparseable fields count as absent, never as errors.

const maxNestingDepth = 4

// Container keys that may hold the actual payload one level down, either as
// a nested object or as a JSON-encoded string.
var containerKeys = []string{"data", "response", "resp", "result", "output", "task"}

var stateKeys = []string{
	"status", "state", "task_status", "taskStatus", "job_status",
	"successFlag", "success_flag", "success", "flag", "code",
}

var progressKeys = []string{
	"progress", "percent", "percentage", "progress_percent", "progressRate", "completion",
}

var urlKeys = []string{
	"result_urls", "resultUrls", "results", "output_urls", "urls",
	"image_urls", "images", "videos", "works",
	"video_url", "image_url", "resource_url", "url",
}

var messageKeys = []string{
	"error", "error_msg", "err_msg", "fail_reason", "reason", "message", "msg",
}

var stageKeys = []string{"stage", "stage_label", "phase", "current_step", "status_text"}

// String states collapsed to one canonical value each. More than one sentinel
// means "failed"; anything queued-ish is "pending".
var stringStates = map[string]model.JobState{
	"succeeded": model.JobStateSucceeded,
	"success":   model.JobStateSucceeded,
	"completed": model.JobStateSucceeded,
	"complete":  model.JobStateSucceeded,
	"finished":  model.JobStateSucceeded,
	"done":      model.JobStateSucceeded,
	"ok":        model.JobStateSucceeded,

	"failed":   model.JobStateFailed,
	"failure":  model.JobStateFailed,
	"fail":     model.JobStateFailed,
	"error":    model.JobStateFailed,
	"errored":  model.JobStateFailed,
	"canceled": model.JobStateFailed,
	"expired":  model.JobStateFailed,

	"pending":   model.JobStatePending,
	"queued":    model.JobStatePending,
	"waiting":   model.JobStatePending,
	"created":   model.JobStatePending,
	"submitted": model.JobStatePending,

	"running":     model.JobStateRunning,
	"processing":  model.JobStateRunning,
	"in_progress": model.JobStateRunning,
	"generating":  model.JobStateRunning,
	"started":     model.JobStateRunning,
}

// Integer codes seen in the wild: 1 means success, 0 means still working,
// anything in 2..9 or negative is a failure sentinel.
func stateFromCode(code int) (model.JobState, bool) {
	switch {
	case code == 1:
		return model.JobStateSucceeded, true
	case code == 0:
		return model.JobStateRunning, true
	case code < 0, code >= 2 && code <= 9:
		return model.JobStateFailed, true
	}
	return "", false
}

// Normalize maps one decoded provider payload to the canonical TaskStatus.
// It never fails: a payload with nothing recognizable normalizes to a
// running task with no progress.
func Normalize(payload map[string]any) *adapter.TaskStatus {
	sc := scopes(payload)

	st := &adapter.TaskStatus{}
	st.ResultURLs = findURLs(sc)

	fraction := findProgress(sc)
	stage, _ := findString(sc, stageKeys)
	if fraction != nil || stage != "" {
		st.Progress = &model.ProgressSample{Fraction: fraction, Stage: stage, ObservedAt: time.Now()}
	}

	state, explicit := findState(sc)
	if !explicit {
		// Only fall back to "presence of URLs implies success" when no
		// explicit flag was found anywhere.
		if len(st.ResultURLs) > 0 {
			state = model.JobStateSucceeded
		} else {
			state = model.JobStateRunning
		}
	}
	st.State = state

	if msg, ok := findString(sc, messageKeys); ok {
		st.Message = msg
	}
	return st
}

// scopes returns the payload followed by nested payload objects, outermost
// first, descending through containerKeys in order. Nested JSON-encoded
// strings are decoded on the way. The order is deterministic, so every axis
// lookup is deterministic too.
func scopes(root map[string]any) []map[string]any {
	out := []map[string]any{root}
	frontier := []map[string]any{root}
	for depth := 0; depth < maxNestingDepth && len(frontier) > 0; depth++ {
		var next []map[string]any
		for _, m := range frontier {
			for _, key := range containerKeys {
				v, ok := m[key]
				if !ok {
					continue
				}
				if child := asObject(v); child != nil {
					out = append(out, child)
					next = append(next, child)
				}
			}
		}
		frontier = next
	}
	return out
}

func asObject(v any) map[string]any {
	switch t := v.(type) {
	case map[string]any:
		return t
	case string:
		s := strings.TrimSpace(t)
		if !strings.HasPrefix(s, "{") {
			return nil
		}
		var m map[string]any
		if err := json.Unmarshal([]byte(s), &m); err != nil {
			return nil
		}
		return m
	}
	return nil
}

func findState(sc []map[string]any) (model.JobState, bool) {
	for _, m := range sc {
		for _, key := range stateKeys {
			v, ok := m[key]
			if !ok {
				continue
			}
			if state, ok := stateFromValue(v); ok {
				return state, true
			}
			// Unrecognized value: treat as absent and keep looking.
		}
	}
	return "", false
}

func stateFromValue(v any) (model.JobState, bool) {
	switch t := v.(type) {
	case bool:
		if t {
			return model.JobStateSucceeded, true
		}
		return model.JobStateFailed, true
	case float64:
		if t == float64(int(t)) {
			return stateFromCode(int(t))
		}
	case string:
		s := strings.ToLower(strings.TrimSpace(t))
		if st, ok := stringStates[s]; ok {
			return st, true
		}
		if code, err := strconv.Atoi(s); err == nil {
			return stateFromCode(code)
		}
	}
	return "", false
}

func findProgress(sc []map[string]any) *float64 {
	for _, m := range sc {
		for _, key := range progressKeys {
			v, ok := m[key]
			if !ok {
				continue
			}
			if f, ok := fractionFromValue(v); ok {
				return &f
			}
		}
	}
	return nil
}

// fractionFromValue accepts 0..1 floats, 0..100 numbers and percent strings
// like "65%" and returns a fraction clamped to [0,1].
func fractionFromValue(v any) (float64, bool) {
	var raw float64
	switch t := v.(type) {
	case float64:
		raw = t
	case string:
		s := strings.TrimSpace(strings.TrimSuffix(strings.TrimSpace(t), "%"))
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return 0, false
		}
		raw = f
		if strings.Contains(t, "%") {
			raw = f / 100
		} else if f > 1 {
			raw = f / 100
		}
		return clamp01(raw), true
	default:
		return 0, false
	}
	if raw > 1 {
		raw = raw / 100
	}
	return clamp01(raw), true
}

func clamp01(f float64) float64 {
	if f < 0 {
		return 0
	}
	if f > 1 {
		return 1
	}
	return f
}

func findString(sc []map[string]any, keys []string) (string, bool) {
	for _, m := range sc {
		for _, key := range keys {
			if v, ok := m[key]; ok {
				if s, ok := v.(string); ok && strings.TrimSpace(s) != "" {
					return s, true
				}
			}
		}
	}
	return "", false
}

func findURLs(sc []map[string]any) []string {
	for _, m := range sc {
		for _, key := range urlKeys {
			v, ok := m[key]
			if !ok {
				continue
			}
			if urls := urlsFromValue(v); len(urls) > 0 {
				return urls
			}
		}
	}
	return nil
}

// urlsFromValue accepts a single URL string, a list of URL strings, a list of
// objects carrying a URL field, or a JSON-encoded string of any of those.
func urlsFromValue(v any) []string {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if isURL(s) {
			return []string{s}
		}
		// Result lists sometimes arrive JSON-encoded inside a string field.
		if strings.HasPrefix(s, "[") || strings.HasPrefix(s, "{") {
			var decoded any
			if err := json.Unmarshal([]byte(s), &decoded); err == nil {
				return urlsFromValue(decoded)
			}
		}
	case []any:
		var urls []string
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if isURL(strings.TrimSpace(it)) {
					urls = append(urls, strings.TrimSpace(it))
				}
			case map[string]any:
				for _, key := range []string{"url", "image_url", "video_url", "resource_url"} {
					if s, ok := it[key].(string); ok && isURL(s) {
						urls = append(urls, s)
						break
					}
				}
			}
		}
		return urls
	case map[string]any:
		for _, key := range []string{"url", "image_url", "video_url", "resource_url"} {
			if s, ok := t[key].(string); ok && isURL(s) {
				return []string{s}
			}
		}
	}
	return nil
}

func isURL(s string) bool {
	return strings.HasPrefix(s, "http://") || strings.HasPrefix(s, "https://")
}
