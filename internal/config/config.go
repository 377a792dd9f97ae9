package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	PoolSize int    `yaml:"pool_size"`
}

type RedisConfig struct {
	URL      string        `yaml:"url"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"` // status cache TTL
}

type APIConfig struct {
	Port      int    `yaml:"port"`
	JWTSecret string `yaml:"jwt_secret"`
}

// EndpointConfig describes one provider endpoint family. Payload field names
// are provider-specific and therefore configuration, not code.
type EndpointConfig struct {
	BaseURL    string `yaml:"base_url"`
	CreatePath string `yaml:"create_path"`
	StatusPath string `yaml:"status_path"` // task id is appended as a query param

	PromptField      string `yaml:"prompt_field"`
	ReferenceField   string `yaml:"reference_field"`
	AspectRatioField string `yaml:"aspect_ratio_field"`
	FormatField      string `yaml:"format_field"`
	TaskIDParam      string `yaml:"task_id_param"`
}

type ProviderConfig struct {
	APIKey  string         `yaml:"api_key"`
	Timeout time.Duration  `yaml:"timeout"` // per-HTTP-call timeout
	Image   EndpointConfig `yaml:"image"`
	Video   EndpointConfig `yaml:"video"`
}

// JobKindConfig carries the per-kind constants: video jobs run far longer
// than image jobs, so they get a longer deadline and expected duration.
type JobKindConfig struct {
	Deadline         time.Duration `yaml:"deadline"`
	ExpectedDuration time.Duration `yaml:"expected_duration"`
	CreditCost       int64         `yaml:"credit_cost"`
}

type JobsConfig struct {
	Image JobKindConfig `yaml:"image"`
	Video JobKindConfig `yaml:"video"`

	InitialPollDelay time.Duration `yaml:"initial_poll_delay"`
	BackoffFactor    float64       `yaml:"backoff_factor"`
	MaxPollDelay     time.Duration `yaml:"max_poll_delay"`
	PollRetryBudget  int           `yaml:"poll_retry_budget"` // consecutive transport errors tolerated
	MaxInFlight      int           `yaml:"max_in_flight"`
}

type ReconcilerConfig struct {
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
}

type Config struct {
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	API        APIConfig        `yaml:"api"`
	Provider   ProviderConfig   `yaml:"provider"`
	Jobs       JobsConfig       `yaml:"jobs"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(path string, dev bool) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Runtime.Dev = dev
	cfg.ApplyDefaults()
	return &cfg, nil
}

// ApplyDefaults fills every zero value that has a sane default. Exported so
// tests can build configs without a YAML file.
func (cfg *Config) ApplyDefaults() {
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.PoolSize <= 0 {
		cfg.Database.PoolSize = 10
	}
	if cfg.Redis.TTL <= 0 {
		cfg.Redis.TTL = 24 * time.Hour
	}
	if cfg.API.Port == 0 {
		cfg.API.Port = 8080
	}
	if cfg.Provider.Timeout <= 0 {
		cfg.Provider.Timeout = 30 * time.Second
	}
	applyEndpointDefaults(&cfg.Provider.Image, "/v1/images/generations", "/v1/images/status")
	applyEndpointDefaults(&cfg.Provider.Video, "/v1/videos/generations", "/v1/videos/status")

	if cfg.Jobs.Image.Deadline <= 0 {
		cfg.Jobs.Image.Deadline = 2 * time.Minute
	}
	if cfg.Jobs.Image.ExpectedDuration <= 0 {
		cfg.Jobs.Image.ExpectedDuration = 20 * time.Second
	}
	if cfg.Jobs.Image.CreditCost <= 0 {
		cfg.Jobs.Image.CreditCost = 5
	}
	if cfg.Jobs.Video.Deadline <= 0 {
		cfg.Jobs.Video.Deadline = 10 * time.Minute
	}
	if cfg.Jobs.Video.ExpectedDuration <= 0 {
		cfg.Jobs.Video.ExpectedDuration = 3 * time.Minute
	}
	if cfg.Jobs.Video.CreditCost <= 0 {
		cfg.Jobs.Video.CreditCost = 25
	}
	if cfg.Jobs.InitialPollDelay <= 0 {
		cfg.Jobs.InitialPollDelay = 2 * time.Second
	}
	if cfg.Jobs.BackoffFactor < 1 {
		cfg.Jobs.BackoffFactor = 1.5
	}
	if cfg.Jobs.MaxPollDelay <= 0 {
		cfg.Jobs.MaxPollDelay = 15 * time.Second
	}
	if cfg.Jobs.PollRetryBudget <= 0 {
		cfg.Jobs.PollRetryBudget = 5
	}
	if cfg.Jobs.MaxInFlight <= 0 {
		cfg.Jobs.MaxInFlight = 64
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 15 * time.Minute
	}
	// A sweep must never touch a job whose loop may still be alive here: any
	// live loop times out by its deadline, so keep stale_after beyond it.
	if longest := cfg.Jobs.Video.Deadline; cfg.Reconciler.StaleAfter <= longest {
		cfg.Reconciler.StaleAfter = longest + 5*time.Minute
	}
}

func applyEndpointDefaults(ep *EndpointConfig, createPath, statusPath string) {
	if ep.CreatePath == "" {
		ep.CreatePath = createPath
	}
	if ep.StatusPath == "" {
		ep.StatusPath = statusPath
	}
	if ep.PromptField == "" {
		ep.PromptField = "prompt"
	}
	if ep.ReferenceField == "" {
		ep.ReferenceField = "image_urls"
	}
	if ep.AspectRatioField == "" {
		ep.AspectRatioField = "aspect_ratio"
	}
	if ep.FormatField == "" {
		ep.FormatField = "output_format"
	}
	if ep.TaskIDParam == "" {
		ep.TaskIDParam = "task_id"
	}
}

// KindConfig returns the per-kind constants for the given kind string.
func (j JobsConfig) KindConfig(kind string) JobKindConfig {
	if kind == "video" {
		return j.Video
	}
	return j.Image
}
