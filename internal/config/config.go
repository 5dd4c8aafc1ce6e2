// Package config loads and validates application configuration from YAML files
// and environment variables.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root application configuration.
type Config struct {
	Server        ServerConfig        `yaml:"server"`
	Backend       BackendConfig       `yaml:"backend"`
	Definitions   DefinitionsConfig   `yaml:"definitions"`
	Session       SessionConfig       `yaml:"session"`
	ListView      ListViewConfig      `yaml:"listview"`
	References    ReferenceConfig     `yaml:"references"`
	Capability    CapabilityConfig    `yaml:"capability"`
	Uploads       UploadConfig        `yaml:"uploads"`
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig describes HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	HandlerTimeout  time.Duration `yaml:"handler_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	CORS            CORSConfig    `yaml:"cors"`
}

// CORSConfig describes Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `yaml:"allowed_origins"`
	AllowedMethods []string `yaml:"allowed_methods"`
	AllowedHeaders []string `yaml:"allowed_headers"`
	MaxAge         int      `yaml:"max_age"`
}

// BackendConfig describes the REST backend the console fronts.
type BackendConfig struct {
	BaseURL        string               `yaml:"base_url"`
	Timeout        time.Duration        `yaml:"timeout"`
	LoginPath      string               `yaml:"login_path"`
	OpenAPISpec    string               `yaml:"openapi_spec"`
	StrictSpec     bool                 `yaml:"strict_spec"`
	CircuitBreaker CircuitBreakerConfig `yaml:"circuit_breaker"`
	Retry          RetryConfig          `yaml:"retry"`
}

// CircuitBreakerConfig describes circuit breaker settings for the backend.
type CircuitBreakerConfig struct {
	FailureThreshold int           `yaml:"failure_threshold"`
	SuccessThreshold int           `yaml:"success_threshold"`
	Timeout          time.Duration `yaml:"timeout"`
}

// RetryConfig describes retry settings for backend calls. Only GET requests
// are ever retried.
type RetryConfig struct {
	MaxAttempts       int           `yaml:"max_attempts"`
	BackoffInitial    time.Duration `yaml:"backoff_initial"`
	BackoffMultiplier float64       `yaml:"backoff_multiplier"`
	BackoffMax        time.Duration `yaml:"backoff_max"`
}

// DefinitionsConfig describes where to find resource definition YAML files.
type DefinitionsConfig struct {
	Directories []string `yaml:"directories"`
}

// SessionConfig describes session storage and lifetime.
type SessionConfig struct {
	Driver     string        `yaml:"driver"`
	AddrEnv    string        `yaml:"addr_env"`
	DB         int           `yaml:"db"`
	TTL        time.Duration `yaml:"ttl"`
	CookieName string        `yaml:"cookie_name"`
	Secure     bool          `yaml:"secure_cookie"`

	// JWKSURL, when set, makes the console verify backend-issued tokens
	// before trusting their claims.
	JWKSURL    string   `yaml:"jwks_url"`
	Algorithms []string `yaml:"algorithms"`
	RoleClaim  string   `yaml:"role_claim"`
}

// ListViewConfig describes list screen behaviour.
type ListViewConfig struct {
	PageSizes        []int         `yaml:"page_sizes"`
	DefaultPageSize  int           `yaml:"default_page_size"`
	SearchDebounce   time.Duration `yaml:"search_debounce"`
	PageChangeDelay  time.Duration `yaml:"page_change_delay"`
	StatusSuccessTTL time.Duration `yaml:"status_success_ttl"`
	StatusErrorTTL   time.Duration `yaml:"status_error_ttl"`
	MutationErrorTTL time.Duration `yaml:"mutation_error_ttl"`
	FetchTimeout     time.Duration `yaml:"fetch_timeout"`
}

// ReferenceConfig describes foreign-key label resolution.
type ReferenceConfig struct {
	Placeholder  string        `yaml:"placeholder"`
	UnknownLabel string        `yaml:"unknown_label"`
	MaxEntries   int           `yaml:"max_entries"`
	FetchTimeout time.Duration `yaml:"fetch_timeout"`
	OptionsTTL   time.Duration `yaml:"options_ttl"`
}

// CapabilityConfig describes authorization settings.
type CapabilityConfig struct {
	StaticPolicyFile string `yaml:"static_policy_file"`
}

// UploadConfig describes image normalization before forwarding uploads.
type UploadConfig struct {
	MaxBytes     int64 `yaml:"max_bytes"`
	MaxDimension int   `yaml:"max_dimension"`
	JPEGQuality  int   `yaml:"jpeg_quality"`
}

// ObservabilityConfig describes logging, tracing, and metrics settings.
type ObservabilityConfig struct {
	LogLevel  string        `yaml:"log_level"`
	LogFormat string        `yaml:"log_format"`
	Tracing   TracingConfig `yaml:"tracing"`
	Metrics   MetricsConfig `yaml:"metrics"`
}

// TracingConfig describes distributed tracing settings.
type TracingConfig struct {
	Enabled      bool    `yaml:"enabled"`
	Exporter     string  `yaml:"exporter"`
	Endpoint     string  `yaml:"endpoint"`
	Insecure     bool    `yaml:"insecure"`
	SamplingRate float64 `yaml:"sampling_rate"`
}

// MetricsConfig describes Prometheus metrics settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Path    string `yaml:"path"`
}

// Defaults returns a Config with sensible default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ReadTimeout:     30 * time.Second,
			WriteTimeout:    30 * time.Second,
			HandlerTimeout:  25 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			CORS: CORSConfig{
				AllowedMethods: []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
				AllowedHeaders: []string{"Authorization", "Content-Type", "X-Session-Id", "X-Correlation-Id"},
				MaxAge:         86400,
			},
		},
		Backend: BackendConfig{
			Timeout:   10 * time.Second,
			LoginPath: "/auth/login",
			CircuitBreaker: CircuitBreakerConfig{
				FailureThreshold: 5,
				SuccessThreshold: 2,
				Timeout:          30 * time.Second,
			},
			Retry: RetryConfig{
				MaxAttempts:       2,
				BackoffInitial:    200 * time.Millisecond,
				BackoffMultiplier: 2,
				BackoffMax:        2 * time.Second,
			},
		},
		Definitions: DefinitionsConfig{
			Directories: []string{"/definitions"},
		},
		Session: SessionConfig{
			Driver:     "memory",
			AddrEnv:    "CONSOLE_REDIS_ADDR",
			TTL:        8 * time.Hour,
			CookieName: "console_session",
			Secure:     true,
			Algorithms: []string{"RS256", "ES256", "HS256"},
			RoleClaim:  "roles",
		},
		ListView: ListViewConfig{
			PageSizes:        []int{10, 20, 50},
			DefaultPageSize:  10,
			SearchDebounce:   300 * time.Millisecond,
			PageChangeDelay:  300 * time.Millisecond,
			StatusSuccessTTL: 2 * time.Second,
			StatusErrorTTL:   3 * time.Second,
			MutationErrorTTL: 3 * time.Second,
			FetchTimeout:     15 * time.Second,
		},
		References: ReferenceConfig{
			Placeholder:  "Loading…",
			UnknownLabel: "Unknown",
			MaxEntries:   10000,
			FetchTimeout: 5 * time.Second,
			OptionsTTL:   time.Minute,
		},
		Uploads: UploadConfig{
			MaxBytes:     10 << 20,
			MaxDimension: 1600,
			JPEGQuality:  85,
		},
		Observability: ObservabilityConfig{
			LogLevel:  "info",
			LogFormat: "json",
			Tracing: TracingConfig{
				Exporter:     "otlp",
				SamplingRate: 0.1,
			},
			Metrics: MetricsConfig{
				Enabled: true,
				Path:    "/metrics",
			},
		},
	}
}

// Load reads a YAML config file, applies environment variable overrides,
// and validates required fields.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: reading %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("config: parsing %s: %w", path, err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config: validation: %w", err)
	}

	return cfg, nil
}

// Validate checks that all required fields are present and valid.
func (c *Config) Validate() error {
	var errs []string

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		errs = append(errs, "server.port must be between 1 and 65535")
	}
	if c.Backend.BaseURL == "" {
		errs = append(errs, "backend.base_url is required")
	}
	if c.Backend.Timeout <= 0 {
		errs = append(errs, "backend.timeout must be positive")
	}
	switch c.Session.Driver {
	case "memory", "redis":
	default:
		errs = append(errs, fmt.Sprintf("session.driver %q must be memory or redis", c.Session.Driver))
	}
	if c.Session.TTL <= 0 {
		errs = append(errs, "session.ttl must be positive")
	}
	if len(c.ListView.PageSizes) == 0 {
		errs = append(errs, "listview.page_sizes must not be empty")
	}
	for _, p := range c.ListView.PageSizes {
		if p < 1 {
			errs = append(errs, "listview.page_sizes entries must be positive")
			break
		}
	}
	if !slices.Contains(c.ListView.PageSizes, c.ListView.DefaultPageSize) {
		errs = append(errs, "listview.default_page_size must be one of listview.page_sizes")
	}
	if c.ListView.SearchDebounce < 0 || c.ListView.PageChangeDelay < 0 {
		errs = append(errs, "listview delays must not be negative")
	}
	if c.Uploads.JPEGQuality < 1 || c.Uploads.JPEGQuality > 100 {
		errs = append(errs, "uploads.jpeg_quality must be between 1 and 100")
	}

	if len(errs) > 0 {
		return fmt.Errorf("%s", strings.Join(errs, "; "))
	}
	return nil
}

// applyEnvOverrides reads CONSOLE_* environment variables and overrides config
// values. Only the most commonly overridden fields are supported.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("CONSOLE_SERVER_PORT"); v != "" {
		var port int
		if _, err := fmt.Sscanf(v, "%d", &port); err == nil {
			cfg.Server.Port = port
		}
	}
	if v := os.Getenv("CONSOLE_BACKEND_BASE_URL"); v != "" {
		cfg.Backend.BaseURL = v
	}
	if v := os.Getenv("CONSOLE_BACKEND_OPENAPI_SPEC"); v != "" {
		cfg.Backend.OpenAPISpec = v
	}
	if v := os.Getenv("CONSOLE_SESSION_DRIVER"); v != "" {
		cfg.Session.Driver = v
	}
	if v := os.Getenv("CONSOLE_OBSERVABILITY_LOG_LEVEL"); v != "" {
		cfg.Observability.LogLevel = v
	}
	if v := os.Getenv("CONSOLE_OBSERVABILITY_LOG_FORMAT"); v != "" {
		cfg.Observability.LogFormat = v
	}
	if v := os.Getenv("CONSOLE_DEFINITIONS_DIR"); v != "" {
		cfg.Definitions.Directories = strings.Split(v, string(os.PathListSeparator))
	}
}
