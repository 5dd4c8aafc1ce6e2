package config

import (
	"strings"
	"testing"
	"time"
)

func TestLoad_valid(t *testing.T) {
	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 9090 {
		t.Errorf("Server.Port = %d, want 9090", cfg.Server.Port)
	}
	if cfg.Server.ReadTimeout != 15*time.Second {
		t.Errorf("Server.ReadTimeout = %v, want 15s", cfg.Server.ReadTimeout)
	}
	if cfg.Backend.BaseURL != "https://api.shop.internal" {
		t.Errorf("Backend.BaseURL = %q", cfg.Backend.BaseURL)
	}
	if cfg.Backend.LoginPath != "/user/login" {
		t.Errorf("Backend.LoginPath = %q", cfg.Backend.LoginPath)
	}
	if cfg.Backend.CircuitBreaker.FailureThreshold != 4 {
		t.Errorf("CircuitBreaker.FailureThreshold = %d, want 4", cfg.Backend.CircuitBreaker.FailureThreshold)
	}
	// Unset nested fields keep their defaults.
	if cfg.Backend.CircuitBreaker.SuccessThreshold != 2 {
		t.Errorf("CircuitBreaker.SuccessThreshold = %d, want default 2", cfg.Backend.CircuitBreaker.SuccessThreshold)
	}
	if cfg.Session.Driver != "redis" || cfg.Session.TTL != 2*time.Hour {
		t.Errorf("Session = %+v", cfg.Session)
	}
	if cfg.ListView.DefaultPageSize != 25 || len(cfg.ListView.PageSizes) != 3 {
		t.Errorf("ListView page sizes = %v default %d", cfg.ListView.PageSizes, cfg.ListView.DefaultPageSize)
	}
	if cfg.ListView.SearchDebounce != 250*time.Millisecond {
		t.Errorf("SearchDebounce = %v, want 250ms", cfg.ListView.SearchDebounce)
	}
	if cfg.References.UnknownLabel != "(deleted)" {
		t.Errorf("References.UnknownLabel = %q", cfg.References.UnknownLabel)
	}
	if cfg.References.Placeholder != "Loading…" {
		t.Errorf("References.Placeholder = %q, want default", cfg.References.Placeholder)
	}
}

func TestLoad_missing_file(t *testing.T) {
	_, err := Load("testdata/nonexistent.yaml")
	if err == nil {
		t.Fatal("Load() with missing file should return error")
	}
}

func TestLoad_missing_backend(t *testing.T) {
	_, err := Load("testdata/missing_backend.yaml")
	if err == nil {
		t.Fatal("Load() without backend.base_url should return error")
	}
	if !strings.Contains(err.Error(), "backend.base_url") {
		t.Errorf("error = %v, want mention of backend.base_url", err)
	}
}

func TestDefaults(t *testing.T) {
	cfg := Defaults()
	if cfg.Server.Port != 8080 {
		t.Errorf("default Server.Port = %d, want 8080", cfg.Server.Port)
	}
	if cfg.ListView.SearchDebounce != 300*time.Millisecond {
		t.Errorf("default SearchDebounce = %v, want 300ms", cfg.ListView.SearchDebounce)
	}
	if cfg.ListView.StatusSuccessTTL != 2*time.Second || cfg.ListView.StatusErrorTTL != 3*time.Second {
		t.Errorf("default status flag TTLs = %v/%v, want 2s/3s",
			cfg.ListView.StatusSuccessTTL, cfg.ListView.StatusErrorTTL)
	}
	if cfg.Session.Driver != "memory" {
		t.Errorf("default Session.Driver = %q, want memory", cfg.Session.Driver)
	}
	if cfg.Observability.LogLevel != "info" {
		t.Errorf("default LogLevel = %q, want info", cfg.Observability.LogLevel)
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("CONSOLE_SERVER_PORT", "3000")
	t.Setenv("CONSOLE_BACKEND_BASE_URL", "http://localhost:5000")
	t.Setenv("CONSOLE_SESSION_DRIVER", "memory")
	t.Setenv("CONSOLE_OBSERVABILITY_LOG_LEVEL", "error")
	t.Setenv("CONSOLE_DEFINITIONS_DIR", "/a:/b")

	cfg, err := Load("testdata/valid.yaml")
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Server.Port != 3000 {
		t.Errorf("Server.Port = %d, want 3000 (env override)", cfg.Server.Port)
	}
	if cfg.Backend.BaseURL != "http://localhost:5000" {
		t.Errorf("Backend.BaseURL = %q, want env override", cfg.Backend.BaseURL)
	}
	if cfg.Session.Driver != "memory" {
		t.Errorf("Session.Driver = %q, want env override", cfg.Session.Driver)
	}
	if cfg.Observability.LogLevel != "error" {
		t.Errorf("LogLevel = %q, want error (env override)", cfg.Observability.LogLevel)
	}
	if len(cfg.Definitions.Directories) != 2 {
		t.Errorf("Definitions.Directories = %v, want 2 entries", cfg.Definitions.Directories)
	}
}

func TestValidate(t *testing.T) {
	valid := func() *Config {
		cfg := Defaults()
		cfg.Backend.BaseURL = "http://backend"
		return cfg
	}

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"invalid port", func(c *Config) { c.Server.Port = 0 }, "server.port"},
		{"unknown session driver", func(c *Config) { c.Session.Driver = "etcd" }, "session.driver"},
		{"default page size not offered", func(c *Config) { c.ListView.DefaultPageSize = 15 }, "default_page_size"},
		{"empty page sizes", func(c *Config) { c.ListView.PageSizes = nil }, "page_sizes"},
		{"jpeg quality", func(c *Config) { c.Uploads.JPEGQuality = 0 }, "jpeg_quality"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid()
			tt.mutate(cfg)
			err := cfg.Validate()
			if err == nil {
				t.Fatal("Validate() should return error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error = %v, want mention of %q", err, tt.want)
			}
		})
	}

	if err := valid().Validate(); err != nil {
		t.Errorf("Validate() on defaults = %v", err)
	}
}
