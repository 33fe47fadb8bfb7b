package config

import (
	"strings"
	"testing"
)

func TestValidate(t *testing.T) {
	tests := []struct {
		name      string
		mutate    func(*Config)
		wantField string
	}{
		{"empty command", func(c *Config) { c.Intelligence.Command = " " }, "intelligence.command"},
		{"negative generation timeout", func(c *Config) { c.Stages.GenerationTimeoutMinutes = -1 }, "stages.generation_timeout_minutes"},
		{"huge review timeout", func(c *Config) { c.Stages.ReviewTimeoutMinutes = 100000 }, "stages.review_timeout_minutes"},
		{"unknown backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
		{"sqlite without path", func(c *Config) { c.State.Backend = "sqlite"; c.State.SQLitePath = "" }, "state.sqlite_path"},
		{"empty addr", func(c *Config) { c.Server.Addr = "" }, "server.addr"},
		{"negative shutdown", func(c *Config) { c.Server.ShutdownTimeoutSeconds = -5 }, "server.shutdown_timeout_seconds"},
		{"bad level", func(c *Config) { c.Logging.Level = "trace" }, "logging.level"},
		{"zero max size", func(c *Config) { c.Logging.MaxSizeMB = 0 }, "logging.max_size_mb"},
		{"huge max size", func(c *Config) { c.Logging.MaxSizeMB = 5000 }, "logging.max_size_mb"},
		{"negative backups", func(c *Config) { c.Logging.MaxBackups = -1 }, "logging.max_backups"},
		{"empty data dir", func(c *Config) { c.Paths.DataDir = "" }, "paths.data_dir"},
		{"escaping data dir", func(c *Config) { c.Paths.DataDir = "../elsewhere" }, "paths.data_dir"},
		{"bad glob", func(c *Config) { c.Paths.SpecPatterns = []string{"specs/[a-"} }, "paths.spec_patterns[0]"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(cfg)
			errs := cfg.Validate()
			found := false
			for _, e := range errs {
				if e.Field == tt.wantField {
					found = true
				}
			}
			if !found {
				t.Errorf("expected error on %s, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestValidate_ZeroTimeoutsAllowed(t *testing.T) {
	cfg := Default()
	cfg.Stages.GenerationTimeoutMinutes = 0
	cfg.Stages.ReviewTimeoutMinutes = 0
	if errs := cfg.Validate(); len(errs) != 0 {
		t.Errorf("zero timeouts should be valid, got %v", errs)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	if (ValidationErrors{}).Error() != "" {
		t.Error("empty ValidationErrors should render empty")
	}
	one := ValidationErrors{{Field: "a", Value: 1, Message: "bad"}}
	if one.Error() != "a: bad (got: 1)" {
		t.Errorf("single = %q", one.Error())
	}
	two := append(one, ValidationError{Field: "b", Value: "x", Message: "worse"})
	out := two.Error()
	if !strings.HasPrefix(out, "2 validation errors:") || !strings.Contains(out, "2. b: worse (got: x)") {
		t.Errorf("multiple = %q", out)
	}
}
