package config

import (
	"fmt"
	"slices"
	"strings"

	"github.com/gobwas/glob"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "stages.review_timeout_minutes")
	Value   any    // The invalid value
	Message string // Human-readable error description
}

// Error implements the error interface for ValidationError
func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s (got: %v)", e.Field, e.Message, e.Value)
}

// ValidationErrors is a collection of validation errors
type ValidationErrors []ValidationError

// Error implements the error interface for ValidationErrors
func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}

	var sb strings.Builder
	sb.WriteString(fmt.Sprintf("%d validation errors:\n", len(e)))
	for i, err := range e {
		sb.WriteString(fmt.Sprintf("  %d. %s\n", i+1, err.Error()))
	}
	return sb.String()
}

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// ValidStateBackends returns the list of valid state store backends
func ValidStateBackends() []string {
	return []string{"file", "sqlite"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError
	errors = append(errors, c.validateIntelligence()...)
	errors = append(errors, c.validateStages()...)
	errors = append(errors, c.validateState()...)
	errors = append(errors, c.validateServer()...)
	errors = append(errors, c.validateLogging()...)
	errors = append(errors, c.validatePaths()...)
	return errors
}

func (c *Config) validateIntelligence() []ValidationError {
	if strings.TrimSpace(c.Intelligence.Command) == "" {
		return []ValidationError{{
			Field:   "intelligence.command",
			Value:   c.Intelligence.Command,
			Message: "must not be empty",
		}}
	}
	return nil
}

func (c *Config) validateStages() []ValidationError {
	var errors []ValidationError

	// 0 disables the timeout; a day is long enough for any document
	const maxTimeoutMinutes = 24 * 60
	check := func(field string, v int) {
		if v < 0 {
			errors = append(errors, ValidationError{Field: field, Value: v, Message: "must be non-negative"})
		} else if v > maxTimeoutMinutes {
			errors = append(errors, ValidationError{Field: field, Value: v, Message: fmt.Sprintf("exceeds maximum of %d minutes", maxTimeoutMinutes)})
		}
	}
	check("stages.generation_timeout_minutes", c.Stages.GenerationTimeoutMinutes)
	check("stages.review_timeout_minutes", c.Stages.ReviewTimeoutMinutes)
	return errors
}

func (c *Config) validateState() []ValidationError {
	var errors []ValidationError
	if !slices.Contains(ValidStateBackends(), c.State.Backend) {
		errors = append(errors, ValidationError{
			Field:   "state.backend",
			Value:   c.State.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidStateBackends(), ", ")),
		})
	}
	if c.State.Backend == "sqlite" && strings.TrimSpace(c.State.SQLitePath) == "" {
		errors = append(errors, ValidationError{
			Field:   "state.sqlite_path",
			Value:   c.State.SQLitePath,
			Message: "required when state.backend is sqlite",
		})
	}
	return errors
}

func (c *Config) validateServer() []ValidationError {
	var errors []ValidationError
	if c.Server.Addr == "" {
		errors = append(errors, ValidationError{Field: "server.addr", Value: c.Server.Addr, Message: "must not be empty"})
	}
	if c.Server.ShutdownTimeoutSeconds < 0 {
		errors = append(errors, ValidationError{
			Field:   "server.shutdown_timeout_seconds",
			Value:   c.Server.ShutdownTimeoutSeconds,
			Message: "must be non-negative",
		})
	}
	return errors
}

func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	if c.Logging.MaxSizeMB <= 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: "must be positive",
		})
	}

	const maxLogSizeMB = 1000
	if c.Logging.MaxSizeMB > maxLogSizeMB {
		errors = append(errors, ValidationError{
			Field:   "logging.max_size_mb",
			Value:   c.Logging.MaxSizeMB,
			Message: fmt.Sprintf("exceeds maximum of %dMB", maxLogSizeMB),
		})
	}

	if c.Logging.MaxBackups < 0 {
		errors = append(errors, ValidationError{
			Field:   "logging.max_backups",
			Value:   c.Logging.MaxBackups,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validatePaths() []ValidationError {
	var errors []ValidationError

	dir := c.Paths.DataDir
	if dir == "" || strings.ContainsRune(dir, '\x00') || strings.Contains(dir, "..") {
		errors = append(errors, ValidationError{
			Field:   "paths.data_dir",
			Value:   dir,
			Message: "must be a non-empty relative directory name without '..'",
		})
	}

	for i, p := range c.Paths.SpecPatterns {
		if _, err := glob.Compile(p, '/'); err != nil {
			errors = append(errors, ValidationError{
				Field:   fmt.Sprintf("paths.spec_patterns[%d]", i),
				Value:   p,
				Message: "invalid glob pattern",
			})
		}
	}

	return errors
}
