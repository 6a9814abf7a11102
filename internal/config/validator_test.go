package config

import (
	"strings"
	"testing"
	"time"
)

func TestValidationError_Error(t *testing.T) {
	err := ValidationError{
		Field:   "test.field",
		Value:   123,
		Message: "must be greater than zero",
	}

	expected := "test.field: must be greater than zero (got: 123)"
	if err.Error() != expected {
		t.Errorf("Error() = %q, want %q", err.Error(), expected)
	}
}

func TestValidationErrors_Error(t *testing.T) {
	t.Run("empty errors", func(t *testing.T) {
		var errs ValidationErrors
		if errs.Error() != "" {
			t.Errorf("Error() for empty = %q, want empty string", errs.Error())
		}
	})

	t.Run("single error", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "test.field", Value: 123, Message: "is invalid"},
		}
		expected := "test.field: is invalid (got: 123)"
		if errs.Error() != expected {
			t.Errorf("Error() = %q, want %q", errs.Error(), expected)
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		errs := ValidationErrors{
			{Field: "field1", Value: "bad", Message: "is invalid"},
			{Field: "field2", Value: -1, Message: "must be positive"},
		}
		result := errs.Error()
		if !strings.Contains(result, "2 validation errors") {
			t.Errorf("Error() should mention 2 errors: %s", result)
		}
		if !strings.Contains(result, "field1") || !strings.Contains(result, "field2") {
			t.Errorf("Error() should mention both fields: %s", result)
		}
	})
}

func TestConfig_Validate_DefaultConfig(t *testing.T) {
	cfg := Default()
	errs := cfg.Validate()
	if len(errs) != 0 {
		t.Errorf("Default config should be valid, got errors: %v", errs)
	}
}

func hasFieldError(errs []ValidationError, field string) bool {
	for _, err := range errs {
		if err.Field == field {
			return true
		}
	}
	return false
}

func TestConfig_Validate(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(*Config)
		wantField string
	}{
		{name: "negative pid override", modify: func(c *Config) { c.PIDOverride = -1 }, wantField: "pid_override"},
		{name: "zero poll interval", modify: func(c *Config) { c.Wait.PollInterval = 0 }, wantField: "wait.poll_interval"},
		{name: "tiny poll interval", modify: func(c *Config) { c.Wait.PollInterval = time.Millisecond }, wantField: "wait.poll_interval"},
		{name: "huge poll interval", modify: func(c *Config) { c.Wait.PollInterval = 48 * time.Hour }, wantField: "wait.poll_interval"},
		{name: "zero mutex retry", modify: func(c *Config) { c.Mutex.RetryInterval = 0 }, wantField: "mutex.retry_interval"},
		{name: "huge mutex retry", modify: func(c *Config) { c.Mutex.RetryInterval = 2 * time.Minute; c.Mutex.Timeout = time.Hour }, wantField: "mutex.retry_interval"},
		{name: "retry longer than timeout", modify: func(c *Config) { c.Mutex.RetryInterval = 10 * time.Second; c.Mutex.Timeout = time.Second }, wantField: "mutex.retry_interval"},
		{name: "negative mutex timeout", modify: func(c *Config) { c.Mutex.Timeout = -time.Second }, wantField: "mutex.timeout"},
		{name: "huge mutex timeout", modify: func(c *Config) { c.Mutex.Timeout = 48 * time.Hour }, wantField: "mutex.timeout"},
		{name: "unknown log level", modify: func(c *Config) { c.Logging.Level = "verbose" }, wantField: "logging.level"},
		{name: "uppercase log level", modify: func(c *Config) { c.Logging.Level = "INFO" }, wantField: "logging.level"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if errs := cfg.Validate(); !hasFieldError(errs, tt.wantField) {
				t.Errorf("expected error for %s, got %v", tt.wantField, errs)
			}
		})
	}
}

func TestConfig_Validate_Valid(t *testing.T) {
	tests := []struct {
		name   string
		modify func(*Config)
	}{
		{name: "pid override", modify: func(c *Config) { c.PIDOverride = 4242 }},
		{name: "mutex waits forever", modify: func(c *Config) { c.Mutex.Timeout = 0; c.Mutex.RetryInterval = 5 * time.Second }},
		{name: "empty log level", modify: func(c *Config) { c.Logging.Level = "" }},
		{name: "fast polling", modify: func(c *Config) { c.Wait.PollInterval = 100 * time.Millisecond }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.modify(cfg)
			if errs := cfg.Validate(); len(errs) != 0 {
				t.Errorf("expected valid config, got %v", errs)
			}
		})
	}
}

func TestConfig_Validate_MultipleErrors(t *testing.T) {
	cfg := Default()
	cfg.PIDOverride = -5
	cfg.Wait.PollInterval = 0
	cfg.Logging.Level = "loud"

	errs := cfg.Validate()
	if len(errs) != 3 {
		t.Errorf("expected 3 errors, got %d: %v", len(errs), errs)
	}
}

func TestValidLogLevels(t *testing.T) {
	levels := ValidLogLevels()
	expected := []string{"debug", "info", "warn", "error"}
	if len(levels) != len(expected) {
		t.Fatalf("ValidLogLevels() = %v, want %v", levels, expected)
	}
	for i, level := range expected {
		if levels[i] != level {
			t.Errorf("ValidLogLevels()[%d] = %q, want %q", i, levels[i], level)
		}
	}
}
