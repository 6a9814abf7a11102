package config

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "wait.poll_interval")
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

// Upper bounds that catch unit mistakes such as "5h" for "5s".
const (
	maxPollInterval  = 24 * time.Hour
	maxMutexRetry    = time.Minute
	maxMutexTimeout  = 24 * time.Hour
	minPollInterval  = 10 * time.Millisecond
	minMutexInterval = time.Millisecond
)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validateIdentity()...)
	errors = append(errors, c.validateWait()...)
	errors = append(errors, c.validateMutex()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

// validateIdentity validates the pid override
func (c *Config) validateIdentity() []ValidationError {
	var errors []ValidationError

	if c.PIDOverride < 0 {
		errors = append(errors, ValidationError{
			Field:   "pid_override",
			Value:   c.PIDOverride,
			Message: "must be a positive pid, or 0 for none",
		})
	}

	return errors
}

// validateWait validates the WaitConfig
func (c *Config) validateWait() []ValidationError {
	var errors []ValidationError

	if c.Wait.PollInterval < minPollInterval {
		errors = append(errors, ValidationError{
			Field:   "wait.poll_interval",
			Value:   c.Wait.PollInterval,
			Message: fmt.Sprintf("must be at least %s", minPollInterval),
		})
	}
	if c.Wait.PollInterval > maxPollInterval {
		errors = append(errors, ValidationError{
			Field:   "wait.poll_interval",
			Value:   c.Wait.PollInterval,
			Message: fmt.Sprintf("exceeds maximum of %s", maxPollInterval),
		})
	}

	return errors
}

// validateMutex validates the MutexConfig
func (c *Config) validateMutex() []ValidationError {
	var errors []ValidationError

	if c.Mutex.RetryInterval < minMutexInterval {
		errors = append(errors, ValidationError{
			Field:   "mutex.retry_interval",
			Value:   c.Mutex.RetryInterval,
			Message: fmt.Sprintf("must be at least %s", minMutexInterval),
		})
	}
	if c.Mutex.RetryInterval > maxMutexRetry {
		errors = append(errors, ValidationError{
			Field:   "mutex.retry_interval",
			Value:   c.Mutex.RetryInterval,
			Message: fmt.Sprintf("exceeds maximum of %s", maxMutexRetry),
		})
	}

	if c.Mutex.Timeout < 0 {
		errors = append(errors, ValidationError{
			Field:   "mutex.timeout",
			Value:   c.Mutex.Timeout,
			Message: "must be non-negative (0 = wait forever)",
		})
	}
	if c.Mutex.Timeout > maxMutexTimeout {
		errors = append(errors, ValidationError{
			Field:   "mutex.timeout",
			Value:   c.Mutex.Timeout,
			Message: fmt.Sprintf("exceeds maximum of %s", maxMutexTimeout),
		})
	}

	// A timeout shorter than one retry would give up after a single attempt
	if c.Mutex.Timeout > 0 && c.Mutex.RetryInterval > c.Mutex.Timeout {
		errors = append(errors, ValidationError{
			Field:   "mutex.retry_interval",
			Value:   c.Mutex.RetryInterval,
			Message: fmt.Sprintf("must not exceed mutex.timeout (%s)", c.Mutex.Timeout),
		})
	}

	return errors
}

// validateLogging validates the LoggingConfig
func (c *Config) validateLogging() []ValidationError {
	var errors []ValidationError

	if c.Logging.Level != "" && !slices.Contains(ValidLogLevels(), c.Logging.Level) {
		errors = append(errors, ValidationError{
			Field:   "logging.level",
			Value:   c.Logging.Level,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(ValidLogLevels(), ", ")),
		})
	}

	return errors
}
