package config

import (
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ValidationError represents a single validation failure
type ValidationError struct {
	Field   string // The config field path (e.g., "claim.ttl_ms")
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

// peerIDRegex restricts peer ids to characters that are safe as file names
// inside the shared mailbox directory.
var peerIDRegex = regexp.MustCompile(`^[a-zA-Z0-9][a-zA-Z0-9._-]*$`)

// ValidLogLevels returns the list of valid log levels
func ValidLogLevels() []string {
	return []string{"debug", "info", "warn", "error"}
}

// Validate checks the Config for invalid values and returns all validation errors found
func (c *Config) Validate() []ValidationError {
	var errors []ValidationError

	errors = append(errors, c.validatePeer()...)
	errors = append(errors, c.validateScheduler()...)
	errors = append(errors, c.validateClaim()...)
	errors = append(errors, c.validateTask()...)
	errors = append(errors, c.validateClock()...)
	errors = append(errors, c.validateLogging()...)

	return errors
}

func (c *Config) validatePeer() []ValidationError {
	var errors []ValidationError

	if c.Peer.ID != "" && !peerIDRegex.MatchString(c.Peer.ID) {
		errors = append(errors, ValidationError{
			Field:   "peer.id",
			Value:   c.Peer.ID,
			Message: "must start with a letter or digit and contain only letters, digits, '.', '_' or '-'",
		})
	}

	if strings.TrimSpace(c.Peer.DataDir) == "" {
		errors = append(errors, ValidationError{
			Field:   "peer.data_dir",
			Value:   c.Peer.DataDir,
			Message: "must not be empty",
		})
	}

	for field, path := range map[string]string{
		"peer.data_dir":    c.Peer.DataDir,
		"peer.mailbox_dir": c.Peer.MailboxDir,
	} {
		if strings.ContainsRune(path, '\x00') {
			errors = append(errors, ValidationError{
				Field:   field,
				Value:   path,
				Message: "path contains invalid null character",
			})
		}
	}

	return errors
}

func (c *Config) validateScheduler() []ValidationError {
	var errors []ValidationError

	const maxWorkers = 256
	if c.Scheduler.Workers < 1 || c.Scheduler.Workers > maxWorkers {
		errors = append(errors, ValidationError{
			Field:   "scheduler.workers",
			Value:   c.Scheduler.Workers,
			Message: fmt.Sprintf("must be between 1 and %d", maxWorkers),
		})
	}

	if c.Scheduler.IdlePollMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "scheduler.idle_poll_ms",
			Value:   c.Scheduler.IdlePollMs,
			Message: "must be positive",
		})
	}

	return errors
}

func (c *Config) validateClaim() []ValidationError {
	var errors []ValidationError

	if c.Claim.TTLMs <= 0 {
		errors = append(errors, ValidationError{
			Field:   "claim.ttl_ms",
			Value:   c.Claim.TTLMs,
			Message: "must be positive",
		})
	}

	if c.Claim.GossipWindowMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "claim.gossip_window_ms",
			Value:   c.Claim.GossipWindowMs,
			Message: "must be non-negative",
		})
	}

	// A window as long as the TTL would let claims expire before arbitration ends.
	if c.Claim.TTLMs > 0 && c.Claim.GossipWindowMs >= c.Claim.TTLMs {
		errors = append(errors, ValidationError{
			Field:   "claim.gossip_window_ms",
			Value:   c.Claim.GossipWindowMs,
			Message: "must be shorter than claim.ttl_ms",
		})
	}

	if c.Claim.BackoffStep < 0 {
		errors = append(errors, ValidationError{
			Field:   "claim.backoff_step",
			Value:   c.Claim.BackoffStep,
			Message: "must be non-negative",
		})
	}

	if c.Claim.ExpiryGraceMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "claim.expiry_grace_ms",
			Value:   c.Claim.ExpiryGraceMs,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateTask() []ValidationError {
	var errors []ValidationError

	const maxRetries = 100
	if c.Task.DefaultMaxRetries < 0 || c.Task.DefaultMaxRetries > maxRetries {
		errors = append(errors, ValidationError{
			Field:   "task.default_max_retries",
			Value:   c.Task.DefaultMaxRetries,
			Message: fmt.Sprintf("must be between 0 and %d", maxRetries),
		})
	}

	if c.Task.DefaultTimeoutMs < 0 {
		errors = append(errors, ValidationError{
			Field:   "task.default_timeout_ms",
			Value:   c.Task.DefaultTimeoutMs,
			Message: "must be non-negative (0 disables the timeout)",
		})
	}

	if c.Task.RetentionDays < 0 {
		errors = append(errors, ValidationError{
			Field:   "task.retention_days",
			Value:   c.Task.RetentionDays,
			Message: "must be non-negative",
		})
	}

	return errors
}

func (c *Config) validateClock() []ValidationError {
	if c.Clock.MaxLog < 0 {
		return []ValidationError{{
			Field:   "clock.max_log",
			Value:   c.Clock.MaxLog,
			Message: "must be non-negative (0 keeps the full log)",
		}}
	}
	return nil
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
