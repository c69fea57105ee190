package config

import (
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/viper"
)

// Config represents the complete gotmesh configuration
type Config struct {
	Peer      PeerConfig      `mapstructure:"peer"`
	Scheduler SchedulerConfig `mapstructure:"scheduler"`
	Claim     ClaimConfig     `mapstructure:"claim"`
	Task      TaskConfig      `mapstructure:"task"`
	Clock     ClockConfig     `mapstructure:"clock"`
	Logging   LoggingConfig   `mapstructure:"logging"`
}

// PeerConfig identifies the local peer and where it keeps its state
type PeerConfig struct {
	// ID is the local peer identifier. Empty means derive from the hostname.
	ID string `mapstructure:"id"`
	// DataDir holds persisted task state, results and logs (default: ".gotmesh")
	DataDir string `mapstructure:"data_dir"`
	// MailboxDir is the shared gossip directory. Peers that point at the same
	// directory see each other's claims. Empty means {data_dir}/mailbox.
	MailboxDir string `mapstructure:"mailbox_dir"`
}

// SchedulerConfig controls the local worker pool
type SchedulerConfig struct {
	// Workers is the number of concurrent worker goroutines (default: 4)
	Workers int `mapstructure:"workers"`
	// IdlePollMs is how long an idle worker waits before re-checking the
	// scheduler when no wake-up signal arrives (default: 250)
	IdlePollMs int `mapstructure:"idle_poll_ms"`
}

// ClaimConfig controls claim arbitration between peers
type ClaimConfig struct {
	// TTLMs is how long a claim may sit without a start before it expires and
	// the task is rescheduled (default: 30000)
	TTLMs int `mapstructure:"ttl_ms"`
	// GossipWindowMs is how long a contender collects competing claims before
	// computing the winner (default: 200)
	GossipWindowMs int `mapstructure:"gossip_window_ms"`
	// BackoffStep is added to a task's priority each time the local peer
	// defers it to another peer's claim (default: 10)
	BackoffStep int `mapstructure:"backoff_step"`
	// ExpiryGraceMs extends a deferral beyond the winner's claim TTL before the
	// local peer re-contests (default: 1000)
	ExpiryGraceMs int `mapstructure:"expiry_grace_ms"`
}

// TaskConfig holds defaults applied to submitted tasks
type TaskConfig struct {
	// DefaultMaxRetries applies when neither the submission nor the task
	// definition sets one (default: 0)
	DefaultMaxRetries int `mapstructure:"default_max_retries"`
	// DefaultTimeoutMs bounds each execution attempt, 0 = no timeout (default: 0)
	DefaultTimeoutMs int `mapstructure:"default_timeout_ms"`
	// RetentionDays is how long terminal tasks are kept before cleanup (default: 7)
	RetentionDays int `mapstructure:"retention_days"`
}

// ClockConfig controls the causal clock
type ClockConfig struct {
	// MaxLog bounds the in-memory operation log, 0 = unbounded (default: 1024)
	MaxLog int `mapstructure:"max_log"`
}

// LoggingConfig controls debug logging behavior
type LoggingConfig struct {
	// Level is the minimum log level: "debug", "info", "warn", "error" (default: "info")
	Level string `mapstructure:"level"`
	// MaxSizeMB is the size at which gotmesh.log rotates (default: 10)
	MaxSizeMB int `mapstructure:"max_size_mb"`
	// MaxBackups is the number of rotated log files kept (default: 3)
	MaxBackups int `mapstructure:"max_backups"`
	// Compress gzips rotated log files (default: false)
	Compress bool `mapstructure:"compress"`
}

// Default returns a Config with sensible default values
func Default() *Config {
	return &Config{
		Peer: PeerConfig{
			ID:         "",
			DataDir:    ".gotmesh",
			MailboxDir: "",
		},
		Scheduler: SchedulerConfig{
			Workers:    4,
			IdlePollMs: 250,
		},
		Claim: ClaimConfig{
			TTLMs:          30000,
			GossipWindowMs: 200,
			BackoffStep:    10,
			ExpiryGraceMs:  1000,
		},
		Task: TaskConfig{
			DefaultMaxRetries: 0,
			DefaultTimeoutMs:  0,
			RetentionDays:     7,
		},
		Clock: ClockConfig{
			MaxLog: 1024,
		},
		Logging: LoggingConfig{
			Level:      "info",
			MaxSizeMB:  10,
			MaxBackups: 3,
			Compress:   false,
		},
	}
}

// IdlePoll returns the idle poll interval as a time.Duration
func (c *SchedulerConfig) IdlePoll() time.Duration {
	return time.Duration(c.IdlePollMs) * time.Millisecond
}

// TTL returns the claim TTL as a time.Duration
func (c *ClaimConfig) TTL() time.Duration {
	return time.Duration(c.TTLMs) * time.Millisecond
}

// GossipWindow returns the gossip window as a time.Duration
func (c *ClaimConfig) GossipWindow() time.Duration {
	return time.Duration(c.GossipWindowMs) * time.Millisecond
}

// ExpiryGrace returns the deferral grace period as a time.Duration
func (c *ClaimConfig) ExpiryGrace() time.Duration {
	return time.Duration(c.ExpiryGraceMs) * time.Millisecond
}

// DefaultTimeout returns the per-attempt timeout (0 means disabled)
func (c *TaskConfig) DefaultTimeout() time.Duration {
	return time.Duration(c.DefaultTimeoutMs) * time.Millisecond
}

// Retention returns the retention window as a time.Duration
func (c *TaskConfig) Retention() time.Duration {
	return time.Duration(c.RetentionDays) * 24 * time.Hour
}

// ResolvePeerID returns the configured peer id, falling back to the hostname.
func (c *PeerConfig) ResolvePeerID() string {
	if c.ID != "" {
		return c.ID
	}
	host, err := os.Hostname()
	if err != nil || host == "" {
		return "peer"
	}
	return host
}

// ResolveMailboxDir returns the gossip directory, defaulting to {data_dir}/mailbox.
func (c *PeerConfig) ResolveMailboxDir() string {
	if c.MailboxDir != "" {
		return c.MailboxDir
	}
	return filepath.Join(c.DataDir, "mailbox")
}

// SetDefaults registers default values with viper
func SetDefaults() {
	defaults := Default()

	// Peer defaults
	viper.SetDefault("peer.id", defaults.Peer.ID)
	viper.SetDefault("peer.data_dir", defaults.Peer.DataDir)
	viper.SetDefault("peer.mailbox_dir", defaults.Peer.MailboxDir)

	// Scheduler defaults
	viper.SetDefault("scheduler.workers", defaults.Scheduler.Workers)
	viper.SetDefault("scheduler.idle_poll_ms", defaults.Scheduler.IdlePollMs)

	// Claim defaults
	viper.SetDefault("claim.ttl_ms", defaults.Claim.TTLMs)
	viper.SetDefault("claim.gossip_window_ms", defaults.Claim.GossipWindowMs)
	viper.SetDefault("claim.backoff_step", defaults.Claim.BackoffStep)
	viper.SetDefault("claim.expiry_grace_ms", defaults.Claim.ExpiryGraceMs)

	// Task defaults
	viper.SetDefault("task.default_max_retries", defaults.Task.DefaultMaxRetries)
	viper.SetDefault("task.default_timeout_ms", defaults.Task.DefaultTimeoutMs)
	viper.SetDefault("task.retention_days", defaults.Task.RetentionDays)

	// Clock defaults
	viper.SetDefault("clock.max_log", defaults.Clock.MaxLog)

	// Logging defaults
	viper.SetDefault("logging.level", defaults.Logging.Level)
	viper.SetDefault("logging.max_size_mb", defaults.Logging.MaxSizeMB)
	viper.SetDefault("logging.max_backups", defaults.Logging.MaxBackups)
	viper.SetDefault("logging.compress", defaults.Logging.Compress)
}

// Load reads the configuration from viper into a Config struct and validates it
func Load() (*Config, error) {
	var cfg Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return nil, err
	}

	if errs := cfg.Validate(); len(errs) > 0 {
		return nil, ValidationErrors(errs)
	}

	return &cfg, nil
}

// ConfigDir returns the path to the user's config directory
func ConfigDir() string {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "gotmesh")
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return ".gotmesh"
	}
	return filepath.Join(home, ".config", "gotmesh")
}

// ConfigFile returns the path to the config file
func ConfigFile() string {
	return filepath.Join(ConfigDir(), "config.yaml")
}
