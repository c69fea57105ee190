package coordination

import (
	"time"

	"github.com/Iron-Ham/gotmesh/internal/config"
	"github.com/Iron-Ham/gotmesh/internal/logging"
)

// settings holds optional configuration shared by Coordinator and Hub.
type settings struct {
	logger        *logging.Logger
	gossipWindow  time.Duration
	claimTTL      time.Duration
	expiryGrace   time.Duration
	backoffStep   int
	workers       int
	idlePoll      time.Duration
	sweepInterval time.Duration
	stopWhenDone  bool
}

func defaultSettings() settings {
	d := config.Default()
	return settings{
		gossipWindow:  d.Claim.GossipWindow(),
		claimTTL:      d.Claim.TTL(),
		expiryGrace:   d.Claim.ExpiryGrace(),
		backoffStep:   d.Claim.BackoffStep,
		workers:       d.Scheduler.Workers,
		idlePoll:      d.Scheduler.IdlePoll(),
		sweepInterval: time.Second,
	}
}

// Option configures a Coordinator or a Hub.
type Option func(*settings)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *settings) { s.logger = l }
}

// WithGossipWindow sets how long a claimant waits for competing claims.
func WithGossipWindow(d time.Duration) Option {
	return func(s *settings) { s.gossipWindow = d }
}

// WithClaimTTL sets how long a winner has to start before its claim lapses.
func WithClaimTTL(d time.Duration) Option {
	return func(s *settings) { s.claimTTL = d }
}

// WithExpiryGrace sets the slack added to claim and lease expiry.
func WithExpiryGrace(d time.Duration) Option {
	return func(s *settings) { s.expiryGrace = d }
}

// WithBackoffStep sets how much a losing claimant lowers the task's
// priority before contesting it again.
func WithBackoffStep(n int) Option {
	return func(s *settings) { s.backoffStep = n }
}

// WithWorkers sets the number of concurrent executions a Hub runs.
func WithWorkers(n int) Option {
	return func(s *settings) { s.workers = n }
}

// WithIdlePoll sets how often idle workers recheck the scheduler.
func WithIdlePoll(d time.Duration) Option {
	return func(s *settings) { s.idlePoll = d }
}

// WithSweepInterval sets how often stale remote claims are dropped.
func WithSweepInterval(d time.Duration) Option {
	return func(s *settings) { s.sweepInterval = d }
}

// WithStopWhenDone makes Hub.Run return once every task is terminal.
func WithStopWhenDone() Option {
	return func(s *settings) { s.stopWhenDone = true }
}

// FromConfig translates the claim and scheduler sections of cfg into
// options.
func FromConfig(cfg *config.Config) []Option {
	return []Option{
		WithGossipWindow(cfg.Claim.GossipWindow()),
		WithClaimTTL(cfg.Claim.TTL()),
		WithExpiryGrace(cfg.Claim.ExpiryGrace()),
		WithBackoffStep(cfg.Claim.BackoffStep),
		WithWorkers(cfg.Scheduler.Workers),
		WithIdlePoll(cfg.Scheduler.IdlePoll()),
	}
}
