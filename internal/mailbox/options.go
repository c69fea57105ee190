package mailbox

import (
	"time"

	"github.com/Iron-Ham/gotmesh/internal/logging"
)

// Option configures a Mailbox.
type Option func(*Mailbox)

// WithLogger sets the logger for delivery diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(m *Mailbox) { m.logger = l }
}

// WithPollInterval sets how often Run rescans the mailbox when no file
// notification arrives. Zero or negative values are ignored.
func WithPollInterval(d time.Duration) Option {
	return func(m *Mailbox) {
		if d > 0 {
			m.pollInterval = d
		}
	}
}

// WithSkipHistory makes Run ignore messages written before it started.
// By default a joining peer replays the whole log.
func WithSkipHistory() Option {
	return func(m *Mailbox) { m.skipHistory = true }
}

// WithoutNotify disables file-system notifications so that Run relies on
// polling alone.
func WithoutNotify() Option {
	return func(m *Mailbox) { m.noNotify = true }
}
