package mailbox

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/Iron-Ham/gotmesh/internal/logging"
)

const (
	// defaultPollInterval is the default interval for the fallback poller.
	defaultPollInterval = 250 * time.Millisecond

	// maxWatchErrors is the number of consecutive read errors before the
	// watcher logs at error level.
	maxWatchErrors = 5
)

// Handler receives messages from other peers.
type Handler func(Message)

type subscription struct {
	id      uint64
	handler Handler
}

// Mailbox is one peer's endpoint on a shared mailbox directory. It
// broadcasts to every peer registered in the directory and delivers
// messages written by others to the registered handlers.
type Mailbox struct {
	store        *Store
	peerID       string
	logger       *logging.Logger
	pollInterval time.Duration
	skipHistory  bool
	noNotify     bool

	mu       sync.Mutex
	handlers []subscription
	nextID   uint64

	// offsets is only touched by the Run goroutine.
	offsets map[string]int64
}

// NewMailbox creates a Mailbox for peerID backed by the shared directory dir.
func NewMailbox(dir, peerID string, opts ...Option) *Mailbox {
	m := &Mailbox{
		store:        NewStore(dir),
		peerID:       peerID,
		pollInterval: defaultPollInterval,
		offsets:      make(map[string]int64),
	}
	for _, opt := range opts {
		opt(m)
	}
	m.logger = logging.OrNop(m.logger).WithPeer(peerID)
	return m
}

// PeerID returns the id this mailbox sends as.
func (m *Mailbox) PeerID() string { return m.peerID }

// Store returns the underlying file store.
func (m *Mailbox) Store() *Store { return m.store }

// Register announces this peer in the shared directory.
func (m *Mailbox) Register() error {
	host, _ := os.Hostname()
	return m.store.RegisterPeer(PeerInfo{
		ID:        m.peerID,
		PID:       os.Getpid(),
		Host:      host,
		StartedAt: time.Now(),
	})
}

// Unregister removes this peer's announcement.
func (m *Mailbox) Unregister() error {
	return m.store.UnregisterPeer(m.peerID)
}

// Broadcast appends msg to the broadcast log and returns how many other
// peers are registered to read it.
func (m *Mailbox) Broadcast(ctx context.Context, msg Message) (int, error) {
	msg.From = m.peerID
	msg.To = BroadcastRecipient
	if _, err := m.store.Append(ctx, msg); err != nil {
		return 0, err
	}

	peers, err := m.store.Peers()
	if err != nil {
		return 0, err
	}
	n := 0
	for _, p := range peers {
		if p.ID != m.peerID {
			n++
		}
	}
	return n, nil
}

// Send delivers msg to a single peer's mailbox.
func (m *Mailbox) Send(ctx context.Context, to string, msg Message) error {
	if err := validPeerID(to); err != nil {
		return err
	}
	msg.From = m.peerID
	msg.To = to
	_, err := m.store.Append(ctx, msg)
	return err
}

// OnMessage registers handler for messages from other peers and returns a
// function that removes it. Handlers run on the Run goroutine, one message
// at a time, in log order and then registration order.
func (m *Mailbox) OnMessage(handler Handler) (cancel func()) {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers = append(m.handlers, subscription{id: id, handler: handler})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, sub := range m.handlers {
			if sub.id == id {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

// Run delivers new messages until ctx is done. It watches the mailbox
// directories for writes and rescans on a timer as well, since
// notifications are not available on every file system.
func (m *Mailbox) Run(ctx context.Context) error {
	recipients := []string{BroadcastRecipient, m.peerID}
	for _, r := range recipients {
		if err := os.MkdirAll(m.store.dirForRecipient(r), 0o755); err != nil {
			return err
		}
		if m.skipHistory {
			_, off, _ := m.store.ReadFrom(r, 0)
			m.offsets[r] = off
		}
	}

	var notify <-chan fsnotify.Event
	var notifyErrs <-chan error
	if !m.noNotify {
		watcher, err := fsnotify.NewWatcher()
		if err != nil {
			m.logger.Warn("file notifications unavailable, polling only", "error", err)
		} else {
			defer func() { _ = watcher.Close() }()
			for _, r := range recipients {
				if err := watcher.Add(m.store.dirForRecipient(r)); err != nil {
					m.logger.Warn("failed to watch mailbox", "recipient", r, "error", err)
				}
			}
			notify, notifyErrs = watcher.Events, watcher.Errors
		}
	}

	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	consecutiveErrors := 0
	scan := func() {
		if err := m.deliver(recipients); err != nil {
			consecutiveErrors++
			if consecutiveErrors >= maxWatchErrors {
				m.logger.Error("mailbox read keeps failing", "error", err)
				consecutiveErrors = 0
			}
			return
		}
		consecutiveErrors = 0
	}

	scan()
	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-notify:
			if !ok {
				notify = nil
				continue
			}
			if filepath.Base(ev.Name) == indexFile && ev.Op&(fsnotify.Write|fsnotify.Create) != 0 {
				scan()
			}
		case err, ok := <-notifyErrs:
			if !ok {
				notifyErrs = nil
				continue
			}
			m.logger.Debug("file notification error", "error", err)
		case <-ticker.C:
			scan()
		}
	}
}

// deliver reads everything new for recipients and hands messages from
// other peers to the handlers.
func (m *Mailbox) deliver(recipients []string) error {
	for _, r := range recipients {
		msgs, off, err := m.store.ReadFrom(r, m.offsets[r])
		m.offsets[r] = off
		for _, msg := range msgs {
			if msg.From == m.peerID {
				continue
			}
			m.dispatch(msg)
		}
		if err != nil {
			return err
		}
	}
	return nil
}

func (m *Mailbox) dispatch(msg Message) {
	m.mu.Lock()
	subs := append([]subscription(nil), m.handlers...)
	m.mu.Unlock()

	for _, sub := range subs {
		sub.handler(msg)
	}
}
