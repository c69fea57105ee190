package coordination

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/Iron-Ham/gotmesh/internal/mailbox"
)

// Messenger carries gossip between peers. *mailbox.Mailbox implements it
// over a shared directory; MemoryNetwork implements it in process.
type Messenger interface {
	// Broadcast sends msg to every other peer and reports how many there are.
	Broadcast(ctx context.Context, msg mailbox.Message) (peers int, err error)
	// OnMessage registers a handler for messages from other peers.
	OnMessage(handler mailbox.Handler) (cancel func())
}

// Runner is implemented by messengers that need a delivery loop.
type Runner interface {
	Run(ctx context.Context) error
}

// MemoryNetwork connects in-process peers. Each peer receives messages on
// its own goroutine in send order.
type MemoryNetwork struct {
	mu    sync.Mutex
	peers map[string]*MemoryMessenger
}

// NewMemoryNetwork creates an empty network.
func NewMemoryNetwork() *MemoryNetwork {
	return &MemoryNetwork{peers: make(map[string]*MemoryMessenger)}
}

// Join attaches peerID to the network.
func (n *MemoryNetwork) Join(peerID string) *MemoryMessenger {
	m := &MemoryMessenger{
		net:    n,
		peerID: peerID,
		signal: make(chan struct{}, 1),
	}
	n.mu.Lock()
	n.peers[peerID] = m
	n.mu.Unlock()
	return m
}

// Leave detaches peerID. Messages already queued for it are still delivered
// by its Run loop.
func (n *MemoryNetwork) Leave(peerID string) {
	n.mu.Lock()
	delete(n.peers, peerID)
	n.mu.Unlock()
}

// Peers returns the ids of joined peers, sorted.
func (n *MemoryNetwork) Peers() []string {
	n.mu.Lock()
	defer n.mu.Unlock()
	ids := make([]string, 0, len(n.peers))
	for id := range n.peers {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// MemoryMessenger is one peer's endpoint on a MemoryNetwork.
type MemoryMessenger struct {
	net    *MemoryNetwork
	peerID string

	mu       sync.Mutex
	queue    []mailbox.Message
	handlers []memorySub
	nextID   int
	signal   chan struct{}
}

type memorySub struct {
	id int
	h  mailbox.Handler
}

// Broadcast implements Messenger.
func (m *MemoryMessenger) Broadcast(ctx context.Context, msg mailbox.Message) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	if msg.Timestamp.IsZero() {
		msg.Timestamp = time.Now()
	}
	msg.From = m.peerID
	msg.To = mailbox.BroadcastRecipient

	m.net.mu.Lock()
	targets := make([]*MemoryMessenger, 0, len(m.net.peers))
	for id, p := range m.net.peers {
		if id != m.peerID {
			targets = append(targets, p)
		}
	}
	m.net.mu.Unlock()

	for _, p := range targets {
		p.enqueue(msg)
	}
	return len(targets), nil
}

// OnMessage implements Messenger.
func (m *MemoryMessenger) OnMessage(handler mailbox.Handler) func() {
	m.mu.Lock()
	id := m.nextID
	m.nextID++
	m.handlers = append(m.handlers, memorySub{id: id, h: handler})
	m.mu.Unlock()

	return func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		for i, s := range m.handlers {
			if s.id == id {
				m.handlers = append(m.handlers[:i:i], m.handlers[i+1:]...)
				return
			}
		}
	}
}

func (m *MemoryMessenger) enqueue(msg mailbox.Message) {
	m.mu.Lock()
	m.queue = append(m.queue, msg)
	m.mu.Unlock()
	select {
	case m.signal <- struct{}{}:
	default:
	}
}

// Run delivers queued messages until ctx is done.
func (m *MemoryMessenger) Run(ctx context.Context) error {
	for {
		m.mu.Lock()
		batch := m.queue
		m.queue = nil
		subs := append([]memorySub(nil), m.handlers...)
		m.mu.Unlock()

		for _, msg := range batch {
			for _, s := range subs {
				s.h(msg)
			}
		}
		if len(batch) > 0 {
			continue
		}

		select {
		case <-ctx.Done():
			return nil
		case <-m.signal:
		}
	}
}
