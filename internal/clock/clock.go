package clock

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"sync"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/logging"
)

// Op is one local operation recorded in the append-only log.
type Op struct {
	Counter   uint64    `json:"counter"`
	Operation string    `json:"operation"`
	Head      string    `json:"head"`
	At        time.Time `json:"at"`
}

// Clock is a peer's Merkle clock. It is safe for concurrent use: ticks from
// worker goroutines and merges from message handlers may interleave.
type Clock struct {
	mu     sync.Mutex
	peerID string
	state  State
	log    []Op
	maxLog int
	now    func() time.Time
	logger *logging.Logger
}

// Option configures a Clock.
type Option func(*Clock)

// WithMaxLog bounds the operation log. Zero keeps every operation.
func WithMaxLog(n int) Option {
	return func(c *Clock) { c.maxLog = n }
}

// WithLogger sets the logger used for fork diagnostics.
func WithLogger(l *logging.Logger) Option {
	return func(c *Clock) { c.logger = l }
}

// WithNow overrides the time source used for log timestamps.
func WithNow(now func() time.Time) Option {
	return func(c *Clock) { c.now = now }
}

// New creates a clock for peerID at counter zero.
func New(peerID string, opts ...Option) *Clock {
	c := &Clock{
		peerID: peerID,
		state:  State{Peers: make(map[string]Entry)},
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrNop(c.logger).WithPeer(peerID)
	return c
}

// PeerID returns the id of the peer that owns this clock.
func (c *Clock) PeerID() string { return c.peerID }

// Tick records a local operation and returns the updated state to broadcast.
func (c *Clock) Tick(operation string) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	prev := c.state.Peers[c.peerID]
	counter := prev.Counter + 1
	head := chainHash(prev.Heads, counter, operation, c.peerID)
	c.state.Peers[c.peerID] = Entry{Counter: counter, Heads: []string{head}}

	c.log = append(c.log, Op{Counter: counter, Operation: operation, Head: head, At: c.now()})
	if c.maxLog > 0 && len(c.log) > c.maxLog {
		c.log = append(c.log[:0:0], c.log[len(c.log)-c.maxLog:]...)
	}
	return c.state.Clone()
}

// Merge joins a remote state into the local one and returns the result.
// Counters never decrease; equal counters with different heads keep both.
func (c *Clock) Merge(remote State) State {
	c.mu.Lock()
	defer c.mu.Unlock()

	merged := Join(c.state, remote)
	for id, e := range merged.Peers {
		if e.Forked() && !c.state.Peers[id].Forked() {
			c.logger.Debug("clock fork recorded", "fork_peer", id, "counter", e.Counter, "heads", len(e.Heads))
		}
	}
	c.state = merged
	return c.state.Clone()
}

// State returns a copy of the merged state.
func (c *Clock) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Clone()
}

// Entry returns the latest known entry for peerID.
func (c *Clock) Entry(peerID string) (Entry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.state.Peers[peerID]
	return e.clone(), ok
}

// Local returns the local peer's entry.
func (c *Clock) Local() Entry {
	e, _ := c.Entry(c.peerID)
	return e
}

// Log returns a copy of the retained local operations, oldest first.
func (c *Clock) Log() []Op {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Op, len(c.log))
	copy(out, c.log)
	return out
}

// chainHash computes H(prevHeads, counter, operation, peerID). Variable-length
// fields are length-prefixed so distinct inputs cannot collide by
// concatenation.
func chainHash(prevHeads []string, counter uint64, operation, peerID string) string {
	h := sha256.New()
	var buf [8]byte

	writeField := func(s string) {
		binary.BigEndian.PutUint64(buf[:], uint64(len(s)))
		h.Write(buf[:])
		h.Write([]byte(s))
	}

	binary.BigEndian.PutUint64(buf[:], uint64(len(prevHeads)))
	h.Write(buf[:])
	for _, p := range prevHeads {
		writeField(p)
	}
	binary.BigEndian.PutUint64(buf[:], counter)
	h.Write(buf[:])
	writeField(operation)
	writeField(peerID)

	return hex.EncodeToString(h.Sum(nil))
}
