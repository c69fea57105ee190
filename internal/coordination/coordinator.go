package coordination

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/logging"
	"github.com/Iron-Ham/gotmesh/internal/mailbox"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

const sendTimeout = 5 * time.Second

// payload is the coordination content of a mailbox message.
type payload struct {
	Clock   clock.State       `json:"clock"`
	Entry   *clock.Entry      `json:"entry,omitempty"`
	Result  json.RawMessage   `json:"result,omitempty"`
	Error   *errors.TaskError `json:"error,omitempty"`
	LeaseMs int64             `json:"lease_ms,omitempty"`
}

type observedClaim struct {
	claim clock.Claim
	at    time.Time
}

// Coordinator arbitrates which peer runs a task. A peer that wants a task
// ticks its clock, broadcasts a claim stamped with its entry, listens for
// the gossip window and then applies clock.Winner to every claim it has
// seen. Losers hold the task back until the winner's claim could have
// expired. A winner that later sees a higher claim yields if it has not
// committed yet, so all peers converge on the same owner.
type Coordinator struct {
	peerID string
	tm     *taskmanager.Manager
	clk    *clock.Clock
	net    Messenger
	logger *logging.Logger
	cfg    settings
	now    func() time.Time

	mu     sync.Mutex
	claims map[string]map[string]observedClaim // task -> peer -> claim
	won    map[string]clock.Claim              // tasks this peer holds uncommitted

	unsubscribe func()
}

// NewCoordinator creates a Coordinator for the peer owning clk and starts
// listening on net.
func NewCoordinator(tm *taskmanager.Manager, clk *clock.Clock, net Messenger, opts ...Option) *Coordinator {
	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	c := &Coordinator{
		peerID: clk.PeerID(),
		tm:     tm,
		clk:    clk,
		net:    net,
		logger: logging.OrNop(s.logger).WithPeer(clk.PeerID()),
		cfg:    s,
		now:    time.Now,
		claims: make(map[string]map[string]observedClaim),
		won:    make(map[string]clock.Claim),
	}
	c.unsubscribe = net.OnMessage(c.handle)
	return c
}

// Close stops listening for messages.
func (c *Coordinator) Close() {
	c.unsubscribe()
}

// PeerID returns the local peer id.
func (c *Coordinator) PeerID() string { return c.peerID }

// hold is how long a deferred task stays out of contention.
func (c *Coordinator) hold() time.Duration {
	return c.cfg.claimTTL + c.cfg.expiryGrace
}

// Acquire contests a task the local scheduler handed out. It returns true
// when this peer won and the task is now Claimed locally. On loss the task
// is held back at a lower priority. If ctx ends during the gossip window
// the task is returned to the scheduler.
func (c *Coordinator) Acquire(ctx context.Context, taskID string) (bool, error) {
	inst, err := c.tm.Status(taskID)
	if err != nil {
		return false, err
	}

	state := c.clk.Tick("claim " + taskID)
	own := clock.Claim{PeerID: c.peerID, Entry: state.Peers[c.peerID]}
	c.record(taskID, own)

	entry := own.Entry
	if err := c.send(ctx, mailbox.MessageClaim, taskID, payload{Entry: &entry}); err != nil {
		c.drop(taskID, c.peerID)
		_ = c.tm.Release(taskID)
		return false, err
	}

	timer := time.NewTimer(c.cfg.gossipWindow)
	select {
	case <-ctx.Done():
		timer.Stop()
		c.withdrawDetached(taskID)
		_ = c.tm.Release(taskID)
		return false, ctx.Err()
	case <-timer.C:
	}

	// Another peer may have started or finished the task while we listened.
	if cur, err := c.tm.Status(taskID); err != nil || cur.Status != taskmanager.StatusReady {
		c.withdraw(ctx, taskID)
		return false, nil
	}

	// Deciding and claiming under c.mu means a competing claim handled
	// concurrently either counts toward the decision or sees the win.
	c.mu.Lock()
	winner, contenders := c.winnerLocked(taskID)
	var claimErr error
	if winner == c.peerID {
		if claimErr = c.tm.Claim(taskID, c.peerID); claimErr == nil {
			c.won[taskID] = own
		}
	}
	c.mu.Unlock()

	if winner == c.peerID {
		if claimErr != nil {
			c.withdrawDetached(taskID)
			if errors.Is(claimErr, errors.ErrTaskCancelled) || errors.Is(claimErr, errors.ErrInvalidTransition) {
				return false, nil
			}
			return false, claimErr
		}
		c.logger.Debug("claim won", "task_id", taskID, "counter", own.Entry.Counter, "contenders", contenders)
		return true, nil
	}

	prio := inst.Priority + c.cfg.backoffStep
	if err := c.tm.Hold(taskID, c.hold(), prio); err != nil {
		c.logger.Debug("could not defer task", "task_id", taskID, "error", err)
	}
	c.withdraw(ctx, taskID)
	c.tm.Bus().Publish(event.NewClaimDeferredEvent(taskID, winner, prio))
	c.logger.Debug("claim deferred", "task_id", taskID, "winner", winner, "priority", prio)
	return false, nil
}

// winnerLocked applies clock.Winner to the claims seen for taskID.
func (c *Coordinator) winnerLocked(taskID string) (string, int) {
	claims := make([]clock.Claim, 0, len(c.claims[taskID]))
	for _, oc := range c.claims[taskID] {
		claims = append(claims, oc.claim)
	}
	w, _ := clock.Winner(claims)
	return w, len(claims)
}

// Started announces that this peer is executing taskID. timeout is the
// attempt deadline; peers revert the task if they hear nothing for longer.
func (c *Coordinator) Started(ctx context.Context, taskID string, timeout time.Duration) error {
	lease := max(timeout, c.cfg.claimTTL) + c.cfg.expiryGrace
	return c.send(ctx, mailbox.MessageStarted, taskID, payload{LeaseMs: lease.Milliseconds()})
}

// Completed announces a committed result.
func (c *Coordinator) Completed(ctx context.Context, taskID string, result json.RawMessage) error {
	c.forget(taskID)
	return c.send(ctx, mailbox.MessageCompleted, taskID, payload{Result: result})
}

// Failed announces a terminal failure.
func (c *Coordinator) Failed(ctx context.Context, taskID string, taskErr *errors.TaskError) error {
	c.forget(taskID)
	return c.send(ctx, mailbox.MessageFailed, taskID, payload{Error: taskErr})
}

// Released announces that this peer gave the task up, for example to retry
// it later.
func (c *Coordinator) Released(ctx context.Context, taskID string) error {
	c.mu.Lock()
	delete(c.won, taskID)
	delete(c.claims[taskID], c.peerID)
	c.mu.Unlock()
	return c.send(ctx, mailbox.MessageReleased, taskID, payload{})
}

// withdraw is Released for paths that cannot report the error.
func (c *Coordinator) withdraw(ctx context.Context, taskID string) {
	if err := c.Released(ctx, taskID); err != nil {
		c.logger.Warn("failed to announce release", "task_id", taskID, "error", err)
	}
}

// withdrawDetached withdraws even though the caller's context ended.
func (c *Coordinator) withdrawDetached(taskID string) {
	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	c.withdraw(ctx, taskID)
}

// send ticks the clock for the transition and broadcasts it.
func (c *Coordinator) send(ctx context.Context, typ mailbox.MessageType, taskID string, p payload) error {
	if typ == mailbox.MessageClaim {
		p.Clock = c.clk.State()
	} else {
		p.Clock = c.clk.Tick(string(typ) + " " + taskID)
	}
	data, err := json.Marshal(p)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", typ, err)
	}
	peers, err := c.net.Broadcast(ctx, mailbox.Message{Type: typ, TaskID: taskID, Payload: data})
	if err != nil {
		return fmt.Errorf("broadcast %s for %s: %w", typ, taskID, err)
	}
	c.logger.Debug("gossip sent", "type", string(typ), "task_id", taskID, "peers", peers)
	return nil
}

func (c *Coordinator) record(taskID string, claim clock.Claim) {
	c.mu.Lock()
	defer c.mu.Unlock()
	byPeer, ok := c.claims[taskID]
	if !ok {
		byPeer = make(map[string]observedClaim)
		c.claims[taskID] = byPeer
	}
	byPeer[claim.PeerID] = observedClaim{claim: claim, at: c.now()}
}

func (c *Coordinator) drop(taskID, peerID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims[taskID], peerID)
	if len(c.claims[taskID]) == 0 {
		delete(c.claims, taskID)
	}
}

func (c *Coordinator) forget(taskID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.claims, taskID)
	delete(c.won, taskID)
}

// Sweep drops remote claims older than the claim TTL plus grace and returns
// how many were dropped.
func (c *Coordinator) Sweep() int {
	cutoff := c.now().Add(-c.hold())
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for taskID, byPeer := range c.claims {
		for peer, oc := range byPeer {
			if peer != c.peerID && oc.at.Before(cutoff) {
				delete(byPeer, peer)
				n++
			}
		}
		if len(byPeer) == 0 {
			delete(c.claims, taskID)
		}
	}
	return n
}

// handle applies a message from another peer.
func (c *Coordinator) handle(msg mailbox.Message) {
	var p payload
	if len(msg.Payload) > 0 {
		if err := json.Unmarshal(msg.Payload, &p); err != nil {
			c.logger.Debug("dropping malformed gossip", "from", msg.From, "error", err)
			return
		}
	}
	if p.Clock.Peers != nil {
		c.clk.Merge(p.Clock)
	}

	var err error
	switch msg.Type {
	case mailbox.MessageClaim:
		if p.Entry == nil {
			return
		}
		remote := clock.Claim{PeerID: msg.From, Entry: *p.Entry}
		c.record(msg.TaskID, remote)
		c.yieldIfBeaten(msg.TaskID, remote)
	case mailbox.MessageStarted:
		lease := time.Duration(p.LeaseMs) * time.Millisecond
		err = c.tm.AdoptStarted(msg.TaskID, msg.From, lease)
		if errors.Is(err, errors.ErrClaimMismatch) {
			if remote, ok := c.claimOf(msg.TaskID, msg.From); ok && c.yieldIfBeaten(msg.TaskID, remote) {
				err = c.tm.AdoptStarted(msg.TaskID, msg.From, lease)
			} else {
				err = nil
			}
		}
	case mailbox.MessageCompleted:
		c.forget(msg.TaskID)
		_, err = c.tm.AdoptCompleted(msg.TaskID, msg.From, p.Result)
	case mailbox.MessageFailed:
		c.forget(msg.TaskID)
		err = c.tm.AdoptFailed(msg.TaskID, msg.From, p.Error)
	case mailbox.MessageReleased:
		c.drop(msg.TaskID, msg.From)
		err = c.tm.AdoptReleased(msg.TaskID, msg.From)
	}

	switch {
	case err == nil:
	case errors.Is(err, errors.ErrTaskNotFound):
		c.logger.Debug("gossip for unknown task", "type", string(msg.Type), "task_id", msg.TaskID, "from", msg.From)
	default:
		c.logger.Warn("failed to apply gossip", "type", string(msg.Type), "task_id", msg.TaskID, "from", msg.From, "error", err)
	}
}

func (c *Coordinator) claimOf(taskID, peerID string) (clock.Claim, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	oc, ok := c.claims[taskID][peerID]
	return oc.claim, ok
}

// yieldIfBeaten gives up a local, uncommitted hold on taskID when remote
// outranks the local claim. It reports whether it yielded.
func (c *Coordinator) yieldIfBeaten(taskID string, remote clock.Claim) bool {
	c.mu.Lock()
	own, ok := c.won[taskID]
	if !ok || !clock.Beats(remote, own) {
		c.mu.Unlock()
		return false
	}
	delete(c.won, taskID)
	delete(c.claims[taskID], c.peerID)
	c.mu.Unlock()

	if err := c.tm.Yield(taskID, remote.PeerID, c.hold()); err != nil {
		c.logger.Debug("yield skipped", "task_id", taskID, "winner", remote.PeerID, "error", err)
		return false
	}
	c.logger.Info("yielded to higher claim", "task_id", taskID, "winner", remote.PeerID,
		"local_counter", own.Entry.Counter, "remote_counter", remote.Entry.Counter)

	ctx, cancel := context.WithTimeout(context.Background(), sendTimeout)
	defer cancel()
	if err := c.send(ctx, mailbox.MessageReleased, taskID, payload{}); err != nil {
		c.logger.Warn("failed to announce release", "task_id", taskID, "error", err)
	}
	return true
}
