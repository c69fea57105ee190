package coordination

import (
	"context"
	"errors"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/Iron-Ham/gotmesh/internal/clock"
	"github.com/Iron-Ham/gotmesh/internal/event"
	"github.com/Iron-Ham/gotmesh/internal/logging"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
	"github.com/Iron-Ham/gotmesh/internal/worker"
)

// Config holds required dependencies for creating a Hub.
type Config struct {
	Manager   *taskmanager.Manager
	Clock     *clock.Clock
	Messenger Messenger
}

// Hub wires one peer together: the coordinator arbitrating claims, the
// worker pool executing won tasks, the messenger delivery loop and the
// stale-claim sweeper.
type Hub struct {
	mu      sync.RWMutex
	started bool
	cancel  context.CancelFunc
	done    chan struct{}
	runErr  error

	tm     *taskmanager.Manager
	net    Messenger
	coord  *Coordinator
	pool   *worker.Pool
	cfg    settings
	logger *logging.Logger
}

// NewHub creates a Hub.
func NewHub(cfg Config, opts ...Option) (*Hub, error) {
	if cfg.Manager == nil {
		return nil, errors.New("coordination: Manager is required")
	}
	if cfg.Clock == nil {
		return nil, errors.New("coordination: Clock is required")
	}
	if cfg.Messenger == nil {
		return nil, errors.New("coordination: Messenger is required")
	}

	s := defaultSettings()
	for _, opt := range opts {
		opt(&s)
	}
	logger := logging.OrNop(s.logger)

	coord := NewCoordinator(cfg.Manager, cfg.Clock, cfg.Messenger, opts...)
	pool := worker.NewPool(cfg.Manager, cfg.Clock.PeerID(), coord,
		worker.WithWorkers(s.workers),
		worker.WithIdlePoll(s.idlePoll),
		worker.WithLogger(logger),
	)

	return &Hub{
		tm:     cfg.Manager,
		net:    cfg.Messenger,
		coord:  coord,
		pool:   pool,
		cfg:    s,
		logger: logger.WithPeer(cfg.Clock.PeerID()),
	}, nil
}

// Coordinator returns the claim coordinator.
func (h *Hub) Coordinator() *Coordinator { return h.coord }

// Pool returns the worker pool.
func (h *Hub) Pool() *worker.Pool { return h.pool }

// Manager returns the task manager.
func (h *Hub) Manager() *taskmanager.Manager { return h.tm }

// Run drives the peer until ctx is done, a component fails or, with
// WithStopWhenDone, every task is terminal.
func (h *Hub) Run(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return h.pool.Run(gctx) })
	if r, ok := h.net.(Runner); ok {
		g.Go(func() error { return r.Run(gctx) })
	}
	g.Go(func() error {
		h.sweep(gctx)
		return nil
	})
	if h.cfg.stopWhenDone {
		g.Go(func() error {
			h.waitDone(gctx)
			cancel()
			return nil
		})
	}

	h.logger.Info("peer running", "workers", h.cfg.workers)
	err := g.Wait()
	h.logger.Info("peer stopped", "counts", h.tm.Counts())
	return err
}

func (h *Hub) sweep(ctx context.Context) {
	ticker := time.NewTicker(h.cfg.sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := h.coord.Sweep(); n > 0 {
				h.logger.Debug("dropped stale claims", "count", n)
			}
		}
	}
}

// waitDone returns once every task is terminal or ctx is done.
func (h *Hub) waitDone(ctx context.Context) {
	changed := make(chan struct{}, 1)
	sub := h.tm.Bus().Subscribe(event.TypeQueueDepthChanged, func(event.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer h.tm.Bus().Unsubscribe(sub)

	ticker := time.NewTicker(h.cfg.idlePoll)
	defer ticker.Stop()
	for !h.tm.AllTerminal() {
		select {
		case <-ctx.Done():
			return
		case <-changed:
		case <-ticker.C:
		}
	}
}

// Start runs the hub in the background.
// Returns an error if the hub is already started.
func (h *Hub) Start(ctx context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.started {
		return errors.New("coordination: hub already started")
	}

	ctx, cancel := context.WithCancel(ctx)
	h.cancel = cancel
	h.started = true
	h.done = make(chan struct{})
	h.runErr = nil

	go func() {
		defer close(h.done)
		err := h.Run(ctx)
		h.mu.Lock()
		h.runErr = err
		h.mu.Unlock()
	}()
	return nil
}

// Done returns a channel closed when a started hub stops running.
func (h *Hub) Done() <-chan struct{} {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.done
}

// Stop stops a started hub and waits for it. It is idempotent.
func (h *Hub) Stop() error {
	h.mu.Lock()
	if !h.started {
		h.mu.Unlock()
		return nil
	}
	h.cancel()
	done := h.done
	h.mu.Unlock()

	<-done

	h.mu.Lock()
	defer h.mu.Unlock()
	h.started = false
	return h.runErr
}

// Running returns whether the hub is currently started.
func (h *Hub) Running() bool {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.started
}

// Close stops the hub and detaches the coordinator from the messenger.
func (h *Hub) Close() error {
	err := h.Stop()
	h.coord.Close()
	return err
}
