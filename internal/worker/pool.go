package worker

import (
	"context"
	"fmt"
	"time"

	"github.com/sourcegraph/conc/pool"

	"github.com/Iron-Ham/gotmesh/internal/errors"
	"github.com/Iron-Ham/gotmesh/internal/logging"
	"github.com/Iron-Ham/gotmesh/internal/taskmanager"
)

const (
	defaultWorkers  = 4
	defaultIdlePoll = 250 * time.Millisecond
	announceTimeout = 5 * time.Second
)

// Pool executes Ready tasks with a bounded number of goroutines.
type Pool struct {
	tm       *taskmanager.Manager
	arb      Arbiter
	peerID   string
	workers  int
	idlePoll time.Duration
	logger   *logging.Logger
}

// Option configures a Pool.
type Option func(*Pool)

// WithWorkers sets the number of concurrent executions.
func WithWorkers(n int) Option {
	return func(p *Pool) {
		if n > 0 {
			p.workers = n
		}
	}
}

// WithIdlePoll sets how often an idle slot rechecks the scheduler when no
// wake-up arrives.
func WithIdlePoll(d time.Duration) Option {
	return func(p *Pool) {
		if d > 0 {
			p.idlePoll = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(p *Pool) { p.logger = l }
}

// NewPool creates a Pool for peerID. A nil arb runs as a single peer.
func NewPool(tm *taskmanager.Manager, peerID string, arb Arbiter, opts ...Option) *Pool {
	p := &Pool{
		tm:       tm,
		arb:      arb,
		peerID:   peerID,
		workers:  defaultWorkers,
		idlePoll: defaultIdlePoll,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.arb == nil {
		p.arb = NewLocal(tm, peerID)
	}
	p.logger = logging.OrNop(p.logger).WithPeer(peerID)
	return p
}

// Run keeps every slot busy until ctx is done. Attempts still running at
// that point are handed back to the scheduler.
func (p *Pool) Run(ctx context.Context) error {
	cp := pool.New().WithMaxGoroutines(p.workers).WithContext(ctx)
	for i := range p.workers {
		workerID := fmt.Sprintf("%s/w%d", p.peerID, i)
		cp.Go(func(ctx context.Context) error {
			p.loop(ctx, workerID)
			return nil
		})
	}
	return cp.Wait()
}

func (p *Pool) loop(ctx context.Context, workerID string) {
	ticker := time.NewTicker(p.idlePoll)
	defer ticker.Stop()

	for ctx.Err() == nil {
		inst, ok := p.tm.Next()
		if !ok {
			select {
			case <-ctx.Done():
				return
			case <-p.tm.Wake():
			case <-ticker.C:
			}
			continue
		}
		p.runTask(ctx, workerID, inst.ID)
	}
}

// runTask contests, starts and executes one task.
func (p *Pool) runTask(ctx context.Context, workerID, taskID string) {
	logger := p.logger.WithWorker(workerID).WithTask(taskID)

	won, err := p.arb.Acquire(ctx, taskID)
	if err != nil {
		if ctx.Err() == nil {
			logger.Warn("claim failed", "error", err)
			_ = p.tm.Release(taskID)
		}
		return
	}
	if !won {
		return
	}

	execCtx, inst, err := p.tm.Start(ctx, taskID, workerID)
	if err != nil {
		logger.Debug("start aborted", "error", err)
		p.announce(func(ctx context.Context) error { return p.arb.Released(ctx, taskID) })
		return
	}
	p.announce(func(ctx context.Context) error { return p.arb.Started(ctx, taskID, inst.Timeout) })

	attemptCtx := execCtx
	if inst.Timeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(execCtx, inst.Timeout)
		defer cancel()
	}

	start := time.Now()
	result, execErr := p.tm.Registry().Execute(attemptCtx, inst.TaskDefID, inst.Params)
	elapsed := time.Since(start)

	switch {
	case context.Cause(execCtx) != nil && ctx.Err() == nil:
		// Cancelled, yielded or finished by another peer; the manager
		// already moved the task on.
		logger.Info("attempt abandoned", "cause", context.Cause(execCtx).Error(), "elapsed", elapsed.String())

	case ctx.Err() != nil:
		// Shutting down: give the task back rather than failing it.
		if err := p.tm.Yield(taskID, p.peerID, 0); err != nil {
			logger.Debug("could not hand back task", "error", err)
		}
		p.announce(func(ctx context.Context) error { return p.arb.Released(ctx, taskID) })

	case execErr == nil:
		if _, err := p.tm.Complete(taskID, result); err != nil {
			logger.Warn("result discarded", "error", err)
			return
		}
		logger.Debug("attempt succeeded", "elapsed", elapsed.String())
		p.announce(func(ctx context.Context) error { return p.arb.Completed(ctx, taskID, result) })

	case errors.Is(attemptCtx.Err(), context.DeadlineExceeded):
		logger.Warn("attempt timed out", "timeout", inst.Timeout.String())
		if err := p.tm.Timeout(taskID); err != nil {
			logger.Warn("could not record timeout", "error", err)
			return
		}
		p.announceOutcome(taskID)

	default:
		cause := errors.NewExecutionError(taskID, inst.TaskDefID, execErr).WithAttempt(inst.Attempts)
		if errors.Is(execErr, errors.ErrInvalidInput) || errors.Is(execErr, errors.ErrUnknownTaskDef) {
			cause = cause.WithRetryable(false)
		}
		logger.Warn("attempt failed", "attempt", inst.Attempts, "error", execErr.Error())
		if err := p.tm.Fail(taskID, cause); err != nil {
			logger.Warn("could not record failure", "error", err)
			return
		}
		p.announceOutcome(taskID)
	}
}

// announceOutcome tells peers whether a failed attempt ended the task or
// put it back up for grabs.
func (p *Pool) announceOutcome(taskID string) {
	inst, err := p.tm.Status(taskID)
	if err != nil {
		return
	}
	if inst.Status.IsTerminal() {
		p.announce(func(ctx context.Context) error { return p.arb.Failed(ctx, taskID, inst.Error) })
		return
	}
	p.announce(func(ctx context.Context) error { return p.arb.Released(ctx, taskID) })
}

// announce runs fn with its own deadline so that outcomes still reach peers
// while the pool shuts down.
func (p *Pool) announce(fn func(context.Context) error) {
	ctx, cancel := context.WithTimeout(context.Background(), announceTimeout)
	defer cancel()
	if err := fn(ctx); err != nil {
		p.logger.Warn("failed to notify peers", "error", err)
	}
}
