// Package syncer replays queued mutations against the remote store.
//
// A drain walks the pending queue in enqueue order. Each action that the
// remote accepts is removed; each that fails stays queued with its failure
// recorded and the drain moves on. Drains are triggered at startup, on every
// offline-to-online transition and on a fixed interval. At most one drain
// runs at a time; a trigger that arrives while one is running is dropped.
package syncer

import (
	"context"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/jbctechsolutions/leadline/internal/application/ports"
	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/pending"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/connectivity"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/tracing"
)

// DefaultInterval is the periodic drain interval.
const DefaultInterval = 30 * time.Second

// Drain triggers.
const (
	TriggerStartup = "startup"
	TriggerOnline  = "online"
	TriggerTimer   = "timer"
	TriggerManual  = "manual"
)

// Connectivity is the subset of the connectivity monitor the coordinator needs.
type Connectivity interface {
	IsOnline() bool
	Subscribe() (<-chan connectivity.Transition, func())
}

// DrainResult summarizes one drain.
type DrainResult struct {
	Trigger   string
	Attempted int
	Synced    int
	Failed    int
	// Deferred counts actions held back because an earlier action for the
	// same record failed in this drain.
	Deferred  int
	Remaining int
	// Skipped is set when the drain did not run, either because another
	// drain held the guard or because the remote was offline.
	Skipped bool
}

// Coordinator owns the drain loop.
type Coordinator struct {
	queue    ports.PendingQueue
	remote   ports.RemoteStore
	online   Connectivity
	interval time.Duration
	logger   *logging.Logger
	tracer   *tracing.Tracer
	metrics  *metrics.Metrics
	onDrain  func(DrainResult)

	guard *semaphore.Weighted

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures a Coordinator.
type Option func(*Coordinator)

// WithInterval overrides DefaultInterval.
func WithInterval(d time.Duration) Option {
	return func(c *Coordinator) {
		if d > 0 {
			c.interval = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(c *Coordinator) { c.logger = l }
}

// WithTracer sets the tracer.
func WithTracer(t *tracing.Tracer) Option {
	return func(c *Coordinator) { c.tracer = t }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Coordinator) { c.metrics = m }
}

// OnDrain registers fn to receive the result of every drain that synced at
// least one action.
func OnDrain(fn func(DrainResult)) Option {
	return func(c *Coordinator) { c.onDrain = fn }
}

// NewCoordinator creates a stopped coordinator.
func NewCoordinator(queue ports.PendingQueue, remote ports.RemoteStore, online Connectivity, opts ...Option) *Coordinator {
	c := &Coordinator{
		queue:    queue,
		remote:   remote,
		online:   online,
		interval: DefaultInterval,
		logger:   logging.Nop(),
		tracer:   tracing.Noop(),
		guard:    semaphore.NewWeighted(1),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Start drains once and then keeps draining on reconnects and on the
// interval until ctx is cancelled or Stop is called. Calling Start on a
// running coordinator is a no-op.
func (c *Coordinator) Start(ctx context.Context) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cancel != nil {
		return
	}

	ctx, cancel := context.WithCancel(ctx)
	c.cancel = cancel
	c.done = make(chan struct{})

	transitions, unsubscribe := c.online.Subscribe()
	go func() {
		defer close(c.done)
		defer unsubscribe()
		c.loop(ctx, transitions)
	}()
}

func (c *Coordinator) loop(ctx context.Context, transitions <-chan connectivity.Transition) {
	c.run(ctx, TriggerStartup)

	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-transitions:
			if !ok {
				transitions = nil
				continue
			}
			if t.Online {
				c.run(ctx, TriggerOnline)
			}
		case <-ticker.C:
			c.run(ctx, TriggerTimer)
		}
	}
}

func (c *Coordinator) run(ctx context.Context, trigger string) {
	res, err := c.Drain(ctx, trigger)
	if err != nil && ctx.Err() == nil {
		c.logger.ErrorContext(ctx, "drain failed", "trigger", trigger, "error", err.Error())
	}
	if c.onDrain != nil && res.Synced > 0 {
		c.onDrain(res)
	}
}

// Stop cancels the loop and waits for an in-flight drain to finish.
func (c *Coordinator) Stop() {
	c.mu.Lock()
	cancel, done := c.cancel, c.done
	c.cancel, c.done = nil, nil
	c.mu.Unlock()

	if cancel == nil {
		return
	}
	cancel()
	<-done
}

// PendingCount returns the queue length, zero on storage errors.
func (c *Coordinator) PendingCount(ctx context.Context) int {
	n, err := c.queue.Count(ctx)
	if err != nil {
		return 0
	}
	return n
}

// Drain replays every queued action once. The returned error is non-nil only
// when the queue itself could not be read; per-action failures are counted
// in the result and recorded on the action.
func (c *Coordinator) Drain(ctx context.Context, trigger string) (DrainResult, error) {
	res := DrainResult{Trigger: trigger}

	if !c.guard.TryAcquire(1) {
		c.metrics.DrainSkipped()
		res.Skipped = true
		res.Remaining = c.PendingCount(ctx)
		return res, nil
	}
	defer c.guard.Release(1)

	if !c.online.IsOnline() {
		res.Skipped = true
		res.Remaining = c.PendingCount(ctx)
		return res, nil
	}

	start := time.Now()
	ctx = logging.WithCorrelationID(ctx, "drain-"+trigger+"-"+start.UTC().Format("150405.000"))
	ctx, span := c.tracer.StartDrainSpan(ctx, trigger)

	actions, err := c.queue.List(ctx)
	if err != nil {
		span.EndWithError(err)
		return res, err
	}

	blocked := make(map[string]bool)
	for _, a := range actions {
		if ctx.Err() != nil {
			break
		}
		key := a.Table + "/" + a.TargetID()
		if blocked[key] {
			res.Deferred++
			continue
		}
		res.Attempted++
		actx := logging.WithCollection(logging.WithActionID(ctx, a.ID), a.Table)

		if err := c.apply(actx, a); err != nil {
			blocked[key] = true
			res.Failed++
			c.metrics.ActionResult(string(a.Operation), false)
			if rerr := c.queue.RecordFailure(actx, a.ID, err); rerr != nil {
				c.logger.WarnContext(actx, "could not record action failure", "error", rerr.Error())
			}
			logging.LogActionFailed(actx, c.logger, a.ID, a.Table, string(a.Operation), a.Attempts+1, err)
			continue
		}

		// A failed removal leaves the action queued; the next drain replays
		// it and the remote upsert absorbs the repeat.
		if err := c.queue.Remove(actx, a.ID); err != nil {
			c.logger.WarnContext(actx, "could not remove synced action", "error", err.Error())
		}
		res.Synced++
		c.metrics.ActionResult(string(a.Operation), true)
	}

	res.Remaining = c.PendingCount(ctx)
	c.metrics.SetPending(res.Remaining)
	c.metrics.ObserveDrain(trigger, time.Since(start).Seconds())

	span.SetResult(res.Attempted, res.Synced, res.Failed)
	span.End()
	logging.LogDrainComplete(ctx, c.logger, trigger, res.Synced, res.Failed, res.Remaining, time.Since(start))
	return res, nil
}

func (c *Coordinator) apply(ctx context.Context, a *pending.Action) error {
	switch a.Operation {
	case pending.OpInsert:
		_, err := c.remote.Insert(ctx, a.Table, a.Payload)
		return err
	case pending.OpUpdate:
		_, err := c.remote.Update(ctx, a.Table, a.TargetID(), a.UpdateFields())
		return err
	case pending.OpDelete:
		err := c.remote.Delete(ctx, a.Table, a.TargetID())
		if domainerrors.Is(err, domainerrors.ErrRecordNotFound) {
			return nil
		}
		return err
	default:
		return domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeValidation, "replay action", domainerrors.ErrUnknownOperation),
			"operation", string(a.Operation))
	}
}
