// Package duplicate looks up existing leads for a phone number as it is typed.
package duplicate

import (
	"context"
	"sync"
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
)

// DefaultQuietPeriod is how long the phone must stay unchanged before a lookup.
const DefaultQuietPeriod = 400 * time.Millisecond

// Lookup returns the newest non-spam lead for phone, or nil.
type Lookup func(ctx context.Context, phone string) (record.Record, error)

// Candidate is a possible duplicate for a phone number.
type Candidate struct {
	Phone string
	Lead  record.Record
}

// Detector debounces phone edits into lookups. Only the result for the most
// recent edit is kept; results of superseded lookups are dropped.
type Detector struct {
	lookup  Lookup
	quiet   time.Duration
	logger  *logging.Logger
	metrics *metrics.Metrics

	ctx    context.Context
	cancel context.CancelFunc

	// serializes lookups
	inflight sync.Mutex

	mu        sync.Mutex
	gen       uint64
	timer     *time.Timer
	stopLook  context.CancelFunc
	candidate *Candidate
	nextSub   int
	subs      map[int]func(*Candidate)
	closed    bool
}

// Option configures a Detector.
type Option func(*Detector)

// WithQuietPeriod overrides DefaultQuietPeriod.
func WithQuietPeriod(d time.Duration) Option {
	return func(det *Detector) {
		if d > 0 {
			det.quiet = d
		}
	}
}

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(det *Detector) { det.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(det *Detector) { det.metrics = m }
}

// NewDetector creates a detector backed by lookup.
func NewDetector(lookup Lookup, opts ...Option) *Detector {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Detector{
		lookup: lookup,
		quiet:  DefaultQuietPeriod,
		logger: logging.Nop(),
		ctx:    ctx,
		cancel: cancel,
		subs:   make(map[int]func(*Candidate)),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// CheckPhone records an edit of the phone field. A complete number schedules
// a lookup after the quiet period and drops a candidate held for a different
// number; anything else cancels pending work and clears the candidate.
func (d *Detector) CheckPhone(input string) {
	phone := record.Digits(input)

	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return
	}
	d.gen++
	d.stopLocked()

	if !record.IsCompletePhone(phone) {
		changed := d.setLocked(nil)
		d.mu.Unlock()
		if changed {
			d.notify(nil)
		}
		return
	}

	var changed bool
	if d.candidate != nil && d.candidate.Phone != phone {
		changed = d.setLocked(nil)
	}
	gen := d.gen
	d.timer = time.AfterFunc(d.quiet, func() { d.run(gen, phone) })
	d.mu.Unlock()
	if changed {
		d.notify(nil)
	}
}

// Clear drops any pending lookup and the current candidate.
func (d *Detector) Clear() {
	d.CheckPhone("")
}

// Candidate returns the current duplicate candidate, or nil.
func (d *Detector) Candidate() *Candidate {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.candidate == nil {
		return nil
	}
	c := *d.candidate
	c.Lead = c.Lead.Clone()
	return &c
}

// OnChange registers fn to be called whenever the candidate changes. The
// returned func unregisters it.
func (d *Detector) OnChange(fn func(*Candidate)) func() {
	d.mu.Lock()
	defer d.mu.Unlock()
	id := d.nextSub
	d.nextSub++
	d.subs[id] = fn
	return func() {
		d.mu.Lock()
		defer d.mu.Unlock()
		delete(d.subs, id)
	}
}

// Close stops timers and cancels any running lookup.
func (d *Detector) Close() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return
	}
	d.closed = true
	d.gen++
	d.stopLocked()
	d.cancel()
}

func (d *Detector) run(gen uint64, phone string) {
	d.inflight.Lock()
	defer d.inflight.Unlock()

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		d.metrics.DuplicateLookup("stale")
		return
	}
	ctx, cancel := context.WithCancel(d.ctx)
	d.stopLook = cancel
	d.mu.Unlock()
	defer cancel()

	lead, err := d.lookup(ctx, phone)

	d.mu.Lock()
	if d.gen != gen {
		d.mu.Unlock()
		d.metrics.DuplicateLookup("stale")
		return
	}
	d.stopLook = nil

	var next *Candidate
	switch {
	case err != nil:
		d.logger.WarnContext(ctx, "duplicate lookup failed", "phone", phone, "error", err.Error())
		d.metrics.DuplicateLookup("error")
	case lead == nil:
		d.metrics.DuplicateLookup("none")
	default:
		d.metrics.DuplicateLookup("found")
		next = &Candidate{Phone: phone, Lead: lead.Clone()}
	}
	changed := d.setLocked(next)
	d.mu.Unlock()

	if changed {
		d.notify(next)
	}
}

func (d *Detector) stopLocked() {
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	if d.stopLook != nil {
		d.stopLook()
		d.stopLook = nil
	}
}

func (d *Detector) setLocked(c *Candidate) bool {
	if d.candidate == nil && c == nil {
		return false
	}
	d.candidate = c
	return true
}

func (d *Detector) notify(c *Candidate) {
	d.mu.Lock()
	fns := make([]func(*Candidate), 0, len(d.subs))
	for _, fn := range d.subs {
		fns = append(fns, fn)
	}
	d.mu.Unlock()
	for _, fn := range fns {
		fn(c)
	}
}
