// Package data routes record reads and writes between the remote store, the
// local cache and the pending action queue depending on connectivity.
package data

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/jbctechsolutions/leadline/internal/application/ports"
	"github.com/jbctechsolutions/leadline/internal/domain/pending"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
)

// Connectivity reports whether the remote store should be tried.
type Connectivity interface {
	IsOnline() bool
}

// Service is the only writer of the local cache and the only producer of
// pending actions.
type Service struct {
	remote  ports.RemoteStore
	cache   ports.CacheStore
	queue   ports.PendingQueue
	online  Connectivity
	logger  *logging.Logger
	metrics *metrics.Metrics
	now     func() time.Time
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger.
func WithLogger(l *logging.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithMetrics sets the metrics sink.
func WithMetrics(m *metrics.Metrics) Option {
	return func(s *Service) { s.metrics = m }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// NewService wires the data-access layer.
func NewService(remote ports.RemoteStore, cache ports.CacheStore, queue ports.PendingQueue, online Connectivity, opts ...Option) *Service {
	s := &Service{
		remote: remote,
		cache:  cache,
		queue:  queue,
		online: online,
		logger: logging.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateOrQueue inserts r remotely when online, otherwise queues the insert.
// The record is stamped with a client id and created_at first so a replayed
// insert is an upsert of the same row. The returned record is what the
// caller should display: the stored row when online, the optimistic copy
// when queued.
func (s *Service) CreateOrQueue(ctx context.Context, table string, r record.Record) (record.Record, error) {
	ctx = logging.WithCollection(ctx, table)

	r = r.Clone()
	if r.ID() == "" {
		r[record.FieldID] = uuid.NewString()
	}
	now := record.Timestamp(s.now())
	if _, ok := r[record.FieldCreatedAt]; !ok {
		r[record.FieldCreatedAt] = now
	}
	if _, ok := r[record.FieldUpdatedAt]; !ok {
		r[record.FieldUpdatedAt] = now
	}

	if s.canWriteDirect(ctx, table, r.ID()) {
		stored, err := s.remote.Insert(ctx, table, r)
		if err == nil {
			s.cachePut(ctx, table, stored)
			return stored, nil
		}
		s.logger.WarnContext(ctx, "remote insert failed, queueing", "id", r.ID(), "error", err.Error())
		return r, s.enqueue(ctx, table, pending.OpInsert, r, err, func() { s.cachePut(ctx, table, r) })
	}

	return r, s.enqueue(ctx, table, pending.OpInsert, r, nil, func() { s.cachePut(ctx, table, r) })
}

// UpdateOrQueue applies a partial update remotely when online, otherwise
// queues it and merges it into the cached copy.
func (s *Service) UpdateOrQueue(ctx context.Context, table, id string, partial record.Record) (record.Record, error) {
	ctx = logging.WithCollection(ctx, table)

	fields := partial.Without(record.FieldID)
	if _, ok := fields[record.FieldUpdatedAt]; !ok {
		fields[record.FieldUpdatedAt] = record.Timestamp(s.now())
	}

	optimistic := func() record.Record {
		cur := s.cacheGet(ctx, table, id)
		if cur == nil {
			cur = record.Record{}
		}
		next := cur.Merge(fields)
		next[record.FieldID] = id
		return next
	}

	if s.canWriteDirect(ctx, table, id) {
		stored, err := s.remote.Update(ctx, table, id, fields)
		if err == nil {
			s.cachePut(ctx, table, stored)
			return stored, nil
		}
		s.logger.WarnContext(ctx, "remote update failed, queueing", "id", id, "error", err.Error())
		next := optimistic()
		return next, s.enqueue(ctx, table, pending.OpUpdate, fields.Merge(record.Record{record.FieldID: id}), err,
			func() { s.cachePut(ctx, table, next) })
	}

	next := optimistic()
	return next, s.enqueue(ctx, table, pending.OpUpdate, fields.Merge(record.Record{record.FieldID: id}), nil,
		func() { s.cachePut(ctx, table, next) })
}

// DeleteOrQueue removes a record remotely when online, otherwise queues the delete.
// The cached copy is removed either way.
func (s *Service) DeleteOrQueue(ctx context.Context, table, id string) error {
	ctx = logging.WithCollection(ctx, table)
	evict := func() { s.cacheRemove(ctx, table, id) }

	if s.canWriteDirect(ctx, table, id) {
		err := s.remote.Delete(ctx, table, id)
		if err == nil {
			evict()
			return nil
		}
		s.logger.WarnContext(ctx, "remote delete failed, queueing", "id", id, "error", err.Error())
		return s.enqueue(ctx, table, pending.OpDelete, record.Record{record.FieldID: id}, err, evict)
	}
	return s.enqueue(ctx, table, pending.OpDelete, record.Record{record.FieldID: id}, nil, evict)
}

// GetCachedOrLive queries the remote store when online and writes the result
// through to the cache. When offline or when the remote query fails it
// answers from the cache; cache failures yield an empty result.
// fromCache reports which path served the read.
func (s *Service) GetCachedOrLive(ctx context.Context, table string, filter record.Filter) (records []record.Record, fromCache bool) {
	ctx = logging.WithCollection(ctx, table)

	var cause error
	if s.online.IsOnline() {
		rows, err := s.remote.Query(ctx, table, filter)
		if err == nil {
			s.cachePut(ctx, table, rows...)
			if len(filter) == 0 {
				if err := s.cache.SetLastSync(ctx, table, s.now()); err != nil {
					s.logger.DebugContext(ctx, "cache sync marker failed", "error", err.Error())
				}
			}
			return rows, false
		}
		cause = err
	}

	all, err := s.cache.GetAll(ctx, table)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed", "error", err.Error())
		return nil, true
	}
	rows := filter.Apply(all)
	record.SortNewestFirst(rows)
	logging.LogCacheFallback(ctx, s.logger, table, len(rows), cause)
	return rows, true
}

// GetByID returns a single record, live when possible.
func (s *Service) GetByID(ctx context.Context, table, id string) record.Record {
	rows, fromCache := s.GetCachedOrLive(ctx, table, record.Filter{record.FieldID: id})
	if len(rows) > 0 {
		return rows[0]
	}
	if fromCache {
		return nil
	}
	return s.cacheGet(ctx, table, id)
}

// SearchByPhone returns the newest non-spam lead with exactly phone, or nil.
func (s *Service) SearchByPhone(ctx context.Context, phone string) (record.Record, error) {
	rows, _ := s.GetCachedOrLive(ctx, record.Leads, record.Filter{record.FieldPhone: phone})
	for _, r := range rows {
		if !r.Bool(record.FieldIsSpam) {
			return r, nil
		}
	}
	return nil, nil
}

// PendingSyncCount returns the number of queued mutations. Storage errors count as zero.
func (s *Service) PendingSyncCount(ctx context.Context) int {
	n, err := s.queue.Count(ctx)
	if err != nil {
		s.logger.WarnContext(ctx, "pending count failed", "error", err.Error())
		return 0
	}
	return n
}

// Refresh loads each collection from the remote into the cache. Offline it is a no-op.
func (s *Service) Refresh(ctx context.Context, tables ...string) int {
	if !s.online.IsOnline() {
		return 0
	}
	total := 0
	for _, t := range tables {
		rows, fromCache := s.GetCachedOrLive(ctx, t, nil)
		if !fromCache {
			total += len(rows)
		}
	}
	return total
}

// ApplyChange mirrors a remote change notification into the cache.
func (s *Service) ApplyChange(ctx context.Context, ch ports.Change) {
	ctx = logging.WithCollection(ctx, ch.Table)
	switch ch.Kind {
	case ports.ChangeInsert, ports.ChangeUpdate:
		s.cachePut(ctx, ch.Table, ch.Record)
	case ports.ChangeDelete:
		s.cacheRemove(ctx, ch.Table, ch.Record.ID())
	}
}

// ClearCache drops every cached record.
func (s *Service) ClearCache(ctx context.Context) error {
	return s.cache.ClearAll(ctx)
}

// LastSync reports when table was last fully refreshed.
func (s *Service) LastSync(ctx context.Context, table string) (time.Time, bool) {
	at, ok, err := s.cache.LastSync(ctx, table)
	if err != nil {
		return time.Time{}, false
	}
	return at, ok
}

// canWriteDirect reports whether a mutation of (table, id) may go straight to
// the remote. Offline, or with earlier actions for the same record still
// queued, the mutation must queue behind them.
func (s *Service) canWriteDirect(ctx context.Context, table, id string) bool {
	if !s.online.IsOnline() {
		return false
	}
	actions, err := s.queue.List(ctx)
	if err != nil {
		return false
	}
	for _, a := range actions {
		if a.Table == table && a.TargetID() == id {
			return false
		}
	}
	return true
}

func (s *Service) enqueue(ctx context.Context, table string, op pending.Operation, payload record.Record, cause error, onQueued func()) error {
	a, err := pending.New(table, op, payload)
	if err != nil {
		return err
	}
	if err := s.queue.Enqueue(ctx, a); err != nil {
		return err
	}
	onQueued()

	s.metrics.WriteQueued(table)
	if n, err := s.queue.Count(ctx); err == nil {
		s.metrics.SetPending(n)
	}
	logging.LogQueued(logging.WithActionID(ctx, a.ID), s.logger, table, string(op), a.ID, cause)
	return nil
}

func (s *Service) cachePut(ctx context.Context, table string, rows ...record.Record) {
	if len(rows) == 0 {
		return
	}
	if err := s.cache.Put(ctx, table, rows); err != nil {
		s.logger.WarnContext(ctx, "cache write failed", "error", err.Error())
	}
}

func (s *Service) cacheGet(ctx context.Context, table, id string) record.Record {
	r, err := s.cache.GetByID(ctx, table, id)
	if err != nil {
		s.logger.WarnContext(ctx, "cache read failed", "id", id, "error", err.Error())
		return nil
	}
	return r
}

func (s *Service) cacheRemove(ctx context.Context, table, id string) {
	if err := s.cache.Remove(ctx, table, id); err != nil {
		s.logger.WarnContext(ctx, "cache remove failed", "id", id, "error", err.Error())
	}
}
