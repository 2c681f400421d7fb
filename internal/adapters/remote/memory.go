package remote

import (
	"context"
	"sync"
	"time"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// Memory is an in-process RemoteStore. It backs demo mode when no remote
// URL is configured and serves as the collaborator in tests.
type Memory struct {
	mu        sync.Mutex
	tables    map[string]map[string]record.Record
	order     map[string][]string
	available bool
	failNext  int
	failFn    func(op, table string, r record.Record) error
	calls     map[string]int
}

// NewMemory returns an empty, reachable in-memory store.
func NewMemory() *Memory {
	return &Memory{
		tables:    make(map[string]map[string]record.Record),
		order:     make(map[string][]string),
		available: true,
		calls:     make(map[string]int),
	}
}

// SetAvailable toggles reachability. When unavailable every call fails with
// ErrRemoteUnavailable.
func (m *Memory) SetAvailable(ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.available = ok
}

// FailNext makes the next n mutating calls fail.
func (m *Memory) FailNext(n int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failNext = n
}

// FailWhen installs a predicate consulted before every mutation. A non-nil
// return fails that call. Pass nil to clear.
func (m *Memory) FailWhen(fn func(op, table string, r record.Record) error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.failFn = fn
}

// Calls returns how many times op (insert, update, delete, query) was invoked.
func (m *Memory) Calls(op string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls[op]
}

// Rows returns a copy of every row in table in first-insert order.
func (m *Memory) Rows(table string) []record.Record {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]record.Record, 0, len(m.order[table]))
	for _, id := range m.order[table] {
		if r, ok := m.tables[table][id]; ok {
			out = append(out, r.Clone())
		}
	}
	return out
}

// Seed stores rows directly, bypassing failure injection.
func (m *Memory) Seed(table string, rows ...record.Record) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range rows {
		m.upsertLocked(table, r.Clone())
	}
}

func (m *Memory) check(op, table string, r record.Record) error {
	m.calls[op]++
	if !m.available {
		return domainerrors.ErrRemoteUnavailable
	}
	if op == "query" {
		return nil
	}
	if m.failNext > 0 {
		m.failNext--
		return domainerrors.NewError(domainerrors.CodeRemote, op+" "+table+" rejected", nil)
	}
	if m.failFn != nil {
		if err := m.failFn(op, table, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Memory) upsertLocked(table string, r record.Record) record.Record {
	rows, ok := m.tables[table]
	if !ok {
		rows = make(map[string]record.Record)
		m.tables[table] = rows
	}
	id := r.ID()
	if _, exists := rows[id]; !exists {
		m.order[table] = append(m.order[table], id)
	}
	rows[id] = r
	return r.Clone()
}

// Insert upserts by id. A record without an id is assigned one.
func (m *Memory) Insert(_ context.Context, table string, r record.Record) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("insert", table, r); err != nil {
		return nil, err
	}
	r = r.Clone()
	if r.ID() == "" {
		r[record.FieldID] = newID()
	}
	if _, ok := r[record.FieldCreatedAt]; !ok {
		r[record.FieldCreatedAt] = record.Timestamp(time.Now())
	}
	return m.upsertLocked(table, r), nil
}

// Update merges fields into an existing row.
func (m *Memory) Update(_ context.Context, table, id string, fields record.Record) (record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("update", table, fields.Merge(record.Record{record.FieldID: id})); err != nil {
		return nil, err
	}
	cur, ok := m.tables[table][id]
	if !ok {
		return nil, domainerrors.WithContext(
			domainerrors.NewError(domainerrors.CodeNotFound, "update "+table, domainerrors.ErrRecordNotFound), "id", id)
	}
	next := cur.Merge(fields)
	next[record.FieldID] = id
	return m.upsertLocked(table, next), nil
}

// Delete removes a row; deleting a missing row succeeds.
func (m *Memory) Delete(_ context.Context, table, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("delete", table, record.Record{record.FieldID: id}); err != nil {
		return err
	}
	delete(m.tables[table], id)
	ids := m.order[table]
	for i, v := range ids {
		if v == id {
			m.order[table] = append(ids[:i], ids[i+1:]...)
			break
		}
	}
	return nil
}

// Query returns matching rows newest first.
func (m *Memory) Query(_ context.Context, table string, filter record.Filter) ([]record.Record, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.check("query", table, nil); err != nil {
		return nil, err
	}
	var out []record.Record
	for _, id := range m.order[table] {
		r := m.tables[table][id]
		if filter.Matches(r) {
			out = append(out, r.Clone())
		}
	}
	record.SortNewestFirst(out)
	return out, nil
}

// Ping fails when the store is marked unavailable.
func (m *Memory) Ping(context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.available {
		return domainerrors.ErrRemoteUnavailable
	}
	return nil
}
