package ports

import (
	"context"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// RemoteStore is the authoritative record store.
//
// Insert must be idempotent on the client-supplied "id": pending actions are
// delivered at least once, so a resent insert has to upsert rather than
// create a second record.
type RemoteStore interface {
	// Insert creates or replaces the record with r's id.
	Insert(ctx context.Context, table string, r record.Record) (record.Record, error)
	// Update applies a partial update to the record with the given id.
	Update(ctx context.Context, table, id string, fields record.Record) (record.Record, error)
	// Delete removes the record with the given id. Deleting a missing record is not an error.
	Delete(ctx context.Context, table, id string) error
	// Query returns records matching every filter constraint.
	Query(ctx context.Context, table string, filter record.Filter) ([]record.Record, error)
	// Ping checks reachability.
	Ping(ctx context.Context) error
}

// ChangeKind is the type of a remote change notification.
type ChangeKind string

const (
	ChangeInsert ChangeKind = "INSERT"
	ChangeUpdate ChangeKind = "UPDATE"
	ChangeDelete ChangeKind = "DELETE"
)

// Change is a single remote row change.
type Change struct {
	Kind   ChangeKind
	Table  string
	Record record.Record // new row for insert/update, old row (at least its id) for delete
}

// ChangeFeed streams remote changes so the cache can stay fresh while online.
type ChangeFeed interface {
	// Subscribe delivers changes to fn until ctx is done or the feed fails.
	Subscribe(ctx context.Context, tables []string, fn func(Change)) error
	Close() error
}
