package ports

import (
	"context"
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// CacheStore is the durable local copy of remote collections.
// Writes are upserts by id; last write wins.
type CacheStore interface {
	Put(ctx context.Context, collection string, records []record.Record) error
	GetAll(ctx context.Context, collection string) ([]record.Record, error)
	// GetByID returns nil, nil when the record is not cached.
	GetByID(ctx context.Context, collection, id string) (record.Record, error)
	Remove(ctx context.Context, collection, id string) error
	// ClearAll drops every cached record and sync marker.
	ClearAll(ctx context.Context) error
	// SetLastSync and LastSync track when a collection was last refreshed from the remote.
	SetLastSync(ctx context.Context, collection string, at time.Time) error
	LastSync(ctx context.Context, collection string) (time.Time, bool, error)
	Close() error
}
