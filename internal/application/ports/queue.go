package ports

import (
	"context"

	"github.com/jbctechsolutions/leadline/internal/domain/pending"
)

// PendingQueue durably holds mutations awaiting delivery to the remote store.
type PendingQueue interface {
	Enqueue(ctx context.Context, a *pending.Action) error
	// List returns every action in enqueue order.
	List(ctx context.Context) ([]*pending.Action, error)
	Remove(ctx context.Context, id string) error
	Count(ctx context.Context) (int, error)
	// RecordFailure bumps the attempt counter and stores the last error.
	RecordFailure(ctx context.Context, id string, cause error) error
	Clear(ctx context.Context) error
}
