// Package testutil provides fixtures shared by leadline's package tests.
package testutil

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/jbctechsolutions/leadline/internal/adapters/storage/sqlite"
	"github.com/jbctechsolutions/leadline/internal/domain/call"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// Stores bundles the local persistence used by the data and sync layers.
type Stores struct {
	Conn  *sqlite.Connection
	Cache *sqlite.CacheStore
	Queue *sqlite.PendingQueue
}

// NewStores opens a fresh SQLite database under t.TempDir and closes it on cleanup.
func NewStores(t *testing.T) *Stores {
	t.Helper()
	conn, err := sqlite.NewConnection(filepath.Join(t.TempDir(), "leadline.db"))
	if err != nil {
		t.Fatalf("new connection: %v", err)
	}
	if err := conn.Open(); err != nil {
		t.Fatalf("open connection: %v", err)
	}
	t.Cleanup(func() { _ = conn.Close() })
	return &Stores{
		Conn:  conn,
		Cache: sqlite.NewCacheStore(conn),
		Queue: sqlite.NewPendingQueue(conn),
	}
}

// NewLead returns a minimal lead record for phone.
func NewLead(id, phone string, createdAt time.Time) record.Record {
	return record.Record{
		record.FieldID:        id,
		record.FieldPhone:     phone,
		record.FieldIsSpam:    false,
		record.FieldStage:     "qualified",
		record.FieldCreatedAt: record.Timestamp(createdAt),
	}
}

// Ringing returns a ringing event for number.
func Ringing(number string) call.Event {
	return call.Event{Kind: call.Ringing, Number: number, At: time.Now()}
}

// Answered returns an answered event for number.
func Answered(number string) call.Event {
	return call.Event{Kind: call.Answered, Number: number, At: time.Now()}
}

// Idle returns an idle event for number.
func Idle(number string) call.Event {
	return call.Event{Kind: call.Idle, Number: number, At: time.Now()}
}
