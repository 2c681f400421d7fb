// Package pending defines the durable record of a mutation that could not be
// applied to the remote store when it was requested.
package pending

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/oklog/ulid/v2"

	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// Operation is the kind of remote mutation an action replays.
type Operation string

const (
	OpInsert Operation = "insert"
	OpUpdate Operation = "update"
	OpDelete Operation = "delete"
)

// Valid reports whether o is a known operation.
func (o Operation) Valid() bool {
	switch o {
	case OpInsert, OpUpdate, OpDelete:
		return true
	}
	return false
}

// Action is a queued remote mutation. IDs are ULIDs, so ordering actions by
// ID is the same as ordering them by enqueue time.
//
// Payload shapes: insert carries the full record, update carries the target
// "id" plus the changed fields, delete carries only "id".
type Action struct {
	ID         string
	Table      string
	Operation  Operation
	Payload    record.Record
	EnqueuedAt time.Time
	Attempts   int
	LastError  string
}

// New builds an action stamped with a fresh ULID and the current time.
func New(table string, op Operation, payload record.Record) (*Action, error) {
	a := &Action{
		ID:         ulid.Make().String(),
		Table:      table,
		Operation:  op,
		Payload:    payload,
		EnqueuedAt: time.Now().UTC(),
	}
	if err := a.Validate(); err != nil {
		return nil, err
	}
	return a, nil
}

// Validate checks the action's shape.
func (a *Action) Validate() error {
	if a.Table == "" {
		return domainerrors.Validation("pending action has no table", nil)
	}
	if !a.Operation.Valid() {
		return domainerrors.Validation(fmt.Sprintf("pending action operation %q", a.Operation), domainerrors.ErrUnknownOperation)
	}
	if a.Operation != OpInsert && a.Payload.ID() == "" {
		return domainerrors.Validation(fmt.Sprintf("%s action requires an id", a.Operation), nil)
	}
	return nil
}

// TargetID returns the id of the record the action mutates.
func (a *Action) TargetID() string {
	return a.Payload.ID()
}

// UpdateFields returns the update payload without its id.
func (a *Action) UpdateFields() record.Record {
	return a.Payload.Without(record.FieldID)
}

// MarshalPayload encodes the payload for storage.
func (a *Action) MarshalPayload() ([]byte, error) {
	return json.Marshal(a.Payload)
}

// UnmarshalPayload decodes a stored payload.
func UnmarshalPayload(data []byte) (record.Record, error) {
	var r record.Record
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	return r, nil
}
