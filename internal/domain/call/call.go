// Package call models telephony events and calls that arrive while the
// agent is busy with another caller.
package call

import (
	"time"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

// Kind is the normalized state reported by the device telephony stack.
type Kind string

const (
	Ringing  Kind = "ringing"
	Answered Kind = "answered"
	Idle     Kind = "idle"
)

// Valid reports whether k is a known event kind.
func (k Kind) Valid() bool {
	return k == Ringing || k == Answered || k == Idle
}

// Event is a single telephony state change. Number may be empty when the
// platform withholds it.
type Event struct {
	Kind   Kind
	Number string
	At     time.Time
}

// Phone returns the normalized number carried by the event.
func (e Event) Phone() string {
	return record.NormalizePhone(e.Number)
}

// Classification of a call parked in the side queue.
type Classification string

const (
	Incoming Classification = "incoming"
	Missed   Classification = "missed"
)

// QueuedCall is a call observed while a qualification form was open.
type QueuedCall struct {
	Phone          string
	ObservedAt     time.Time
	Classification Classification
}

// WithheldNumber is the queue key for calls whose number the platform withheld.
const WithheldNumber = "unknown"

// QueueKey returns the key a call from phone is queued under.
func QueueKey(phone string) string {
	if phone == "" {
		return WithheldNumber
	}
	return phone
}

// Queue is an arrival-ordered set of queued calls keyed by phone.
// The zero value is ready to use. Queue is not safe for concurrent use.
type Queue struct {
	calls []QueuedCall
}

// Add appends a call as incoming unless the phone is already queued. An
// empty phone is queued under WithheldNumber. It reports whether the call
// was added.
func (q *Queue) Add(phone string, at time.Time) bool {
	phone = QueueKey(phone)
	if q.index(phone) >= 0 {
		return false
	}
	q.calls = append(q.calls, QueuedCall{Phone: phone, ObservedAt: at, Classification: Incoming})
	return true
}

// MarkAllMissed reclassifies every incoming call as missed and returns how many changed.
func (q *Queue) MarkAllMissed() int {
	n := 0
	for i := range q.calls {
		if q.calls[i].Classification == Incoming {
			q.calls[i].Classification = Missed
			n++
		}
	}
	return n
}

// Remove deletes the call for phone, returning it and whether it was present.
func (q *Queue) Remove(phone string) (QueuedCall, bool) {
	i := q.index(phone)
	if i < 0 {
		return QueuedCall{}, false
	}
	c := q.calls[i]
	q.calls = append(q.calls[:i], q.calls[i+1:]...)
	return c, true
}

// Get returns the call for phone.
func (q *Queue) Get(phone string) (QueuedCall, bool) {
	i := q.index(phone)
	if i < 0 {
		return QueuedCall{}, false
	}
	return q.calls[i], true
}

// Len returns the number of queued calls.
func (q *Queue) Len() int { return len(q.calls) }

// Snapshot returns a copy of the queue in arrival order.
func (q *Queue) Snapshot() []QueuedCall {
	out := make([]QueuedCall, len(q.calls))
	copy(out, q.calls)
	return out
}

func (q *Queue) index(phone string) int {
	for i, c := range q.calls {
		if c.Phone == phone {
			return i
		}
	}
	return -1
}
