package call

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestQueue_AddDeduplicatesByPhone(t *testing.T) {
	var q Queue
	now := time.Now()

	assert.True(t, q.Add("9000000002", now))
	assert.False(t, q.Add("9000000002", now.Add(time.Second)))
	assert.True(t, q.Add("9000000003", now.Add(2*time.Second)))

	snap := q.Snapshot()
	if assert.Len(t, snap, 2) {
		assert.Equal(t, "9000000002", snap[0].Phone)
		assert.Equal(t, now, snap[0].ObservedAt, "repeat ringing keeps first observation")
		assert.Equal(t, "9000000003", snap[1].Phone)
	}
}

func TestQueue_WithheldNumbersShareOneEntry(t *testing.T) {
	var q Queue
	now := time.Now()

	assert.True(t, q.Add("", now))
	assert.False(t, q.Add("", now.Add(time.Second)))
	assert.False(t, q.Add(WithheldNumber, now.Add(2*time.Second)))

	c, ok := q.Get(WithheldNumber)
	if assert.True(t, ok) {
		assert.Equal(t, now, c.ObservedAt)
		assert.Equal(t, Incoming, c.Classification)
	}
	assert.Equal(t, 1, q.Len())
}

func TestQueue_MarkAllMissed(t *testing.T) {
	var q Queue
	q.Add("9000000002", time.Now())
	q.Add("9000000003", time.Now())

	assert.Equal(t, 2, q.MarkAllMissed())
	assert.Equal(t, 0, q.MarkAllMissed())
	for _, c := range q.Snapshot() {
		assert.Equal(t, Missed, c.Classification)
	}

	// a new arrival after the reclassification is incoming again
	q.Add("9000000004", time.Now())
	c, ok := q.Get("9000000004")
	assert.True(t, ok)
	assert.Equal(t, Incoming, c.Classification)
}

func TestQueue_Remove(t *testing.T) {
	var q Queue
	q.Add("9000000002", time.Now())
	q.Add("9000000003", time.Now())

	c, ok := q.Remove("9000000002")
	assert.True(t, ok)
	assert.Equal(t, "9000000002", c.Phone)
	assert.Equal(t, 1, q.Len())

	_, ok = q.Remove("9000000002")
	assert.False(t, ok)
}

func TestSnapshotIsCopy(t *testing.T) {
	var q Queue
	q.Add("9000000002", time.Now())
	snap := q.Snapshot()
	snap[0].Classification = Missed

	c, _ := q.Get("9000000002")
	assert.Equal(t, Incoming, c.Classification)
}

func TestEventPhone(t *testing.T) {
	assert.Equal(t, "9000000001", Event{Kind: Ringing, Number: "+91-9000000001"}.Phone())
	assert.Equal(t, "", Event{Kind: Idle}.Phone())
}
