package badger

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

func TestCacheStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()

	store, err := Open(dir)
	require.NoError(t, err)

	require.NoError(t, store.Put(ctx, record.Leads, []record.Record{
		{"id": "b", "phone": "9000000002"},
		{"id": "a", "phone": "9000000001"},
	}))
	require.NoError(t, store.Put(ctx, record.Leads, []record.Record{{"id": "a", "phone": "9000000009"}}))
	require.NoError(t, store.Put(ctx, "leads_archive", []record.Record{{"id": "x"}}))

	all, err := store.GetAll(ctx, record.Leads)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.Equal(t, "a", all[0].ID())
	assert.Equal(t, "9000000009", all[0]["phone"])

	got, err := store.GetByID(ctx, record.Leads, "b")
	require.NoError(t, err)
	assert.Equal(t, "9000000002", got["phone"])

	missing, err := store.GetByID(ctx, record.Leads, "nope")
	require.NoError(t, err)
	assert.Nil(t, missing)

	require.NoError(t, store.Remove(ctx, record.Leads, "b"))
	require.NoError(t, store.SetLastSync(ctx, record.Leads, time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)))
	require.NoError(t, store.Close())

	store, err = Open(dir)
	require.NoError(t, err)
	defer store.Close()

	all, err = store.GetAll(ctx, record.Leads)
	require.NoError(t, err)
	assert.Len(t, all, 1)

	at, ok, err := store.LastSync(ctx, record.Leads)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, 2026, at.Year())

	require.NoError(t, store.ClearAll(ctx))
	all, err = store.GetAll(ctx, record.Leads)
	require.NoError(t, err)
	assert.Empty(t, all)
	_, ok, err = store.LastSync(ctx, record.Leads)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestCacheStore_RejectsRecordWithoutID(t *testing.T) {
	store, err := Open(t.TempDir())
	require.NoError(t, err)
	defer store.Close()

	assert.Error(t, store.Put(context.Background(), record.Leads, []record.Record{{"phone": "1"}}))
}
