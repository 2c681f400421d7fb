package testutil

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/domain/call"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
)

func TestWriteFile(t *testing.T) {
	dir := t.TempDir()
	path := WriteFile(t, dir, "test.txt", "test content")

	assert.Equal(t, filepath.Join(dir, "test.txt"), path)
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "test content", string(data))
}

func TestAppendLine(t *testing.T) {
	path := filepath.Join(t.TempDir(), "spool.jsonl")
	AppendLine(t, path, "one")
	AppendLine(t, path, "two")

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "one\ntwo\n", string(data))
}

func TestNewStores(t *testing.T) {
	s := NewStores(t)
	ctx := context.Background()

	require.NoError(t, s.Cache.Put(ctx, record.Leads, []record.Record{NewLead("a", "9876543210", time.Now())}))
	got, err := s.Cache.GetByID(ctx, record.Leads, "a")
	require.NoError(t, err)
	assert.Equal(t, "9876543210", got.String(record.FieldPhone))

	n, err := s.Queue.Count(ctx)
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestEventHelpers(t *testing.T) {
	assert.Equal(t, call.Ringing, Ringing("1").Kind)
	assert.Equal(t, call.Answered, Answered("1").Kind)
	assert.Equal(t, call.Idle, Idle("1").Kind)
}
