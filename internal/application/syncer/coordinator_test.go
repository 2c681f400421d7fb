package syncer

import (
	"context"
	"math/rand"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/adapters/remote"
	"github.com/jbctechsolutions/leadline/internal/application/data"
	"github.com/jbctechsolutions/leadline/internal/domain/pending"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/connectivity"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/metrics"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/testutil"
)

type fixture struct {
	stores  *testutil.Stores
	remote  *remote.Memory
	monitor *connectivity.Monitor
	data    *data.Service
	sync    *Coordinator
}

func newFixture(t *testing.T, online bool, opts ...Option) *fixture {
	t.Helper()
	stores := testutil.NewStores(t)
	mem := remote.NewMemory()
	mem.SetAvailable(online)
	mon := connectivity.NewMonitor(online, nil)
	return &fixture{
		stores:  stores,
		remote:  mem,
		monitor: mon,
		data:    data.NewService(mem, stores.Cache, stores.Queue, mon),
		sync:    NewCoordinator(stores.Queue, mem, mon, opts...),
	}
}

func (f *fixture) setOnline(online bool) {
	f.remote.SetAvailable(online)
	f.monitor.Set(online)
}

func (f *fixture) remoteIDs(table string) map[string]bool {
	ids := make(map[string]bool)
	for _, r := range f.remote.Rows(table) {
		ids[r.ID()] = true
	}
	return ids
}

func (f *fixture) queuedIDs(t *testing.T) map[string]bool {
	t.Helper()
	actions, err := f.stores.Queue.List(context.Background())
	require.NoError(t, err)
	ids := make(map[string]bool)
	for _, a := range actions {
		ids[a.TargetID()] = true
	}
	return ids
}

func TestDrain_ReplaysInOrderAndEmptiesQueue(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	r, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)
	_, err = f.data.UpdateOrQueue(ctx, record.Leads, r.ID(), record.Record{record.FieldName: "Asha"})
	require.NoError(t, err)
	_, err = f.data.CreateOrQueue(ctx, record.Callbacks, record.Record{record.FieldPhone: "9876543211"})
	require.NoError(t, err)

	f.setOnline(true)
	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, DrainResult{Trigger: TriggerManual, Attempted: 3, Synced: 3}, res)

	rows := f.remote.Rows(record.Leads)
	require.Len(t, rows, 1)
	assert.Equal(t, "Asha", rows[0].String(record.FieldName))
	assert.Len(t, f.remote.Rows(record.Callbacks), 1)
	assert.Zero(t, f.sync.PendingCount(ctx))
}

func TestDrain_OfflineIsSkipped(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()
	_, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)

	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, 1, res.Remaining)
	assert.Zero(t, f.remote.Calls("insert"))
	assert.Equal(t, 1, f.sync.PendingCount(ctx))
}

func TestDrain_FailureKeepsActionAndContinues(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	a, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)
	b, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543211"})
	require.NoError(t, err)

	f.setOnline(true)
	f.remote.FailNext(1)
	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Attempted)
	assert.Equal(t, 1, res.Synced)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Remaining)

	assert.False(t, f.remoteIDs(record.Leads)[a.ID()])
	assert.True(t, f.remoteIDs(record.Leads)[b.ID()])

	actions, err := f.stores.Queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	assert.Equal(t, a.ID(), actions[0].TargetID())
	assert.Equal(t, 1, actions[0].Attempts)
	assert.NotEmpty(t, actions[0].LastError)
}

func TestDrain_LaterActionsForFailedRecordAreDeferred(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	r, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)
	_, err = f.data.UpdateOrQueue(ctx, record.Leads, r.ID(), record.Record{record.FieldName: "Asha"})
	require.NoError(t, err)

	f.setOnline(true)
	f.remote.FailNext(1)
	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Deferred)
	assert.Zero(t, f.remote.Calls("update"))
	assert.Equal(t, 2, res.Remaining)

	res, err = f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 2, res.Synced)
	assert.Equal(t, "Asha", f.remote.Rows(record.Leads)[0].String(record.FieldName))
}

func TestDrain_DeleteOfMissingRecordSucceeds(t *testing.T) {
	f := newFixture(t, true)
	ctx := context.Background()

	a, err := pending.New(record.Walkins, pending.OpDelete, record.Record{record.FieldID: "gone"})
	require.NoError(t, err)
	require.NoError(t, f.stores.Queue.Enqueue(ctx, a))

	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Zero(t, res.Remaining)
}

// A drain interrupted after the remote accepted an insert but before the
// action was removed replays it; the remote must end with one row.
func TestDrain_ReplayIsIdempotent(t *testing.T) {
	f := newFixture(t, false)
	ctx := context.Background()

	_, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)
	actions, err := f.stores.Queue.List(ctx)
	require.NoError(t, err)
	require.Len(t, actions, 1)
	crashed := actions[0]

	f.setOnline(true)
	_, err = f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)

	replay, err := pending.New(crashed.Table, crashed.Operation, crashed.Payload)
	require.NoError(t, err)
	require.NoError(t, f.stores.Queue.Enqueue(ctx, replay))

	res, err := f.sync.Drain(ctx, TriggerManual)
	require.NoError(t, err)
	assert.Equal(t, 1, res.Synced)
	assert.Len(t, f.remote.Rows(record.Leads), 1)
	assert.Equal(t, 2, f.remote.Calls("insert"))
}

// Random interleavings of writes, connectivity flips, drains and injected
// failures never lose a write: every created record is either on the remote
// or still queued, and once the remote is healthy everything lands.
func TestDrain_NoWriteIsLost(t *testing.T) {
	for seed := int64(1); seed <= 5; seed++ {
		f := newFixture(t, true)
		ctx := context.Background()
		rng := rand.New(rand.NewSource(seed))
		created := make(map[string]bool)

		for step := 0; step < 120; step++ {
			switch rng.Intn(4) {
			case 0, 1:
				r, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
				require.NoError(t, err)
				created[r.ID()] = true
			case 2:
				f.setOnline(rng.Intn(2) == 0)
				f.remote.FailNext(rng.Intn(3))
			case 3:
				_, err := f.sync.Drain(ctx, TriggerManual)
				require.NoError(t, err)
			}

			onRemote, queued := f.remoteIDs(record.Leads), f.queuedIDs(t)
			for id := range created {
				require.True(t, onRemote[id] || queued[id], "seed %d step %d: record %s lost", seed, step, id)
			}
		}

		f.setOnline(true)
		f.remote.FailNext(0)
		_, err := f.sync.Drain(ctx, TriggerManual)
		require.NoError(t, err)
		assert.Zero(t, f.sync.PendingCount(ctx))
		onRemote := f.remoteIDs(record.Leads)
		for id := range created {
			assert.True(t, onRemote[id])
		}
		assert.Len(t, onRemote, len(created))
	}
}

type blockingRemote struct {
	*remote.Memory
	entered chan struct{}
	release chan struct{}
	calls   atomic.Int32
}

func (b *blockingRemote) Insert(ctx context.Context, table string, r record.Record) (record.Record, error) {
	if b.calls.Add(1) == 1 {
		close(b.entered)
		<-b.release
	}
	return b.Memory.Insert(ctx, table, r)
}

func TestDrain_ConcurrentTriggerIsDropped(t *testing.T) {
	stores := testutil.NewStores(t)
	mon := connectivity.NewMonitor(true, nil)
	br := &blockingRemote{Memory: remote.NewMemory(), entered: make(chan struct{}), release: make(chan struct{})}
	m := metrics.New()
	c := NewCoordinator(stores.Queue, br, mon, WithMetrics(m))
	ctx := context.Background()

	a, err := pending.New(record.Leads, pending.OpInsert, record.Record{record.FieldID: "l1"})
	require.NoError(t, err)
	require.NoError(t, stores.Queue.Enqueue(ctx, a))

	first := make(chan DrainResult, 1)
	go func() {
		res, _ := c.Drain(ctx, TriggerTimer)
		first <- res
	}()
	<-br.entered

	res, err := c.Drain(ctx, TriggerOnline)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Zero(t, res.Attempted)

	close(br.release)
	got := <-first
	assert.Equal(t, 1, got.Synced)
	assert.Equal(t, int32(1), br.calls.Load(), "the action is replayed exactly once")
}

func TestStart_DrainsOnReconnect(t *testing.T) {
	drained := make(chan DrainResult, 4)
	f := newFixture(t, false, WithInterval(time.Hour), OnDrain(func(r DrainResult) { drained <- r }))
	ctx := context.Background()

	_, err := f.data.CreateOrQueue(ctx, record.Leads, record.Record{record.FieldPhone: "9876543210"})
	require.NoError(t, err)
	assert.Equal(t, 1, f.data.PendingSyncCount(ctx))

	f.sync.Start(ctx)
	defer f.sync.Stop()

	f.setOnline(true)

	select {
	case res := <-drained:
		assert.Equal(t, TriggerOnline, res.Trigger)
		assert.Equal(t, 1, res.Synced)
	case <-time.After(5 * time.Second):
		t.Fatal("no drain after reconnect")
	}
	assert.Zero(t, f.data.PendingSyncCount(ctx))
	assert.Len(t, f.remote.Rows(record.Leads), 1)
}

func TestStart_DrainsOnStartupAndTimer(t *testing.T) {
	f := newFixture(t, true, WithInterval(20*time.Millisecond))
	ctx := context.Background()

	a, err := pending.New(record.Leads, pending.OpInsert, record.Record{record.FieldID: "l1"})
	require.NoError(t, err)
	require.NoError(t, f.stores.Queue.Enqueue(ctx, a))

	f.sync.Start(ctx)
	f.sync.Start(ctx)
	assert.Eventually(t, func() bool { return f.sync.PendingCount(ctx) == 0 }, 5*time.Second, 10*time.Millisecond)

	b, err := pending.New(record.Leads, pending.OpInsert, record.Record{record.FieldID: "l2"})
	require.NoError(t, err)
	require.NoError(t, f.stores.Queue.Enqueue(ctx, b))
	assert.Eventually(t, func() bool { return f.sync.PendingCount(ctx) == 0 }, 5*time.Second, 10*time.Millisecond)

	f.sync.Stop()
	f.sync.Stop()
	assert.Len(t, f.remote.Rows(record.Leads), 2)
}
