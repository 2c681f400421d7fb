package callsession

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/application/duplicate"
	"github.com/jbctechsolutions/leadline/internal/domain/call"
	domainerrors "github.com/jbctechsolutions/leadline/internal/domain/errors"
	"github.com/jbctechsolutions/leadline/internal/domain/record"
	"github.com/jbctechsolutions/leadline/internal/domain/session"
	"github.com/jbctechsolutions/leadline/internal/infrastructure/testutil"
)

type write struct {
	table string
	id    string
	rec   record.Record
}

type fakeWriter struct {
	mu      sync.Mutex
	inserts []write
	updates []write
	err     error
}

func (w *fakeWriter) CreateOrQueue(_ context.Context, table string, r record.Record) (record.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	r = r.Clone()
	r[record.FieldID] = "new-id"
	w.inserts = append(w.inserts, write{table: table, rec: r})
	return r, nil
}

func (w *fakeWriter) UpdateOrQueue(_ context.Context, table, id string, partial record.Record) (record.Record, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.err != nil {
		return nil, w.err
	}
	w.updates = append(w.updates, write{table: table, id: id, rec: partial.Clone()})
	return partial.Merge(record.Record{record.FieldID: id}), nil
}

func (w *fakeWriter) writes() (ins, upd []write) {
	w.mu.Lock()
	defer w.mu.Unlock()
	return append([]write(nil), w.inserts...), append([]write(nil), w.updates...)
}

const (
	own   = "9000000001"
	other = "9000000002"
)

func newCoordinator(t *testing.T, leads map[string]record.Record, opts ...Option) (*Coordinator, *fakeWriter) {
	t.Helper()
	lookup := func(_ context.Context, phone string) (record.Record, error) {
		return leads[phone], nil
	}
	det := duplicate.NewDetector(lookup, duplicate.WithQuietPeriod(10*time.Millisecond))
	w := &fakeWriter{}
	c := NewCoordinator(w, det, append([]Option{WithAgentID("agent-1")}, opts...)...)
	t.Cleanup(func() {
		c.Close()
		det.Close()
	})
	return c, w
}

// qualifyingOn drives the coordinator to a Qualifying session for phone via
// a live call.
func qualifyingOn(t *testing.T, c *Coordinator, phone string) {
	t.Helper()
	ctx := context.Background()
	c.HandleEvent(ctx, testutil.Ringing(phone))
	c.HandleEvent(ctx, testutil.Answered(phone))
	require.NoError(t, c.OpenForm())
	require.True(t, session.IsQualifying(c.Snapshot().State))
}

func TestHandleEvent_TracksLiveCall(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()

	c.HandleEvent(ctx, testutil.Ringing(own))
	assert.Equal(t, session.Tracking{Phone: own, Call: session.CallRinging}, c.Snapshot().State)

	c.HandleEvent(ctx, testutil.Answered(own))
	assert.Equal(t, session.CallOnCall, session.CallOf(c.Snapshot().State))

	c.HandleEvent(ctx, testutil.Idle(own))
	assert.Equal(t, session.Tracking{Phone: own, Call: session.CallEnded}, c.Snapshot().State)

	c.HandleEvent(ctx, call.Event{Kind: "bogus", Number: other})
	assert.Equal(t, own, session.Phone(c.Snapshot().State))
}

func TestHandleEvent_QualifyingKeepsFocus(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()
	qualifyingOn(t, c, own)

	for _, ev := range []call.Event{testutil.Ringing(other), testutil.Answered(other), testutil.Ringing("9000000003")} {
		c.HandleEvent(ctx, ev)
		assert.Equal(t, own, session.Phone(c.Snapshot().State))
		assert.Equal(t, session.CallOnCall, session.CallOf(c.Snapshot().State))
	}
}

func TestHandleEvent_QueueOrderAndDedup(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()
	qualifyingOn(t, c, own)

	c.HandleEvent(ctx, testutil.Ringing("111"))
	c.HandleEvent(ctx, testutil.Ringing("222"))
	c.HandleEvent(ctx, testutil.Ringing("111"))

	q := c.Snapshot().Queue
	require.Len(t, q, 2)
	assert.Equal(t, "111", q[0].Phone)
	assert.Equal(t, "222", q[1].Phone)
}

func TestHandleEvent_IdleMarksQueuedMissed(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()
	qualifyingOn(t, c, own)

	c.HandleEvent(ctx, testutil.Ringing("555"))
	c.HandleEvent(ctx, testutil.Idle(""))

	q := c.Snapshot().Queue
	require.Len(t, q, 1)
	assert.Equal(t, "555", q[0].Phone)
	assert.Equal(t, call.Missed, q[0].Classification)
}

func TestHandleEvent_InterleavedCallDuringQualification(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx := context.Background()
	qualifyingOn(t, c, own)

	c.HandleEvent(ctx, testutil.Ringing(other))
	snap := c.Snapshot()
	assert.Equal(t, own, session.Phone(snap.State))
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, other, snap.Queue[0].Phone)

	c.HandleEvent(ctx, testutil.Idle(own))
	snap = c.Snapshot()
	assert.True(t, session.IsQualifying(snap.State))
	assert.Equal(t, session.CallEnded, session.CallOf(snap.State))
	require.Len(t, snap.Queue, 1)
	assert.Equal(t, call.Incoming, snap.Queue[0].Classification)
}

func TestAutoQualify(t *testing.T) {
	c, _ := newCoordinator(t, nil, WithAutoQualify(true))
	ctx := context.Background()

	c.HandleEvent(ctx, testutil.Ringing(own))
	c.HandleEvent(ctx, testutil.Idle(own))

	q, ok := c.Snapshot().State.(session.Qualifying)
	require.True(t, ok)
	assert.Equal(t, own, q.Form.Phone)
	assert.Equal(t, "agent-1", q.Form.AssignedTo)
}

func TestOpenForm_RequiresSession(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	err := c.OpenForm()
	assert.ErrorIs(t, err, domainerrors.ErrNoActiveSession)
}

func TestSubmit_Save(t *testing.T) {
	c, w := newCoordinator(t, nil)
	ctx := context.Background()
	qualifyingOn(t, c, own)
	require.NoError(t, c.SetField(record.FieldName, "Asha"))
	require.NoError(t, c.SetField("budget", "5L"))

	out, err := c.Submit(ctx, ActionSave, SubmitOptions{})
	require.NoError(t, err)
	assert.Equal(t, "new-id", out.ID())

	ins, _ := w.writes()
	require.Len(t, ins, 1)
	assert.Equal(t, record.Leads, ins[0].table)
	assert.Equal(t, own, ins[0].rec.String(record.FieldPhone))
	assert.Equal(t, "Asha", ins[0].rec.String(record.FieldName))
	assert.Equal(t, StageQualified, ins[0].rec.String(record.FieldStage))
	assert.Equal(t, "agent-1", ins[0].rec.String(record.FieldAssignedTo))
	assert.Equal(t, false, ins[0].rec[record.FieldIsSpam])

	assert.Equal(t, session.Waiting{}, c.Snapshot().State)
}

func TestSubmit_SaveValidation(t *testing.T) {
	ctx := context.Background()

	t.Run("incomplete phone", func(t *testing.T) {
		c, w := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		require.NoError(t, c.SetField(record.FieldPhone, "98765"))

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{})
		assert.ErrorIs(t, err, domainerrors.ErrPhoneIncomplete)
		assert.True(t, session.IsQualifying(c.Snapshot().State))
		ins, _ := w.writes()
		assert.Empty(t, ins)
	})

	t.Run("missing assignee", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		require.NoError(t, c.SetField(record.FieldAssignedTo, ""))

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{})
		assert.ErrorIs(t, err, domainerrors.ErrAssigneeRequired)
		assert.Equal(t, domainerrors.CodeValidation, domainerrors.CodeOf(err))
	})

	t.Run("unknown field", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		assert.Error(t, c.SetField("shoe_size", "9"))
	})
}

func TestSubmit_DuplicateResolution(t *testing.T) {
	ctx := context.Background()
	leads := map[string]record.Record{own: {record.FieldID: "existing", record.FieldPhone: own}}

	waitCandidate := func(t *testing.T, c *Coordinator) {
		t.Helper()
		require.Eventually(t, func() bool { return c.Snapshot().Candidate != nil }, time.Second, 5*time.Millisecond)
	}

	t.Run("unresolved", func(t *testing.T) {
		c, w := newCoordinator(t, leads)
		require.NoError(t, c.StartManual(own))
		waitCandidate(t, c)

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{})
		assert.ErrorIs(t, err, domainerrors.ErrDuplicateUnresolved)
		assert.True(t, session.IsQualifying(c.Snapshot().State))
		ins, upd := w.writes()
		assert.Empty(t, ins)
		assert.Empty(t, upd)
	})

	t.Run("update existing", func(t *testing.T) {
		c, w := newCoordinator(t, leads)
		require.NoError(t, c.StartManual(own))
		waitCandidate(t, c)

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{Resolution: ResolutionUpdateExisting})
		require.NoError(t, err)
		ins, upd := w.writes()
		assert.Empty(t, ins)
		require.Len(t, upd, 1)
		assert.Equal(t, "existing", upd[0].id)
		assert.Equal(t, StageQualified, upd[0].rec.String(record.FieldStage))
		assert.Nil(t, c.Snapshot().Candidate, "completion clears the candidate")
	})

	t.Run("create new", func(t *testing.T) {
		c, w := newCoordinator(t, leads)
		require.NoError(t, c.StartManual(own))
		waitCandidate(t, c)

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{Resolution: ResolutionCreateNew})
		require.NoError(t, err)
		ins, upd := w.writes()
		assert.Len(t, ins, 1)
		assert.Empty(t, upd)
	})

	t.Run("candidate for another phone is ignored", func(t *testing.T) {
		c, w := newCoordinator(t, leads)
		require.NoError(t, c.StartManual(own))
		waitCandidate(t, c)
		require.NoError(t, c.SetField(record.FieldPhone, other))

		_, err := c.Submit(ctx, ActionSave, SubmitOptions{})
		require.NoError(t, err)
		ins, _ := w.writes()
		require.Len(t, ins, 1)
		assert.Equal(t, other, ins[0].rec.String(record.FieldPhone))
	})
}

func TestSubmit_OtherActions(t *testing.T) {
	ctx := context.Background()

	t.Run("spam", func(t *testing.T) {
		c, w := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		_, err := c.Submit(ctx, ActionSpam, SubmitOptions{})
		require.NoError(t, err)
		ins, _ := w.writes()
		require.Len(t, ins, 1)
		assert.Equal(t, record.Leads, ins[0].table)
		assert.Equal(t, true, ins[0].rec[record.FieldIsSpam])
		assert.Equal(t, StageLeadCreated, ins[0].rec.String(record.FieldStage))
	})

	t.Run("callback", func(t *testing.T) {
		c, w := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		require.NoError(t, c.SetField("interest", "scooter"))
		_, err := c.Submit(ctx, ActionCallback, SubmitOptions{})
		require.NoError(t, err)
		ins, _ := w.writes()
		require.Len(t, ins, 1)
		assert.Equal(t, record.Callbacks, ins[0].table)
		assert.Equal(t, StatusPending, ins[0].rec.String(record.FieldStatus))
		assert.Equal(t, "scooter", ins[0].rec.String("interest"))
	})

	t.Run("cold writes nothing", func(t *testing.T) {
		c, w := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		out, err := c.Submit(ctx, ActionCold, SubmitOptions{})
		require.NoError(t, err)
		assert.Nil(t, out)
		ins, upd := w.writes()
		assert.Empty(t, ins)
		assert.Empty(t, upd)
		assert.Equal(t, session.Waiting{}, c.Snapshot().State)
	})

	t.Run("unknown action", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		_, err := c.Submit(ctx, Action("archive"), SubmitOptions{})
		assert.ErrorIs(t, err, domainerrors.ErrUnknownAction)
	})

	t.Run("no session", func(t *testing.T) {
		c, _ := newCoordinator(t, nil)
		_, err := c.Submit(ctx, ActionCold, SubmitOptions{})
		assert.ErrorIs(t, err, domainerrors.ErrNoActiveSession)
	})

	t.Run("write failure keeps session", func(t *testing.T) {
		c, w := newCoordinator(t, nil)
		qualifyingOn(t, c, own)
		w.err = errors.New("disk full")
		_, err := c.Submit(ctx, ActionSpam, SubmitOptions{})
		assert.Error(t, err)
		assert.True(t, session.IsQualifying(c.Snapshot().State))
	})
}

func TestQueuedCallOperations(t *testing.T) {
	ctx := context.Background()
	c, w := newCoordinator(t, nil)
	qualifyingOn(t, c, own)
	c.HandleEvent(ctx, testutil.Ringing("9000000002"))
	c.HandleEvent(ctx, testutil.Ringing("9000000003"))
	c.HandleEvent(ctx, testutil.Ringing("9000000004"))

	assert.ErrorIs(t, c.PickQueued("9000000002"), domainerrors.ErrSessionBusy)

	_, err := c.Submit(ctx, ActionCold, SubmitOptions{})
	require.NoError(t, err)
	assert.Len(t, c.Snapshot().Queue, 3, "queue survives session completion")

	require.NoError(t, c.DismissQueued("9000000003"))
	assert.ErrorIs(t, c.DismissQueued("9000000003"), domainerrors.ErrQueuedCallNotFound)

	cb, err := c.CallBackQueued(ctx, "9000000004")
	require.NoError(t, err)
	assert.Equal(t, StatusPending, cb.String(record.FieldStatus))
	ins, _ := w.writes()
	require.Len(t, ins, 1)
	assert.Equal(t, record.Callbacks, ins[0].table)

	require.NoError(t, c.PickQueued("9000000002"))
	snap := c.Snapshot()
	assert.Equal(t, session.Qualifying{
		Phone: "9000000002",
		Call:  session.CallEnded,
		Form:  session.Form{Phone: "9000000002", AssignedTo: "agent-1"},
	}, snap.State)
	assert.Empty(t, snap.Queue)

	assert.ErrorIs(t, c.PickQueued("9000000009"), domainerrors.ErrSessionBusy)
}

func TestStartManualAndReset(t *testing.T) {
	ctx := context.Background()
	c, _ := newCoordinator(t, nil)

	require.NoError(t, c.StartManual("+91 90000 00001"))
	assert.Equal(t, own, session.Phone(c.Snapshot().State))
	assert.ErrorIs(t, c.StartManual(other), domainerrors.ErrSessionBusy)

	c.Reset(ctx)
	assert.Equal(t, session.Waiting{}, c.Snapshot().State)
	require.NoError(t, c.StartManual(other))
}

func TestRunAndSubscribe(t *testing.T) {
	c, _ := newCoordinator(t, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	updates, unsubscribe := c.Subscribe()
	events := make(chan call.Event)
	done := make(chan struct{})
	go func() {
		c.Run(ctx, events)
		close(done)
	}()

	events <- testutil.Ringing(own)
	select {
	case snap := <-updates:
		assert.Equal(t, own, session.Phone(snap.State))
	case <-time.After(time.Second):
		t.Fatal("no snapshot published")
	}

	close(events)
	<-done

	unsubscribe()
	_, open := <-updates
	assert.False(t, open)
	unsubscribe()
}

func TestParseAction(t *testing.T) {
	a, err := ParseAction("skip")
	require.NoError(t, err)
	assert.Equal(t, ActionCold, a)

	a, err = ParseAction("save")
	require.NoError(t, err)
	assert.Equal(t, ActionSave, a)

	_, err = ParseAction("nope")
	assert.ErrorIs(t, err, domainerrors.ErrUnknownAction)
}

func TestHandleEvent_CallsDuringQualificationAreQueued(t *testing.T) {
	ctx := context.Background()
	c, w := newCoordinator(t, nil)
	require.NoError(t, c.StartManual(own))

	c.HandleEvent(ctx, testutil.Ringing(""))
	c.HandleEvent(ctx, testutil.Ringing(own))

	snap := c.Snapshot()
	assert.Equal(t, own, session.Phone(snap.State))
	assert.Equal(t, session.CallEnded, session.CallOf(snap.State))
	require.Len(t, snap.Queue, 2)
	assert.Equal(t, call.WithheldNumber, snap.Queue[0].Phone)
	assert.Equal(t, own, snap.Queue[1].Phone)

	_, err := c.CallBackQueued(ctx, "Unknown")
	assert.ErrorIs(t, err, domainerrors.ErrPhoneIncomplete)
	ins, _ := w.writes()
	assert.Empty(t, ins)
	assert.Len(t, c.Snapshot().Queue, 2, "a withheld call cannot be called back and stays queued")

	_, err = c.Submit(ctx, ActionCold, SubmitOptions{})
	require.NoError(t, err)

	require.NoError(t, c.PickQueued(call.WithheldNumber))
	q, ok := c.Snapshot().State.(session.Qualifying)
	require.True(t, ok)
	assert.Empty(t, q.Form.Phone)
	assert.Equal(t, "agent-1", q.Form.AssignedTo)
	require.Len(t, c.Snapshot().Queue, 1)
	assert.Equal(t, own, c.Snapshot().Queue[0].Phone)
}
