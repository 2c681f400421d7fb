package connectivity

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jbctechsolutions/leadline/internal/infrastructure/logging"
)

func TestMonitor_Transitions(t *testing.T) {
	m := NewMonitor(false, nil)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	assert.False(t, m.IsOnline())
	assert.False(t, m.Set(false), "no transition when state is unchanged")
	assert.True(t, m.Set(true))
	assert.True(t, m.IsOnline())

	select {
	case tr := <-ch:
		assert.True(t, tr.Online)
	case <-time.After(time.Second):
		t.Fatal("expected online transition")
	}
}

func TestMonitor_SlowSubscriberSeesLatest(t *testing.T) {
	m := NewMonitor(false, nil)
	ch, unsubscribe := m.Subscribe()
	defer unsubscribe()

	m.Set(true)
	m.Set(false)
	m.Set(true)

	tr := <-ch
	assert.True(t, tr.Online)
	select {
	case extra := <-ch:
		t.Fatalf("unexpected extra transition %+v", extra)
	default:
	}
}

func TestMonitor_Unsubscribe(t *testing.T) {
	m := NewMonitor(true, nil)
	ch, unsubscribe := m.Subscribe()
	unsubscribe()
	unsubscribe()

	_, ok := <-ch
	assert.False(t, ok, "channel is closed after unsubscribe")
	assert.True(t, m.Set(false), "set after unsubscribe must not panic")
}

type fakePinger struct {
	fail atomic.Bool
}

func (f *fakePinger) Ping(context.Context) error {
	if f.fail.Load() {
		return errors.New("dial tcp: connection refused")
	}
	return nil
}

func TestProber_Probe(t *testing.T) {
	m := NewMonitor(false, nil)
	pinger := &fakePinger{}
	p := NewProber(m, pinger, time.Second, 0, logging.Nop())

	assert.True(t, p.Probe(context.Background()))
	assert.True(t, m.IsOnline())

	pinger.fail.Store(true)
	assert.False(t, p.Probe(context.Background()))
	assert.False(t, m.IsOnline())
}

func TestProber_RunStopsOnCancel(t *testing.T) {
	m := NewMonitor(false, nil)
	p := NewProber(m, &fakePinger{}, 10*time.Millisecond, 0, logging.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		p.Run(ctx)
		close(done)
	}()

	require.Eventually(t, m.IsOnline, time.Second, 5*time.Millisecond)
	cancel()
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Run did not return after cancel")
	}
}
