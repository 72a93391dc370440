package janitor

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/trial-backend/internal/hub"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

type fakeAbandoner struct {
	calls   atomic.Int32
	idleFor atomic.Int64
}

func (f *fakeAbandoner) AbandonIdleSessions(_ context.Context, idleFor time.Duration) (int, error) {
	f.calls.Add(1)
	f.idleFor.Store(int64(idleFor))
	return 1, nil
}

func newStore(t *testing.T) *store.MemoryStore {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return store.NewMemoryStore(hub.NewHub[store.Change](ctx))
}

func TestPurgeSignals_DropsOnlyExpired(t *testing.T) {
	ctx := context.Background()
	signals := newStore(t)
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	old := store.Signal{ID: "1", SessionID: "S", From: "a", To: "b", Kind: store.SignalOffer, CreatedAt: now.Add(-time.Hour)}
	fresh := store.Signal{ID: "2", SessionID: "S", From: "a", To: "b", Kind: store.SignalCandidate, CreatedAt: now.Add(-time.Minute)}
	require.NoError(t, signals.PutSignal(ctx, old))
	require.NoError(t, signals.PutSignal(ctx, fresh))

	j := New(Config{SignalTTL: 10 * time.Minute}, signals, nil, nil)
	j.now = func() time.Time { return now }
	j.purgeSignals()

	left, err := signals.TakeSignals(ctx, "S", "b")
	require.NoError(t, err)
	require.Len(t, left, 1)
	assert.Equal(t, "2", left[0].ID)
}

func TestAbandonIdle_UsesTimeout(t *testing.T) {
	f := &fakeAbandoner{}
	j := New(Config{IdleTimeout: 90 * time.Minute}, nil, f, nil)
	j.abandonIdle()
	assert.Equal(t, int32(1), f.calls.Load())
	assert.Equal(t, int64(90*time.Minute), f.idleFor.Load())

	disabled := New(Config{}, nil, f, nil)
	disabled.abandonIdle()
	assert.Equal(t, int32(1), f.calls.Load())
}

func TestStart_RunsOnSchedule(t *testing.T) {
	f := &fakeAbandoner{}
	j := New(Config{Spec: "@every 1s", IdleTimeout: time.Hour, SignalTTL: time.Minute}, newStore(t), f, nil)
	require.NoError(t, j.Start())
	defer j.Stop(context.Background())

	require.Eventually(t, func() bool { return f.calls.Load() > 0 }, 3*time.Second, 50*time.Millisecond)
}

func TestStart_BadSpec(t *testing.T) {
	j := New(Config{Spec: "every tuesday"}, nil, nil, nil)
	assert.Error(t, j.Start())
}
