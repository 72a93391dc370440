package store

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/hub"
)

func newTestStore(t *testing.T) *MemoryStore {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	return NewMemoryStore(hub.NewHub[Change](ctx))
}

func seedSession(t *testing.T, m *MemoryStore, id, code string) {
	t.Helper()
	err := m.CreateSession(context.Background(),
		Session{ID: id, JoinCode: code, OwnerID: "owner", Phase: engine.PhaseLobby, Capacity: 3, Active: true},
		Participant{ID: id + "-owner", UserID: "owner", Role: engine.RoleAdvocateFor, Connected: true},
	)
	require.NoError(t, err)
}

func TestMemoryStore_CodeUniqueAmongActive(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	err := m.CreateSession(context.Background(),
		Session{ID: "S2", JoinCode: "ABC234", Active: true},
		Participant{ID: "p2", Connected: true, Role: engine.RoleAdvocateFor})
	require.ErrorIs(t, err, ErrCodeTaken)

	_, err = m.UpdateSession(context.Background(), "S1", func(s *Session, _ []Participant) error {
		s.Active = false
		return nil
	})
	require.NoError(t, err)

	err = m.CreateSession(context.Background(),
		Session{ID: "S2", JoinCode: "ABC234", Active: true},
		Participant{ID: "p2", Connected: true, Role: engine.RoleAdvocateFor})
	require.NoError(t, err)
}

func TestMemoryStore_AddParticipantAssignsJoinOrder(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	p, err := m.AddParticipant(context.Background(), "S1", func(s Session, existing []Participant) (Participant, error) {
		assert.Len(t, existing, 1)
		return Participant{ID: "p2", Role: engine.RoleAdvocateAgainst, Connected: true, JoinOrder: 99}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.JoinOrder)

	// rejoin keeps the original join order
	p, err = m.AddParticipant(context.Background(), "S1", func(Session, []Participant) (Participant, error) {
		return Participant{ID: "p2", Role: engine.RoleAdjudicator, Connected: true}, nil
	})
	require.NoError(t, err)
	assert.Equal(t, 2, p.JoinOrder)
	assert.Equal(t, engine.RoleAdjudicator, p.Role)
}

func TestMemoryStore_HeldRoleIsRejectedAtCommit(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	_, err := m.AddParticipant(context.Background(), "S1", func(Session, []Participant) (Participant, error) {
		return Participant{ID: "p2", Role: engine.RoleAdvocateFor, Connected: true}, nil
	})
	require.ErrorIs(t, err, ErrConflict)

	ps, err := m.Participants(context.Background(), "S1", false)
	require.NoError(t, err)
	assert.Len(t, ps, 1)
}

func TestMemoryStore_AdmitErrorCommitsNothing(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")
	boom := errors.New("full")

	_, err := m.AddParticipant(context.Background(), "S1", func(Session, []Participant) (Participant, error) {
		return Participant{}, boom
	})
	require.ErrorIs(t, err, boom)

	ps, _ := m.Participants(context.Background(), "S1", false)
	assert.Len(t, ps, 1)
}

func TestMemoryStore_ConcurrentJoinsGetDistinctOrders(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := m.AddParticipant(context.Background(), "S1", func(Session, []Participant) (Participant, error) {
				return Participant{ID: string(rune('a' + i)), Role: engine.RoleSpectator, Connected: true}, nil
			})
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	ps, err := m.Participants(context.Background(), "S1", false)
	require.NoError(t, err)
	require.Len(t, ps, 11)
	for i, p := range ps {
		assert.Equal(t, i+1, p.JoinOrder)
	}
}

func TestMemoryStore_ParticipantsConnectedOnly(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	_, err := m.UpdateParticipant(context.Background(), "S1-owner", func(_ Session, p *Participant) error {
		p.Connected = false
		p.JoinOrder = 7
		return nil
	})
	require.NoError(t, err)

	connected, _ := m.Participants(context.Background(), "S1", true)
	all, _ := m.Participants(context.Background(), "S1", false)
	assert.Empty(t, connected)
	require.Len(t, all, 1)
	assert.Equal(t, 1, all[0].JoinOrder)
}

func TestMemoryStore_PublishesChanges(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")

	got := make(chan Change, 4)
	unsub := m.Subscribe("S1", func(c Change) { got <- c })
	defer unsub()

	_, err := m.UpdateSession(context.Background(), "S1", func(s *Session, _ []Participant) error {
		s.Phase = engine.PhaseOpeningStatements
		return nil
	})
	require.NoError(t, err)

	select {
	case c := <-got:
		require.Equal(t, TableSessions, c.Table)
		require.NotNil(t, c.Session)
		assert.Equal(t, engine.PhaseOpeningStatements, c.Session.Phase)
	case <-time.After(200 * time.Millisecond):
		t.Fatalf("no change delivered")
	}
}

func TestMemoryStore_Signals(t *testing.T) {
	m := newTestStore(t)
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	require.NoError(t, m.PutSignal(ctx, Signal{ID: "1", SessionID: "S1", To: "b", CreatedAt: old}))
	require.NoError(t, m.PutSignal(ctx, Signal{ID: "2", SessionID: "S1", To: "b"}))
	require.NoError(t, m.PutSignal(ctx, Signal{ID: "3", SessionID: "S1", To: "c", CreatedAt: old}))

	n, err := m.PurgeSignals(ctx, time.Now().Add(-time.Minute))
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	got, err := m.TakeSignals(ctx, "S1", "b")
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "2", got[0].ID)

	got, _ = m.TakeSignals(ctx, "S1", "b")
	assert.Empty(t, got)
}

func TestDecodeChange(t *testing.T) {
	c, err := decodeChange(`{"table":"sessions","session_id":"S1","session":{"id":"S1","phase":"verdict"}}`)
	require.NoError(t, err)
	assert.Equal(t, engine.PhaseVerdict, c.Session.Phase)

	_, err = decodeChange(`{"table":"sessions"}`)
	assert.Error(t, err)
	_, err = decodeChange(`not json`)
	assert.Error(t, err)
}

func TestMemoryStore_OneVerdictPerSession(t *testing.T) {
	m := newTestStore(t)
	seedSession(t, m, "S1", "ABC234")
	seedSession(t, m, "S2", "DEF567")
	ctx := context.Background()

	require.NoError(t, m.AppendEvaluation(ctx, EvaluationRecord{ID: "v1", SessionID: "S1", Kind: EvalVerdict}))
	err := m.AppendEvaluation(ctx, EvaluationRecord{ID: "v2", SessionID: "S1", Kind: EvalVerdict})
	assert.ErrorIs(t, err, ErrVerdictExists)
	assert.ErrorIs(t, err, ErrConflict)

	require.NoError(t, m.AppendEvaluation(ctx, EvaluationRecord{ID: "w1", SessionID: "S1", Kind: EvalWitness}))
	require.NoError(t, m.AppendEvaluation(ctx, EvaluationRecord{ID: "v3", SessionID: "S2", Kind: EvalVerdict}))

	recs, err := m.Evaluations(ctx, "S1")
	require.NoError(t, err)
	assert.Len(t, recs, 2)
}

func TestClassify(t *testing.T) {
	assert.ErrorIs(t, classify("x", ErrCodeTaken), ErrCodeTaken)
	assert.ErrorIs(t, classify("x", ErrVerdictExists), ErrVerdictExists)
	assert.True(t, IsRetryable(classify("x", errors.New("connection refused"))))
	assert.NoError(t, classify("x", nil))
}
