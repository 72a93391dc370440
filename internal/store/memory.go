package store

import (
	"cmp"
	"context"
	"slices"
	"sync"
	"time"

	"github.com/DoyleJ11/trial-backend/internal/hub"
)

// MemoryStore is an in-process Repository and SignalStore. A single mutex
// stands in for the per-row atomicity of a real store.
type MemoryStore struct {
	mu           sync.Mutex
	sessions     map[string]Session
	participants map[string]Participant
	members      map[string][]string // session ID -> participant IDs in join order
	evaluations  map[string][]EvaluationRecord
	signals      map[string][]Signal // session ID + "/" + recipient
	hub          *hub.Hub[Change]
	now          func() time.Time
}

func NewMemoryStore(h *hub.Hub[Change]) *MemoryStore {
	return &MemoryStore{
		sessions:     make(map[string]Session),
		participants: make(map[string]Participant),
		members:      make(map[string][]string),
		evaluations:  make(map[string][]EvaluationRecord),
		signals:      make(map[string][]Signal),
		hub:          h,
		now:          func() time.Time { return time.Now().UTC() },
	}
}

func (m *MemoryStore) publish(changes ...Change) {
	for _, c := range changes {
		m.hub.Publish(c.SessionID, c)
	}
}

func (m *MemoryStore) CreateSession(ctx context.Context, s Session, owner Participant) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	for _, existing := range m.sessions {
		if existing.Active && existing.JoinCode == s.JoinCode {
			m.mu.Unlock()
			return ErrCodeTaken
		}
	}
	if _, ok := m.sessions[s.ID]; ok {
		m.mu.Unlock()
		return ErrConflict
	}

	now := m.now()
	s.CreatedAt, s.UpdatedAt = now, now
	owner.SessionID = s.ID
	owner.JoinOrder = 1
	owner.CreatedAt, owner.UpdatedAt = now, now
	m.sessions[s.ID] = s
	m.participants[owner.ID] = owner
	m.members[s.ID] = []string{owner.ID}
	m.mu.Unlock()

	m.publish(
		Change{Table: TableSessions, SessionID: s.ID, Session: &s},
		Change{Table: TableParticipants, SessionID: s.ID, RowID: owner.ID},
	)
	return nil
}

func (m *MemoryStore) Session(ctx context.Context, id string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[id]
	if !ok {
		return Session{}, ErrNotFound
	}
	return s, nil
}

func (m *MemoryStore) ActiveSessionByCode(ctx context.Context, code string) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, s := range m.sessions {
		if s.Active && s.JoinCode == code {
			return s, nil
		}
	}
	return Session{}, ErrNotFound
}

func (m *MemoryStore) IdleSessions(ctx context.Context, before time.Time) ([]Session, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []Session
	for _, s := range m.sessions {
		if s.Active && s.UpdatedAt.Before(before) {
			out = append(out, s)
		}
	}
	slices.SortFunc(out, func(a, b Session) int { return a.UpdatedAt.Compare(b.UpdatedAt) })
	return out, nil
}

func (m *MemoryStore) UpdateSession(ctx context.Context, id string, mutate func(*Session, []Participant) error) (Session, error) {
	if err := ctx.Err(); err != nil {
		return Session{}, err
	}

	m.mu.Lock()
	cur, ok := m.sessions[id]
	if !ok {
		m.mu.Unlock()
		return Session{}, ErrNotFound
	}
	next := cur
	if err := mutate(&next, m.membersLocked(id, false)); err != nil {
		m.mu.Unlock()
		return Session{}, err
	}
	next.ID, next.JoinCode, next.CreatedAt = cur.ID, cur.JoinCode, cur.CreatedAt
	next.UpdatedAt = m.now()
	m.sessions[id] = next
	m.mu.Unlock()

	m.publish(Change{Table: TableSessions, SessionID: id, Session: &next})
	return next, nil
}

func (m *MemoryStore) Participants(ctx context.Context, sessionID string, connectedOnly bool) ([]Participant, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.sessions[sessionID]; !ok {
		return nil, ErrNotFound
	}
	return m.membersLocked(sessionID, connectedOnly), nil
}

func (m *MemoryStore) membersLocked(sessionID string, connectedOnly bool) []Participant {
	ids := m.members[sessionID]
	out := make([]Participant, 0, len(ids))
	for _, id := range ids {
		p := m.participants[id]
		if connectedOnly && !p.Connected {
			continue
		}
		out = append(out, p)
	}
	slices.SortFunc(out, func(a, b Participant) int { return cmp.Compare(a.JoinOrder, b.JoinOrder) })
	return out
}

func (m *MemoryStore) AddParticipant(ctx context.Context, sessionID string, admit func(Session, []Participant) (Participant, error)) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}

	m.mu.Lock()
	s, ok := m.sessions[sessionID]
	if !ok {
		m.mu.Unlock()
		return Participant{}, ErrNotFound
	}
	existing := m.membersLocked(sessionID, false)
	p, err := admit(s, existing)
	if err != nil {
		m.mu.Unlock()
		return Participant{}, err
	}
	if heldConflict(p, existing) {
		m.mu.Unlock()
		return Participant{}, ErrConflict
	}

	now := m.now()
	p.SessionID = sessionID
	p.UpdatedAt = now
	if prev, ok := m.participants[p.ID]; ok {
		if prev.SessionID != sessionID {
			m.mu.Unlock()
			return Participant{}, ErrConflict
		}
		p.JoinOrder, p.CreatedAt = prev.JoinOrder, prev.CreatedAt
	} else {
		p.JoinOrder = len(existing) + 1
		p.CreatedAt = now
		m.members[sessionID] = append(m.members[sessionID], p.ID)
	}
	m.participants[p.ID] = p
	m.mu.Unlock()

	m.publish(Change{Table: TableParticipants, SessionID: sessionID, RowID: p.ID})
	return p, nil
}

func (m *MemoryStore) UpdateParticipant(ctx context.Context, id string, mutate func(Session, *Participant) error) (Participant, error) {
	if err := ctx.Err(); err != nil {
		return Participant{}, err
	}

	m.mu.Lock()
	cur, ok := m.participants[id]
	if !ok {
		m.mu.Unlock()
		return Participant{}, ErrNotFound
	}
	next := cur
	if err := mutate(m.sessions[cur.SessionID], &next); err != nil {
		m.mu.Unlock()
		return Participant{}, err
	}
	next.ID, next.SessionID, next.JoinOrder, next.CreatedAt = cur.ID, cur.SessionID, cur.JoinOrder, cur.CreatedAt
	if heldConflict(next, m.membersLocked(cur.SessionID, false)) {
		m.mu.Unlock()
		return Participant{}, ErrConflict
	}
	next.UpdatedAt = m.now()
	m.participants[id] = next
	m.mu.Unlock()

	m.publish(Change{Table: TableParticipants, SessionID: next.SessionID, RowID: id})
	return next, nil
}

func (m *MemoryStore) AppendEvaluation(ctx context.Context, rec EvaluationRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	if _, ok := m.sessions[rec.SessionID]; !ok {
		m.mu.Unlock()
		return ErrNotFound
	}
	if rec.Kind == EvalVerdict {
		for _, e := range m.evaluations[rec.SessionID] {
			if e.Kind == EvalVerdict {
				m.mu.Unlock()
				return ErrVerdictExists
			}
		}
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = m.now()
	}
	m.evaluations[rec.SessionID] = append(m.evaluations[rec.SessionID], rec)
	m.mu.Unlock()

	m.publish(Change{Table: TableEvaluations, SessionID: rec.SessionID, RowID: rec.ID})
	return nil
}

func (m *MemoryStore) Evaluations(ctx context.Context, sessionID string) ([]EvaluationRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return slices.Clone(m.evaluations[sessionID]), nil
}

func (m *MemoryStore) Subscribe(sessionID string, fn func(Change)) func() {
	return m.hub.Subscribe(sessionID, fn)
}

func mailbox(sessionID, to string) string { return sessionID + "/" + to }

func (m *MemoryStore) PutSignal(ctx context.Context, sig Signal) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if sig.CreatedAt.IsZero() {
		sig.CreatedAt = m.now()
	}
	key := mailbox(sig.SessionID, sig.To)
	m.signals[key] = append(m.signals[key], sig)
	return nil
}

func (m *MemoryStore) TakeSignals(ctx context.Context, sessionID, to string) ([]Signal, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	key := mailbox(sessionID, to)
	out := m.signals[key]
	delete(m.signals, key)
	return out, nil
}

func (m *MemoryStore) PurgeSignals(ctx context.Context, before time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	purged := 0
	for key, sigs := range m.signals {
		kept := sigs[:0]
		for _, sig := range sigs {
			if sig.CreatedAt.Before(before) {
				purged++
				continue
			}
			kept = append(kept, sig)
		}
		if len(kept) == 0 {
			delete(m.signals, key)
		} else {
			m.signals[key] = kept
		}
	}
	return purged, nil
}
