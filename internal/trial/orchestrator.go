// Package trial is the session orchestrator: the authority for creating,
// joining and advancing sessions. It never notifies clients; propagation is
// the store's change feed.
package trial

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/cases"
	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/evaluation"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

type Config struct {
	CodeLength      int
	CodeRetries     int
	DefaultCapacity int
}

func DefaultConfig() Config {
	return Config{CodeLength: 6, CodeRetries: 8, DefaultCapacity: len(engine.RoleOrder)}
}

type Orchestrator struct {
	repo    store.Repository
	eval    *evaluation.Evaluator
	book    *cases.Book
	log     *zap.Logger
	cfg     Config
	genCode func() (string, error)
	newID   func() string
}

type Option func(*Orchestrator)

// WithCodeGenerator replaces the random join code source.
func WithCodeGenerator(gen func() (string, error)) Option {
	return func(o *Orchestrator) { o.genCode = gen }
}

func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) { o.newID = gen }
}

func New(repo store.Repository, eval *evaluation.Evaluator, book *cases.Book, log *zap.Logger, cfg Config, opts ...Option) *Orchestrator {
	if log == nil {
		log = zap.NewNop()
	}
	def := DefaultConfig()
	if cfg.CodeLength <= 0 {
		cfg.CodeLength = def.CodeLength
	}
	if cfg.CodeRetries <= 0 {
		cfg.CodeRetries = def.CodeRetries
	}
	if cfg.DefaultCapacity <= 0 {
		cfg.DefaultCapacity = def.DefaultCapacity
	}

	o := &Orchestrator{
		repo:  repo,
		eval:  eval,
		book:  book,
		log:   log,
		cfg:   cfg,
		newID: uuid.NewString,
	}
	o.genCode = func() (string, error) { return GenerateCode(o.cfg.CodeLength) }
	for _, opt := range opts {
		opt(o)
	}
	return o
}

func notFound(err error) error {
	if errors.Is(err, store.ErrNotFound) {
		return ErrSessionNotFound
	}
	return err
}

// find returns the connected participant identified by id, which may be
// either the participant ID or the user ID it joined with.
func find(ps []store.Participant, id string) (store.Participant, bool) {
	if id == "" {
		return store.Participant{}, false
	}
	for _, p := range ps {
		if p.Connected && (p.ID == id || p.UserID == id) {
			return p, true
		}
	}
	return store.Participant{}, false
}

func heldRoles(ps []store.Participant, except string) []engine.Role {
	var held []engine.Role
	for _, p := range ps {
		if p.Connected && p.ID != except && p.Role != engine.RoleSpectator {
			held = append(held, p.Role)
		}
	}
	return held
}

func (o *Orchestrator) CreateSession(ctx context.Context, ownerID string, preferred *engine.Role, settings store.Settings) (store.Session, store.Participant, error) {
	if strings.TrimSpace(ownerID) == "" {
		return store.Session{}, store.Participant{}, fmt.Errorf("%w: owner id required", ErrInvalidInput)
	}
	if preferred != nil && !preferred.Valid() {
		return store.Session{}, store.Participant{}, fmt.Errorf("%w: %q", engine.ErrUnknownRole, *preferred)
	}

	capacity := settings.MaxPlayers
	switch {
	case capacity < 0:
		return store.Session{}, store.Participant{}, fmt.Errorf("%w: max players %d", ErrInvalidInput, capacity)
	case capacity == 0:
		capacity = o.cfg.DefaultCapacity
	}
	capacity = min(capacity, len(engine.RoleOrder))

	c, err := o.book.Case(settings.CaseID)
	if err != nil {
		return store.Session{}, store.Participant{}, fmt.Errorf("%w: %v", ErrInvalidInput, err)
	}
	settings.CaseID = c.ID
	settings.MaxPlayers = capacity

	owner := store.Participant{
		ID:        o.newID(),
		UserID:    ownerID,
		Role:      engine.ResolveRoleWithin(nil, preferred, capacity),
		Connected: true,
	}

	for attempt := 1; attempt <= o.cfg.CodeRetries; attempt++ {
		code, err := o.genCode()
		if err != nil {
			return store.Session{}, store.Participant{}, fmt.Errorf("generate code: %w", err)
		}

		s := store.Session{
			ID:       o.newID(),
			JoinCode: code,
			OwnerID:  ownerID,
			CaseID:   c.ID,
			CaseType: string(c.Type),
			Phase:    engine.PhaseLobby,
			Capacity: capacity,
			Active:   true,
			Settings: settings,
		}
		err = o.repo.CreateSession(ctx, s, owner)
		if errors.Is(err, store.ErrCodeTaken) {
			o.log.Debug("join code collision, regenerating", zap.String("code", code), zap.Int("attempt", attempt))
			continue
		}
		if err != nil {
			return store.Session{}, store.Participant{}, err
		}

		owner.SessionID = s.ID
		owner.JoinOrder = 1
		o.log.Info("session created",
			zap.String("session_id", s.ID),
			zap.String("code", code),
			zap.String("case_id", c.ID),
			zap.String("owner_role", string(owner.Role)))
		return s, owner, nil
	}
	return store.Session{}, store.Participant{}, ErrCodeExhausted
}

// JoinSession admits joinerID into the active session with the given code.
// A user already known to the session reconnects to its row and keeps its
// role while nobody else holds it. An empty joinerID joins as an anonymous
// spectator.
func (o *Orchestrator) JoinSession(ctx context.Context, code, joinerID string, preferred *engine.Role) (store.Session, store.Participant, error) {
	code = NormalizeCode(code)
	if code == "" {
		return store.Session{}, store.Participant{}, ErrSessionNotFound
	}
	if preferred != nil && !preferred.Valid() {
		return store.Session{}, store.Participant{}, fmt.Errorf("%w: %q", engine.ErrUnknownRole, *preferred)
	}

	s, err := o.repo.ActiveSessionByCode(ctx, code)
	if err != nil {
		return store.Session{}, store.Participant{}, notFound(err)
	}

	p, err := o.repo.AddParticipant(ctx, s.ID, func(cur store.Session, existing []store.Participant) (store.Participant, error) {
		if !cur.Active {
			return store.Participant{}, ErrSessionNotFound
		}
		s = cur
		return o.admit(cur, existing, joinerID, preferred)
	})
	if err != nil {
		return store.Session{}, store.Participant{}, notFound(err)
	}

	o.log.Info("participant joined",
		zap.String("session_id", s.ID),
		zap.String("participant_id", p.ID),
		zap.String("role", string(p.Role)),
		zap.Int("join_order", p.JoinOrder))
	return s, p, nil
}

func (o *Orchestrator) admit(s store.Session, existing []store.Participant, joinerID string, preferred *engine.Role) (store.Participant, error) {
	p := store.Participant{ID: o.newID(), UserID: joinerID, Connected: true}

	var prev *store.Participant
	if joinerID != "" {
		for i := range existing {
			if existing[i].UserID == joinerID {
				prev = &existing[i]
				break
			}
		}
	}
	if prev != nil {
		p = *prev
		p.Connected = true
	}

	held := heldRoles(existing, p.ID)
	switch {
	case joinerID == "":
		p.Role = engine.RoleSpectator
	case prev != nil && (prev.Role == engine.RoleSpectator || !roleIn(held, prev.Role)):
		// reconnect keeps the old role
	default:
		p.Role = engine.ResolveRoleWithin(held, preferred, s.Capacity)
		if p.Role == engine.RoleSpectator && s.Settings.SpectatorsDisabled && preferred != nil {
			p.Role = engine.ResolveRoleWithin(held, nil, s.Capacity)
		}
	}

	if p.Role == engine.RoleSpectator && s.Settings.SpectatorsDisabled {
		return store.Participant{}, ErrSessionFull
	}
	return p, nil
}

func roleIn(roles []engine.Role, r engine.Role) bool {
	for _, x := range roles {
		if x == r {
			return true
		}
	}
	return false
}

// AdvancePhase moves the session one phase forward on behalf of the
// adjudicator. The transition is a compare-and-swap against the phase read
// here: of two racing requests at most one succeeds.
func (o *Orchestrator) AdvancePhase(ctx context.Context, sessionID, requesterID string) (engine.Phase, error) {
	s, err := o.repo.Session(ctx, sessionID)
	if err != nil {
		return "", notFound(err)
	}
	ps, err := o.repo.Participants(ctx, sessionID, true)
	if err != nil {
		return "", notFound(err)
	}

	requester, _ := find(ps, requesterID)
	tr, err := engine.Advance(s.Phase, requester.Role)
	if err != nil {
		return s.Phase, err
	}

	if tr.Has(engine.EffectRequireVerdict) {
		if err := o.ensureVerdict(ctx, s); err != nil {
			return s.Phase, err
		}
	}

	updated, err := o.repo.UpdateSession(ctx, sessionID, func(cur *store.Session, ps []store.Participant) error {
		if cur.Phase != s.Phase {
			return fmt.Errorf("%w: phase already moved to %s", ErrInvalidTransition, cur.Phase)
		}
		requester, _ := find(ps, requesterID)
		tr, err := engine.Advance(cur.Phase, requester.Role)
		if err != nil {
			return err
		}
		cur.Phase = tr.To
		if tr.Has(engine.EffectDeactivate) {
			cur.Active = false
		}
		return nil
	})
	if err != nil {
		return s.Phase, notFound(err)
	}

	o.log.Info("phase advanced",
		zap.String("session_id", sessionID),
		zap.String("from", string(tr.From)),
		zap.String("to", string(updated.Phase)))

	if tr.Has(engine.EffectEvaluateVerdict) {
		// On failure the session stays parked in deliberation; the next
		// advance retries through EffectRequireVerdict.
		if err := o.ensureVerdict(ctx, updated); err != nil {
			o.log.Warn("verdict evaluation failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}
	return updated.Phase, nil
}

// AbandonSession ends the session from any phase. Only the owner or the
// adjudicator may abandon.
func (o *Orchestrator) AbandonSession(ctx context.Context, sessionID, requesterID string) error {
	_, err := o.repo.UpdateSession(ctx, sessionID, func(cur *store.Session, ps []store.Participant) error {
		requester, ok := find(ps, requesterID)
		isOwner := requesterID != "" && cur.OwnerID == requesterID
		if !isOwner && (!ok || requester.Role != engine.RoleAdjudicator) {
			return ErrNotAuthorized
		}
		return abandon(cur)
	})
	if err != nil {
		return notFound(err)
	}
	o.log.Info("session abandoned", zap.String("session_id", sessionID), zap.String("by", requesterID))
	return nil
}

func abandon(cur *store.Session) error {
	tr, err := engine.Abandon(cur.Phase)
	if err != nil {
		return err
	}
	cur.Phase = tr.To
	cur.Active = false
	return nil
}

// AbandonIdleSessions ends every active session untouched for idleFor.
func (o *Orchestrator) AbandonIdleSessions(ctx context.Context, idleFor time.Duration) (int, error) {
	idle, err := o.repo.IdleSessions(ctx, time.Now().UTC().Add(-idleFor))
	if err != nil {
		return 0, err
	}

	n := 0
	for _, s := range idle {
		_, err := o.repo.UpdateSession(ctx, s.ID, func(cur *store.Session, _ []store.Participant) error {
			if !cur.Active {
				return ErrInvalidTransition
			}
			return abandon(cur)
		})
		if errors.Is(err, ErrInvalidTransition) {
			continue
		}
		if err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// LeaveSession flags the participant as disconnected. The row, its role
// history and its score stay.
func (o *Orchestrator) LeaveSession(ctx context.Context, sessionID, requesterID string) error {
	ps, err := o.repo.Participants(ctx, sessionID, true)
	if err != nil {
		return notFound(err)
	}
	p, ok := find(ps, requesterID)
	if !ok {
		return ErrNotParticipant
	}
	_, err = o.repo.UpdateParticipant(ctx, p.ID, func(_ store.Session, p *store.Participant) error {
		p.Connected = false
		return nil
	})
	if err != nil {
		return err
	}
	o.log.Info("participant left", zap.String("session_id", sessionID), zap.String("participant_id", p.ID))
	return nil
}

func (o *Orchestrator) Session(ctx context.Context, sessionID string) (store.Session, error) {
	s, err := o.repo.Session(ctx, sessionID)
	return s, notFound(err)
}

func (o *Orchestrator) Participants(ctx context.Context, sessionID string, connectedOnly bool) ([]store.Participant, error) {
	ps, err := o.repo.Participants(ctx, sessionID, connectedOnly)
	return ps, notFound(err)
}

func (o *Orchestrator) Evaluations(ctx context.Context, sessionID string) ([]store.EvaluationRecord, error) {
	recs, err := o.repo.Evaluations(ctx, sessionID)
	return recs, notFound(err)
}
