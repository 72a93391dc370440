// Package store is the repository adapter over the external session store.
// Every mutation that carries a validation closure runs it inside the
// store's per-session critical section, so checks made there hold at commit.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/DoyleJ11/trial-backend/internal/engine"
)

var ErrNotFound = errors.New("record not found")
var ErrConflict = errors.New("conflicting write")
var ErrCodeTaken = errors.New("join code already in use")
var ErrUnavailable = errors.New("store unavailable")

// ErrVerdictExists is returned by AppendEvaluation for a second verdict
// record in one session.
var ErrVerdictExists = fmt.Errorf("%w: verdict already recorded", ErrConflict)

// IsRetryable reports whether err is a transient store failure the caller
// may retry.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrUnavailable)
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %v", op, ErrUnavailable, err)
}

type Repository interface {
	// CreateSession inserts s with owner as its first participant.
	// ErrCodeTaken if another active session holds the join code.
	CreateSession(ctx context.Context, s Session, owner Participant) error
	Session(ctx context.Context, id string) (Session, error)
	ActiveSessionByCode(ctx context.Context, code string) (Session, error)
	IdleSessions(ctx context.Context, before time.Time) ([]Session, error)
	// UpdateSession locks the session row, hands mutate the current row and
	// its participants, and commits the result unless mutate errors.
	UpdateSession(ctx context.Context, id string, mutate func(s *Session, participants []Participant) error) (Session, error)

	// Participants are ordered by join order.
	Participants(ctx context.Context, sessionID string, connectedOnly bool) ([]Participant, error)
	// AddParticipant inserts the participant returned by admit, assigning
	// JoinOrder = participant count + 1. If admit returns an existing
	// participant ID the row is updated with its join order kept.
	AddParticipant(ctx context.Context, sessionID string, admit func(s Session, existing []Participant) (Participant, error)) (Participant, error)
	// UpdateParticipant locks the participant's session row, then hands
	// mutate that session and the current participant row.
	UpdateParticipant(ctx context.Context, id string, mutate func(s Session, p *Participant) error) (Participant, error)

	// AppendEvaluation keeps at most one verdict record per session; a
	// second one fails with ErrVerdictExists.
	AppendEvaluation(ctx context.Context, rec EvaluationRecord) error
	Evaluations(ctx context.Context, sessionID string) ([]EvaluationRecord, error)

	// Subscribe delivers changes for one session until unsubscribe is called.
	Subscribe(sessionID string, fn func(Change)) (unsubscribe func())
}

// SignalStore is the relay mailbox for peer connection setup.
type SignalStore interface {
	PutSignal(ctx context.Context, sig Signal) error
	// TakeSignals returns and consumes every pending signal addressed to
	// participant to, oldest first.
	TakeSignals(ctx context.Context, sessionID, to string) ([]Signal, error)
	PurgeSignals(ctx context.Context, before time.Time) (int, error)
}

// heldConflict reports whether p's role is already held by another
// connected participant.
func heldConflict(p Participant, existing []Participant) bool {
	if !p.Connected || p.Role == engine.RoleSpectator {
		return false
	}
	for _, e := range existing {
		if e.ID != p.ID && e.Connected && e.Role == p.Role {
			return true
		}
	}
	return false
}
