// Package types holds the wire shapes shared by the HTTP and websocket
// surfaces, and the mapping from domain errors to what clients see.
package types

import (
	"errors"
	"net/http"

	"github.com/DoyleJ11/trial-backend/internal/client"
	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/peer"
	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
)

// ClientMessage is what a websocket client sends.
type ClientMessage struct {
	Type      string       `json:"type"` // "Join" | "Attach" | "Advance"
	Code      string       `json:"code,omitempty"`
	SessionID string       `json:"session_id,omitempty"`
	Role      *engine.Role `json:"role,omitempty"`
}

type ServerMessage struct {
	Type     string           `json:"type"` // "StateSnapshot" | "Error"
	Version  int              `json:"version,omitempty"`
	Snapshot *client.Snapshot `json:"snapshot,omitempty"`
	Error    *Problem         `json:"error,omitempty"`
}

type CreateSessionRequest struct {
	PreferredRole *engine.Role   `json:"preferred_role,omitempty"`
	Settings      store.Settings `json:"settings"`
}

type JoinSessionRequest struct {
	Code          string       `json:"code"`
	PreferredRole *engine.Role `json:"preferred_role,omitempty"`
}

type SessionResponse struct {
	Session     store.Session     `json:"session"`
	Participant store.Participant `json:"participant"`
}

type PhaseResponse struct {
	Phase engine.Phase `json:"phase"`
}

type ArgumentRequest struct {
	Text string `json:"text"`
}

type EvidenceRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

type WitnessRequest struct {
	Witness  string `json:"witness"`
	Question string `json:"question"`
}

type SignalRequest struct {
	From    string           `json:"from"`
	To      string           `json:"to"`
	Kind    store.SignalKind `json:"kind"`
	Payload []byte           `json:"payload"`
}

// Problem is the error body. Message is meant to be shown to the user.
type Problem struct {
	Code      string `json:"code"`
	Message   string `json:"message"`
	Retryable bool   `json:"retryable,omitempty"`
}

// ProblemFor maps err to an HTTP status and a user-facing problem.
func ProblemFor(err error) (int, Problem) {
	switch {
	case errors.Is(err, trial.ErrSessionNotFound), errors.Is(err, store.ErrNotFound):
		return http.StatusNotFound, Problem{Code: "session_not_found", Message: "no active session matches that code"}
	case errors.Is(err, trial.ErrSessionFull):
		return http.StatusConflict, Problem{Code: "room_full", Message: "room full"}
	case errors.Is(err, trial.ErrCodeExhausted):
		return http.StatusServiceUnavailable, Problem{Code: "code_exhausted", Message: "could not allocate a join code, try again", Retryable: true}
	case errors.Is(err, trial.ErrNotAuthorized):
		return http.StatusForbidden, Problem{Code: "not_authorized", Message: "only the adjudicator may do that"}
	case errors.Is(err, trial.ErrNotParticipant):
		return http.StatusForbidden, Problem{Code: "not_participant", Message: "join the session first"}
	case errors.Is(err, trial.ErrInvalidTransition):
		return http.StatusConflict, Problem{Code: "invalid_transition", Message: "the trial has already moved on"}
	case errors.Is(err, trial.ErrActionNotAllowed):
		return http.StatusConflict, Problem{Code: "action_not_allowed", Message: err.Error()}
	case errors.Is(err, trial.ErrInvalidInput), errors.Is(err, engine.ErrUnknownRole), errors.Is(err, engine.ErrUnknownPhase):
		return http.StatusBadRequest, Problem{Code: "invalid_input", Message: err.Error()}
	case errors.Is(err, trial.ErrEvaluationFailed):
		return http.StatusUnprocessableEntity, Problem{Code: "evaluation_failed", Message: err.Error()}
	case errors.Is(err, peer.ErrConnectionFailed):
		return http.StatusBadGateway, Problem{Code: "connection_failed", Message: "audio could not connect; the trial continues without it"}
	case errors.Is(err, client.ErrNotAttached):
		return http.StatusConflict, Problem{Code: "not_attached", Message: "join or attach to a session first"}
	case errors.Is(err, store.ErrConflict):
		return http.StatusConflict, Problem{Code: "conflict", Message: "someone else changed the session first, try again", Retryable: true}
	case store.IsRetryable(err):
		return http.StatusServiceUnavailable, Problem{Code: "unavailable", Message: "the session store is unavailable, try again", Retryable: true}
	default:
		return http.StatusInternalServerError, Problem{Code: "internal", Message: "internal error"}
	}
}
