package trial

import (
	"errors"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/evaluation"
)

var ErrSessionNotFound = errors.New("session not found")
var ErrSessionFull = errors.New("room full")
var ErrCodeExhausted = errors.New("could not allocate a unique join code")
var ErrNotParticipant = errors.New("not a connected participant of this session")
var ErrInvalidInput = errors.New("invalid input")

// Re-exported so callers of the orchestrator need only this package.
var (
	ErrNotAuthorized     = engine.ErrNotAuthorized
	ErrInvalidTransition = engine.ErrInvalidTransition
	ErrActionNotAllowed  = engine.ErrActionNotAllowed
	ErrEvaluationFailed  = evaluation.ErrEvaluationFailed
)
