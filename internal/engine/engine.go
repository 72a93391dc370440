package engine

import (
	"errors"
	"fmt"
)

var ErrNotAuthorized = errors.New("only the adjudicator may advance the trial")
var ErrInvalidTransition = errors.New("invalid phase transition")
var ErrActionNotAllowed = errors.New("action not allowed in this phase")
var ErrUnknownPhase = errors.New("unknown phase")
var ErrUnknownRole = errors.New("unknown role")

type Role string

const (
	RoleAdvocateFor     Role = "advocate-for"
	RoleAdvocateAgainst Role = "advocate-against"
	RoleAdjudicator     Role = "adjudicator"
	RoleSpectator       Role = "spectator"
)

func (r Role) Valid() bool {
	switch r {
	case RoleAdvocateFor, RoleAdvocateAgainst, RoleAdjudicator, RoleSpectator:
		return true
	}
	return false
}

// IsAdvocate reports whether r argues one side of the case.
func (r Role) IsAdvocate() bool {
	return r == RoleAdvocateFor || r == RoleAdvocateAgainst
}

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if !r.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownRole, s)
	}
	return r, nil
}

type Phase string

const (
	PhaseLobby                Phase = "lobby"
	PhaseOpeningStatements    Phase = "opening_statements"
	PhaseEvidencePresentation Phase = "evidence_presentation"
	PhaseWitnessExamination   Phase = "witness_examination"
	PhaseClosingArguments     Phase = "closing_arguments"
	PhaseDeliberation         Phase = "deliberation"
	PhaseVerdict              Phase = "verdict"
	PhaseCompleted            Phase = "completed"
)

func (p Phase) Valid() bool {
	return PhaseIndex(p) >= 0
}

func ParsePhase(s string) (Phase, error) {
	p := Phase(s)
	if !p.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownPhase, s)
	}
	return p, nil
}

type Action string

const (
	ActionArgument Action = "argument"
	ActionEvidence Action = "evidence"
	ActionQuestion Action = "question"
)

type Effect string

const (
	// EffectEvaluateVerdict fires on entering deliberation; the verdict record
	// must exist before the session may leave it.
	EffectEvaluateVerdict Effect = "EvaluateVerdict"
	EffectRequireVerdict  Effect = "RequireVerdict"
	EffectDeactivate      Effect = "Deactivate"
)

type Transition struct {
	From    Phase
	To      Phase
	Effects []Effect
}

func (t Transition) Has(e Effect) bool {
	for _, eff := range t.Effects {
		if eff == e {
			return true
		}
	}
	return false
}

// Advance validates an advance request from a participant holding role and
// returns the transition to apply. Nothing is mutated.
func Advance(current Phase, role Role) (Transition, error) {
	if !current.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownPhase, current)
	}
	if role != RoleAdjudicator {
		return Transition{}, ErrNotAuthorized
	}
	if current == PhaseCompleted {
		return Transition{}, fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	}

	next := Next(current)
	return Transition{From: current, To: next, Effects: effectsFor(current, next)}, nil
}

// Abandon moves any phase straight to completed.
func Abandon(current Phase) (Transition, error) {
	if !current.Valid() {
		return Transition{}, fmt.Errorf("%w: %q", ErrUnknownPhase, current)
	}
	if current == PhaseCompleted {
		return Transition{}, fmt.Errorf("%w: session already completed", ErrInvalidTransition)
	}
	return Transition{From: current, To: PhaseCompleted, Effects: []Effect{EffectDeactivate}}, nil
}

func effectsFor(from, to Phase) []Effect {
	var effects []Effect
	if from == PhaseDeliberation {
		effects = append(effects, EffectRequireVerdict)
	}
	switch to {
	case PhaseDeliberation:
		effects = append(effects, EffectEvaluateVerdict)
	case PhaseCompleted:
		effects = append(effects, EffectDeactivate)
	case PhaseLobby, PhaseOpeningStatements, PhaseEvidencePresentation,
		PhaseWitnessExamination, PhaseClosingArguments, PhaseVerdict:
	}
	return effects
}

// Allowed gates in-phase actions by role.
func Allowed(phase Phase, role Role, action Action) error {
	if !role.IsAdvocate() {
		return fmt.Errorf("%w: %s cannot submit %s", ErrActionNotAllowed, role, action)
	}

	var ok bool
	switch phase {
	case PhaseOpeningStatements, PhaseClosingArguments:
		ok = action == ActionArgument
	case PhaseEvidencePresentation:
		ok = action == ActionEvidence
	case PhaseWitnessExamination:
		ok = action == ActionQuestion
	case PhaseLobby, PhaseDeliberation, PhaseVerdict, PhaseCompleted:
		ok = false
	default:
		return fmt.Errorf("%w: %q", ErrUnknownPhase, phase)
	}
	if !ok {
		return fmt.Errorf("%w: %s during %s", ErrActionNotAllowed, action, phase)
	}
	return nil
}
