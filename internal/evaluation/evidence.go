package evaluation

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

type EvidenceInput struct {
	SessionID   string
	Presenter   engine.Role
	Title       string
	Description string
	Case        CaseContext
}

// EvaluateEvidence scores an exhibit by how many case keywords it touches.
func (e *Evaluator) EvaluateEvidence(in EvidenceInput) (store.EvaluationRecord, error) {
	if strings.TrimSpace(in.Title) == "" {
		return store.EvaluationRecord{}, fmt.Errorf("%w: exhibit needs a title", ErrEvaluationFailed)
	}
	if !in.Presenter.IsAdvocate() {
		return store.EvaluationRecord{}, fmt.Errorf("%w: presenter must be an advocate, got %q", ErrEvaluationFailed, in.Presenter)
	}

	text := strings.ToLower(in.Title + " " + in.Description)
	var hits []string
	for _, kw := range in.Case.Keywords {
		if strings.Contains(text, strings.ToLower(kw)) {
			hits = append(hits, kw)
		}
	}

	p := e.params
	scored := min(len(hits), p.ExhibitMaxScored)
	score := p.ExhibitBase + p.ExhibitKeyword*scored

	confidence := ConfidenceModerate
	if scored == p.ExhibitMaxScored {
		confidence = ConfidenceHigh
	}

	reasoning := fmt.Sprintf("exhibit %q: no link to the case facts", in.Title)
	if len(hits) > 0 {
		reasoning = fmt.Sprintf("exhibit %q bears on %s", in.Title, strings.Join(hits, ", "))
	}

	return store.EvaluationRecord{
		ID:         e.newID(),
		SessionID:  in.SessionID,
		Kind:       store.EvalEvidence,
		Phase:      engine.PhaseEvidencePresentation,
		Scores:     map[engine.Role]int{in.Presenter: score},
		Reasoning:  reasoning,
		Confidence: confidence,
		CreatedAt:  e.now(),
	}, nil
}
