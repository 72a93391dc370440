package evaluation

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

const (
	OutcomeGuilty    = "GUILTY"
	OutcomeNotGuilty = "NOT GUILTY"
	OutcomeLiable    = "LIABLE"
	OutcomeNotLiable = "NOT LIABLE"
)

const (
	ConfidenceHigh     = "high"
	ConfidenceModerate = "moderate"
)

// Vocabulary returns the outcome labels for a case type: the finding for the
// advocate-for side first.
func Vocabulary(t CaseType) (forSide, againstSide string, ok bool) {
	switch t {
	case CaseCriminal:
		return OutcomeGuilty, OutcomeNotGuilty, true
	case CaseCivil:
		return OutcomeLiable, OutcomeNotLiable, true
	}
	return "", "", false
}

type VerdictInput struct {
	SessionID string
	CaseType  CaseType

	ProsecutionArgs int
	DefenseArgs     int
	// EvidenceCount is the exhibits entered by the side carrying the burden.
	EvidenceCount   int
	DefenseEvidence int

	ProsecutionCredibility int
	DefenseCredibility     int
}

type Composite struct {
	Prosecution      int
	Defense          int
	TotalProsecution int
	TotalDefense     int
}

func (e *Evaluator) roleScore(args, evidence int) int {
	p := e.params
	return min(p.MaxScore, p.BaseScore+p.ArgumentWeight*args+p.EvidenceWeight*evidence)
}

// Composite computes both sides' totals. The defense total carries the fixed
// DefenseBias: ties and near-ties go to the defending side.
func (e *Evaluator) Composite(in VerdictInput) Composite {
	c := Composite{
		Prosecution: e.roleScore(in.ProsecutionArgs, in.EvidenceCount),
		Defense:     e.roleScore(in.DefenseArgs, in.DefenseEvidence),
	}
	c.TotalProsecution = c.Prosecution + in.ProsecutionCredibility
	c.TotalDefense = c.Defense + in.DefenseCredibility + e.params.DefenseBias
	return c
}

func (e *Evaluator) EvaluateVerdict(in VerdictInput) (store.EvaluationRecord, error) {
	if in.ProsecutionArgs < 0 || in.DefenseArgs < 0 || in.EvidenceCount < 0 || in.DefenseEvidence < 0 {
		return store.EvaluationRecord{}, fmt.Errorf("%w: negative counts", ErrEvaluationFailed)
	}
	forLabel, againstLabel, ok := Vocabulary(in.CaseType)
	if !ok {
		return store.EvaluationRecord{}, fmt.Errorf("%w: unknown case type %q", ErrEvaluationFailed, in.CaseType)
	}

	c := e.Composite(in)
	outcome := againstLabel
	if c.TotalProsecution > c.TotalDefense {
		outcome = forLabel
	}

	gap := c.TotalProsecution - c.TotalDefense
	if gap < 0 {
		gap = -gap
	}
	confidence := ConfidenceModerate
	if gap >= e.params.HighConfidenceGap {
		confidence = ConfidenceHigh
	}

	var b strings.Builder
	fmt.Fprintf(&b, "%s case: prosecution %d (%d arguments, %d exhibits) against defense %d (%d arguments, %d exhibits, bias %d). ",
		in.CaseType, c.TotalProsecution, in.ProsecutionArgs, in.EvidenceCount,
		c.TotalDefense, in.DefenseArgs, in.DefenseEvidence, e.params.DefenseBias)
	fmt.Fprintf(&b, "Finding: %s by a margin of %d.", outcome, gap)

	return store.EvaluationRecord{
		ID:        e.newID(),
		SessionID: in.SessionID,
		Kind:      store.EvalVerdict,
		Phase:     engine.PhaseDeliberation,
		Scores: map[engine.Role]int{
			engine.RoleAdvocateFor:     c.TotalProsecution,
			engine.RoleAdvocateAgainst: c.TotalDefense,
		},
		Outcome:    outcome,
		Reasoning:  b.String(),
		Confidence: confidence,
		CreatedAt:  e.now(),
	}, nil
}
