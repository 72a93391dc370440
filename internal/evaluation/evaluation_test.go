package evaluation

import (
	"errors"
	"slices"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

type fixedRand float64

func (f fixedRand) Float64() float64 { return float64(f) }

var harlow = CaseContext{
	ID:       "state-v-harlow",
	Type:     CaseCriminal,
	Keywords: []string{"warehouse", "receipt", "camera"},
	Witnesses: []Witness{{
		Name:        "Dana Ruiz",
		Credibility: 80,
		Testimony: []string{
			"I locked the warehouse at nine and the camera was working.",
			"The defendant paid with cash and kept the receipt.",
		},
	}},
}

func TestObjectionRisk_Signals(t *testing.T) {
	e := New(DefaultParams())

	cases := []struct {
		name    string
		q       string
		risk    int
		grounds []Ground
	}{
		{"clean question", "Where were you at nine?", 0, nil},
		{"leading", "Isn't it true you left early?", 30, []Ground{GroundLeading}},
		{"hearsay", "Your neighbor told you he saw the car?", 35, []Ground{GroundHearsay}},
		{"opinion", "Do you think he was nervous?", 25, []Ground{GroundOpinion}},
		{"leading and hearsay", "Isn't it true your boss told you to lie?", 65, []Ground{GroundLeading, GroundHearsay}},
		{"everything", "Isn't it true he told you so? Do you think he lied?", 100, []Ground{GroundLeading, GroundHearsay, GroundOpinion, GroundCompound}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			risk, grounds := e.ObjectionRisk(tc.q)
			assert.Equal(t, tc.risk, risk)
			assert.Equal(t, tc.grounds, grounds)
		})
	}
}

func TestEvaluateWitnessAnswer_InjectedRandDecidesObjection(t *testing.T) {
	in := WitnessInput{
		SessionID: "S1",
		Examiner:  engine.RoleAdvocateFor,
		Witness:   harlow.Witnesses[0],
		Question:  "Isn't it true your boss told you the warehouse was open?",
		Case:      harlow,
	}

	low, err := New(DefaultParams(), WithRand(fixedRand(0.1))).EvaluateWitnessAnswer(in)
	require.NoError(t, err)
	assert.Equal(t, 65, low.ObjectionRisk)
	assert.True(t, low.ShouldObject)

	high, err := New(DefaultParams(), WithRand(fixedRand(0.9))).EvaluateWitnessAnswer(in)
	require.NoError(t, err)
	assert.False(t, high.ShouldObject)
}

func TestEvaluateWitnessAnswer_BelowThresholdNeverObjects(t *testing.T) {
	e := New(DefaultParams(), WithRand(fixedRand(0)))
	res, err := e.EvaluateWitnessAnswer(WitnessInput{
		Examiner: engine.RoleAdvocateAgainst,
		Witness:  harlow.Witnesses[0],
		Question: "When did you lock the warehouse?",
	})
	require.NoError(t, err)
	assert.False(t, res.ShouldObject)
	assert.Equal(t, harlow.Witnesses[0].Testimony[0], res.Response)
	assert.Equal(t, 2, res.CredibilityImpact)
	assert.Equal(t, store.EvalWitness, res.Record.Kind)
	assert.Equal(t, 2, res.Record.Scores[engine.RoleAdvocateAgainst])
}

func TestEvaluateWitnessAnswer_NoRecollection(t *testing.T) {
	e := New(DefaultParams())
	res, err := e.EvaluateWitnessAnswer(WitnessInput{
		Examiner: engine.RoleAdvocateFor,
		Witness:  harlow.Witnesses[0],
		Question: "Did you visit Paris?",
	})
	require.NoError(t, err)
	assert.Equal(t, noRecollection, res.Response)
	assert.Equal(t, -2, res.CredibilityImpact)
}

func TestEvaluateWitnessAnswer_Malformed(t *testing.T) {
	e := New(DefaultParams())
	inputs := []WitnessInput{
		{Examiner: engine.RoleAdvocateFor, Witness: harlow.Witnesses[0], Question: "  "},
		{Examiner: engine.RoleAdvocateFor, Question: "Where?"},
		{Examiner: engine.RoleAdjudicator, Witness: harlow.Witnesses[0], Question: "Where?"},
	}
	for _, in := range inputs {
		_, err := e.EvaluateWitnessAnswer(in)
		assert.True(t, errors.Is(err, ErrEvaluationFailed), "input %+v: got %v", in, err)
	}
}

func TestEvaluateVerdict_CriminalVocabulary(t *testing.T) {
	e := New(DefaultParams())
	rec, err := e.EvaluateVerdict(VerdictInput{
		SessionID:       "S1",
		CaseType:        CaseCriminal,
		ProsecutionArgs: 3,
		DefenseArgs:     1,
		EvidenceCount:   2,
	})
	require.NoError(t, err)
	assert.Contains(t, []string{OutcomeGuilty, OutcomeNotGuilty}, rec.Outcome)
	assert.NotContains(t, []string{OutcomeLiable, OutcomeNotLiable}, rec.Outcome)
	assert.Equal(t, OutcomeGuilty, rec.Outcome)
	assert.Equal(t, 74, rec.Scores[engine.RoleAdvocateFor])
	assert.Equal(t, 58, rec.Scores[engine.RoleAdvocateAgainst])
	assert.Equal(t, ConfidenceModerate, rec.Confidence)
	assert.Equal(t, store.EvalVerdict, rec.Kind)
}

func TestEvaluateVerdict_CivilVocabulary(t *testing.T) {
	e := New(DefaultParams())
	rec, err := e.EvaluateVerdict(VerdictInput{CaseType: CaseCivil, DefenseArgs: 4})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotLiable, rec.Outcome)
	assert.Equal(t, ConfidenceHigh, rec.Confidence)
}

func TestEvaluateVerdict_TieGoesToDefense(t *testing.T) {
	p := DefaultParams()
	p.DefenseBias = 0
	rec, err := New(p).EvaluateVerdict(VerdictInput{CaseType: CaseCriminal, ProsecutionArgs: 2, DefenseArgs: 2})
	require.NoError(t, err)
	assert.Equal(t, OutcomeNotGuilty, rec.Outcome)
}

func TestComposite_MonotonicInProsecutionArguments(t *testing.T) {
	e := New(DefaultParams())
	for ev := 0; ev <= 12; ev += 3 {
		prev := -1
		for args := 0; args <= 20; args++ {
			c := e.Composite(VerdictInput{CaseType: CaseCriminal, ProsecutionArgs: args, DefenseArgs: 2, EvidenceCount: ev})
			if c.TotalProsecution < prev {
				t.Fatalf("evidence=%d args=%d: composite dropped %d -> %d", ev, args, prev, c.TotalProsecution)
			}
			if c.Prosecution > DefaultParams().MaxScore {
				t.Fatalf("score %d above cap", c.Prosecution)
			}
			prev = c.TotalProsecution
		}
	}
}

func TestEvaluateVerdict_Malformed(t *testing.T) {
	e := New(DefaultParams())
	_, err := e.EvaluateVerdict(VerdictInput{CaseType: "maritime"})
	assert.ErrorIs(t, err, ErrEvaluationFailed)
	_, err = e.EvaluateVerdict(VerdictInput{CaseType: CaseCriminal, DefenseArgs: -1})
	assert.ErrorIs(t, err, ErrEvaluationFailed)
}

func TestEvaluateEvidence(t *testing.T) {
	e := New(DefaultParams())

	rec, err := e.EvaluateEvidence(EvidenceInput{
		Presenter:   engine.RoleAdvocateFor,
		Title:       "Store receipt",
		Description: "Receipt recovered from the warehouse floor, timestamped by the camera system",
		Case:        harlow,
	})
	require.NoError(t, err)
	assert.Equal(t, 25, rec.Scores[engine.RoleAdvocateFor])
	assert.Equal(t, ConfidenceHigh, rec.Confidence)

	rec, err = e.EvaluateEvidence(EvidenceInput{Presenter: engine.RoleAdvocateAgainst, Title: "Weather report", Case: harlow})
	require.NoError(t, err)
	assert.Equal(t, 10, rec.Scores[engine.RoleAdvocateAgainst])

	_, err = e.EvaluateEvidence(EvidenceInput{Presenter: engine.RoleAdvocateFor, Case: harlow})
	assert.ErrorIs(t, err, ErrEvaluationFailed)
}

func TestVocabulary(t *testing.T) {
	f, a, ok := Vocabulary(CaseCivil)
	require.True(t, ok)
	assert.True(t, slices.Equal([]string{f, a}, []string{OutcomeLiable, OutcomeNotLiable}))
}
