package evaluation

import (
	"fmt"
	"strings"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

type Ground string

const (
	GroundLeading  Ground = "leading"
	GroundHearsay  Ground = "hearsay"
	GroundOpinion  Ground = "speculation"
	GroundCompound Ground = "compound"
)

var leadingMarkers = []string{
	"isn't it true", "isn't that right", "isn't that correct", "wouldn't you agree",
	"you would agree", "didn't you", "weren't you", "correct?", "right?",
}

var hearsayMarkers = []string{
	"told you", "told me", "said that", "heard that", "you heard", "according to",
	"someone said", "rumor",
}

var opinionMarkers = []string{
	"do you think", "in your opinion", "do you believe", "your opinion", "would you guess",
	"how do you feel", "probably",
}

const noRecollection = "I don't recall anything about that."

type WitnessInput struct {
	SessionID string
	Examiner  engine.Role
	Witness   Witness
	Question  string
	Case      CaseContext
}

type WitnessResult struct {
	Response          string                 `json:"response"`
	CredibilityImpact int                    `json:"credibility_impact"`
	ObjectionRisk     int                    `json:"objection_risk"`
	ShouldObject      bool                   `json:"should_object"`
	Grounds           []Ground               `json:"grounds,omitempty"`
	Record            store.EvaluationRecord `json:"record"`
}

// ObjectionRisk scores a question in [0,100]. Each signal class adds its
// weight once.
func (e *Evaluator) ObjectionRisk(question string) (int, []Ground) {
	q := strings.ToLower(question)
	p := e.params

	risk := 0
	var grounds []Ground
	if containsAny(q, leadingMarkers) {
		risk += p.LeadingWeight
		grounds = append(grounds, GroundLeading)
	}
	if containsAny(q, hearsayMarkers) {
		risk += p.HearsayWeight
		grounds = append(grounds, GroundHearsay)
	}
	if containsAny(q, opinionMarkers) {
		risk += p.OpinionWeight
		grounds = append(grounds, GroundOpinion)
	}
	if strings.Count(q, "?") > 1 {
		risk += p.CompoundWeight
		grounds = append(grounds, GroundCompound)
	}
	return clamp(risk, 0, 100), grounds
}

func (e *Evaluator) EvaluateWitnessAnswer(in WitnessInput) (WitnessResult, error) {
	if strings.TrimSpace(in.Question) == "" {
		return WitnessResult{}, fmt.Errorf("%w: empty question", ErrEvaluationFailed)
	}
	if strings.TrimSpace(in.Witness.Name) == "" {
		return WitnessResult{}, fmt.Errorf("%w: unknown witness", ErrEvaluationFailed)
	}
	if !in.Examiner.IsAdvocate() {
		return WitnessResult{}, fmt.Errorf("%w: examiner must be an advocate, got %q", ErrEvaluationFailed, in.Examiner)
	}

	risk, grounds := e.ObjectionRisk(in.Question)
	response, matched := answer(in.Witness, in.Question)

	impact := -2
	if matched {
		impact = 1 + clamp(in.Witness.Credibility, 0, 100)/50
	}
	impact -= risk / 25

	// the opposing advocate objects; the draw keeps it from being automatic
	shouldObject := risk >= e.params.ObjectionThreshold && e.rand.Float64() < float64(risk)/100

	reasoning := fmt.Sprintf("%s answered %s; objection risk %d", in.Witness.Name, answerQuality(matched), risk)
	if len(grounds) > 0 {
		reasoning += fmt.Sprintf(" (%s)", joinGrounds(grounds))
	}
	if shouldObject {
		reasoning += "; objection raised by " + string(opposing(in.Examiner))
	}

	rec := store.EvaluationRecord{
		ID:         e.newID(),
		SessionID:  in.SessionID,
		Kind:       store.EvalWitness,
		Phase:      engine.PhaseWitnessExamination,
		Scores:     map[engine.Role]int{in.Examiner: impact},
		Reasoning:  reasoning,
		Confidence: riskConfidence(risk, e.params.ObjectionThreshold),
		CreatedAt:  e.now(),
	}

	return WitnessResult{
		Response:          response,
		CredibilityImpact: impact,
		ObjectionRisk:     risk,
		ShouldObject:      shouldObject,
		Grounds:           grounds,
		Record:            rec,
	}, nil
}

// answer picks the testimony line sharing the most words with the question.
func answer(w Witness, question string) (string, bool) {
	qWords := significantWords(question)
	best, bestHits := "", 0
	for _, line := range w.Testimony {
		hits := 0
		for word := range significantWords(line) {
			if qWords[word] {
				hits++
			}
		}
		if hits > bestHits {
			best, bestHits = line, hits
		}
	}
	if bestHits == 0 {
		return noRecollection, false
	}
	return best, true
}

func significantWords(s string) map[string]bool {
	words := strings.FieldsFunc(strings.ToLower(s), func(r rune) bool {
		return !('a' <= r && r <= 'z' || '0' <= r && r <= '9')
	})
	out := make(map[string]bool, len(words))
	for _, w := range words {
		if len(w) >= 4 && !stopWords[w] {
			out[w] = true
		}
	}
	return out
}

var stopWords = map[string]bool{
	"that": true, "this": true, "with": true, "what": true, "when": true, "where": true,
	"were": true, "have": true, "your": true, "about": true, "there": true, "which": true,
	"would": true, "could": true, "from": true, "they": true, "then": true, "tell": true,
}

func containsAny(s string, markers []string) bool {
	for _, m := range markers {
		if strings.Contains(s, m) {
			return true
		}
	}
	return false
}

func joinGrounds(gs []Ground) string {
	parts := make([]string, len(gs))
	for i, g := range gs {
		parts[i] = string(g)
	}
	return strings.Join(parts, ", ")
}

func answerQuality(matched bool) string {
	if matched {
		return "from testimony"
	}
	return "without recollection"
}

func riskConfidence(risk, threshold int) string {
	if risk == 0 || risk >= threshold+25 {
		return "high"
	}
	return "moderate"
}
