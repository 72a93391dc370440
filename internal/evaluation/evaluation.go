// Package evaluation scores witness exchanges, exhibits and the final verdict.
// Every function is deterministic given its inputs and the injected Rand; it
// returns records but never reads or writes session state.
package evaluation

import (
	"errors"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"

	"github.com/DoyleJ11/trial-backend/internal/engine"
)

var ErrEvaluationFailed = errors.New("evaluation failed")

type CaseType string

const (
	CaseCriminal CaseType = "criminal"
	CaseCivil    CaseType = "civil"
)

func (c CaseType) Valid() bool {
	return c == CaseCriminal || c == CaseCivil
}

type Witness struct {
	Name        string   `json:"name"`
	Testimony   []string `json:"testimony"`
	Credibility int      `json:"credibility"`
}

type CaseContext struct {
	ID        string    `json:"id"`
	Title     string    `json:"title"`
	Type      CaseType  `json:"type"`
	Keywords  []string  `json:"keywords"`
	Witnesses []Witness `json:"witnesses"`
}

// Rand is the random source for objection draws.
type Rand interface {
	Float64() float64
}

type defaultRand struct{}

func (defaultRand) Float64() float64 { return rand.Float64() }

// Params are tuning constants. None of the defaults is a considered balance
// decision; all of them are overridable from configuration.
type Params struct {
	MaxScore          int
	BaseScore         int
	ArgumentWeight    int
	EvidenceWeight    int
	DefenseBias       int
	HighConfidenceGap int

	ObjectionThreshold int
	LeadingWeight      int
	HearsayWeight      int
	OpinionWeight      int
	CompoundWeight     int

	ExhibitBase      int
	ExhibitKeyword   int
	ExhibitMaxScored int
}

func DefaultParams() Params {
	return Params{
		MaxScore:          100,
		BaseScore:         40,
		ArgumentWeight:    8,
		EvidenceWeight:    5,
		DefenseBias:       10,
		HighConfidenceGap: 20,

		ObjectionThreshold: 50,
		LeadingWeight:      30,
		HearsayWeight:      35,
		OpinionWeight:      25,
		CompoundWeight:     10,

		ExhibitBase:      10,
		ExhibitKeyword:   5,
		ExhibitMaxScored: 3,
	}
}

type Evaluator struct {
	params Params
	rand   Rand
	now    func() time.Time
	newID  func() string
}

type Option func(*Evaluator)

func WithRand(r Rand) Option { return func(e *Evaluator) { e.rand = r } }

func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

func New(params Params, opts ...Option) *Evaluator {
	e := &Evaluator{
		params: params,
		rand:   defaultRand{},
		now:    func() time.Time { return time.Now().UTC() },
		newID:  func() string { return uuid.NewString() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

func (e *Evaluator) Params() Params { return e.params }

func clamp(v, lo, hi int) int {
	return max(lo, min(v, hi))
}

// opposing returns the advocate role on the other side.
func opposing(r engine.Role) engine.Role {
	if r == engine.RoleAdvocateFor {
		return engine.RoleAdvocateAgainst
	}
	return engine.RoleAdvocateFor
}
