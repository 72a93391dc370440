package store

import (
	"time"

	"github.com/DoyleJ11/trial-backend/internal/engine"
)

type Settings struct {
	MaxPlayers         int    `json:"max_players,omitempty"`
	TimeLimitSec       int    `json:"time_limit_sec,omitempty"`
	SpectatorsDisabled bool   `json:"spectators_disabled,omitempty"`
	CaseID             string `json:"case_id,omitempty"`
}

type Session struct {
	ID        string       `gorm:"primaryKey;type:uuid" json:"id"`
	JoinCode  string       `gorm:"size:16;not null;index" json:"join_code"`
	OwnerID   string       `gorm:"not null" json:"owner_id"`
	CaseID    string       `json:"case_id"`
	CaseType  string       `json:"case_type"`
	Phase     engine.Phase `gorm:"type:text;not null" json:"phase"`
	Capacity  int          `gorm:"not null" json:"capacity"`
	Active    bool         `gorm:"not null;index" json:"active"`
	Settings  Settings     `gorm:"serializer:json" json:"settings"`
	CreatedAt time.Time    `json:"created_at"`
	UpdatedAt time.Time    `json:"updated_at"`
}

type Performance struct {
	Arguments   int `json:"arguments"`
	Evidence    int `json:"evidence"`
	Questions   int `json:"questions"`
	Objections  int `json:"objections"`
	Credibility int `json:"credibility"`
}

type Participant struct {
	ID          string      `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID   string      `gorm:"type:uuid;not null;index" json:"session_id"`
	UserID      string      `gorm:"index" json:"user_id,omitempty"`
	Role        engine.Role `gorm:"type:text;not null" json:"role"`
	JoinOrder   int         `gorm:"not null" json:"join_order"`
	Connected   bool        `gorm:"not null" json:"connected"`
	Score       int         `json:"score"`
	Performance Performance `gorm:"serializer:json" json:"performance"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type SignalKind string

const (
	SignalOffer     SignalKind = "offer"
	SignalAnswer    SignalKind = "answer"
	SignalCandidate SignalKind = "candidate"
	SignalBye       SignalKind = "bye"
)

type Signal struct {
	ID        string     `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID string     `gorm:"type:uuid;not null;index:idx_signal_mailbox" json:"session_id"`
	From      string     `gorm:"column:from_id;not null" json:"from"`
	To        string     `gorm:"column:to_id;not null;index:idx_signal_mailbox" json:"to"`
	Kind      SignalKind `gorm:"type:text;not null" json:"kind"`
	Payload   []byte     `json:"payload"`
	CreatedAt time.Time  `gorm:"index" json:"created_at"`
}

type EvaluationKind string

const (
	EvalWitness  EvaluationKind = "witness"
	EvalEvidence EvaluationKind = "evidence"
	EvalVerdict  EvaluationKind = "verdict"
)

// EvaluationRecord is append-only.
type EvaluationRecord struct {
	ID         string              `gorm:"primaryKey;type:uuid" json:"id"`
	SessionID  string              `gorm:"type:uuid;not null;index" json:"session_id"`
	Kind       EvaluationKind      `gorm:"type:text;not null" json:"kind"`
	Phase      engine.Phase        `gorm:"type:text;not null" json:"phase"`
	Scores     map[engine.Role]int `gorm:"serializer:json" json:"scores"`
	Outcome    string              `json:"outcome,omitempty"`
	Reasoning  string              `gorm:"type:text" json:"reasoning"`
	Confidence string              `json:"confidence,omitempty"`
	CreatedAt  time.Time           `json:"created_at"`
}

type Table string

const (
	TableSessions     Table = "sessions"
	TableParticipants Table = "participants"
	TableEvaluations  Table = "evaluations"
)

// Change is the notification emitted after every committed mutation.
type Change struct {
	Table     Table    `json:"table"`
	SessionID string   `json:"session_id"`
	Session   *Session `json:"session,omitempty"`
	RowID     string   `json:"row_id,omitempty"`
}
