package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	gormlogger "gorm.io/gorm/logger"

	"github.com/DoyleJ11/trial-backend/internal/hub"
)

const DefaultChannel = "trial_changes"

// uniqueViolation is the postgres SQLSTATE for unique_violation.
const uniqueViolation = "23505"

func OpenPostgres(dsn string) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	sqlDB.SetConnMaxIdleTime(5 * time.Minute)
	sqlDB.SetConnMaxLifetime(30 * time.Minute)
	sqlDB.SetMaxIdleConns(10)
	sqlDB.SetMaxOpenConns(20)
	return db, nil
}

// GormStore persists to postgres. Changes are published with pg_notify inside
// the committing transaction, so subscribers only ever see committed rows;
// a Listener turns them back into hub deliveries on every instance.
type GormStore struct {
	db      *gorm.DB
	hub     *hub.Hub[Change]
	channel string
	log     *zap.Logger
}

func NewGormStore(db *gorm.DB, h *hub.Hub[Change], channel string, log *zap.Logger) *GormStore {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GormStore{db: db, hub: h, channel: channel, log: log}
}

func (g *GormStore) Migrate(ctx context.Context) error {
	db := g.db.WithContext(ctx)
	if err := db.AutoMigrate(&Session{}, &Participant{}, &Signal{}, &EvaluationRecord{}); err != nil {
		return fmt.Errorf("auto migrate: %w", err)
	}

	indexes := []string{
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_sessions_active_code ON sessions (join_code) WHERE active`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_join_order ON participants (session_id, join_order)`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_participants_held_role ON participants (session_id, role) WHERE connected AND role <> 'spectator'`,
		`CREATE UNIQUE INDEX IF NOT EXISTS idx_evaluation_records_verdict ON evaluation_records (session_id) WHERE kind = 'verdict'`,
	}
	for _, stmt := range indexes {
		if err := db.Exec(stmt).Error; err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func (g *GormStore) notify(tx *gorm.DB, c Change) error {
	payload, err := json.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshal change: %w", err)
	}
	return tx.Exec("SELECT pg_notify(?, ?)", g.channel, string(payload)).Error
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// classify maps driver errors onto the store taxonomy.
func classify(op string, err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, gorm.ErrRecordNotFound):
		return ErrNotFound
	case errors.Is(err, ErrNotFound), errors.Is(err, ErrConflict), errors.Is(err, ErrCodeTaken):
		return err
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case isUniqueViolation(err):
		return fmt.Errorf("%s: %w", op, ErrConflict)
	default:
		return unavailable(op, err)
	}
}

func (g *GormStore) CreateSession(ctx context.Context, s Session, owner Participant) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var n int64
		if err := tx.Model(&Session{}).Where("join_code = ? AND active", s.JoinCode).Count(&n).Error; err != nil {
			return err
		}
		if n > 0 {
			return ErrCodeTaken
		}
		if err := tx.Create(&s).Error; err != nil {
			if isUniqueViolation(err) {
				return ErrCodeTaken
			}
			return err
		}

		owner.SessionID = s.ID
		owner.JoinOrder = 1
		if err := tx.Create(&owner).Error; err != nil {
			return err
		}
		if err := g.notify(tx, Change{Table: TableSessions, SessionID: s.ID, Session: &s}); err != nil {
			return err
		}
		return g.notify(tx, Change{Table: TableParticipants, SessionID: s.ID, RowID: owner.ID})
	})
	return classify("create session", err)
}

func (g *GormStore) Session(ctx context.Context, id string) (Session, error) {
	var s Session
	err := g.db.WithContext(ctx).First(&s, "id = ?", id).Error
	return s, classify("get session", err)
}

func (g *GormStore) ActiveSessionByCode(ctx context.Context, code string) (Session, error) {
	var s Session
	err := g.db.WithContext(ctx).Where("join_code = ? AND active", code).First(&s).Error
	return s, classify("find session", err)
}

func (g *GormStore) IdleSessions(ctx context.Context, before time.Time) ([]Session, error) {
	var out []Session
	err := g.db.WithContext(ctx).
		Where("active AND updated_at < ?", before).
		Order("updated_at").
		Find(&out).Error
	return out, classify("idle sessions", err)
}

func lockSession(tx *gorm.DB, id string) (Session, []Participant, error) {
	var s Session
	if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", id).Error; err != nil {
		return Session{}, nil, err
	}
	var ps []Participant
	if err := tx.Where("session_id = ?", id).Order("join_order").Find(&ps).Error; err != nil {
		return Session{}, nil, err
	}
	return s, ps, nil
}

func (g *GormStore) UpdateSession(ctx context.Context, id string, mutate func(*Session, []Participant) error) (Session, error) {
	var out Session
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		cur, ps, err := lockSession(tx, id)
		if err != nil {
			return err
		}
		next := cur
		if err := mutate(&next, ps); err != nil {
			return err
		}
		next.ID, next.JoinCode, next.CreatedAt = cur.ID, cur.JoinCode, cur.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		out = next
		return g.notify(tx, Change{Table: TableSessions, SessionID: id, Session: &next})
	})
	return out, classify("update session", err)
}

func (g *GormStore) Participants(ctx context.Context, sessionID string, connectedOnly bool) ([]Participant, error) {
	q := g.db.WithContext(ctx).Where("session_id = ?", sessionID)
	if connectedOnly {
		q = q.Where("connected")
	}
	var out []Participant
	err := q.Order("join_order").Find(&out).Error
	return out, classify("list participants", err)
}

func (g *GormStore) AddParticipant(ctx context.Context, sessionID string, admit func(Session, []Participant) (Participant, error)) (Participant, error) {
	var out Participant
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		s, existing, err := lockSession(tx, sessionID)
		if err != nil {
			return err
		}
		p, err := admit(s, existing)
		if err != nil {
			return err
		}
		if heldConflict(p, existing) {
			return ErrConflict
		}

		p.SessionID = sessionID
		idx := slices.IndexFunc(existing, func(e Participant) bool { return e.ID == p.ID })
		if idx >= 0 {
			p.JoinOrder, p.CreatedAt = existing[idx].JoinOrder, existing[idx].CreatedAt
			err = tx.Save(&p).Error
		} else {
			p.JoinOrder = len(existing) + 1
			err = tx.Create(&p).Error
		}
		if err != nil {
			return err
		}
		out = p
		return g.notify(tx, Change{Table: TableParticipants, SessionID: sessionID, RowID: p.ID})
	})
	return out, classify("add participant", err)
}

func (g *GormStore) UpdateParticipant(ctx context.Context, id string, mutate func(Session, *Participant) error) (Participant, error) {
	var out Participant
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var row Participant
		if err := tx.Select("session_id").First(&row, "id = ?", id).Error; err != nil {
			return err
		}
		// session before participant, the order every writer locks in
		var s Session
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&s, "id = ?", row.SessionID).Error; err != nil {
			return err
		}
		var cur Participant
		if err := tx.Clauses(clause.Locking{Strength: "UPDATE"}).First(&cur, "id = ?", id).Error; err != nil {
			return err
		}
		next := cur
		if err := mutate(s, &next); err != nil {
			return err
		}
		next.ID, next.SessionID, next.JoinOrder, next.CreatedAt = cur.ID, cur.SessionID, cur.JoinOrder, cur.CreatedAt
		if err := tx.Save(&next).Error; err != nil {
			return err
		}
		out = next
		return g.notify(tx, Change{Table: TableParticipants, SessionID: next.SessionID, RowID: id})
	})
	return out, classify("update participant", err)
}

func (g *GormStore) AppendEvaluation(ctx context.Context, rec EvaluationRecord) error {
	err := g.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&rec).Error; err != nil {
			if rec.Kind == EvalVerdict && isUniqueViolation(err) {
				return ErrVerdictExists
			}
			return err
		}
		return g.notify(tx, Change{Table: TableEvaluations, SessionID: rec.SessionID, RowID: rec.ID})
	})
	return classify("append evaluation", err)
}

func (g *GormStore) Evaluations(ctx context.Context, sessionID string) ([]EvaluationRecord, error) {
	var out []EvaluationRecord
	err := g.db.WithContext(ctx).Where("session_id = ?", sessionID).Order("created_at").Find(&out).Error
	return out, classify("list evaluations", err)
}

func (g *GormStore) Subscribe(sessionID string, fn func(Change)) func() {
	return g.hub.Subscribe(sessionID, fn)
}

func (g *GormStore) PutSignal(ctx context.Context, sig Signal) error {
	return classify("put signal", g.db.WithContext(ctx).Create(&sig).Error)
}

func (g *GormStore) TakeSignals(ctx context.Context, sessionID, to string) ([]Signal, error) {
	var out []Signal
	err := g.db.WithContext(ctx).
		Clauses(clause.Returning{}).
		Where("session_id = ? AND to_id = ?", sessionID, to).
		Delete(&out).Error
	if err != nil {
		return nil, classify("take signals", err)
	}
	slices.SortFunc(out, func(a, b Signal) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out, nil
}

func (g *GormStore) PurgeSignals(ctx context.Context, before time.Time) (int, error) {
	res := g.db.WithContext(ctx).Where("created_at < ?", before).Delete(&Signal{})
	if res.Error != nil {
		return 0, classify("purge signals", res.Error)
	}
	return int(res.RowsAffected), nil
}
