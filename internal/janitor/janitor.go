// Package janitor runs the periodic cleanup jobs: expired signals are purged
// and sessions nobody has touched for a while are abandoned.
package janitor

import (
	"context"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/store"
)

// Abandoner is the orchestrator operation the idle job calls.
type Abandoner interface {
	AbandonIdleSessions(ctx context.Context, idleFor time.Duration) (int, error)
}

type Config struct {
	// Spec is a cron schedule, e.g. "@every 1m".
	Spec        string
	SignalTTL   time.Duration
	IdleTimeout time.Duration
}

type Janitor struct {
	cron     *cron.Cron
	cfg      Config
	signals  store.SignalStore
	sessions Abandoner
	log      *zap.Logger
	now      func() time.Time
}

func New(cfg Config, signals store.SignalStore, sessions Abandoner, log *zap.Logger) *Janitor {
	if log == nil {
		log = zap.NewNop()
	}
	if cfg.Spec == "" {
		cfg.Spec = "@every 1m"
	}
	return &Janitor{
		cron:     cron.New(cron.WithLocation(time.UTC)),
		cfg:      cfg,
		signals:  signals,
		sessions: sessions,
		log:      log,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start registers both jobs and starts the scheduler.
func (j *Janitor) Start() error {
	if _, err := j.cron.AddFunc(j.cfg.Spec, j.purgeSignals); err != nil {
		return err
	}
	if _, err := j.cron.AddFunc(j.cfg.Spec, j.abandonIdle); err != nil {
		return err
	}
	j.cron.Start()
	j.log.Info("janitor started", zap.String("spec", j.cfg.Spec))
	return nil
}

// Stop stops scheduling and waits for running jobs, or for ctx.
func (j *Janitor) Stop(ctx context.Context) {
	done := j.cron.Stop()
	select {
	case <-done.Done():
	case <-ctx.Done():
	}
}

func (j *Janitor) purgeSignals() {
	if j.signals == nil || j.cfg.SignalTTL <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.signals.PurgeSignals(ctx, j.now().Add(-j.cfg.SignalTTL))
	if err != nil {
		j.log.Warn("signal purge failed", zap.Error(err), zap.Bool("retryable", store.IsRetryable(err)))
		return
	}
	if n > 0 {
		j.log.Info("expired signals purged", zap.Int("count", n))
	}
}

func (j *Janitor) abandonIdle() {
	if j.sessions == nil || j.cfg.IdleTimeout <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	n, err := j.sessions.AbandonIdleSessions(ctx, j.cfg.IdleTimeout)
	if err != nil {
		j.log.Warn("idle session sweep failed", zap.Error(err), zap.Int("abandoned", n))
		return
	}
	if n > 0 {
		j.log.Info("idle sessions abandoned", zap.Int("count", n))
	}
}
