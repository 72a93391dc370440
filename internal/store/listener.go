package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/hub"
)

// Listener relays postgres NOTIFY payloads on channel into the hub. It holds
// one dedicated connection outside the gorm pool.
type Listener struct {
	dsn     string
	channel string
	hub     *hub.Hub[Change]
	log     *zap.Logger
	backoff time.Duration
}

func NewListener(dsn, channel string, h *hub.Hub[Change], log *zap.Logger) *Listener {
	if channel == "" {
		channel = DefaultChannel
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Listener{dsn: dsn, channel: channel, hub: h, log: log, backoff: 2 * time.Second}
}

// Run listens until ctx is cancelled, reconnecting after connection loss.
// Notifications sent while disconnected are lost; subscribers re-fetch on
// the next change they do see.
func (l *Listener) Run(ctx context.Context) error {
	for {
		err := l.listen(ctx)
		if ctx.Err() != nil {
			return nil
		}
		l.log.Warn("change listener disconnected", zap.Error(err), zap.Duration("retry_in", l.backoff))
		select {
		case <-ctx.Done():
			return nil
		case <-time.After(l.backoff):
		}
	}
}

func (l *Listener) listen(ctx context.Context) error {
	conn, err := pgx.Connect(ctx, l.dsn)
	if err != nil {
		return fmt.Errorf("connect: %w", err)
	}
	defer conn.Close(context.Background())

	if _, err := conn.Exec(ctx, "LISTEN "+pgx.Identifier{l.channel}.Sanitize()); err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	l.log.Info("listening for changes", zap.String("channel", l.channel))

	for {
		n, err := conn.WaitForNotification(ctx)
		if err != nil {
			return err
		}
		c, err := decodeChange(n.Payload)
		if err != nil {
			l.log.Warn("dropping malformed change", zap.Error(err))
			continue
		}
		l.hub.Publish(c.SessionID, c)
	}
}

func decodeChange(payload string) (Change, error) {
	var c Change
	if err := json.Unmarshal([]byte(payload), &c); err != nil {
		return Change{}, fmt.Errorf("decode change: %w", err)
	}
	if c.SessionID == "" {
		return Change{}, errors.New("decode change: missing session id")
	}
	return c, nil
}
