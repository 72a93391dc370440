package ws

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/client"
	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
	"github.com/DoyleJ11/trial-backend/internal/types"
)

// Deps are what a stream needs to run a session view.
type Deps struct {
	Repo           store.Repository
	Orch           *trial.Orchestrator
	Log            *zap.Logger
	OriginPatterns []string
	// UserID extracts the caller's identity from the upgrade request.
	UserID func(*http.Request) string
}

// Handler streams a session view to one websocket client. The client sends
// Join, Attach or Advance; the server answers with StateSnapshot messages
// whenever the authoritative state changes, and Error messages for failed
// commands.
func Handler(d Deps) http.HandlerFunc {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}
	return func(w http.ResponseWriter, r *http.Request) {
		var user string
		if d.UserID != nil {
			user = d.UserID(r)
		}
		if user == "" {
			user = r.URL.Query().Get("user")
		}

		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: d.OriginPatterns})
		if err != nil {
			return
		}
		defer conn.Close(websocket.StatusNormalClosure, "bye")

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		view := client.New(ctx, d.Repo, d.Orch, user, client.WithLogger(log))
		defer view.Close()

		out := make(chan client.Snapshot, 8)
		view.Inbox() <- client.Watch{ID: uuid.NewString(), Outbox: out}

		writes := make(chan types.ServerMessage, 8)

		// Writer goroutine
		go func() {
			defer cancel()
			for {
				var msg types.ServerMessage
				select {
				case snap, ok := <-out:
					if !ok {
						// dropped as a slow watcher or view closed
						return
					}
					msg = types.ServerMessage{Type: "StateSnapshot", Version: snap.Version, Snapshot: &snap}
				case msg = <-writes:
				case <-ctx.Done():
					return
				}
				payload, _ := json.Marshal(msg)
				wctx, wcancel := context.WithTimeout(ctx, 3*time.Second)
				err := conn.Write(wctx, websocket.MessageText, payload)
				wcancel()
				if err != nil {
					return
				}
			}
		}()

		if id := r.URL.Query().Get("session"); id != "" {
			if err := attach(ctx, d, view, id, user); err != nil {
				reportError(ctx, writes, err)
			}
		}

		// Reader loop
		for {
			_, data, err := conn.Read(ctx)
			if err != nil {
				switch websocket.CloseStatus(err) {
				case websocket.StatusNormalClosure, websocket.StatusGoingAway:
				default:
					if ctx.Err() == nil {
						log.Debug("stream read failed", zap.Error(err))
					}
				}
				return
			}

			var cm types.ClientMessage
			if err := json.Unmarshal(data, &cm); err != nil {
				reportError(ctx, writes, fmt.Errorf("%w: bad json", trial.ErrInvalidInput))
				continue
			}
			if err := handle(ctx, d, view, user, cm); err != nil {
				reportError(ctx, writes, err)
			}
		}
	}
}

func handle(ctx context.Context, d Deps, view *client.Reconciler, user string, cm types.ClientMessage) error {
	switch cm.Type {
	case "Join":
		_, err := view.Join(ctx, cm.Code, cm.Role)
		return err
	case "Attach":
		return attach(ctx, d, view, cm.SessionID, user)
	case "Advance":
		_, err := view.Advance(ctx)
		return err
	default:
		return fmt.Errorf("%w: unknown message type %q", trial.ErrInvalidInput, cm.Type)
	}
}

// attach binds the view to a session the user is a connected participant of.
func attach(ctx context.Context, d Deps, view *client.Reconciler, sessionID, user string) error {
	s, err := d.Orch.Session(ctx, sessionID)
	if err != nil {
		return err
	}
	ps, err := d.Orch.Participants(ctx, sessionID, true)
	if err != nil {
		return err
	}
	for _, p := range ps {
		if user != "" && p.UserID == user {
			return view.Attach(ctx, s, p)
		}
	}
	return trial.ErrNotParticipant
}

func reportError(ctx context.Context, writes chan<- types.ServerMessage, err error) {
	if errors.Is(err, context.Canceled) {
		return
	}
	_, p := types.ProblemFor(err)
	select {
	case writes <- types.ServerMessage{Type: "Error", Error: &p}:
	case <-ctx.Done():
	}
}
