package httpapi

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
	"github.com/DoyleJ11/trial-backend/internal/ws"
)

type Deps struct {
	Orch           *trial.Orchestrator
	Repo           store.Repository
	Signals        store.SignalStore
	Log            *zap.Logger
	OriginPatterns []string
}

func SetupRoutes(d Deps) http.Handler {
	if d.Log == nil {
		d.Log = zap.NewNop()
	}
	h := &Handlers{orch: d.Orch, signals: d.Signals, log: d.Log}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)
	r.NotFound(h.NotFound)

	r.Get("/healthz", Healthz)
	r.Get("/ws", ws.Handler(ws.Deps{
		Repo:           d.Repo,
		Orch:           d.Orch,
		Log:            d.Log,
		OriginPatterns: d.OriginPatterns,
		UserID:         userID,
	}))

	r.Route("/sessions", func(r chi.Router) {
		r.Post("/", h.CreateSession)
		r.Post("/join", h.JoinSession)

		r.Route("/{id}", func(r chi.Router) {
			r.Get("/", h.GetSession)
			r.Get("/participants", h.ListParticipants)
			r.Get("/evaluations", h.ListEvaluations)
			r.Get("/verdict", h.GetVerdict)

			r.Post("/advance", h.Advance)
			r.Post("/abandon", h.Abandon)
			r.Post("/leave", h.Leave)

			r.Post("/arguments", h.SubmitArgument)
			r.Post("/evidence", h.PresentEvidence)
			r.Post("/witness", h.ExamineWitness)

			r.Post("/signals", h.PutSignal)
			r.Get("/signals", h.TakeSignals)
		})
	})
	return r
}
