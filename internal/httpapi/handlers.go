package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/store"
	"github.com/DoyleJ11/trial-backend/internal/trial"
	"github.com/DoyleJ11/trial-backend/internal/types"
)

// UserHeader carries the caller's user ID. Authentication happens in front
// of this service.
const UserHeader = "X-User-ID"

const maxBody = 64 << 10

type Handlers struct {
	orch    *trial.Orchestrator
	signals store.SignalStore
	log     *zap.Logger
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, p := types.ProblemFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
	}
	writeJSON(w, status, struct {
		Error types.Problem `json:"error"`
	}{p})
}

func decode(w http.ResponseWriter, r *http.Request, v any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBody)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %v", trial.ErrInvalidInput, err)
	}
	return nil
}

func userID(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get(UserHeader))
}

func (h *Handlers) CreateSession(w http.ResponseWriter, r *http.Request) {
	var req types.CreateSessionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, p, err := h.orch.CreateSession(r.Context(), userID(r), req.PreferredRole, req.Settings)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, types.SessionResponse{Session: s, Participant: p})
}

func (h *Handlers) JoinSession(w http.ResponseWriter, r *http.Request) {
	var req types.JoinSessionRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	s, p, err := h.orch.JoinSession(r.Context(), req.Code, userID(r), req.PreferredRole)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.SessionResponse{Session: s, Participant: p})
}

func (h *Handlers) GetSession(w http.ResponseWriter, r *http.Request) {
	s, err := h.orch.Session(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

func (h *Handlers) ListParticipants(w http.ResponseWriter, r *http.Request) {
	all := r.URL.Query().Get("all") == "true"
	ps, err := h.orch.Participants(r.Context(), chi.URLParam(r, "id"), !all)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if ps == nil {
		ps = []store.Participant{}
	}
	writeJSON(w, http.StatusOK, ps)
}

func (h *Handlers) ListEvaluations(w http.ResponseWriter, r *http.Request) {
	recs, err := h.orch.Evaluations(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if recs == nil {
		recs = []store.EvaluationRecord{}
	}
	writeJSON(w, http.StatusOK, recs)
}

func (h *Handlers) GetVerdict(w http.ResponseWriter, r *http.Request) {
	rec, ok, err := h.orch.Verdict(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if !ok {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

func (h *Handlers) Advance(w http.ResponseWriter, r *http.Request) {
	phase, err := h.orch.AdvancePhase(r.Context(), chi.URLParam(r, "id"), userID(r))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, types.PhaseResponse{Phase: phase})
}

func (h *Handlers) Abandon(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.AbandonSession(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) Leave(w http.ResponseWriter, r *http.Request) {
	if err := h.orch.LeaveSession(r.Context(), chi.URLParam(r, "id"), userID(r)); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handlers) SubmitArgument(w http.ResponseWriter, r *http.Request) {
	var req types.ArgumentRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	p, err := h.orch.SubmitArgument(r.Context(), chi.URLParam(r, "id"), userID(r), req.Text)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, p)
}

func (h *Handlers) PresentEvidence(w http.ResponseWriter, r *http.Request) {
	var req types.EvidenceRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	rec, err := h.orch.PresentEvidence(r.Context(), chi.URLParam(r, "id"), userID(r), req.Title, req.Description)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, rec)
}

func (h *Handlers) ExamineWitness(w http.ResponseWriter, r *http.Request) {
	var req types.WitnessRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	res, err := h.orch.ExamineWitness(r.Context(), chi.URLParam(r, "id"), userID(r), req.Witness, req.Question)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, res)
}

// PutSignal relays a connection-setup blob for browser peers. The payload is
// stored as is.
func (h *Handlers) PutSignal(w http.ResponseWriter, r *http.Request) {
	var req types.SignalRequest
	if err := decode(w, r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	switch req.Kind {
	case store.SignalOffer, store.SignalAnswer, store.SignalCandidate, store.SignalBye:
	default:
		h.fail(w, r, fmt.Errorf("%w: signal kind %q", trial.ErrInvalidInput, req.Kind))
		return
	}
	if req.From == "" || req.To == "" || req.From == req.To {
		h.fail(w, r, fmt.Errorf("%w: signal needs distinct from and to", trial.ErrInvalidInput))
		return
	}

	sessionID := chi.URLParam(r, "id")
	if err := h.member(r, sessionID, req.From); err != nil {
		h.fail(w, r, err)
		return
	}
	err := h.signals.PutSignal(r.Context(), store.Signal{
		ID:        uuid.NewString(),
		SessionID: sessionID,
		From:      req.From,
		To:        req.To,
		Kind:      req.Kind,
		Payload:   req.Payload,
		CreatedAt: time.Now().UTC(),
	})
	if err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

// TakeSignals hands over and consumes the caller's pending signals.
func (h *Handlers) TakeSignals(w http.ResponseWriter, r *http.Request) {
	sessionID := chi.URLParam(r, "id")
	to := r.URL.Query().Get("to")
	if err := h.member(r, sessionID, to); err != nil {
		h.fail(w, r, err)
		return
	}
	sigs, err := h.signals.TakeSignals(r.Context(), sessionID, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if sigs == nil {
		sigs = []store.Signal{}
	}
	writeJSON(w, http.StatusOK, sigs)
}

// member checks that participantID is a connected participant of the
// session and belongs to the calling user.
func (h *Handlers) member(r *http.Request, sessionID, participantID string) error {
	ps, err := h.orch.Participants(r.Context(), sessionID, true)
	if err != nil {
		return err
	}
	caller := userID(r)
	for _, p := range ps {
		if caller != "" && p.ID == participantID && p.UserID == caller {
			return nil
		}
	}
	return trial.ErrNotParticipant
}

func Healthz(w http.ResponseWriter, r *http.Request) {
	w.WriteHeader(http.StatusOK)
}

func (h *Handlers) NotFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, struct {
		Error types.Problem `json:"error"`
	}{types.Problem{Code: "not_found", Message: "no such route"}})
}
