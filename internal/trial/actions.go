package trial

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/evaluation"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

// ArgumentPoints is the score credited per accepted argument.
const ArgumentPoints = 5

// actor loads the session and the connected requester and checks the
// action against the phase table. The check is repeated by credit under
// the session lock before anything is counted.
func (o *Orchestrator) actor(ctx context.Context, sessionID, requesterID string, action engine.Action) (store.Session, store.Participant, error) {
	s, err := o.repo.Session(ctx, sessionID)
	if err != nil {
		return store.Session{}, store.Participant{}, notFound(err)
	}
	if !s.Active {
		return store.Session{}, store.Participant{}, ErrSessionNotFound
	}
	ps, err := o.repo.Participants(ctx, sessionID, true)
	if err != nil {
		return store.Session{}, store.Participant{}, notFound(err)
	}
	p, ok := find(ps, requesterID)
	if !ok {
		return store.Session{}, store.Participant{}, ErrNotParticipant
	}
	if err := engine.Allowed(s.Phase, p.Role, action); err != nil {
		return store.Session{}, store.Participant{}, err
	}
	return s, p, nil
}

// credit applies a performance update to p once the action is still allowed
// in the session's phase at commit. An advance that lands first rejects it.
func (o *Orchestrator) credit(ctx context.Context, p store.Participant, action engine.Action, apply func(*store.Participant)) (store.Participant, error) {
	return o.repo.UpdateParticipant(ctx, p.ID, func(s store.Session, cur *store.Participant) error {
		if !s.Active {
			return ErrSessionNotFound
		}
		if !cur.Connected {
			return ErrNotParticipant
		}
		if err := engine.Allowed(s.Phase, cur.Role, action); err != nil {
			return err
		}
		apply(cur)
		return nil
	})
}

func (o *Orchestrator) SubmitArgument(ctx context.Context, sessionID, requesterID, text string) (store.Participant, error) {
	if strings.TrimSpace(text) == "" {
		return store.Participant{}, fmt.Errorf("%w: empty argument", ErrInvalidInput)
	}
	_, p, err := o.actor(ctx, sessionID, requesterID, engine.ActionArgument)
	if err != nil {
		return store.Participant{}, err
	}

	return o.credit(ctx, p, engine.ActionArgument, func(p *store.Participant) {
		p.Performance.Arguments++
		p.Score += ArgumentPoints
	})
}

func (o *Orchestrator) PresentEvidence(ctx context.Context, sessionID, requesterID, title, description string) (store.EvaluationRecord, error) {
	s, p, err := o.actor(ctx, sessionID, requesterID, engine.ActionEvidence)
	if err != nil {
		return store.EvaluationRecord{}, err
	}
	c, err := o.book.Case(s.CaseID)
	if err != nil {
		return store.EvaluationRecord{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}

	rec, err := o.eval.EvaluateEvidence(evaluation.EvidenceInput{
		SessionID:   sessionID,
		Presenter:   p.Role,
		Title:       title,
		Description: description,
		Case:        c,
	})
	if err != nil {
		return store.EvaluationRecord{}, err
	}
	_, err = o.credit(ctx, p, engine.ActionEvidence, func(p *store.Participant) {
		p.Performance.Evidence++
		p.Score += rec.Scores[p.Role]
	})
	if err != nil {
		return store.EvaluationRecord{}, err
	}
	if err := o.repo.AppendEvaluation(ctx, rec); err != nil {
		return store.EvaluationRecord{}, err
	}
	return rec, nil
}

func (o *Orchestrator) ExamineWitness(ctx context.Context, sessionID, requesterID, witness, question string) (evaluation.WitnessResult, error) {
	s, p, err := o.actor(ctx, sessionID, requesterID, engine.ActionQuestion)
	if err != nil {
		return evaluation.WitnessResult{}, err
	}
	c, err := o.book.Case(s.CaseID)
	if err != nil {
		return evaluation.WitnessResult{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}
	w, err := o.book.Witness(c.ID, witness)
	if err != nil {
		return evaluation.WitnessResult{}, fmt.Errorf("%w: %v", ErrEvaluationFailed, err)
	}

	res, err := o.eval.EvaluateWitnessAnswer(evaluation.WitnessInput{
		SessionID: sessionID,
		Examiner:  p.Role,
		Witness:   w,
		Question:  question,
		Case:      c,
	})
	if err != nil {
		return evaluation.WitnessResult{}, err
	}
	_, err = o.credit(ctx, p, engine.ActionQuestion, func(p *store.Participant) {
		p.Performance.Questions++
		p.Performance.Credibility += res.CredibilityImpact
		p.Score += res.CredibilityImpact
	})
	if err != nil {
		return evaluation.WitnessResult{}, err
	}
	if err := o.repo.AppendEvaluation(ctx, res.Record); err != nil {
		return evaluation.WitnessResult{}, err
	}

	if res.ShouldObject {
		o.creditObjection(ctx, sessionID, p.Role)
	}
	return res, nil
}

// creditObjection records the objection on the opposing advocate, if one is
// connected. Best effort: the witness exchange has already been recorded.
func (o *Orchestrator) creditObjection(ctx context.Context, sessionID string, examiner engine.Role) {
	opponent := engine.RoleAdvocateAgainst
	if examiner == engine.RoleAdvocateAgainst {
		opponent = engine.RoleAdvocateFor
	}

	ps, err := o.repo.Participants(ctx, sessionID, true)
	if err != nil {
		o.log.Warn("objection not credited", zap.String("session_id", sessionID), zap.Error(err))
		return
	}
	for _, p := range ps {
		if p.Role != opponent {
			continue
		}
		_, err := o.repo.UpdateParticipant(ctx, p.ID, func(_ store.Session, p *store.Participant) error {
			p.Performance.Objections++
			return nil
		})
		if err != nil {
			o.log.Warn("objection not credited", zap.String("session_id", sessionID), zap.Error(err))
		}
		return
	}
}

// VerdictInput folds every participant row, connected or not, into the
// verdict counts so that drops do not erase a side's work.
func VerdictInput(s store.Session, ps []store.Participant) evaluation.VerdictInput {
	in := evaluation.VerdictInput{SessionID: s.ID, CaseType: evaluation.CaseType(s.CaseType)}
	for _, p := range ps {
		switch p.Role {
		case engine.RoleAdvocateFor:
			in.ProsecutionArgs += p.Performance.Arguments
			in.EvidenceCount += p.Performance.Evidence
			in.ProsecutionCredibility += p.Performance.Credibility
		case engine.RoleAdvocateAgainst:
			in.DefenseArgs += p.Performance.Arguments
			in.DefenseEvidence += p.Performance.Evidence
			in.DefenseCredibility += p.Performance.Credibility
		case engine.RoleAdjudicator, engine.RoleSpectator:
		}
	}
	return in
}

// ensureVerdict writes the verdict record unless one exists. Two callers
// racing past the read both evaluate; the store keeps the first record and
// the second append reports ErrVerdictExists, which counts as written.
func (o *Orchestrator) ensureVerdict(ctx context.Context, s store.Session) error {
	recs, err := o.repo.Evaluations(ctx, s.ID)
	if err != nil {
		return err
	}
	for _, r := range recs {
		if r.Kind == store.EvalVerdict {
			return nil
		}
	}

	ps, err := o.repo.Participants(ctx, s.ID, false)
	if err != nil {
		return err
	}
	rec, err := o.eval.EvaluateVerdict(VerdictInput(s, ps))
	if err != nil {
		return err
	}
	if err := o.repo.AppendEvaluation(ctx, rec); err != nil {
		if errors.Is(err, store.ErrVerdictExists) {
			return nil
		}
		return err
	}

	o.log.Info("verdict recorded",
		zap.String("session_id", s.ID),
		zap.String("outcome", rec.Outcome),
		zap.String("confidence", rec.Confidence))
	return nil
}

// Verdict returns the session's verdict record, if written.
func (o *Orchestrator) Verdict(ctx context.Context, sessionID string) (store.EvaluationRecord, bool, error) {
	recs, err := o.repo.Evaluations(ctx, sessionID)
	if err != nil {
		return store.EvaluationRecord{}, false, notFound(err)
	}
	for _, r := range recs {
		if r.Kind == store.EvalVerdict {
			return r, true, nil
		}
	}
	return store.EvaluationRecord{}, false, nil
}
