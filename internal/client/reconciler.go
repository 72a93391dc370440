// Package client keeps one client's view of a session consistent with the
// store. The view is a cache: the authoritative change feed always wins, and
// pending command indicators live beside the snapshot, never inside it.
package client

import (
	"context"
	"errors"
	"sync"

	"go.uber.org/zap"

	"github.com/DoyleJ11/trial-backend/internal/engine"
	"github.com/DoyleJ11/trial-backend/internal/store"
)

var ErrClosed = errors.New("session view closed")
var ErrNotAttached = errors.New("session view not attached to a session")

// Commands is the orchestrator surface a client may call.
type Commands interface {
	JoinSession(ctx context.Context, code, joinerID string, preferred *engine.Role) (store.Session, store.Participant, error)
	AdvancePhase(ctx context.Context, sessionID, requesterID string) (engine.Phase, error)
}

// Peers is the peer connection manager as seen from a session view.
type Peers interface {
	// Sync connects to every listed peer not yet connected and drops the
	// ones no longer listed.
	Sync(ctx context.Context, peerIDs []string)
	Close() error
}

type Command string

const (
	CmdJoin    Command = "join"
	CmdAdvance Command = "advance"
)

type Msg interface{ isClientMsg() }

type sessionChanged struct{ Session *store.Session }
type participantsChanged struct{}
type evaluationsChanged struct{}

type attached struct {
	Session store.Session
	Self    store.Participant
	Done    chan struct{}
}

type pending struct {
	Cmd Command
	On  bool
	Err error
}

// Watch registers an outbox; the current snapshot is sent immediately.
type Watch struct {
	ID     string
	Outbox chan Snapshot
}

type Unwatch struct{ ID string }

type GetState struct{ Reply chan Snapshot }

type Shutdown struct{}

func (sessionChanged) isClientMsg()      {}
func (participantsChanged) isClientMsg() {}
func (evaluationsChanged) isClientMsg()  {}
func (attached) isClientMsg()            {}
func (pending) isClientMsg()             {}
func (Watch) isClientMsg()               {}
func (Unwatch) isClientMsg()             {}
func (GetState) isClientMsg()            {}
func (Shutdown) isClientMsg()            {}

// Snapshot is what watchers receive. Version increases on every change to
// any field.
type Snapshot struct {
	Version      int                      `json:"version"`
	Session      *store.Session           `json:"session,omitempty"`
	Self         *store.Participant       `json:"self,omitempty"`
	Participants []store.Participant      `json:"participants"`
	Evaluations  []store.EvaluationRecord `json:"evaluations,omitempty"`
	Pending      map[Command]bool         `json:"pending,omitempty"`
	LastError    string                   `json:"last_error,omitempty"`
}

type Reconciler struct {
	inbox  chan Msg
	repo   store.Repository
	cmds   Commands
	userID string
	peers  Peers
	log    *zap.Logger

	// owned by the loop goroutine
	session      *store.Session
	self         *store.Participant
	participants []store.Participant
	evaluations  []store.EvaluationRecord
	pending      map[Command]bool
	lastErr      string
	version      int
	watchers     map[string]chan Snapshot
	unsubscribe  func()

	// changes that found the inbox full, replayed as refetches
	dirtyMu sync.Mutex
	dirty   map[store.Table]bool
	kick    chan struct{}

	ctx       context.Context
	cancel    context.CancelFunc
	done      chan struct{}
	closeOnce sync.Once
}

type Option func(*Reconciler)

func WithPeers(p Peers) Option { return func(r *Reconciler) { r.peers = p } }

func WithLogger(log *zap.Logger) Option { return func(r *Reconciler) { r.log = log } }

// New starts an unattached view for userID. Join or Attach binds it to a
// session.
func New(parent context.Context, repo store.Repository, cmds Commands, userID string, opts ...Option) *Reconciler {
	ctx, cancel := context.WithCancel(parent)
	r := &Reconciler{
		inbox:    make(chan Msg, 64),
		repo:     repo,
		cmds:     cmds,
		userID:   userID,
		log:      zap.NewNop(),
		pending:  make(map[Command]bool),
		watchers: make(map[string]chan Snapshot),
		dirty:    make(map[store.Table]bool),
		kick:     make(chan struct{}, 1),
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
	for _, opt := range opts {
		opt(r)
	}
	go r.loop()
	return r
}

// Inbox exposes the actor's inbox for Watch, Unwatch and GetState.
func (r *Reconciler) Inbox() chan<- Msg { return r.inbox }

func (r *Reconciler) send(m Msg) bool {
	if r.ctx.Err() != nil {
		return false
	}
	select {
	case r.inbox <- m:
		return true
	case <-r.ctx.Done():
		return false
	}
}

// State returns the current snapshot.
func (r *Reconciler) State(ctx context.Context) (Snapshot, error) {
	reply := make(chan Snapshot, 1)
	if !r.send(GetState{Reply: reply}) {
		return Snapshot{}, ErrClosed
	}
	select {
	case s := <-reply:
		return s, nil
	case <-r.ctx.Done():
		return Snapshot{}, ErrClosed
	case <-ctx.Done():
		return Snapshot{}, ctx.Err()
	}
}

// Join calls the orchestrator and attaches the view to the joined session.
// The snapshot only reflects the join once the store confirms it.
func (r *Reconciler) Join(ctx context.Context, code string, preferred *engine.Role) (store.Participant, error) {
	if !r.send(pending{Cmd: CmdJoin, On: true}) {
		return store.Participant{}, ErrClosed
	}
	s, p, err := r.cmds.JoinSession(ctx, code, r.userID, preferred)
	if !r.send(pending{Cmd: CmdJoin, Err: err}) {
		return store.Participant{}, ErrClosed
	}
	if err != nil {
		return store.Participant{}, err
	}
	return p, r.attach(ctx, s, p)
}

// Attach binds the view to a session the user already belongs to, such as
// one it just created.
func (r *Reconciler) Attach(ctx context.Context, s store.Session, self store.Participant) error {
	return r.attach(ctx, s, self)
}

func (r *Reconciler) attach(ctx context.Context, s store.Session, self store.Participant) error {
	done := make(chan struct{})
	if !r.send(attached{Session: s, Self: self, Done: done}) {
		return ErrClosed
	}
	select {
	case <-done:
		return nil
	case <-r.ctx.Done():
		return ErrClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Advance asks the orchestrator to move the attached session forward.
func (r *Reconciler) Advance(ctx context.Context) (engine.Phase, error) {
	snap, err := r.State(ctx)
	if err != nil {
		return "", err
	}
	if snap.Session == nil {
		return "", ErrNotAttached
	}
	if !r.send(pending{Cmd: CmdAdvance, On: true}) {
		return "", ErrClosed
	}
	phase, err := r.cmds.AdvancePhase(ctx, snap.Session.ID, r.userID)
	if !r.send(pending{Cmd: CmdAdvance, Err: err}) {
		return "", ErrClosed
	}
	return phase, err
}

// Close unsubscribes from the change feed, tears down peer connections and
// closes every watcher. Results of in-flight commands are discarded.
func (r *Reconciler) Close() error {
	r.closeOnce.Do(func() {
		r.cancel()
		<-r.done
	})
	return nil
}

// Done is closed once the view has shut down.
func (r *Reconciler) Done() <-chan struct{} { return r.done }

func (r *Reconciler) loop() {
	defer close(r.done)
	for {
		select {
		case <-r.ctx.Done():
			r.shutdown()
			return

		case <-r.kick:
			if r.replayDirty() {
				r.bump()
			}

		case m := <-r.inbox:
			switch msg := m.(type) {
			case attached:
				r.onAttach(msg)
				close(msg.Done)

			case sessionChanged:
				if r.applySession(msg.Session) {
					r.bump()
				}

			case participantsChanged:
				if r.refetchParticipants() {
					r.bump()
				}

			case evaluationsChanged:
				if r.refetchEvaluations() {
					r.bump()
				}

			case pending:
				if msg.On {
					r.pending[msg.Cmd] = true
				} else {
					delete(r.pending, msg.Cmd)
				}
				r.lastErr = ""
				if msg.Err != nil {
					r.lastErr = msg.Err.Error()
				}
				r.bump()

			case Watch:
				r.watchers[msg.ID] = msg.Outbox
				select {
				case msg.Outbox <- r.snapshot():
				default:
					close(msg.Outbox)
					delete(r.watchers, msg.ID)
				}

			case Unwatch:
				if ch, ok := r.watchers[msg.ID]; ok {
					close(ch)
					delete(r.watchers, msg.ID)
				}

			case GetState:
				msg.Reply <- r.snapshot()

			case Shutdown:
				r.cancel()
			}
		}
	}
}

func (r *Reconciler) onAttach(msg attached) {
	if r.unsubscribe != nil {
		if r.session != nil && r.session.ID == msg.Session.ID {
			r.self = &msg.Self
			r.bump()
			return
		}
		r.unsubscribe()
	}

	r.session = nil
	r.self = &msg.Self
	r.participants = nil
	r.evaluations = nil

	sessionID := msg.Session.ID
	r.unsubscribe = r.repo.Subscribe(sessionID, r.onChange)

	// the join may have committed before the subscription; start from the
	// store, not from the call response
	r.applySession(&msg.Session)
	r.applySession(nil)
	r.refetchParticipants()
	r.refetchEvaluations()
	r.bump()
}

// onChange runs on the hub goroutine and never blocks it. A change that
// finds the inbox full is folded into a refetch of its table.
func (r *Reconciler) onChange(c store.Change) {
	var m Msg
	switch c.Table {
	case store.TableSessions:
		m = sessionChanged{Session: c.Session}
	case store.TableParticipants:
		m = participantsChanged{}
	case store.TableEvaluations:
		m = evaluationsChanged{}
	default:
		return
	}
	if r.ctx.Err() != nil {
		return
	}
	select {
	case r.inbox <- m:
		return
	default:
	}

	r.dirtyMu.Lock()
	r.dirty[c.Table] = true
	r.dirtyMu.Unlock()
	select {
	case r.kick <- struct{}{}:
	default:
	}
}

// replayDirty refetches every table whose changes were coalesced.
func (r *Reconciler) replayDirty() bool {
	r.dirtyMu.Lock()
	tables := r.dirty
	r.dirty = make(map[store.Table]bool)
	r.dirtyMu.Unlock()

	changed := false
	if tables[store.TableSessions] && r.applySession(nil) {
		changed = true
	}
	if tables[store.TableParticipants] && r.refetchParticipants() {
		changed = true
	}
	if tables[store.TableEvaluations] && r.refetchEvaluations() {
		changed = true
	}
	return changed
}

// applySession replaces the local session unless the incoming phase is
// behind the one already held. A nil payload is re-read from the store.
func (r *Reconciler) applySession(s *store.Session) bool {
	if s == nil {
		id := r.sessionID()
		if id == "" {
			return false
		}
		fresh, err := r.repo.Session(r.ctx, id)
		if err != nil {
			r.log.Warn("session refetch failed", zap.String("session_id", id), zap.Error(err))
			return false
		}
		s = &fresh
	}
	if r.session != nil {
		if s.ID != r.session.ID {
			return false
		}
		if engine.Behind(s.Phase, r.session.Phase) {
			r.log.Debug("stale session change dropped",
				zap.String("session_id", s.ID),
				zap.String("incoming", string(s.Phase)),
				zap.String("held", string(r.session.Phase)))
			return false
		}
	}
	cp := *s
	r.session = &cp
	return true
}

func (r *Reconciler) sessionID() string {
	if r.session != nil {
		return r.session.ID
	}
	if r.self != nil {
		return r.self.SessionID
	}
	return ""
}

// refetchParticipants replaces the list wholesale with the connected
// participants in join order.
func (r *Reconciler) refetchParticipants() bool {
	id := r.sessionID()
	if id == "" {
		return false
	}
	ps, err := r.repo.Participants(r.ctx, id, true)
	if err != nil {
		r.log.Warn("participant refetch failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	r.participants = ps
	if r.self != nil {
		for i := range ps {
			if ps[i].ID == r.self.ID {
				p := ps[i]
				r.self = &p
			}
		}
	}
	r.syncPeers()
	return true
}

func (r *Reconciler) refetchEvaluations() bool {
	id := r.sessionID()
	if id == "" {
		return false
	}
	recs, err := r.repo.Evaluations(r.ctx, id)
	if err != nil {
		r.log.Warn("evaluation refetch failed", zap.String("session_id", id), zap.Error(err))
		return false
	}
	r.evaluations = recs
	return true
}

// syncPeers hands the peer manager every other connected non-spectator.
// Spectators take no part in the audio mesh.
func (r *Reconciler) syncPeers() {
	if r.peers == nil || r.self == nil {
		return
	}
	var ids []string
	if r.self.Role != engine.RoleSpectator {
		for _, p := range r.participants {
			if p.ID != r.self.ID && p.Role != engine.RoleSpectator {
				ids = append(ids, p.ID)
			}
		}
	}
	r.peers.Sync(r.ctx, ids)
}

func (r *Reconciler) snapshot() Snapshot {
	snap := Snapshot{
		Version:      r.version,
		Participants: append([]store.Participant(nil), r.participants...),
		Evaluations:  append([]store.EvaluationRecord(nil), r.evaluations...),
		LastError:    r.lastErr,
	}
	if r.session != nil {
		s := *r.session
		snap.Session = &s
	}
	if r.self != nil {
		p := *r.self
		snap.Self = &p
	}
	if len(r.pending) > 0 {
		snap.Pending = make(map[Command]bool, len(r.pending))
		for k, v := range r.pending {
			snap.Pending[k] = v
		}
	}
	return snap
}

func (r *Reconciler) bump() {
	r.version++
	snap := r.snapshot()
	for id, ch := range r.watchers {
		select {
		case ch <- snap:
		default:
			// slow watcher, drop it
			close(ch)
			delete(r.watchers, id)
		}
	}
}

func (r *Reconciler) shutdown() {
	if r.unsubscribe != nil {
		r.unsubscribe()
		r.unsubscribe = nil
	}
	if r.peers != nil {
		if err := r.peers.Close(); err != nil {
			r.log.Warn("peer teardown failed", zap.Error(err))
		}
	}
	for id, ch := range r.watchers {
		close(ch)
		delete(r.watchers, id)
	}
}
