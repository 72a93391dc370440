// Package peer manages the direct channels between the non-spectator
// participants of a session. Setup messages travel through the session's
// signal mailbox, which is polled: signaling latency is bounded by one
// polling interval.
package peer

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/trial-backend/internal/store"
)

var ErrConnectionFailed = errors.New("peer connection failed")
var ErrManagerClosed = errors.New("peer manager closed")

type State string

const (
	StateIdle      State = "idle"
	StateSignaling State = "signaling"
	StateConnected State = "connected"
	StateClosed    State = "closed"
	StateFailed    State = "failed"
)

// IsInitiator reports whether self opens the connection to peer. The greater
// identity initiates, so both sides of a pair agree without coordination.
func IsInitiator(self, peer string) bool {
	return self > peer
}

type Config struct {
	SessionID string
	Self      string
	// PollInterval is how often the mailbox is checked. Default 2s.
	PollInterval time.Duration
	// SignalTimeout bounds how long a pair may stay in signaling. Default 30s.
	SignalTimeout time.Duration
}

// Conn is one peer pair as seen from this side.
type Conn struct {
	PeerID    string
	Initiator bool

	mu        sync.Mutex
	state     State
	ch        Channel
	answering bool
	answers   chan []byte
	ready     chan struct{}
	err       error
	ctx       context.Context
	cancel    context.CancelFunc
}

func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

type Manager struct {
	cfg     Config
	signals store.SignalStore
	neg     Negotiator
	capture Capture
	onMsg   func(from string, payload []byte)
	onErr   func(error)
	log     *zap.Logger

	mu    sync.Mutex
	pairs map[string]*Conn

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	once   sync.Once
}

type Option func(*Manager)

func WithCapture(c Capture) Option { return func(m *Manager) { m.capture = c } }

// WithReceiver sets the callback for inbound payloads. It runs on the pair's
// reader goroutine.
func WithReceiver(fn func(from string, payload []byte)) Option {
	return func(m *Manager) { m.onMsg = fn }
}

// WithPollErrors receives mailbox failures. They are retryable; the loop
// keeps polling.
func WithPollErrors(fn func(error)) Option { return func(m *Manager) { m.onErr = fn } }

func WithLogger(log *zap.Logger) Option { return func(m *Manager) { m.log = log } }

// NewManager starts the polling loop. Close stops it.
func NewManager(parent context.Context, signals store.SignalStore, neg Negotiator, cfg Config, opts ...Option) *Manager {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 2 * time.Second
	}
	if cfg.SignalTimeout <= 0 {
		cfg.SignalTimeout = 30 * time.Second
	}
	ctx, cancel := context.WithCancel(parent)
	m := &Manager{
		cfg:     cfg,
		signals: signals,
		neg:     neg,
		onMsg:   func(string, []byte) {},
		log:     zap.NewNop(),
		pairs:   make(map[string]*Conn),
		ctx:     ctx,
		cancel:  cancel,
	}
	for _, opt := range opts {
		opt(m)
	}
	m.log = m.log.With(zap.String("session_id", cfg.SessionID), zap.String("self", cfg.Self))

	m.wg.Add(1)
	go m.poll()
	return m
}

func (m *Manager) poll() {
	defer m.wg.Done()
	t := time.NewTicker(m.cfg.PollInterval)
	defer t.Stop()

	for {
		select {
		case <-m.ctx.Done():
			return
		case <-t.C:
			sigs, err := m.signals.TakeSignals(m.ctx, m.cfg.SessionID, m.cfg.Self)
			if err != nil {
				if m.ctx.Err() != nil {
					return
				}
				m.log.Warn("signal poll failed", zap.Error(err))
				if m.onErr != nil {
					m.onErr(err)
				}
				continue
			}
			for _, sig := range sigs {
				m.dispatch(sig)
			}
		}
	}
}

func (m *Manager) dispatch(sig store.Signal) {
	switch sig.Kind {
	case store.SignalOffer:
		m.answer(sig)

	case store.SignalAnswer:
		c := m.pair(sig.From)
		if c == nil || !c.Initiator {
			m.log.Debug("answer without offer dropped", zap.String("from", sig.From))
			return
		}
		select {
		case c.answers <- sig.Payload:
		default:
		}

	case store.SignalBye:
		if c := m.pair(sig.From); c != nil {
			m.drop(c, StateClosed, false)
		}

	case store.SignalCandidate:
		// the websocket negotiator carries one address in its offer
		m.log.Debug("candidate ignored", zap.String("from", sig.From))
	}
}

func (m *Manager) pair(peerID string) *Conn {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pairs[peerID]
}

// claim returns the live pair for peerID, or registers a new one in
// signaling. fresh reports whether c was just registered.
func (m *Manager) claim(peerID string, initiator bool) (c *Conn, fresh bool, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return nil, false, ErrManagerClosed
	}
	if c := m.pairs[peerID]; c != nil {
		if st := c.State(); st == StateSignaling || st == StateConnected {
			return c, false, nil
		}
	}
	ctx, cancel := context.WithCancel(m.ctx)
	c = &Conn{
		PeerID:    peerID,
		Initiator: initiator,
		state:     StateSignaling,
		answers:   make(chan []byte, 1),
		ready:     make(chan struct{}),
		ctx:       ctx,
		cancel:    cancel,
	}
	m.pairs[peerID] = c
	return c, true, nil
}

// Connect negotiates a channel to peerID. As initiator it sends the offer;
// otherwise it waits for the peer's offer. A pair already signaling or
// connected is returned as is once it settles.
func (m *Manager) Connect(ctx context.Context, peerID string, asInitiator bool) (*Conn, error) {
	if peerID == "" || peerID == m.cfg.Self {
		return nil, fmt.Errorf("%w: invalid peer %q", ErrConnectionFailed, peerID)
	}
	c, fresh, err := m.claim(peerID, asInitiator)
	if err != nil {
		return nil, err
	}
	if fresh && asInitiator {
		m.spawn(func() { m.offer(c) })
	}
	return m.await(ctx, c)
}

func (m *Manager) await(ctx context.Context, c *Conn) (*Conn, error) {
	timer := time.NewTimer(m.cfg.SignalTimeout)
	defer timer.Stop()

	select {
	case <-c.ready:
	case <-timer.C:
		m.expire(c)
		<-c.ready
	case <-ctx.Done():
		return c, ctx.Err()
	case <-m.ctx.Done():
		return c, ErrManagerClosed
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.state != StateConnected {
		if c.err != nil {
			return c, fmt.Errorf("%w: %s: %v", ErrConnectionFailed, c.PeerID, c.err)
		}
		return c, fmt.Errorf("%w: %s: %s", ErrConnectionFailed, c.PeerID, c.state)
	}
	return c, nil
}

// spawn runs fn on a goroutine Close waits for, unless the manager is
// already closed.
func (m *Manager) spawn(fn func()) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.ctx.Err() != nil {
		return false
	}
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		fn()
	}()
	return true
}

func (m *Manager) offer(c *Conn) {
	ctx, cancel := context.WithTimeout(c.ctx, m.cfg.SignalTimeout)
	defer cancel()

	pending, err := m.neg.Offer(ctx)
	if err != nil {
		m.fail(c, err)
		return
	}
	if err := m.put(ctx, c.PeerID, store.SignalOffer, pending.Payload()); err != nil {
		pending.Cancel()
		m.fail(c, err)
		return
	}

	var answer []byte
	select {
	case answer = <-c.answers:
	case <-ctx.Done():
		pending.Cancel()
		m.fail(c, errors.New("no answer before timeout"))
		return
	}

	ch, err := pending.Accept(ctx, answer)
	if err != nil {
		m.fail(c, err)
		return
	}
	m.established(c, ch)
}

// answer handles an inbound offer, including unsolicited ones.
func (m *Manager) answer(sig store.Signal) {
	c, _, err := m.claim(sig.From, false)
	if err != nil {
		return
	}
	if c.Initiator {
		m.log.Debug("offer from the answering side dropped", zap.String("from", sig.From))
		return
	}
	c.mu.Lock()
	busy := c.state != StateSignaling || c.answering
	c.answering = true
	c.mu.Unlock()
	if busy {
		return
	}

	m.spawn(func() {
		ctx, cancel := context.WithTimeout(c.ctx, m.cfg.SignalTimeout)
		defer cancel()

		reply, ch, err := m.neg.Answer(ctx, sig.Payload)
		if err != nil {
			m.fail(c, err)
			return
		}
		if err := m.put(ctx, c.PeerID, store.SignalAnswer, reply); err != nil {
			_ = ch.Close()
			m.fail(c, err)
			return
		}
		m.established(c, ch)
	})
}

func (m *Manager) put(ctx context.Context, to string, kind store.SignalKind, payload []byte) error {
	return m.signals.PutSignal(ctx, store.Signal{
		ID:        uuid.NewString(),
		SessionID: m.cfg.SessionID,
		From:      m.cfg.Self,
		To:        to,
		Kind:      kind,
		Payload:   payload,
		CreatedAt: time.Now().UTC(),
	})
}

func (m *Manager) established(c *Conn, ch Channel) {
	c.mu.Lock()
	if c.state != StateSignaling {
		c.mu.Unlock()
		_ = ch.Close()
		return
	}
	c.ch = ch
	c.state = StateConnected
	close(c.ready)
	c.mu.Unlock()

	if m.capture != nil {
		if err := m.capture.Attach(c.PeerID); err != nil {
			m.log.Warn("capture attach failed", zap.String("peer", c.PeerID), zap.Error(err))
		}
	}
	m.log.Info("peer connected", zap.String("peer", c.PeerID), zap.Bool("initiator", c.Initiator))

	m.spawn(func() { m.read(c, ch) })
}

func (m *Manager) read(c *Conn, ch Channel) {
	for {
		data, err := ch.Recv(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil {
				m.log.Info("peer channel lost", zap.String("peer", c.PeerID), zap.Error(err))
				m.drop(c, StateClosed, false)
			}
			return
		}
		m.onMsg(c.PeerID, data)
	}
}

func (m *Manager) fail(c *Conn, err error) {
	c.mu.Lock()
	c.err = err
	c.mu.Unlock()
	m.log.Warn("peer negotiation failed", zap.String("peer", c.PeerID), zap.Error(err))
	m.drop(c, StateFailed, false)
}

// expire fails c if it is still signaling.
func (m *Manager) expire(c *Conn) {
	m.terminate(c, StateFailed, false, func(from State) bool {
		if from != StateSignaling {
			return false
		}
		c.err = errors.New("signaling timed out")
		return true
	})
}

// drop moves c to a terminal state, releases its resources and removes it
// from the active set. There is no reconnection.
func (m *Manager) drop(c *Conn, to State, sayBye bool) {
	m.terminate(c, to, sayBye, nil)
}

// terminate runs under c.mu up to the state change; when is consulted with
// the current state before anything happens.
func (m *Manager) terminate(c *Conn, to State, sayBye bool, when func(from State) bool) {
	c.mu.Lock()
	from := c.state
	if from == StateClosed || from == StateFailed || (when != nil && !when(from)) {
		c.mu.Unlock()
		return
	}
	c.state = to
	ch := c.ch
	c.ch = nil
	if from == StateSignaling {
		close(c.ready)
	}
	c.mu.Unlock()
	c.cancel()

	m.mu.Lock()
	if m.pairs[c.PeerID] == c {
		delete(m.pairs, c.PeerID)
	}
	m.mu.Unlock()

	if sayBye {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		if err := m.put(ctx, c.PeerID, store.SignalBye, nil); err != nil {
			m.log.Debug("bye not delivered", zap.String("peer", c.PeerID), zap.Error(err))
		}
		cancel()
	}
	if ch != nil {
		_ = ch.Close()
		if m.capture != nil {
			m.capture.Release(c.PeerID)
		}
	}
}

// Send writes payload to every connected peer and returns how many accepted
// it. Pairs still signaling miss it; nothing is buffered or retried.
func (m *Manager) Send(ctx context.Context, payload []byte) int {
	type target struct {
		c  *Conn
		ch Channel
	}
	var targets []target
	m.mu.Lock()
	for _, c := range m.pairs {
		c.mu.Lock()
		if c.state == StateConnected {
			targets = append(targets, target{c, c.ch})
		}
		c.mu.Unlock()
	}
	m.mu.Unlock()

	var mu sync.Mutex
	sent := 0
	var g errgroup.Group
	for _, t := range targets {
		g.Go(func() error {
			if err := t.ch.Send(ctx, payload); err != nil {
				m.log.Debug("send dropped", zap.String("peer", t.c.PeerID), zap.Error(err))
				return nil
			}
			mu.Lock()
			sent++
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()
	return sent
}

// Disconnect closes the pair with peerID and tells the peer.
func (m *Manager) Disconnect(peerID string) {
	if c := m.pair(peerID); c != nil {
		m.drop(c, StateClosed, true)
	}
}

// Sync makes the active set match peerIDs: missing pairs this side
// initiates are connected in the background, pairs no longer listed are
// disconnected. The answering side waits for the peer's offer.
func (m *Manager) Sync(ctx context.Context, peerIDs []string) {
	want := make(map[string]bool, len(peerIDs))
	for _, id := range peerIDs {
		want[id] = true
	}

	m.mu.Lock()
	var stale []string
	for id := range m.pairs {
		if !want[id] {
			stale = append(stale, id)
		}
	}
	m.mu.Unlock()
	for _, id := range stale {
		m.Disconnect(id)
	}

	for id := range want {
		if id == m.cfg.Self || !IsInitiator(m.cfg.Self, id) || m.pair(id) != nil {
			continue
		}
		m.spawn(func() {
			if _, err := m.Connect(m.ctx, id, true); err != nil {
				m.log.Info("peer connect failed", zap.String("peer", id), zap.Error(err))
			}
		})
	}
}

// State reports the pair state for peerID; a peer outside the active set
// is idle.
func (m *Manager) State(peerID string) State {
	if c := m.pair(peerID); c != nil {
		return c.State()
	}
	return StateIdle
}

// Peers lists the pairs currently in the active set and their states.
func (m *Manager) Peers() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]State, len(m.pairs))
	for id, c := range m.pairs {
		out[id] = c.State()
	}
	return out
}

// Close stops polling and closes every pair. It waits for the manager's
// goroutines, so no timer or reader outlives it.
func (m *Manager) Close() error {
	m.once.Do(func() {
		m.mu.Lock()
		m.cancel()
		pairs := make([]*Conn, 0, len(m.pairs))
		for _, c := range m.pairs {
			pairs = append(pairs, c)
		}
		m.mu.Unlock()
		for _, c := range pairs {
			m.drop(c, StateClosed, true)
		}
		m.wg.Wait()
	})
	return nil
}
