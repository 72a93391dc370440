package peer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const nonceHeader = "X-Peer-Nonce"

// WSNegotiator links a pair over a websocket: the initiator listens and
// offers its URL, the answerer dials it presenting the offer's nonce.
type WSNegotiator struct {
	// ListenAddr is where initiators listen; port 0 picks a free one.
	ListenAddr string
	// AdvertiseHost replaces the listener host in offers, for peers that
	// reach this one through another address.
	AdvertiseHost string
	Log           *zap.Logger
}

type wsOffer struct {
	URL   string `json:"url"`
	Nonce string `json:"nonce"`
}

type wsAnswer struct {
	Nonce string `json:"nonce"`
}

func (n *WSNegotiator) logger() *zap.Logger {
	if n.Log == nil {
		return zap.NewNop()
	}
	return n.Log
}

func (n *WSNegotiator) Offer(ctx context.Context) (Pending, error) {
	addr := n.ListenAddr
	if addr == "" {
		addr = "127.0.0.1:0"
	}
	var lc net.ListenConfig
	ln, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}

	host, port, _ := net.SplitHostPort(ln.Addr().String())
	if n.AdvertiseHost != "" {
		host = n.AdvertiseHost
	}

	p := &wsPending{
		nonce: uuid.NewString(),
		conns: make(chan *websocket.Conn, 1),
		log:   n.logger(),
	}
	p.offer, _ = json.Marshal(wsOffer{URL: "ws://" + net.JoinHostPort(host, port) + "/", Nonce: p.nonce})
	p.srv = &http.Server{Handler: http.HandlerFunc(p.accept)}

	go func() {
		if err := p.srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			p.log.Warn("peer listener stopped", zap.Error(err))
		}
	}()
	return p, nil
}

func (n *WSNegotiator) Answer(ctx context.Context, offer []byte) ([]byte, Channel, error) {
	var o wsOffer
	if err := json.Unmarshal(offer, &o); err != nil || o.URL == "" {
		return nil, nil, fmt.Errorf("malformed offer")
	}

	conn, _, err := websocket.Dial(ctx, o.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{nonceHeader: []string{o.Nonce}},
	})
	if err != nil {
		return nil, nil, fmt.Errorf("dial %s: %w", o.URL, err)
	}
	answer, _ := json.Marshal(wsAnswer{Nonce: o.Nonce})
	return answer, wsChannel{conn: conn}, nil
}

type wsPending struct {
	nonce string
	offer []byte
	srv   *http.Server
	conns chan *websocket.Conn
	once  sync.Once
	log   *zap.Logger
}

func (p *wsPending) accept(w http.ResponseWriter, r *http.Request) {
	if r.Header.Get(nonceHeader) != p.nonce {
		http.Error(w, "unknown offer", http.StatusForbidden)
		return
	}
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		return
	}
	select {
	case p.conns <- conn:
	default:
		conn.Close(websocket.StatusPolicyViolation, "offer already answered")
	}
}

func (p *wsPending) Payload() []byte { return p.offer }

func (p *wsPending) Accept(ctx context.Context, answer []byte) (Channel, error) {
	defer p.Cancel()

	var a wsAnswer
	if err := json.Unmarshal(answer, &a); err != nil || a.Nonce != p.nonce {
		return nil, fmt.Errorf("answer does not match offer")
	}
	select {
	case conn := <-p.conns:
		return wsChannel{conn: conn}, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Cancel stops listening. An accepted connection outlives the listener.
func (p *wsPending) Cancel() {
	p.once.Do(func() { _ = p.srv.Close() })
}

type wsChannel struct {
	conn *websocket.Conn
}

func (c wsChannel) Send(ctx context.Context, payload []byte) error {
	return c.conn.Write(ctx, websocket.MessageBinary, payload)
}

func (c wsChannel) Recv(ctx context.Context) ([]byte, error) {
	_, data, err := c.conn.Read(ctx)
	return data, err
}

func (c wsChannel) Close() error {
	return c.conn.Close(websocket.StatusNormalClosure, "bye")
}
