package peer

import (
	"context"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWSNegotiator_OfferAnswerRoundTrip(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := &WSNegotiator{}
	pending, err := n.Offer(ctx)
	require.NoError(t, err)

	answer, answerer, err := n.Answer(ctx, pending.Payload())
	require.NoError(t, err)
	defer answerer.Close()

	initiator, err := pending.Accept(ctx, answer)
	require.NoError(t, err)
	defer initiator.Close()

	require.NoError(t, initiator.Send(ctx, []byte("ping")))
	got, err := answerer.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "ping", string(got))

	require.NoError(t, answerer.Send(ctx, []byte("pong")))
	got, err = initiator.Recv(ctx)
	require.NoError(t, err)
	assert.Equal(t, "pong", string(got))
}

func TestWSNegotiator_RejectsWrongNonce(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	n := &WSNegotiator{}
	pending, err := n.Offer(ctx)
	require.NoError(t, err)
	defer pending.Cancel()

	var o wsOffer
	require.NoError(t, json.Unmarshal(pending.Payload(), &o))

	_, resp, err := websocket.Dial(ctx, o.URL, &websocket.DialOptions{
		HTTPHeader: http.Header{nonceHeader: []string{"forged"}},
	})
	require.Error(t, err)
	if resp != nil {
		assert.Equal(t, http.StatusForbidden, resp.StatusCode)
	}

	_, err = pending.Accept(ctx, []byte(`{"nonce":"forged"}`))
	assert.Error(t, err)
}

func TestWSNegotiator_MalformedOffer(t *testing.T) {
	_, _, err := (&WSNegotiator{}).Answer(context.Background(), []byte("not json"))
	assert.Error(t, err)
}

func TestManager_OverWebsocket(t *testing.T) {
	ctx := context.Background()
	signals := newSignals(t)

	var got inbox
	a := NewManager(ctx, signals, &WSNegotiator{}, testConfig("user-2"))
	defer a.Close()
	b := NewManager(ctx, signals, &WSNegotiator{}, testConfig("user-1"), WithReceiver(got.receive))
	defer b.Close()

	_, err := a.Connect(ctx, "user-1", IsInitiator("user-2", "user-1"))
	require.NoError(t, err)
	require.Eventually(t, func() bool { return b.State("user-2") == StateConnected }, 2*time.Second, 5*time.Millisecond)

	assert.Equal(t, 1, a.Send(ctx, []byte("objection")))
	require.Eventually(t, func() bool { return len(got.all()) == 1 }, 2*time.Second, 5*time.Millisecond)
	assert.Equal(t, "user-2:objection", got.all()[0])
}
