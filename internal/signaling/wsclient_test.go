package signaling

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	v1 "github.com/sebas/dialtone/api/types/v1"
)

type relayStub struct {
	upgrader websocket.Upgrader

	mu    sync.Mutex
	conns []*websocket.Conn

	sent chan v1.Message
}

func (r *relayStub) handler(w http.ResponseWriter, req *http.Request) {
	conn, err := r.upgrader.Upgrade(w, req, nil)
	if err != nil {
		return
	}
	r.mu.Lock()
	r.conns = append(r.conns, conn)
	r.mu.Unlock()

	// Drain inbound, recording what the client sent.
	go func() {
		for {
			_, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			var msg v1.Message
			if json.Unmarshal(data, &msg) != nil {
				continue
			}
			select {
			case r.sent <- msg:
			default:
			}
		}
	}()
}

func (r *relayStub) push(t *testing.T, msg v1.Message) {
	t.Helper()
	r.mu.Lock()
	defer r.mu.Unlock()
	require.NotEmpty(t, r.conns)
	require.NoError(t, r.conns[len(r.conns)-1].WriteJSON(msg))
}

func (r *relayStub) dropAll() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, conn := range r.conns {
		conn.Close()
	}
	r.conns = nil
}

func startRelay(t *testing.T) (*relayStub, string) {
	t.Helper()
	stub := &relayStub{sent: make(chan v1.Message, 32)}
	srv := httptest.NewServer(http.HandlerFunc(stub.handler))
	t.Cleanup(srv.Close)
	t.Cleanup(stub.dropAll)
	return stub, "ws" + strings.TrimPrefix(srv.URL, "http")
}

func waitForMessage(t *testing.T, ch <-chan v1.Message, want v1.MessageType) v1.Message {
	t.Helper()
	deadline := time.After(2 * time.Second)
	for {
		select {
		case msg := <-ch:
			if msg.Type == want {
				return msg
			}
		case <-deadline:
			t.Fatalf("message %s not received", want)
		}
	}
}

func TestClientDispatchesInboundMessages(t *testing.T) {
	stub, url := startRelay(t)

	client := NewClient(url, "token")
	require.NoError(t, client.Connect())
	defer client.Close()
	require.Equal(t, StateConnected, client.State())

	received := make(chan v1.Message, 8)
	cancel := client.Subscribe(func(msg v1.Message) { received <- msg })
	defer cancel()

	stub.push(t, v1.Message{Type: v1.MessageRinging, Payload: v1.Payload{CallSid: "CA123"}})

	msg := waitForMessage(t, received, v1.MessageRinging)
	assert.Equal(t, "CA123", msg.Payload.CallSid)
}

func TestClientSynthesizesTransportClose(t *testing.T) {
	stub, url := startRelay(t)

	client := NewClient(url, "token")
	require.NoError(t, client.Connect())
	defer client.Close()

	received := make(chan v1.Message, 8)
	client.Subscribe(func(msg v1.Message) { received <- msg })

	stub.dropAll()

	waitForMessage(t, received, v1.MessageTransportClose)
	assert.Equal(t, StateDisconnected, client.State())
}

func TestClientRejectsSendWhileDisconnected(t *testing.T) {
	client := NewClient("ws://127.0.0.1:0", "token")
	err := client.Hangup("CA123", nil)
	require.Error(t, err)
}

func TestSubscribeCancelIsIdempotent(t *testing.T) {
	stub, url := startRelay(t)

	client := NewClient(url, "token")
	require.NoError(t, client.Connect())
	defer client.Close()

	var count int
	var mu sync.Mutex
	cancel := client.Subscribe(func(v1.Message) {
		mu.Lock()
		count++
		mu.Unlock()
	})
	cancel()
	cancel()

	stub.push(t, v1.Message{Type: v1.MessageRinging})
	time.Sleep(100 * time.Millisecond)

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 0, count)
}

func TestReconnectSerialization(t *testing.T) {
	stub, url := startRelay(t)

	client := NewClient(url, "token")
	require.NoError(t, client.Connect())
	defer client.Close()

	require.NoError(t, client.Reconnect("CA123", "v=0", "RT42"))

	msg := waitForMessage(t, stub.sent, "reconnect")
	assert.Equal(t, "CA123", msg.Payload.CallSid)
	assert.Equal(t, "v=0", msg.Payload.SDP)
	assert.Equal(t, "RT42", msg.Payload.Reconnect)
}

func TestListenPresentsStoredReconnectToken(t *testing.T) {
	stub, url := startRelay(t)

	client := NewClient(url, "token")
	require.NoError(t, client.Connect())

	first := waitForMessage(t, stub.sent, "listen")
	assert.Empty(t, first.Payload.Reconnect)

	client.SetReconnectToken("RT42")
	client.Close()
	require.NoError(t, client.Connect())
	defer client.Close()

	second := waitForMessage(t, stub.sent, "listen")
	assert.Equal(t, "RT42", second.Payload.Reconnect)
}
