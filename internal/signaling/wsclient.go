package signaling

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	v1 "github.com/sebas/dialtone/api/types/v1"
)

const (
	defaultPingInterval = 10 * time.Second
	writeTimeout        = 5 * time.Second
)

// Client is a WebSocket connection to the signaling relay. It serializes
// outbound messages, runs a read loop dispatching inbound messages to
// subscribers in arrival order, and keeps the connection alive with pings.
type Client struct {
	url   string
	token string
	log   *slog.Logger

	writeMu sync.Mutex
	conn    *websocket.Conn

	mu        sync.Mutex
	state     State
	subs      map[int]Handler
	nextID    int
	closed    chan struct{}
	reconnect string

	pingInterval time.Duration
}

// NewClient creates a signaling client for the given relay URL. The token
// authenticates this device in the listen message sent after connect.
func NewClient(url, token string) *Client {
	return &Client{
		url:          url,
		token:        token,
		log:          slog.Default().With("component", "signaling"),
		state:        StateDisconnected,
		subs:         make(map[int]Handler),
		closed:       make(chan struct{}),
		pingInterval: defaultPingInterval,
	}
}

// Connect dials the relay, registers this device, and starts the read
// and ping loops.
func (c *Client) Connect() error {
	c.mu.Lock()
	if c.state != StateDisconnected {
		c.mu.Unlock()
		return fmt.Errorf("signaling client already %s", c.state)
	}
	c.state = StateConnecting
	select {
	case <-c.closed:
		// Reconnecting after a close needs a fresh shutdown signal.
		c.closed = make(chan struct{})
	default:
	}
	c.mu.Unlock()

	c.log.Info("connecting to relay", "url", c.url)

	conn, _, err := websocket.DefaultDialer.Dial(c.url, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return fmt.Errorf("websocket dial: %w", err)
	}

	c.writeMu.Lock()
	c.conn = conn
	c.writeMu.Unlock()
	c.setState(StateConnected)

	if err := c.sendListen(); err != nil {
		c.Close()
		return err
	}

	c.mu.Lock()
	closed := c.closed
	c.mu.Unlock()
	go c.readLoop(closed)
	go c.pingLoop(closed)

	return nil
}

// Close shuts down the connection. Safe to call multiple times.
func (c *Client) Close() {
	c.mu.Lock()
	select {
	case <-c.closed:
		c.mu.Unlock()
		return
	default:
		close(c.closed)
	}
	c.state = StateDisconnected
	c.mu.Unlock()

	c.writeMu.Lock()
	if c.conn != nil {
		c.conn.Close()
	}
	c.writeMu.Unlock()
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// Subscribe registers a handler for inbound messages. The returned cancel
// removes it and is safe to call more than once.
func (c *Client) Subscribe(h Handler) func() {
	c.mu.Lock()
	id := c.nextID
	c.nextID++
	c.subs[id] = h
	c.mu.Unlock()

	return func() {
		c.mu.Lock()
		delete(c.subs, id)
		c.mu.Unlock()
	}
}

// --- Outbound operations ---

func (c *Client) Answer(callSid, sdp string) error {
	return c.send(v1.Message{Type: v1.MessageAnswer, Payload: v1.Payload{
		CallSid: callSid,
		SDP:     sdp,
	}})
}

func (c *Client) Invite(callSid, sdp string, preflight bool, params string) error {
	return c.send(v1.Message{Type: v1.MessageInvite, Payload: v1.Payload{
		CallSid:    callSid,
		SDP:        sdp,
		Preflight:  preflight,
		Parameters: params,
	}})
}

func (c *Client) Reconnect(callSid, sdp, reconnectToken string) error {
	c.SetReconnectToken(reconnectToken)
	return c.send(v1.Message{Type: "reconnect", Payload: v1.Payload{
		CallSid:   callSid,
		SDP:       sdp,
		Reconnect: reconnectToken,
	}})
}

// SetReconnectToken stores the token the relay issued for this session.
// The next listen message after a reconnect presents it so the relay can
// resume the signaling session instead of starting a new one.
func (c *Client) SetReconnectToken(token string) {
	c.mu.Lock()
	c.reconnect = token
	c.mu.Unlock()
}

func (c *Client) Reinvite(callSid, sdp string) error {
	return c.send(v1.Message{Type: "reinvite", Payload: v1.Payload{
		CallSid: callSid,
		SDP:     sdp,
	}})
}

func (c *Client) Reject(callSid string) error {
	return c.send(v1.Message{Type: "reject", Payload: v1.Payload{CallSid: callSid}})
}

func (c *Client) Hangup(callSid string, cause *v1.ErrorInfo) error {
	return c.send(v1.Message{Type: v1.MessageHangup, Payload: v1.Payload{
		CallSid: callSid,
		Error:   cause,
	}})
}

func (c *Client) DTMF(callSid, digits string) error {
	return c.send(v1.Message{Type: "dtmf", Payload: v1.Payload{
		CallSid: callSid,
		Digits:  digits,
	}})
}

func (c *Client) SendMessage(callSid string, content json.RawMessage, contentType, messageType, voiceEventSid string) error {
	return c.send(v1.Message{Type: v1.MessageMessage, Payload: v1.Payload{
		CallSid:       callSid,
		Content:       content,
		ContentType:   contentType,
		MessageType:   messageType,
		VoiceEventSid: voiceEventSid,
	}})
}

// --- Internals ---

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

func (c *Client) sendListen() error {
	c.mu.Lock()
	reconnect := c.reconnect
	c.mu.Unlock()
	return c.send(v1.Message{Type: "listen", Payload: v1.Payload{
		Reconnect: reconnect,
		Content:   json.RawMessage(fmt.Sprintf("%q", c.token)),
	}})
}

func (c *Client) send(msg v1.Message) error {
	if c.State() != StateConnected {
		return fmt.Errorf("signaling channel is %s", c.State())
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal %s: %w", msg.Type, err)
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("signaling channel is not connected")
	}
	c.conn.SetWriteDeadline(time.Now().Add(writeTimeout))
	if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
		return fmt.Errorf("write %s: %w", msg.Type, err)
	}
	c.log.Debug("relay message sent", "type", string(msg.Type), "call_sid", msg.Payload.CallSid)
	return nil
}

func (c *Client) readLoop(closed <-chan struct{}) {
	for {
		select {
		case <-closed:
			return
		default:
		}

		_, data, err := c.conn.ReadMessage()
		if err != nil {
			select {
			case <-closed:
			default:
				c.log.Warn("relay read failed", "error", err)
				c.setState(StateDisconnected)
				// Deliver the synthetic close so calls can react.
				c.dispatch(v1.Message{Type: v1.MessageTransportClose})
			}
			return
		}

		var msg v1.Message
		if err := json.Unmarshal(data, &msg); err != nil {
			c.log.Warn("relay message unparseable", "error", err)
			continue
		}

		c.dispatch(msg)
	}
}

func (c *Client) dispatch(msg v1.Message) {
	c.mu.Lock()
	handlers := make([]Handler, 0, len(c.subs))
	for _, h := range c.subs {
		handlers = append(handlers, h)
	}
	c.mu.Unlock()

	c.log.Debug("relay message received", "type", string(msg.Type), "call_sid", msg.Payload.CallSid)
	for _, h := range handlers {
		h(msg)
	}
}

func (c *Client) pingLoop(closed <-chan struct{}) {
	ticker := time.NewTicker(c.pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-closed:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := c.conn.WriteControl(
				websocket.PingMessage,
				[]byte{},
				time.Now().Add(writeTimeout),
			)
			c.writeMu.Unlock()
			if err != nil {
				select {
				case <-closed:
				default:
					c.log.Warn("relay ping failed", "error", err)
				}
				return
			}
		}
	}
}

// Ensure Client implements Transport.
var _ Transport = (*Client)(nil)
