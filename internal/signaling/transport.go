// Package signaling provides the control channel to the call relay: the
// Transport contract consumed by the call core, and a WebSocket client
// implementing it.
package signaling

import (
	"encoding/json"

	v1 "github.com/sebas/dialtone/api/types/v1"
)

// State is the coarse connection state of the transport.
type State string

const (
	StateDisconnected State = "disconnected"
	StateConnecting   State = "connecting"
	StateConnected    State = "connected"
)

// String returns the string representation of State.
func (s State) String() string { return string(s) }

// Handler receives inbound relay messages in arrival order. The locally
// synthesized transportClose message is delivered through the same path.
type Handler func(msg v1.Message)

// Transport is the outbound surface of the signaling channel. The call
// core only ever invokes these narrow operations; connection pooling and
// delivery are the transport's concern.
type Transport interface {
	// Answer accepts an incoming call with the local SDP answer.
	Answer(callSid, sdp string) error

	// Invite starts an outgoing call. params carries the caller's custom
	// parameters percent-encoded as a query string.
	Invite(callSid, sdp string, preflight bool, params string) error

	// Reconnect resumes signaling for an established call using the
	// relay-issued reconnect token.
	Reconnect(callSid, sdp, reconnectToken string) error

	// Reinvite renegotiates media for an established call.
	Reinvite(callSid, sdp string) error

	// Reject declines an incoming call.
	Reject(callSid string) error

	// Hangup terminates a call, optionally carrying a cause.
	Hangup(callSid string, cause *v1.ErrorInfo) error

	// DTMF relays dual-tone digits for an established call.
	DTMF(callSid, digits string) error

	// SendMessage transmits an application message; delivery is
	// acknowledged asynchronously via an ack correlated by voiceEventSid.
	SendMessage(callSid string, content json.RawMessage, contentType, messageType, voiceEventSid string) error

	// State returns the current connection state.
	State() State

	// Subscribe registers a handler for inbound messages and returns its
	// removal function. The removal function is idempotent.
	Subscribe(h Handler) (cancel func())
}
