// Package types defines the wire shapes exchanged with the signaling relay.
package types

import "encoding/json"

// MessageType identifies a signaling relay message.
type MessageType string

const (
	// MessageAck acknowledges a previously transmitted message.
	MessageAck MessageType = "ack"
	// MessageAnswer carries the remote SDP answer for an outgoing call.
	MessageAnswer MessageType = "answer"
	// MessageCancel indicates the remote party abandoned an unanswered call.
	MessageCancel MessageType = "cancel"
	// MessageConnected indicates the relay accepted our session (also sent
	// after a successful signaling reconnect).
	MessageConnected MessageType = "connected"
	// MessageError carries a relay-side error, optionally correlated to a
	// pending outbound message via VoiceEventSid.
	MessageError MessageType = "error"
	// MessageHangup indicates the remote party terminated the call.
	MessageHangup MessageType = "hangup"
	// MessageInvite announces an incoming call.
	MessageInvite MessageType = "invite"
	// MessageMessage carries an application-defined payload for a call.
	MessageMessage MessageType = "message"
	// MessageReady indicates the relay finished registering this client.
	MessageReady MessageType = "ready"
	// MessageRinging indicates the remote end is being alerted.
	MessageRinging MessageType = "ringing"
	// MessageTransportClose is synthesized locally when the underlying
	// connection to the relay drops. It never appears on the wire.
	MessageTransportClose MessageType = "transportClose"
)

// AckTypeMessage is the acktype value confirming delivery of an
// application message sent with SendMessage.
const AckTypeMessage = "message"

// Message is the envelope for every relay message.
type Message struct {
	Type    MessageType `json:"type"`
	Payload Payload     `json:"payload,omitempty"`
}

// Payload is the union of fields used across message types. Which fields
// are meaningful depends on Type; everything else is left zero.
type Payload struct {
	CallSid string `json:"callsid,omitempty"`

	// SDP is present on invite (offer), answer, and ringing with early media.
	SDP string `json:"sdp,omitempty"`

	// Reconnect is an opaque token enabling signaling reconnection.
	Reconnect string `json:"reconnect,omitempty"`

	// AckType and VoiceEventSid correlate acks with pending messages.
	AckType       string `json:"acktype,omitempty"`
	VoiceEventSid string `json:"voiceeventsid,omitempty"`

	// Application message fields.
	Content     json.RawMessage `json:"content,omitempty"`
	ContentType string          `json:"contenttype,omitempty"`
	MessageType string          `json:"messagetype,omitempty"`

	// Parameters carries the custom parameters of an incoming call,
	// percent-encoded as a query string.
	Parameters string `json:"parameters,omitempty"`

	// Preflight marks an invite as a connectivity test.
	Preflight bool `json:"preflight,omitempty"`

	// Digits carries DTMF tones.
	Digits string `json:"dtmf,omitempty"`

	// Error is set on error and hangup messages that carry a cause.
	Error *ErrorInfo `json:"error,omitempty"`
}

// ErrorInfo is the error detail attached to error and hangup messages.
type ErrorInfo struct {
	Code          int    `json:"code,omitempty"`
	Message       string `json:"message,omitempty"`
	VoiceEventSid string `json:"voiceeventsid,omitempty"`
}
