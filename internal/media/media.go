// Package media defines the media half of a call: the peer-connection
// contract consumed by the call core, and a Pion WebRTC implementation.
package media

import (
	"context"
	"fmt"
)

// Status is the coarse lifecycle state of a media connection.
type Status int

const (
	// StatusPending indicates no transport has been established yet.
	StatusPending Status = iota
	// StatusOpen indicates media is flowing.
	StatusOpen
	// StatusClosed indicates the transport has been torn down.
	StatusClosed
)

// String returns the string representation of Status.
func (s Status) String() string {
	switch s {
	case StatusPending:
		return "pending"
	case StatusOpen:
		return "open"
	case StatusClosed:
		return "closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// ICEState is the ICE transport state the call core inspects when
// correlating low-byte warnings with transport trouble.
type ICEState string

const (
	ICENew          ICEState = "new"
	ICEChecking     ICEState = "checking"
	ICEConnected    ICEState = "connected"
	ICECompleted    ICEState = "completed"
	ICEDisconnected ICEState = "disconnected"
	ICEFailed       ICEState = "failed"
	ICEClosed       ICEState = "closed"
)

// Callbacks are the lifecycle notifications a media connection delivers.
// All callbacks are optional; nil entries are skipped.
type Callbacks struct {
	// OnOpen fires once when media first starts flowing.
	OnOpen func()

	// OnClose fires when the transport is torn down locally.
	OnClose func()

	// OnError reports a transport-level error.
	OnError func(err error)

	// OnConnected fires when the transport (re-)establishes
	// connectivity, including after a successful ICE restart.
	OnConnected func()

	// OnReconnected fires when connectivity returns after a restart on
	// transports that distinguish the two; callers should treat it like
	// OnConnected.
	OnReconnected func()

	// OnDisconnected fires when the transport loses connectivity but may
	// still recover on its own.
	OnDisconnected func(reason string)

	// OnFailed fires when an ICE cycle ends without connectivity.
	OnFailed func(reason string)

	// OnICEGatheringFailed fires when candidate gathering completes
	// without yielding any candidate.
	OnICEGatheringFailed func()
}

// Conn is the peer-connection contract the call core drives. All SDP
// passed in and out is plain text; shaping (codec order, bitrate) is the
// caller's concern.
type Conn interface {
	// MakeOutgoingCall creates the local offer for an outbound call.
	MakeOutgoingCall(ctx context.Context) (offerSDP string, err error)

	// AnswerIncomingCall applies the remote offer and returns the local
	// answer for an incoming call.
	AnswerIncomingCall(ctx context.Context, offerSDP string) (answerSDP string, err error)

	// ApplyAnswer applies the remote answer for an outbound call or a
	// renegotiation.
	ApplyAnswer(ctx context.Context, answerSDP string) error

	// ICERestart renegotiates connectivity candidates without tearing
	// down the call, returning the new local offer.
	ICERestart(ctx context.Context) (offerSDP string, err error)

	// Close tears down the transport. Safe to call multiple times.
	Close() error

	// Mute pauses or resumes the outbound audio track.
	Mute(muted bool)

	// IsMuted reports whether outbound audio is paused.
	IsMuted() bool

	// Status returns the coarse lifecycle state.
	Status() Status

	// ICEState returns the current ICE transport state.
	ICEState() ICEState

	// SetCallbacks installs lifecycle notifications. Must be called
	// before the first negotiation.
	SetCallbacks(cb Callbacks)
}
