// Package call implements the lifecycle of a single voice call: merging
// signaling and media sub-states into one observable status, recovering
// from transient media loss via ICE restarts, and correlating signaling
// messages with their acknowledgments.
package call

import "fmt"

// State represents the current state of a call, and is also the type of
// the independent signaling and media sub-states.
type State int

const (
	// StatePending indicates the call exists but no accept or dial has run.
	StatePending State = iota
	// StateConnecting indicates negotiation is underway.
	StateConnecting
	// StateRinging indicates the remote side is being alerted.
	StateRinging
	// StateOpen indicates signaling and media are both established.
	StateOpen
	// StateReconnecting indicates a channel was lost and recovery is underway.
	StateReconnecting
	// StateClosed indicates the call has ended.
	StateClosed
)

// String returns the string representation of State.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateConnecting:
		return "Connecting"
	case StateRinging:
		return "Ringing"
	case StateOpen:
		return "Open"
	case StateReconnecting:
		return "Reconnecting"
	case StateClosed:
		return "Closed"
	default:
		return fmt.Sprintf("Unknown(%d)", int(s))
	}
}

// IsTerminal returns true if the call is in a terminal state.
func (s State) IsTerminal() bool {
	return s == StateClosed
}

// Direction indicates whether the call is incoming or outgoing.
type Direction int

const (
	// DirectionIncoming represents a call offered by the server.
	DirectionIncoming Direction = iota
	// DirectionOutgoing represents a call initiated locally.
	DirectionOutgoing
)

// String returns the string representation of Direction.
func (d Direction) String() string {
	switch d {
	case DirectionIncoming:
		return "Incoming"
	case DirectionOutgoing:
		return "Outgoing"
	default:
		return fmt.Sprintf("Unknown(%d)", int(d))
	}
}
