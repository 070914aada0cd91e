package call

import (
	"encoding/json"
	"fmt"
	"sync"

	"github.com/sebas/dialtone/internal/stats"
)

// EventKind identifies which lifecycle event occurred.
type EventKind int

const (
	// EventAccept fires once, the first time the call becomes fully open.
	EventAccept EventKind = iota
	// EventCancel fires when the server cancels an unanswered incoming call.
	EventCancel
	// EventDisconnect fires when the call ends, unless it was cancelled or rejected.
	EventDisconnect
	// EventError carries an asynchronous signaling or media error.
	EventError
	// EventMessageReceived carries an inbound application message.
	EventMessageReceived
	// EventMessageSent confirms delivery of an outbound application message.
	EventMessageSent
	// EventMessagePublishFailed reports an error correlated to an outbound
	// application message. It never escalates to EventError.
	EventMessagePublishFailed
	// EventMute reports a change of the outbound mute state.
	EventMute
	// EventReconnecting fires when a channel is lost and recovery begins.
	EventReconnecting
	// EventReconnected fires when the call returns to open after recovery.
	EventReconnected
	// EventReject fires when the local side rejects an incoming call.
	EventReject
	// EventRinging fires when the remote side starts alerting.
	EventRinging
	// EventSample carries one periodic quality sample.
	EventSample
	// EventWarning fires when a quality metric crosses its threshold.
	EventWarning
	// EventWarningCleared fires when a raised quality warning recovers.
	EventWarningCleared
)

// String returns the string representation of EventKind.
func (k EventKind) String() string {
	switch k {
	case EventAccept:
		return "accept"
	case EventCancel:
		return "cancel"
	case EventDisconnect:
		return "disconnect"
	case EventError:
		return "error"
	case EventMessageReceived:
		return "messageReceived"
	case EventMessageSent:
		return "messageSent"
	case EventMessagePublishFailed:
		return "messagePublishFailed"
	case EventMute:
		return "mute"
	case EventReconnecting:
		return "reconnecting"
	case EventReconnected:
		return "reconnected"
	case EventReject:
		return "reject"
	case EventRinging:
		return "ringing"
	case EventSample:
		return "sample"
	case EventWarning:
		return "warning"
	case EventWarningCleared:
		return "warningCleared"
	default:
		return fmt.Sprintf("Unknown(%d)", int(k))
	}
}

// Event is one lifecycle notification. Only the fields relevant to the
// Kind are populated.
type Event struct {
	Kind    EventKind
	CallSid string

	// Err is set for EventError, EventMessagePublishFailed,
	// EventReconnecting and remote-hangup disconnects.
	Err error

	// HasEarlyMedia is set for EventRinging when the alert carried SDP.
	HasEarlyMedia bool

	// Muted is set for EventMute.
	Muted bool

	// VoiceEventSid correlates message events to SendMessage calls.
	VoiceEventSid string

	// Content, ContentType and MessageType are set for message events.
	Content     json.RawMessage
	ContentType string
	MessageType string

	// Warning is set for EventWarning and EventWarningCleared.
	Warning *stats.Warning

	// Sample is set for EventSample.
	Sample *stats.Sample
}

// Handler receives lifecycle events. Handlers run on the goroutine that
// produced the transition and must not block.
type Handler func(ev Event)

// emitter fans events out to registered handlers.
type emitter struct {
	mu       sync.Mutex
	nextID   int
	handlers map[int]Handler
}

func newEmitter() *emitter {
	return &emitter{handlers: make(map[int]Handler)}
}

// subscribe registers h and returns a function that removes it. The
// returned function is safe to call multiple times.
func (e *emitter) subscribe(h Handler) func() {
	e.mu.Lock()
	id := e.nextID
	e.nextID++
	e.handlers[id] = h
	e.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			e.mu.Lock()
			delete(e.handlers, id)
			e.mu.Unlock()
		})
	}
}

func (e *emitter) removeAll() {
	e.mu.Lock()
	e.handlers = make(map[int]Handler)
	e.mu.Unlock()
}

func (e *emitter) emit(ev Event) {
	e.mu.Lock()
	hs := make([]Handler, 0, len(e.handlers))
	for _, h := range e.handlers {
		hs = append(hs, h)
	}
	e.mu.Unlock()

	for _, h := range hs {
		h(ev)
	}
}
