package call

import (
	"context"
	"encoding/json"
	"net/url"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sebas/dialtone/internal/backoff"
	"github.com/sebas/dialtone/internal/insights"
	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/media"
	"github.com/sebas/dialtone/internal/sdputil"
	"github.com/sebas/dialtone/internal/signaling"
	"github.com/sebas/dialtone/internal/stats"
	"github.com/sebas/dialtone/internal/voiceerrors"
)

// digitPause is how long one 'w' in a digit string suspends sending.
const digitPause = 500 * time.Millisecond

var digitsRe = regexp.MustCompile(`^[0-9*#w]+$`)

// Parameter is one custom key/value pair attached to an outgoing call.
// Order is preserved when encoding.
type Parameter struct {
	Key   string
	Value string
}

// Config assembles the collaborators and tuning for one call.
type Config struct {
	// Transport is the signaling channel, shared across calls.
	Transport signaling.Transport

	// Media is the peer connection owned by this call.
	Media media.Conn

	// CallSid is the server-assigned identifier of an incoming call.
	// Empty for outgoing calls, which carry a temporary id until the
	// relay assigns a real one.
	CallSid string

	// Offer is the remote SDP of an incoming invite.
	Offer string

	// ReconnectCallSid resumes a previously established outgoing call;
	// when set the call is treated as outgoing even though CallSid is
	// present.
	ReconnectCallSid string

	// Parameters are the caller's custom parameters for an outgoing call.
	Parameters []Parameter

	// PreferredCodecs orders codec names in negotiated SDP. Empty keeps
	// the media layer's default order.
	PreferredCodecs []string

	// MaxAverageBitrate caps the Opus bitrate in negotiated SDP. Zero
	// leaves the SDP untouched.
	MaxAverageBitrate int

	// Preflight marks the call as a connectivity test toward the relay.
	Preflight bool

	// EnhancedPrecision enables the fine-grained relay error codes.
	EnhancedPrecision bool

	// Policy tunes the media-failure detector.
	Policy DetectorPolicy

	// Backoff overrides the ICE-restart pacing. Zero value uses defaults.
	Backoff backoff.Config

	// Monitor overrides the quality-monitor tuning. Zero value uses
	// defaults.
	Monitor stats.Config

	// Insights receives telemetry events. Nil defaults to a no-op
	// publisher.
	Insights insights.Publisher

	// EventSidGen generates voiceEventSid values for outbound messages.
	// Nil defaults to UUID-based ids.
	EventSidGen func() string
}

type pendingMessage struct {
	Content     json.RawMessage
	ContentType string
	MessageType string
}

// Call tracks one voice call across its signaling and media channels,
// reconciling both into a single observable status.
type Call struct {
	transport signaling.Transport
	media     media.Conn
	monitor   *stats.Monitor
	det       *detector
	events    *emitter
	pub       insights.Publisher

	direction   Direction
	remoteOffer string
	params      []Parameter
	preferred   []string
	maxBitrate  int
	preflight   bool
	precision   bool
	eventSidGen func() string
	outboundID  string

	mu               sync.Mutex
	callSid          string
	sidAssigned      bool
	status           State
	signalingStatus  State
	mediaStatus      State
	reconnectToken   string
	isAnswered       bool
	isCancelled      bool
	isRejected       bool
	wasConnected     bool
	shouldSendHangup bool
	cleanedUp        bool
	pending          map[string]pendingMessage

	unsubscribe func()
}

// New creates a Call wired to its transport and media collaborators. The
// returned call is Pending until Accept, Reject or Ignore runs.
func New(cfg Config) (*Call, error) {
	if cfg.Transport == nil {
		return nil, &voiceerrors.InvalidArgumentError{Field: "transport", Message: "must not be nil"}
	}
	if cfg.Media == nil {
		return nil, &voiceerrors.InvalidArgumentError{Field: "media", Message: "must not be nil"}
	}

	direction := DirectionOutgoing
	if cfg.CallSid != "" && cfg.ReconnectCallSid == "" {
		direction = DirectionIncoming
	}

	pub := cfg.Insights
	if pub == nil {
		pub = insights.NewNoopPublisher()
	}
	gen := cfg.EventSidGen
	if gen == nil {
		gen = func() string { return "EV" + uuid.NewString() }
	}
	boffCfg := cfg.Backoff
	if boffCfg == (backoff.Config{}) {
		boffCfg = backoff.DefaultConfig()
	}
	monCfg := cfg.Monitor
	if monCfg == (stats.Config{}) {
		monCfg = stats.DefaultConfig()
	}

	c := &Call{
		transport:        cfg.Transport,
		media:            cfg.Media,
		events:           newEmitter(),
		pub:              pub,
		direction:        direction,
		remoteOffer:      cfg.Offer,
		params:           cfg.Parameters,
		preferred:        cfg.PreferredCodecs,
		maxBitrate:       cfg.MaxAverageBitrate,
		preflight:        cfg.Preflight,
		precision:        cfg.EnhancedPrecision,
		eventSidGen:      gen,
		status:           StatePending,
		signalingStatus:  StatePending,
		mediaStatus:      StatePending,
		shouldSendHangup: true,
		pending:          make(map[string]pendingMessage),
	}

	switch {
	case direction == DirectionIncoming:
		c.callSid = cfg.CallSid
		c.sidAssigned = true
	case cfg.ReconnectCallSid != "":
		c.callSid = cfg.ReconnectCallSid
		c.sidAssigned = true
	default:
		c.outboundID = "TJS" + uuid.NewString()
		c.callSid = c.outboundID
	}

	c.det = newDetector(cfg.Policy, boffCfg)
	c.det.startReconnect = c.onMediaReconnecting
	c.det.attemptRestart = c.attemptICERestart
	c.det.terminal = c.onMediaTerminal
	c.det.iceDisconnected = func() bool {
		return cfg.Media.ICEState() == media.ICEDisconnected
	}

	if src, ok := cfg.Media.(stats.Source); ok {
		c.monitor = stats.NewMonitor(src, monCfg)
		c.monitor.OnSample(c.onSample)
		c.monitor.OnWarning(c.onWarning)
		c.monitor.OnWarningCleared(c.onWarningCleared)
	}

	cfg.Media.SetCallbacks(media.Callbacks{
		OnConnected:          c.onMediaConnected,
		OnReconnected:        c.onMediaConnected,
		OnDisconnected:       func(string) { c.det.handleFailure(FailureConnectionDisconnected) },
		OnFailed:             func(string) { c.det.handleFailure(FailureConnectionFailed) },
		OnICEGatheringFailed: func() { c.det.handleFailure(FailureIceGatheringFailed) },
		OnClose:              c.onMediaClosed,
		OnError:              c.onMediaError,
	})

	c.unsubscribe = cfg.Transport.Subscribe(c.handleMessage)
	return c, nil
}

// Subscribe registers a lifecycle-event handler and returns its removal
// function.
func (c *Call) Subscribe(h Handler) func() {
	return c.events.subscribe(h)
}

// Direction returns whether the call is incoming or outgoing.
func (c *Call) Direction() Direction { return c.direction }

// CallSid returns the call identifier: server-assigned once known, the
// temporary outbound id before that.
func (c *Call) CallSid() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.callSid
}

// Status returns the merged call status.
func (c *Call) Status() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SignalingStatus returns the control-channel sub-state.
func (c *Call) SignalingStatus() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.signalingStatus
}

// MediaStatus returns the media-channel sub-state.
func (c *Call) MediaStatus() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.mediaStatus
}

// IsMuted reports whether outbound audio is paused.
func (c *Call) IsMuted() bool { return c.media.IsMuted() }

// Accept starts the call: it negotiates media and either answers the
// incoming invite or sends the outgoing one. Only legal from Pending;
// from any other state it logs and returns nil.
func (c *Call) Accept(ctx context.Context) error {
	c.mu.Lock()
	if c.status != StatePending {
		st := c.status
		c.mu.Unlock()
		logger.Info("accept ignored", "status", st.String())
		return nil
	}
	c.status = StateConnecting
	c.signalingStatus = StateConnecting
	c.mu.Unlock()

	var sdp string
	var err error
	if c.direction == DirectionIncoming {
		sdp, err = c.media.AnswerIncomingCall(ctx, c.remoteOffer)
	} else {
		sdp, err = c.media.MakeOutgoingCall(ctx)
	}
	if err != nil {
		c.teardown(err)
		return err
	}
	sdp = c.shapeSDP(sdp)

	// A cancel, reject or disconnect may have landed while negotiation
	// was in flight; in that case the accept is silently abandoned.
	c.mu.Lock()
	if c.status != StateConnecting {
		c.mu.Unlock()
		return nil
	}
	callSid := c.callSid
	c.mu.Unlock()

	if c.direction == DirectionIncoming {
		err = c.transport.Answer(callSid, sdp)
	} else {
		err = c.transport.Invite(callSid, sdp, c.preflight, encodeParameters(c.params))
	}
	if err != nil {
		err = voiceerrors.NewConnectionError(err)
		c.teardown(err)
		return err
	}

	if c.monitor != nil {
		c.monitor.Start()
	}
	c.publish(insights.GroupConnection, "accepted-by-local", nil)
	return nil
}

// Reject declines an incoming call. Only legal from Pending; a no-op
// otherwise.
func (c *Call) Reject() error {
	c.mu.Lock()
	if c.status != StatePending {
		st := c.status
		c.mu.Unlock()
		logger.Info("reject ignored", "status", st.String())
		return nil
	}
	c.isRejected = true
	callSid := c.callSid
	c.mu.Unlock()

	if err := c.transport.Reject(callSid); err != nil {
		logger.Warn("send reject", "error", err)
	}
	c.events.emit(Event{Kind: EventReject, CallSid: callSid})
	c.teardown(nil)
	c.publish(insights.GroupConnection, "rejected-by-local", nil)
	return nil
}

// Ignore dismisses an incoming call locally without notifying the remote
// side. Only legal from Pending; a no-op otherwise.
func (c *Call) Ignore() error {
	c.mu.Lock()
	if c.status != StatePending {
		st := c.status
		c.mu.Unlock()
		logger.Info("ignore ignored", "status", st.String())
		return nil
	}
	c.isRejected = true
	c.mu.Unlock()

	c.teardown(nil)
	c.publish(insights.GroupConnection, "ignored-by-local", nil)
	return nil
}

// Disconnect ends the call, sending a hangup unless the remote side
// already hung up. A no-op from Pending and Closed.
func (c *Call) Disconnect() {
	c.mu.Lock()
	switch c.status {
	case StateOpen, StateConnecting, StateReconnecting, StateRinging:
	default:
		st := c.status
		c.mu.Unlock()
		logger.Info("disconnect ignored", "status", st.String())
		return
	}
	sendHangup := c.shouldSendHangup
	callSid := c.callSid
	c.mu.Unlock()

	if sendHangup {
		if err := c.transport.Hangup(callSid, nil); err != nil {
			logger.Warn("send hangup", "error", err)
		}
	}
	c.teardown(nil)
	c.publish(insights.GroupConnection, "disconnected-by-local", nil)
}

// SendDigits relays DTMF digits. A 'w' in the string pauses for half a
// second before the following digits are sent. Sending runs in the
// background; validation errors are returned synchronously.
func (c *Call) SendDigits(digits string) error {
	if !digitsRe.MatchString(digits) {
		return &voiceerrors.InvalidArgumentError{Field: "digits", Message: "must contain only 0-9, *, # and w"}
	}

	c.mu.Lock()
	if c.status.IsTerminal() {
		st := c.status
		c.mu.Unlock()
		return &voiceerrors.StateError{Op: "sendDigits", State: st}
	}
	callSid := c.callSid
	c.mu.Unlock()

	go func() {
		for _, chunk := range strings.Split(digits, "w") {
			if chunk != "" {
				if err := c.transport.DTMF(callSid, chunk); err != nil {
					logger.Warn("send dtmf", "error", err)
					return
				}
			}
			time.Sleep(digitPause)
		}
	}()
	c.publish(insights.GroupConnection, "send-digits", map[string]any{"length": len(digits)})
	return nil
}

// SendMessage transmits an application message over the signaling channel
// and returns the generated voiceEventSid used to correlate its
// acknowledgment. Delivery confirmation arrives as EventMessageSent.
func (c *Call) SendMessage(content json.RawMessage, contentType, messageType string) (string, error) {
	if len(content) == 0 {
		return "", &voiceerrors.InvalidArgumentError{Field: "content", Message: "must not be empty"}
	}
	if messageType == "" {
		return "", &voiceerrors.InvalidArgumentError{Field: "messageType", Message: "must not be empty"}
	}
	if c.transport.State() == signaling.StateDisconnected {
		return "", &voiceerrors.StateError{Op: "sendMessage", State: c.transport.State(), Message: "signaling channel is disconnected"}
	}

	c.mu.Lock()
	if !c.sidAssigned {
		st := c.status
		c.mu.Unlock()
		return "", &voiceerrors.StateError{Op: "sendMessage", State: st, Message: "call has no server-assigned CallSid yet"}
	}
	sid := c.eventSidGen()
	c.pending[sid] = pendingMessage{Content: content, ContentType: contentType, MessageType: messageType}
	callSid := c.callSid
	c.mu.Unlock()

	if err := c.transport.SendMessage(callSid, content, contentType, messageType, sid); err != nil {
		c.mu.Lock()
		delete(c.pending, sid)
		c.mu.Unlock()
		return "", voiceerrors.NewConnectionError(err)
	}
	return sid, nil
}

// feedbackIssues are the reportable call-quality problems.
var feedbackIssues = map[string]bool{
	"audio-latency": true,
	"choppy-audio":  true,
	"dropped-call":  true,
	"echo":          true,
	"noisy-call":    true,
	"one-way-audio": true,
}

// PostFeedback reports the caller's quality verdict for this call. Score
// is 1 (terrible) through 5 (great); issue names the dominant problem and
// may be empty.
func (c *Call) PostFeedback(score int, issue string) error {
	if score < 1 || score > 5 {
		return &voiceerrors.InvalidArgumentError{Field: "score", Message: "must be between 1 and 5"}
	}
	if issue != "" && !feedbackIssues[issue] {
		return &voiceerrors.InvalidArgumentError{Field: "issue", Message: "unknown issue " + issue}
	}
	c.publish(insights.GroupFeedback, "received", map[string]any{
		"score": score,
		"issue": issue,
	})
	return nil
}

// Mute pauses or resumes outbound audio.
func (c *Call) Mute(muted bool) {
	c.media.Mute(muted)
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()
	c.events.emit(Event{Kind: EventMute, CallSid: callSid, Muted: c.media.IsMuted()})
}

// shapeSDP applies codec ordering and the Opus bitrate cap.
func (c *Call) shapeSDP(sdp string) string {
	sdp = sdputil.SetCodecPreferences(sdp, c.preferred)
	if c.maxBitrate > 0 {
		sdp = sdputil.SetMaxAverageBitrate(sdp, c.maxBitrate)
	}
	return sdp
}

// teardown closes media and moves the call to Closed, emitting the
// terminal event chain once. Safe to call multiple times.
func (c *Call) teardown(cause error) {
	c.mu.Lock()
	if c.status == StateClosed && c.cleanedUp {
		c.mu.Unlock()
		return
	}
	alreadyClosed := c.status == StateClosed
	c.status = StateClosed
	c.signalingStatus = StateClosed
	c.mediaStatus = StateClosed
	cancelled := c.isCancelled || c.isRejected
	callSid := c.callSid
	c.cleanedUp = true
	c.mu.Unlock()

	c.det.stop()
	if c.monitor != nil {
		c.monitor.Stop()
	}
	if err := c.media.Close(); err != nil {
		logger.Debug("close media", "error", err)
	}
	if c.unsubscribe != nil {
		c.unsubscribe()
	}

	if !alreadyClosed && !cancelled {
		c.events.emit(Event{Kind: EventDisconnect, CallSid: callSid, Err: cause})
	}
	c.events.removeAll()
}

// onMediaConnected handles the explicit connected signal from the media
// layer, covering both the first connect and ICE-restart completions.
func (c *Call) onMediaConnected() {
	c.det.handleRecovered()

	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	c.mediaStatus = StateOpen
	evs := c.maybeOpenLocked()
	c.mu.Unlock()

	c.emitAll(evs)
}

// maybeOpenLocked applies the open-transition rule: the call becomes Open
// only when answered and the media layer reports open. The first such
// transition emits accept; later ones emit reconnected. Caller holds c.mu.
func (c *Call) maybeOpenLocked() []Event {
	if !c.isAnswered || c.mediaStatus != StateOpen || c.signalingStatus == StateClosed {
		return nil
	}
	if c.signalingStatus == StateReconnecting {
		return nil
	}
	if c.status == StateClosed {
		return nil
	}

	c.signalingStatus = StateOpen
	c.status = StateOpen
	if !c.wasConnected {
		c.wasConnected = true
		return []Event{{Kind: EventAccept, CallSid: c.callSid}}
	}
	return []Event{{Kind: EventReconnected, CallSid: c.callSid}}
}

// onMediaReconnecting is invoked by the detector when a restart cycle
// begins.
func (c *Call) onMediaReconnecting(cause FailureCategory) {
	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	c.mediaStatus = StateReconnecting
	var evs []Event
	if c.status == StateOpen {
		c.status = StateReconnecting
		evs = append(evs, Event{
			Kind:    EventReconnecting,
			CallSid: c.callSid,
			Err:     voiceerrors.NewMediaConnectionFailed(nil),
		})
	}
	c.mu.Unlock()

	c.emitAll(evs)
	c.publish(insights.GroupConnection, "media-reconnecting", map[string]any{"cause": cause.String()})
}

// attemptICERestart runs one backoff-gated restart: renegotiate
// candidates locally and reinvite through the relay.
func (c *Call) attemptICERestart() {
	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	callSid := c.callSid
	c.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	sdp, err := c.media.ICERestart(ctx)
	if err != nil {
		logger.Warn("ICE restart", "error", err)
		c.det.handleFailure(FailureConnectionFailed)
		return
	}
	sdp = c.shapeSDP(sdp)

	if err := c.transport.Reinvite(callSid, sdp); err != nil {
		logger.Warn("send reinvite", "error", err)
		c.det.handleFailure(FailureConnectionFailed)
		return
	}
	c.publish(insights.GroupConnection, "ice-restart", nil)
}

// onMediaTerminal handles an abandoned recovery: surface the error and
// end the call.
func (c *Call) onMediaTerminal(err error) {
	c.mu.Lock()
	callSid := c.callSid
	closed := c.status == StateClosed
	c.mu.Unlock()

	if closed {
		return
	}
	c.events.emit(Event{Kind: EventError, CallSid: callSid, Err: err})
	c.publish(insights.GroupConnection, "media-failed", map[string]any{"error": err.Error()})
	c.teardown(err)
}

func (c *Call) onMediaClosed() {
	c.teardown(nil)
}

func (c *Call) onMediaError(err error) {
	c.mu.Lock()
	callSid := c.callSid
	closed := c.status == StateClosed
	c.mu.Unlock()
	if closed {
		return
	}
	c.events.emit(Event{Kind: EventError, CallSid: callSid, Err: &voiceerrors.MediaError{Description: "media transport error", Cause: err}})
}

func (c *Call) onSample(s stats.Sample) {
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()
	sample := s
	c.events.emit(Event{Kind: EventSample, CallSid: callSid, Sample: &sample})
}

func (c *Call) onWarning(w stats.Warning) {
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()
	warning := w
	c.events.emit(Event{Kind: EventWarning, CallSid: callSid, Warning: &warning})
	c.publish(insights.GroupQuality, "warning-raised", map[string]any{"name": w.Name, "value": w.Value})
	c.det.handleWarning(w.Name, true)
}

func (c *Call) onWarningCleared(w stats.Warning) {
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()
	warning := w
	c.events.emit(Event{Kind: EventWarningCleared, CallSid: callSid, Warning: &warning})
	c.publish(insights.GroupQuality, "warning-cleared", map[string]any{"name": w.Name})
	c.det.handleWarning(w.Name, false)
}

func (c *Call) emitAll(evs []Event) {
	for _, ev := range evs {
		c.events.emit(ev)
	}
}

func (c *Call) publish(group insights.EventGroup, name string, payload map[string]any) {
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()
	c.pub.PublishAsync(insights.New(group, name, callSid, payload))
}

// encodeParameters percent-encodes key/value pairs preserving their
// order.
func encodeParameters(params []Parameter) string {
	if len(params) == 0 {
		return ""
	}
	var b strings.Builder
	for i, p := range params {
		if i > 0 {
			b.WriteByte('&')
		}
		b.WriteString(url.QueryEscape(p.Key))
		b.WriteByte('=')
		b.WriteString(url.QueryEscape(p.Value))
	}
	return b.String()
}
