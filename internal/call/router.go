package call

import (
	"context"
	"time"

	v1 "github.com/sebas/dialtone/api/types/v1"
	"github.com/sebas/dialtone/internal/insights"
	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/voiceerrors"
)

// handleMessage dispatches one inbound relay message to its handler.
// Messages for other calls are discarded by CallSid before dispatch.
func (c *Call) handleMessage(msg v1.Message) {
	switch msg.Type {
	case v1.MessageAck:
		if c.matches(msg.Payload.CallSid) {
			c.handleAck(msg.Payload)
		}
	case v1.MessageAnswer:
		if c.matches(msg.Payload.CallSid) {
			c.handleAnswer(msg.Payload)
		}
	case v1.MessageCancel:
		if msg.Payload.CallSid != "" && c.matches(msg.Payload.CallSid) {
			c.handleCancel(msg.Payload)
		}
	case v1.MessageError:
		if c.matches(msg.Payload.CallSid) {
			c.handleError(msg.Payload)
		}
	case v1.MessageHangup:
		if c.matches(msg.Payload.CallSid) {
			c.handleHangup(msg.Payload)
		}
	case v1.MessageMessage:
		if msg.Payload.CallSid != "" && c.matches(msg.Payload.CallSid) {
			c.handleInboundMessage(msg.Payload)
		}
	case v1.MessageRinging:
		if c.matches(msg.Payload.CallSid) {
			c.handleRinging(msg.Payload)
		}
	case v1.MessageConnected:
		c.handleSignalingReconnected()
	case v1.MessageTransportClose:
		c.handleTransportClose()
	}
}

// matches reports whether an embedded CallSid belongs to this call. An
// absent CallSid matches: early relay messages for an outbound call may
// not carry one yet.
func (c *Call) matches(callSid string) bool {
	if callSid == "" {
		return true
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return callSid == c.callSid || (c.outboundID != "" && callSid == c.outboundID)
}

// handleAck removes the acknowledged pending message and confirms
// delivery. An ack for an unknown id is logged and dropped.
func (c *Call) handleAck(p v1.Payload) {
	if p.AckType != v1.AckTypeMessage {
		return
	}

	c.mu.Lock()
	pm, ok := c.pending[p.VoiceEventSid]
	if ok {
		delete(c.pending, p.VoiceEventSid)
	}
	callSid := c.callSid
	c.mu.Unlock()

	if !ok {
		logger.Info("ack for unknown message", "voiceEventSid", p.VoiceEventSid)
		return
	}
	c.events.emit(Event{
		Kind:          EventMessageSent,
		CallSid:       callSid,
		VoiceEventSid: p.VoiceEventSid,
		Content:       pm.Content,
		ContentType:   pm.ContentType,
		MessageType:   pm.MessageType,
	})
}

// handleAnswer records the answer, adopts the server-assigned CallSid and
// reconnect token, applies the remote SDP for outgoing calls, and runs
// the open-transition rule.
func (c *Call) handleAnswer(p v1.Payload) {
	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	c.isAnswered = true
	if p.CallSid != "" {
		c.callSid = p.CallSid
		c.sidAssigned = true
	}
	if p.Reconnect != "" {
		c.reconnectToken = p.Reconnect
	}
	applySDP := c.direction == DirectionOutgoing && p.SDP != "" && !c.wasConnected
	evs := c.maybeOpenLocked()
	c.mu.Unlock()

	if applySDP {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := c.media.ApplyAnswer(ctx, p.SDP); err != nil {
			logger.Error("apply remote answer", "error", err)
			c.onMediaError(err)
		}
	}
	c.emitAll(evs)
	c.publish(insights.GroupSignaling, "answered-by-remote", nil)
}

// handleCancel tears the call down without a hangup exchange. Only an
// unanswered call can be cancelled.
func (c *Call) handleCancel(p v1.Payload) {
	c.mu.Lock()
	if c.isAnswered || c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	c.isCancelled = true
	c.shouldSendHangup = false
	callSid := c.callSid
	c.mu.Unlock()

	c.events.emit(Event{Kind: EventCancel, CallSid: callSid})
	c.teardown(nil)
	c.publish(insights.GroupSignaling, "cancelled-by-remote", nil)
}

// handleError resolves relay errors. Errors correlated to a pending
// outbound message are consumed locally; the rest surface as call-level
// error events.
func (c *Call) handleError(p v1.Payload) {
	code := 0
	sid := ""
	if p.Error != nil {
		code = p.Error.Code
		sid = p.Error.VoiceEventSid
	}

	if sid != "" {
		c.mu.Lock()
		pm, ok := c.pending[sid]
		if ok {
			delete(c.pending, sid)
		}
		callSid := c.callSid
		c.mu.Unlock()

		if !ok {
			logger.Info("error for unknown message", "voiceEventSid", sid, "code", code)
			return
		}

		err, resolved := voiceerrors.FromCode(code, c.precision)
		if !resolved {
			err = voiceerrors.ErrUnknown
		}
		logger.Warn("relay rejected message", "voiceEventSid", sid, "code", code)
		c.events.emit(Event{
			Kind:          EventMessagePublishFailed,
			CallSid:       callSid,
			VoiceEventSid: sid,
			MessageType:   pm.MessageType,
			Err:           err,
		})
		c.publish(insights.GroupSignaling, "message-publish-failed", map[string]any{"code": code})
		return
	}

	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()

	err := voiceerrors.SignalingFromCode(code, c.precision)
	c.events.emit(Event{Kind: EventError, CallSid: callSid, Err: err})
	c.publish(insights.GroupSignaling, "error-received", map[string]any{"code": code})
}

// handleHangup tears the call down without re-sending a hangup; the
// remote side already ended it. An attached error code surfaces first.
func (c *Call) handleHangup(p v1.Payload) {
	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	c.shouldSendHangup = false
	callSid := c.callSid
	c.mu.Unlock()

	var cause error
	if p.Error != nil && p.Error.Code > 0 {
		cause = voiceerrors.SignalingFromCode(p.Error.Code, c.precision)
		c.events.emit(Event{Kind: EventError, CallSid: callSid, Err: cause})
	}
	c.teardown(cause)
	c.publish(insights.GroupSignaling, "hangup-by-remote", nil)
}

// handleInboundMessage re-emits an application message to the consumer.
func (c *Call) handleInboundMessage(p v1.Payload) {
	c.mu.Lock()
	callSid := c.callSid
	c.mu.Unlock()

	c.events.emit(Event{
		Kind:          EventMessageReceived,
		CallSid:       callSid,
		VoiceEventSid: p.VoiceEventSid,
		Content:       p.Content,
		ContentType:   p.ContentType,
		MessageType:   p.MessageType,
	})
}

// handleRinging marks the remote side as alerting. Out-of-order ringing
// is ignored.
func (c *Call) handleRinging(p v1.Payload) {
	c.mu.Lock()
	if c.status != StateConnecting && c.status != StateRinging {
		st := c.status
		c.mu.Unlock()
		logger.Debug("ringing ignored", "status", st.String())
		return
	}
	c.status = StateRinging
	c.signalingStatus = StateRinging
	callSid := c.callSid
	c.mu.Unlock()

	hasEarlyMedia := p.SDP != ""
	c.events.emit(Event{Kind: EventRinging, CallSid: callSid, HasEarlyMedia: hasEarlyMedia})
	c.publish(insights.GroupSignaling, "ringing", map[string]any{"hasEarlyMedia": hasEarlyMedia})
}

// handleSignalingReconnected restores the signaling sub-state after the
// relay confirms a resumed session.
func (c *Call) handleSignalingReconnected() {
	c.mu.Lock()
	if c.signalingStatus != StateReconnecting {
		c.mu.Unlock()
		return
	}
	c.signalingStatus = StateOpen
	var evs []Event
	if c.mediaStatus == StateOpen {
		evs = c.maybeOpenLocked()
	}
	c.mu.Unlock()

	c.emitAll(evs)
	c.publish(insights.GroupSignaling, "reconnected", nil)
}

// handleTransportClose reacts to losing the relay connection: reconnect
// when a token is held, otherwise end the call.
func (c *Call) handleTransportClose() {
	c.mu.Lock()
	if c.status == StateClosed {
		c.mu.Unlock()
		return
	}
	token := c.reconnectToken
	if token == "" {
		c.mu.Unlock()
		c.teardown(voiceerrors.NewSignalingDisconnected())
		return
	}
	c.status = StateReconnecting
	c.signalingStatus = StateReconnecting
	callSid := c.callSid
	c.mu.Unlock()

	c.events.emit(Event{
		Kind:    EventReconnecting,
		CallSid: callSid,
		Err:     voiceerrors.NewSignalingDisconnected(),
	})
	c.publish(insights.GroupSignaling, "transport-closed", nil)
}
