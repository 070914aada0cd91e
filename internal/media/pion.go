package media

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pion/interceptor"
	"github.com/pion/interceptor/pkg/nack"
	pion "github.com/pion/webrtc/v4"

	"github.com/sebas/dialtone/internal/logger"
	"github.com/sebas/dialtone/internal/stats"
)

// ICEServer is one STUN or TURN endpoint used for candidate gathering.
type ICEServer struct {
	URL        string
	Username   string
	Credential string
}

// Peer wraps a Pion PeerConnection as a Conn. It carries a single
// bidirectional audio section negotiated with Opus, PCMU and PCMA.
type Peer struct {
	pc     *pion.PeerConnection
	track  *pion.TrackLocalStaticSample
	sender *pion.RTPSender

	mu             sync.Mutex
	cb             Callbacks
	status         Status
	iceState       ICEState
	muted          bool
	connectedOnce  bool
	candidateCount int
	closed         bool
}

var _ Conn = (*Peer)(nil)
var _ stats.Source = (*Peer)(nil)

// NewPeer creates a PeerConnection with audio codec registration and a
// local Opus track ready for negotiation.
func NewPeer(iceServers []ICEServer) (*Peer, error) {
	m := &pion.MediaEngine{}

	opusCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:    pion.MimeTypeOpus,
			ClockRate:   48000,
			Channels:    2,
			SDPFmtpLine: "minptime=10;useinbandfec=1",
		},
		PayloadType: 111,
	}
	if err := m.RegisterCodec(opusCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register Opus: %w", err)
	}

	pcmuCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMU,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 0,
	}
	if err := m.RegisterCodec(pcmuCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMU: %w", err)
	}

	pcmaCodec := pion.RTPCodecParameters{
		RTPCodecCapability: pion.RTPCodecCapability{
			MimeType:  pion.MimeTypePCMA,
			ClockRate: 8000,
			Channels:  1,
		},
		PayloadType: 8,
	}
	if err := m.RegisterCodec(pcmaCodec, pion.RTPCodecTypeAudio); err != nil {
		return nil, fmt.Errorf("register PCMA: %w", err)
	}

	i := &interceptor.Registry{}
	responderFactory, err := nack.NewResponderInterceptor()
	if err != nil {
		return nil, fmt.Errorf("create nack responder: %w", err)
	}
	i.Add(responderFactory)

	api := pion.NewAPI(
		pion.WithMediaEngine(m),
		pion.WithInterceptorRegistry(i),
	)

	var servers []pion.ICEServer
	for _, s := range iceServers {
		servers = append(servers, pion.ICEServer{
			URLs:       []string{s.URL},
			Username:   s.Username,
			Credential: s.Credential,
		})
	}

	pc, err := api.NewPeerConnection(pion.Configuration{
		ICEServers:   servers,
		BundlePolicy: pion.BundlePolicyMaxBundle,
	})
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	track, err := pion.NewTrackLocalStaticSample(pion.RTPCodecCapability{
		MimeType:  pion.MimeTypeOpus,
		ClockRate: 48000,
		Channels:  2,
	}, "audio", "dialtone")
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("create local track: %w", err)
	}

	sender, err := pc.AddTrack(track)
	if err != nil {
		pc.Close()
		return nil, fmt.Errorf("add local track: %w", err)
	}

	p := &Peer{
		pc:       pc,
		track:    track,
		sender:   sender,
		status:   StatusPending,
		iceState: ICENew,
	}

	pc.OnICEConnectionStateChange(p.handleICEStateChange)
	pc.OnConnectionStateChange(p.handleConnectionStateChange)
	pc.OnICECandidate(p.handleICECandidate)

	pc.OnTrack(func(track *pion.TrackRemote, receiver *pion.RTPReceiver) {
		codec := track.Codec()
		logger.Debug("got remote track", "kind", track.Kind().String(), "codec", codec.MimeType, "pt", codec.PayloadType)
		go func() {
			buf := make([]byte, 1500)
			for {
				_, _, err := track.Read(buf)
				if err != nil {
					return
				}
			}
		}()
	})

	return p, nil
}

// SetCallbacks installs lifecycle notifications.
func (p *Peer) SetCallbacks(cb Callbacks) {
	p.mu.Lock()
	p.cb = cb
	p.mu.Unlock()
}

func (p *Peer) handleICEStateChange(state pion.ICEConnectionState) {
	logger.Debug("ICE connection state", "state", state.String())

	p.mu.Lock()
	p.iceState = ICEState(state.String())
	cb := p.cb
	first := !p.connectedOnce
	if state == pion.ICEConnectionStateConnected || state == pion.ICEConnectionStateCompleted {
		p.connectedOnce = true
	}
	p.mu.Unlock()

	switch state {
	case pion.ICEConnectionStateConnected, pion.ICEConnectionStateCompleted:
		if first {
			if cb.OnConnected != nil {
				cb.OnConnected()
			}
		} else if cb.OnReconnected != nil {
			cb.OnReconnected()
		}
	case pion.ICEConnectionStateDisconnected:
		if cb.OnDisconnected != nil {
			cb.OnDisconnected("ICE connection state is disconnected")
		}
	case pion.ICEConnectionStateFailed:
		if cb.OnFailed != nil {
			cb.OnFailed("ICE connection state is failed")
		}
	}
}

func (p *Peer) handleConnectionStateChange(state pion.PeerConnectionState) {
	logger.Debug("peer connection state", "state", state.String())

	p.mu.Lock()
	cb := p.cb
	var opened bool
	switch state {
	case pion.PeerConnectionStateConnected:
		if p.status == StatusPending {
			p.status = StatusOpen
			opened = true
		}
	case pion.PeerConnectionStateClosed:
		p.status = StatusClosed
	}
	p.mu.Unlock()

	if opened && cb.OnOpen != nil {
		cb.OnOpen()
	}
}

func (p *Peer) handleICECandidate(c *pion.ICECandidate) {
	if c != nil {
		p.mu.Lock()
		p.candidateCount++
		p.mu.Unlock()
		return
	}

	// Gathering complete. No candidate at all means gathering failed.
	p.mu.Lock()
	cb := p.cb
	failed := p.candidateCount == 0
	p.mu.Unlock()

	if failed && cb.OnICEGatheringFailed != nil {
		cb.OnICEGatheringFailed()
	}
}

// MakeOutgoingCall creates the local offer and waits for candidate
// gathering so the returned SDP is complete.
func (p *Peer) MakeOutgoingCall(ctx context.Context) (string, error) {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return "", fmt.Errorf("create offer: %w", err)
	}
	return p.setLocalAndGather(ctx, offer)
}

// AnswerIncomingCall applies the remote offer and returns the gathered
// local answer.
func (p *Peer) AnswerIncomingCall(ctx context.Context, offerSDP string) (string, error) {
	remote := pion.SessionDescription{Type: pion.SDPTypeOffer, SDP: offerSDP}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return "", fmt.Errorf("set remote offer: %w", err)
	}

	answer, err := p.pc.CreateAnswer(nil)
	if err != nil {
		return "", fmt.Errorf("create answer: %w", err)
	}
	return p.setLocalAndGather(ctx, answer)
}

// ApplyAnswer applies the remote answer for an outbound call or ICE restart.
func (p *Peer) ApplyAnswer(ctx context.Context, answerSDP string) error {
	remote := pion.SessionDescription{Type: pion.SDPTypeAnswer, SDP: answerSDP}
	if err := p.pc.SetRemoteDescription(remote); err != nil {
		return fmt.Errorf("set remote answer: %w", err)
	}
	return nil
}

// ICERestart renegotiates candidates on the live connection and returns
// the new local offer.
func (p *Peer) ICERestart(ctx context.Context) (string, error) {
	p.mu.Lock()
	p.candidateCount = 0
	p.mu.Unlock()

	offer, err := p.pc.CreateOffer(&pion.OfferOptions{ICERestart: true})
	if err != nil {
		return "", fmt.Errorf("create restart offer: %w", err)
	}
	return p.setLocalAndGather(ctx, offer)
}

func (p *Peer) setLocalAndGather(ctx context.Context, desc pion.SessionDescription) (string, error) {
	gathered := pion.GatheringCompletePromise(p.pc)

	if err := p.pc.SetLocalDescription(desc); err != nil {
		return "", fmt.Errorf("set local description: %w", err)
	}

	select {
	case <-gathered:
	case <-ctx.Done():
		return "", ctx.Err()
	}

	local := p.pc.LocalDescription()
	if local == nil {
		return "", fmt.Errorf("local description missing after gathering")
	}
	return local.SDP, nil
}

// Mute pauses or resumes outbound audio by detaching the local track
// from its sender.
func (p *Peer) Mute(muted bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.muted == muted || p.closed {
		return
	}

	var err error
	if muted {
		err = p.sender.ReplaceTrack(nil)
	} else {
		err = p.sender.ReplaceTrack(p.track)
	}
	if err != nil {
		logger.Warn("mute track swap failed", "muted", muted, "error", err)
		return
	}
	p.muted = muted
}

// IsMuted reports whether outbound audio is paused.
func (p *Peer) IsMuted() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.muted
}

// Status returns the coarse lifecycle state.
func (p *Peer) Status() Status {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.status
}

// ICEState returns the current ICE transport state.
func (p *Peer) ICEState() ICEState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.iceState
}

// GetSample snapshots transport counters for quality monitoring.
func (p *Peer) GetSample() (stats.Sample, error) {
	report := p.pc.GetStats()

	sample := stats.Sample{Timestamp: time.Now()}
	for _, s := range report {
		switch v := s.(type) {
		case pion.TransportStats:
			sample.BytesReceived += v.BytesReceived
			sample.BytesSent += v.BytesSent
		case pion.InboundRTPStreamStats:
			sample.PacketsReceived += uint64(v.PacketsReceived)
			if v.PacketsLost > 0 {
				sample.PacketsLost += uint64(v.PacketsLost)
			}
			sample.Jitter = v.Jitter * 1000
		case pion.OutboundRTPStreamStats:
			sample.PacketsSent += uint64(v.PacketsSent)
		case pion.RemoteInboundRTPStreamStats:
			sample.RTT = v.RoundTripTime * 1000
		}
	}
	return sample, nil
}

// Close tears down the transport. Safe to call multiple times.
func (p *Peer) Close() error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil
	}
	p.closed = true
	p.status = StatusClosed
	cb := p.cb
	p.mu.Unlock()

	err := p.pc.Close()
	if cb.OnClose != nil {
		cb.OnClose()
	}
	return err
}
