package rtc

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Factory builds peer links and holds the local capture handle they borrow.
// The capture is acquired once and lent to every link; releasing it is the
// owner's (the session's) call via Release.
type Factory struct {
	iceServers []string
	capture    Capture
	sink       Sink
	log        *zerolog.Logger

	mu         sync.Mutex
	localTrack webrtc.TrackLocal
	release    func()
}

// NewFactory creates a peer link factory. capture may be nil for clients
// that never publish media; sink may be nil to discard remote media.
func NewFactory(iceServers []string, capture Capture, sink Sink, logger *zerolog.Logger) *Factory {
	if logger == nil {
		nop := zerolog.Nop()
		logger = &nop
	}
	if sink == nil {
		sink = DiscardSink{Log: logger}
	}
	return &Factory{
		iceServers: iceServers,
		capture:    capture,
		sink:       sink,
		log:        logger,
	}
}

// Acquire obtains the local audio track. Safe to call once per session;
// links created before this proceed without a local track.
func (f *Factory) Acquire(ctx context.Context) error {
	if f.capture == nil {
		return fmt.Errorf("no capture configured")
	}
	track, release, err := f.capture.Acquire(ctx)
	if err != nil {
		return fmt.Errorf("acquire capture: %w", err)
	}
	f.mu.Lock()
	f.localTrack = track
	f.release = release
	f.mu.Unlock()
	return nil
}

// Release returns the capture device. Idempotent.
func (f *Factory) Release() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.release != nil {
		f.release()
		f.release = nil
	}
	f.localTrack = nil
}

func (f *Factory) currentTrack() webrtc.TrackLocal {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.localTrack
}

// NewPeerLink builds one negotiated link to remoteID. The initiator side
// sends the offer; the responder answers whatever arrives via ApplySignal
// and attaches whatever local track is available at creation time, possibly
// none. Outgoing signaling goes through send; onClose fires when the
// underlying connection fails or closes remotely.
func (f *Factory) NewPeerLink(remoteID string, initiator bool, send func(string, json.RawMessage), onClose func(string)) (*Peer, error) {
	var cfg webrtc.Configuration
	if len(f.iceServers) > 0 {
		cfg.ICEServers = []webrtc.ICEServer{{URLs: f.iceServers}}
	}
	pc, err := webrtc.NewPeerConnection(cfg)
	if err != nil {
		return nil, fmt.Errorf("create peer connection: %w", err)
	}

	peer := &Peer{
		remoteID:  remoteID,
		initiator: initiator,
		pc:        pc,
		send:      send,
		log:       f.log,
	}

	if track := f.currentTrack(); track != nil {
		sender, err := pc.AddTrack(track)
		if err != nil {
			pc.Close()
			return nil, fmt.Errorf("add local track: %w", err)
		}
		go drainRTCP(sender)
	}

	pc.OnICECandidate(func(c *webrtc.ICECandidate) {
		if c == nil {
			return
		}
		init := c.ToJSON()
		peer.sendSignal(SignalPayload{Type: signalCandidate, Candidate: &init})
	})

	pc.OnTrack(func(track *webrtc.TrackRemote, _ *webrtc.RTPReceiver) {
		f.sink.OnTrack(remoteID, track)
	})

	pc.OnConnectionStateChange(func(state webrtc.PeerConnectionState) {
		switch state {
		case webrtc.PeerConnectionStateFailed, webrtc.PeerConnectionStateClosed:
			if onClose != nil {
				onClose(remoteID)
			}
		}
	})

	if initiator {
		if err := peer.sendOffer(); err != nil {
			pc.Close()
			return nil, err
		}
	}

	return peer, nil
}

// Peer is one realtime media link to a single remote participant.
type Peer struct {
	remoteID  string
	initiator bool
	pc        *webrtc.PeerConnection
	send      func(string, json.RawMessage)
	log       *zerolog.Logger
	closeOnce sync.Once
}

// RemoteID returns the remote participant id this link is keyed by.
func (p *Peer) RemoteID() string {
	return p.remoteID
}

func (p *Peer) sendOffer() error {
	offer, err := p.pc.CreateOffer(nil)
	if err != nil {
		return fmt.Errorf("create offer: %w", err)
	}
	if err := p.pc.SetLocalDescription(offer); err != nil {
		return fmt.Errorf("set local description: %w", err)
	}
	p.sendSignal(SignalPayload{Type: signalOffer, SDP: offer.SDP})
	return nil
}

// ApplySignal feeds one relayed negotiation payload into the link.
func (p *Peer) ApplySignal(payload json.RawMessage) error {
	var sig SignalPayload
	if err := json.Unmarshal(payload, &sig); err != nil {
		return fmt.Errorf("parse signal payload: %w", err)
	}

	switch sig.Type {
	case signalOffer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeOffer,
			SDP:  sig.SDP,
		}); err != nil {
			return fmt.Errorf("set remote offer: %w", err)
		}
		answer, err := p.pc.CreateAnswer(nil)
		if err != nil {
			return fmt.Errorf("create answer: %w", err)
		}
		if err := p.pc.SetLocalDescription(answer); err != nil {
			return fmt.Errorf("set local description: %w", err)
		}
		p.sendSignal(SignalPayload{Type: signalAnswer, SDP: answer.SDP})
		return nil

	case signalAnswer:
		if err := p.pc.SetRemoteDescription(webrtc.SessionDescription{
			Type: webrtc.SDPTypeAnswer,
			SDP:  sig.SDP,
		}); err != nil {
			return fmt.Errorf("set remote answer: %w", err)
		}
		return nil

	case signalCandidate:
		if sig.Candidate == nil {
			return nil
		}
		if err := p.pc.AddICECandidate(*sig.Candidate); err != nil {
			return fmt.Errorf("add ICE candidate: %w", err)
		}
		return nil

	default:
		return fmt.Errorf("unexpected signal type %q", sig.Type)
	}
}

// Close tears the link down, cancelling any in-flight negotiation.
func (p *Peer) Close() error {
	var err error
	p.closeOnce.Do(func() {
		err = p.pc.Close()
	})
	return err
}

func (p *Peer) sendSignal(sig SignalPayload) {
	raw, err := json.Marshal(sig)
	if err != nil {
		p.log.Error().Err(err).Str("remote_id", p.remoteID).Msg("marshal signal")
		return
	}
	p.send(p.remoteID, raw)
}

// drainRTCP keeps the sender's RTCP path flowing for interceptors.
func drainRTCP(sender *webrtc.RTPSender) {
	buf := make([]byte, 1500)
	for {
		if _, _, err := sender.Read(buf); err != nil {
			return
		}
	}
}
