package rtc

import "github.com/pion/webrtc/v4"

// SignalPayload is the negotiation payload carried opaquely through the
// relay: an SDP offer/answer or a trickled ICE candidate.
type SignalPayload struct {
	Type      string                   `json:"type"` // "offer", "answer" or "candidate"
	SDP       string                   `json:"sdp,omitempty"`
	Candidate *webrtc.ICECandidateInit `json:"candidate,omitempty"`
}

const (
	signalOffer     = "offer"
	signalAnswer    = "answer"
	signalCandidate = "candidate"
)
