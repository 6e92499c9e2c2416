package rtc

import (
	"context"

	"github.com/pion/webrtc/v4"
)

// Capture acquires the local audio track lent to peer links. The release
// func must be safe to call once the track is no longer in use.
type Capture interface {
	Acquire(ctx context.Context) (webrtc.TrackLocal, func(), error)
}

// StaticCapture provides a placeholder opus track for headless clients
// that have no capture device. Peers negotiate an audio channel; no
// samples are written to it.
type StaticCapture struct{}

func (StaticCapture) Acquire(_ context.Context) (webrtc.TrackLocal, func(), error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypeOpus},
		"audio",
		"loopjam",
	)
	if err != nil {
		return nil, nil, err
	}
	return track, func() {}, nil
}
