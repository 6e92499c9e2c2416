package rtc

import (
	"github.com/pion/webrtc/v4"
	"github.com/rs/zerolog"
)

// Sink receives remote media, one callback per remote track. Implementations
// own playback; the peer link only routes.
type Sink interface {
	OnTrack(remoteID string, track *webrtc.TrackRemote)
}

// DiscardSink drains remote tracks without playing them. Headless clients
// use it so inbound RTP keeps flowing.
type DiscardSink struct {
	Log *zerolog.Logger
}

func (s DiscardSink) OnTrack(remoteID string, track *webrtc.TrackRemote) {
	if s.Log != nil {
		s.Log.Debug().Str("remote_id", remoteID).Str("codec", track.Codec().MimeType).Msg("draining remote track")
	}
	go func() {
		buf := make([]byte, 1500)
		for {
			if _, _, err := track.Read(buf); err != nil {
				return
			}
		}
	}()
}
