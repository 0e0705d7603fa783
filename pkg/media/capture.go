package media

import (
	"context"
	"errors"
	"io"

	"github.com/pion/webrtc/v4"
)

// Constraints mirror browser-style audio capture hints. Implementations that
// cannot honor a hint apply their best effort; Constraints never fail a
// capture on their own.
type Constraints struct {
	EchoCancellation bool
	NoiseSuppression bool
	AutoGainControl  bool
}

// DefaultConstraints enables all processing hints, matching what the
// conversation client requests for voice capture.
func DefaultConstraints() Constraints {
	return Constraints{
		EchoCancellation: true,
		NoiseSuppression: true,
		AutoGainControl:  true,
	}
}

// Capture is one live local audio capture. Stop releases the underlying
// device; it must be safe to call more than once.
type Capture interface {
	Track() webrtc.TrackLocal
	Stop() error
}

// Capturer acquires local audio. Device-backed implementations live with the
// embedding application; this package ships a silence source for tooling and
// tests.
type Capturer interface {
	Open(ctx context.Context, c Constraints) (Capture, error)
}

// Sink consumes a remote audio track as soon as it arrives. Consume blocks
// until the track ends and is run on its own goroutine by the caller.
type Sink interface {
	Consume(track *webrtc.TrackRemote)
}

// DiscardSink drains remote audio without playing it.
type DiscardSink struct{}

func (DiscardSink) Consume(track *webrtc.TrackRemote) {
	for {
		if _, _, err := track.ReadRTP(); err != nil {
			if errors.Is(err, io.EOF) {
				return
			}
			return
		}
	}
}
