package media

import (
	"context"
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
	pionmedia "github.com/pion/webrtc/v4/pkg/media"
)

const (
	frameDuration = 20 * time.Millisecond
	// PCMU at 8 kHz: 160 samples per 20 ms frame, one byte per sample.
	frameBytes = 160
	// 0xFF is the µ-law encoding of near-zero amplitude.
	muLawSilence = 0xFF
)

// SilenceCapturer produces a µ-law silence stream on a 20 ms cadence. It
// keeps the negotiated audio direction alive for tooling and tests without
// touching a real capture device.
type SilenceCapturer struct{}

func (SilenceCapturer) Open(ctx context.Context, _ Constraints) (Capture, error) {
	track, err := webrtc.NewTrackLocalStaticSample(
		webrtc.RTPCodecCapability{MimeType: webrtc.MimeTypePCMU},
		"audio", "wicara",
	)
	if err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	c := &silenceCapture{
		track: track,
		stop:  make(chan struct{}),
	}
	go c.loop()
	return c, nil
}

type silenceCapture struct {
	track    *webrtc.TrackLocalStaticSample
	stop     chan struct{}
	stopOnce sync.Once
}

func (c *silenceCapture) Track() webrtc.TrackLocal { return c.track }

func (c *silenceCapture) Stop() error {
	c.stopOnce.Do(func() { close(c.stop) })
	return nil
}

func (c *silenceCapture) loop() {
	frame := make([]byte, frameBytes)
	for i := range frame {
		frame[i] = muLawSilence
	}
	ticker := time.NewTicker(frameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-c.stop:
			return
		case <-ticker.C:
			sample := pionmedia.Sample{Data: frame, Duration: frameDuration}
			if err := c.track.WriteSample(sample); err != nil {
				return
			}
		}
	}
}
