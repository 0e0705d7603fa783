package media

import (
	"context"
	"testing"
)

func TestSilenceCapturerOpenAndStop(t *testing.T) {
	cap, err := SilenceCapturer{}.Open(context.Background(), DefaultConstraints())
	if err != nil {
		t.Fatalf("open error: %v", err)
	}
	if cap.Track() == nil {
		t.Fatalf("expected a local track")
	}
	if err := cap.Stop(); err != nil {
		t.Fatalf("stop error: %v", err)
	}
	// Stop is idempotent.
	if err := cap.Stop(); err != nil {
		t.Fatalf("second stop error: %v", err)
	}
}

func TestSilenceCapturerRespectsCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	if _, err := (SilenceCapturer{}).Open(ctx, DefaultConstraints()); err == nil {
		t.Fatalf("expected error for cancelled context")
	}
}
