package resilience

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestDoContextStopsAfterSuccess(t *testing.T) {
	p := NewRetryPolicy(3, time.Millisecond)
	calls := 0
	err := p.DoContext(context.Background(), func(context.Context) error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("expected success, got %v", err)
	}
	if calls != 2 {
		t.Fatalf("expected 2 attempts, got %d", calls)
	}
}

func TestDoContextExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
	calls := 0
	wantErr := errors.New("still down")
	err := p.DoContext(context.Background(), func(context.Context) error {
		calls++
		return wantErr
	})
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected final error, got %v", err)
	}
	if calls != 3 {
		t.Fatalf("expected 3 attempts, got %d", calls)
	}
}

func TestDoContextHonorsCancellation(t *testing.T) {
	p := RetryPolicy{MaxRetries: 5, Backoff: time.Hour}
	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	done := make(chan error, 1)
	go func() {
		done <- p.DoContext(ctx, func(context.Context) error {
			calls++
			return errors.New("transient")
		})
	}()
	time.Sleep(10 * time.Millisecond)
	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Fatalf("expected context.Canceled, got %v", err)
		}
	case <-time.After(time.Second):
		t.Fatalf("retry did not unwind after cancellation")
	}
	if calls != 1 {
		t.Fatalf("expected backoff interrupted after first attempt, got %d calls", calls)
	}
}
