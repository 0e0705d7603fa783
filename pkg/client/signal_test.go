package client

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/pion/webrtc/v4"

	"github.com/harunnryd/wicara/pkg/errorsx"
	"github.com/harunnryd/wicara/pkg/resilience"
)

func fastRetry() resilience.RetryPolicy {
	return resilience.RetryPolicy{MaxRetries: 2, Backoff: time.Millisecond}
}

func testOffer() webrtc.SessionDescription {
	return webrtc.SessionDescription{Type: webrtc.SDPTypeOffer, SDP: "v=0\r\n"}
}

func TestCreateSession(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/api/session" || r.Method != http.MethodPost {
			t.Errorf("unexpected request %s %s", r.Method, r.URL.Path)
		}
		json.NewEncoder(w).Encode(map[string]string{"sessionId": "sess-42"})
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, Retry: fastRetry()})
	id, err := sc.CreateSession(context.Background())
	if err != nil {
		t.Fatalf("create session: %v", err)
	}
	if id != "sess-42" {
		t.Fatalf("expected sess-42, got %q", id)
	}
}

func TestOfferUsesSessionPath(t *testing.T) {
	var gotPath string
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		json.NewEncoder(w).Encode(map[string]string{"sdp": "v=0\r\n", "type": "answer", "pc_id": "pc-9"})
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, SessionID: "sess-1", Retry: fastRetry()})
	answer, pcID, err := sc.Offer(context.Background(), testOffer(), "")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if gotPath != "/sessions/sess-1/api/offer" {
		t.Fatalf("expected session-scoped path, got %q", gotPath)
	}
	if answer.Type != webrtc.SDPTypeAnswer || pcID != "pc-9" {
		t.Fatalf("unexpected answer %+v pc_id %q", answer, pcID)
	}
}

func TestOfferSendsRetainedPCID(t *testing.T) {
	var got offerPayload
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		json.NewEncoder(w).Encode(map[string]string{"sdp": "v=0\r\n", "type": "answer", "pc_id": got.PCID})
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, Retry: fastRetry()})
	_, pcID, err := sc.Offer(context.Background(), testOffer(), "pc-old")
	if err != nil {
		t.Fatalf("offer: %v", err)
	}
	if got.PCID != "pc-old" || pcID != "pc-old" {
		t.Fatalf("expected pc_id round trip, sent %q got %q", got.PCID, pcID)
	}
}

func TestOfferNotFoundIsTerminal(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, SessionID: "gone", Retry: fastRetry()})
	_, _, err := sc.Offer(context.Background(), testOffer(), "")
	if !errorsx.HasReason(err, errorsx.ReasonSessionNotFound) {
		t.Fatalf("expected session_not_found, got %v", err)
	}
	if attempts.Load() != 1 {
		t.Fatalf("expected a single attempt for 404, got %d", attempts.Load())
	}
}

func TestOfferRetriesServerErrors(t *testing.T) {
	var attempts atomic.Int32
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if attempts.Add(1) == 1 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		json.NewEncoder(w).Encode(map[string]string{"sdp": "v=0\r\n", "type": "answer", "pc_id": "pc-1"})
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, Retry: fastRetry()})
	_, pcID, err := sc.Offer(context.Background(), testOffer(), "")
	if err != nil {
		t.Fatalf("expected retry to succeed, got %v", err)
	}
	if pcID != "pc-1" || attempts.Load() != 2 {
		t.Fatalf("expected success on attempt 2, got pc_id %q after %d attempts", pcID, attempts.Load())
	}
}

func TestOfferRejectsNonAnswer(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]string{"sdp": "v=0\r\n", "type": "offer", "pc_id": "pc-1"})
	}))
	defer ts.Close()

	sc := NewSignalClient(SignalConfig{BaseURL: ts.URL, Retry: fastRetry()})
	_, _, err := sc.Offer(context.Background(), testOffer(), "")
	if !errorsx.HasReason(err, errorsx.ReasonSignalOffer) {
		t.Fatalf("expected signal_offer reason, got %v", err)
	}
}
