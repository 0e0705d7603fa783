package protocol

import (
	"errors"
	"testing"
	"time"
)

func TestDecodeTranscriptDefaults(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	msg, err := Decode([]byte(`{"type":"transcript","role":"user","text":"hello"}`), at)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Timestamp != at.UnixMilli() {
		t.Fatalf("expected receipt-time default, got %d", msg.Timestamp)
	}
	if !msg.IsFinal() {
		t.Fatalf("expected missing final to default to true")
	}
}

func TestDecodeTranscriptExplicitFields(t *testing.T) {
	raw := `{"type":"transcript","role":"assistant","text":"The boo","timestamp":42,"final":false,"messageId":3}`
	msg, err := Decode([]byte(raw), time.Now())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Timestamp != 42 {
		t.Fatalf("expected explicit timestamp preserved, got %d", msg.Timestamp)
	}
	if msg.IsFinal() {
		t.Fatalf("expected final=false")
	}
	if msg.MessageID == nil || *msg.MessageID != 3 {
		t.Fatalf("expected messageId=3, got %v", msg.MessageID)
	}
}

func TestDecodeStatus(t *testing.T) {
	msg, err := Decode([]byte(`{"type":"status","status":"listening","text":"the boo"}`), time.Now())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Status != StatusListening {
		t.Fatalf("expected listening, got %s", msg.Status)
	}
	if msg.Text != "the boo" {
		t.Fatalf("expected preview text, got %q", msg.Text)
	}
}

func TestDecodeLogStampedWithReceiptTime(t *testing.T) {
	at := time.UnixMilli(99)
	msg, err := Decode([]byte(`{"type":"log","text":"STT ready"}`), at)
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if msg.Timestamp != 99 {
		t.Fatalf("expected log stamped at receipt, got %d", msg.Timestamp)
	}
}

func TestDecodeRecoverableFailures(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{name: "not json", raw: `{nope`, want: ErrMalformedFrame},
		{name: "unknown type", raw: `{"type":"telemetry"}`, want: ErrUnknownType},
		{name: "status without status", raw: `{"type":"status"}`, want: ErrMalformedFrame},
		{name: "transcript bad role", raw: `{"type":"transcript","role":"narrator","text":"x"}`, want: ErrMalformedFrame},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := Decode([]byte(tc.raw), time.Now())
			if !errors.Is(err, tc.want) {
				t.Fatalf("expected %v, got %v", tc.want, err)
			}
		})
	}
}

func TestEncodeDecodeTranscript(t *testing.T) {
	at := time.UnixMilli(1700000000500)
	in := NewTranscript(RoleAssistant, "The book is about...", true, 3, at)
	raw, err := Encode(in)
	if err != nil {
		t.Fatalf("encode error: %v", err)
	}
	out, err := Decode(raw, time.Now())
	if err != nil {
		t.Fatalf("decode error: %v", err)
	}
	if out.Text != in.Text || out.Timestamp != at.UnixMilli() || !out.IsFinal() {
		t.Fatalf("round trip mismatch: %+v", out)
	}
}

func TestCompositeID(t *testing.T) {
	if got := CompositeID(RoleAssistant, 3); got != "assistant-3" {
		t.Fatalf("expected assistant-3, got %s", got)
	}
	if got := CompositeID(RoleUser, 1); got != "user-1" {
		t.Fatalf("expected user-1, got %s", got)
	}
}
