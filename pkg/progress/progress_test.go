package progress

import (
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/wicara/pkg/protocol"
)

type captureSender struct {
	mu   sync.Mutex
	sent []protocol.Message
}

func (c *captureSender) SendMessage(m protocol.Message) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, m)
	return nil
}

func (c *captureSender) messages() []protocol.Message {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]protocol.Message, len(c.sent))
	copy(out, c.sent)
	return out
}

func fixedClock() time.Time { return time.UnixMilli(1700000000000) }

func TestSTTFinalSequence(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)

	if err := em.STT.Final("what is the book about"); err != nil {
		t.Fatalf("final error: %v", err)
	}

	got := sender.messages()
	if len(got) != 5 {
		t.Fatalf("expected 5 frames, got %d", len(got))
	}
	if got[0].Type != protocol.TypeStatus || got[0].Status != protocol.StatusSTT {
		t.Fatalf("expected stt status first, got %+v", got[0])
	}
	if got[1].Type != protocol.TypeLog {
		t.Fatalf("expected log second, got %+v", got[1])
	}
	tr := got[2]
	if tr.Type != protocol.TypeTranscript || tr.Role != protocol.RoleUser || !tr.IsFinal() {
		t.Fatalf("expected final user transcript, got %+v", tr)
	}
	if tr.MessageID == nil || *tr.MessageID != 1 {
		t.Fatalf("expected messageId 1, got %v", tr.MessageID)
	}
	if got[3].Status != protocol.StatusLLM {
		t.Fatalf("expected llm handoff, got %+v", got[3])
	}
}

func TestSTTInterimEmitsListeningPreview(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)
	if err := em.STT.Interim("the boo"); err != nil {
		t.Fatalf("interim error: %v", err)
	}
	got := sender.messages()
	if len(got) != 1 || got[0].Status != protocol.StatusListening || got[0].Text != "the boo" {
		t.Fatalf("expected listening status with preview, got %+v", got)
	}
}

func TestSTTMessageIDsIncrementPerUtterance(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)
	_ = em.STT.Final("first")
	_ = em.STT.Final("second")

	var ids []int
	for _, m := range sender.messages() {
		if m.Type == protocol.TypeTranscript && m.MessageID != nil {
			ids = append(ids, *m.MessageID)
		}
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 2 {
		t.Fatalf("expected ids 1,2 got %v", ids)
	}
}

func TestLLMStreamsCumulativeThenFinal(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)

	_ = em.LLM.Start()
	_ = em.LLM.Delta("The boo")
	_ = em.LLM.Delta("k is about...")
	_ = em.LLM.End()

	var transcripts []protocol.Message
	for _, m := range sender.messages() {
		if m.Type == protocol.TypeTranscript {
			transcripts = append(transcripts, m)
		}
	}
	if len(transcripts) != 3 {
		t.Fatalf("expected 3 transcript frames, got %d", len(transcripts))
	}
	if transcripts[0].Text != "The boo" || transcripts[0].IsFinal() {
		t.Fatalf("expected non-final first delta, got %+v", transcripts[0])
	}
	if transcripts[1].Text != "The book is about..." || transcripts[1].IsFinal() {
		t.Fatalf("expected cumulative second delta, got %+v", transcripts[1])
	}
	final := transcripts[2]
	if !final.IsFinal() || final.Text != "The book is about..." {
		t.Fatalf("expected final payload, got %+v", final)
	}
	for _, m := range transcripts {
		if m.MessageID == nil || *m.MessageID != 1 {
			t.Fatalf("expected all frames to share messageId 1, got %v", m.MessageID)
		}
	}
}

func TestLLMNewResponseBumpsID(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)
	_ = em.LLM.Start()
	_ = em.LLM.Delta("one")
	_ = em.LLM.End()
	_ = em.LLM.Start()
	_ = em.LLM.Delta("two")
	_ = em.LLM.End()

	var last *int
	for _, m := range sender.messages() {
		if m.Type == protocol.TypeTranscript {
			last = m.MessageID
		}
	}
	if last == nil || *last != 2 {
		t.Fatalf("expected second response under messageId 2, got %v", last)
	}
}

func TestTTSLifecycle(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)

	_ = em.TTS.Started()
	_ = em.TTS.Started() // duplicate start is a no-op
	_ = em.TTS.Stopped()
	_ = em.TTS.Stopped() // duplicate stop is a no-op

	var statuses []protocol.PipelineStatus
	for _, m := range sender.messages() {
		if m.Type == protocol.TypeStatus {
			statuses = append(statuses, m.Status)
		}
	}
	if len(statuses) != 2 || statuses[0] != protocol.StatusTTS || statuses[1] != protocol.StatusIdle {
		t.Fatalf("expected tts then idle, got %v", statuses)
	}
}

func TestTTSInterruptOnlyWhileSpeaking(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)

	_ = em.TTS.Interrupted()
	if len(sender.messages()) != 0 {
		t.Fatalf("expected no frames when idle")
	}

	_ = em.TTS.Started()
	_ = em.TTS.Interrupted()
	got := sender.messages()
	lastStatus := got[len(got)-2]
	if lastStatus.Status != protocol.StatusIdle {
		t.Fatalf("expected idle after interrupt, got %+v", lastStatus)
	}
}

func TestClipKeepsRuneBoundaries(t *testing.T) {
	long := strings.Repeat("é", 30)
	got := clip(long, 51)
	if !utf8.ValidString(got) {
		t.Fatalf("clip produced invalid UTF-8: %q", got)
	}
	if got != strings.Repeat("é", 25)+"..." {
		t.Fatalf("unexpected clip result %q", got)
	}
	if short := clip("plain ascii", 50); short != "plain ascii" {
		t.Fatalf("expected short input untouched, got %q", short)
	}
}

func TestEmittedFramesSatisfyWireContract(t *testing.T) {
	sender := &captureSender{}
	em := NewEmitters(sender, fixedClock)
	_ = em.STT.Interim("par")
	_ = em.STT.Final("partial question")
	_ = em.LLM.Start()
	_ = em.LLM.Delta("answer")
	_ = em.LLM.End()
	_ = em.TTS.Started()
	_ = em.TTS.Stopped()

	for _, m := range sender.messages() {
		raw, err := protocol.Encode(m)
		if err != nil {
			t.Fatalf("encode: %v", err)
		}
		if err := protocol.ValidateWire(raw); err != nil {
			t.Fatalf("frame violates wire contract: %v\n%s", err, raw)
		}
	}
}
