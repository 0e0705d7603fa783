// Package progress translates backend pipeline milestones into the wire
// frames the conversation client renders: status transitions, incrementally
// finalized transcripts, and human-readable log lines.
package progress

import (
	"fmt"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/harunnryd/wicara/pkg/protocol"
	"github.com/harunnryd/wicara/pkg/redact"
)

// Sender delivers protocol messages to the connected client. The signaling
// peer implements it over the data channel.
type Sender interface {
	SendMessage(protocol.Message) error
}

// Clock supplies server timestamps; replaceable in tests.
type Clock func() time.Time

// Emitters bundles one connection's frame producers. Message id counters are
// scoped to the bundle, one bundle per connection, so concurrent sessions
// never share sequence state.
type Emitters struct {
	STT *STTProgress
	LLM *LLMProgress
	TTS *TTSStatus
}

func NewEmitters(sender Sender, clock Clock) *Emitters {
	if clock == nil {
		clock = time.Now
	}
	return &Emitters{
		STT: &STTProgress{sender: sender, clock: clock},
		LLM: &LLMProgress{sender: sender, clock: clock},
		TTS: &TTSStatus{sender: sender},
	}
}

// STTProgress reports speech-to-text milestones.
type STTProgress struct {
	mu     sync.Mutex
	sender Sender
	clock  Clock
	seq    int
}

// Interim reports a partial utterance: the user is still speaking.
func (p *STTProgress) Interim(text string) error {
	return p.sender.SendMessage(protocol.NewStatus(protocol.StatusListening, text))
}

// Final reports a committed utterance. It emits the stt status, the final
// user transcript with a fresh per-connection id, and the handoff to llm.
func (p *STTProgress) Final(text string) error {
	p.mu.Lock()
	p.seq++
	seq := p.seq
	p.mu.Unlock()

	if err := p.sender.SendMessage(protocol.NewStatus(protocol.StatusSTT, text)); err != nil {
		return err
	}
	if err := p.sender.SendMessage(protocol.NewLog(fmt.Sprintf("STT: %q", redact.Text(clip(text, 50))))); err != nil {
		return err
	}
	if err := p.sender.SendMessage(protocol.NewTranscript(protocol.RoleUser, text, true, seq, p.clock())); err != nil {
		return err
	}
	if err := p.sender.SendMessage(protocol.NewStatus(protocol.StatusLLM, "")); err != nil {
		return err
	}
	return p.sender.SendMessage(protocol.NewLog("Sending to LLM..."))
}

// LLMProgress streams the assistant response as a single transcript entry
// that is repeatedly overwritten until finalized.
type LLMProgress struct {
	mu     sync.Mutex
	sender Sender
	clock  Clock
	seq    int
	buf    strings.Builder
}

// Start opens a new assistant message.
func (p *LLMProgress) Start() error {
	p.mu.Lock()
	p.buf.Reset()
	p.seq++
	p.mu.Unlock()
	return p.sender.SendMessage(protocol.NewLog("LLM streaming response..."))
}

// Delta appends a streamed chunk and emits the cumulative non-final payload
// under the same composite id.
func (p *LLMProgress) Delta(chunk string) error {
	p.mu.Lock()
	p.buf.WriteString(chunk)
	text := p.buf.String()
	seq := p.seq
	p.mu.Unlock()
	return p.sender.SendMessage(protocol.NewTranscript(protocol.RoleAssistant, text, false, seq, p.clock()))
}

// End finalizes the assistant message.
func (p *LLMProgress) End() error {
	p.mu.Lock()
	text := p.buf.String()
	seq := p.seq
	p.buf.Reset()
	p.mu.Unlock()

	if text != "" {
		if err := p.sender.SendMessage(protocol.NewTranscript(protocol.RoleAssistant, text, true, seq, p.clock())); err != nil {
			return err
		}
		if err := p.sender.SendMessage(protocol.NewLog(fmt.Sprintf("LLM complete: %d chars", len(text)))); err != nil {
			return err
		}
	}
	return p.sender.SendMessage(protocol.NewLog("Sending to TTS..."))
}

// TTSStatus reports speech synthesis state and interruptions.
type TTSStatus struct {
	mu       sync.Mutex
	sender   Sender
	speaking bool
}

// Started marks the beginning of synthesized playback.
func (p *TTSStatus) Started() error {
	p.mu.Lock()
	if p.speaking {
		p.mu.Unlock()
		return nil
	}
	p.speaking = true
	p.mu.Unlock()
	if err := p.sender.SendMessage(protocol.NewStatus(protocol.StatusTTS, "")); err != nil {
		return err
	}
	return p.sender.SendMessage(protocol.NewLog("TTS speaking..."))
}

// Stopped marks the end of playback and returns the pipeline to idle.
func (p *TTSStatus) Stopped() error {
	p.mu.Lock()
	if !p.speaking {
		p.mu.Unlock()
		return nil
	}
	p.speaking = false
	p.mu.Unlock()
	if err := p.sender.SendMessage(protocol.NewStatus(protocol.StatusIdle, "")); err != nil {
		return err
	}
	return p.sender.SendMessage(protocol.NewLog("Ready"))
}

// Interrupted reports a user barge-in while the bot was speaking.
func (p *TTSStatus) Interrupted() error {
	p.mu.Lock()
	if !p.speaking {
		p.mu.Unlock()
		return nil
	}
	p.speaking = false
	p.mu.Unlock()
	if err := p.sender.SendMessage(protocol.NewStatus(protocol.StatusIdle, "")); err != nil {
		return err
	}
	return p.sender.SendMessage(protocol.NewLog("Interrupted by user"))
}

// clip truncates to at most n bytes, backing up to a rune boundary so the
// result is always valid UTF-8.
func clip(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
