package protocol

import (
	"fmt"
	"time"
)

// Type discriminates wire messages on the data channel.
type Type string

const (
	TypeStatus     Type = "status"
	TypeTranscript Type = "transcript"
	TypeLog        Type = "log"
)

// Role identifies the producer of a transcript message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// PipelineStatus is one phase of the backend processing turn. The backend is
// the sole source of truth; clients mirror the reported value.
type PipelineStatus string

const (
	StatusIdle      PipelineStatus = "idle"
	StatusListening PipelineStatus = "listening"
	StatusSTT       PipelineStatus = "stt"
	StatusLLM       PipelineStatus = "llm"
	StatusTTS       PipelineStatus = "tts"
)

func (s PipelineStatus) Valid() bool {
	switch s {
	case StatusIdle, StatusListening, StatusSTT, StatusLLM, StatusTTS:
		return true
	default:
		return false
	}
}

// CompositeID builds the reconciliation key for a transcript fragment.
// Sequence numbers are unique per role and never reused across roles.
func CompositeID(role Role, seq int) string {
	return fmt.Sprintf("%s-%d", role, seq)
}

// Message is the discriminated union carried as discrete UTF-8 text frames on
// the reliable ordered channel. Field presence depends on Type:
//
//	status:     Status, optional Text (speculative in-progress utterance)
//	transcript: Role, Text, optional Timestamp/Final/MessageID
//	log:        Text
type Message struct {
	Type      Type           `json:"type"`
	Status    PipelineStatus `json:"status,omitempty"`
	Role      Role           `json:"role,omitempty"`
	Text      string         `json:"text,omitempty"`
	Timestamp int64          `json:"timestamp,omitempty"`
	Final     *bool          `json:"final,omitempty"`
	MessageID *int           `json:"messageId,omitempty"`
}

// NewStatus builds a status message. Text carries the in-progress utterance
// when the backend has one (listening / stt stages).
func NewStatus(status PipelineStatus, text string) Message {
	return Message{Type: TypeStatus, Status: status, Text: text}
}

// NewTranscript builds a transcript message stamped with the server time.
func NewTranscript(role Role, text string, final bool, messageID int, at time.Time) Message {
	f := final
	id := messageID
	return Message{
		Type:      TypeTranscript,
		Role:      role,
		Text:      text,
		Timestamp: at.UnixMilli(),
		Final:     &f,
		MessageID: &id,
	}
}

// NewLog builds a log message.
func NewLog(text string) Message {
	return Message{Type: TypeLog, Text: text}
}

// IsFinal reports whether the transcript payload is final. A missing flag
// defaults to true.
func (m Message) IsFinal() bool {
	if m.Final == nil {
		return true
	}
	return *m.Final
}

// ServerTime converts the millisecond timestamp to a time.Time.
func (m Message) ServerTime() time.Time {
	return time.UnixMilli(m.Timestamp)
}
