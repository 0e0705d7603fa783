package protocol

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Decode failures are recoverable: callers drop the frame and keep the
// channel open.
var (
	ErrMalformedFrame = errors.New("malformed frame")
	ErrUnknownType    = errors.New("unknown frame type")
)

// Decode parses one wire frame and normalizes defaults. receivedAt supplies
// the local receipt time used when the backend omits a timestamp and for
// stamping log frames.
func Decode(data []byte, receivedAt time.Time) (Message, error) {
	var m Message
	if err := json.Unmarshal(data, &m); err != nil {
		return Message{}, fmt.Errorf("%w: %v", ErrMalformedFrame, err)
	}
	switch m.Type {
	case TypeStatus:
		if m.Status == "" {
			return Message{}, fmt.Errorf("%w: status frame without status", ErrMalformedFrame)
		}
	case TypeTranscript:
		if !m.Role.Valid() {
			return Message{}, fmt.Errorf("%w: transcript frame with role %q", ErrMalformedFrame, m.Role)
		}
		if m.Timestamp == 0 {
			m.Timestamp = receivedAt.UnixMilli()
		}
		if m.Final == nil {
			final := true
			m.Final = &final
		}
	case TypeLog:
		m.Timestamp = receivedAt.UnixMilli()
	default:
		return Message{}, fmt.Errorf("%w: %q", ErrUnknownType, m.Type)
	}
	return m, nil
}

// Encode serializes a message to one text frame.
func Encode(m Message) ([]byte, error) {
	return json.Marshal(m)
}
