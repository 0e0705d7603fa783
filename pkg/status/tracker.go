package status

import (
	"fmt"
	"sync"
	"time"

	"github.com/harunnryd/wicara/pkg/protocol"
)

// StageState is the rendered state of one pipeline stage within the turn.
type StageState int

const (
	StageInactive StageState = iota
	StageActive
	StageCompleted
)

func (s StageState) String() string {
	switch s {
	case StageActive:
		return "active"
	case StageCompleted:
		return "completed"
	default:
		return "inactive"
	}
}

// Change is a mirrored status transition.
type Change struct {
	From protocol.PipelineStatus
	To   protocol.PipelineStatus
	At   time.Time
}

// Diagnostic reports a stage sequence the backend should not have produced.
// The received value is still rendered; diagnostics are advisory only.
type Diagnostic struct {
	From   protocol.PipelineStatus
	To     protocol.PipelineStatus
	Reason string
}

// Listener observes mirrored status changes.
type Listener interface {
	OnStatusChange(Change)
}

// DiagnosticListener observes stage-sequence diagnostics.
type DiagnosticListener interface {
	OnDiagnostic(Diagnostic)
}

// turnStages is the processing order within one turn.
var turnStages = []protocol.PipelineStatus{protocol.StatusSTT, protocol.StatusLLM, protocol.StatusTTS}

// Tracker mirrors the backend-reported pipeline stage into a renderable
// state. The backend is the sole source of truth: every received value is
// rendered as-is. The tracker only adds local side effects (clearing the
// speculative preview when the utterance leaves stt/listening) and a
// transition-legality check that raises diagnostics instead of rejecting.
type Tracker struct {
	mu        sync.RWMutex
	current   protocol.PipelineStatus
	preview   string
	seen      map[protocol.PipelineStatus]bool
	listeners []Listener
	diag      []DiagnosticListener
}

func NewTracker() *Tracker {
	return &Tracker{
		current: protocol.StatusIdle,
		seen:    make(map[protocol.PipelineStatus]bool),
	}
}

// AddListener registers a status change listener.
func (t *Tracker) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// AddDiagnosticListener registers a diagnostics listener.
func (t *Tracker) AddDiagnosticListener(l DiagnosticListener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.diag = append(t.diag, l)
}

// Apply mirrors one status frame received at the given local time.
func (t *Tracker) Apply(msg protocol.Message, at time.Time) error {
	if msg.Type != protocol.TypeStatus {
		return fmt.Errorf("status tracker: unexpected frame type %q", msg.Type)
	}
	to := msg.Status

	t.mu.Lock()
	from := t.current
	diag := t.checkSequenceLocked(from, to)
	t.current = to

	switch to {
	case protocol.StatusIdle, protocol.StatusListening:
		// New turn: stage history resets.
		t.seen = make(map[protocol.PipelineStatus]bool)
	default:
		t.seen[to] = true
	}

	inUtterance := to == protocol.StatusListening || to == protocol.StatusSTT
	if inUtterance {
		if msg.Text != "" {
			t.preview = msg.Text
		}
	} else {
		t.preview = ""
	}

	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	diagListeners := make([]DiagnosticListener, len(t.diag))
	copy(diagListeners, t.diag)
	t.mu.Unlock()

	change := Change{From: from, To: to, At: at}
	for _, l := range listeners {
		l.OnStatusChange(change)
	}
	if diag != nil {
		for _, l := range diagListeners {
			l.OnDiagnostic(*diag)
		}
	}
	return nil
}

// checkSequenceLocked flags stage sequences that skip an expected predecessor
// within the turn, e.g. tts without a preceding llm.
func (t *Tracker) checkSequenceLocked(from, to protocol.PipelineStatus) *Diagnostic {
	if !to.Valid() {
		return &Diagnostic{From: from, To: to, Reason: "unknown stage"}
	}
	var requires protocol.PipelineStatus
	switch to {
	case protocol.StatusLLM:
		requires = protocol.StatusSTT
	case protocol.StatusTTS:
		requires = protocol.StatusLLM
	default:
		return nil
	}
	if t.seen[requires] || from == requires {
		return nil
	}
	return &Diagnostic{
		From:   from,
		To:     to,
		Reason: fmt.Sprintf("%s observed without preceding %s in turn", to, requires),
	}
}

// Current returns the mirrored pipeline stage.
func (t *Tracker) Current() protocol.PipelineStatus {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.current
}

// Preview returns the speculative in-progress utterance text, empty once the
// turn has moved past stt/listening.
func (t *Tracker) Preview() string {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.preview
}

// View renders the per-turn stage set.
func (t *Tracker) View() map[protocol.PipelineStatus]StageState {
	t.mu.RLock()
	defer t.mu.RUnlock()
	view := make(map[protocol.PipelineStatus]StageState, len(turnStages))
	for _, stage := range turnStages {
		switch {
		case t.current == stage:
			view[stage] = StageActive
		case t.seen[stage]:
			view[stage] = StageCompleted
		default:
			view[stage] = StageInactive
		}
	}
	return view
}

// Reset returns the tracker to idle, clearing turn history and preview.
func (t *Tracker) Reset() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.current = protocol.StatusIdle
	t.preview = ""
	t.seen = make(map[protocol.PipelineStatus]bool)
}
