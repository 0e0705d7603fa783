package observers

import (
	"log/slog"
	"sync"
	"time"

	"github.com/harunnryd/wicara/pkg/metrics"
)

// LatencyObserver measures connection setup: session issuance to negotiated
// answer to message channel open. One trace per session.
type LatencyObserver struct {
	mu     sync.Mutex
	traces map[string]*setupTrace
	log    *slog.Logger
}

type setupTrace struct {
	sessionCreated time.Time
	attached       time.Time
	channelOpen    time.Time
	pcID           string
}

func NewLatencyObserver(log *slog.Logger) *LatencyObserver {
	if log == nil {
		log = slog.Default()
	}
	return &LatencyObserver{
		traces: make(map[string]*setupTrace),
		log:    log,
	}
}

func (o *LatencyObserver) RecordEvent(ev metrics.MetricsEvent) {
	sessionID := ""
	if ev.Tags != nil {
		sessionID = ev.Tags["session_id"]
	}
	if sessionID == "" {
		return
	}
	o.mu.Lock()
	t := o.traces[sessionID]
	if t == nil {
		t = &setupTrace{}
		o.traces[sessionID] = t
	}
	switch ev.Name {
	case "session_created":
		if t.sessionCreated.IsZero() {
			t.sessionCreated = ev.Time
		}
	case "connection_attached":
		// A superseding connection restarts the attach measurement.
		t.attached = ev.Time
		t.pcID = ev.Tags["pc_id"]
	case "channel_open":
		t.channelOpen = ev.Time
	}
	if !t.channelOpen.IsZero() && !t.attached.IsZero() {
		o.logSetupLocked(sessionID, t)
		delete(o.traces, sessionID)
	}
	o.mu.Unlock()
}

func (o *LatencyObserver) logSetupLocked(sessionID string, t *setupTrace) {
	o.log.Info("connection setup latency",
		"session_id", sessionID,
		"pc_id", t.pcID,
		"negotiate_ms", durationMs(t.sessionCreated, t.attached),
		"channel_open_ms", durationMs(t.attached, t.channelOpen),
		"total_ms", durationMs(t.sessionCreated, t.channelOpen),
	)
}

func durationMs(a, b time.Time) int64 {
	if a.IsZero() || b.IsZero() {
		return -1
	}
	return b.Sub(a).Milliseconds()
}

var _ metrics.Observer = (*LatencyObserver)(nil)
