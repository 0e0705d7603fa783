package transcript

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/harunnryd/wicara/pkg/protocol"
)

// Entry is one reconciled line of the conversation log.
type Entry struct {
	ID        string
	Role      protocol.Role
	Text      string
	Timestamp time.Time
	Final     bool
}

// Reconciler merges streaming transcript fragments into an ordered,
// deduplicated log. The composite id is strictly a merge key: an incoming
// payload for a known id replaces the stored payload in place (last applied
// wins), and presentation order is recomputed from server timestamps on every
// mutation rather than trusted from delivery order.
//
// Fallback sequence numbers for frames without a messageId are scoped to the
// reconciler instance, one per connection, so concurrent sessions never share
// counters.
type Reconciler struct {
	mu       sync.Mutex
	entries  []Entry
	index    map[string]int
	used     map[string]struct{}
	counters map[protocol.Role]int
}

func New() *Reconciler {
	return &Reconciler{
		index:    make(map[string]int),
		used:     make(map[string]struct{}),
		counters: make(map[protocol.Role]int),
	}
}

// Apply merges one transcript message into the log and returns the resulting
// entry.
func (r *Reconciler) Apply(msg protocol.Message) (Entry, error) {
	if msg.Type != protocol.TypeTranscript {
		return Entry{}, fmt.Errorf("transcript reconciler: unexpected frame type %q", msg.Type)
	}
	if !msg.Role.Valid() {
		return Entry{}, fmt.Errorf("transcript reconciler: invalid role %q", msg.Role)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	var id string
	if msg.MessageID != nil {
		id = protocol.CompositeID(msg.Role, *msg.MessageID)
	} else {
		id = r.nextIDLocked(msg.Role)
	}
	r.used[id] = struct{}{}

	entry := Entry{
		ID:        id,
		Role:      msg.Role,
		Text:      msg.Text,
		Timestamp: msg.ServerTime(),
		Final:     msg.IsFinal(),
	}

	if pos, ok := r.index[id]; ok {
		r.entries[pos] = entry
	} else {
		r.entries = append(r.entries, entry)
	}
	r.resortLocked()
	return entry, nil
}

// nextIDLocked assigns the next unused sequence number for the role. Explicit
// backend ids already seen are skipped so the fallback never collides.
func (r *Reconciler) nextIDLocked(role protocol.Role) string {
	for {
		r.counters[role]++
		id := protocol.CompositeID(role, r.counters[role])
		if _, taken := r.used[id]; !taken {
			return id
		}
	}
}

func (r *Reconciler) resortLocked() {
	sort.SliceStable(r.entries, func(i, j int) bool {
		return r.entries[i].Timestamp.Before(r.entries[j].Timestamp)
	})
	for pos, e := range r.entries {
		r.index[e.ID] = pos
	}
}

// Entries returns the log in ascending server-timestamp order. The returned
// slice is a copy; the reconciler retains ownership of the log.
func (r *Reconciler) Entries() []Entry {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Entry, len(r.entries))
	copy(out, r.entries)
	return out
}

// Len reports the number of reconciled entries.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.entries)
}

// Reset clears the log and all sequence state. Used when a session ends.
func (r *Reconciler) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries = nil
	r.index = make(map[string]int)
	r.used = make(map[string]struct{})
	r.counters = make(map[protocol.Role]int)
}
