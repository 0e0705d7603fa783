package signaling

import "sync"

// Registry tracks live connection handles and enforces at most one handle per
// session. Attach returns the superseded peer, if any, so the caller can close
// it outside the lock.
type Registry struct {
	mu        sync.Mutex
	byID      map[string]*Peer
	bySession map[string]string
}

func NewRegistry() *Registry {
	return &Registry{
		byID:      make(map[string]*Peer),
		bySession: make(map[string]string),
	}
}

// Attach registers a peer under its id and, when the peer is session-bound,
// displaces any prior handle for the same session.
func (r *Registry) Attach(p *Peer) (superseded *Peer) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sid := p.SessionID(); sid != "" {
		if oldID, ok := r.bySession[sid]; ok && oldID != p.ID() {
			superseded = r.byID[oldID]
			delete(r.byID, oldID)
		}
		r.bySession[sid] = p.ID()
	}
	r.byID[p.ID()] = p
	return superseded
}

// Detach removes a handle by id. It is a no-op for unknown ids and for stale
// handles already displaced by a newer attach.
func (r *Registry) Detach(id string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, ok := r.byID[id]
	if !ok {
		return nil
	}
	delete(r.byID, id)
	if sid := p.SessionID(); sid != "" && r.bySession[sid] == id {
		delete(r.bySession, sid)
	}
	return p
}

// Get looks up a live handle by connection id.
func (r *Registry) Get(id string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byID[id]
}

// ForSession returns the live handle bound to a session, nil when none.
func (r *Registry) ForSession(sessionID string) *Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.bySession[sessionID]
	if !ok {
		return nil
	}
	return r.byID[id]
}

// All snapshots every live handle.
func (r *Registry) All() []*Peer {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]*Peer, 0, len(r.byID))
	for _, p := range r.byID {
		out = append(out, p)
	}
	return out
}

// Len reports the number of live handles.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}
