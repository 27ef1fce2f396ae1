package signaling

import "sync"

// Sender delivers an encoded envelope to one connection. Send must not block;
// it reports false when the frame was dropped.
type Sender interface {
	Send(frame []byte) bool
}

// Member is a point-in-time copy of one registered connection.
type Member struct {
	ID       string
	Username string
	Sender   Sender
}

// Registry is the set of live connections, keyed by id and kept in
// registration order.
type Registry struct {
	mu      sync.RWMutex
	byID    map[string]*Member
	ordered []*Member
}

func NewRegistry() *Registry {
	return &Registry{byID: make(map[string]*Member)}
}

// Add registers id with an empty username.
func (r *Registry) Add(id string, sender Sender) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[id]; ok {
		return ErrDuplicateID
	}
	m := &Member{ID: id, Sender: sender}
	r.byID[id] = m
	r.ordered = append(r.ordered, m)
	return nil
}

// SetUsername renames id. It reports false, and does nothing, if id is not
// registered.
func (r *Registry) SetUsername(id, username string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false
	}
	m.Username = username
	return true
}

func (r *Registry) Find(id string) (Member, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.byID[id]
	if !ok {
		return Member{}, false
	}
	return *m, true
}

// Remove unregisters id. Removing an absent id is a no-op that reports false.
func (r *Registry) Remove(id string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	m, ok := r.byID[id]
	if !ok {
		return false
	}
	delete(r.byID, id)
	for i, cur := range r.ordered {
		if cur == m {
			r.ordered = append(r.ordered[:i], r.ordered[i+1:]...)
			break
		}
	}
	return true
}

// Snapshot copies every member in registration order.
func (r *Registry) Snapshot() []Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Member, len(r.ordered))
	for i, m := range r.ordered {
		out[i] = *m
	}
	return out
}

func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.ordered)
}
