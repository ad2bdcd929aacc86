// Package session tracks the set of live relay sessions, keyed by a local
// session ID and, for the sidecar ingress path, by client IP 4-tuple.
package session

import "sync"

// Entry is one tracked session. Close tears down the underlying
// bridge.Session; callers make the bridge's OnClose hook call Remove, so a
// session removes itself on any termination cause.
type Entry struct {
	ID          string
	ClientIP    [4]byte
	HasClientIP bool
	Close       func()
}

// Registry is a concurrency-safe, dual-keyed index of live sessions.
// Grounded on the mutex-guarded map shape of wingthing's SessionManager,
// generalized from user/device keys to session ID and client IP.
type Registry struct {
	mu       sync.RWMutex
	byID     map[string]*Entry
	byClient map[[4]byte]*Entry
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		byID:     make(map[string]*Entry),
		byClient: make(map[[4]byte]*Entry),
	}
}

// Add inserts e, indexing by ClientIP too when HasClientIP is set.
func (r *Registry) Add(e *Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.byID[e.ID] = e
	if e.HasClientIP {
		r.byClient[e.ClientIP] = e
	}
}

// Remove deregisters the session with the given ID, if present.
func (r *Registry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.byID[id]
	if !ok {
		return
	}
	delete(r.byID, id)
	if e.HasClientIP {
		if cur, ok := r.byClient[e.ClientIP]; ok && cur.ID == id {
			delete(r.byClient, e.ClientIP)
		}
	}
}

// Lookup finds the session registered under a client IP 4-tuple. Only
// entries added with HasClientIP set are indexed this way.
func (r *Registry) Lookup(clientIP [4]byte) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byClient[clientIP]
	return e, ok
}

// Get finds a session by its ID.
func (r *Registry) Get(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.byID[id]
	return e, ok
}

// Count returns the number of live sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.byID)
}

// CloseAll closes every tracked session, used on process shutdown.
func (r *Registry) CloseAll() {
	r.mu.RLock()
	entries := make([]*Entry, 0, len(r.byID))
	for _, e := range r.byID {
		entries = append(entries, e)
	}
	r.mu.RUnlock()

	for _, e := range entries {
		if e.Close != nil {
			e.Close()
		}
	}
}
