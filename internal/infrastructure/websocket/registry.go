package websocket

import "sync"

// Registry tracks the set of live connection ids per user. It is the single
// source of online/offline truth for the process: state is held only in
// memory and rebuilt from zero on restart, so every user is implicitly
// offline until they reconnect.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]map[string]struct{}
}

func NewRegistry() *Registry {
	return &Registry{
		connections: make(map[string]map[string]struct{}),
	}
}

// Add records a connection and reports whether it is the user's first live
// connection (the 0->1 transition). Only that transition may trigger a
// presence broadcast.
func (r *Registry) Add(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		set = make(map[string]struct{})
		r.connections[userID] = set
	}
	set[connectionID] = struct{}{}

	return len(set) == 1
}

// Remove drops a connection and reports whether it was the user's last live
// connection (the 1->0 transition).
func (r *Registry) Remove(userID, connectionID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	set, ok := r.connections[userID]
	if !ok {
		return false
	}
	if _, ok := set[connectionID]; !ok {
		return false
	}

	delete(set, connectionID)
	if len(set) == 0 {
		delete(r.connections, userID)
		return true
	}
	return false
}

func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID]) > 0
}

// ConnectionCount returns the number of live connections for a user.
func (r *Registry) ConnectionCount(userID string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections[userID])
}
