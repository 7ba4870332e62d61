package ws

import "sync"

// PresenceRegistry tracks which users have live connections. A user is online
// iff their connection set is non-empty. State is process-local and rebuilt
// from reconnects after a restart.
type PresenceRegistry struct {
	mu    sync.RWMutex
	conns map[int]map[string]struct{}
}

// NewPresenceRegistry creates an empty registry.
func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{conns: make(map[int]map[string]struct{})}
}

// AddConnection registers a connection for the user. Idempotent. Returns true
// when this is the user's first active connection (the online edge).
func (p *PresenceRegistry) AddConnection(userID int, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		set = make(map[string]struct{})
		p.conns[userID] = set
	}
	wasEmpty := len(set) == 0
	set[connID] = struct{}{}
	return wasEmpty
}

// RemoveConnection removes a connection for the user. Idempotent. Returns true
// when the user's connection set became empty (the offline edge).
func (p *PresenceRegistry) RemoveConnection(userID int, connID string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	set, ok := p.conns[userID]
	if !ok {
		return false
	}
	if _, exists := set[connID]; !exists {
		return false
	}
	delete(set, connID)
	if len(set) == 0 {
		delete(p.conns, userID)
		return true
	}
	return false
}

// IsOnline reports whether the user has at least one live connection.
func (p *PresenceRegistry) IsOnline(userID int) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.conns[userID]) > 0
}

// ListOnline returns the ids of all currently online users.
func (p *PresenceRegistry) ListOnline() []int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	users := make([]int, 0, len(p.conns))
	for userID := range p.conns {
		users = append(users, userID)
	}
	return users
}

// ConnectionsOf returns the connection ids of a user.
func (p *PresenceRegistry) ConnectionsOf(userID int) []string {
	p.mu.RLock()
	defer p.mu.RUnlock()
	set := p.conns[userID]
	ids := make([]string, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	return ids
}
