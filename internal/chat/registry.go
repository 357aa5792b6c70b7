package chat

import (
	"sync"
)

// Registry maps participants to the connection they last registered on.
// It never owns connections: removing an entry does not close anything.
// Registry is safe for concurrent use.
type Registry struct {
	conns map[Key]Conn
	mu    sync.RWMutex
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[Key]Conn),
	}
}

// Register binds key to conn, replacing any previous binding. The replaced
// connection stays open but is no longer reachable through the registry.
// It reports the connection that was replaced, if any.
func (r *Registry) Register(key Key, conn Conn) (replaced Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()
	prev, ok := r.conns[key]
	r.conns[key] = conn
	if ok && prev != conn {
		return prev
	}
	return nil
}

// Lookup returns the connection bound to key. A false result means the
// participant is offline.
func (r *Registry) Lookup(key Key) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[key]
	return conn, ok
}

// RemoveByConnection drops every binding that points at conn and returns
// the keys that were removed.
func (r *Registry) RemoveByConnection(conn Conn) []Key {
	r.mu.Lock()
	defer r.mu.Unlock()
	var removed []Key
	for key, c := range r.conns {
		if c == conn {
			delete(r.conns, key)
			removed = append(removed, key)
		}
	}
	return removed
}

// Len returns the number of registered participants.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
