package relay

import (
	"sync"

	"github.com/Tyrowin/cliprelay/internal/metrics"
)

// Registry maps room keys to their subscribed sessions. A room key is
// present only while its member set is non-empty.
type Registry struct {
	mu    sync.RWMutex
	rooms map[string]map[*Session]struct{}
	total int
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		rooms: make(map[string]map[*Session]struct{}),
	}
}

// Join adds s to room, creating the room if needed. Joining twice is a no-op.
func (r *Registry) Join(room string, s *Session) {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		members = make(map[*Session]struct{})
		r.rooms[room] = members
		metrics.RoomsActive.Inc()
	}
	if _, exists := members[s]; exists {
		return
	}
	members[s] = struct{}{}
	r.total++
	metrics.SessionsConnected.Inc()
}

// Leave removes s from room and deletes the room once it is empty. It
// reports whether s was a member.
func (r *Registry) Leave(room string, s *Session) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	members, ok := r.rooms[room]
	if !ok {
		return false
	}
	if _, exists := members[s]; !exists {
		return false
	}
	delete(members, s)
	r.total--
	metrics.SessionsConnected.Dec()
	if len(members) == 0 {
		delete(r.rooms, room)
		metrics.RoomsActive.Dec()
	}
	return true
}

// Members returns a snapshot of the sessions in room. The caller owns the
// slice; later joins and leaves do not affect it.
func (r *Registry) Members(room string) []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	members := r.rooms[room]
	if len(members) == 0 {
		return nil
	}
	snapshot := make([]*Session, 0, len(members))
	for s := range members {
		snapshot = append(snapshot, s)
	}
	return snapshot
}

// Contains reports whether s is currently a member of room.
func (r *Registry) Contains(room string, s *Session) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.rooms[room][s]
	return ok
}

// Count returns the number of sessions in room.
func (r *Registry) Count(room string) int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms[room])
}

// Rooms returns the number of non-empty rooms.
func (r *Registry) Rooms() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.rooms)
}

// Len returns the number of sessions across all rooms.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.total
}

// Sessions returns a snapshot of every live session across all rooms.
func (r *Registry) Sessions() []*Session {
	r.mu.RLock()
	defer r.mu.RUnlock()

	all := make([]*Session, 0, r.total)
	for _, members := range r.rooms {
		for s := range members {
			all = append(all, s)
		}
	}
	return all
}
