package conversation

import "sync"

// Registry hands out per-room state, creating it on first access. The
// registry lock only guards the map; all room mutation serializes on the
// room's own mutex, so a busy room never blocks the others.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*RoomState
}

func NewRegistry() *Registry {
	return &Registry{rooms: map[string]*RoomState{}}
}

// Room returns the state for roomID, creating it if needed.
func (r *Registry) Room(roomID string) *RoomState {
	r.mu.Lock()
	defer r.mu.Unlock()

	state, ok := r.rooms[roomID]
	if !ok {
		state = newRoomState()
		r.rooms[roomID] = state
	}
	return state
}

// Forget drops a room's state, for when a room is archived.
func (r *Registry) Forget(roomID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.rooms, roomID)
}

// Len reports how many rooms currently hold state.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.rooms)
}
