package room

import "sync"

// Registry owns all room aggregates for a session. Rooms are created lazily
// on first reference and never destroyed before session teardown.
type Registry struct {
	mu    sync.Mutex
	rooms map[string]*Room
}

// NewRegistry creates an empty room registry.
func NewRegistry() *Registry {
	return &Registry{rooms: make(map[string]*Room)}
}

// GetOrCreate returns the aggregate for roomID, constructing it on first
// reference. created is true exactly once per room id for the registry's
// lifetime, which is what gates the room-created notification.
func (g *Registry) GetOrCreate(roomID string) (room *Room, created bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if existing, ok := g.rooms[roomID]; ok {
		return existing, false
	}
	room = NewRoom(roomID)
	g.rooms[roomID] = room
	return room, true
}

// Get returns the aggregate for roomID, or nil if never seen.
func (g *Registry) Get(roomID string) *Room {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rooms[roomID]
}

// Len returns the number of known rooms.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.rooms)
}
