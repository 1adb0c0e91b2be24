// Package user tracks last-known per-user presence. Presence is not room
// scoped; one record exists per user ID for the session.
package user

import (
	"sync"

	"github.com/shawkym/matrixsync/pkg/event"
)

// User is the last-known presence record for one user.
type User struct {
	ID          string
	Presence    string
	DisplayName string
	LastEvent   *event.Event
}

// Registry owns all user records for a session.
type Registry struct {
	mu    sync.Mutex
	users map[string]*User
}

// NewRegistry creates an empty user registry.
func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*User)}
}

// ApplyPresence folds a presence event into the sender's record, creating it
// on first sighting, and returns the record.
func (g *Registry) ApplyPresence(ev *event.Event) *User {
	g.mu.Lock()
	defer g.mu.Unlock()

	u, ok := g.users[ev.Sender]
	if !ok {
		u = &User{ID: ev.Sender}
		g.users[ev.Sender] = u
	}
	u.Presence = ev.PresenceStatus()
	if name, ok := ev.Content["displayname"].(string); ok && name != "" {
		u.DisplayName = name
	}
	u.LastEvent = ev
	return u
}

// Get returns the record for userID, or nil if never seen.
func (g *Registry) Get(userID string) *User {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.users[userID]
}

// Len returns the number of known users.
func (g *Registry) Len() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.users)
}
