package room

import (
	"fmt"
	"sync"

	"github.com/shawkym/matrixsync/pkg/event"
)

type entryKey struct {
	Type     string
	StateKey string
}

// State is a room's current-state snapshot: at most one live entry per
// (type, state key) pair. Application of a single event is all-or-nothing.
type State struct {
	roomID  string
	mu      sync.RWMutex
	entries map[entryKey]*event.Event
}

func newState(roomID string) *State {
	return &State{
		roomID:  roomID,
		entries: make(map[entryKey]*event.Event),
	}
}

// Delta describes how the snapshot changed when one state event was applied.
type Delta struct {
	// New is true when no prior entry existed for the event's (type, key).
	// This classification alone decides which derived notifications fire.
	New bool
	// Replaced is the prior entry when the event updated an existing pair.
	Replaced *event.Event
}

// apply folds ev into the snapshot and reports the new/updated delta.
func (s *State) apply(ev *event.Event) (Delta, error) {
	if ev.StateKey == nil {
		return Delta{}, fmt.Errorf("event %s is not a state event", ev.ID)
	}
	key := entryKey{Type: ev.Type, StateKey: *ev.StateKey}

	s.mu.Lock()
	defer s.mu.Unlock()

	prior, exists := s.entries[key]
	s.entries[key] = ev
	if !exists {
		return Delta{New: true}, nil
	}
	return Delta{Replaced: prior}, nil
}

// Get returns the live state event for (eventType, stateKey), or nil.
func (s *State) Get(eventType, stateKey string) *event.Event {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.entries[entryKey{Type: eventType, StateKey: stateKey}]
}

// Len returns the number of live (type, key) entries.
func (s *State) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// RoomID returns the owning room's id.
func (s *State) RoomID() string {
	return s.roomID
}

// memberStateField describes one member attribute derived from a membership
// state event: how to read it from the event, how to compare it against the
// current record, and how to assign it. The reconciler applies this table
// uniformly instead of branching per field.
type memberStateField struct {
	field   Field
	changed func(m *Member, ev *event.Event) bool
	assign  func(m *Member, ev *event.Event)
}

var memberStateFields = []memberStateField{
	{
		field:   FieldMembership,
		changed: func(m *Member, ev *event.Event) bool { return m.Membership != Membership(ev.Membership()) },
		assign:  func(m *Member, ev *event.Event) { m.Membership = Membership(ev.Membership()) },
	},
	{
		field:   FieldDisplayName,
		changed: func(m *Member, ev *event.Event) bool { return m.DisplayName != ev.DisplayName() },
		assign:  func(m *Member, ev *event.Event) { m.DisplayName = ev.DisplayName() },
	},
}
