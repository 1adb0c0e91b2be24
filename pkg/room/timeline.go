package room

import (
	"sync"

	"github.com/shawkym/matrixsync/pkg/event"
)

// Timeline is a room's append-only ordered event log. Events keep their
// arrival order; the forward-only sync cursor guarantees no replay, so there
// is no dedup.
type Timeline struct {
	roomID string
	mu     sync.RWMutex
	events []*event.Event
}

func newTimeline(roomID string) *Timeline {
	return &Timeline{roomID: roomID}
}

// Append adds ev to the end of the timeline.
func (t *Timeline) Append(ev *event.Event) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.events = append(t.events, ev)
}

// Events returns a copy of the timeline in arrival order.
func (t *Timeline) Events() []*event.Event {
	t.mu.RLock()
	defer t.mu.RUnlock()
	events := make([]*event.Event, len(t.events))
	copy(events, t.events)
	return events
}

// Len returns the number of events in the timeline.
func (t *Timeline) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.events)
}

// RoomID returns the owning room's id.
func (t *Timeline) RoomID() string {
	return t.roomID
}
