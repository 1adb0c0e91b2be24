// Package room holds the in-memory room aggregates reconstructed from sync
// responses: current-state snapshots, member records, and ordered timelines.
// All mutation happens on the single sequential processing path driven by the
// response processor; reads may happen concurrently and see eventually
// consistent snapshots.
package room

import (
	"sort"
	"sync"

	"github.com/shawkym/matrixsync/pkg/event"
)

// Room is the aggregate for one room id: state snapshot, timeline, and
// member records. Rooms are created lazily and live for the session.
type Room struct {
	ID string

	state    *State
	timeline *Timeline

	mu        sync.RWMutex
	members   map[string]*Member
	name      string
	prevBatch string
}

// NewRoom creates an empty room aggregate.
func NewRoom(roomID string) *Room {
	return &Room{
		ID:       roomID,
		state:    newState(roomID),
		timeline: newTimeline(roomID),
		members:  make(map[string]*Member),
	}
}

// State returns the room's current-state snapshot.
func (r *Room) State() *State {
	return r.state
}

// Timeline returns the room's timeline.
func (r *Room) Timeline() *Timeline {
	return r.timeline
}

// Name returns the room's display name derived from room name state.
func (r *Room) Name() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.name
}

// PrevBatch returns the pagination token from the latest timeline section.
func (r *Room) PrevBatch() string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.prevBatch
}

// SetPrevBatch records the pagination token from a timeline section.
func (r *Room) SetPrevBatch(token string) {
	if token == "" {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	r.prevBatch = token
}

// Member returns the record for userID, or nil if the user has never been
// seen in this room.
func (r *Room) Member(userID string) *Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.members[userID]
}

// Members returns all known member records, ordered by user ID.
func (r *Room) Members() []*Member {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sortedMembersLocked()
}

func (r *Room) sortedMembersLocked() []*Member {
	members := make([]*Member, 0, len(r.members))
	for _, m := range r.members {
		members = append(members, m)
	}
	sort.Slice(members, func(i, j int) bool { return members[i].UserID < members[j].UserID })
	return members
}

// StateResult describes the observable effects of applying one state event:
// the snapshot delta plus any member or room-level changes the processor
// should turn into notifications.
type StateResult struct {
	Delta Delta
	// NewMember is set when a membership event introduced a previously
	// untracked (type, key) pair, the "new member" classification.
	NewMember *Member
	// UpdatedMember is set when a membership event replaced an existing
	// entry for a known pair.
	UpdatedMember *Member
	// Changes lists tracked member fields whose values actually differ.
	Changes []MemberChange
	// NameChanged is true when a room name event changed the derived name.
	NameChanged bool
}

// ApplyState folds one state event into the room. Application is
// all-or-nothing: a malformed event leaves the aggregate untouched.
func (r *Room) ApplyState(ev *event.Event) (StateResult, error) {
	delta, err := r.state.apply(ev)
	if err != nil {
		return StateResult{}, err
	}
	result := StateResult{Delta: delta}

	r.mu.Lock()
	defer r.mu.Unlock()

	switch ev.Type {
	case event.TypeMember:
		r.applyMembershipLocked(ev, &result)
	case event.TypePowerLevels:
		r.applyPowerLevelsLocked(ev, &result)
	case event.TypeName:
		if name := ev.RoomName(); name != r.name {
			r.name = name
			result.NameChanged = true
		}
	}
	return result, nil
}

// applyMembershipLocked reconciles a membership state event against the
// member record. The new/updated classification comes from the state
// snapshot delta, not from member-record existence: typing notifications may
// have created the record first with default membership.
func (r *Room) applyMembershipLocked(ev *event.Event, result *StateResult) {
	userID := *ev.StateKey
	member, known := r.members[userID]
	if !known {
		member = newMember(r.ID, userID)
		r.members[userID] = member
	}

	if result.Delta.New {
		// First sighting of this (member, key) pair: initialize fields
		// without reporting per-field changes.
		for _, f := range memberStateFields {
			f.assign(member, ev)
		}
		result.NewMember = member
		return
	}

	result.UpdatedMember = member
	for _, f := range memberStateFields {
		if f.changed(member, ev) {
			f.assign(member, ev)
			result.Changes = append(result.Changes, MemberChange{Member: member, Field: f.field})
		}
	}
}

// applyPowerLevelsLocked re-derives every known member's power level from a
// power-levels event, reporting only members whose level actually moved.
func (r *Room) applyPowerLevelsLocked(ev *event.Event, result *StateResult) {
	for _, member := range r.sortedMembersLocked() {
		level := ev.PowerLevel(member.UserID)
		if level != member.PowerLevel {
			member.PowerLevel = level
			result.Changes = append(result.Changes, MemberChange{Member: member, Field: FieldPowerLevel})
		}
	}
}

// ApplyTyping replaces the set of currently-typing users from a typing
// ephemeral payload and returns the members whose typing flag actually
// flipped, in user ID order. Unknown users are created with defaults before
// typing is applied.
func (r *Room) ApplyTyping(userIDs []string) []*Member {
	typing := make(map[string]bool, len(userIDs))
	for _, id := range userIDs {
		typing[id] = true
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id := range typing {
		if _, known := r.members[id]; !known {
			r.members[id] = newMember(r.ID, id)
		}
	}

	var flipped []*Member
	for _, member := range r.sortedMembersLocked() {
		next := typing[member.UserID]
		if member.Typing != next {
			member.Typing = next
			flipped = append(flipped, member)
		}
	}
	return flipped
}
