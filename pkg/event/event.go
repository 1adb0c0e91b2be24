// Package event normalizes raw wire events into typed domain events.
// Validation happens once here, at the transport boundary; everything
// downstream works with *Event and its typed content accessors.
package event

import (
	"fmt"
)

// Well-known event types the engine gives field-level treatment. Events of
// other types still flow through the generic notification channel.
const (
	TypeMember      = "m.room.member"
	TypeCreate      = "m.room.create"
	TypeName        = "m.room.name"
	TypePowerLevels = "m.room.power_levels"
	TypeTopic       = "m.room.topic"
	TypeMessage     = "m.room.message"
	TypeTyping      = "m.typing"
	TypePresence    = "m.presence"
)

// Event is a normalized domain event. Content is preserved opaquely; typed
// accessors pull out the fields the reconciler diffs on.
type Event struct {
	// ID is the event id. Presence and ephemeral events may not carry one.
	ID string
	// Type is the wire event type (e.g. "m.room.message").
	Type string
	// Sender is the fully-qualified user ID that produced the event.
	Sender string
	// RoomID is the room this event belongs to; empty for presence events.
	RoomID string
	// StateKey is non-nil for state events. For membership events it holds
	// the subject user ID.
	StateKey *string
	// Content is the opaque event content.
	Content map[string]interface{}
	// Timestamp is origin_server_ts in milliseconds since the epoch.
	Timestamp int64
}

// IsState reports whether the event is a state event.
func (e *Event) IsState() bool {
	return e.StateKey != nil
}

// Membership returns content.membership for membership events.
func (e *Event) Membership() string {
	return stringField(e.Content, "membership")
}

// DisplayName returns content.displayname for membership events.
func (e *Event) DisplayName() string {
	return stringField(e.Content, "displayname")
}

// RoomName returns content.name for room name events.
func (e *Event) RoomName() string {
	return stringField(e.Content, "name")
}

// PresenceStatus returns content.presence for presence events.
func (e *Event) PresenceStatus() string {
	return stringField(e.Content, "presence")
}

// PowerLevel returns the power level a power-levels event assigns to userID,
// falling back to content.users_default and then zero.
func (e *Event) PowerLevel(userID string) int {
	if users, ok := e.Content["users"].(map[string]interface{}); ok {
		if level, ok := intField(users, userID); ok {
			return level
		}
	}
	if level, ok := intField(e.Content, "users_default"); ok {
		return level
	}
	return 0
}

// TypingUserIDs returns content.user_ids for typing ephemeral events.
func (e *Event) TypingUserIDs() []string {
	raw, ok := e.Content["user_ids"].([]interface{})
	if !ok {
		return nil
	}
	ids := make([]string, 0, len(raw))
	for _, entry := range raw {
		if id, ok := entry.(string); ok {
			ids = append(ids, id)
		}
	}
	return ids
}

// ParseRoomEvent normalizes a raw state or timeline event. Room events must
// carry an event id, type, and sender; malformed events are rejected so the
// caller can drop them without aborting the section.
func ParseRoomEvent(raw map[string]interface{}, roomID string) (*Event, error) {
	ev := fromRaw(raw, roomID)
	if ev.ID == "" {
		return nil, fmt.Errorf("event missing event_id")
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("event %s missing type", ev.ID)
	}
	if ev.Sender == "" {
		return nil, fmt.Errorf("event %s missing sender", ev.ID)
	}
	return ev, nil
}

// ParseStateEvent normalizes a raw state event. In addition to the room event
// requirements, state events must carry a state_key (possibly empty).
func ParseStateEvent(raw map[string]interface{}, roomID string) (*Event, error) {
	ev, err := ParseRoomEvent(raw, roomID)
	if err != nil {
		return nil, err
	}
	if ev.StateKey == nil {
		return nil, fmt.Errorf("state event %s missing state_key", ev.ID)
	}
	return ev, nil
}

// ParsePresenceEvent normalizes a raw presence event. Presence events need a
// type and sender but no event id.
func ParsePresenceEvent(raw map[string]interface{}) (*Event, error) {
	ev := fromRaw(raw, "")
	if ev.Type == "" {
		return nil, fmt.Errorf("presence event missing type")
	}
	if ev.Sender == "" {
		return nil, fmt.Errorf("presence event missing sender")
	}
	return ev, nil
}

// ParseEphemeralEvent normalizes a raw ephemeral event (e.g. typing).
// Ephemeral events need only a type.
func ParseEphemeralEvent(raw map[string]interface{}, roomID string) (*Event, error) {
	ev := fromRaw(raw, roomID)
	if ev.Type == "" {
		return nil, fmt.Errorf("ephemeral event missing type")
	}
	return ev, nil
}

func fromRaw(raw map[string]interface{}, roomID string) *Event {
	ev := &Event{
		ID:     stringField(raw, "event_id"),
		Type:   stringField(raw, "type"),
		Sender: stringField(raw, "sender"),
		RoomID: roomID,
	}
	if ev.RoomID == "" {
		ev.RoomID = stringField(raw, "room_id")
	}
	if key, ok := raw["state_key"].(string); ok {
		ev.StateKey = &key
	}
	if content, ok := raw["content"].(map[string]interface{}); ok {
		ev.Content = content
	} else {
		ev.Content = map[string]interface{}{}
	}
	if ts, ok := intField(raw, "origin_server_ts"); ok {
		ev.Timestamp = int64(ts)
	}
	return ev
}

func stringField(m map[string]interface{}, key string) string {
	if m == nil {
		return ""
	}
	value, _ := m[key].(string)
	return value
}

// intField reads a numeric field, tolerating the float64 representation that
// encoding/json produces for untyped numbers.
func intField(m map[string]interface{}, key string) (int, bool) {
	switch value := m[key].(type) {
	case float64:
		return int(value), true
	case int:
		return value, true
	case int64:
		return int(value), true
	default:
		return 0, false
	}
}
