package matrix

// RawEvent is an undecoded wire event. Field validation and typing happen at
// the event factory boundary, not here.
type RawEvent map[string]interface{}

// SyncResponse is the /sync payload shape consumed by the sync engine.
type SyncResponse struct {
	NextBatch string            `json:"next_batch"`
	Presence  EventList         `json:"presence"`
	Rooms     SyncResponseRooms `json:"rooms"`
}

type EventList struct {
	Events []RawEvent `json:"events"`
}

type SyncResponseRooms struct {
	Join   map[string]SyncRoom `json:"join"`
	Invite map[string]SyncRoom `json:"invite"`
	Leave  map[string]SyncRoom `json:"leave"`
}

// SyncRoom carries one room's delta within a sync response. Invite and leave
// sections share this shape with join.
type SyncRoom struct {
	State     EventList    `json:"state"`
	Timeline  SyncTimeline `json:"timeline"`
	Ephemeral EventList    `json:"ephemeral"`
}

type SyncTimeline struct {
	Events    []RawEvent `json:"events"`
	PrevBatch string     `json:"prev_batch"`
}

// WhoAmIResponse is the /account/whoami payload.
type WhoAmIResponse struct {
	UserID   string `json:"user_id"`
	DeviceID string `json:"device_id"`
}
