package room

// Membership is a room membership value.
type Membership string

const (
	MembershipInvite Membership = "invite"
	MembershipJoin   Membership = "join"
	MembershipLeave  Membership = "leave"
	MembershipBan    Membership = "ban"
	MembershipKnock  Membership = "knock"
)

// Member is the canonical per-(room, user) record. It is created on first
// sighting of the user in the room, either via a membership state event or
// with defaults when a typing notification names an unknown user, and updated
// in place thereafter.
type Member struct {
	RoomID      string
	UserID      string
	Membership  Membership
	PowerLevel  int
	Typing      bool
	DisplayName string
}

func newMember(roomID, userID string) *Member {
	return &Member{
		RoomID: roomID,
		UserID: userID,
	}
}

// Field identifies a tracked member attribute for change notifications.
type Field int

const (
	FieldMembership Field = iota
	FieldDisplayName
	FieldPowerLevel
	FieldTyping
)

func (f Field) String() string {
	switch f {
	case FieldMembership:
		return "membership"
	case FieldDisplayName:
		return "displayname"
	case FieldPowerLevel:
		return "power_level"
	case FieldTyping:
		return "typing"
	default:
		return "unknown"
	}
}

// MemberChange records one tracked field that actually changed value while
// applying an event.
type MemberChange struct {
	Member *Member
	Field  Field
}
