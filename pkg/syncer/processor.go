package syncer

import (
	"github.com/shawkym/matrixsync/internal/matrix"
	"github.com/shawkym/matrixsync/pkg/emitter"
	"github.com/shawkym/matrixsync/pkg/event"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/metrics"
	"github.com/shawkym/matrixsync/pkg/room"
	"github.com/shawkym/matrixsync/pkg/user"
)

// Section names used for logging and metrics.
const (
	sectionPresence  = "presence"
	sectionState     = "state"
	sectionTimeline  = "timeline"
	sectionEphemeral = "ephemeral"
)

// Processor decomposes one sync response into its sections and applies them
// to the room and user registries in a fixed order: presence first, then per
// room state, timeline, and ephemeral. Downstream notification ordering
// depends on this order: listeners must observe a room's state before its
// messages.
//
// Process is not safe for concurrent use; the sync driver calls it from one
// goroutine, which is the engine's single-writer path.
type Processor struct {
	rooms   *room.Registry
	users   *user.Registry
	emitter *emitter.Emitter
	metrics *metrics.Metrics
}

// NewProcessor creates a processor emitting through em.
func NewProcessor(rooms *room.Registry, users *user.Registry, em *emitter.Emitter) *Processor {
	return &Processor{
		rooms:   rooms,
		users:   users,
		emitter: em,
	}
}

// SetMetrics enables metrics recording. Optional.
func (p *Processor) SetMetrics(m *metrics.Metrics) {
	p.metrics = m
}

// Rooms returns the room registry the processor writes to.
func (p *Processor) Rooms() *room.Registry {
	return p.rooms
}

// Users returns the user registry the processor writes to.
func (p *Processor) Users() *user.Registry {
	return p.users
}

// Process applies one sync response. Malformed events are dropped and logged
// without aborting their section; a bad room never aborts the sync.
func (p *Processor) Process(resp *matrix.SyncResponse) {
	for _, raw := range resp.Presence.Events {
		p.processPresence(raw)
	}

	// Invite and leave sections route through the same reconciliation
	// contract as join.
	for roomID, section := range resp.Rooms.Join {
		p.processRoom(roomID, section)
	}
	for roomID, section := range resp.Rooms.Invite {
		p.processRoom(roomID, section)
	}
	for roomID, section := range resp.Rooms.Leave {
		p.processRoom(roomID, section)
	}

	if p.metrics != nil {
		p.metrics.SetActiveRooms(p.rooms.Len())
	}
}

func (p *Processor) processPresence(raw matrix.RawEvent) {
	ev, err := event.ParsePresenceEvent(raw)
	if err != nil {
		p.dropEvent(sectionPresence, err)
		return
	}
	u := p.users.ApplyPresence(ev)
	p.countEvent(sectionPresence)

	p.notify(emitter.Event, emitter.Notification{Event: ev})
	p.notify(emitter.UserPresence, emitter.Notification{Event: ev, User: u})
}

func (p *Processor) processRoom(roomID string, section matrix.SyncRoom) {
	r, created := p.rooms.GetOrCreate(roomID)
	if created {
		log.WithField("room_id", roomID).Debug("room created")
		p.notify(emitter.Room, emitter.Notification{Room: r})
	}

	for _, raw := range section.State.Events {
		ev, err := event.ParseStateEvent(raw, roomID)
		if err != nil {
			p.dropEvent(sectionState, err)
			continue
		}
		result, ok := p.applyState(r, ev)
		p.countEvent(sectionState)
		p.notify(emitter.Event, emitter.Notification{Event: ev})
		if ok {
			p.emitStateNotifications(r, ev, result)
		}
	}

	r.SetPrevBatch(section.Timeline.PrevBatch)
	for _, raw := range section.Timeline.Events {
		ev, err := event.ParseRoomEvent(raw, roomID)
		if err != nil {
			p.dropEvent(sectionTimeline, err)
			continue
		}
		// State events delivered in the timeline section still update the
		// current-state snapshot; the timeline append and its notification
		// are independent of that reconciliation.
		var stateResult room.StateResult
		stateApplied := false
		if ev.IsState() {
			stateResult, stateApplied = p.applyState(r, ev)
		}
		r.Timeline().Append(ev)
		p.countEvent(sectionTimeline)
		p.notify(emitter.Event, emitter.Notification{Event: ev})
		if stateApplied {
			p.emitStateNotifications(r, ev, stateResult)
		}
		p.notify(emitter.RoomTimeline, emitter.Notification{Event: ev, Room: r})
	}

	for _, raw := range section.Ephemeral.Events {
		ev, err := event.ParseEphemeralEvent(raw, roomID)
		if err != nil {
			p.dropEvent(sectionEphemeral, err)
			continue
		}
		p.countEvent(sectionEphemeral)
		p.notify(emitter.Event, emitter.Notification{Event: ev})
		if ev.Type == event.TypeTyping {
			for _, member := range r.ApplyTyping(ev.TypingUserIDs()) {
				p.notify(emitter.MemberTyping, emitter.Notification{Event: ev, Member: member})
			}
		}
	}
}

func (p *Processor) applyState(r *room.Room, ev *event.Event) (room.StateResult, bool) {
	result, err := r.ApplyState(ev)
	if err != nil {
		log.WithError(err).WithFields(map[string]interface{}{
			"room_id":  r.ID,
			"event_id": ev.ID,
		}).Warn("state event skipped")
		return room.StateResult{}, false
	}
	return result, true
}

func (p *Processor) emitStateNotifications(r *room.Room, ev *event.Event, result room.StateResult) {
	state := r.State()

	p.notify(emitter.StateEvents, emitter.Notification{Event: ev, State: state})

	// Every membership event notifies the member roster; a first sighting
	// additionally announces the new member. Only the per-field channels
	// stay silent on first sighting.
	if result.NewMember != nil {
		p.notify(emitter.StateNewMember, emitter.Notification{Event: ev, State: state, Member: result.NewMember})
		p.notify(emitter.StateMembers, emitter.Notification{Event: ev, State: state, Member: result.NewMember})
	}
	if result.UpdatedMember != nil {
		p.notify(emitter.StateMembers, emitter.Notification{Event: ev, State: state, Member: result.UpdatedMember})
	}
	for _, change := range result.Changes {
		p.notify(memberChangeChannel(change.Field), emitter.Notification{Event: ev, Member: change.Member})
	}
	if result.NameChanged {
		p.notify(emitter.RoomName, emitter.Notification{Room: r})
	}
}

func memberChangeChannel(field room.Field) string {
	switch field {
	case room.FieldMembership:
		return emitter.MemberMembership
	case room.FieldDisplayName:
		return emitter.MemberName
	case room.FieldPowerLevel:
		return emitter.MemberPowerLevel
	default:
		return emitter.MemberTyping
	}
}

func (p *Processor) notify(channel string, n emitter.Notification) {
	if p.metrics != nil {
		p.metrics.RecordNotification(channel)
	}
	p.emitter.Emit(channel, n)
}

func (p *Processor) countEvent(section string) {
	if p.metrics != nil {
		p.metrics.RecordEventProcessed(section)
	}
}

func (p *Processor) dropEvent(section string, err error) {
	log.WithError(err).WithField("section", section).Warn("dropping malformed event")
	if p.metrics != nil {
		p.metrics.RecordEventDropped(section)
	}
}
