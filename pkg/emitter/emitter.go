// Package emitter provides ordered fan-out of engine notifications. Each
// emitter instance owns an explicit mapping from channel name to an ordered
// subscriber list; there is no process-wide listener state. Delivery is
// synchronous and in subscription order; a panicking subscriber is isolated
// and never blocks its siblings or the sync loop.
package emitter

import (
	"sync"

	"github.com/shawkym/matrixsync/pkg/event"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/room"
	"github.com/shawkym/matrixsync/pkg/user"
)

// Notification channels. Payload fields populated per channel:
//
//	event                  Event
//	Session.logged_out     (none)
//	Room                   Room
//	Room.timeline          Event, Room
//	Room.name              Room
//	RoomState.events       Event, State
//	RoomState.members      Event, State, Member
//	RoomState.newMember    Event, State, Member
//	RoomMember.membership  Event, Member
//	RoomMember.typing      Event, Member
//	RoomMember.powerLevel  Event, Member
//	RoomMember.name        Event, Member
//	User.presence          Event, User
const (
	Event            = "event"
	SessionLoggedOut = "Session.logged_out"
	Room             = "Room"
	RoomTimeline     = "Room.timeline"
	RoomName         = "Room.name"
	StateEvents      = "RoomState.events"
	StateMembers     = "RoomState.members"
	StateNewMember   = "RoomState.newMember"
	MemberMembership = "RoomMember.membership"
	MemberTyping     = "RoomMember.typing"
	MemberPowerLevel = "RoomMember.powerLevel"
	MemberName       = "RoomMember.name"
	UserPresence     = "User.presence"
)

// Notification is the payload delivered to subscribers. Only the fields
// relevant to the channel are set.
type Notification struct {
	Event  *event.Event
	Room   *room.Room
	State  *room.State
	Member *room.Member
	User   *user.User
}

// Handler receives notifications for one subscription.
type Handler func(n Notification)

type subscriber struct {
	id uint64
	fn Handler
}

// Emitter fans notifications out to subscribers, per channel, in
// subscription order.
type Emitter struct {
	mu        sync.Mutex
	nextID    uint64
	channels  map[string][]subscriber
	panicHook func(channel string, recovered interface{})
}

// Option configures an Emitter.
type Option func(*Emitter)

// WithPanicHook installs a callback invoked after a subscriber panic has been
// recovered and logged (e.g. to count panics in metrics).
func WithPanicHook(hook func(channel string, recovered interface{})) Option {
	return func(e *Emitter) {
		e.panicHook = hook
	}
}

// New creates an emitter with no subscribers.
func New(opts ...Option) *Emitter {
	e := &Emitter{channels: make(map[string][]subscriber)}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Subscription is the handle returned by On; Cancel removes the subscriber.
type Subscription struct {
	emitter *Emitter
	channel string
	id      uint64
}

// Cancel removes the subscription. Safe to call more than once.
func (s *Subscription) Cancel() {
	s.emitter.mu.Lock()
	defer s.emitter.mu.Unlock()

	subs := s.emitter.channels[s.channel]
	for i, sub := range subs {
		if sub.id == s.id {
			s.emitter.channels[s.channel] = append(subs[:i], subs[i+1:]...)
			return
		}
	}
}

// On subscribes fn to channel. Subscribers receive notifications in the
// order they subscribed.
func (e *Emitter) On(channel string, fn Handler) *Subscription {
	e.mu.Lock()
	defer e.mu.Unlock()

	e.nextID++
	e.channels[channel] = append(e.channels[channel], subscriber{id: e.nextID, fn: fn})
	return &Subscription{emitter: e, channel: channel, id: e.nextID}
}

// Emit delivers n to every current subscriber of channel before returning.
// A panic inside one subscriber is recovered and logged; remaining
// subscribers still receive the notification.
func (e *Emitter) Emit(channel string, n Notification) {
	e.mu.Lock()
	subs := make([]subscriber, len(e.channels[channel]))
	copy(subs, e.channels[channel])
	e.mu.Unlock()

	for _, sub := range subs {
		e.deliver(channel, sub, n)
	}
}

func (e *Emitter) deliver(channel string, sub subscriber, n Notification) {
	defer func() {
		if recovered := recover(); recovered != nil {
			log.WithFields(map[string]interface{}{
				"channel": channel,
				"panic":   recovered,
			}).Error("listener panicked")
			if e.panicHook != nil {
				e.panicHook(channel, recovered)
			}
		}
	}()
	sub.fn(n)
}

// ListenerCount returns the number of current subscribers on channel.
func (e *Emitter) ListenerCount(channel string) int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.channels[channel])
}
