package syncer

import (
	"sync/atomic"

	"github.com/shawkym/matrixsync/pkg/emitter"
	"github.com/shawkym/matrixsync/pkg/log"
)

// SessionController tracks whether the session has been terminated by a
// fatal authentication error. Termination is one-way: once logged out, the
// session stays logged out and Session.logged_out is emitted exactly once,
// no matter how many callers observe the failure.
type SessionController struct {
	emitter   *emitter.Emitter
	loggedOut atomic.Bool
}

// NewSessionController creates a controller emitting through em.
func NewSessionController(em *emitter.Emitter) *SessionController {
	return &SessionController{emitter: em}
}

// LogOut marks the session terminated and emits Session.logged_out. Only the
// first call emits; later calls are no-ops.
func (c *SessionController) LogOut() {
	if !c.loggedOut.CompareAndSwap(false, true) {
		return
	}
	log.Warn("session logged out")
	c.emitter.Emit(emitter.SessionLoggedOut, emitter.Notification{})
}

// LoggedOut reports whether the session has been terminated.
func (c *SessionController) LoggedOut() bool {
	return c.loggedOut.Load()
}
