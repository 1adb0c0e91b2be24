package syncer

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shawkym/matrixsync/internal/matrix"
	"github.com/shawkym/matrixsync/pkg/emitter"
	"github.com/shawkym/matrixsync/pkg/room"
	"github.com/shawkym/matrixsync/pkg/user"
)

type syncCall struct {
	since   string
	timeout time.Duration
}

type scripted struct {
	resp *matrix.SyncResponse
	err  error
}

// fakeTransport hands one scripted result per request. Each request first
// announces itself on calls, so tests drive the loop step by step.
type fakeTransport struct {
	calls  chan syncCall
	script chan scripted
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		calls:  make(chan syncCall),
		script: make(chan scripted),
	}
}

func (f *fakeTransport) Sync(ctx context.Context, since string, timeout time.Duration, filter string) (*matrix.SyncResponse, error) {
	f.calls <- syncCall{since: since, timeout: timeout}
	s := <-f.script
	return s.resp, s.err
}

func (f *fakeTransport) nextCall(t *testing.T) syncCall {
	t.Helper()
	select {
	case c := <-f.calls:
		return c
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync request")
		return syncCall{}
	}
}

func (f *fakeTransport) respond(t *testing.T, s scripted) {
	t.Helper()
	select {
	case f.script <- s:
	case <-time.After(5 * time.Second):
		t.Fatal("timed out handing scripted response")
	}
}

func waitDone(t *testing.T, s *Syncer) {
	t.Helper()
	select {
	case <-s.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for sync loop to exit")
	}
}

func newTestSyncer(cfg Config, transport Transport) (*Syncer, *SessionController, *emitter.Emitter) {
	em := emitter.New()
	p := NewProcessor(room.NewRegistry(), user.NewRegistry(), em)
	session := NewSessionController(em)
	return New(cfg, transport, p, session), session, em
}

func TestSyncerForwardsCursor(t *testing.T) {
	transport := newFakeTransport()
	s, _, _ := newTestSyncer(Config{Timeout: 30 * time.Second}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	first := transport.nextCall(t)
	if first.since != "" {
		t.Errorf("Expected initial request without cursor, got %q", first.since)
	}
	if first.timeout != 0 {
		t.Errorf("Expected initial request without long-poll, got %v", first.timeout)
	}
	transport.respond(t, scripted{resp: &matrix.SyncResponse{NextBatch: "s1"}})

	second := transport.nextCall(t)
	if second.since != "s1" {
		t.Errorf("Expected second request since=s1, got %q", second.since)
	}
	if second.timeout != 30*time.Second {
		t.Errorf("Expected long-poll on incremental request, got %v", second.timeout)
	}
	transport.respond(t, scripted{resp: &matrix.SyncResponse{NextBatch: "s2"}})

	third := transport.nextCall(t)
	if third.since != "s2" {
		t.Errorf("Expected third request since=s2, got %q", third.since)
	}
	s.Stop()
	transport.respond(t, scripted{err: errors.New("connection reset")})

	waitDone(t, s)
	if s.NextBatch() != "s2" {
		t.Errorf("Expected final cursor s2, got %q", s.NextBatch())
	}
	if s.State() != StateStopped {
		t.Errorf("Expected stopped state, got %v", s.State())
	}
}

func TestSyncerResumesFromInitialToken(t *testing.T) {
	transport := newFakeTransport()
	s, _, _ := newTestSyncer(Config{InitialToken: "saved"}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	first := transport.nextCall(t)
	if first.since != "saved" {
		t.Errorf("Expected resume from saved cursor, got %q", first.since)
	}
	if first.timeout == 0 {
		t.Error("Resumed request should long-poll")
	}
	s.Stop()
	transport.respond(t, scripted{err: errors.New("connection reset")})
	waitDone(t, s)
}

func TestSyncerRetriesTransientFailure(t *testing.T) {
	transport := newFakeTransport()
	s, session, _ := newTestSyncer(Config{BackoffInitial: time.Millisecond, BackoffMax: 2 * time.Millisecond}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	transport.nextCall(t)
	transport.respond(t, scripted{err: errors.New("connection refused")})

	// The loop backs off briefly and retries with the same (empty) cursor.
	retry := transport.nextCall(t)
	if retry.since != "" {
		t.Errorf("Expected retry with unchanged cursor, got %q", retry.since)
	}
	transport.respond(t, scripted{resp: &matrix.SyncResponse{NextBatch: "s1"}})

	transport.nextCall(t)
	if s.State() != StateSyncing {
		t.Errorf("Expected syncing state after recovery, got %v", s.State())
	}
	if session.LoggedOut() {
		t.Error("Transient failure must not terminate the session")
	}

	s.Stop()
	transport.respond(t, scripted{err: errors.New("connection reset")})
	waitDone(t, s)
	if s.NextBatch() != "s1" {
		t.Errorf("Expected cursor s1 after recovery, got %q", s.NextBatch())
	}
}

func TestSyncerFatalErrorLogsOutOnce(t *testing.T) {
	transport := newFakeTransport()
	s, session, em := newTestSyncer(Config{}, transport)

	loggedOut := 0
	em.On(emitter.SessionLoggedOut, func(n emitter.Notification) { loggedOut++ })

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	transport.nextCall(t)
	transport.respond(t, scripted{err: &matrix.Error{
		StatusCode: 401,
		Code:       matrix.ErrCodeUnknownToken,
		Message:    "Invalid access token",
	}})

	waitDone(t, s)

	if !session.LoggedOut() {
		t.Error("Expected session to be logged out")
	}
	if loggedOut != 1 {
		t.Errorf("Expected exactly one logged-out notification, got %d", loggedOut)
	}
	if s.State() != StateStopped {
		t.Errorf("Expected stopped state after fatal error, got %v", s.State())
	}

	// A terminated session never restarts.
	session.LogOut()
	if loggedOut != 1 {
		t.Errorf("Repeated LogOut must not re-emit, got %d", loggedOut)
	}
	fresh := New(Config{}, transport, NewProcessor(room.NewRegistry(), user.NewRegistry(), em), session)
	if err := fresh.Start(); err == nil {
		t.Error("Expected Start to fail for a logged-out session")
	}
}

func TestSyncerStopInterruptsBackoff(t *testing.T) {
	transport := newFakeTransport()
	s, _, _ := newTestSyncer(Config{BackoffInitial: time.Hour, BackoffMax: time.Hour}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}

	transport.nextCall(t)
	transport.respond(t, scripted{err: errors.New("connection refused")})

	// The loop is now waiting out a one-hour backoff; Stop must cut it short.
	time.Sleep(10 * time.Millisecond)
	if s.State() != StateError {
		t.Errorf("Expected error state during backoff, got %v", s.State())
	}
	s.Stop()
	waitDone(t, s)
}

func TestSyncerStartTwice(t *testing.T) {
	transport := newFakeTransport()
	s, _, _ := newTestSyncer(Config{}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	if err := s.Start(); err == nil {
		t.Error("Expected second Start to fail")
	}

	transport.nextCall(t)
	s.Stop()
	transport.respond(t, scripted{err: errors.New("connection reset")})
	waitDone(t, s)
}

func TestSyncerStopIsIdempotent(t *testing.T) {
	transport := newFakeTransport()
	s, _, _ := newTestSyncer(Config{}, transport)

	if err := s.Start(); err != nil {
		t.Fatalf("Start() returned error: %v", err)
	}
	transport.nextCall(t)
	s.Stop()
	s.Stop()
	transport.respond(t, scripted{resp: &matrix.SyncResponse{NextBatch: "s1"}})
	waitDone(t, s)

	// The in-flight response completed and was still processed.
	if s.NextBatch() != "s1" {
		t.Errorf("Expected in-flight response to be applied, got %q", s.NextBatch())
	}
}

func TestBackoffSchedule(t *testing.T) {
	s := New(Config{
		BackoffInitial:    time.Second,
		BackoffMax:        30 * time.Second,
		BackoffMultiplier: 2.0,
	}, nil, NewProcessor(room.NewRegistry(), user.NewRegistry(), emitter.New()), NewSessionController(emitter.New()))

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second}, // capped
		{10, 30 * time.Second},
	}

	for _, tt := range tests {
		if got := s.backoff(tt.attempt); got != tt.want {
			t.Errorf("backoff(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestBackoffJitterRange(t *testing.T) {
	s := New(Config{
		BackoffInitial:    time.Second,
		BackoffMax:        30 * time.Second,
		BackoffMultiplier: 2.0,
		BackoffJitter:     true,
	}, nil, NewProcessor(room.NewRegistry(), user.NewRegistry(), emitter.New()), NewSessionController(emitter.New()))

	for i := 0; i < 100; i++ {
		got := s.backoff(1)
		if got < 800*time.Millisecond || got > 1200*time.Millisecond {
			t.Fatalf("backoff(1) = %v, want within ±20%% of 1s", got)
		}
	}
}

func TestRetryAfterFloorsBackoff(t *testing.T) {
	err := &matrix.Error{StatusCode: 429, Code: matrix.ErrCodeLimitExceeded, RetryAfterMs: 5000}
	if got := matrix.RetryAfter(err); got != 5*time.Second {
		t.Errorf("Expected 5s retry-after, got %v", got)
	}
	if failureKind(err) != "ratelimit" {
		t.Errorf("Expected ratelimit kind, got %s", failureKind(err))
	}
	if failureKind(errors.New("dial tcp: refused")) != "network" {
		t.Errorf("Expected network kind for plain errors")
	}
}
