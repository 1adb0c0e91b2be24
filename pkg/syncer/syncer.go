// Package syncer implements the continuous forward-sync pipeline: a polling
// state machine that issues sequential sync requests, hands each response to
// the processor, retries transient failures with capped exponential backoff,
// and terminates the session on fatal authentication errors.
package syncer

import (
	"context"
	"errors"
	"fmt"
	"math"
	"math/rand"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/shawkym/matrixsync/internal/matrix"
	"github.com/shawkym/matrixsync/pkg/log"
	"github.com/shawkym/matrixsync/pkg/metrics"
)

// State is the sync driver's lifecycle state.
type State int32

const (
	// StateStopped: no loop running. Terminal once reached after Start.
	StateStopped State = iota
	// StateSyncing: the loop is issuing requests and processing responses.
	StateSyncing
	// StateError: the last request failed transiently; the loop is waiting
	// out a backoff before retrying.
	StateError
)

func (s State) String() string {
	switch s {
	case StateStopped:
		return "stopped"
	case StateSyncing:
		return "syncing"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Transport issues one sync request. Implemented by *matrix.Client; tests
// substitute fakes.
type Transport interface {
	Sync(ctx context.Context, since string, timeout time.Duration, filter string) (*matrix.SyncResponse, error)
}

// Config tunes the sync driver.
type Config struct {
	// Timeout is the server-side long-poll hold for non-initial requests.
	Timeout time.Duration
	// Filter is an optional filter identity or inline JSON filter.
	Filter string
	// InitialToken resumes from a previous session's cursor. Empty requests
	// a full initial snapshot.
	InitialToken string
	// BackoffInitial is the delay after the first consecutive failure.
	BackoffInitial time.Duration
	// BackoffMax caps the exponential backoff growth.
	BackoffMax time.Duration
	// BackoffMultiplier is the exponential growth factor (typically 2.0).
	BackoffMultiplier float64
	// BackoffJitter randomizes each delay by ±20% to avoid thundering herds.
	BackoffJitter bool
}

// Syncer is the sync driver. Exactly one request is outstanding at a time;
// each completed request's cursor feeds the next. Start is non-blocking;
// Stop is cooperative: it prevents further requests but does not abort an
// in-flight one, whose results may still be processed and emitted.
type Syncer struct {
	cfg       Config
	transport Transport
	processor *Processor
	session   *SessionController
	metrics   *metrics.Metrics

	state atomic.Int32

	mu        sync.Mutex
	nextBatch string
	started   bool
	stopCh    chan struct{}
	stopOnce  sync.Once
	doneCh    chan struct{}
}

// New creates a sync driver. Defaults: 30s long-poll, backoff 1s doubling up
// to 30s.
func New(cfg Config, transport Transport, processor *Processor, session *SessionController) *Syncer {
	if cfg.Timeout == 0 {
		cfg.Timeout = 30 * time.Second
	}
	if cfg.BackoffInitial == 0 {
		cfg.BackoffInitial = 1 * time.Second
	}
	if cfg.BackoffMax == 0 {
		cfg.BackoffMax = 30 * time.Second
	}
	if cfg.BackoffMultiplier == 0 {
		cfg.BackoffMultiplier = 2.0
	}
	return &Syncer{
		cfg:       cfg,
		transport: transport,
		processor: processor,
		session:   session,
		nextBatch: cfg.InitialToken,
		stopCh:    make(chan struct{}),
		doneCh:    make(chan struct{}),
	}
}

// SetMetrics enables metrics recording. Optional; call before Start.
func (s *Syncer) SetMetrics(m *metrics.Metrics) {
	s.metrics = m
	s.processor.SetMetrics(m)
}

// Start launches the sync loop. The first request carries no cursor and
// returns a full snapshot; notifications surface asynchronously through the
// emitter. Returns an error if the syncer was already started or the session
// has been terminated by a fatal authentication error.
func (s *Syncer) Start() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.started {
		return fmt.Errorf("syncer already started")
	}
	if s.session.LoggedOut() {
		return fmt.Errorf("session is logged out")
	}
	s.started = true
	s.state.Store(int32(StateSyncing))

	go s.run()
	return nil
}

// Stop prevents any further request from being issued and interrupts a
// pending backoff wait. An in-flight request may still complete and its
// results may still be processed. Idempotent.
func (s *Syncer) Stop() {
	s.stopOnce.Do(func() {
		close(s.stopCh)
	})
}

// Done is closed when the sync loop has fully exited.
func (s *Syncer) Done() <-chan struct{} {
	return s.doneCh
}

// State returns the driver's current lifecycle state.
func (s *Syncer) State() State {
	return State(s.state.Load())
}

// NextBatch returns the cursor for the next request, the resume point if
// the session is restarted.
func (s *Syncer) NextBatch() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.nextBatch
}

func (s *Syncer) run() {
	defer close(s.doneCh)
	defer s.state.Store(int32(StateStopped))

	attempt := 0
	for {
		select {
		case <-s.stopCh:
			log.Info("sync loop stopped")
			return
		default:
		}

		since := s.NextBatch()
		requestID := uuid.NewString()

		// The initial snapshot returns immediately; only subsequent
		// requests long-poll.
		timeout := s.cfg.Timeout
		if since == "" {
			timeout = 0
		}

		log.WithFields(map[string]interface{}{
			"request_id": requestID,
			"since":      since,
		}).Debug("issuing sync request")

		resp, err := s.transport.Sync(context.Background(), since, timeout, s.cfg.Filter)
		if err != nil {
			if matrix.IsUnknownToken(err) {
				log.WithError(err).WithField("request_id", requestID).Error("fatal authentication error, terminating session")
				if s.metrics != nil {
					s.metrics.RecordFatalError()
					s.metrics.RecordSyncRequest("error")
				}
				s.session.LogOut()
				return
			}

			attempt++
			s.state.Store(int32(StateError))
			// Drop pooled connections so the retry opens a fresh socket.
			if closer, ok := s.transport.(interface{ CloseIdleConnections() }); ok {
				closer.CloseIdleConnections()
			}
			if s.metrics != nil {
				s.metrics.RecordSyncRequest("error")
				s.metrics.RecordSyncFailure(failureKind(err))
			}

			delay := s.backoff(attempt)
			// Honor a server-requested rate-limit cooldown as the floor.
			if retryAfter := matrix.RetryAfter(err); retryAfter > delay {
				delay = retryAfter
			}
			if s.metrics != nil {
				s.metrics.ObserveBackoff(delay.Seconds())
			}
			log.WithError(err).WithFields(map[string]interface{}{
				"request_id": requestID,
				"attempt":    attempt,
				"delay":      delay.String(),
			}).Warn("sync failed, retrying after backoff")

			select {
			case <-time.After(delay):
			case <-s.stopCh:
				log.Info("sync loop stopped during backoff")
				return
			}
			continue
		}

		attempt = 0
		s.state.Store(int32(StateSyncing))
		if s.metrics != nil {
			s.metrics.RecordSyncRequest("success")
		}

		if resp.NextBatch != "" {
			s.mu.Lock()
			s.nextBatch = resp.NextBatch
			s.mu.Unlock()
		}

		s.processor.Process(resp)
	}
}

// backoff computes the delay before the given consecutive retry attempt:
// BackoffInitial * BackoffMultiplier^(attempt-1), capped at BackoffMax,
// optionally jittered by ±20%.
func (s *Syncer) backoff(attempt int) time.Duration {
	delay := float64(s.cfg.BackoffInitial) * math.Pow(s.cfg.BackoffMultiplier, float64(attempt-1))
	if delay > float64(s.cfg.BackoffMax) {
		delay = float64(s.cfg.BackoffMax)
	}
	if s.cfg.BackoffJitter {
		delay *= 0.8 + 0.4*rand.Float64()
	}
	return time.Duration(delay)
}

func failureKind(err error) string {
	var matrixErr *matrix.Error
	if !errors.As(err, &matrixErr) {
		return "network"
	}
	if matrixErr.Code == matrix.ErrCodeLimitExceeded {
		return "ratelimit"
	}
	return "server"
}
