package capture

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// State is the lifecycle state of a capture session.
type State int32

const (
	StateIdle      State = iota // No capture
	StateStarting               // StartCapture accepted, producer negotiating
	StateCapturing              // Producer ready, units flowing
	StateStopping               // Teardown in progress
	StateStopped                // Teardown complete, restartable
	StateError                  // Producer failed; fast path into Stopping
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateStarting:
		return "starting"
	case StateCapturing:
		return "capturing"
	case StateStopping:
		return "stopping"
	case StateStopped:
		return "stopped"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// DefaultStopGrace bounds how long teardown waits for in-flight producer
// callbacks to observe the stopped flag and for the bridge to drain before
// forcing the issue.
const DefaultStopGrace = 200 * time.Millisecond

// SessionOptions configures a capture session.
type SessionOptions struct {
	Producer Producer  // Required
	Sink     EventSink // Required

	VideoQueueSize int           // Bounded video lane capacity (default 8)
	DropPolicy     DropPolicy    // Video overload policy (default DropOldest)
	StopGrace      time.Duration // Teardown grace wait (default 200ms)
	Logger         *logrus.Logger
}

// Session owns one capture lifecycle bound to a single producer resource
// handle. It guarantees at-most-one active capture per session, validates
// configuration synchronously before any allocation, and tears down without
// leaking the handle or dispatching events after teardown has begun.
//
// The atomic capturing flag is the single source of truth for whether a
// producer callback may proceed to acquire the bridge: every callback checks
// it first, so in-flight callbacks self-discard once a stop begins.
type Session struct {
	id        string
	producer  Producer
	sink      EventSink
	videoSize int
	policy    DropPolicy
	stopGrace time.Duration
	logger    *logrus.Logger
	log       *logrus.Entry

	state     atomic.Int32
	capturing atomic.Bool

	mu      sync.Mutex // guards the per-capture handles below
	bridge  *Bridge
	config  Config
	stopped chan struct{} // closed at the end of Stopping -> Stopped
}

// NewSession creates a session around a producer and an event sink.
func NewSession(opts SessionOptions) (*Session, error) {
	if opts.Producer == nil {
		return nil, ErrValidation
	}
	if opts.Sink == nil {
		return nil, ErrValidation
	}
	if opts.StopGrace <= 0 {
		opts.StopGrace = DefaultStopGrace
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	id := uuid.NewString()
	return &Session{
		id:        id,
		producer:  opts.Producer,
		sink:      opts.Sink,
		videoSize: opts.VideoQueueSize,
		policy:    opts.DropPolicy,
		stopGrace: opts.StopGrace,
		logger:    opts.Logger,
		log:       opts.Logger.WithFields(logrus.Fields{"component": "session", "session": id}),
	}, nil
}

// ID returns the session's unique identifier.
func (s *Session) ID() string { return s.id }

// State returns the current lifecycle state.
func (s *Session) State() State { return State(s.state.Load()) }

// IsCapturing reports whether producer callbacks may currently deliver
// units.
func (s *Session) IsCapturing() bool { return s.capturing.Load() }

// Config returns the configuration of the current (or last) capture.
func (s *Session) Config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config
}

// Stats returns the bridge counters of the current (or last) capture.
func (s *Session) Stats() BridgeStats {
	s.mu.Lock()
	bridge := s.bridge
	s.mu.Unlock()
	if bridge == nil {
		return BridgeStats{}
	}
	return bridge.Stats()
}

// StartCapture validates cfg and begins capturing. Validation failures are
// returned synchronously, before any resource is allocated. If a capture is
// already active (any state other than Idle/Stopped) it returns
// ErrAlreadyCapturing and leaves the session untouched. On success it
// returns immediately while producer negotiation proceeds asynchronously;
// readiness failures surface through the sink's error event.
func (s *Session) StartCapture(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}

	// State transition and handle installation form one critical section:
	// a concurrent stop that claims Stopping right after the transition
	// blocks on the same mutex and then tears down the fresh handles.
	s.mu.Lock()
	if !s.state.CompareAndSwap(int32(StateIdle), int32(StateStarting)) &&
		!s.state.CompareAndSwap(int32(StateStopped), int32(StateStarting)) {
		s.mu.Unlock()
		return ErrAlreadyCapturing
	}
	bridge := NewBridge(BridgeConfig{
		Sink:           s.sink,
		VideoQueueSize: s.videoSize,
		Policy:         s.policy,
		Logger:         s.logger,
	})
	unitSync := NewSynchronizer(cfg, bridge)
	s.bridge = bridge
	s.config = cfg
	s.stopped = make(chan struct{})
	s.capturing.Store(true)
	s.mu.Unlock()
	s.log.WithFields(logrus.Fields{
		"frameRate": cfg.FrameRate,
		"audioOnly": cfg.AudioOnly(),
	}).Info("starting capture")

	cb := Callbacks{
		OnVideo: func(frame *VideoFrame) {
			if !s.capturing.Load() {
				return
			}
			if !bridge.Acquire() {
				// Teardown race: drop silently.
				return
			}
			unitSync.PushVideo(frame)
			bridge.Release()
		},
		OnAudio: func(chunk *AudioChunk) {
			if !s.capturing.Load() {
				return
			}
			if !bridge.Acquire() {
				return
			}
			unitSync.PushAudio(chunk)
			bridge.Release()
		},
		OnExit: s.onProducerExit,
	}

	go s.startWorker(cfg, cb)
	return nil
}

func (s *Session) startWorker(cfg Config, cb Callbacks) {
	if err := s.producer.Start(context.Background(), cfg, cb); err != nil {
		s.fail(err)
		return
	}
	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateCapturing)) {
		// A stop raced with the start. Teardown owns the state machine;
		// make sure the freshly started producer halts too, since the
		// teardown's Stop may have run before Start completed.
		ctx, cancel := context.WithTimeout(context.Background(), s.stopGrace)
		defer cancel()
		_ = s.producer.Stop(ctx)
		return
	}
	s.log.Info("capturing")
}

// StopCapture stops an active capture. It is idempotent and never errors
// for a session that is not capturing: stopping from Idle or Stopped is a
// no-op. It returns once teardown is acknowledged, which may precede full
// backend teardown by up to the grace window. The context only bounds this
// caller's wait; an abandoned wait does not abandon the teardown itself.
func (s *Session) StopCapture(ctx context.Context) error {
	for {
		switch st := s.State(); st {
		case StateIdle, StateStopped:
			return nil
		case StateStopping:
			s.mu.Lock()
			stopped := s.stopped
			s.mu.Unlock()
			if stopped == nil {
				return nil
			}
			select {
			case <-stopped:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		default:
			if s.state.CompareAndSwap(int32(st), int32(StateStopping)) {
				// An Error-state stop drains gracefully so the queued
				// error event reaches the sink before exit.
				s.teardown(st == StateError)
				return nil
			}
		}
	}
}

// Close stops any active capture and releases the producer's resource
// handle. The session is not usable afterwards.
func (s *Session) Close() error {
	if err := s.StopCapture(context.Background()); err != nil {
		return err
	}
	return s.producer.Close()
}

// fail moves the session onto the Error fast path: dispatch an error event,
// then proceed through Stopping -> Stopped automatically. Only the first
// failure wins; later ones are already covered by the running teardown.
func (s *Session) fail(err error) {
	if !s.state.CompareAndSwap(int32(StateStarting), int32(StateError)) &&
		!s.state.CompareAndSwap(int32(StateCapturing), int32(StateError)) {
		return
	}
	s.log.WithError(err).Error("capture failed")

	s.mu.Lock()
	bridge := s.bridge
	s.mu.Unlock()
	if bridge != nil && bridge.Acquire() {
		bridge.EnqueueError(err)
		bridge.Release()
	}

	// Hop off the producer's execution context before tearing down: the
	// teardown stops the producer, which must not wait on the very thread
	// reporting the failure.
	go func() {
		if s.beginStop() {
			s.teardown(true)
		}
	}()
}

// onProducerExit handles a producer that stopped on its own.
func (s *Session) onProducerExit(err error) {
	if err != nil {
		s.fail(err)
		return
	}
	go func() {
		if s.beginStop() {
			s.teardown(true)
		}
	}()
}

// beginStop claims the Stopping state. Returns false if the session is
// already stopping, stopped, or idle - exactly one caller owns teardown.
func (s *Session) beginStop() bool {
	for {
		switch st := s.State(); st {
		case StateIdle, StateStopping, StateStopped:
			return false
		default:
			if s.state.CompareAndSwap(int32(st), int32(StateStopping)) {
				return true
			}
		}
	}
}

// teardown runs the Stopping -> Stopped transition. graceful selects a
// drain (pending events still reach the sink) versus an abort (stale
// payloads are discarded immediately); a plain stop aborts, the error and
// clean-exit paths drain.
func (s *Session) teardown(graceful bool) {
	s.mu.Lock()
	// Flag first: every producer callback checks it before touching the
	// bridge, so in-flight callbacks self-discard.
	s.capturing.Store(false)
	bridge := s.bridge
	stopped := s.stopped
	s.mu.Unlock()

	s.log.WithField("graceful", graceful).Info("stopping capture")

	if bridge != nil {
		if graceful {
			bridge.Close()
		} else {
			bridge.Abort()
		}
	}

	stopCtx, cancel := context.WithTimeout(context.Background(), s.stopGrace)
	if err := s.producer.Stop(stopCtx); err != nil {
		s.log.WithError(err).Debug("producer stop")
	}
	cancel()

	if bridge != nil {
		select {
		case <-bridge.Done():
		case <-time.After(s.stopGrace):
			// Grace expired: force the remaining callbacks out.
			bridge.Abort()
			<-bridge.Done()
		}
	}

	// The bridge consumer has exited, so dispatching the terminal event
	// from here keeps host-visible dispatch strictly sequential.
	s.sink.OnExit()

	s.state.Store(int32(StateStopped))
	if stopped != nil {
		close(stopped)
	}
	s.log.Info("capture stopped")
}
