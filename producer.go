package capture

import "context"

// Callbacks receives media units and lifecycle notifications from a
// Producer. Callbacks are invoked from the producer's own execution
// contexts; implementations must be safe for concurrent use. Ownership of
// each unit transfers to the callback exactly once - producers never retain
// or mutate a delivered buffer.
type Callbacks struct {
	// OnVideo delivers one captured video frame. Never invoked for
	// audio-only configurations (FrameRate <= 0).
	OnVideo func(*VideoFrame)

	// OnAudio delivers one captured audio chunk.
	OnAudio func(*AudioChunk)

	// OnExit reports that the producer stopped on its own. A non-nil error
	// means the capture failed; nil means the stream ended cleanly. Not
	// invoked for an explicit Stop.
	OnExit func(error)
}

// Producer emits a stream of raw video frames and audio chunks on one or
// more background execution contexts until stopped or failed. The
// OS-backed implementation lives behind build tags; SyntheticProducer is a
// deterministic stand-in for tests.
type Producer interface {
	// Start begins capture with the given configuration. It fails
	// synchronously (or via OnExit for asynchronous negotiation failures)
	// with ErrTargetNotFound, ErrFormatUnsupported, or ErrPermissionDenied.
	// Video cadence is governed by cfg.FrameRate; audio cadence by the
	// backend's native block size.
	Start(ctx context.Context, cfg Config, cb Callbacks) error

	// Stop halts the stream. After Stop returns, the producer emits no
	// further units. Stop is idempotent. The context bounds the wait for
	// the backend's acknowledgment.
	Stop(ctx context.Context) error

	// Close releases the underlying resource handle. The producer must be
	// stopped first.
	Close() error
}
