package capture

import (
	"sync"
	"time"
)

// unitEmitter is the downstream of a Synchronizer. *Bridge implements it;
// tests substitute a recorder.
type unitEmitter interface {
	EnqueueVideo(*VideoFrame) bool
	EnqueueAudio(*MediaUnit) bool
}

// Synchronizer pairs independently-arriving video frames and audio chunks
// into MediaUnits: one unit per audio chunk, carrying the most recently
// accepted video frame. Video acceptance is throttled to the configured
// frame rate independently of audio cadence.
//
// Repetition policy: repeat-until-replaced. An accepted frame stays
// attached to every subsequent audio chunk until a newer frame is accepted,
// so every audio tick carries the best-known video context.
type Synchronizer struct {
	emitter       unitEmitter
	frameInterval int64 // nanoseconds between accepted frames; 0 = audio-only

	mu           sync.Mutex
	latest       *VideoFrame
	lastAccepted int64 // timestamp of the last accepted frame
	hasAccepted  bool
	lastEmitted  int64 // clamp for monotonically non-decreasing unit timestamps
	hasEmitted   bool
}

// NewSynchronizer creates a synchronizer for one capture session.
func NewSynchronizer(cfg Config, emitter unitEmitter) *Synchronizer {
	var interval int64
	if cfg.FrameRate > 0 {
		interval = int64(float64(time.Second) / cfg.FrameRate)
	}
	return &Synchronizer{
		emitter:       emitter,
		frameInterval: interval,
	}
}

// PushVideo offers a video frame to the synchronizer. The frame is accepted
// and becomes the latest frame only if video is enabled and at least one
// frame interval has elapsed since the last accepted frame (the first frame
// is always accepted). Rejected frames are discarded silently. Accepted
// frames are also forwarded to the emitter's bounded video lane. Returns
// whether the frame was accepted.
func (s *Synchronizer) PushVideo(frame *VideoFrame) bool {
	if s.frameInterval <= 0 {
		return false
	}

	s.mu.Lock()
	if s.hasAccepted && frame.Timestamp-s.lastAccepted < s.frameInterval {
		s.mu.Unlock()
		return false
	}
	s.latest = frame
	s.lastAccepted = frame.Timestamp
	s.hasAccepted = true
	// Emit under the lock so the video lane sees accepted frames in
	// acceptance order.
	s.emitter.EnqueueVideo(frame)
	s.mu.Unlock()
	return true
}

// PushAudio builds one MediaUnit for the chunk, attaching the latest
// accepted frame (if any), and emits it. Units are emitted strictly in
// audio arrival order with non-decreasing timestamps: a chunk whose
// timestamp regresses is clamped to the previous unit's timestamp.
func (s *Synchronizer) PushAudio(chunk *AudioChunk) {
	s.mu.Lock()
	ts := chunk.Timestamp
	if s.hasEmitted && ts < s.lastEmitted {
		ts = s.lastEmitted
	}
	s.lastEmitted = ts
	s.hasEmitted = true

	unit := &MediaUnit{
		Audio:     chunk,
		Video:     s.latest,
		Timestamp: ts,
		HasVideo:  s.latest != nil,
		HasAudio:  true,
	}
	// Emit under the lock to keep unit order identical to audio arrival
	// order even with concurrent pushers.
	s.emitter.EnqueueAudio(unit)
	s.mu.Unlock()
}
