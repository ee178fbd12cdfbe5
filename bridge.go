package capture

import (
	"sync"

	"github.com/sirupsen/logrus"
)

// EventSink receives dispatched capture events. All methods are invoked
// from a single goroutine, strictly sequentially, so implementations need
// no internal locking against the bridge.
type EventSink interface {
	OnVideoFrame(*VideoFrame)
	OnAudioData(*AudioChunk)
	OnError(error)
	OnExit()
}

// MediaUnitSink is an optional extension of EventSink. Sinks that implement
// it additionally receive the synchronized audio+video pairs produced by
// the Synchronizer, one per audio chunk, in audio arrival order.
type MediaUnitSink interface {
	OnMediaUnit(*MediaUnit)
}

// DropPolicy selects how the bounded video lane behaves under overload.
type DropPolicy int

const (
	// DropOldest evicts the oldest queued frame to admit the new one.
	// Losing a stale frame is preferable to losing the freshest.
	DropOldest DropPolicy = iota
	// RejectNewest refuses the incoming frame and keeps the queue intact.
	RejectNewest
)

func (p DropPolicy) String() string {
	switch p {
	case DropOldest:
		return "drop-oldest"
	case RejectNewest:
		return "reject-newest"
	default:
		return "unknown"
	}
}

// DefaultVideoQueueSize is the bounded video lane capacity.
const DefaultVideoQueueSize = 8

type eventKind int

const (
	eventVideo eventKind = iota
	eventAudio
	eventError
)

type bridgeEvent struct {
	kind  eventKind
	frame *VideoFrame
	unit  *MediaUnit
	err   error
}

// BridgeStats counts bridge activity. Retrieve a snapshot with Stats.
type BridgeStats struct {
	VideoDispatched  uint64
	AudioDispatched  uint64
	VideoDropped     uint64
	ErrorsDispatched uint64
}

// BridgeConfig configures an event bridge.
type BridgeConfig struct {
	Sink           EventSink  // Required
	VideoQueueSize int        // Bounded video lane capacity (default 8)
	Policy         DropPolicy // Video overload policy (default DropOldest)
	Logger         *logrus.Logger
}

// Bridge moves media units and control signals from arbitrary producer
// goroutines into exactly one consumer goroutine that dispatches to the
// sink strictly sequentially. It is reference counted: producers call
// Acquire before enqueueing and Release after, and the bridge only
// finalizes once the count reaches zero. Abort stops delivery immediately
// and discards anything not yet handed to the consumer.
//
// The video lane is bounded and lossy under overload (per Policy); the
// audio lane grows without bound because audio continuity is a correctness
// requirement. Arrival order is preserved globally: both lanes share one
// FIFO, with video entries subject to the cap.
type Bridge struct {
	sink     EventSink
	unitSink MediaUnitSink // non-nil if sink also implements MediaUnitSink
	videoCap int
	policy   DropPolicy
	log      *logrus.Entry

	mu         sync.Mutex
	cond       *sync.Cond
	queue      []bridgeEvent
	videoCount int
	refs       int
	closed     bool // no new Acquires; finalize once drained and refs == 0
	aborted    bool
	stats      BridgeStats

	done chan struct{} // closed when the consumer goroutine exits
}

// NewBridge creates an event bridge and starts its consumer goroutine.
func NewBridge(cfg BridgeConfig) *Bridge {
	if cfg.VideoQueueSize <= 0 {
		cfg.VideoQueueSize = DefaultVideoQueueSize
	}
	logger := cfg.Logger
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	b := &Bridge{
		sink:     cfg.Sink,
		videoCap: cfg.VideoQueueSize,
		policy:   cfg.Policy,
		log:      logger.WithField("component", "bridge"),
		done:     make(chan struct{}),
	}
	if us, ok := cfg.Sink.(MediaUnitSink); ok {
		b.unitSink = us
	}
	b.cond = sync.NewCond(&b.mu)
	go b.run()
	return b
}

// Acquire increments the liveness refcount. It returns false once the
// bridge is aborted or finalized; callers must treat failure as "silently
// drop this unit", never as an error to surface.
func (b *Bridge) Acquire() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted || b.closed {
		return false
	}
	b.refs++
	return true
}

// Release decrements the liveness refcount. Once it reaches zero and the
// bridge is closed, the consumer drains the remaining queue and finalizes.
func (b *Bridge) Release() {
	b.mu.Lock()
	if b.refs > 0 {
		b.refs--
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// EnqueueVideo queues one accepted video frame on the bounded lane.
// Returns false if the frame was not admitted (bridge aborted, or the lane
// is full under RejectNewest). Token holders may still enqueue after Close;
// only Abort cuts admission off.
func (b *Bridge) EnqueueVideo(frame *VideoFrame) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	if b.videoCount >= b.videoCap {
		switch b.policy {
		case RejectNewest:
			b.stats.VideoDropped++
			return false
		default: // DropOldest
			for i, ev := range b.queue {
				if ev.kind == eventVideo {
					b.queue = append(b.queue[:i], b.queue[i+1:]...)
					b.videoCount--
					b.stats.VideoDropped++
					break
				}
			}
		}
	}
	b.queue = append(b.queue, bridgeEvent{kind: eventVideo, frame: frame})
	b.videoCount++
	b.cond.Broadcast()
	return true
}

// EnqueueAudio queues one media unit on the unbounded audio lane. Audio is
// never dropped while the bridge is live.
func (b *Bridge) EnqueueAudio(unit *MediaUnit) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	b.queue = append(b.queue, bridgeEvent{kind: eventAudio, unit: unit})
	b.cond.Broadcast()
	return true
}

// EnqueueError queues an error notification.
func (b *Bridge) EnqueueError(err error) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.aborted {
		return false
	}
	b.queue = append(b.queue, bridgeEvent{kind: eventError, err: err})
	b.cond.Broadcast()
	return true
}

// Close stops admission of new Acquires. Existing token holders may keep
// enqueueing; the consumer drains whatever is queued and finalizes once the
// queue is empty and the refcount reaches zero. Safe to call more than once.
func (b *Bridge) Close() {
	b.mu.Lock()
	b.closed = true
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Abort immediately stops future delivery and discards any payloads not yet
// handed to the consumer. Used during teardown. Safe to call more than once
// and concurrently with enqueues.
func (b *Bridge) Abort() {
	b.mu.Lock()
	if !b.aborted {
		b.aborted = true
		discarded := len(b.queue)
		b.queue = nil
		b.videoCount = 0
		if discarded > 0 {
			b.log.WithField("discarded", discarded).Debug("bridge aborted with queued events")
		}
	}
	b.cond.Broadcast()
	b.mu.Unlock()
}

// Done returns a channel closed once the consumer goroutine has exited and
// no further dispatch can occur.
func (b *Bridge) Done() <-chan struct{} { return b.done }

// Stats returns a snapshot of bridge counters.
func (b *Bridge) Stats() BridgeStats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

func (b *Bridge) run() {
	defer close(b.done)
	for {
		b.mu.Lock()
		for !b.aborted && len(b.queue) == 0 && !(b.closed && b.refs == 0) {
			b.cond.Wait()
		}
		if b.aborted {
			b.mu.Unlock()
			return
		}
		if len(b.queue) == 0 {
			// Closed, drained, refcount zero: finalized.
			b.mu.Unlock()
			return
		}
		ev := b.queue[0]
		b.queue = b.queue[1:]
		if ev.kind == eventVideo {
			b.videoCount--
		}
		switch ev.kind {
		case eventVideo:
			b.stats.VideoDispatched++
		case eventAudio:
			b.stats.AudioDispatched++
		case eventError:
			b.stats.ErrorsDispatched++
		}
		b.mu.Unlock()

		b.dispatch(ev)
	}
}

// dispatch runs outside the lock so a slow sink never blocks producers
// longer than one queue append.
func (b *Bridge) dispatch(ev bridgeEvent) {
	switch ev.kind {
	case eventVideo:
		b.sink.OnVideoFrame(ev.frame)
	case eventAudio:
		if b.unitSink != nil {
			b.unitSink.OnMediaUnit(ev.unit)
		}
		b.sink.OnAudioData(ev.unit.Audio)
	case eventError:
		b.sink.OnError(ev.err)
	}
}
