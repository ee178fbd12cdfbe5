package capture

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// SyntheticConfig configures a synthetic producer.
type SyntheticConfig struct {
	Width  int // Source frame width before quality scaling (default: 640)
	Height int // Source frame height before quality scaling (default: 360)

	// AudioBlock is the number of sample frames per audio chunk, standing
	// in for the platform's native block size (default: 480).
	AudioBlock int

	// StartErr, when set, makes Start fail synchronously with this error.
	StartErr error

	// ExitAfter, when positive, makes the producer stop on its own after
	// this duration and report ExitErr (nil = clean end of stream).
	ExitAfter time.Duration
	ExitErr   error
}

// SyntheticProducer is a deterministic Producer for tests and examples: a
// moving-gradient video pattern at the configured frame rate plus a 440 Hz
// sine tone in fixed-size audio blocks. Start failures and mid-stream exits
// can be scripted through SyntheticConfig.
type SyntheticProducer struct {
	cfg SyntheticConfig

	running atomic.Bool
	closed  atomic.Bool

	mu        sync.Mutex
	cancel    context.CancelFunc
	done      chan struct{}
	startTime time.Time
}

// NewSyntheticProducer creates a synthetic producer.
func NewSyntheticProducer(cfg SyntheticConfig) *SyntheticProducer {
	if cfg.Width <= 0 {
		cfg.Width = 640
	}
	if cfg.Height <= 0 {
		cfg.Height = 360
	}
	if cfg.AudioBlock <= 0 {
		cfg.AudioBlock = 480
	}
	return &SyntheticProducer{cfg: cfg}
}

// Start begins emitting units. Video is skipped entirely for audio-only
// configurations. The quality setting scales the emitted frame dimensions.
func (p *SyntheticProducer) Start(ctx context.Context, cfg Config, cb Callbacks) error {
	if p.closed.Load() {
		return fmt.Errorf("synthetic producer closed")
	}
	if p.cfg.StartErr != nil {
		return p.cfg.StartErr
	}
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("synthetic producer already running")
	}

	scale := cfg.ResolutionScale()
	width := (int(float64(p.cfg.Width)*scale) + 1) &^ 1
	height := (int(float64(p.cfg.Height)*scale) + 1) &^ 1
	if width < 2 {
		width = 2
	}
	if height < 2 {
		height = 2
	}

	runCtx, cancel := context.WithCancel(context.Background())

	var wg sync.WaitGroup
	done := make(chan struct{})

	p.mu.Lock()
	p.cancel = cancel
	p.done = done
	p.startTime = time.Now()
	p.mu.Unlock()

	if cfg.FrameRate > 0 && cb.OnVideo != nil {
		wg.Add(1)
		go p.videoLoop(runCtx, &wg, cfg, width, height, cb.OnVideo)
	}
	if cb.OnAudio != nil {
		wg.Add(1)
		go p.audioLoop(runCtx, &wg, cfg, cb.OnAudio)
	}
	go func() {
		wg.Wait()
		close(done)
	}()

	if p.cfg.ExitAfter > 0 {
		go p.scriptedExit(runCtx, cb.OnExit)
	}

	return nil
}

// Stop halts emission and waits for the generator goroutines to exit, so
// no further units are delivered after it returns. Idempotent.
func (p *SyntheticProducer) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	p.mu.Lock()
	cancel := p.cancel
	done := p.done
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if done != nil {
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

// Close releases the producer. A running capture is stopped first.
func (p *SyntheticProducer) Close() error {
	if err := p.Stop(context.Background()); err != nil {
		return err
	}
	p.closed.Store(true)
	return nil
}

func (p *SyntheticProducer) videoLoop(ctx context.Context, wg *sync.WaitGroup, cfg Config, width, height int, onVideo func(*VideoFrame)) {
	defer wg.Done()

	ticker := time.NewTicker(cfg.FrameInterval())
	defer ticker.Stop()

	var frameCount uint64
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			frameCount++
			frame := p.generateFrame(width, height, frameCount)
			onVideo(frame)
		}
	}
}

// generateFrame fills a moving horizontal gradient in BGRA. Each frame gets
// a fresh buffer: ownership transfers to the callback.
func (p *SyntheticProducer) generateFrame(width, height int, frameCount uint64) *VideoFrame {
	bytesPerRow := width * 4
	data := make([]byte, height*bytesPerRow)
	shift := int(frameCount % 256)
	for y := 0; y < height; y++ {
		row := data[y*bytesPerRow : (y+1)*bytesPerRow]
		for x := 0; x < width; x++ {
			v := byte((x*255/width + shift) % 256)
			row[x*4+0] = v            // B
			row[x*4+1] = 255 - v      // G
			row[x*4+2] = byte(y % 32) // R
			row[x*4+3] = 255          // A
		}
	}
	return &VideoFrame{
		Data:        data,
		Width:       width,
		Height:      height,
		BytesPerRow: bytesPerRow,
		Format:      FormatBGRA,
		Timestamp:   p.elapsed(),
	}
}

func (p *SyntheticProducer) audioLoop(ctx context.Context, wg *sync.WaitGroup, cfg Config, onAudio func(*AudioChunk)) {
	defer wg.Done()

	block := p.cfg.AudioBlock
	blockDur := time.Duration(block) * time.Second / time.Duration(cfg.AudioSampleRate)
	ticker := time.NewTicker(blockDur)
	defer ticker.Stop()

	const toneHz = 440.0
	step := 2 * math.Pi * toneHz / float64(cfg.AudioSampleRate)
	var phase float64

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			samples := make([]float32, block*cfg.AudioChannels)
			for i := 0; i < block; i++ {
				v := float32(0.25 * math.Sin(phase))
				phase += step
				for ch := 0; ch < cfg.AudioChannels; ch++ {
					samples[i*cfg.AudioChannels+ch] = v
				}
			}
			onAudio(&AudioChunk{
				Samples:    samples,
				SampleRate: cfg.AudioSampleRate,
				Channels:   cfg.AudioChannels,
				FrameCount: block,
				Timestamp:  p.elapsed(),
			})
		}
	}
}

// scriptedExit simulates the producer stopping on its own.
func (p *SyntheticProducer) scriptedExit(ctx context.Context, onExit func(error)) {
	timer := time.NewTimer(p.cfg.ExitAfter)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return
	case <-timer.C:
	}
	_ = p.Stop(context.Background())
	if onExit != nil {
		onExit(p.cfg.ExitErr)
	}
}

func (p *SyntheticProducer) elapsed() int64 {
	p.mu.Lock()
	start := p.startTime
	p.mu.Unlock()
	return time.Since(start).Nanoseconds()
}
