package capture

import (
	"context"
	"fmt"
	"io"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func quietLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func newTestSession(t *testing.T, producer Producer, sink EventSink) *Session {
	t.Helper()
	s, err := NewSession(SessionOptions{
		Producer: producer,
		Sink:     sink,
		Logger:   quietLogger(),
	})
	require.NoError(t, err)
	return s
}

func displayConfig(frameRate float64) Config {
	cfg := DefaultConfig()
	cfg.DisplayID = 1
	cfg.FrameRate = frameRate
	return cfg
}

func TestNewSessionValidatesOptions(t *testing.T) {
	_, err := NewSession(SessionOptions{Sink: &recordSink{}})
	assert.ErrorIs(t, err, ErrValidation)

	_, err = NewSession(SessionOptions{Producer: NewSyntheticProducer(SyntheticConfig{})})
	assert.ErrorIs(t, err, ErrValidation)
}

func TestSessionFirstFrameArrives(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	cfg := displayConfig(10)
	require.NoError(t, s.StartCapture(cfg))
	defer s.Close()

	// First frame within 2x the frame interval, plus scheduling slack.
	require.Eventually(t, func() bool {
		frames, _, _, _ := sink.snapshot()
		return frames >= 1
	}, 2*cfg.FrameInterval()+100*time.Millisecond, time.Millisecond)

	sink.mu.Lock()
	frame := sink.frames[0]
	sink.mu.Unlock()
	assert.Greater(t, frame.Width, 0)
	assert.Greater(t, frame.Height, 0)
	assert.Greater(t, frame.Timestamp, int64(0))

	require.NoError(t, s.StopCapture(context.Background()))
}

func TestSessionAudioOnlyEmitsNoVideo(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	require.NoError(t, s.StartCapture(displayConfig(0)))
	defer s.Close()

	require.Eventually(t, func() bool {
		_, chunks, _, _ := sink.snapshot()
		return chunks >= 1
	}, time.Second, time.Millisecond, "audio must flow in audio-only mode")

	// Observe for a while: zero video events, ever.
	time.Sleep(300 * time.Millisecond)
	frames, _, errs, _ := sink.snapshot()
	assert.Zero(t, frames, "audio-only capture must never emit video frames")
	assert.Zero(t, errs)

	require.NoError(t, s.StopCapture(context.Background()))
	frames, _, _, _ = sink.snapshot()
	assert.Zero(t, frames)
}

func TestSessionRejectsSecondStart(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	require.NoError(t, s.StartCapture(displayConfig(10)))
	defer s.Close()

	err := s.StartCapture(displayConfig(10))
	assert.ErrorIs(t, err, ErrAlreadyCapturing)
	assert.True(t, s.IsCapturing(), "rejected start must not disturb the active session")

	require.NoError(t, s.StopCapture(context.Background()))
}

func TestSessionStopIdempotent(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	// Stop while idle is a no-op.
	require.NoError(t, s.StopCapture(context.Background()))

	require.NoError(t, s.StartCapture(displayConfig(10)))
	require.NoError(t, s.StopCapture(context.Background()))
	require.NoError(t, s.StopCapture(context.Background()))

	_, _, _, exits := sink.snapshot()
	assert.Equal(t, 1, exits, "at most one terminal transition")
	assert.Equal(t, StateStopped, s.State())
}

func TestSessionNoEventsAfterStop(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	require.NoError(t, s.StartCapture(displayConfig(30)))
	require.Eventually(t, func() bool {
		frames, chunks, _, _ := sink.snapshot()
		return frames >= 1 && chunks >= 1
	}, time.Second, time.Millisecond)

	require.NoError(t, s.StopCapture(context.Background()))
	frames, chunks, _, exits := sink.snapshot()
	require.Equal(t, 1, exits)

	time.Sleep(200 * time.Millisecond)
	framesAfter, chunksAfter, _, exitsAfter := sink.snapshot()
	assert.Equal(t, frames, framesAfter, "no video after stop resolved")
	assert.Equal(t, chunks, chunksAfter, "no audio after stop resolved")
	assert.Equal(t, exits, exitsAfter)

	sink.mu.Lock()
	last := sink.order[len(sink.order)-1]
	sink.mu.Unlock()
	assert.Equal(t, "exit", last, "exit is the final dispatched event")
}

func TestSessionValidationRejectsBeforeAllocation(t *testing.T) {
	producer := NewSyntheticProducer(SyntheticConfig{})
	sink := &recordSink{}
	s := newTestSession(t, producer, sink)

	err := s.StartCapture(Config{})
	require.ErrorIs(t, err, ErrValidation)

	assert.Equal(t, StateIdle, s.State())
	assert.False(t, s.IsCapturing())
	assert.False(t, producer.running.Load(), "producer must never start on validation failure")
	frames, chunks, errs, exits := sink.snapshot()
	assert.Zero(t, frames+chunks+errs+exits)
}

func TestSessionImmediateStop(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	require.NoError(t, s.StartCapture(displayConfig(10)))

	begin := time.Now()
	require.NoError(t, s.StopCapture(context.Background()))
	assert.Less(t, time.Since(begin), 2*time.Second, "stop acknowledgment within the grace window")

	assert.Equal(t, StateStopped, s.State())
	assert.False(t, s.IsCapturing())
	require.NoError(t, s.Close())
}

func TestSessionProducerStartFailure(t *testing.T) {
	producer := NewSyntheticProducer(SyntheticConfig{
		StartErr: fmt.Errorf("%w: window 9999", ErrTargetNotFound),
	})
	sink := &recordSink{}
	s := newTestSession(t, producer, sink)

	cfg := DefaultConfig()
	cfg.WindowID = 9999
	require.NoError(t, s.StartCapture(cfg), "negotiation failures surface asynchronously")

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, 2*time.Second, time.Millisecond)

	assert.False(t, s.IsCapturing())
	sink.mu.Lock()
	defer sink.mu.Unlock()
	require.Len(t, sink.errs, 1)
	assert.ErrorIs(t, sink.errs[0], ErrTargetNotFound)
	require.NotEmpty(t, sink.order)
	assert.Equal(t, "error", sink.order[0], "error event precedes exit")
	assert.Equal(t, "exit", sink.order[len(sink.order)-1])
}

func TestSessionProducerErrorAutoStops(t *testing.T) {
	producer := NewSyntheticProducer(SyntheticConfig{
		ExitAfter: 50 * time.Millisecond,
		ExitErr:   fmt.Errorf("%w: display disconnected", ErrProducer),
	})
	sink := &recordSink{}
	s := newTestSession(t, producer, sink)

	require.NoError(t, s.StartCapture(displayConfig(10)))

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, 2*time.Second, time.Millisecond)

	_, _, errs, exits := sink.snapshot()
	assert.Equal(t, 1, errs, "producer failure surfaces as one error event")
	assert.Equal(t, 1, exits)
	assert.False(t, s.IsCapturing())
}

func TestSessionCleanProducerExit(t *testing.T) {
	producer := NewSyntheticProducer(SyntheticConfig{
		ExitAfter: 50 * time.Millisecond,
	})
	sink := &recordSink{}
	s := newTestSession(t, producer, sink)

	require.NoError(t, s.StartCapture(displayConfig(0)))

	require.Eventually(t, func() bool {
		return s.State() == StateStopped
	}, 2*time.Second, time.Millisecond)

	_, _, errs, exits := sink.snapshot()
	assert.Zero(t, errs, "a clean end of stream is not an error")
	assert.Equal(t, 1, exits)
}

func TestSessionRestart(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{}), sink)

	require.NoError(t, s.StartCapture(displayConfig(30)))
	require.NoError(t, s.StopCapture(context.Background()))
	require.Equal(t, StateStopped, s.State())

	require.NoError(t, s.StartCapture(displayConfig(30)))
	require.Eventually(t, func() bool {
		_, chunks, _, _ := sink.snapshot()
		return chunks >= 1
	}, time.Second, time.Millisecond, "a stopped session is restartable")
	require.NoError(t, s.Close())
}

func TestSessionQualityScalesVideo(t *testing.T) {
	sink := &recordSink{}
	s := newTestSession(t, NewSyntheticProducer(SyntheticConfig{Width: 640, Height: 360}), sink)

	cfg := displayConfig(30)
	cfg.Quality = QualityLow
	require.NoError(t, s.StartCapture(cfg))
	defer s.Close()

	require.Eventually(t, func() bool {
		frames, _, _, _ := sink.snapshot()
		return frames >= 1
	}, time.Second, time.Millisecond)

	sink.mu.Lock()
	frame := sink.frames[0]
	sink.mu.Unlock()
	assert.Equal(t, 320, frame.Width, "low quality halves the resolution")
	assert.Equal(t, 180, frame.Height)

	require.NoError(t, s.StopCapture(context.Background()))
}
