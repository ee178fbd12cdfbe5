//go:build (darwin || linux) && !nocapture

// OS-backed capture producer and target enumerator. Bindings load the
// native libmediacapture library via purego (CGO_ENABLED=0). Set
// CAPTURE_LIB_PATH to the directory containing the library.

package capture

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unsafe"

	"github.com/ebitengine/purego"
	"github.com/sirupsen/logrus"
)

// mediaCaptureConfigC mirrors the native MediaCaptureConfigC layout.
type mediaCaptureConfigC struct {
	FrameRate       float32
	Quality         int32
	AudioSampleRate int32
	AudioChannels   int32
	DisplayID       uint32
	WindowID        uint32
	BundleID        *byte
}

// mediaCaptureTargetC mirrors the native MediaCaptureTargetC layout.
type mediaCaptureTargetC struct {
	IsDisplay int32
	IsWindow  int32
	DisplayID uint32
	WindowID  uint32
	Width     int32
	Height    int32
	Title     *byte
	AppName   *byte
}

var (
	captureOnce    sync.Once
	captureLib     uintptr
	captureInitErr error

	captureCreate    func() uintptr
	captureDestroy   func(uintptr)
	captureStart     func(handle uintptr, cfg mediaCaptureConfigC, videoCB, audioCB, exitCB, userData uintptr)
	captureStop      func(handle uintptr, stopCB, userData uintptr)
	captureEnumerate func(targetType int32, cb, userData uintptr)
)

func captureLibName() string {
	if runtime.GOOS == "darwin" {
		return "libmediacapture.dylib"
	}
	return "libmediacapture.so"
}

// findCaptureLibrary searches for the native library in common locations.
func findCaptureLibrary() string {
	searchPaths := []string{
		os.Getenv("CAPTURE_LIB_PATH"),
	}
	if exe, err := os.Executable(); err == nil {
		searchPaths = append(searchPaths, filepath.Dir(exe))
	}
	searchPaths = append(searchPaths,
		"build",
		"../build",
		"/usr/local/lib",
		"/usr/lib",
	)
	for _, p := range searchPaths {
		if p == "" {
			continue
		}
		candidate := filepath.Join(p, captureLibName())
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return ""
}

func initCaptureLib() {
	captureOnce.Do(func() {
		libPath := findCaptureLibrary()
		if libPath == "" {
			captureInitErr = fmt.Errorf("%w: %s not found (set CAPTURE_LIB_PATH)", ErrNotSupported, captureLibName())
			return
		}
		var err error
		captureLib, err = purego.Dlopen(libPath, purego.RTLD_NOW|purego.RTLD_GLOBAL)
		if err != nil {
			captureInitErr = fmt.Errorf("failed to load %s: %w", libPath, err)
			return
		}
		purego.RegisterLibFunc(&captureCreate, captureLib, "createMediaCapture")
		purego.RegisterLibFunc(&captureDestroy, captureLib, "destroyMediaCapture")
		purego.RegisterLibFunc(&captureStart, captureLib, "startMediaCapture")
		purego.RegisterLibFunc(&captureStop, captureLib, "stopMediaCapture")
		purego.RegisterLibFunc(&captureEnumerate, captureLib, "enumerateMediaCaptureTargets")
	})
}

// Global callback state for purego. Go pointers cannot cross the ABI as
// user data, so producers register under a numeric token instead.
var (
	nativeMu      sync.RWMutex
	nativeTokens  uintptr
	nativeByToken = make(map[uintptr]*NativeProducer)
	nativeStops   = make(map[uintptr]chan struct{})
	nativeEnums   = make(map[uintptr]chan enumResult)

	nativeCallbacksOnce sync.Once
	nativeVideoCB       uintptr
	nativeAudioCB       uintptr
	nativeExitCB        uintptr
	nativeStopCB        uintptr
	nativeEnumCB        uintptr
)

type enumResult struct {
	targets []Target
	err     error
}

func nextNativeToken() uintptr {
	nativeMu.Lock()
	defer nativeMu.Unlock()
	nativeTokens++
	return nativeTokens
}

func initNativeCallbacks() {
	nativeCallbacksOnce.Do(func() {
		nativeVideoCB = purego.NewCallback(nativeVideoHandler)
		nativeAudioCB = purego.NewCallback(nativeAudioHandler)
		nativeExitCB = purego.NewCallback(nativeExitHandler)
		nativeStopCB = purego.NewCallback(nativeStopHandler)
		nativeEnumCB = purego.NewCallback(nativeEnumHandler)
	})
}

// nativeVideoHandler is invoked by the capture library on its video thread.
func nativeVideoHandler(data uintptr, width, height, bytesPerRow, timestamp int32, format uintptr, actualSize uintptr, userData uintptr) {
	nativeMu.RLock()
	p := nativeByToken[userData]
	nativeMu.RUnlock()
	if p == nil || data == 0 {
		return
	}
	p.handleVideo(data, width, height, bytesPerRow, timestamp, format, actualSize)
}

// nativeAudioHandler is invoked by the capture library on its audio thread.
func nativeAudioHandler(channels, sampleRate int32, buf uintptr, frameCount int32, userData uintptr) {
	nativeMu.RLock()
	p := nativeByToken[userData]
	nativeMu.RUnlock()
	if p == nil || buf == 0 {
		return
	}
	p.handleAudio(channels, sampleRate, buf, frameCount)
}

func nativeExitHandler(errMsg uintptr, userData uintptr) {
	nativeMu.RLock()
	p := nativeByToken[userData]
	nativeMu.RUnlock()
	if p == nil {
		return
	}
	p.handleExit(goStringFromPtr(errMsg))
}

func nativeStopHandler(userData uintptr) {
	nativeMu.Lock()
	ch := nativeStops[userData]
	delete(nativeStops, userData)
	nativeMu.Unlock()
	if ch != nil {
		close(ch)
	}
}

func nativeEnumHandler(targets uintptr, count int32, errMsg uintptr, userData uintptr) {
	nativeMu.Lock()
	ch := nativeEnums[userData]
	delete(nativeEnums, userData)
	nativeMu.Unlock()
	if ch == nil {
		return
	}
	if errMsg != 0 {
		ch <- enumResult{err: mapNativeError(goStringFromPtr(errMsg))}
		return
	}
	result := make([]Target, 0, count)
	if targets != 0 && count > 0 {
		raw := unsafe.Slice((*mediaCaptureTargetC)(unsafe.Pointer(targets)), int(count))
		for _, tc := range raw {
			t := Target{
				DisplayID: tc.DisplayID,
				WindowID:  tc.WindowID,
				Title:     goStringFromBytePtr(tc.Title),
				Bounds:    Bounds{Width: int(tc.Width), Height: int(tc.Height)},
			}
			t.ApplicationName = goStringFromBytePtr(tc.AppName)
			switch {
			case tc.IsDisplay == 1:
				t.Kind = TargetDisplay
			case tc.IsWindow == 1:
				t.Kind = TargetWindow
			default:
				t.Kind = TargetApplication
				t.BundleID = t.ApplicationName
			}
			result = append(result, t)
		}
	}
	ch <- enumResult{targets: result}
}

// goStringFromPtr converts a C string pointer to a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	p := unsafe.Pointer(ptr)
	var length int
	for {
		if *(*byte)(unsafe.Pointer(uintptr(p) + uintptr(length))) == 0 {
			break
		}
		length++
		if length > 4096 { // Safety limit
			break
		}
	}
	if length == 0 {
		return ""
	}
	return string(unsafe.Slice((*byte)(p), length))
}

func goStringFromBytePtr(ptr *byte) string {
	return goStringFromPtr(uintptr(unsafe.Pointer(ptr)))
}

// mapNativeError classifies a backend error message into the package's
// error taxonomy.
func mapNativeError(msg string) error {
	lower := strings.ToLower(msg)
	switch {
	case strings.Contains(lower, "permission") || strings.Contains(lower, "denied"):
		return fmt.Errorf("%w: %s", ErrPermissionDenied, msg)
	case strings.Contains(lower, "not found") || strings.Contains(lower, "no such"):
		return fmt.Errorf("%w: %s", ErrTargetNotFound, msg)
	case strings.Contains(lower, "format") || strings.Contains(lower, "unsupported"):
		return fmt.Errorf("%w: %s", ErrFormatUnsupported, msg)
	default:
		return fmt.Errorf("%w: %s", ErrProducer, msg)
	}
}

// NativeProducer captures desktop video and audio through the OS capture
// facility. The opaque native handle is created once and owned exclusively
// by this producer; callbacks reference the producer only through a numeric
// token so a torn-down producer is simply absent from the registry.
type NativeProducer struct {
	handle uintptr
	token  uintptr
	log    *logrus.Entry

	running atomic.Bool
	mu      sync.Mutex
	cb      Callbacks
	cfg     Config
	bundle  []byte // keeps the C string alive while the backend reads it
}

// NewNativeProducer creates a producer backed by the OS capture library.
// The signature matches the stub build so callers compile on every
// platform.
func NewNativeProducer() (Producer, error) {
	initCaptureLib()
	if captureInitErr != nil {
		return nil, captureInitErr
	}
	initNativeCallbacks()

	handle := captureCreate()
	if handle == 0 {
		return nil, fmt.Errorf("%w: createMediaCapture returned null", ErrProducer)
	}
	return &NativeProducer{
		handle: handle,
		token:  nextNativeToken(),
		log:    logrus.StandardLogger().WithField("component", "native-producer"),
	}, nil
}

// Start begins native capture. The backend reports readiness implicitly by
// delivering units; negotiation failures arrive through the exit callback.
func (p *NativeProducer) Start(ctx context.Context, cfg Config, cb Callbacks) error {
	if p.handle == 0 {
		return fmt.Errorf("native producer closed")
	}
	if !p.running.CompareAndSwap(false, true) {
		return fmt.Errorf("native producer already running")
	}

	p.mu.Lock()
	p.cb = cb
	p.cfg = cfg
	var bundlePtr *byte
	if cfg.BundleID != "" {
		p.bundle = append([]byte(cfg.BundleID), 0)
		bundlePtr = &p.bundle[0]
	}
	p.mu.Unlock()

	ccfg := mediaCaptureConfigC{
		FrameRate:       float32(cfg.FrameRate),
		Quality:         int32(cfg.Quality),
		AudioSampleRate: int32(cfg.AudioSampleRate),
		AudioChannels:   int32(cfg.AudioChannels),
		DisplayID:       cfg.DisplayID,
		WindowID:        cfg.WindowID,
		BundleID:        bundlePtr,
	}

	nativeMu.Lock()
	nativeByToken[p.token] = p
	nativeMu.Unlock()

	captureStart(p.handle, ccfg, nativeVideoCB, nativeAudioCB, nativeExitCB, p.token)
	return nil
}

// Stop halts native capture and waits for the backend's acknowledgment,
// bounded by ctx. After the token is removed from the registry, in-flight
// native callbacks find no producer and return without touching Go state.
func (p *NativeProducer) Stop(ctx context.Context) error {
	if !p.running.CompareAndSwap(true, false) {
		return nil
	}

	ack := make(chan struct{})
	nativeMu.Lock()
	nativeStops[p.token] = ack
	nativeMu.Unlock()

	captureStop(p.handle, nativeStopCB, p.token)

	select {
	case <-ack:
	case <-ctx.Done():
		p.log.Debug("native stop acknowledgment still pending at deadline")
	}

	nativeMu.Lock()
	delete(nativeByToken, p.token)
	delete(nativeStops, p.token)
	nativeMu.Unlock()
	return nil
}

// Close destroys the native handle. The producer must be stopped first.
func (p *NativeProducer) Close() error {
	if err := p.Stop(context.Background()); err != nil {
		return err
	}
	if p.handle != 0 {
		captureDestroy(p.handle)
		p.handle = 0
	}
	return nil
}

func (p *NativeProducer) handleVideo(data uintptr, width, height, bytesPerRow, timestamp int32, format uintptr, actualSize uintptr) {
	if !p.running.Load() || height <= 0 || width <= 0 {
		return
	}
	p.mu.Lock()
	onVideo := p.cb.OnVideo
	p.mu.Unlock()
	if onVideo == nil {
		return
	}

	frameFormat := FormatBGRA
	if goStringFromPtr(format) == "jpeg" {
		frameFormat = FormatJPEG
	}

	var buf []byte
	if frameFormat.Encoded() {
		buf = make([]byte, actualSize)
		copy(buf, unsafe.Slice((*byte)(unsafe.Pointer(data)), int(actualSize)))
	} else {
		// Copy row by row, clamping each row to what the backend actually
		// provided so a short buffer never overruns.
		size := int(height) * int(bytesPerRow)
		buf = make([]byte, size)
		rowBytes := int(bytesPerRow)
		if avail := int(actualSize) / int(height); avail < rowBytes {
			rowBytes = avail
		}
		src := unsafe.Slice((*byte)(unsafe.Pointer(data)), int(actualSize))
		for y := 0; y < int(height); y++ {
			off := y * int(bytesPerRow)
			if off+rowBytes > len(src) || off+rowBytes > len(buf) {
				break
			}
			copy(buf[off:off+rowBytes], src[off:off+rowBytes])
		}
	}

	onVideo(&VideoFrame{
		Data:        buf,
		Width:       int(width),
		Height:      int(height),
		BytesPerRow: int(bytesPerRow),
		Format:      frameFormat,
		Timestamp:   int64(timestamp) * 1000, // backend reports microseconds
	})
}

func (p *NativeProducer) handleAudio(channels, sampleRate int32, buf uintptr, frameCount int32) {
	if !p.running.Load() || channels <= 0 || sampleRate <= 0 || frameCount <= 0 {
		return
	}
	p.mu.Lock()
	onAudio := p.cb.OnAudio
	p.mu.Unlock()
	if onAudio == nil {
		return
	}

	numSamples := int(channels) * int(frameCount)
	if numSamples > 1<<20 {
		p.log.WithField("samples", numSamples).Warn("rejecting oversized audio buffer")
		return
	}
	samples := make([]float32, numSamples)
	copy(samples, unsafe.Slice((*float32)(unsafe.Pointer(buf)), numSamples))

	onAudio(&AudioChunk{
		Samples:    samples,
		SampleRate: int(sampleRate),
		Channels:   int(channels),
		FrameCount: int(frameCount),
		Timestamp:  nowMonotonicNs(),
	})
}

func (p *NativeProducer) handleExit(msg string) {
	p.running.Store(false)
	p.mu.Lock()
	onExit := p.cb.OnExit
	p.mu.Unlock()

	nativeMu.Lock()
	delete(nativeByToken, p.token)
	nativeMu.Unlock()

	if onExit == nil {
		return
	}
	if msg == "" {
		onExit(nil)
		return
	}
	onExit(mapNativeError(msg))
}

// NativeEnumerator lists capture targets through the OS capture library.
type NativeEnumerator struct{}

// EnumerateTargets queries the backend. The wait is bounded by ctx; an
// abandoned query finishes on its own and its result is discarded.
func (NativeEnumerator) EnumerateTargets(ctx context.Context, kind TargetKind) ([]Target, error) {
	initCaptureLib()
	if captureInitErr != nil {
		return nil, captureInitErr
	}
	initNativeCallbacks()

	token := nextNativeToken()
	ch := make(chan enumResult, 1)
	nativeMu.Lock()
	nativeEnums[token] = ch
	nativeMu.Unlock()

	captureEnumerate(nativeTargetType(kind), nativeEnumCB, token)

	select {
	case <-ctx.Done():
		nativeMu.Lock()
		delete(nativeEnums, token)
		nativeMu.Unlock()
		return nil, ErrTimeout
	case res := <-ch:
		return res.targets, res.err
	}
}

func nativeTargetType(kind TargetKind) int32 {
	switch kind {
	case TargetDisplay:
		return 1
	case TargetWindow:
		return 2
	case TargetApplication:
		return 3
	default:
		return 0
	}
}

var nativeEpoch = time.Now()

// nowMonotonicNs timestamps audio chunks, whose native callback carries no
// timestamp of its own.
func nowMonotonicNs() int64 {
	return time.Since(nativeEpoch).Nanoseconds()
}

func init() {
	RegisterTargetEnumerator(NativeEnumerator{})
}
