package capture

import "errors"

// Sentinel errors returned by the capture engine. Runtime failures are
// wrapped with fmt.Errorf("...: %w", err) so callers can match with
// errors.Is.
var (
	// ErrValidation indicates an invalid capture configuration. It is
	// returned synchronously by StartCapture before any resource is
	// allocated.
	ErrValidation = errors.New("invalid capture configuration")

	// ErrAlreadyCapturing is returned by StartCapture when the session
	// already has an active capture.
	ErrAlreadyCapturing = errors.New("capture already in progress")

	// ErrNotCapturing indicates an operation that requires an active
	// capture was attempted while idle.
	ErrNotCapturing = errors.New("no capture in progress")

	// ErrTargetNotFound indicates the requested display, window, or
	// application does not exist.
	ErrTargetNotFound = errors.New("capture target not found")

	// ErrPermissionDenied indicates the OS denied access to the capture
	// facility.
	ErrPermissionDenied = errors.New("capture permission denied")

	// ErrFormatUnsupported indicates the requested audio or video format
	// cannot be produced by the capture backend.
	ErrFormatUnsupported = errors.New("capture format unsupported")

	// ErrTimeout indicates an asynchronous operation exceeded its bound.
	ErrTimeout = errors.New("capture operation timed out")

	// ErrProducer wraps failures reported by a running capture producer.
	ErrProducer = errors.New("capture producer failure")

	// ErrBridgeClosed indicates the event bridge was aborted or fully
	// finalized. Producer callbacks treat a rejected enqueue as "drop
	// silently", never as a surfaced error.
	ErrBridgeClosed = errors.New("event bridge closed")

	// ErrNotSupported is returned when an optional operation is not
	// supported on this platform or build.
	ErrNotSupported = errors.New("operation not supported")
)
