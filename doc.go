// Package capture delivers live desktop video frames and audio samples
// from an operating-system capture facility to a host application through
// an asynchronous, event-based interface.
//
// Key pieces include:
//   - Target catalog: bounded-wait enumeration of displays, windows, and
//     applications, degrading to an empty list rather than hanging
//   - Producer: the capture backend contract, with an OS-backed
//     implementation (purego) and a deterministic synthetic one for tests
//   - Synchronizer: pairs each audio chunk with the most recently accepted
//     video frame, throttling video to the configured frame rate
//   - Bridge: a reference-counted, abortable channel moving units from
//     producer goroutines into one strictly-sequential consumer
//   - Session: the start/stop state machine owning the capture lifecycle
//   - AudioPacketizer: L16 RTP packetization of captured audio
//
// # Architecture
//
//	Catalog -> Session -> Producer -> Synchronizer -> Bridge -> EventSink
//
// Control (start/stop) flows the opposite way through the Session into the
// Producer and Bridge.
//
// # Native Library
//
// The OS-backed producer loads libmediacapture via purego (CGO_ENABLED=0).
// Set CAPTURE_LIB_PATH to the directory containing the library. Builds
// tagged nocapture, or platforms without the library, still provide the
// synthetic producer and the full session engine.
package capture
