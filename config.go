package capture

import (
	"fmt"
	"time"
)

// Quality selects the resolution scale applied to captured video.
type Quality int

const (
	QualityHigh   Quality = iota // 100% of source resolution
	QualityMedium                // 75%
	QualityLow                   // 50%
)

func (q Quality) String() string {
	switch q {
	case QualityHigh:
		return "high"
	case QualityMedium:
		return "medium"
	case QualityLow:
		return "low"
	default:
		return "unknown"
	}
}

// Scale returns the resolution scale factor for the quality level.
func (q Quality) Scale() float64 {
	switch q {
	case QualityHigh:
		return 1.0
	case QualityMedium:
		return 0.75
	case QualityLow:
		return 0.5
	default:
		return 1.0
	}
}

// Config describes one capture session. Exactly one of DisplayID, WindowID,
// or BundleID must be set; the other two stay zero. Config is immutable once
// handed to StartCapture and is validated exactly once there.
type Config struct {
	FrameRate       float64 // Frames per second; 0 means audio-only
	Quality         Quality // Resolution scale preset
	ExplicitQuality int     // 0..100 overrides Quality when >= 0; -1 = unset
	AudioSampleRate int     // Samples per second per channel
	AudioChannels   int     // Channel count

	// Target reference - exactly one must be set.
	DisplayID uint32
	WindowID  uint32
	BundleID  string
}

// DefaultConfig returns the default capture configuration. The target
// reference is left unset and must be filled in by the caller.
func DefaultConfig() Config {
	return Config{
		FrameRate:       10,
		Quality:         QualityMedium,
		ExplicitQuality: -1,
		AudioSampleRate: 44100,
		AudioChannels:   2,
	}
}

// AudioOnly returns true if the configuration disables video capture.
func (c Config) AudioOnly() bool { return c.FrameRate <= 0 }

// FrameInterval returns the minimum spacing between accepted video frames,
// or 0 for audio-only configurations.
func (c Config) FrameInterval() time.Duration {
	if c.FrameRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / c.FrameRate)
}

// ResolutionScale returns the scale factor applied to captured video.
// An explicit 0..100 value takes precedence over the Quality preset.
func (c Config) ResolutionScale() float64 {
	if c.ExplicitQuality >= 0 {
		return float64(c.ExplicitQuality) / 100.0
	}
	return c.Quality.Scale()
}

// Validate checks the configuration. It enforces the single-target-reference
// invariant: exactly one of DisplayID, WindowID, BundleID must resolve to a
// non-zero/non-empty value. All errors wrap ErrValidation.
func (c Config) Validate() error {
	refs := 0
	if c.DisplayID != 0 {
		refs++
	}
	if c.WindowID != 0 {
		refs++
	}
	if c.BundleID != "" {
		refs++
	}
	switch {
	case refs == 0:
		return fmt.Errorf("%w: no capture target specified, provide displayID, windowID, or bundleID", ErrValidation)
	case refs > 1:
		return fmt.Errorf("%w: multiple capture targets specified, provide exactly one of displayID, windowID, bundleID", ErrValidation)
	}
	if c.FrameRate < 0 {
		return fmt.Errorf("%w: frame rate must be >= 0, got %v", ErrValidation, c.FrameRate)
	}
	if c.AudioSampleRate <= 0 {
		return fmt.Errorf("%w: audio sample rate must be > 0, got %d", ErrValidation, c.AudioSampleRate)
	}
	if c.AudioChannels <= 0 {
		return fmt.Errorf("%w: audio channel count must be > 0, got %d", ErrValidation, c.AudioChannels)
	}
	if c.ExplicitQuality > 100 {
		return fmt.Errorf("%w: explicit quality must be in 0..100, got %d", ErrValidation, c.ExplicitQuality)
	}
	return nil
}
