package capture

// FrameFormat identifies the payload layout of a captured video frame.
type FrameFormat int

const (
	FormatBGRA FrameFormat = iota // Packed BGRA, 4 bytes per pixel
	FormatJPEG                    // Pre-encoded JPEG, len(Data) is authoritative
)

func (f FrameFormat) String() string {
	switch f {
	case FormatBGRA:
		return "bgra"
	case FormatJPEG:
		return "jpeg"
	default:
		return "unknown"
	}
}

// Encoded returns true if the format carries compressed data rather than
// raw pixels. For encoded frames BytesPerRow has no meaning and the buffer
// length is authoritative.
func (f FrameFormat) Encoded() bool { return f == FormatJPEG }

// VideoFrame is one captured video frame. The Data buffer is owned by the
// frame: producers copy pixel data out of backend memory exactly once at
// handoff, and the frame is never mutated after that.
type VideoFrame struct {
	Data        []byte      // Pixel data (raw) or encoded payload
	Width       int         // Frame width in pixels
	Height      int         // Frame height in pixels
	BytesPerRow int         // Stride in bytes (raw formats only)
	Format      FrameFormat // Payload format
	Timestamp   int64       // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the video frame.
func (f *VideoFrame) Clone() *VideoFrame {
	clone := *f
	clone.Data = make([]byte, len(f.Data))
	copy(clone.Data, f.Data)
	return &clone
}

// AudioChunk is one block of captured audio samples. Samples are interleaved
// 32-bit float PCM. Like VideoFrame, the buffer is owned by the chunk and
// copied out of backend memory exactly once.
type AudioChunk struct {
	Samples    []float32 // Interleaved samples, len == Channels*FrameCount
	SampleRate int       // Samples per second per channel
	Channels   int       // Channel count
	FrameCount int       // Sample frames in this chunk
	Timestamp  int64     // Capture timestamp in nanoseconds
}

// Clone creates a deep copy of the audio chunk.
func (c *AudioChunk) Clone() *AudioChunk {
	clone := *c
	clone.Samples = make([]float32, len(c.Samples))
	copy(clone.Samples, c.Samples)
	return &clone
}

// Duration returns the chunk duration in nanoseconds.
func (c *AudioChunk) Duration() int64 {
	if c.SampleRate <= 0 {
		return 0
	}
	return int64(c.FrameCount) * 1e9 / int64(c.SampleRate)
}

// MediaUnit pairs exactly one audio chunk with the most recently accepted
// video frame at the moment the chunk arrived. Video may be nil (audio-only
// capture, or no frame accepted yet); HasVideo always equals Video != nil.
// Units are emitted strictly in audio arrival order with non-decreasing
// timestamps.
type MediaUnit struct {
	Audio     *AudioChunk
	Video     *VideoFrame
	Timestamp int64 // nanoseconds, taken from the audio chunk
	HasVideo  bool
	HasAudio  bool
}
