//go:build !((darwin || linux) && !nocapture)

package capture

// NewNativeProducer is unavailable on this platform or build.
func NewNativeProducer() (Producer, error) {
	return nil, ErrNotSupported
}
