package frame

import (
	"fmt"

	"github.com/teslashibe/go-idmcam/pkg/camera"
)

// PixelFormat identifies how a frame's bytes are laid out.
type PixelFormat uint8

const (
	FormatUnknown PixelFormat = iota
	RGB565                    // 16-bit big-endian 5-6-5
	Grayscale8                // one byte per pixel
	JPEG                      // compressed, sensor-encoded
)

// String returns the camera config name of the format.
func (p PixelFormat) String() string {
	switch p {
	case RGB565:
		return camera.FormatRGB565
	case Grayscale8:
		return camera.FormatGrayscale
	case JPEG:
		return camera.FormatJPEG
	default:
		return fmt.Sprintf("unknown(%d)", uint8(p))
	}
}

// BytesPerPixel returns the raw pixel size, or 0 for compressed formats.
func (p PixelFormat) BytesPerPixel() int {
	switch p {
	case RGB565:
		return 2
	case Grayscale8:
		return 1
	default:
		return 0
	}
}

// ParsePixelFormat maps a camera config format name to a PixelFormat.
func ParsePixelFormat(name string) (PixelFormat, error) {
	switch name {
	case camera.FormatRGB565:
		return RGB565, nil
	case camera.FormatGrayscale:
		return Grayscale8, nil
	case camera.FormatJPEG:
		return JPEG, nil
	}
	return FormatUnknown, fmt.Errorf("%w: pixel format %q", ErrInvalidConfig, name)
}
