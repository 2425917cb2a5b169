package transcode

import (
	"errors"
	"fmt"

	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// Sentinel errors for common conditions.
var (
	// ErrShortBuffer is returned when a frame has fewer bytes than its
	// dimensions require.
	ErrShortBuffer = errors.New("transcode: frame data shorter than width*height*bpp")

	// ErrReleasedFrame is returned when decoding a frame that has already
	// gone back to the pool.
	ErrReleasedFrame = errors.New("transcode: frame already released")

	// ErrEmptyImage is returned for zero-sized rasters.
	ErrEmptyImage = errors.New("transcode: empty image")
)

// UnsupportedFormatError is returned when a frame cannot be decoded into
// a Raster.
type UnsupportedFormatError struct {
	Format frame.PixelFormat
}

// Error implements the error interface.
func (e *UnsupportedFormatError) Error() string {
	return fmt.Sprintf("transcode: unsupported pixel format %s", e.Format)
}
