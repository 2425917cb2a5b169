package transcode

import (
	"bytes"
	"fmt"
	"image/jpeg"
	"image/png"

	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// Format is a compressed output format.
type Format string

// Supported output formats.
const (
	PNG  Format = "png"
	JPEG Format = "jpeg"
)

// DefaultJPEGQuality is used when no quality is given.
const DefaultJPEGQuality = 85

// EncodeOptions tunes Encode.
type EncodeOptions struct {
	// JPEGQuality is 1..100; zero means DefaultJPEGQuality.
	JPEGQuality int
}

var pngEncoder = png.Encoder{CompressionLevel: png.DefaultCompression}

// Encode compresses r. PNG output is deterministic: the same raster
// always yields the same bytes.
func Encode(r *Raster, format Format, opts ...EncodeOptions) ([]byte, error) {
	if r == nil || r.Width <= 0 || r.Height <= 0 {
		return nil, ErrEmptyImage
	}

	var buf bytes.Buffer
	switch format {
	case PNG, "":
		if err := pngEncoder.Encode(&buf, r.NRGBA()); err != nil {
			return nil, fmt.Errorf("transcode: png encode: %w", err)
		}
	case JPEG:
		q := DefaultJPEGQuality
		if len(opts) > 0 && opts[0].JPEGQuality > 0 {
			q = opts[0].JPEGQuality
		}
		if err := jpeg.Encode(&buf, r, &jpeg.Options{Quality: q}); err != nil {
			return nil, fmt.Errorf("transcode: jpeg encode: %w", err)
		}
	default:
		return nil, fmt.Errorf("transcode: unknown output format %q", format)
	}
	return buf.Bytes(), nil
}

// ToJPEG produces a JPEG still from f. Sensor-encoded JPEG frames are
// copied through untouched; raw frames are decoded and compressed.
func ToJPEG(f *frame.Frame, quality int) ([]byte, error) {
	if f.Released() {
		return nil, ErrReleasedFrame
	}
	if f.Format() == frame.JPEG {
		return append([]byte(nil), f.Data()...), nil
	}
	r, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return Encode(r, JPEG, EncodeOptions{JPEGQuality: quality})
}

// ParseFormat maps a name to a Format.
func ParseFormat(name string) (Format, error) {
	switch Format(name) {
	case PNG, "":
		return PNG, nil
	case JPEG, "jpg":
		return JPEG, nil
	}
	return "", fmt.Errorf("transcode: unknown output format %q", name)
}
