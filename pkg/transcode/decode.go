package transcode

import (
	"github.com/disintegration/imaging"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// Decode expands a raw frame into an RGB raster. RGB565 is read
// big-endian (as the sensor emits it) and widened by bit replication so
// full-scale channels map to 255. Compressed frames are not decoded here.
func Decode(f *frame.Frame) (*Raster, error) {
	if f.Released() {
		return nil, ErrReleasedFrame
	}
	return decode(f.Format(), f.Width(), f.Height(), f.Data())
}

func decode(format frame.PixelFormat, w, h int, data []byte) (*Raster, error) {
	if w <= 0 || h <= 0 {
		return nil, ErrEmptyImage
	}

	switch format {
	case frame.RGB565:
		if len(data) < w*h*2 {
			return nil, ErrShortBuffer
		}
		r := NewRaster(w, h)
		for i, o := 0, 0; o < len(r.Pix); i, o = i+2, o+3 {
			v := uint16(data[i])<<8 | uint16(data[i+1])
			r.Pix[o], r.Pix[o+1], r.Pix[o+2] = RGB565(v)
		}
		return r, nil

	case frame.Grayscale8:
		if len(data) < w*h {
			return nil, ErrShortBuffer
		}
		r := NewRaster(w, h)
		for i := 0; i < w*h; i++ {
			g := data[i]
			r.Pix[i*3], r.Pix[i*3+1], r.Pix[i*3+2] = g, g, g
		}
		return r, nil
	}

	return nil, &UnsupportedFormatError{Format: format}
}

// RGB565 widens a 5-6-5 word to 8-bit channels.
func RGB565(v uint16) (r, g, b uint8) {
	r5 := uint8(v>>11) & 0x1F
	g6 := uint8(v>>5) & 0x3F
	b5 := uint8(v) & 0x1F
	return r5<<3 | r5>>2, g6<<2 | g6>>4, b5<<3 | b5>>2
}

// Resize scales r to exactly w x h with a Lanczos filter.
func Resize(r *Raster, w, h int) (*Raster, error) {
	if w <= 0 || h <= 0 || r.Width <= 0 || r.Height <= 0 {
		return nil, ErrEmptyImage
	}
	if r.Width == w && r.Height == h {
		out := NewRaster(w, h)
		copy(out.Pix, r.Pix)
		return out, nil
	}
	return FromImage(imaging.Resize(r.NRGBA(), w, h, imaging.Lanczos)), nil
}

// DecodeAndResize decodes f and scales it to w x h. The result does not
// alias frame memory, so f can be released as soon as this returns.
func DecodeAndResize(f *frame.Frame, w, h int) (*Raster, error) {
	r, err := Decode(f)
	if err != nil {
		return nil, err
	}
	return Resize(r, w, h)
}
