// Package transcode turns camera frames into images the LED matrix can
// show: decode raw pixels, downscale, and compress.
package transcode

import (
	"image"
	"image/color"
	"image/draw"
)

// Raster is a decoded 24-bit RGB image, row-major, three bytes per pixel.
type Raster struct {
	Width  int
	Height int
	Pix    []byte
}

// NewRaster allocates a black raster.
func NewRaster(w, h int) *Raster {
	return &Raster{Width: w, Height: h, Pix: make([]byte, w*h*3)}
}

// ColorModel implements image.Image.
func (r *Raster) ColorModel() color.Model { return color.RGBAModel }

// Bounds implements image.Image.
func (r *Raster) Bounds() image.Rectangle { return image.Rect(0, 0, r.Width, r.Height) }

// At implements image.Image.
func (r *Raster) At(x, y int) color.Color {
	return r.RGBAAt(x, y)
}

// RGBAAt returns the pixel at (x, y) as opaque RGBA.
func (r *Raster) RGBAAt(x, y int) color.RGBA {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return color.RGBA{}
	}
	i := (y*r.Width + x) * 3
	return color.RGBA{r.Pix[i], r.Pix[i+1], r.Pix[i+2], 255}
}

// Set writes the pixel at (x, y).
func (r *Raster) Set(x, y int, c color.RGBA) {
	if x < 0 || y < 0 || x >= r.Width || y >= r.Height {
		return
	}
	i := (y*r.Width + x) * 3
	r.Pix[i], r.Pix[i+1], r.Pix[i+2] = c.R, c.G, c.B
}

// NRGBA converts the raster to an *image.NRGBA.
func (r *Raster) NRGBA() *image.NRGBA {
	img := image.NewNRGBA(r.Bounds())
	for i, o := 0, 0; i < len(r.Pix); i, o = i+3, o+4 {
		img.Pix[o] = r.Pix[i]
		img.Pix[o+1] = r.Pix[i+1]
		img.Pix[o+2] = r.Pix[i+2]
		img.Pix[o+3] = 255
	}
	return img
}

// FromImage flattens any image onto black and returns it as a Raster.
func FromImage(img image.Image) *Raster {
	b := img.Bounds()
	rgba := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	draw.Draw(rgba, rgba.Bounds(), image.Black, image.Point{}, draw.Src)
	draw.Draw(rgba, rgba.Bounds(), img, b.Min, draw.Over)

	r := NewRaster(b.Dx(), b.Dy())
	for i, o := 0, 0; o < len(r.Pix); i, o = i+4, o+3 {
		r.Pix[o] = rgba.Pix[i]
		r.Pix[o+1] = rgba.Pix[i+1]
		r.Pix[o+2] = rgba.Pix[i+2]
	}
	return r
}

var _ image.Image = (*Raster)(nil)
