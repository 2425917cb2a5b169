//go:build gocv

// Package webcam registers an OpenCV-backed "webcam" frame driver.
// Build with -tags gocv.
package webcam

import (
	"context"
	"fmt"
	"image"
	"sync"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"gocv.io/x/gocv"
)

// Driver captures from a host video device. Each lent Buffer owns the
// gocv.Mat it was decoded from; Return closes it.
type Driver struct {
	mu      sync.Mutex
	cap     *gocv.VideoCapture
	cfg     camera.Config
	format  frame.PixelFormat
	slots   []bool
	lent    map[*frame.Buffer]int
	seq     uint64
	closed  bool
	quality int
}

// New opens the device named by cfg.Device.
func New(cfg camera.Config) (*Driver, error) {
	format, err := frame.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}

	vc, err := gocv.OpenVideoCapture(cfg.Device)
	if err != nil {
		return nil, fmt.Errorf("open video device %d: %w", cfg.Device, err)
	}
	if !vc.IsOpened() {
		vc.Close()
		return nil, fmt.Errorf("video device %d not available", cfg.Device)
	}
	vc.Set(gocv.VideoCaptureFrameWidth, float64(cfg.Width))
	vc.Set(gocv.VideoCaptureFrameHeight, float64(cfg.Height))

	return &Driver{
		cap:     vc,
		cfg:     cfg,
		format:  format,
		slots:   make([]bool, cfg.FrameBuffers),
		lent:    make(map[*frame.Buffer]int),
		quality: 100 - (cfg.JPEGQuality-1)*99/62,
	}, nil
}

// Get reads one frame from the device.
func (d *Driver) Get(ctx context.Context) (*frame.Buffer, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, frame.ErrClosed
	}
	slot := -1
	for i, used := range d.slots {
		if !used {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, frame.ErrNoFrame
	}

	raw := gocv.NewMat()
	defer raw.Close()
	if ok := d.cap.Read(&raw); !ok || raw.Empty() {
		return nil, frame.ErrNoFrame
	}

	mat := gocv.NewMat()
	gocv.Resize(raw, &mat, image.Pt(d.cfg.Width, d.cfg.Height), 0, 0, gocv.InterpolationArea)
	if d.cfg.HMirror || d.cfg.VFlip {
		code := 1
		switch {
		case d.cfg.HMirror && d.cfg.VFlip:
			code = -1
		case d.cfg.VFlip:
			code = 0
		}
		gocv.Flip(mat, &mat, code)
	}

	data, err := d.encode(mat)
	if err != nil {
		mat.Close()
		return nil, err
	}

	buf := &frame.Buffer{
		Width:     d.cfg.Width,
		Height:    d.cfg.Height,
		Format:    d.format,
		Data:      data,
		Timestamp: time.Now(),
		Seq:       d.seq,
		Slot:      slot,
		Native:    &mat,
	}
	d.seq++
	d.slots[slot] = true
	d.lent[buf] = slot
	return buf, nil
}

func (d *Driver) encode(bgr gocv.Mat) ([]byte, error) {
	switch d.format {
	case frame.RGB565:
		px, err := bgr.DataPtrUint8()
		if err != nil {
			return nil, err
		}
		out := make([]byte, d.cfg.Width*d.cfg.Height*2)
		for i, o := 0, 0; i+2 < len(px) && o+1 < len(out); i, o = i+3, o+2 {
			b, g, r := px[i], px[i+1], px[i+2]
			v := uint16(r>>3)<<11 | uint16(g>>2)<<5 | uint16(b>>3)
			out[o] = byte(v >> 8)
			out[o+1] = byte(v)
		}
		return out, nil
	case frame.Grayscale8:
		gray := gocv.NewMat()
		defer gray.Close()
		gocv.CvtColor(bgr, &gray, gocv.ColorBGRToGray)
		return gray.ToBytes(), nil
	case frame.JPEG:
		nb, err := gocv.IMEncodeWithParams(gocv.JPEGFileExt, bgr, []int{gocv.IMWriteJpegQuality, d.quality})
		if err != nil {
			return nil, err
		}
		defer nb.Close()
		return append([]byte(nil), nb.GetBytes()...), nil
	}
	return nil, fmt.Errorf("%w: %s", frame.ErrInvalidConfig, d.format)
}

// Return closes the buffer's Mat and frees its slot.
func (d *Driver) Return(b *frame.Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	slot, ok := d.lent[b]
	if !ok {
		return frame.ErrDoubleReturn
	}
	delete(d.lent, b)
	d.slots[slot] = false
	if m, ok := b.Native.(*gocv.Mat); ok {
		m.Close()
	}
	return nil
}

// Close releases the device.
func (d *Driver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.closed {
		return nil
	}
	d.closed = true
	for b := range d.lent {
		if m, ok := b.Native.(*gocv.Mat); ok {
			m.Close()
		}
	}
	return d.cap.Close()
}

func init() {
	frame.Register("webcam", func(cfg camera.Config) (frame.Driver, error) {
		return New(cfg)
	})
}
