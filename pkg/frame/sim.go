package frame

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"sync"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/camera"
)

// Simulated driver limits.
const (
	// SimPoolLimit is the simulated frame-buffer memory (PSRAM sized).
	SimPoolLimit = 4 << 20

	// DefaultSimTimeout is how long Get waits for a free slot.
	DefaultSimTimeout = 200 * time.Millisecond
)

// Pattern returns the colour of pixel (x, y) in capture number seq.
type Pattern func(seq uint64, x, y, w, h int) color.RGBA

// Solid fills every frame with c.
func Solid(c color.RGBA) Pattern {
	return func(uint64, int, int, int, int) color.RGBA { return c }
}

// Sequence fills capture n with colors[n % len(colors)], which makes
// consecutive frames distinguishable.
func Sequence(colors ...color.RGBA) Pattern {
	return func(seq uint64, _, _, _, _ int) color.RGBA {
		if len(colors) == 0 {
			return color.RGBA{A: 255}
		}
		return colors[seq%uint64(len(colors))]
	}
}

// ColorBars draws the sensor's eight vertical test bars.
func ColorBars() Pattern {
	bars := []color.RGBA{
		{255, 255, 255, 255}, {255, 255, 0, 255}, {0, 255, 255, 255}, {0, 255, 0, 255},
		{255, 0, 255, 255}, {255, 0, 0, 255}, {0, 0, 255, 255}, {0, 0, 0, 255},
	}
	return func(_ uint64, x, _, w, _ int) color.RGBA {
		return bars[x*len(bars)/w]
	}
}

type simSlot struct {
	buf   *Buffer
	inUse bool
}

// SimStats reports the simulated pool's bookkeeping.
type SimStats struct {
	Gets          uint64
	Returns       uint64
	DoubleReturns uint64
	InUse         int
}

// SimDriver is an in-memory driver with a fixed buffer pool, used for the
// "test" source and in tests. Frames are rendered from a Pattern.
type SimDriver struct {
	mu      sync.Mutex
	width   int
	height  int
	format  PixelFormat
	quality int
	pattern Pattern
	slots   []simSlot
	freed   chan struct{}
	seq     uint64
	warmup  int
	timeout time.Duration
	closed  bool
	stats   SimStats
	clock   func() time.Time
}

// NewSimDriver creates a simulated driver from a camera config.
func NewSimDriver(cfg camera.Config, pattern Pattern) (*SimDriver, error) {
	format, err := ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	if cfg.FrameBuffers < 1 || cfg.Width <= 0 || cfg.Height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d with %d buffers", ErrInvalidConfig, cfg.Width, cfg.Height, cfg.FrameBuffers)
	}

	frameBytes := cfg.Width * cfg.Height * max(format.BytesPerPixel(), 1)
	if frameBytes*cfg.FrameBuffers > SimPoolLimit {
		return nil, fmt.Errorf("%w: %d buffers of %d bytes", ErrOutOfMemory, cfg.FrameBuffers, frameBytes)
	}

	return &SimDriver{
		width:   cfg.Width,
		height:  cfg.Height,
		format:  format,
		quality: jpegQuality(cfg.JPEGQuality),
		pattern: pattern,
		slots:   make([]simSlot, cfg.FrameBuffers),
		freed:   make(chan struct{}, 1),
		timeout: DefaultSimTimeout,
		clock:   time.Now,
	}, nil
}

// SetWarmup makes the next n Gets report ErrNoFrame, like a sensor that
// has not produced its first frame yet.
func (d *SimDriver) SetWarmup(n int) {
	d.mu.Lock()
	d.warmup = n
	d.mu.Unlock()
}

// SetTimeout changes how long Get waits for a free slot.
func (d *SimDriver) SetTimeout(timeout time.Duration) {
	d.mu.Lock()
	d.timeout = timeout
	d.mu.Unlock()
}

// Get renders the next frame into a free slot.
func (d *SimDriver) Get(ctx context.Context) (*Buffer, error) {
	d.mu.Lock()
	timeout := d.timeout
	d.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	for {
		buf, retry, err := d.tryGet()
		if !retry {
			return buf, err
		}
		select {
		case <-d.freed:
		case <-timer.C:
			return nil, ErrNoFrame
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (d *SimDriver) tryGet() (*Buffer, bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.closed {
		return nil, false, ErrClosed
	}
	if d.warmup > 0 {
		d.warmup--
		return nil, false, ErrNoFrame
	}

	slot := -1
	for i := range d.slots {
		if !d.slots[i].inUse {
			slot = i
			break
		}
	}
	if slot < 0 {
		return nil, true, nil
	}

	data, err := d.render(d.seq)
	if err != nil {
		return nil, false, err
	}

	buf := &Buffer{
		Width:     d.width,
		Height:    d.height,
		Format:    d.format,
		Data:      data,
		Timestamp: d.clock(),
		Seq:       d.seq,
		Slot:      slot,
	}
	d.seq++
	d.slots[slot] = simSlot{buf: buf, inUse: true}
	d.stats.Gets++
	return buf, false, nil
}

// Return frees the buffer's slot. Returning the same buffer twice is
// counted and rejected.
func (d *SimDriver) Return(b *Buffer) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	if b == nil || b.Slot < 0 || b.Slot >= len(d.slots) {
		return ErrForeignBuffer
	}
	s := &d.slots[b.Slot]
	if s.buf != b {
		return ErrForeignBuffer
	}
	if !s.inUse {
		d.stats.DoubleReturns++
		return ErrDoubleReturn
	}

	s.inUse = false
	d.stats.Returns++

	select {
	case d.freed <- struct{}{}:
	default:
	}
	return nil
}

// Stats returns the pool bookkeeping.
func (d *SimDriver) Stats() SimStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	st := d.stats
	for _, s := range d.slots {
		if s.inUse {
			st.InUse++
		}
	}
	return st
}

// Close shuts the driver down.
func (d *SimDriver) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.closed = true
	return nil
}

func (d *SimDriver) render(seq uint64) ([]byte, error) {
	w, h := d.width, d.height
	switch d.format {
	case RGB565:
		out := make([]byte, w*h*2)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				v := PackRGB565(d.pattern(seq, x, y, w, h))
				i := (y*w + x) * 2
				out[i] = byte(v >> 8)
				out[i+1] = byte(v)
			}
		}
		return out, nil
	case Grayscale8:
		out := make([]byte, w*h)
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := d.pattern(seq, x, y, w, h)
				out[y*w+x] = color.GrayModel.Convert(c).(color.Gray).Y
			}
		}
		return out, nil
	case JPEG:
		img := image.NewRGBA(image.Rect(0, 0, w, h))
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				img.SetRGBA(x, y, d.pattern(seq, x, y, w, h))
			}
		}
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: d.quality}); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	}
	return nil, fmt.Errorf("%w: %s", ErrInvalidConfig, d.format)
}

// PackRGB565 packs an 8-bit colour into a 5-6-5 word.
func PackRGB565(c color.RGBA) uint16 {
	return uint16(c.R>>3)<<11 | uint16(c.G>>2)<<5 | uint16(c.B>>3)
}

// jpegQuality maps the sensor's 1 (best) .. 63 (worst) scale onto the
// encoder's 1..100 scale.
func jpegQuality(sensor int) int {
	if sensor < 1 {
		sensor = 1
	}
	if sensor > 63 {
		sensor = 63
	}
	return 100 - (sensor-1)*99/62
}

var _ Driver = (*SimDriver)(nil)
