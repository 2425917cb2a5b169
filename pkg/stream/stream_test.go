package stream

import (
	"bytes"
	"context"
	"errors"
	"image/color"
	"image/png"
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/idm"
	"github.com/teslashibe/go-idmcam/pkg/link"
)

var discard = slog.New(slog.NewTextHandler(io.Discard, nil))

type harness struct {
	driver  *frame.SimDriver
	camera  *frame.Camera
	central *link.MockCentral
	link    *link.Link
}

func newHarness(t *testing.T, format string, pattern frame.Pattern, linkOpts ...link.Option) *harness {
	t.Helper()
	cfg := camera.DefaultConfig()
	cfg.PixelFormat = format
	d, err := frame.NewSimDriver(cfg, pattern)
	if err != nil {
		t.Fatalf("NewSimDriver failed: %v", err)
	}
	d.SetTimeout(20 * time.Millisecond)

	c := link.NewMockCentral()
	opts := append([]link.Option{link.WithLogger(discard), link.WithScanTimeout(100 * time.Millisecond)}, linkOpts...)
	l, err := link.New(c, opts...)
	if err != nil {
		t.Fatalf("link.New failed: %v", err)
	}
	return &harness{
		driver:  d,
		camera:  frame.NewCamera(d, frame.WithLogger(discard)),
		central: c,
		link:    l,
	}
}

func (h *harness) orchestrator(t *testing.T, opts ...Option) *Orchestrator {
	t.Helper()
	o, err := New(h.camera, h.link, append([]Option{
		WithLogger(discard),
		WithReconnect(ReconnectConfig{RetryDelay: 5 * time.Millisecond, MaxRetryDelay: 20 * time.Millisecond}),
	}, opts...)...)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return o
}

// cancelAfter cancels once n payloads have been produced.
func cancelAfter(o *Orchestrator, n int, cancel context.CancelFunc) *[][]byte {
	var mu sync.Mutex
	var payloads [][]byte
	o.OnPayload = func(img []byte) {
		mu.Lock()
		defer mu.Unlock()
		payloads = append(payloads, img)
		if len(payloads) == n {
			cancel()
		}
	}
	return &payloads
}

func run(t *testing.T, o *Orchestrator, ctx context.Context) error {
	t.Helper()
	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()
	select {
	case err := <-done:
		return err
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

// uploads splits the characteristic's writes into the mode commands and
// the upload payloads that followed them.
func uploads(t *testing.T, writes [][]byte) (modes int, images [][]byte) {
	t.Helper()
	modeBytes, _ := idm.ImageMode(1).Bytes()
	var cur []byte
	flush := func() {
		if len(cur) == 0 {
			return
		}
		cmd, err := idm.Decode(cur)
		if err != nil {
			t.Fatalf("Decode failed: %v", err)
		}
		images = append(images, cmd.Payload)
		cur = nil
	}
	for _, w := range writes {
		if bytes.Equal(w, modeBytes) {
			flush()
			modes++
			continue
		}
		// A chunk starting a new upload header ends the previous one.
		if len(cur) > 0 && len(w) >= idm.HeaderSize && w[2] == 0x02 && w[4] == 0x00 {
			if _, err := idm.Decode(cur); err == nil {
				flush()
			}
		}
		cur = append(cur, w...)
	}
	flush()
	return modes, images
}

func pixel(t *testing.T, img []byte, x, y int) color.NRGBA {
	t.Helper()
	decoded, err := png.Decode(bytes.NewReader(img))
	if err != nil {
		t.Fatalf("png.Decode failed: %v", err)
	}
	if decoded.Bounds().Dx() != 32 || decoded.Bounds().Dy() != 32 {
		t.Fatalf("Expected 32x32 image, got %v", decoded.Bounds())
	}
	return color.NRGBAModel.Convert(decoded.At(x, y)).(color.NRGBA)
}

func near(a, b uint8) bool {
	d := int(a) - int(b)
	return d >= -2 && d <= 2
}

func TestRunEndToEnd(t *testing.T) {
	want := color.RGBA{255, 0, 0, 255}
	h := newHarness(t, camera.FormatRGB565, frame.Solid(want))
	o := h.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	payloads := cancelAfter(o, 1, cancel)

	if err := run(t, o, ctx); !errors.Is(err, context.Canceled) {
		t.Fatalf("Expected context.Canceled, got %v", err)
	}

	writes := h.central.Peripheral.Char.Writes()
	modeBytes, _ := idm.ImageMode(1).Bytes()
	if len(writes) == 0 || !bytes.Equal(writes[0], modeBytes) {
		t.Fatal("Expected ImageMode to be the first write")
	}

	if len(*payloads) != 1 {
		t.Fatalf("Expected 1 payload, got %d", len(*payloads))
	}
	img := (*payloads)[0]
	for _, pt := range [][2]int{{0, 0}, {16, 16}, {31, 31}} {
		c := pixel(t, img, pt[0], pt[1])
		if !near(c.R, want.R) || !near(c.G, want.G) || !near(c.B, want.B) {
			t.Errorf("Expected %v at %v, got %v", want, pt, c)
		}
	}

	cmd, _ := idm.UploadImage(img)
	data, _ := cmd.Bytes()
	chunks := writes[1:]
	wantChunks := (len(data) + 511) / 512
	if len(chunks) != wantChunks {
		t.Errorf("Expected %d chunks, got %d", wantChunks, len(chunks))
	}
	var sent []byte
	for _, c := range chunks {
		sent = append(sent, c...)
	}
	if !bytes.Equal(sent, data) {
		t.Error("Expected chunks to carry the UploadImage command in order")
	}
	if got := int(uint32(data[5]) | uint32(data[6])<<8 | uint32(data[7])<<16 | uint32(data[8])<<24); got != len(img) {
		t.Errorf("Expected length header %d, got %d", len(img), got)
	}

	st := o.Stats()
	if st.FramesSent != 1 || st.SendFailures != 0 {
		t.Errorf("Unexpected stats %+v", st)
	}
	if st.Progress.Sent != len(data) || !st.Progress.Done() {
		t.Errorf("Expected final progress %d, got %+v", len(data), st.Progress)
	}
	if h.central.Peripheral.CallCount("Disconnect") != 1 {
		t.Error("Expected session to be closed on exit")
	}
	if h.camera.Stats().Live != 0 {
		t.Error("Expected every frame to be released")
	}
}

func TestStaleFrameDiscarded(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Sequence(
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
	))
	o := h.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	payloads := cancelAfter(o, 1, cancel)
	run(t, o, ctx)

	c := pixel(t, (*payloads)[0], 8, 8)
	if c.G < 250 || c.R > 5 {
		t.Errorf("Expected the second capture (green), got %v", c)
	}
	if st := h.driver.Stats(); st.Gets != 2 || st.Returns != 2 {
		t.Errorf("Expected two captures both returned, got %+v", st)
	}
}

func TestStaleDiscardConfigurable(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Sequence(
		color.RGBA{255, 0, 0, 255},
		color.RGBA{0, 255, 0, 255},
		color.RGBA{0, 0, 255, 255},
	))
	o := h.orchestrator(t, WithStaleDiscard(2))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	payloads := cancelAfter(o, 1, cancel)
	run(t, o, ctx)

	c := pixel(t, (*payloads)[0], 8, 8)
	if c.B < 250 || c.G > 5 {
		t.Errorf("Expected the third capture (blue), got %v", c)
	}
}

func TestInitialConnectFailureIsFatal(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{A: 255}), link.WithScanTimeout(20*time.Millisecond))
	h.central.Advertisements = []link.Advertisement{{Address: "x", Name: "Headphones"}}
	o := h.orchestrator(t)

	err := run(t, o, context.Background())
	if !IsFatal(err) {
		t.Fatalf("Expected fatal error, got %v", err)
	}
	if !errors.Is(err, link.ErrScanTimeout) {
		t.Errorf("Expected wrapped ErrScanTimeout, got %v", err)
	}
	if h.driver.Stats().Gets != 0 {
		t.Error("Expected no capture without a session")
	}
}

func TestSendFailureDoesNotStopStream(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{0, 0, 255, 255}))
	// write 0 is ImageMode, write 1 is the first upload chunk
	h.central.Peripheral.Char.WriteFunc = link.FailAt(1, errors.New("att: unlikely error"))
	o := h.orchestrator(t)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelAfter(o, 2, cancel)
	run(t, o, ctx)

	st := o.Stats()
	if st.SendFailures != 1 || st.FramesSent != 1 {
		t.Errorf("Expected 1 failure then 1 success, got %+v", st)
	}
	if !strings.Contains(st.LastError, "unlikely error") {
		t.Errorf("Expected last error recorded, got %q", st.LastError)
	}
	if h.central.CallCount("Connect") != 1 {
		t.Error("Expected no reconnect for a non-disconnect failure")
	}
}

func TestReconnectAfterDisconnect(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{0, 255, 0, 255}))
	p := h.central.Peripheral
	p.Char.WriteFunc = func(_ context.Context, index int, _ []byte) error {
		if index == 1 {
			p.Drop()
			return link.ErrDisconnected
		}
		return nil
	}
	o := h.orchestrator(t)

	var mu sync.Mutex
	var states []link.State
	o.OnState = func(s link.State) {
		mu.Lock()
		states = append(states, s)
		mu.Unlock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelAfter(o, 2, cancel)
	run(t, o, ctx)

	if n := h.central.CallCount("Connect"); n != 2 {
		t.Errorf("Expected 2 connects, got %d", n)
	}
	modes, images := uploads(t, p.Char.Writes())
	if modes != 2 {
		t.Errorf("Expected ImageMode resent after reconnect, got %d", modes)
	}
	if len(images) != 1 {
		t.Errorf("Expected 1 complete upload, got %d", len(images))
	}

	st := o.Stats()
	if st.Reconnects != 1 || st.ReconnectAttempts != 1 || st.FramesSent != 1 || st.SendFailures != 1 {
		t.Errorf("Unexpected stats %+v", st)
	}

	mu.Lock()
	defer mu.Unlock()
	sawDisconnect := false
	for _, s := range states {
		if s == link.StateDisconnected {
			sawDisconnect = true
		}
	}
	if !sawDisconnect {
		t.Errorf("Expected a disconnected transition, got %v", states)
	}
}

func TestReconnectGivesUp(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{A: 255}), link.WithScanTimeout(10*time.Millisecond))
	p := h.central.Peripheral
	p.Char.WriteFunc = func(_ context.Context, index int, _ []byte) error {
		if index == 1 {
			h.central.Advertisements = nil
			p.Drop()
			return link.ErrDisconnected
		}
		return nil
	}
	o := h.orchestrator(t, WithReconnect(ReconnectConfig{MaxRetries: 2, RetryDelay: time.Millisecond, MaxRetryDelay: time.Millisecond}))

	err := run(t, o, context.Background())
	if !IsFatal(err) || !errors.Is(err, ErrMaxRetries) {
		t.Fatalf("Expected fatal ErrMaxRetries, got %v", err)
	}
	// Failed attempts are not reconnects.
	if st := o.Stats(); st.Reconnects != 0 || st.ReconnectAttempts != 3 {
		t.Errorf("Expected 0 reconnects in 3 attempts, got %d in %d", st.Reconnects, st.ReconnectAttempts)
	}
}

func TestNoFrameSkipsIteration(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{A: 255}))
	h.driver.SetWarmup(2)
	o := h.orchestrator(t, WithNoFrameBackoff(time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelAfter(o, 1, cancel)
	run(t, o, ctx)

	st := o.Stats()
	if st.NoFrame != 1 || st.FramesSent != 1 {
		t.Errorf("Expected one empty read then one frame, got %+v", st)
	}
}

func TestUnsupportedFormatSkipped(t *testing.T) {
	h := newHarness(t, camera.FormatJPEG, frame.ColorBars())
	o := h.orchestrator(t)

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	err := run(t, o, ctx)
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("Expected stream to keep running until deadline, got %v", err)
	}

	st := o.Stats()
	if st.FrameErrors == 0 || st.FramesSent != 0 {
		t.Errorf("Expected frame errors and no uploads, got %+v", st)
	}
	if !strings.Contains(st.LastError, "unsupported pixel format") {
		t.Errorf("Expected unsupported format error, got %q", st.LastError)
	}
	if h.camera.Stats().Live != 0 {
		t.Error("Expected undecodable frames to be released")
	}
}

func TestGuardedSourceSharedWithStills(t *testing.T) {
	h := newHarness(t, camera.FormatRGB565, frame.Solid(color.RGBA{255, 255, 255, 255}))
	guarded := frame.NewGuarded(h.camera)
	o, err := New(guarded, h.link, WithLogger(discard))
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cancelAfter(o, 3, cancel)

	done := make(chan error, 1)
	go func() { done <- o.Run(ctx) }()

	for i := 0; i < 3; i++ {
		f, err := guarded.Acquire(context.Background())
		if err != nil {
			t.Fatalf("Still acquire failed: %v", err)
		}
		f.Release()
	}

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return")
	}
	if st := h.driver.Stats(); st.DoubleReturns != 0 || st.InUse != 0 {
		t.Errorf("Unexpected pool state %+v", st)
	}
}

func TestConfigValidate(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Expected defaults to be valid, got %v", err)
	}
	if cfg.Width != 32 || cfg.Height != 32 || cfg.DisplayMode != 1 || cfg.StaleDiscard != 1 {
		t.Errorf("Unexpected defaults %+v", cfg)
	}

	cfg.Apply(WithTargetSize(0, 32), WithStaleDiscard(-1))
	if err := cfg.Validate(); err == nil {
		t.Error("Expected validation error")
	}
}

func TestCalculateBackoff(t *testing.T) {
	cfg := ReconnectConfig{RetryDelay: time.Second, MaxRetryDelay: 30 * time.Second}
	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, time.Second},
		{2, 2 * time.Second},
		{3, 4 * time.Second},
		{5, 16 * time.Second},
		{6, 30 * time.Second},
		{100, 30 * time.Second},
	}
	for _, tt := range tests {
		if got := calculateBackoff(tt.attempt, cfg); got != tt.want {
			t.Errorf("calculateBackoff(%d) = %s, want %s", tt.attempt, got, tt.want)
		}
	}
}

func TestIsFatal(t *testing.T) {
	if IsFatal(errors.New("x")) {
		t.Error("Expected plain error to be recoverable")
	}
	if !IsFatal(&frame.HardwareInitError{Driver: "test", Err: frame.ErrOutOfMemory}) {
		t.Error("Expected hardware init failure to be fatal")
	}
	if !IsFatal(&FatalError{Op: "connect", Err: link.ErrScanTimeout}) {
		t.Error("Expected FatalError to be fatal")
	}
}
