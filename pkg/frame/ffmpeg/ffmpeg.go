// Package ffmpeg is a frame driver that runs a persistent ffmpeg process
// and reads frames from its stdout. It needs no cgo, only an ffmpeg
// binary on PATH, and reads local capture devices, files or stream URLs.
package ffmpeg

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// Binary is the ffmpeg executable.
var Binary = "ffmpeg"

// DefaultTimeout is how long Get waits for the next frame.
const DefaultTimeout = 2 * time.Second

// maxJPEG bounds one encoded frame so a corrupt stream cannot grow the
// scan buffer without limit.
const maxJPEG = 8 << 20

var (
	soi = []byte{0xFF, 0xD8}
	eoi = []byte{0xFF, 0xD9}
)

// Driver is a frame.Feed filled by an ffmpeg subprocess.
type Driver struct {
	*frame.Feed

	cancel context.CancelFunc
	done   chan struct{}
	logger *slog.Logger
}

// New starts ffmpeg for cfg.
func New(cfg camera.Config) (*Driver, error) {
	format, err := frame.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	args, err := Args(cfg, runtime.GOOS)
	if err != nil {
		return nil, err
	}
	path, err := exec.LookPath(Binary)
	if err != nil {
		return nil, fmt.Errorf("ffmpeg: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	cmd := exec.CommandContext(ctx, path, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: stdout pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		cancel()
		return nil, fmt.Errorf("ffmpeg: start: %w", err)
	}

	d := start(cfg, format, stdout, cancel)
	d.logger.Info("ffmpeg started", "args", strings.Join(args, " "))
	go func() {
		<-d.done
		if err := cmd.Wait(); err != nil && ctx.Err() == nil {
			d.logger.Error("ffmpeg exited", "error", err, "stderr", strings.TrimSpace(stderr.String()))
		}
	}()
	return d, nil
}

// start wires a frame stream into a new Feed. cancel stops the producer.
func start(cfg camera.Config, format frame.PixelFormat, r io.Reader, cancel context.CancelFunc) *Driver {
	d := &Driver{
		Feed:   frame.NewFeed(cfg.Width, cfg.Height, format, cfg.FrameBuffers, DefaultTimeout),
		cancel: cancel,
		done:   make(chan struct{}),
		logger: slog.Default().With("component", "frame.ffmpeg"),
	}
	d.Feed.OnClose(func() error {
		d.cancel()
		<-d.done
		return nil
	})

	go func() {
		defer close(d.done)
		var err error
		if format == frame.JPEG {
			err = SplitJPEG(r, d.Push)
		} else {
			err = ReadRaw(r, cfg.Width*cfg.Height*format.BytesPerPixel(), d.Push)
		}
		if err == nil {
			err = io.EOF
		}
		d.Fail(fmt.Errorf("ffmpeg: stream ended: %w", err))
	}()
	return d
}

// Args builds the ffmpeg command line for cfg on the given OS.
func Args(cfg camera.Config, goos string) ([]string, error) {
	format, err := frame.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}

	args := []string{"-hide_banner", "-loglevel", "error", "-nostdin"}

	switch {
	case cfg.Input == "":
		switch goos {
		case "linux":
			args = append(args, "-f", "v4l2", "-i", "/dev/video"+strconv.Itoa(cfg.Device))
		case "darwin":
			args = append(args, "-f", "avfoundation", "-framerate", "30", "-i", strconv.Itoa(cfg.Device))
		default:
			return nil, fmt.Errorf("%w: no default capture device on %s, set an input", frame.ErrInvalidConfig, goos)
		}
	case strings.Contains(cfg.Input, "://"):
		args = append(args, "-i", cfg.Input)
	default:
		// Files play at native rate and loop.
		args = append(args, "-re", "-stream_loop", "-1", "-i", cfg.Input)
	}

	args = append(args, "-an", "-vf", filters(cfg))

	switch format {
	case frame.RGB565:
		args = append(args, "-f", "rawvideo", "-pix_fmt", "rgb565be")
	case frame.Grayscale8:
		args = append(args, "-f", "rawvideo", "-pix_fmt", "gray")
	case frame.JPEG:
		args = append(args, "-f", "image2pipe", "-vcodec", "mjpeg", "-q:v", strconv.Itoa(qscale(cfg.JPEGQuality)))
	}
	return append(args, "pipe:1"), nil
}

// filters maps the sensor controls onto an ffmpeg filter chain.
func filters(cfg camera.Config) string {
	chain := []string{fmt.Sprintf("scale=%d:%d", cfg.Width, cfg.Height)}
	if cfg.HMirror {
		chain = append(chain, "hflip")
	}
	if cfg.VFlip {
		chain = append(chain, "vflip")
	}
	if cfg.Brightness != 0 || cfg.Contrast != 0 || cfg.Saturation != 0 {
		chain = append(chain, fmt.Sprintf("eq=brightness=%.2f:contrast=%.2f:saturation=%.2f",
			0.1*float64(cfg.Brightness),
			1+0.25*float64(cfg.Contrast),
			1+0.5*float64(cfg.Saturation),
		))
	}
	return strings.Join(chain, ",")
}

// qscale maps the sensor's 1 (best) .. 63 (worst) JPEG scale onto
// ffmpeg's 2..31.
func qscale(sensor int) int {
	sensor = min(max(sensor, camera.SensorMinQuality), camera.SensorMaxQuality)
	return 2 + (sensor-1)*29/62
}

// ReadRaw reads fixed-size frames from r until it fails. A clean end of
// stream returns nil.
func ReadRaw(r io.Reader, size int, push func([]byte)) error {
	if size <= 0 {
		return fmt.Errorf("%w: frame size %d", frame.ErrInvalidConfig, size)
	}
	br := bufio.NewReaderSize(r, size)
	for {
		buf := make([]byte, size)
		if _, err := io.ReadFull(br, buf); err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		push(buf)
	}
}

// SplitJPEG cuts a concatenated JPEG stream at its start and end
// markers and pushes every complete image. Bytes outside an image are
// skipped.
func SplitJPEG(r io.Reader, push func([]byte)) error {
	br := bufio.NewReaderSize(r, 64<<10)
	var cur []byte
	inImage := false

	for {
		b, err := br.ReadByte()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}

		if !inImage {
			if b != soi[0] {
				continue
			}
			next, err := br.Peek(1)
			if err != nil || next[0] != soi[1] {
				continue
			}
			br.ReadByte()
			cur = append(cur[:0:0], soi...)
			inImage = true
			continue
		}

		cur = append(cur, b)
		if len(cur) > maxJPEG {
			inImage = false
			cur = nil
			continue
		}
		if bytes.HasSuffix(cur, eoi) {
			push(cur)
			cur = nil
			inImage = false
		}
	}
}

func init() {
	frame.Register("ffmpeg", func(cfg camera.Config) (frame.Driver, error) {
		return New(cfg)
	})
}
