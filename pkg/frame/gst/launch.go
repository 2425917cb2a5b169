// Package gst is a frame driver built on a GStreamer pipeline ending in an
// appsink. The driver itself needs cgo and GStreamer and is only built
// with -tags gst; the pipeline description is always available.
package gst

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// SinkName is the appsink element name in every launch line.
const SinkName = "sink"

// Launch builds the gst-launch style pipeline for cfg on the given OS.
func Launch(cfg camera.Config, goos string) (string, error) {
	format, err := frame.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return "", err
	}

	var src string
	switch {
	case cfg.Input == "":
		switch goos {
		case "linux":
			src = "v4l2src device=/dev/video" + strconv.Itoa(cfg.Device)
		case "darwin":
			src = "avfvideosrc device-index=" + strconv.Itoa(cfg.Device)
		default:
			return "", fmt.Errorf("%w: no default capture device on %s, set an input", frame.ErrInvalidConfig, goos)
		}
	case strings.Contains(cfg.Input, "://"):
		src = "uridecodebin uri=" + cfg.Input
	default:
		src = "filesrc location=" + strconv.Quote(cfg.Input) + " ! decodebin"
	}

	stages := []string{src, "videoconvert", "videoscale"}
	if cfg.HMirror {
		stages = append(stages, "videoflip method=horizontal-flip")
	}
	if cfg.VFlip {
		stages = append(stages, "videoflip method=vertical-flip")
	}

	size := fmt.Sprintf("width=%d,height=%d", cfg.Width, cfg.Height)
	switch format {
	case frame.RGB565:
		stages = append(stages, "video/x-raw,format=RGB16,"+size)
	case frame.Grayscale8:
		stages = append(stages, "video/x-raw,format=GRAY8,"+size)
	case frame.JPEG:
		stages = append(stages, "video/x-raw,"+size, "jpegenc quality="+strconv.Itoa(quality(cfg.JPEGQuality)))
	}

	stages = append(stages, "appsink name="+SinkName+" sync=false max-buffers=1 drop=true")
	return strings.Join(stages, " ! "), nil
}

// quality maps the sensor's 1 (best) .. 63 (worst) scale onto jpegenc's
// 0..100.
func quality(sensor int) int {
	sensor = min(max(sensor, camera.SensorMinQuality), camera.SensorMaxQuality)
	return 100 - (sensor-1)*99/62
}

// SwapRGB16 converts native little-endian RGB16 samples to the
// big-endian RGB565 the frame package uses, in place.
func SwapRGB16(p []byte) {
	for i := 0; i+1 < len(p); i += 2 {
		p[i], p[i+1] = p[i+1], p[i]
	}
}
