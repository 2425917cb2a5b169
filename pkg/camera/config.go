// Package camera provides runtime-configurable capture settings.
// The settings mirror what a camera driver is initialized with: pixel
// format, frame size, frame-buffer pool depth and sensor controls.
package camera

import "fmt"

// Pixel format names accepted in Config.PixelFormat.
const (
	FormatRGB565    = "rgb565"
	FormatGrayscale = "grayscale"
	FormatJPEG      = "jpeg"
)

// Grab modes accepted in Config.GrabMode.
const (
	// GrabWhenEmpty fills buffers only when the pool has a free slot.
	// Frames can be stale by the time they are read.
	GrabWhenEmpty = "when_empty"

	// GrabLatest keeps overwriting the newest buffer.
	GrabLatest = "latest"
)

// Config holds all camera configuration parameters.
// These can be modified via the camera API at runtime.
type Config struct {
	// === Capture ===
	PixelFormat string `json:"pixel_format"` // rgb565, grayscale, jpeg
	Width       int    `json:"width"`        // Frame width in pixels
	Height      int    `json:"height"`       // Frame height in pixels
	JPEGQuality int    `json:"jpeg_quality"` // 1-63, lower is better (sensor scale)

	// FrameBuffers is the driver pool depth. As low as 1.
	FrameBuffers int `json:"frame_buffers"`

	// GrabMode controls how the driver refills its pool.
	GrabMode string `json:"grab_mode"`

	// XCLKHz is the sensor clock.
	XCLKHz int `json:"xclk_hz"`

	// Device selects a capture device for host drivers (e.g. webcam index).
	Device int `json:"device"`

	// Input is a media URL or path for pipeline drivers (ffmpeg, gst).
	// Empty means the local capture device selected by Device.
	Input string `json:"input,omitempty"`

	// === Sensor controls (-2 to +2) ===
	Brightness int `json:"brightness"`
	Contrast   int `json:"contrast"`
	Saturation int `json:"saturation"`

	HMirror bool `json:"hmirror"`
	VFlip   bool `json:"vflip"`
}

// Sensor limits for the OV2640 class of modules.
const (
	SensorMaxWidth   = 1600
	SensorMaxHeight  = 1200
	SensorMaxBuffers = 4
	SensorMinQuality = 1
	SensorMaxQuality = 63
)

// DefaultConfig returns the streaming profile: a small square RGB565
// frame with a single buffer, which is what the LED matrix pipeline needs.
func DefaultConfig() Config {
	return Config{
		PixelFormat:  FormatRGB565,
		Width:        240,
		Height:       240,
		JPEGQuality:  12,
		FrameBuffers: 1,
		GrabMode:     GrabWhenEmpty,
		XCLKHz:       20_000_000,
	}
}

// StillConfig returns the full-resolution JPEG profile used for stills.
func StillConfig() Config {
	cfg := DefaultConfig()
	cfg.PixelFormat = FormatJPEG
	cfg.Width = 1600
	cfg.Height = 1200
	return cfg
}

// Validate checks if the config values are within valid ranges.
// Returns a list of validation errors, or nil if valid.
func (c *Config) Validate() []string {
	var errors []string

	switch c.PixelFormat {
	case FormatRGB565, FormatGrayscale, FormatJPEG:
	default:
		errors = append(errors, "pixel_format must be rgb565, grayscale, or jpeg")
	}

	if c.Width < 16 || c.Width > SensorMaxWidth {
		errors = append(errors, fmt.Sprintf("width must be between 16 and %d", SensorMaxWidth))
	}
	if c.Height < 16 || c.Height > SensorMaxHeight {
		errors = append(errors, fmt.Sprintf("height must be between 16 and %d", SensorMaxHeight))
	}
	if c.JPEGQuality < SensorMinQuality || c.JPEGQuality > SensorMaxQuality {
		errors = append(errors, "jpeg_quality must be between 1 and 63")
	}
	if c.FrameBuffers < 1 || c.FrameBuffers > SensorMaxBuffers {
		errors = append(errors, fmt.Sprintf("frame_buffers must be between 1 and %d", SensorMaxBuffers))
	}

	if c.GrabMode != "" && c.GrabMode != GrabWhenEmpty && c.GrabMode != GrabLatest {
		errors = append(errors, "grab_mode must be when_empty or latest")
	}

	for name, v := range map[string]int{
		"brightness": c.Brightness,
		"contrast":   c.Contrast,
		"saturation": c.Saturation,
	} {
		if v < -2 || v > 2 {
			errors = append(errors, name+" must be between -2 and 2")
		}
	}

	if c.Device < 0 {
		errors = append(errors, "device must not be negative")
	}

	return errors
}

// Capabilities returns the camera sensor capabilities.
func Capabilities() map[string]interface{} {
	return map[string]interface{}{
		"sensor":        "ov2640",
		"max_width":     SensorMaxWidth,
		"max_height":    SensorMaxHeight,
		"max_buffers":   SensorMaxBuffers,
		"pixel_formats": []string{FormatRGB565, FormatGrayscale, FormatJPEG},
		"grab_modes":    []string{GrabWhenEmpty, GrabLatest},
	}
}
