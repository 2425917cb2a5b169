package camera

// Preset names for common configurations
const (
	PresetStream = "stream"
	PresetStill  = "still"
	PresetVGA    = "vga"
	PresetQVGA   = "qvga"
	PresetMono   = "mono"
)

// Presets returns all available preset configurations.
func Presets() map[string]Config {
	return map[string]Config{
		PresetStream: DefaultConfig(),
		PresetStill:  StillConfig(),
		PresetVGA:    VGAConfig(),
		PresetQVGA:   QVGAConfig(),
		PresetMono:   MonoConfig(),
	}
}

// PresetNames returns the list of available preset names.
func PresetNames() []string {
	return []string{
		PresetStream,
		PresetStill,
		PresetVGA,
		PresetQVGA,
		PresetMono,
	}
}

// GetPreset returns a preset config by name, or nil if not found.
func GetPreset(name string) *Config {
	if cfg, ok := Presets()[name]; ok {
		return &cfg
	}
	return nil
}

// VGAConfig returns a 640x480 JPEG configuration with two buffers.
func VGAConfig() Config {
	cfg := StillConfig()
	cfg.Width = 640
	cfg.Height = 480
	cfg.FrameBuffers = 2
	return cfg
}

// QVGAConfig returns a 320x240 RGB565 configuration.
// Cheaper to decode than the square stream profile on wide sensors.
func QVGAConfig() Config {
	cfg := DefaultConfig()
	cfg.Width = 320
	cfg.Height = 240
	return cfg
}

// MonoConfig returns the stream profile in 8-bit grayscale.
func MonoConfig() Config {
	cfg := DefaultConfig()
	cfg.PixelFormat = FormatGrayscale
	return cfg
}
