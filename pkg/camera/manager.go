package camera

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/samber/lo"
)

// Manager holds the active camera configuration. Changes go through
// OnConfigChange, which reopens the driver, and are only kept once it
// succeeds.
type Manager struct {
	mu     sync.Mutex
	config Config

	// OnConfigChange applies a validated config to the running driver.
	OnConfigChange func(cfg Config) error
}

// NewManager creates a manager whose active config is cfg.
func NewManager(cfg Config) *Manager {
	return &Manager{config: cfg}
}

// GetConfig returns the active configuration.
func (m *Manager) GetConfig() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.config
}

// SetConfig validates cfg and applies it. The active config is left
// untouched when validation or the driver rejects it.
func (m *Manager) SetConfig(cfg Config) error {
	if problems := cfg.Validate(); len(problems) > 0 {
		return fmt.Errorf("camera: invalid config: %v", problems)
	}

	// Held across the callback so concurrent updates apply in order.
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.OnConfigChange != nil {
		if err := m.OnConfigChange(cfg); err != nil {
			return fmt.Errorf("camera: apply config: %w", err)
		}
	}
	m.config = cfg
	return nil
}

// UpdateConfig overlays params, keyed by the Config JSON names, onto the
// active configuration. A "preset" key selects the base first. Unknown
// keys and mistyped values are rejected.
func (m *Manager) UpdateConfig(params map[string]any) error {
	cfg := m.GetConfig()

	if name, ok := params["preset"].(string); ok {
		preset := GetPreset(name)
		if preset == nil {
			return fmt.Errorf("camera: unknown preset %q (have %v)", name, PresetNames())
		}
		cfg = *preset
		params = lo.OmitByKeys(params, []string{"preset"})
	}

	if len(params) > 0 {
		raw, err := json.Marshal(params)
		if err != nil {
			return fmt.Errorf("camera: %w", err)
		}
		dec := json.NewDecoder(bytes.NewReader(raw))
		dec.DisallowUnknownFields()
		if err := dec.Decode(&cfg); err != nil {
			return fmt.Errorf("camera: bad setting: %w", err)
		}
	}

	return m.SetConfig(cfg)
}

// GetConfigJSON returns the active config as a generic JSON object.
func (m *Manager) GetConfigJSON() map[string]any {
	cfg := m.GetConfig()
	data, _ := json.Marshal(cfg)
	var out map[string]any
	_ = json.Unmarshal(data, &out)
	return out
}
