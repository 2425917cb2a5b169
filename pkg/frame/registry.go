package frame

import (
	"fmt"
	"sort"
	"sync"

	"github.com/teslashibe/go-idmcam/pkg/camera"
)

// DriverFactory starts a driver for the given camera configuration.
type DriverFactory func(cfg camera.Config) (Driver, error)

var (
	registryMu sync.Mutex
	factories  = map[string]DriverFactory{}
	active     = map[string]bool{}
)

// Register makes a driver available by name. Drivers that need cgo (the
// webcam) register themselves from build-tagged packages.
func Register(name string, f DriverFactory) {
	registryMu.Lock()
	defer registryMu.Unlock()
	factories[name] = f
}

// Drivers returns the registered driver names, sorted.
func Drivers() []string {
	registryMu.Lock()
	defer registryMu.Unlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// OpenDriver starts the named driver. A driver can only be open once at a
// time; a second open fails with ErrAlreadyInitialized until the first is
// closed.
func OpenDriver(name string, cfg camera.Config) (Driver, error) {
	registryMu.Lock()
	f, ok := factories[name]
	if !ok {
		registryMu.Unlock()
		return nil, fmt.Errorf("%w: %q (have %v)", ErrUnknownDriver, name, Drivers())
	}
	if active[name] {
		registryMu.Unlock()
		return nil, ErrAlreadyInitialized
	}
	active[name] = true
	registryMu.Unlock()

	d, err := f(cfg)
	if err != nil {
		registryMu.Lock()
		delete(active, name)
		registryMu.Unlock()
		return nil, err
	}
	return &registeredDriver{Driver: d, name: name}, nil
}

// registeredDriver clears the active flag when closed.
type registeredDriver struct {
	Driver
	name string
	once sync.Once
}

func (r *registeredDriver) Close() error {
	var err error
	r.once.Do(func() {
		err = r.Driver.Close()
		registryMu.Lock()
		delete(active, r.name)
		registryMu.Unlock()
	})
	return err
}

func init() {
	Register("test", func(cfg camera.Config) (Driver, error) {
		return NewSimDriver(cfg, ColorBars())
	})
}
