package main

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// reopenTimeout bounds waiting for a live frame before a reconfigure.
const reopenTimeout = 5 * time.Second

// liveCamera is the open camera behind a guard. Runtime config changes
// from the camera Manager close the driver and reopen it.
type liveCamera struct {
	*frame.Guarded
	manager *camera.Manager

	mu  sync.Mutex
	cam *frame.Camera
	cfg camera.Config
}

// openCamera starts the selected driver with cfg.
func openCamera(cfg camera.Config) (*frame.Camera, error) {
	return frame.Open(root.source, cfg, frame.WithLogger(log.Component("camera")))
}

// openLiveCamera applies the device flags to cfg and opens the camera.
func openLiveCamera(cfg camera.Config) (*liveCamera, error) {
	cfg.Device = root.device
	cfg.Input = root.input
	cam, err := openCamera(cfg)
	if err != nil {
		return nil, err
	}
	lc := &liveCamera{
		Guarded: frame.NewGuarded(cam),
		manager: camera.NewManager(cfg),
		cam:     cam,
		cfg:     cfg,
	}
	lc.manager.OnConfigChange = lc.reopen
	return lc, nil
}

func (lc *liveCamera) reopen(cfg camera.Config) error {
	ctx, cancel := context.WithTimeout(context.Background(), reopenTimeout)
	defer cancel()

	return lc.Replace(ctx, func(frame.Source) (frame.Source, error) {
		lc.mu.Lock()
		defer lc.mu.Unlock()

		// Drivers open once at a time, so the old one goes first.
		lc.cam.Close()
		cam, err := openCamera(cfg)
		if err != nil {
			restored, rerr := openCamera(lc.cfg)
			if rerr != nil {
				return nil, fmt.Errorf("%w (restore failed: %v)", err, rerr)
			}
			lc.cam = restored
			return restored, err
		}
		lc.cam, lc.cfg = cam, cfg
		log.Info("camera reconfigured", "format", cfg.PixelFormat, "width", cfg.Width, "height", cfg.Height)
		return cam, nil
	})
}

// Stats reports the current driver's pool traffic.
func (lc *liveCamera) Stats() frame.Stats {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.cam.Stats()
}

// Close closes the current driver.
func (lc *liveCamera) Close() error {
	lc.mu.Lock()
	defer lc.mu.Unlock()
	return lc.cam.Close()
}
