package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idmcam/internal/config"
	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/web"
)

func serveCmd() *cobra.Command {
	var addr, preset string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve camera stills over HTTP",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := camera.StillConfig()
			if preset != "" {
				p := camera.GetPreset(preset)
				if p == nil {
					return fmt.Errorf("unknown preset %q (have %v)", preset, camera.PresetNames())
				}
				cfg = *p
			}
			return runServe(cmd.Context(), addr, cfg)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", config.HTTPAddr(), "Listen address")
	cmd.Flags().StringVar(&preset, "preset", "", "Camera preset instead of the full-resolution JPEG profile")
	return cmd
}

func runServe(ctx context.Context, addr string, cfg camera.Config) error {
	cam, err := openLiveCamera(cfg)
	if err != nil {
		return err
	}
	defer cam.Close()

	srv := web.NewServer(addr, cam,
		web.WithLogger(log.Component("web")),
		web.WithCameraManager(cam.manager),
	)
	srv.OnStatus = func() any { return cam.Stats() }

	fmt.Printf("📷 Serving stills at http://%s/camera.jpg\n", addr)
	if err := srv.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
