package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idmcam/internal/config"
	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/link"
	"github.com/teslashibe/go-idmcam/pkg/link/ble"
	"github.com/teslashibe/go-idmcam/pkg/stream"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
	"github.com/teslashibe/go-idmcam/pkg/web"
)

type streamOptions struct {
	name        string
	scanTimeout time.Duration
	width       int
	height      int
	format      string
	mode        uint8
	discard     int
	interval    time.Duration
	maxChunk    int
	maxRetries  int
	httpAddr    string
}

func streamCmd() *cobra.Command {
	opts := &streamOptions{}
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Stream camera frames to the LED panel",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runStream(cmd.Context(), opts)
		},
	}

	f := cmd.Flags()
	f.StringVar(&opts.name, "name", config.DeviceName(), "Advertised name substring of the panel")
	f.DurationVar(&opts.scanTimeout, "scan-timeout", link.DefaultScanTimeout, "How long to scan for the panel")
	f.IntVar(&opts.width, "width", 32, "Panel width in pixels")
	f.IntVar(&opts.height, "height", 32, "Panel height in pixels")
	f.StringVar(&opts.format, "format", string(transcode.PNG), "Uploaded image format: png, jpeg")
	f.Uint8Var(&opts.mode, "mode", 1, "Display mode sent before streaming")
	f.IntVar(&opts.discard, "discard", frame.DefaultDiscard, "Stale frames dropped before each capture")
	f.DurationVar(&opts.interval, "interval", 0, "Minimum pause between uploads")
	f.IntVar(&opts.maxChunk, "max-chunk", link.DefaultMaxChunk, "Largest BLE write in bytes")
	f.IntVar(&opts.maxRetries, "max-retries", 0, "Reconnect attempts before giving up (0 = forever)")
	f.StringVar(&opts.httpAddr, "http", "", "Also serve stills and live preview on this address")
	return cmd
}

func runStream(ctx context.Context, opts *streamOptions) error {
	format, err := transcode.ParseFormat(opts.format)
	if err != nil {
		return err
	}

	cam, err := openLiveCamera(camera.DefaultConfig())
	if err != nil {
		return err
	}
	defer cam.Close()

	central, err := ble.Open(log.Component("ble"))
	if err != nil {
		return err
	}
	l, err := link.New(central,
		link.WithNameFilter(opts.name),
		link.WithScanTimeout(opts.scanTimeout),
		link.WithMaxChunk(opts.maxChunk),
		link.WithLogger(log.Component("link")),
	)
	if err != nil {
		return err
	}

	rc := stream.DefaultReconnectConfig()
	rc.MaxRetries = opts.maxRetries
	// The stream loop and the HTTP stills share one guarded camera.
	orch, err := stream.New(cam, l,
		stream.WithTargetSize(opts.width, opts.height),
		stream.WithFormat(format),
		stream.WithDisplayMode(opts.mode),
		stream.WithStaleDiscard(opts.discard),
		stream.WithFrameInterval(opts.interval),
		stream.WithReconnect(rc),
		stream.WithLogger(log.Component("stream")),
	)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	webErr := make(chan error, 1)
	if opts.httpAddr != "" {
		srv := web.NewServer(opts.httpAddr, cam,
			web.WithLogger(log.Component("web")),
			web.WithCameraManager(cam.manager),
		)
		srv.OnStatus = func() any { return orch.Stats() }
		orch.OnPayload = srv.SendPreview
		orch.OnProgress = func(p link.Progress) { srv.SendEvent("progress", p) }
		orch.OnState = func(s link.State) { srv.SendEvent("state", s.String()) }

		go func() {
			webErr <- srv.Run(ctx)
		}()
		fmt.Printf("🌐 Preview at http://%s/\n", opts.httpAddr)
	}

	fmt.Printf("📺 Streaming %s to %q (%dx%d %s)\n", root.source, opts.name, opts.width, opts.height, format)

	err = orch.Run(ctx)
	cancel()
	if opts.httpAddr != "" {
		if werr := <-webErr; werr != nil {
			log.Warn("web server stopped", "error", werr)
		}
	}

	st := orch.Stats()
	fmt.Printf("📊 Sent %d frames (%d bytes), %d send failures, %d reconnects (%d attempts)\n",
		st.FramesSent, st.BytesSent, st.SendFailures, st.Reconnects, st.ReconnectAttempts)

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
