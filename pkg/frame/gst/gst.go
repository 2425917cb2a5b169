//go:build gst

package gst

import (
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"time"

	"github.com/tinyzimmer/go-gst/gst"
	"github.com/tinyzimmer/go-gst/gst/app"

	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

// DefaultTimeout is how long Get waits for the next sample.
const DefaultTimeout = 2 * time.Second

var initOnce sync.Once

// Driver is a frame.Feed filled from an appsink.
type Driver struct {
	*frame.Feed

	pipeline *gst.Pipeline
	format   frame.PixelFormat
	stop     chan struct{}
	done     chan struct{}
	logger   *slog.Logger
}

// New builds and starts the pipeline for cfg.
func New(cfg camera.Config) (*Driver, error) {
	format, err := frame.ParsePixelFormat(cfg.PixelFormat)
	if err != nil {
		return nil, err
	}
	launch, err := Launch(cfg, runtime.GOOS)
	if err != nil {
		return nil, err
	}

	initOnce.Do(func() { gst.Init(nil) })

	pipeline, err := gst.NewPipelineFromString(launch)
	if err != nil {
		return nil, fmt.Errorf("gst: pipeline: %w", err)
	}
	elem, err := pipeline.GetElementByName(SinkName)
	if err != nil {
		return nil, fmt.Errorf("gst: appsink: %w", err)
	}
	sink := app.SinkFromElement(elem)

	d := &Driver{
		Feed:     frame.NewFeed(cfg.Width, cfg.Height, format, cfg.FrameBuffers, DefaultTimeout),
		pipeline: pipeline,
		format:   format,
		stop:     make(chan struct{}),
		done:     make(chan struct{}),
		logger:   slog.Default().With("component", "frame.gst"),
	}
	sink.SetCallbacks(&app.SinkCallbacks{
		NewSampleFunc: d.onSample,
	})
	d.Feed.OnClose(d.shutdown)

	if err := pipeline.SetState(gst.StatePlaying); err != nil {
		return nil, fmt.Errorf("gst: start: %w", err)
	}
	go d.watch()

	d.logger.Info("pipeline started", "launch", launch)
	return d, nil
}

// onSample copies the mapped buffer into the feed. GStreamer reuses the
// buffer after the callback returns.
func (d *Driver) onSample(sink *app.Sink) gst.FlowReturn {
	sample := sink.PullSample()
	if sample == nil {
		return gst.FlowOK
	}
	buffer := sample.GetBuffer()
	if buffer == nil {
		return gst.FlowOK
	}

	info := buffer.Map(gst.MapRead)
	data := info.Bytes()
	if len(data) == 0 {
		buffer.Unmap()
		return gst.FlowOK
	}
	owned := make([]byte, len(data))
	copy(owned, data)
	buffer.Unmap()

	if d.format == frame.RGB565 {
		SwapRGB16(owned)
	}
	d.Push(owned)
	return gst.FlowOK
}

// watch turns bus errors and end of stream into a failed feed.
func (d *Driver) watch() {
	defer close(d.done)
	bus := d.pipeline.GetPipelineBus()
	for {
		select {
		case <-d.stop:
			return
		default:
		}

		msg := bus.TimedPop(50 * time.Millisecond)
		if msg == nil {
			continue
		}
		switch msg.Type() {
		case gst.MessageEOS:
			d.Fail(fmt.Errorf("gst: end of stream"))
			return
		case gst.MessageError:
			gerr := msg.ParseError()
			d.logger.Error("pipeline error", "error", gerr.Error(), "debug", gerr.DebugString())
			d.Fail(fmt.Errorf("gst: %s", gerr.Error()))
			return
		}
	}
}

func (d *Driver) shutdown() error {
	close(d.stop)
	<-d.done
	return d.pipeline.SetState(gst.StateNull)
}

func init() {
	frame.Register("gst", func(cfg camera.Config) (frame.Driver, error) {
		return New(cfg)
	})
}
