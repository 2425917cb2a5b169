// idmcam - camera to iDotMatrix LED panel streamer
//
// Captures frames, shrinks them to the panel size and pushes them over BLE.
// Also serves stills over HTTP and answers a Telegram bot.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idmcam/internal/config"
	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	_ "github.com/teslashibe/go-idmcam/pkg/frame/ffmpeg"
)

type rootOptions struct {
	logLevel string
	source   string
	device   int
	input    string
}

var root = &rootOptions{}

var rootCmd = &cobra.Command{
	Use:   "idmcam",
	Short: "Stream a camera to an iDotMatrix LED panel",
	Long: `idmcam captures camera frames, resizes them to the panel resolution
and uploads them to an iDotMatrix display over Bluetooth LE.`,
	Example: `  # Stream the built-in test pattern to the first "IDM" panel
  idmcam stream

  # Stream a webcam (build with -tags gocv) and watch it in a browser
  idmcam stream --source webcam --http :8080

  # List nearby panels
  idmcam scan`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		log.Init(root.logLevel)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&root.logLevel, "log-level", config.LogLevel(),
		"Log level: debug, info, warn, error")
	rootCmd.PersistentFlags().StringVar(&root.source, "source", config.Source(),
		"Frame driver: "+strings.Join(frame.Drivers(), ", "))
	rootCmd.PersistentFlags().IntVar(&root.device, "device", 0,
		"Capture device index for host drivers")
	rootCmd.PersistentFlags().StringVar(&root.input, "input", config.Input(),
		"Media URL or file for the ffmpeg and gst drivers")

	rootCmd.AddCommand(streamCmd(), serveCmd(), botCmd(), scanCmd())
}

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}
