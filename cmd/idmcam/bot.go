package main

import (
	"context"
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/teslashibe/go-idmcam/internal/config"
	"github.com/teslashibe/go-idmcam/internal/log"
	"github.com/teslashibe/go-idmcam/pkg/bot"
	"github.com/teslashibe/go-idmcam/pkg/botapi"
	"github.com/teslashibe/go-idmcam/pkg/camera"
	"github.com/teslashibe/go-idmcam/pkg/frame"
)

type botOptions struct {
	public  bool
	flash   bool
	discard int
	caption string
}

func botCmd() *cobra.Command {
	opts := &botOptions{}
	cmd := &cobra.Command{
		Use:   "bot",
		Short: "Answer /photo on Telegram with camera stills",
		Long: `Runs a Telegram bot that replies to /photo with a fresh still.
Requires TELEGRAM_BOT_TOKEN and TELEGRAM_OWNER_ID.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runBot(cmd.Context(), opts)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.public, "public", false, "Let any chat use /photo")
	f.BoolVar(&opts.flash, "flash", false, "Start with the flash enabled")
	f.IntVar(&opts.discard, "discard", frame.DefaultDiscard, "Stale frames dropped before each still")
	f.StringVar(&opts.caption, "caption", bot.DefaultCaption, "Photo caption template")
	return cmd
}

func runBot(ctx context.Context, opts *botOptions) error {
	token, err := config.BotToken()
	if err != nil {
		return err
	}
	owner, err := config.BotOwnerID()
	if err != nil {
		return err
	}

	cam, err := openLiveCamera(camera.StillConfig())
	if err != nil {
		return err
	}
	defer cam.Close()

	api, err := botapi.New(token, botapi.WithLogger(log.Component("botapi")))
	if err != nil {
		return err
	}
	b, err := bot.New(api, cam, bot.NopLight{}, owner,
		bot.WithPublic(opts.public),
		bot.WithFlash(opts.flash),
		bot.WithDiscard(opts.discard),
		bot.WithCaption(opts.caption),
		bot.WithLogger(log.L()),
	)
	if err != nil {
		return err
	}

	fmt.Println("🤖 Bot running (Ctrl+C to stop)")
	err = b.Run(ctx)
	st := b.Stats()
	fmt.Printf("📊 %d updates, %d photos, %d forwarded\n", st.Updates, st.Photos, st.Forwarded)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
