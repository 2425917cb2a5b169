// Package bot is a chat-bot front end for the camera: it long-polls the
// Bot API and answers /photo with a fresh still. The owner can let other
// chats use it (/publish) and toggle the flash light (/flash).
package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/samber/lo"
	"github.com/valyala/fasttemplate"

	"github.com/teslashibe/go-idmcam/pkg/botapi"
	"github.com/teslashibe/go-idmcam/pkg/frame"
	"github.com/teslashibe/go-idmcam/pkg/transcode"
)

// Replies.
const (
	MsgStarting  = "Starting!"
	MsgHello     = "Hello!"
	MsgFlashOn   = "Flash enabled!"
	MsgFlashOff  = "Flash disabled!"
	MsgPublicOn  = "Public use enabled!"
	MsgPublicOff = "Public use disabled!"
	MsgNoFrame   = "No frame available, try again."
)

const captionTimeLayout = "2006-01-02 15:04:05"

// API is the part of the Bot API the bot uses. *botapi.Client implements it.
type API interface {
	GetUpdates(ctx context.Context, p botapi.GetUpdatesParams) ([]botapi.Update, error)
	SendMessage(ctx context.Context, chatID int64, text string) (*botapi.Message, error)
	SendChatAction(ctx context.Context, chatID int64, action string) error
	ForwardMessage(ctx context.Context, chatID, fromChatID, messageID int64) (*botapi.Message, error)
	SendPhoto(ctx context.Context, chatID int64, photo []byte, caption string) (*botapi.Message, error)
}

var _ API = (*botapi.Client)(nil)

// Light drives the flash LED.
type Light interface {
	SetFlash(on bool) error
}

// NopLight is a Light for cameras without a flash.
type NopLight struct{}

// SetFlash does nothing.
func (NopLight) SetFlash(bool) error { return nil }

// Stats counts bot activity.
type Stats struct {
	Updates   uint64 `json:"updates"`
	Photos    uint64 `json:"photos"`
	Forwarded uint64 `json:"forwarded"`
	Denied    uint64 `json:"denied"`
	Errors    uint64 `json:"errors"`
}

// Bot answers chat commands with camera stills.
type Bot struct {
	api     API
	src     frame.Source
	light   Light
	config  *Config
	logger  *slog.Logger
	caption *fasttemplate.Template
	clock   func() time.Time

	mu     sync.Mutex
	flash  bool
	public bool
	offset int64
	stats  Stats
}

// New creates a bot. light may be nil.
func New(api API, src frame.Source, light Light, owner int64, opts ...Option) (*Bot, error) {
	cfg := DefaultConfig(owner)
	cfg.Apply(opts...)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	tmpl, err := fasttemplate.NewTemplate(cfg.Caption, "{{", "}}")
	if err != nil {
		return nil, fmt.Errorf("bot: caption template: %w", err)
	}
	if light == nil {
		light = NopLight{}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Bot{
		api:     api,
		src:     src,
		light:   light,
		config:  cfg,
		logger:  logger.With("component", "bot"),
		caption: tmpl,
		clock:   time.Now,
		flash:   cfg.Flash,
		public:  cfg.Public,
	}, nil
}

// Run greets the owner, skips the backlog and then long-polls until ctx
// is cancelled or the token is rejected.
func (b *Bot) Run(ctx context.Context) error {
	if _, err := b.api.SendMessage(ctx, b.config.OwnerID, MsgStarting); err != nil {
		b.logger.Warn("greeting owner failed", "error", err)
	}

	if err := b.skipBacklog(ctx); err != nil {
		return err
	}
	b.logger.Info("bot started", "owner", b.config.OwnerID, "offset", b.Offset())

	for {
		if err := ctx.Err(); err != nil {
			b.logger.Info("bot stopped", "reason", err)
			return err
		}

		updates, err := b.api.GetUpdates(ctx, botapi.GetUpdatesParams{
			Offset:  b.Offset(),
			Limit:   1,
			Timeout: b.config.PollTimeout,
		})
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if err := b.backoff(ctx, err); err != nil {
				return err
			}
			continue
		}

		for _, u := range updates {
			b.mu.Lock()
			b.offset = u.UpdateID + 1
			b.stats.Updates++
			b.mu.Unlock()

			b.Handle(ctx, u)
		}
	}
}

// skipBacklog starts the offset after the newest pending update so that
// commands sent while the bot was down are not replayed.
func (b *Bot) skipBacklog(ctx context.Context) error {
	updates, err := b.api.GetUpdates(ctx, botapi.GetUpdatesParams{Offset: -1, Limit: 1})
	if err != nil {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		var apiErr *botapi.APIError
		if errors.As(err, &apiErr) && apiErr.IsUnauthorized() {
			return err
		}
		b.logger.Warn("reading latest update failed, starting from zero", "error", err)
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()
	if len(updates) > 0 {
		b.offset = updates[0].UpdateID + 1
	} else {
		b.offset = 0
	}
	return nil
}

// backoff waits after a failed poll. A rejected token is returned as is.
func (b *Bot) backoff(ctx context.Context, err error) error {
	b.count(func(s *Stats) { s.Errors++ })

	delay := b.config.ErrorBackoff
	var apiErr *botapi.APIError
	if errors.As(err, &apiErr) {
		if apiErr.IsUnauthorized() {
			b.logger.Error("bot token rejected", "error", err)
			return err
		}
		if apiErr.RetryAfter > 0 {
			delay = time.Duration(apiErr.RetryAfter) * time.Second
		}
	}
	b.logger.Warn("polling updates failed", "error", err, "retry_in", delay)

	t := time.NewTimer(delay)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Handle processes one update.
func (b *Bot) Handle(ctx context.Context, u botapi.Update) {
	msg := u.Message
	if msg == nil {
		return
	}
	b.logger.Info("message received", "message_id", msg.MessageID, "chat", msg.Chat.ID)

	switch Command(msg.Text) {
	case "/photo":
		if !b.allowed(msg.Chat.ID) {
			b.deny(msg)
			return
		}
		b.photo(ctx, msg.Chat.ID)
	case "/flash":
		if !b.allowed(msg.Chat.ID) {
			b.deny(msg)
			return
		}
		on := b.toggle(&b.flash)
		b.reply(ctx, msg.Chat.ID, lo.Ternary(on, MsgFlashOn, MsgFlashOff))
	case "/publish":
		if msg.Chat.ID != b.config.OwnerID {
			b.deny(msg)
			return
		}
		on := b.toggle(&b.public)
		b.reply(ctx, msg.Chat.ID, lo.Ternary(on, MsgPublicOn, MsgPublicOff))
	case "/start":
		b.reply(ctx, msg.Chat.ID, MsgHello)
	}

	if msg.Chat.Type == botapi.ChatPrivate && msg.Chat.ID != b.config.OwnerID {
		if _, err := b.api.ForwardMessage(ctx, b.config.OwnerID, msg.Chat.ID, msg.MessageID); err != nil {
			b.logger.Warn("forward to owner failed", "chat", msg.Chat.ID, "error", err)
			return
		}
		b.count(func(s *Stats) { s.Forwarded++ })
	}
}

// Command extracts the command word from text, dropping arguments and an
// "@botname" suffix. Non-commands yield "".
func Command(text string) string {
	fields := strings.Fields(text)
	if len(fields) == 0 || !strings.HasPrefix(fields[0], "/") {
		return ""
	}
	cmd, _, _ := strings.Cut(fields[0], "@")
	return cmd
}

func (b *Bot) allowed(chatID int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return chatID == b.config.OwnerID || b.public
}

func (b *Bot) deny(msg *botapi.Message) {
	b.count(func(s *Stats) { s.Denied++ })
	b.logger.Debug("command not allowed", "chat", msg.Chat.ID, "text", msg.Text)
}

func (b *Bot) toggle(flag *bool) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	*flag = !*flag
	return *flag
}

func (b *Bot) reply(ctx context.Context, chatID int64, text string) {
	if _, err := b.api.SendMessage(ctx, chatID, text); err != nil {
		b.count(func(s *Stats) { s.Errors++ })
		b.logger.Warn("reply failed", "chat", chatID, "error", err)
	}
}

// photo takes a fresh still and uploads it to chatID.
func (b *Bot) photo(ctx context.Context, chatID int64) {
	if err := b.api.SendChatAction(ctx, chatID, botapi.ActionUploadPhoto); err != nil {
		b.logger.Debug("chat action failed", "error", err)
	}

	img, caption, err := b.capture(ctx)
	if err != nil {
		b.count(func(s *Stats) { s.Errors++ })
		if errors.Is(err, frame.ErrNoFrame) {
			b.logger.Info("no framebuffer")
			b.reply(ctx, chatID, MsgNoFrame)
			return
		}
		b.logger.Error("capture failed", "error", err)
		return
	}

	if _, err := b.api.SendPhoto(ctx, chatID, img, caption); err != nil {
		b.count(func(s *Stats) { s.Errors++ })
		b.logger.Error("photo upload failed", "chat", chatID, "error", err)
		return
	}
	b.count(func(s *Stats) { s.Photos++ })
	b.logger.Info("photo sent", "chat", chatID, "bytes", len(img))
}

// capture grabs one fresh frame, with the light on if enabled, and
// returns it as JPEG with its caption. The light is always switched off.
func (b *Bot) capture(ctx context.Context) ([]byte, string, error) {
	b.mu.Lock()
	flash := b.flash
	b.mu.Unlock()

	if flash {
		if err := b.light.SetFlash(true); err != nil {
			b.logger.Warn("flash on failed", "error", err)
		}
		if b.config.FlashSettle > 0 {
			t := time.NewTimer(b.config.FlashSettle)
			select {
			case <-t.C:
			case <-ctx.Done():
			}
			t.Stop()
		}
	}

	f, err := frame.AcquireFresh(ctx, b.src, b.config.Discard)
	if lightErr := b.light.SetFlash(false); lightErr != nil {
		b.logger.Warn("flash off failed", "error", lightErr)
	}
	if err != nil {
		return nil, "", err
	}
	defer f.Release()

	img, err := transcode.ToJPEG(f, b.config.JPEGQuality)
	if err != nil {
		return nil, "", err
	}
	caption := b.caption.ExecuteString(map[string]any{
		"width":  strconv.Itoa(f.Width()),
		"height": strconv.Itoa(f.Height()),
		"seq":    strconv.FormatUint(f.Seq(), 10),
		"time":   b.clock().Format(captionTimeLayout),
	})
	return img, caption, nil
}

func (b *Bot) count(fn func(*Stats)) {
	b.mu.Lock()
	fn(&b.stats)
	b.mu.Unlock()
}

// Offset returns the next update id the bot will ask for.
func (b *Bot) Offset() int64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.offset
}

// Flash reports whether /photo uses the light.
func (b *Bot) Flash() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.flash
}

// Public reports whether non-owners may take photos.
func (b *Bot) Public() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.public
}

// Stats returns a snapshot of the counters.
func (b *Bot) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}
