// Package telegram delivers to a Telegram chat (optionally a forum topic)
// through the Bot API.
package telegram

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"postrelay/internal/post"
	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

const (
	Platform = "telegram"

	textLimit          = 4000
	captionLimit       = 1024
	albumLimit         = 10
	defaultMinInterval = time.Second
	defaultTimeout     = 60 * time.Second
)

type Config struct {
	ID       string
	Token    string
	ChatID   int64
	ThreadID int
	// APIURL overrides https://api.telegram.org (self-hosted Bot API, tests).
	APIURL string

	MinInterval time.Duration
	Timeout     time.Duration

	BlockUntil   string
	ReplaceRegex [][]string
	Location     *time.Location
}

type Adapter struct {
	*transport.Base

	bot      *tele.Bot
	chat     *tele.Chat
	threadID int
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, fmt.Errorf("target %s: telegram token is empty", cfg.ID)
	}
	if cfg.ChatID == 0 {
		return nil, fmt.Errorf("target %s: telegram chat_id is required", cfg.ID)
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	base, err := transport.NewBase(transport.BaseOptions{
		ID:           cfg.ID,
		Platform:     Platform,
		TextLimit:    textLimit,
		PhotoBatch:   albumLimit,
		MinInterval:  cfg.MinInterval,
		BlockUntil:   cfg.BlockUntil,
		ReplaceRegex: cfg.ReplaceRegex,
		Location:     cfg.Location,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", cfg.ID, err)
	}
	// Offline skips getMe; the adapter only sends.
	b, err := tele.NewBot(tele.Settings{
		URL:     strings.TrimRight(strings.TrimSpace(cfg.APIURL), "/"),
		Token:   strings.TrimSpace(cfg.Token),
		Client:  &http.Client{Timeout: timeout},
		Offline: true,
	})
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", cfg.ID, err)
	}
	return &Adapter{Base: base, bot: b, chat: &tele.Chat{ID: cfg.ChatID}, threadID: cfg.ThreadID}, nil
}

func (a *Adapter) opts() *tele.SendOptions {
	return &tele.SendOptions{ThreadID: a.threadID}
}

// Send delivers text chunk i with photo batch i (as caption when it fits),
// then the videos.
func (a *Adapter) Send(ctx context.Context, text string, props transport.SendProps) error {
	plan := a.Plan(text, props.Files)
	for i, m := range plan.Messages {
		if err := a.sendMessage(ctx, m); err != nil {
			return fmt.Errorf("message %d/%d: %w", i+1, len(plan.Messages), err)
		}
	}
	for start := 0; start < len(plan.Videos); start += albumLimit {
		end := min(start+albumLimit, len(plan.Videos))
		if err := a.sendMedia(ctx, plan.Videos[start:end], ""); err != nil {
			return fmt.Errorf("videos: %w", err)
		}
	}
	return nil
}

func (a *Adapter) sendMessage(ctx context.Context, m transport.Message) error {
	if len(m.Photos) == 0 {
		if m.Text == "" {
			return nil
		}
		return a.call(ctx, func() error {
			_, err := a.bot.Send(a.chat, m.Text, a.opts())
			return err
		})
	}
	caption := m.Text
	if len([]rune(caption)) > captionLimit {
		if err := a.call(ctx, func() error {
			_, err := a.bot.Send(a.chat, caption, a.opts())
			return err
		}); err != nil {
			return err
		}
		caption = ""
	}
	return a.sendMedia(ctx, m.Photos, caption)
}

// sendMedia sends one file as a single message and several as an album.
func (a *Adapter) sendMedia(ctx context.Context, files []transport.File, caption string) error {
	items := make([]tele.Inputtable, 0, len(files))
	for i, f := range files {
		c := ""
		if i == 0 {
			c = caption
		}
		items = append(items, inputFor(f, c))
	}
	if len(items) == 1 {
		return a.call(ctx, func() error {
			_, err := a.bot.Send(a.chat, items[0], a.opts())
			return err
		})
	}
	return a.call(ctx, func() error {
		_, err := a.bot.SendAlbum(a.chat, tele.Album(items), a.opts())
		return err
	})
}

func inputFor(f transport.File, caption string) tele.Inputtable {
	file := tele.FromDisk(f.Path)
	if f.Type == post.MediaVideo {
		return &tele.Video{File: file, Caption: caption}
	}
	return &tele.Photo{File: file, Caption: caption}
}

// call paces and runs one Bot API request. telebot has no context support,
// so a canceled ctx only stops calls that have not started.
func (a *Adapter) call(ctx context.Context, fn func() error) error {
	if err := a.Wait(ctx); err != nil {
		return err
	}
	return fn()
}
