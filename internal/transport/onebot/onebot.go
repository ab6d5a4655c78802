// Package onebot delivers to QQ groups through a OneBot v11 HTTP endpoint.
package onebot

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

const (
	Platform = "qq"

	textLimit          = 4000
	defaultMinInterval = time.Second
	defaultTimeout     = 30 * time.Second
)

type Config struct {
	ID      string
	URL     string
	GroupID string
	Token   string

	MinInterval time.Duration
	Timeout     time.Duration

	BlockUntil   string
	ReplaceRegex [][]string
	Location     *time.Location

	// Client overrides the HTTP client (tests).
	Client *http.Client
}

type Adapter struct {
	*transport.Base

	url     string
	groupID string
	token   string
	http    *http.Client
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.URL) == "" || strings.TrimSpace(cfg.GroupID) == "" {
		return nil, fmt.Errorf("target %s: onebot url and group_id are required", cfg.ID)
	}
	if cfg.MinInterval <= 0 {
		cfg.MinInterval = defaultMinInterval
	}
	base, err := transport.NewBase(transport.BaseOptions{
		ID:           cfg.ID,
		Platform:     Platform,
		TextLimit:    textLimit,
		MinInterval:  cfg.MinInterval,
		BlockUntil:   cfg.BlockUntil,
		ReplaceRegex: cfg.ReplaceRegex,
		Location:     cfg.Location,
	}, log)
	if err != nil {
		return nil, fmt.Errorf("target %s: %w", cfg.ID, err)
	}
	client := cfg.Client
	if client == nil {
		timeout := cfg.Timeout
		if timeout <= 0 {
			timeout = defaultTimeout
		}
		client = &http.Client{Timeout: timeout}
	}
	return &Adapter{
		Base:    base,
		url:     strings.TrimRight(strings.TrimSpace(cfg.URL), "/"),
		groupID: strings.TrimSpace(cfg.GroupID),
		token:   cfg.Token,
		http:    client,
	}, nil
}

type segment struct {
	Type string      `json:"type"`
	Data segmentData `json:"data"`
}

type segmentData struct {
	Text string `json:"text,omitempty"`
	File string `json:"file,omitempty"`
}

type sendGroupMsg struct {
	GroupID string    `json:"group_id"`
	Message []segment `json:"message"`
}

// response is the OneBot action envelope; status is "ok", "async" or "failed".
type response struct {
	Status  string `json:"status"`
	RetCode int    `json:"retcode"`
	Message string `json:"message"`
	Wording string `json:"wording"`
}

func fileSegment(kind string, f transport.File) segment {
	return segment{Type: kind, Data: segmentData{File: "file://" + f.Path}}
}

// Send posts text chunk i together with photo batch i, then every video in
// one trailing message. It stops at the first failed call.
func (a *Adapter) Send(ctx context.Context, text string, props transport.SendProps) error {
	plan := a.Plan(text, props.Files)
	if plan.Empty() {
		return nil
	}
	for i, m := range plan.Messages {
		segs := make([]segment, 0, 1+len(m.Photos))
		if m.Text != "" {
			segs = append(segs, segment{Type: "text", Data: segmentData{Text: m.Text}})
		}
		for _, p := range m.Photos {
			segs = append(segs, fileSegment("image", p))
		}
		if err := a.post(ctx, segs); err != nil {
			return fmt.Errorf("message %d/%d: %w", i+1, len(plan.Messages), err)
		}
	}
	if len(plan.Videos) > 0 {
		segs := make([]segment, 0, len(plan.Videos))
		for _, v := range plan.Videos {
			segs = append(segs, fileSegment("video", v))
		}
		if err := a.post(ctx, segs); err != nil {
			return fmt.Errorf("videos: %w", err)
		}
	}
	return nil
}

func (a *Adapter) post(ctx context.Context, segs []segment) error {
	if err := a.Wait(ctx); err != nil {
		return err
	}
	body, err := json.Marshal(sendGroupMsg{GroupID: a.groupID, Message: segs})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, a.url+"/send_group_msg", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if a.token != "" {
		req.Header.Set("Authorization", "Bearer "+a.token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode/100 != 2 {
		return fmt.Errorf("onebot send_group_msg: http %d: %s", resp.StatusCode, strings.TrimSpace(string(raw)))
	}
	var out response
	if len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}
	if err := json.Unmarshal(raw, &out); err != nil {
		return fmt.Errorf("onebot send_group_msg: decode response: %w", err)
	}
	if strings.EqualFold(out.Status, "failed") {
		msg := out.Wording
		if msg == "" {
			msg = out.Message
		}
		if msg == "" {
			msg = "failed"
		}
		return fmt.Errorf("onebot send_group_msg: retcode %d: %w", out.RetCode, errors.New(msg))
	}
	return nil
}
