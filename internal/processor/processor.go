// Package processor calls OpenAI-compatible chat completion APIs to
// translate or summarize text.
package processor

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"time"
)

// ErrorFallback is what callers show instead of a failed result. Models are
// also told to answer with it when they cannot process the input.
const ErrorFallback = "╮(╯-╰)╭ Sorry, this text could not be processed."

const DefaultPrompt = "You are a translator. Translate the following Japanese or English text into Simplified Chinese and output only the translation. " +
	"Leave #hashtags untranslated. If the text cannot be translated, output: \"" + ErrorFallback + "\""

const (
	defaultTimeout   = 2 * time.Minute
	defaultMaxTokens = 4000
)

type Processor interface {
	Process(ctx context.Context, text string) (string, error)
}

// IsValidResult reports whether s is a usable processor answer.
func IsValidResult(s string) bool {
	s = strings.TrimSpace(s)
	return s != "" && s != ErrorFallback
}

type provider struct {
	url   string
	model string
}

// Providers sharing the OpenAI chat completion wire format.
var providers = map[string]provider{
	"openai":    {url: "https://api.openai.com/v1/chat/completions", model: "gpt-4o-mini"},
	"bigmodel":  {url: "https://open.bigmodel.cn/api/paas/v4/chat/completions", model: "glm-4-flash"},
	"deepseek":  {url: "https://api.deepseek.com/chat/completions", model: "deepseek-chat"},
	"bytedance": {url: "https://ark.cn-beijing.volces.com/api/v3/chat/completions", model: "doubao-pro-128k"},
}

// Providers lists the supported provider names.
func Providers() []string {
	out := make([]string, 0, len(providers))
	for k := range providers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

type Config struct {
	Provider string
	APIKey   string
	// BaseURL is the full chat completions endpoint.
	BaseURL   string
	Model     string
	Prompt    string
	Timeout   time.Duration
	MaxTokens int
}

// ChatCompletion is a Processor backed by one chat completion endpoint.
type ChatCompletion struct {
	name      string
	url       string
	apiKey    string
	model     string
	prompt    string
	maxTokens int
	client    *http.Client
}

func New(cfg Config) (*ChatCompletion, error) {
	name := strings.ToLower(strings.TrimSpace(cfg.Provider))
	p, ok := providers[name]
	if !ok {
		return nil, fmt.Errorf("unknown processor provider %q (supported: %s)", cfg.Provider, strings.Join(Providers(), ", "))
	}
	c := &ChatCompletion{
		name:      name,
		url:       p.url,
		apiKey:    cfg.APIKey,
		model:     p.model,
		prompt:    DefaultPrompt,
		maxTokens: defaultMaxTokens,
	}
	if u := strings.TrimSpace(cfg.BaseURL); u != "" {
		c.url = u
	}
	if m := strings.TrimSpace(cfg.Model); m != "" {
		c.model = m
	}
	if strings.TrimSpace(cfg.Prompt) != "" {
		c.prompt = cfg.Prompt
	}
	if cfg.MaxTokens > 0 {
		c.maxTokens = cfg.MaxTokens
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c.client = &http.Client{Timeout: timeout}
	return c, nil
}

func (c *ChatCompletion) Name() string { return c.name }

// WithPrompt returns a copy that uses prompt as the system message.
func (c *ChatCompletion) WithPrompt(prompt string) Processor {
	cp := *c
	if strings.TrimSpace(prompt) != "" {
		cp.prompt = prompt
	}
	return &cp
}

// WithPrompt swaps the system prompt when p supports it.
func WithPrompt(p Processor, prompt string) Processor {
	if wp, ok := p.(interface{ WithPrompt(string) Processor }); ok {
		return wp.WithPrompt(prompt)
	}
	return p
}

type message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type request struct {
	Model     string    `json:"model"`
	Messages  []message `json:"messages"`
	MaxTokens int       `json:"max_tokens,omitempty"`
}

type response struct {
	Choices []struct {
		Message message `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (c *ChatCompletion) Process(ctx context.Context, text string) (string, error) {
	payload, err := json.Marshal(request{
		Model:     c.model,
		MaxTokens: c.maxTokens,
		Messages: []message{
			{Role: "system", Content: c.prompt},
			{Role: "user", Content: text},
		},
	})
	if err != nil {
		return "", fmt.Errorf("%s: marshal request: %w", c.name, err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.url, bytes.NewReader(payload))
	if err != nil {
		return "", fmt.Errorf("%s: create request: %w", c.name, err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("%s: request failed: %w", c.name, err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return "", fmt.Errorf("%s: unexpected status %s: %s", c.name, resp.Status, strings.TrimSpace(string(body)))
	}

	var out response
	if err := json.Unmarshal(body, &out); err != nil {
		return "", fmt.Errorf("%s: decode response: %w", c.name, err)
	}
	if out.Error != nil && out.Error.Message != "" {
		return "", fmt.Errorf("%s: %s", c.name, out.Error.Message)
	}
	if len(out.Choices) == 0 {
		return "", fmt.Errorf("%s: %w", c.name, errors.New("empty choices"))
	}
	return strings.TrimSpace(out.Choices[0].Message.Content), nil
}

// Registry holds configured processors by id.
type Registry struct {
	m map[string]Processor
}

func NewRegistry() *Registry { return &Registry{m: map[string]Processor{}} }

func (r *Registry) Add(id string, p Processor) { r.m[id] = p }

func (r *Registry) Get(id string) (Processor, bool) {
	if r == nil {
		return nil, false
	}
	p, ok := r.m[id]
	return p, ok
}
