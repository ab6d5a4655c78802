package processor

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestProcessSendsChatCompletion(t *testing.T) {
	t.Parallel()
	var got request
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer k", r.Header.Get("Authorization"))
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"  你好  "}}]}`))
	}))
	t.Cleanup(srv.Close)

	p, err := New(Config{Provider: "BigModel", APIKey: "k", BaseURL: srv.URL})
	require.NoError(t, err)
	out, err := p.Process(context.Background(), "hello")
	require.NoError(t, err)
	assert.Equal(t, "你好", out)

	assert.Equal(t, "glm-4-flash", got.Model)
	require.Len(t, got.Messages, 2)
	assert.Equal(t, "system", got.Messages[0].Role)
	assert.Equal(t, DefaultPrompt, got.Messages[0].Content)
	assert.Equal(t, "hello", got.Messages[1].Content)

	_, err = WithPrompt(p, "summarize").Process(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, "summarize", got.Messages[0].Content)
}

func TestProcessErrors(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/429":
			http.Error(w, `{"error":{"message":"rate limited"}}`, http.StatusTooManyRequests)
		case "/empty":
			_, _ = w.Write([]byte(`{"choices":[]}`))
		default:
			_, _ = w.Write([]byte(`{"error":{"message":"bad key"}}`))
		}
	}))
	t.Cleanup(srv.Close)

	for path, want := range map[string]string{"/429": "429", "/empty": "empty choices", "/err": "bad key"} {
		p, err := New(Config{Provider: "openai", BaseURL: srv.URL + path})
		require.NoError(t, err)
		_, err = p.Process(context.Background(), "x")
		assert.ErrorContains(t, err, want)
	}
}

func TestNewRejectsUnknownProvider(t *testing.T) {
	t.Parallel()
	_, err := New(Config{Provider: "gemini"})
	assert.ErrorContains(t, err, "unknown processor provider")
	assert.Equal(t, []string{"bigmodel", "bytedance", "deepseek", "openai"}, Providers())
}

func TestIsValidResult(t *testing.T) {
	t.Parallel()
	assert.True(t, IsValidResult("ok"))
	assert.False(t, IsValidResult(" "))
	assert.False(t, IsValidResult(ErrorFallback))
}

func TestRegistry(t *testing.T) {
	t.Parallel()
	r := NewRegistry()
	p, err := New(Config{Provider: "deepseek"})
	require.NoError(t, err)
	r.Add("ds", p)
	got, ok := r.Get("ds")
	require.True(t, ok)
	assert.Same(t, p, got)
	_, ok = r.Get("missing")
	assert.False(t, ok)
}
