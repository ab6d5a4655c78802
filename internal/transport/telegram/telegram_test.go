package telegram

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"postrelay/internal/transport"
	logx "postrelay/pkg/logx"
)

func TestSendTextChunksToChatAndThread(t *testing.T) {
	t.Parallel()
	var (
		mu    sync.Mutex
		texts []string
	)
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		var params map[string]any
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&params))
		assert.EqualValues(t, "-100200", params["chat_id"])
		assert.EqualValues(t, "7", params["message_thread_id"])
		mu.Lock()
		texts = append(texts, params["text"].(string))
		mu.Unlock()
		_, _ = w.Write([]byte(`{"ok":true,"result":{"message_id":1,"date":0,"chat":{"id":-100200,"type":"supergroup"}}}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{ID: "tg", Token: "TOKEN", ChatID: -100200, ThreadID: 7, APIURL: srv.URL, MinInterval: 1,
		ReplaceRegex: [][]string{{"secret", "***"}}}, logx.Nop())
	require.NoError(t, err)

	long := strings.Repeat("a", textLimit) + "\n" + "tail secret"
	require.NoError(t, a.Send(context.Background(), long, transport.SendProps{}))

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, texts, 2)
	assert.Len(t, texts[0], textLimit)
	assert.Equal(t, "tail ***", texts[1])
}

func TestSendReportsAPIError(t *testing.T) {
	t.Parallel()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"ok":false,"error_code":400,"description":"Bad Request: chat not found"}`))
	}))
	t.Cleanup(srv.Close)

	a, err := New(Config{ID: "tg", Token: "TOKEN", ChatID: 1, APIURL: srv.URL, MinInterval: 1}, logx.Nop())
	require.NoError(t, err)
	assert.Error(t, a.Send(context.Background(), "hi", transport.SendProps{}))
}

func TestNewValidatesConfig(t *testing.T) {
	t.Parallel()
	_, err := New(Config{ID: "tg", ChatID: 1}, logx.Nop())
	assert.Error(t, err)
	_, err = New(Config{ID: "tg", Token: "T"}, logx.Nop())
	assert.Error(t, err)

	a, err := New(Config{ID: "tg", Token: "T", ChatID: 1}, logx.Nop())
	require.NoError(t, err)
	assert.Equal(t, Platform, a.Platform())
	var _ transport.Adapter = a
}
