package notifier

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newBotServer(t *testing.T, failSends int32) (*httptest.Server, *atomic.Int32, *atomic.Value) {
	t.Helper()
	var sends atomic.Int32
	var lastBody atomic.Value
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch {
		case strings.HasSuffix(r.URL.Path, "/getMe"):
			_, _ = io.WriteString(w, `{"ok":true,"result":{"id":1,"is_bot":true,"first_name":"oi","username":"oi_bot"}}`)
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			n := sends.Add(1)
			_ = r.ParseForm()
			lastBody.Store(r.PostForm.Get("text"))
			if n <= failSends {
				_, _ = io.WriteString(w, `{"ok":false,"error_code":500,"description":"boom"}`)
				return
			}
			_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"private"}}}`)
		default:
			http.NotFound(w, r)
		}
	}))
	t.Cleanup(srv.Close)
	return srv, &sends, &lastBody
}

func TestTelegramSendText(t *testing.T) {
	srv, sends, body := newBotServer(t, 1)
	tg, err := newTelegram("token", 42, srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	tg.sleep = func(time.Duration) {}

	require.NoError(t, tg.SendText("hello"))
	assert.Equal(t, int32(2), sends.Load(), "first failure is retried")
	assert.Equal(t, "hello", body.Load())
}

func TestTelegramGivesUp(t *testing.T) {
	srv, sends, _ := newBotServer(t, 10)
	tg, err := newTelegram("token", 42, srv.URL+"/bot%s/%s", srv.Client())
	require.NoError(t, err)
	tg.sleep = func(time.Duration) {}

	assert.Error(t, tg.SendText("hello"))
	assert.Equal(t, int32(sendAttempts), sends.Load())
}

func TestNewTelegramRequiresConfig(t *testing.T) {
	_, err := NewTelegram("", 0)
	assert.Error(t, err)
}

func TestCancellationFailureMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text := CancellationFailure("BTCUSDT", 5, errors.New("-1021 timestamp"), at).RenderMarkdown()
	assert.Contains(t, text, "Order cancellation failed")
	assert.Contains(t, text, "- symbol: BTCUSDT")
	assert.Contains(t, text, "- attempts: 5")
	assert.Contains(t, text, "-1021 timestamp")
	assert.Contains(t, text, "2024-05-01 12:00:00 UTC")
}

func TestEngineStartedMessage(t *testing.T) {
	at := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	text := EngineStarted("testnet", 2, 1234.5, at).RenderMarkdown()
	assert.Contains(t, text, "OI trader started")
	assert.Contains(t, text, "- mode: testnet")
	assert.Contains(t, text, "- open positions: 2")
	assert.Contains(t, text, "- balance: 1234.50 USDT")
}

func TestRenderMarkdownTruncates(t *testing.T) {
	msg := StructuredMessage{Title: "x", Footer: strings.Repeat("a", maxStructuredMessageLen*2)}
	out := msg.RenderMarkdown()
	assert.True(t, strings.HasSuffix(out, "..."))
	assert.LessOrEqual(t, len(out), maxStructuredMessageLen+3)
}

func TestNoop(t *testing.T) {
	var n TextNotifier = Noop{}
	assert.NoError(t, n.SendText("x"))
}

func TestRenderMarkdownLayout(t *testing.T) {
	msg := StructuredMessage{
		Icon:  "⚠️",
		Title: "Drift",
		Sections: []MessageSection{
			{Title: "Empty", Lines: []string{"  "}},
			{Title: "Details", Lines: []string{"a", "code ``` here"}},
		},
		Footer: "check it",
	}
	want := "⚠️ Drift\n\n```\nDetails\n- a\n- code ''' here\n```\n\ncheck it"
	assert.Equal(t, want, msg.RenderMarkdown())
}
