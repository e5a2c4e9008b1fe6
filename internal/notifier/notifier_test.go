package notifier

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"BarOracle/internal/artifact"
	"BarOracle/internal/classifier"
	"BarOracle/internal/features"
	"BarOracle/internal/model"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestNotifier(t *testing.T, h http.HandlerFunc) *TelegramNotifier {
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	n := NewTelegramNotifier("TOKEN", "42", "", zerolog.Nop())
	n.BaseURL = srv.URL
	return n
}

func TestSend_PostsToChat(t *testing.T) {
	var got map[string]interface{}
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/botTOKEN/sendMessage", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Write([]byte(`{"ok":true,"result":{"message_id":1}}`))
	})

	require.NoError(t, n.Send(context.Background(), "hello"))
	assert.Equal(t, "42", got["chat_id"])
	assert.Equal(t, "hello", got["text"])
	assert.Equal(t, "HTML", got["parse_mode"])
	assert.Equal(t, true, got["disable_web_page_preview"])
}

func TestSend_APIError(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "bad chat", http.StatusBadRequest)
	})
	err := n.Send(context.Background(), "x")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "status 400")
}

func TestSend_NotOK(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"ok":false,"error_code":403,"description":"Forbidden: bot was blocked by the user"}`))
	})
	err := n.Send(context.Background(), "x")
	var apiErr *APIError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, 403, apiErr.Code)
	assert.Contains(t, apiErr.Description, "blocked")
}

func TestSend_DisabledIsNoop(t *testing.T) {
	var calls int32
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
	})
	n.BotToken = ""
	assert.False(t, n.Enabled())
	require.NoError(t, n.Send(context.Background(), "x"))
	assert.Zero(t, atomic.LoadInt32(&calls))
}

func TestSend_RespectsContext(t *testing.T) {
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-r.Context().Done():
		case <-time.After(2 * time.Second):
		}
	})
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	assert.Error(t, n.Send(ctx, "x"))
}

func TestSendWithRetry_RecoversAfterFailure(t *testing.T) {
	var calls int32
	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusBadGateway)
			return
		}
		w.Write([]byte(`{"ok":true}`))
	})
	require.NoError(t, n.SendWithRetry(context.Background(), "x", 1))
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestPolling_DispatchesKnownChatOnly(t *testing.T) {
	var served int32
	replies := make(chan string, 4)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	n := newTestNotifier(t, func(w http.ResponseWriter, r *http.Request) {
		switch {
		case strings.HasSuffix(r.URL.Path, "/getUpdates"):
			if atomic.AddInt32(&served, 1) > 1 {
				<-r.Context().Done()
				return
			}
			w.Write([]byte(`{"ok":true,"result":[
				{"update_id":1,"message":{"text":"/stats","chat":{"id":7}}},
				{"update_id":2,"message":{"text":" /stats ","chat":{"id":42}}}
			]}`))
		case strings.HasSuffix(r.URL.Path, "/sendMessage"):
			var body sendMessageRequest
			json.NewDecoder(r.Body).Decode(&body)
			w.Write([]byte(`{"ok":true}`))
			replies <- body.Text
		}
	})

	var seen []string
	done := make(chan struct{})
	go func() {
		n.StartPolling(ctx, func(_ context.Context, cmd string) string {
			seen = append(seen, cmd)
			return "reply:" + cmd
		})
		close(done)
	}()

	select {
	case r := <-replies:
		assert.Equal(t, "reply:/stats", r)
	case <-time.After(3 * time.Second):
		t.Fatal("no reply sent")
	}
	cancel()
	<-done
	assert.Equal(t, []string{"/stats"}, seen)
}

func TestFormatters(t *testing.T) {
	at := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	alert := FormatPredictionAlert("BTC-USD", model.DirectionRises, 81.0, 43000.5, at)
	assert.Contains(t, alert, "BTC-USD")
	assert.Contains(t, alert, "RISE")
	assert.Contains(t, alert, "81.0%")
	assert.Contains(t, alert, "2026-01-02 03:04:05")

	win := model.ResultCorrect
	loss := model.ResultIncorrect
	hist := FormatHistory("ETH-USD", []model.Prediction{
		{Timestamp: at, Direction: model.DirectionFalls, Confidence: 60, EntryPrice: 10},
		{Timestamp: at, Direction: model.DirectionRises, Confidence: 70, EntryPrice: 11, Result: &win},
		{Timestamp: at, Direction: model.DirectionRises, Confidence: 70, EntryPrice: 12, Result: &loss},
	})
	assert.Contains(t, hist, "⏳")
	assert.Contains(t, hist, "✅")
	assert.Contains(t, hist, "❌")
	assert.Contains(t, FormatHistory("X", nil), "No predictions")

	stats := FormatStats([]model.Stats{
		{Symbol: "A", Window: 10, Total: 3, Resolved: 2, Wins: 1, Pending: 1, WinRate: 50},
		{Symbol: "B", Window: 10, Total: 1},
	})
	assert.Contains(t, stats, "(last 10 per symbol)")
	assert.Contains(t, stats, "A: 50.0% win (1/2), 1 pending")
	assert.Contains(t, stats, "B: 1 total, none graded yet")

	assert.Contains(t, FormatTick("X", model.DirectionFalls, 55, 1, false, false), "Not saved")
	assert.Contains(t, FormatHelp(), "/retrain")
}

func TestFormatModel(t *testing.T) {
	c := &classifier.Logistic{Weights: []float64{1}, Means: []float64{0}, Scales: []float64{1}}
	a, err := artifact.New("BTC-USD", "1m", []string{features.Returns1m}, c, artifact.Meta{
		Importance: []artifact.FeatureWeight{{Name: features.Returns1m, Weight: 1}},
		Metrics:    &classifier.Metrics{Samples: 100, Accuracy: 0.55},
	})
	require.NoError(t, err)

	out := FormatModel("ETH-USD", a)
	assert.Contains(t, out, "Model for ETH-USD")
	assert.Contains(t, out, "Trained on: BTC-USD (1m)")
	assert.Contains(t, out, "Returns_1m: 1.000")
	assert.Contains(t, out, "55.0%")
}
