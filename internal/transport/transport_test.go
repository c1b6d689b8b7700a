package transport

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/latency"
	"github.com/runnelsdev/copybridge/internal/queue"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

func TestChatClient_SendMessage(t *testing.T) {
	var gotPath, gotAuth string
	var gotBody map[string]any

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAuth = r.Header.Get("Authorization")
		json.NewDecoder(r.Body).Decode(&gotBody)
		json.NewEncoder(w).Encode(map[string]string{"id": "msg-77"})
	}))
	t.Cleanup(srv.Close)

	client := NewChatClient(ChatConfig{BaseURL: srv.URL, Token: "tok"}, logging.GetGlobalLogger())
	id, err := client.SendMessage(context.Background(), "chan-1", &core.ChatMessage{
		Embed: &core.ChatEmbed{
			Title:  "Fill: SPY",
			Fields: []core.ChatField{{Name: "Symbol", Value: "SPY", Inline: true}},
			Footer: "VIP",
		},
	})
	require.NoError(t, err)
	assert.Equal(t, "msg-77", id)
	assert.Equal(t, "/channels/chan-1/messages", gotPath)
	assert.Equal(t, "Bot tok", gotAuth)

	embeds, ok := gotBody["embeds"].([]any)
	require.True(t, ok)
	require.Len(t, embeds, 1)
}

func TestChatClient_EmptyChannel(t *testing.T) {
	client := NewChatClient(ChatConfig{BaseURL: "http://localhost:1", Token: "tok"}, logging.GetGlobalLogger())
	_, err := client.SendMessage(context.Background(), "", &core.ChatMessage{Content: "x"})
	assert.Error(t, err)
}

func TestCommandRouter_Dispatch(t *testing.T) {
	r := NewCommandRouter(logging.GetGlobalLogger())
	r.Register("queue-status", func(ctx context.Context, args []string) (string, error) {
		return "queue ok", nil
	})

	reply, handled := r.Dispatch(context.Background(), "!queue-status")
	assert.True(t, handled)
	assert.Equal(t, "queue ok", reply)

	_, handled = r.Dispatch(context.Background(), "hello there")
	assert.False(t, handled)

	_, handled = r.Dispatch(context.Background(), "!unknown-cmd")
	assert.False(t, handled)
}

func TestCommandRouter_HandlerErrorIsReported(t *testing.T) {
	r := NewCommandRouter(logging.GetGlobalLogger())
	r.Register("reconnect", func(ctx context.Context, args []string) (string, error) {
		return "", errors.New("stream is down")
	})

	reply, handled := r.Dispatch(context.Background(), "!reconnect")
	assert.True(t, handled)
	assert.Contains(t, reply, "stream is down")
}

func TestCommandRouter_ArgsPassed(t *testing.T) {
	r := NewCommandRouter(logging.GetGlobalLogger())
	var got []string
	r.Register("queue-order", func(ctx context.Context, args []string) (string, error) {
		got = args
		return "ok", nil
	})

	_, handled := r.Dispatch(context.Background(), "!queue-order SPY 2 BTO 9")
	assert.True(t, handled)
	assert.Equal(t, []string{"SPY", "2", "BTO", "9"}, got)
}

func TestParseQueueOrderArgs(t *testing.T) {
	symbol, qty, action, priority, err := ParseQueueOrderArgs([]string{"spy", "2", "BTO", "9"})
	require.NoError(t, err)
	assert.Equal(t, "SPY", symbol)
	assert.Equal(t, 2, qty)
	assert.Equal(t, core.Action("BTO"), action)
	assert.Equal(t, 9, priority)

	_, _, _, _, err = ParseQueueOrderArgs([]string{"SPY", "2"})
	assert.Error(t, err)

	_, _, _, _, err = ParseQueueOrderArgs([]string{"SPY", "-1", "BTO"})
	assert.Error(t, err)

	_, _, _, _, err = ParseQueueOrderArgs([]string{"SPY", "2", "BTO", "11"})
	assert.Error(t, err)
}

func TestRenderQueueStatus(t *testing.T) {
	out := RenderQueueStatus(queue.Status{
		QueueLength:        3,
		ActiveOrders:       1,
		MaxConcurrent:      3,
		WindowCount:        2,
		MaxOrdersPerMinute: 15,
		TotalProcessed:     10,
	})
	assert.Contains(t, out, "Queue length")
	assert.Contains(t, out, "1/3")
	assert.Contains(t, out, "2/15")
}

func TestRenderLatencyStats(t *testing.T) {
	out := RenderLatencyStats(
		latency.Stats{Count: 2, MeanMs: 15, P50Ms: 10, P95Ms: 20, P99Ms: 20, MaxMs: 20},
		map[string]latency.Stats{"text": {Count: 2, MeanMs: 15}},
	)
	assert.Contains(t, out, "all")
	assert.Contains(t, out, "text")
	assert.Contains(t, out, "15ms")
}

func TestRenderTradingStatus_NotAuthenticated(t *testing.T) {
	assert.Contains(t, RenderTradingStatus(nil), "Not authenticated")
}

func TestRenderLiveOrders_Empty(t *testing.T) {
	assert.Equal(t, "No live orders.", RenderLiveOrders(nil))
}
