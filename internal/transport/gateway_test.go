package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/pkg/logging"
)

func TestChatGateway_RoutesMessageFrames(t *testing.T) {
	g := NewChatGateway("wss://gateway.example", logging.GetGlobalLogger())

	var got []*InboundMessage
	g.Subscribe("chan-1", func(ctx context.Context, msg *InboundMessage) {
		got = append(got, msg)
	})

	g.handleFrame([]byte(`{
		"type": "message",
		"channel_id": "chan-1",
		"author": {"id": "coach-7"},
		"content": "SIGNAL: BUY 2 SPY",
		"embeds": [{
			"title": "SIGNAL",
			"fields": [{"name": "Symbol", "value": "SPY", "inline": true}],
			"footer": {"text": "ID: sig_42"}
		}]
	}`))

	require.Len(t, got, 1)
	assert.Equal(t, "chan-1", got[0].ChannelID)
	assert.Equal(t, "coach-7", got[0].AuthorID)
	assert.Equal(t, "SIGNAL: BUY 2 SPY", got[0].Message.Content)
	require.NotNil(t, got[0].Message.Embed)
	assert.Equal(t, "SPY", got[0].Message.Embed.Field("symbol"))
	assert.Equal(t, "ID: sig_42", got[0].Message.Embed.Footer)
}

func TestChatGateway_DropsOtherFrames(t *testing.T) {
	g := NewChatGateway("wss://gateway.example", logging.GetGlobalLogger())

	calls := 0
	g.Subscribe("chan-1", func(ctx context.Context, msg *InboundMessage) { calls++ })

	g.handleFrame([]byte(`{"type": "heartbeat"}`))
	g.handleFrame([]byte(`{"type": "message", "channel_id": "chan-2", "content": "hi"}`))
	g.handleFrame([]byte(`not json`))
	assert.Equal(t, 0, calls)
}
