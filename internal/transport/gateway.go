package transport

import (
	"context"
	"encoding/json"
	"strings"
	"sync"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/websocket"
)

// InboundMessage is one chat message received from the gateway socket.
type InboundMessage struct {
	ChannelID string
	AuthorID  string
	Message   *core.ChatMessage
}

// InboundHandler consumes messages arriving on a subscribed channel.
type InboundHandler func(ctx context.Context, msg *InboundMessage)

// ChatGateway listens on the chat system's gateway socket and routes inbound
// messages to per-channel handlers. Non-message events are dropped.
type ChatGateway struct {
	url    string
	logger core.ILogger
	client *websocket.Client

	mu       sync.RWMutex
	handlers map[string][]InboundHandler
	ctx      context.Context
}

func NewChatGateway(url string, logger core.ILogger) *ChatGateway {
	g := &ChatGateway{
		url:      url,
		logger:   logger.WithField("component", "chat_gateway"),
		handlers: make(map[string][]InboundHandler),
	}
	g.client = websocket.NewClient(url, g.handleFrame, logger)
	return g
}

// Subscribe registers a handler for one channel. Must be called before Run.
func (g *ChatGateway) Subscribe(channelID string, handler InboundHandler) {
	if channelID == "" {
		return
	}
	g.mu.Lock()
	g.handlers[channelID] = append(g.handlers[channelID], handler)
	g.mu.Unlock()
}

// Run connects and blocks until ctx is cancelled.
func (g *ChatGateway) Run(ctx context.Context) error {
	g.mu.Lock()
	g.ctx = ctx
	g.mu.Unlock()

	g.client.Start()
	<-ctx.Done()
	g.client.Stop()
	return nil
}

// gatewayFrame is the wire shape of one gateway event.
type gatewayFrame struct {
	Type      string `json:"type"`
	ChannelID string `json:"channel_id"`
	Author    struct {
		ID  string `json:"id"`
		Bot bool   `json:"bot"`
	} `json:"author"`
	Content string `json:"content"`
	Embeds  []struct {
		Title       string `json:"title"`
		Description string `json:"description"`
		Fields      []struct {
			Name   string `json:"name"`
			Value  string `json:"value"`
			Inline bool   `json:"inline"`
		} `json:"fields"`
		Footer struct {
			Text string `json:"text"`
		} `json:"footer"`
	} `json:"embeds"`
}

func (g *ChatGateway) handleFrame(raw []byte) {
	var frame gatewayFrame
	if err := json.Unmarshal(raw, &frame); err != nil {
		return
	}
	if !strings.EqualFold(frame.Type, "message") || frame.ChannelID == "" {
		return
	}

	g.mu.RLock()
	handlers := g.handlers[frame.ChannelID]
	ctx := g.ctx
	g.mu.RUnlock()
	if len(handlers) == 0 {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}

	msg := &InboundMessage{
		ChannelID: frame.ChannelID,
		AuthorID:  frame.Author.ID,
		Message:   &core.ChatMessage{Content: frame.Content},
	}
	if len(frame.Embeds) > 0 {
		we := frame.Embeds[0]
		embed := &core.ChatEmbed{
			Title:       we.Title,
			Description: we.Description,
			Footer:      we.Footer.Text,
		}
		for _, f := range we.Fields {
			embed.Fields = append(embed.Fields, core.ChatField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		msg.Message.Embed = embed
	}

	for _, handler := range handlers {
		handler(ctx, msg)
	}
}
