// Package transport carries outbound chat messages and inbound operator
// commands over the external chat system's HTTP API.
package transport

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/httpclient"
)

// ChatConfig holds the chat HTTP API connection.
type ChatConfig struct {
	BaseURL string
	Token   string
	Timeout time.Duration
}

// ChatClient implements core.IChatTransport against the chat HTTP API.
type ChatClient struct {
	cfg    ChatConfig
	client *httpclient.Client
	logger core.ILogger
}

func NewChatClient(cfg ChatConfig, logger core.ILogger) *ChatClient {
	if cfg.Timeout == 0 {
		cfg.Timeout = 10 * time.Second
	}
	c := &ChatClient{cfg: cfg, logger: logger.WithField("component", "chat_transport")}
	c.client = httpclient.NewClient(cfg.BaseURL, httpclient.Options{Timeout: cfg.Timeout},
		httpclient.AuthorizerFunc(func(req *http.Request) error {
			req.Header.Set("Authorization", "Bot "+cfg.Token)
			return nil
		}))
	return c
}

// wireEmbed is the chat API's embed shape.
type wireEmbed struct {
	Title       string      `json:"title,omitempty"`
	Description string      `json:"description,omitempty"`
	Fields      []wireField `json:"fields,omitempty"`
	Footer      *wireFooter `json:"footer,omitempty"`
}

type wireField struct {
	Name   string `json:"name"`
	Value  string `json:"value"`
	Inline bool   `json:"inline"`
}

type wireFooter struct {
	Text string `json:"text"`
}

// SendMessage posts a message to a channel and returns the created message id.
func (c *ChatClient) SendMessage(ctx context.Context, channelID string, msg *core.ChatMessage) (string, error) {
	if channelID == "" {
		return "", fmt.Errorf("empty channel id")
	}

	body := map[string]any{}
	if msg.Content != "" {
		body["content"] = msg.Content
	}
	if msg.Embed != nil {
		embed := wireEmbed{
			Title:       msg.Embed.Title,
			Description: msg.Embed.Description,
		}
		for _, f := range msg.Embed.Fields {
			embed.Fields = append(embed.Fields, wireField{Name: f.Name, Value: f.Value, Inline: f.Inline})
		}
		if msg.Embed.Footer != "" {
			embed.Footer = &wireFooter{Text: msg.Embed.Footer}
		}
		body["embeds"] = []wireEmbed{embed}
	}

	resp, err := c.client.Post(ctx, fmt.Sprintf("/channels/%s/messages", channelID), body)
	if err != nil {
		return "", fmt.Errorf("failed to send chat message: %w", err)
	}

	var parsed struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return "", fmt.Errorf("failed to decode chat response: %w", err)
	}
	return parsed.ID, nil
}
