package broker

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
	"github.com/runnelsdev/copybridge/pkg/websocket"
)

// accountStream subscribes to the broker's per-account event feed. Events
// are forwarded opaquely; decoding is the fill decoder's job.
type accountStream struct {
	client *websocket.Client
}

// StartAccountStream connects the account event stream and forwards every
// event to handler until ctx is cancelled. Reconnects re-subscribe.
func (g *Gateway) StartAccountStream(ctx context.Context, accountNumber string, handler func(event []byte)) error {
	if g.cfg.StreamURL == "" {
		return fmt.Errorf("no stream URL configured")
	}

	g.mu.Lock()
	if g.accountStream != nil {
		g.mu.Unlock()
		return fmt.Errorf("account stream already running")
	}
	g.mu.Unlock()

	metrics := telemetry.GetGlobalMetrics()
	client := websocket.NewClient(g.cfg.StreamURL, func(message []byte) {
		metrics.CountStreamEvent(context.Background(), "account")
		handler(message)
	}, g.logger)

	client.SetOnConnected(func() {
		sub := map[string]any{
			"action":     "connect",
			"value":      []string{accountNumber},
			"auth-token": g.sessionTokenSnapshot(),
		}
		if err := client.Send(sub); err != nil {
			g.logger.Error("Failed to subscribe account stream", "error", err)
		}
	})
	client.SetOnDisconnected(func(err error) {
		g.logger.Warn("Account stream dropped, reconnecting", "error", err)
	})

	g.mu.Lock()
	g.accountStream = &accountStream{client: client}
	g.mu.Unlock()

	client.Start()

	go func() {
		<-ctx.Done()
		g.StopAccountStream()
	}()

	g.logger.Info("Account stream started", "account", maskAccount(accountNumber))
	return nil
}

// StopAccountStream disconnects the account event stream.
func (g *Gateway) StopAccountStream() {
	g.mu.Lock()
	stream := g.accountStream
	g.accountStream = nil
	g.mu.Unlock()

	if stream != nil {
		stream.client.Stop()
	}
}

// quoteStream subscribes to top-of-book quotes for the mid-price hook.
type quoteStream struct {
	client *websocket.Client
}

// StartQuoteStream subscribes to quotes for the given symbols. Optional:
// sandbox environments may not offer it.
func (g *Gateway) StartQuoteStream(ctx context.Context, symbols []string, handler func(core.Quote)) error {
	if g.cfg.StreamURL == "" {
		return fmt.Errorf("quote stream unavailable: no stream URL configured")
	}

	g.mu.Lock()
	if g.quoteStream != nil {
		g.mu.Unlock()
		return fmt.Errorf("quote stream already running")
	}
	g.mu.Unlock()

	client := websocket.NewClient(g.cfg.StreamURL, func(message []byte) {
		var event struct {
			Type string `json:"type"`
			Data struct {
				Symbol string `json:"symbol"`
				Bid    string `json:"bid"`
				Ask    string `json:"ask"`
			} `json:"data"`
		}
		if err := json.Unmarshal(message, &event); err != nil || event.Type != "Quote" {
			return
		}
		handler(core.Quote{
			Symbol: event.Data.Symbol,
			Bid:    parseDecimal(event.Data.Bid),
			Ask:    parseDecimal(event.Data.Ask),
			At:     time.Now(),
		})
	}, g.logger)

	client.SetOnConnected(func() {
		sub := map[string]any{
			"action":     "subscribe-quotes",
			"value":      symbols,
			"auth-token": g.sessionTokenSnapshot(),
		}
		if err := client.Send(sub); err != nil {
			g.logger.Error("Failed to subscribe quote stream", "error", err)
		}
	})

	g.mu.Lock()
	g.quoteStream = &quoteStream{client: client}
	g.mu.Unlock()

	client.Start()

	go func() {
		<-ctx.Done()
		g.mu.Lock()
		stream := g.quoteStream
		g.quoteStream = nil
		g.mu.Unlock()
		if stream != nil {
			stream.client.Stop()
		}
	}()

	return nil
}

// maskAccount keeps only the last four characters of an account number.
func maskAccount(accountNumber string) string {
	if len(accountNumber) <= 4 {
		return accountNumber
	}
	return "***" + accountNumber[len(accountNumber)-4:]
}
