// Package websocket provides a reusable WebSocket client with automatic reconnection
package websocket

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.opentelemetry.io/otel/metric"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// MessageHandler handles incoming WebSocket messages.
type MessageHandler func(message []byte)

// Client is a resilient WebSocket client. The account and quote streams run
// on it; a dropped connection reconnects with a fixed delay and re-invokes
// the onConnected callback so subscriptions are replayed.
type Client struct {
	url           string
	handler       MessageHandler
	reconnectWait time.Duration
	readyTimeout  time.Duration

	conn *websocket.Conn
	mu   sync.Mutex

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	onConnected    func()
	onDisconnected func(err error)

	pingInterval time.Duration
	pingWait     time.Duration
	pongWait     time.Duration

	logger core.ILogger

	msgCounter  metric.Int64Counter
	connCounter metric.Int64Counter
}

// NewClient creates a new WebSocket client.
func NewClient(url string, handler MessageHandler, logger core.ILogger) *Client {
	ctx, cancel := context.WithCancel(context.Background())

	meter := telemetry.GetMeter("ws-client")
	msgCounter, _ := meter.Int64Counter("ws_messages_total",
		metric.WithDescription("Total number of WebSocket messages received"))
	connCounter, _ := meter.Int64Counter("ws_connections_total",
		metric.WithDescription("Total number of WebSocket connections initiated"))

	return &Client{
		url:           url,
		handler:       handler,
		reconnectWait: 5 * time.Second,
		readyTimeout:  15 * time.Second,
		pingInterval:  30 * time.Second,
		pingWait:      10 * time.Second,
		pongWait:      60 * time.Second,
		ctx:           ctx,
		cancel:        cancel,
		msgCounter:    msgCounter,
		connCounter:   connCounter,
		logger:        logger,
	}
}

// SetPingConfig sets the ping/pong configuration.
func (c *Client) SetPingConfig(interval, wait, pongWait time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pingInterval = interval
	c.pingWait = wait
	c.pongWait = pongWait
}

// SetReconnectWait overrides the delay between reconnect attempts.
func (c *Client) SetReconnectWait(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.reconnectWait = d
}

// SetOnConnected sets the callback invoked after each (re)connect.
func (c *Client) SetOnConnected(cb func()) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onConnected = cb
}

// SetOnDisconnected sets the callback invoked when a connection drops.
func (c *Client) SetOnDisconnected(cb func(err error)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.onDisconnected = cb
}

// Send writes a JSON message to the socket.
func (c *Client) Send(message interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return fmt.Errorf("websocket not connected")
	}
	return c.conn.WriteJSON(message)
}

// Start connects and begins listening for messages.
func (c *Client) Start() {
	c.wg.Add(1)
	go c.runLoop()
}

// Stop closes the connection and stops the loop.
func (c *Client) Stop() {
	c.cancel()

	done := make(chan struct{})
	go func() {
		c.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		if c.logger != nil {
			c.logger.Warn("WebSocket client Stop: some goroutines did not exit within timeout")
		}
	}

	c.closeConn()
}

func (c *Client) runLoop() {
	defer c.wg.Done()

	for {
		select {
		case <-c.ctx.Done():
			return
		default:
			if err := c.connect(); err != nil {
				if c.logger != nil {
					c.logger.Error("WebSocket connect failed", "url", c.url, "error", err)
				}
				select {
				case <-c.ctx.Done():
					return
				case <-time.After(c.reconnectWait):
				}
				continue
			}

			c.mu.Lock()
			onConnected := c.onConnected
			pingInterval := c.pingInterval
			c.mu.Unlock()

			if onConnected != nil {
				onConnected()
			}

			heartbeatCtx, heartbeatCancel := context.WithCancel(c.ctx)
			if pingInterval > 0 {
				c.wg.Add(1)
				go c.heartbeat(heartbeatCtx)
			}

			readErr := c.readLoop()
			heartbeatCancel()

			c.mu.Lock()
			onDisconnected := c.onDisconnected
			c.mu.Unlock()
			if onDisconnected != nil && c.ctx.Err() == nil {
				onDisconnected(readErr)
			}

			select {
			case <-c.ctx.Done():
				return
			case <-time.After(c.reconnectWait):
			}
		}
	}
}

func (c *Client) heartbeat(ctx context.Context) {
	defer c.wg.Done()
	c.mu.Lock()
	interval := c.pingInterval
	wait := c.pingWait
	c.mu.Unlock()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()

			if conn == nil {
				return
			}

			if err := conn.WriteControl(websocket.PingMessage, []byte{}, time.Now().Add(wait)); err != nil {
				c.closeConn()
				return
			}
		}
	}
}

func (c *Client) connect() error {
	c.connCounter.Add(c.ctx, 1)

	c.mu.Lock()
	defer c.mu.Unlock()

	dialer := *websocket.DefaultDialer
	dialer.HandshakeTimeout = c.readyTimeout

	conn, _, err := dialer.Dial(c.url, nil)
	if err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(c.pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(c.pongWait))
		return nil
	})

	c.conn = conn
	return nil
}

func (c *Client) closeConn() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
}

func (c *Client) readLoop() error {
	defer c.closeConn()

	for {
		select {
		case <-c.ctx.Done():
			return nil
		default:
			c.mu.Lock()
			conn := c.conn
			c.mu.Unlock()
			if conn == nil {
				return nil
			}

			_, message, err := conn.ReadMessage()
			if err != nil {
				return err
			}

			c.msgCounter.Add(c.ctx, 1)
			if c.handler != nil {
				c.handler(message)
			}
		}
	}
}
