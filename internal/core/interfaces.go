// Package core defines the shared types and interfaces for the copy bridge.
package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// IBrokerGateway is the typed surface over the broker RPC API and its
// account-event stream. All calls may fail with auth, validation, transient
// or fatal categories (see pkg/errors).
type IBrokerGateway interface {
	Authenticate(ctx context.Context) error
	GetAccounts(ctx context.Context) ([]Account, error)
	GetBalances(ctx context.Context, accountNumber string) (*AccountBalance, error)
	GetPositions(ctx context.Context, accountNumber string) ([]Position, error)
	DryRun(ctx context.Context, accountNumber string, payload *OrderPayload) (*DryRunResult, error)
	CreateOrder(ctx context.Context, accountNumber string, payload *OrderPayload) (*OrderResult, error)
	CreateComplexOrder(ctx context.Context, accountNumber string, payload *OrderPayload) (*OrderResult, error)
	CancelOrder(ctx context.Context, accountNumber, orderID string) error
	GetLiveOrders(ctx context.Context, accountNumber string) ([]LiveOrder, error)

	// StartAccountStream delivers raw account events until ctx is cancelled.
	// Events are opaque JSON records forwarded to the fill decoder.
	StartAccountStream(ctx context.Context, accountNumber string, handler func(event []byte)) error
	StopAccountStream()

	// StartQuoteStream is optional; gateways without quote support return an error.
	StartQuoteStream(ctx context.Context, symbols []string, handler func(Quote)) error
}

// IPolicyClient gates trading on the central policy server's day-level
// authorisation. ReportTrade and UpdatePnL are fire-and-forget.
type IPolicyClient interface {
	Authenticate(ctx context.Context) error
	CanTradeToday() bool
	CanExecutePosition(valueUSD decimal.Decimal) bool
	Status() *TradingStatus
	RefreshStatus(ctx context.Context) error
	ReportTrade(report TradeReport)
	UpdatePnL(tradeID string, pnl decimal.Decimal)
}

// IPositionSizer converts a coach signal quantity into a follower quantity.
// Calculate is a hot path and never performs I/O.
type IPositionSizer interface {
	Calculate(signal *Signal) int
	InitializeSizing(ctx context.Context) error
	UpdateCoachBalance(balance decimal.Decimal)
	UpdateFollowerBalance(balance decimal.Decimal)
	NeedsCacheRefresh() bool
	RefreshFollowerBalance(ctx context.Context)
}

// IChatTransport delivers structured messages to a channel of the external
// chat system. Implementations must be safe for concurrent use.
type IChatTransport interface {
	SendMessage(ctx context.Context, channelID string, msg *ChatMessage) (messageID string, err error)
}

// ILatencyMonitor records pipeline latency samples.
type ILatencyMonitor interface {
	RecordSignal(sample LatencySample)
	RecordOrder(sample LatencySample)
}

// IHealthMonitor aggregates component health checks.
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
