// Package policy implements the central policy server client: day-valid
// trading authorisation cached locally, plus fire-and-forget trade reporting.
package policy

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
	apperrors "github.com/runnelsdev/copybridge/pkg/errors"
	"github.com/runnelsdev/copybridge/pkg/httpclient"
)

// Config holds policy server connection settings.
type Config struct {
	ServerURL     string
	BotToken      string
	SubscriberID  string
	DiscordUserID string
	DeploymentID  string
	AuthTimeout   time.Duration
	ReportTimeout time.Duration
}

// Client implements core.IPolicyClient. The TradingStatus snapshot is
// immutable once installed; refresh swaps it atomically under the mutex.
type Client struct {
	cfg    Config
	client *httpclient.Client
	logger core.ILogger
	clock  core.Clock

	mu            sync.RWMutex
	sessionToken  string
	status        *core.TradingStatus
	authenticated bool

	reporter *reporter
}

// NewClient creates a policy client. Authenticate should run once per day
// before market open.
func NewClient(cfg Config, clock core.Clock, logger core.ILogger) *Client {
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = 10 * time.Second
	}
	if cfg.ReportTimeout == 0 {
		cfg.ReportTimeout = 5 * time.Second
	}
	if clock == nil {
		clock = core.SystemClock{}
	}

	c := &Client{
		cfg:    cfg,
		logger: logger.WithField("component", "policy_client"),
		clock:  clock,
	}
	c.client = httpclient.NewClient(cfg.ServerURL, httpclient.Options{Timeout: cfg.AuthTimeout},
		httpclient.AuthorizerFunc(func(req *http.Request) error {
			c.mu.RLock()
			token := c.sessionToken
			c.mu.RUnlock()
			if token != "" {
				req.Header.Set("Authorization", "Bearer "+token)
			}
			return nil
		}))
	c.reporter = newReporter(c, logger)
	return c
}

// statusPayload is the wire shape of a TradingStatus.
type statusPayload struct {
	CanTrade          bool        `json:"canTrade"`
	Tier              string      `json:"tier"`
	MonthlyProfitUsed json.Number `json:"monthlyProfitUsed"`
	MonthlyCapLimit   json.Number `json:"monthlyCapLimit"`
	MaxPositionSize   json.Number `json:"maxPositionSize"`
	ValidUntil        string      `json:"validUntil"`
	Reason            string      `json:"reason"`
	Message           string      `json:"message"`
}

func (p *statusPayload) toStatus() *core.TradingStatus {
	validUntil, _ := time.Parse(time.RFC3339, p.ValidUntil)
	return &core.TradingStatus{
		CanTrade:          p.CanTrade,
		Tier:              p.Tier,
		MonthlyProfitUsed: parseDecimal(p.MonthlyProfitUsed.String()),
		MonthlyCapLimit:   parseDecimal(p.MonthlyCapLimit.String()),
		MaxPositionSize:   parseDecimal(p.MaxPositionSize.String()),
		ValidUntil:        validUntil,
		Reason:            p.Reason,
		Message:           p.Message,
	}
}

// Authenticate performs the once-per-day policy handshake and installs the
// returned TradingStatus snapshot.
func (c *Client) Authenticate(ctx context.Context) error {
	body := map[string]any{
		"subscriberId":  c.cfg.SubscriberID,
		"botToken":      c.cfg.BotToken,
		"discordUserId": c.cfg.DiscordUserID,
	}
	if c.cfg.DeploymentID != "" {
		body["deploymentId"] = c.cfg.DeploymentID
	}

	resp, err := c.client.Post(ctx, "/api/v1/bot/authenticate", body)
	if err != nil {
		return c.mapAuthError(err)
	}

	var parsed struct {
		SessionToken string        `json:"sessionToken"`
		BotID        string        `json:"botId"`
		SubscriberID string        `json:"subscriberId"`
		Status       statusPayload `json:"status"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("failed to decode policy auth response: %w", err)
	}
	if parsed.SessionToken == "" {
		return apperrors.ErrAuthenticationFailed
	}

	status := parsed.Status.toStatus()

	c.mu.Lock()
	c.sessionToken = parsed.SessionToken
	c.status = status
	c.authenticated = true
	c.mu.Unlock()

	c.logger.Info("Policy authentication succeeded",
		"tier", status.Tier,
		"canTrade", status.CanTrade,
		"validUntil", status.ValidUntil)
	return nil
}

// mapAuthError applies the authenticate error taxonomy: 401 auth failure,
// 403 account inactive, 404 subscriber not found, anything else transient.
func (c *Client) mapAuthError(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}
	switch apiErr.StatusCode {
	case 401:
		return fmt.Errorf("%w: policy rejected bot token", apperrors.ErrAuthenticationFailed)
	case 403:
		return fmt.Errorf("%w: subscription is not active", apperrors.ErrAccountInactive)
	case 404:
		return fmt.Errorf("%w: %s", apperrors.ErrSubscriberNotFound, c.cfg.SubscriberID)
	default:
		return fmt.Errorf("%w: policy server returned %d", apperrors.ErrNetwork, apiErr.StatusCode)
	}
}

// CanTradeToday is a pure local check: authenticated, unexpired, allowed.
func (c *Client) CanTradeToday() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if !c.authenticated || c.status == nil {
		return false
	}
	if c.clock.Now().After(c.status.ValidUntil) {
		return false
	}
	return c.status.CanTrade
}

// CanExecutePosition checks the position value against the tier cap.
func (c *Client) CanExecutePosition(valueUSD decimal.Decimal) bool {
	if !c.CanTradeToday() {
		return false
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.status.MaxPositionSize.IsZero() {
		return true
	}
	return valueUSD.LessThanOrEqual(c.status.MaxPositionSize)
}

// Status returns the current snapshot, or nil before authentication.
func (c *Client) Status() *core.TradingStatus {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// RefreshStatus re-fetches the snapshot. A failed refresh never overwrites
// a valid status.
func (c *Client) RefreshStatus(ctx context.Context) error {
	resp, err := c.client.Get(ctx, "/api/v1/bot/status", nil)
	if err != nil {
		c.logger.Warn("Policy status refresh failed, keeping cached status", "error", err)
		return err
	}

	var parsed struct {
		Status statusPayload `json:"status"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		c.logger.Warn("Policy status refresh returned malformed body, keeping cached status", "error", err)
		return err
	}

	status := parsed.Status.toStatus()
	c.mu.Lock()
	c.status = status
	c.mu.Unlock()
	return nil
}

// ReportTrade submits a trade report without blocking the order path.
func (c *Client) ReportTrade(report core.TradeReport) {
	c.reporter.submit(reportJob{kind: jobTrade, trade: report})
}

// UpdatePnL submits a PnL update without blocking the order path.
func (c *Client) UpdatePnL(tradeID string, pnl decimal.Decimal) {
	c.reporter.submit(reportJob{kind: jobPnL, tradeID: tradeID, pnl: pnl})
}

// Close drains and stops the reporter worker.
func (c *Client) Close() {
	c.reporter.stop()
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}
