// Package broker implements the typed gateway over the broker's RPC API and
// its account-event stream.
package broker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/runnelsdev/copybridge/internal/core"
	apperrors "github.com/runnelsdev/copybridge/pkg/errors"
	"github.com/runnelsdev/copybridge/pkg/httpclient"
)

// Config holds broker connection settings.
type Config struct {
	BaseURL       string
	StreamURL     string
	Username      string
	Password      string
	ClientSecret  string
	RefreshToken  string
	Environment   string // sandbox | production
	AccountNumber string
	AuthTimeout   time.Duration
	RateLimit     float64 // RPCs per second
	RateBurst     int
}

// Gateway implements core.IBrokerGateway over HTTP plus a websocket account
// stream. A single rate limiter paces all RPCs.
type Gateway struct {
	cfg    Config
	client *httpclient.Client
	logger core.ILogger

	limiter *rate.Limiter

	mu           sync.RWMutex
	sessionToken string

	accountStream *accountStream
	quoteStream   *quoteStream
}

// NewGateway creates a broker gateway. Authenticate must be called before
// any account operation.
func NewGateway(cfg Config, logger core.ILogger) *Gateway {
	if cfg.AuthTimeout == 0 {
		cfg.AuthTimeout = 15 * time.Second
	}
	if cfg.RateLimit == 0 {
		cfg.RateLimit = 10
	}
	if cfg.RateBurst == 0 {
		cfg.RateBurst = 15
	}

	g := &Gateway{
		cfg:     cfg,
		logger:  logger.WithField("component", "broker_gateway"),
		limiter: rate.NewLimiter(rate.Limit(cfg.RateLimit), cfg.RateBurst),
	}
	g.client = httpclient.NewClient(cfg.BaseURL, httpclient.Options{Timeout: cfg.AuthTimeout},
		httpclient.AuthorizerFunc(func(req *http.Request) error {
			g.mu.RLock()
			token := g.sessionToken
			g.mu.RUnlock()
			if token != "" {
				req.Header.Set("Authorization", token)
			}
			return nil
		}))
	return g
}

// Authenticate establishes or refreshes the broker session. Idempotent.
func (g *Gateway) Authenticate(ctx context.Context) error {
	if err := g.limiter.Wait(ctx); err != nil {
		return err
	}

	var body map[string]any
	switch {
	case g.cfg.RefreshToken != "":
		body = map[string]any{
			"grant_type":    "refresh_token",
			"client_secret": g.cfg.ClientSecret,
			"refresh_token": g.cfg.RefreshToken,
		}
	case g.cfg.Username != "":
		body = map[string]any{
			"login":       g.cfg.Username,
			"password":    g.cfg.Password,
			"remember-me": true,
		}
	default:
		return fmt.Errorf("no broker credentials configured: %w", apperrors.ErrAuthenticationFailed)
	}

	resp, err := g.client.Post(ctx, "/sessions", body)
	if err != nil {
		return mapBrokerError(err)
	}

	var parsed struct {
		Data struct {
			SessionToken string `json:"session-token"`
			AccessToken  string `json:"access_token"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return fmt.Errorf("failed to decode session response: %w", err)
	}

	token := parsed.Data.SessionToken
	if token == "" {
		token = parsed.Data.AccessToken
	}
	if token == "" {
		return apperrors.ErrAuthenticationFailed
	}

	g.mu.Lock()
	g.sessionToken = token
	g.mu.Unlock()

	g.logger.Info("Broker session established", "environment", g.cfg.Environment)
	return nil
}

// call paces, executes, and on a single auth failure re-authenticates once.
func (g *Gateway) call(ctx context.Context, fn func() ([]byte, error)) ([]byte, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	resp, err := fn()
	if err == nil {
		return resp, nil
	}

	mapped := mapBrokerError(err)
	var be *apperrors.BrokerError
	if errors.As(mapped, &be) && be.Categorize() == apperrors.CategoryAuth {
		g.logger.Warn("Broker call unauthorized, re-authenticating once")
		if authErr := g.Authenticate(ctx); authErr != nil {
			return nil, mapped
		}
		resp, err = fn()
		if err == nil {
			return resp, nil
		}
		return nil, mapBrokerError(err)
	}
	return nil, mapped
}

// GetAccounts lists the accounts visible to the session.
func (g *Gateway) GetAccounts(ctx context.Context) ([]core.Account, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Get(ctx, "/customers/me/accounts", nil)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Items []struct {
				Account struct {
					AccountNumber string `json:"account-number"`
					Nickname      string `json:"nickname"`
					MarginOrCash  string `json:"margin-or-cash"`
				} `json:"account"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode accounts: %w", err)
	}

	accounts := make([]core.Account, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		accounts = append(accounts, core.Account{
			AccountNumber: item.Account.AccountNumber,
			Nickname:      item.Account.Nickname,
			Margin:        item.Account.MarginOrCash == "Margin",
		})
	}
	return accounts, nil
}

// GetBalances fetches the balance snapshot for an account.
func (g *Gateway) GetBalances(ctx context.Context, accountNumber string) (*core.AccountBalance, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Get(ctx, "/accounts/"+accountNumber+"/balances", nil)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			NetLiquidatingValue   string `json:"net-liquidating-value"`
			CashBalance           string `json:"cash-balance"`
			EquityBuyingPower     string `json:"equity-buying-power"`
			DerivativeBuyingPower string `json:"derivative-buying-power"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode balances: %w", err)
	}

	return &core.AccountBalance{
		AccountNumber:  accountNumber,
		NetLiquidation: parseDecimal(parsed.Data.NetLiquidatingValue),
		CashBalance:    parseDecimal(parsed.Data.CashBalance),
		BuyingPower:    parseDecimal(parsed.Data.EquityBuyingPower),
		DerivativeBP:   parseDecimal(parsed.Data.DerivativeBuyingPower),
	}, nil
}

// GetPositions fetches open positions for an account.
func (g *Gateway) GetPositions(ctx context.Context, accountNumber string) ([]core.Position, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Get(ctx, "/accounts/"+accountNumber+"/positions", nil)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Items []struct {
				Symbol         string `json:"symbol"`
				InstrumentType string `json:"instrument-type"`
				Quantity       int    `json:"quantity"`
				AverageOpen    string `json:"average-open-price"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode positions: %w", err)
	}

	positions := make([]core.Position, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		instrument := core.Equity
		if item.InstrumentType == legInstrumentOption {
			instrument = core.EquityOption
		}
		positions = append(positions, core.Position{
			AccountNumber: accountNumber,
			Symbol:        item.Symbol,
			Instrument:    instrument,
			Quantity:      item.Quantity,
			AveragePrice:  parseDecimal(item.AverageOpen),
		})
	}
	return positions, nil
}

// DryRun submits an order for pre-flight evaluation without placing it.
func (g *Gateway) DryRun(ctx context.Context, accountNumber string, payload *core.OrderPayload) (*core.DryRunResult, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Post(ctx, "/accounts/"+accountNumber+"/orders/dry-run", payloadToWire(payload))
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			BuyingPowerEffect struct {
				NewBuyingPower string `json:"new-buying-power"`
			} `json:"buying-power-effect"`
			FeeCalculation struct {
				TotalFees string `json:"total-fees"`
			} `json:"fee-calculation"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode dry-run response: %w", err)
	}

	return &core.DryRunResult{
		NewBuyingPower: parseDecimal(parsed.Data.BuyingPowerEffect.NewBuyingPower),
		TotalFees:      parseDecimal(parsed.Data.FeeCalculation.TotalFees),
	}, nil
}

// CreateOrder places a single-leg order.
func (g *Gateway) CreateOrder(ctx context.Context, accountNumber string, payload *core.OrderPayload) (*core.OrderResult, error) {
	return g.submit(ctx, "/accounts/"+accountNumber+"/orders", payload)
}

// CreateComplexOrder places a multi-leg or OTOCO order.
func (g *Gateway) CreateComplexOrder(ctx context.Context, accountNumber string, payload *core.OrderPayload) (*core.OrderResult, error) {
	return g.submit(ctx, "/accounts/"+accountNumber+"/complex-orders", payload)
}

func (g *Gateway) submit(ctx context.Context, path string, payload *core.OrderPayload) (*core.OrderResult, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Post(ctx, path, payloadToWire(payload))
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Order struct {
				ID json.Number `json:"id"`
			} `json:"order"`
			ID json.Number `json:"id"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode order response: %w", err)
	}

	orderID := parsed.Data.Order.ID.String()
	if orderID == "" || orderID == "0" {
		orderID = parsed.Data.ID.String()
	}

	return &core.OrderResult{
		OrderID:     orderID,
		TimeInForce: payload.TimeInForce,
		CompletedAt: time.Now(),
	}, nil
}

// CancelOrder cancels a working order.
func (g *Gateway) CancelOrder(ctx context.Context, accountNumber, orderID string) error {
	_, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Delete(ctx, "/accounts/"+accountNumber+"/orders/"+orderID)
	})
	return err
}

// GetLiveOrders lists orders currently working at the broker.
func (g *Gateway) GetLiveOrders(ctx context.Context, accountNumber string) ([]core.LiveOrder, error) {
	resp, err := g.call(ctx, func() ([]byte, error) {
		return g.client.Get(ctx, "/accounts/"+accountNumber+"/orders/live", nil)
	})
	if err != nil {
		return nil, err
	}

	var parsed struct {
		Data struct {
			Items []struct {
				ID          json.Number `json:"id"`
				Symbol      string      `json:"underlying-symbol"`
				Status      string      `json:"status"`
				OrderType   string      `json:"order-type"`
				TimeInForce string      `json:"time-in-force"`
			} `json:"items"`
		} `json:"data"`
	}
	if err := json.Unmarshal(resp, &parsed); err != nil {
		return nil, fmt.Errorf("failed to decode live orders: %w", err)
	}

	orders := make([]core.LiveOrder, 0, len(parsed.Data.Items))
	for _, item := range parsed.Data.Items {
		orders = append(orders, core.LiveOrder{
			OrderID:     item.ID.String(),
			Symbol:      item.Symbol,
			Status:      item.Status,
			OrderType:   core.OrderType(item.OrderType),
			TimeInForce: core.TimeInForce(item.TimeInForce),
		})
	}
	return orders, nil
}

// sessionTokenSnapshot is used by the stream layer to authorize the socket.
func (g *Gateway) sessionTokenSnapshot() string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.sessionToken
}

func parseDecimal(s string) decimal.Decimal {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return decimal.Zero
	}
	return d
}

// mapBrokerError converts an httpclient APIError into a categorised broker
// error, preserving the rejection code verbatim.
func mapBrokerError(err error) error {
	var apiErr *httpclient.APIError
	if !errors.As(err, &apiErr) {
		return fmt.Errorf("%w: %v", apperrors.ErrNetwork, err)
	}

	var body struct {
		Error struct {
			Code    string `json:"code"`
			Message string `json:"message"`
			Errors  []struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"errors"`
		} `json:"error"`
	}
	code := ""
	message := string(apiErr.Body)
	if jsonErr := json.Unmarshal(apiErr.Body, &body); jsonErr == nil {
		code = body.Error.Code
		if body.Error.Message != "" {
			message = body.Error.Message
		}
		// Some rejections nest the discriminant one level down.
		if code == "" && len(body.Error.Errors) > 0 {
			code = body.Error.Errors[0].Code
			if body.Error.Errors[0].Message != "" {
				message = body.Error.Errors[0].Message
			}
		}
	}

	return &apperrors.BrokerError{
		StatusCode: apiErr.StatusCode,
		Code:       code,
		Message:    message,
	}
}
