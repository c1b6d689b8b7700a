// Package config loads bridge configuration from an optional YAML file with
// ${ENV} expansion, then applies environment variable overrides. Validation
// reports every bad field at once.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// Config is the full bridge configuration.
type Config struct {
	Role      string          `yaml:"role"`
	Broker    BrokerConfig    `yaml:"broker"`
	Chat      ChatConfig      `yaml:"chat"`
	Central   CentralConfig   `yaml:"central"`
	Sizing    SizingConfig    `yaml:"sizing"`
	Safety    SafetyConfig    `yaml:"safety"`
	Filter    FilterConfig    `yaml:"filter"`
	Queue     QueueConfig     `yaml:"queue"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
}

// BrokerConfig holds brokerage API credentials and endpoints. Either the
// username/password pair or the client-secret/refresh-token pair must be set.
type BrokerConfig struct {
	Environment   string `yaml:"environment"` // sandbox or production
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	ClientSecret  string `yaml:"client_secret"`
	RefreshToken  string `yaml:"refresh_token"`
	AccountNumber string `yaml:"account_number"`
	BaseURL       string `yaml:"base_url"`
	StreamURL     string `yaml:"stream_url"`
	RateLimit     int    `yaml:"rate_limit"`
	RateBurst     int    `yaml:"rate_burst"`
}

// ChatConfig holds the chat transport token and the tiered channel ids.
// Fills channels fall back to the matching signal channel when unset.
type ChatConfig struct {
	Token                 string `yaml:"token"`
	APIBaseURL            string `yaml:"api_base_url"`
	GatewayURL            string `yaml:"gateway_url"`
	CoachChannelID        string `yaml:"coach_channel_id"`
	VIPChannelID          string `yaml:"vip_channel_id"`
	PremiumChannelID      string `yaml:"premium_channel_id"`
	BasicChannelID        string `yaml:"basic_channel_id"`
	VIPFillsChannelID     string `yaml:"vip_fills_channel_id"`
	PremiumFillsChannelID string `yaml:"premium_fills_channel_id"`
	BasicFillsChannelID   string `yaml:"basic_fills_channel_id"`
	CommandChannelID      string `yaml:"command_channel_id"`
	WebhookURL            string `yaml:"webhook_url"`
}

// CentralConfig holds the policy server connection. SubscriberID and
// DeploymentID are alternatives; at least one must be present.
type CentralConfig struct {
	ServerURL     string `yaml:"server_url"`
	BotToken      string `yaml:"bot_token"`
	SubscriberID  string `yaml:"subscriber_id"`
	DeploymentID  string `yaml:"deployment_id"`
	DiscordUserID string `yaml:"discord_user_id"`
}

// SizingConfig holds position sizing parameters.
type SizingConfig struct {
	Method          string          `yaml:"method"`
	FixedQuantity   int             `yaml:"fixed_quantity"`
	Multiplier      float64         `yaml:"multiplier"`
	Percentage      float64         `yaml:"percentage"`
	CoachBalance    decimal.Decimal `yaml:"coach_account_balance"`
	BalanceCacheTTL time.Duration   `yaml:"balance_cache_ttl"`
	MinQuantity     int             `yaml:"min_quantity"`
	MaxQuantity     int             `yaml:"max_quantity"`
}

// SafetyConfig holds the daily guardrails. Zero values mean unlimited.
type SafetyConfig struct {
	MaxDailyTrades int             `yaml:"max_daily_trades"`
	MaxDailyLoss   decimal.Decimal `yaml:"max_daily_loss"`
}

// FilterConfig restricts which signals are copied. Empty lists allow all.
type FilterConfig struct {
	EnabledSymbols []string `yaml:"enabled_symbols"`
	EnabledActions []string `yaml:"enabled_actions"`
}

// QueueConfig holds the execution queue knobs. A profile seeds the knobs;
// explicit values override the profile.
type QueueConfig struct {
	Profile                string        `yaml:"profile"`
	MaxConcurrentOrders    int           `yaml:"max_concurrent_orders"`
	DelayBetweenOrders     time.Duration `yaml:"delay_between_orders"`
	MaxOrdersPerMinute     int           `yaml:"max_orders_per_minute"`
	PriorityThreshold      int           `yaml:"priority_threshold"`
	EnableDryRunValidation *bool         `yaml:"enable_dry_run_validation"`
}

// TelemetryConfig holds observability endpoints.
type TelemetryConfig struct {
	MetricsAddr string `yaml:"metrics_addr"`
	LogLevel    string `yaml:"log_level"`
}

// DryRunEnabled resolves the tri-state flag, defaulting to on.
func (q QueueConfig) DryRunEnabled() bool {
	if q.EnableDryRunValidation == nil {
		return true
	}
	return *q.EnableDryRunValidation
}

// queueProfiles are the named knob presets.
var queueProfiles = map[string]QueueConfig{
	"aggressive": {
		MaxConcurrentOrders: 5,
		DelayBetweenOrders:  0,
		MaxOrdersPerMinute:  30,
		PriorityThreshold:   7,
	},
	"balanced": {
		MaxConcurrentOrders: 3,
		DelayBetweenOrders:  500 * time.Millisecond,
		MaxOrdersPerMinute:  15,
		PriorityThreshold:   8,
	},
	"conservative": {
		MaxConcurrentOrders: 1,
		DelayBetweenOrders:  2 * time.Second,
		MaxOrdersPerMinute:  5,
		PriorityThreshold:   9,
	},
}

// applyProfile seeds unset queue knobs from the named profile. The balanced
// profile is the default.
func (q *QueueConfig) applyProfile() error {
	name := strings.ToLower(q.Profile)
	if name == "" {
		name = "balanced"
	}
	preset, ok := queueProfiles[name]
	if !ok {
		return fmt.Errorf("unknown queue profile %q", q.Profile)
	}
	if q.MaxConcurrentOrders == 0 {
		q.MaxConcurrentOrders = preset.MaxConcurrentOrders
	}
	if q.DelayBetweenOrders == 0 {
		q.DelayBetweenOrders = preset.DelayBetweenOrders
	}
	if q.MaxOrdersPerMinute == 0 {
		q.MaxOrdersPerMinute = preset.MaxOrdersPerMinute
	}
	if q.PriorityThreshold == 0 {
		q.PriorityThreshold = preset.PriorityThreshold
	}
	return nil
}

// Validate checks cross-field requirements and collects every problem.
func (c *Config) Validate() error {
	var errs []string

	switch c.Broker.Environment {
	case "sandbox", "production":
	default:
		errs = append(errs, fmt.Sprintf("broker.environment must be sandbox or production, got %q", c.Broker.Environment))
	}
	hasLogin := c.Broker.Username != "" && c.Broker.Password != ""
	hasToken := c.Broker.ClientSecret != "" && c.Broker.RefreshToken != ""
	if !hasLogin && !hasToken {
		errs = append(errs, "broker credentials missing: set username/password or client_secret/refresh_token")
	}
	if c.Broker.AccountNumber == "" {
		errs = append(errs, "broker.account_number is required")
	}

	if c.Central.ServerURL != "" {
		if c.Central.BotToken == "" {
			errs = append(errs, "central.bot_token is required when central.server_url is set")
		}
		if c.Central.SubscriberID == "" && c.Central.DeploymentID == "" {
			errs = append(errs, "central requires subscriber_id or deployment_id")
		}
	}

	switch c.Sizing.Method {
	case "fixed", "multiplier", "percentage", "proportional", "match", "":
	default:
		errs = append(errs, fmt.Sprintf("sizing.method %q is not one of fixed, multiplier, percentage, proportional, match", c.Sizing.Method))
	}
	if c.Sizing.Method == "fixed" && c.Sizing.FixedQuantity <= 0 {
		errs = append(errs, "sizing.fixed_quantity must be positive for the fixed method")
	}
	if c.Sizing.Method == "multiplier" && c.Sizing.Multiplier <= 0 {
		errs = append(errs, "sizing.multiplier must be positive for the multiplier method")
	}
	if c.Sizing.Method == "percentage" && (c.Sizing.Percentage <= 0 || c.Sizing.Percentage > 100) {
		errs = append(errs, "sizing.percentage must be in (0, 100]")
	}
	if c.Sizing.MinQuantity < 0 || c.Sizing.MaxQuantity < 0 {
		errs = append(errs, "sizing quantity bounds cannot be negative")
	}
	if c.Sizing.MaxQuantity > 0 && c.Sizing.MinQuantity > c.Sizing.MaxQuantity {
		errs = append(errs, "sizing.min_quantity exceeds sizing.max_quantity")
	}

	if c.Safety.MaxDailyTrades < 0 {
		errs = append(errs, "safety.max_daily_trades cannot be negative")
	}
	if c.Safety.MaxDailyLoss.IsNegative() {
		errs = append(errs, "safety.max_daily_loss cannot be negative")
	}

	if err := c.Queue.applyProfile(); err != nil {
		errs = append(errs, err.Error())
	}

	if len(errs) > 0 {
		return &ValidationError{Errors: errs}
	}
	return nil
}

// ValidationError aggregates every configuration problem found.
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s", strings.Join(e.Errors, "; "))
}
