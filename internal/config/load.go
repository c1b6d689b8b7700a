package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"
)

// Load builds the configuration: .env file (if present), then the optional
// YAML file with ${VAR} expansion, then environment overrides, then
// validation. path may be empty.
func Load(path string) (*Config, error) {
	// Missing .env is fine; explicit exports win over the file.
	_ = godotenv.Load()

	cfg := &Config{}
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
		}
		expanded := os.ExpandEnv(string(data))
		if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
		}
	}

	cfg.applyEnv()

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// applyEnv overlays recognised environment variables onto the config.
func (c *Config) applyEnv() {
	envStr(&c.Role, "BRIDGE_ROLE")

	envStr(&c.Broker.Environment, "BROKER_ENV")
	envStr(&c.Broker.Username, "BROKER_USERNAME")
	envStr(&c.Broker.Password, "BROKER_PASSWORD")
	envStr(&c.Broker.ClientSecret, "BROKER_CLIENT_SECRET")
	envStr(&c.Broker.RefreshToken, "BROKER_REFRESH_TOKEN")
	envStr(&c.Broker.AccountNumber, "BROKER_ACCOUNT_NUMBER")
	envStr(&c.Broker.BaseURL, "BROKER_BASE_URL")
	envStr(&c.Broker.StreamURL, "BROKER_STREAM_URL")

	envStr(&c.Chat.Token, "CHAT_TOKEN")
	envStr(&c.Chat.APIBaseURL, "CHAT_API_BASE_URL")
	envStr(&c.Chat.GatewayURL, "CHAT_GATEWAY_URL")
	envStr(&c.Chat.CoachChannelID, "COACH_CHANNEL_ID")
	envStr(&c.Chat.VIPChannelID, "VIP_CHANNEL_ID")
	envStr(&c.Chat.PremiumChannelID, "PREMIUM_CHANNEL_ID")
	envStr(&c.Chat.BasicChannelID, "BASIC_CHANNEL_ID")
	envStr(&c.Chat.VIPFillsChannelID, "VIP_FILLS_CHANNEL_ID")
	envStr(&c.Chat.PremiumFillsChannelID, "PREMIUM_FILLS_CHANNEL_ID")
	envStr(&c.Chat.BasicFillsChannelID, "BASIC_FILLS_CHANNEL_ID")
	envStr(&c.Chat.CommandChannelID, "COMMAND_CHANNEL_ID")
	envStr(&c.Chat.WebhookURL, "CHAT_WEBHOOK_URL")

	envStr(&c.Central.ServerURL, "CENTRAL_SERVER_URL")
	envStr(&c.Central.BotToken, "CENTRAL_BOT_TOKEN")
	envStr(&c.Central.SubscriberID, "CENTRAL_SUBSCRIBER_ID")
	envStr(&c.Central.DeploymentID, "DEPLOYMENT_ID")
	envStr(&c.Central.DiscordUserID, "CENTRAL_DISCORD_USER_ID")

	envStr(&c.Sizing.Method, "SIZING_METHOD")
	envInt(&c.Sizing.FixedQuantity, "FIXED_QUANTITY")
	envFloat(&c.Sizing.Multiplier, "MULTIPLIER")
	envFloat(&c.Sizing.Percentage, "PERCENTAGE")
	envDecimal(&c.Sizing.CoachBalance, "COACH_ACCOUNT_BALANCE")
	envDuration(&c.Sizing.BalanceCacheTTL, "BALANCE_CACHE_TTL")
	envInt(&c.Sizing.MinQuantity, "MIN_QUANTITY")
	envInt(&c.Sizing.MaxQuantity, "MAX_QUANTITY")

	envInt(&c.Safety.MaxDailyTrades, "MAX_DAILY_TRADES")
	envDecimal(&c.Safety.MaxDailyLoss, "MAX_DAILY_LOSS")

	envList(&c.Filter.EnabledSymbols, "ENABLED_SYMBOLS")
	envList(&c.Filter.EnabledActions, "ENABLED_ACTIONS")

	envStr(&c.Queue.Profile, "QUEUE_CONFIG_PROFILE")
	envInt(&c.Queue.MaxConcurrentOrders, "MAX_CONCURRENT_ORDERS")
	envDuration(&c.Queue.DelayBetweenOrders, "DELAY_BETWEEN_ORDERS")
	envInt(&c.Queue.MaxOrdersPerMinute, "MAX_ORDERS_PER_MINUTE")
	envInt(&c.Queue.PriorityThreshold, "PRIORITY_THRESHOLD")
	envBoolPtr(&c.Queue.EnableDryRunValidation, "ENABLE_DRY_RUN_VALIDATION")

	envStr(&c.Telemetry.MetricsAddr, "METRICS_ADDR")
	envStr(&c.Telemetry.LogLevel, "LOG_LEVEL")
}

func envStr(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func envInt(dst *int, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func envFloat(dst *float64, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = f
		}
	}
}

func envDecimal(dst *decimal.Decimal, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if d, err := decimal.NewFromString(v); err == nil {
			*dst = d
		}
	}
}

// envDuration accepts Go duration strings and bare seconds.
func envDuration(dst *time.Duration, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	if d, err := time.ParseDuration(v); err == nil {
		*dst = d
		return
	}
	if n, err := strconv.Atoi(v); err == nil {
		*dst = time.Duration(n) * time.Second
	}
}

func envBoolPtr(dst **bool, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = &b
		}
	}
}

// envList parses a comma-separated list, trimming whitespace and uppercasing
// entries so symbol and action filters compare case-insensitively.
func envList(dst *[]string, key string) {
	v, ok := os.LookupEnv(key)
	if !ok || v == "" {
		return
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		part = strings.ToUpper(strings.TrimSpace(part))
		if part != "" {
			out = append(out, part)
		}
	}
	if len(out) > 0 {
		*dst = out
	}
}
