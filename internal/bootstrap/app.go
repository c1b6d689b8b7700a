// Package bootstrap wires the bridge's components for each role and owns the
// process lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/runnelsdev/copybridge/internal/broadcast"
	"github.com/runnelsdev/copybridge/internal/broker"
	"github.com/runnelsdev/copybridge/internal/config"
	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/engine"
	"github.com/runnelsdev/copybridge/internal/infrastructure/health"
	"github.com/runnelsdev/copybridge/internal/infrastructure/metrics"
	"github.com/runnelsdev/copybridge/internal/latency"
	"github.com/runnelsdev/copybridge/internal/policy"
	"github.com/runnelsdev/copybridge/internal/queue"
	"github.com/runnelsdev/copybridge/internal/risk"
	"github.com/runnelsdev/copybridge/internal/safety"
	"github.com/runnelsdev/copybridge/internal/sizing"
	"github.com/runnelsdev/copybridge/internal/transport"
	"github.com/runnelsdev/copybridge/pkg/logging"
	"github.com/runnelsdev/copybridge/pkg/telemetry"
)

// Runner is a long-lived component driven by the app lifecycle.
type Runner interface {
	Run(ctx context.Context) error
}

// RunnerFunc adapts a function to the Runner interface.
type RunnerFunc func(ctx context.Context) error

func (f RunnerFunc) Run(ctx context.Context) error { return f(ctx) }

// App holds the wired components for one role process.
type App struct {
	Cfg       *config.Config
	Role      string
	Logger    core.ILogger
	Telemetry *telemetry.Telemetry

	Broker      *broker.Gateway
	Policy      *policy.Client
	Sizer       *sizing.Sizer
	Guard       *safety.DailyGuard
	Queue       *queue.OrderQueue
	Risk        *risk.Checker
	Latency     *latency.Monitor
	Chat        *transport.ChatClient
	ChatGateway *transport.ChatGateway
	Broadcaster *broadcast.FillBroadcaster
	Engine      *engine.CopyEngine
	Health      *health.Monitor
	Metrics     *metrics.Server
	Commands    *transport.CommandRouter
}

// NewApp loads configuration, installs telemetry and logging, and wires the
// component graph. Role defaults to the configured role.
func NewApp(configPath, role string) (*App, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	if role == "" {
		role = cfg.Role
	}
	if role == "" {
		role = "engine"
	}

	tel, err := telemetry.Setup("copybridge")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}

	zapLogger, err := logging.NewZapLogger(cfg.Telemetry.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(zapLogger)
	logger := zapLogger.WithField("role", role)

	app := &App{Cfg: cfg, Role: role, Logger: logger, Telemetry: tel}
	app.wire()
	return app, nil
}

// wire builds the component graph. Every role gets the full graph; the role
// decides which runners actually start.
func (a *App) wire() {
	cfg := a.Cfg
	clock := core.SystemClock{}

	a.Broker = broker.NewGateway(broker.Config{
		BaseURL:       cfg.Broker.BaseURL,
		StreamURL:     cfg.Broker.StreamURL,
		Username:      cfg.Broker.Username,
		Password:      cfg.Broker.Password,
		ClientSecret:  cfg.Broker.ClientSecret,
		RefreshToken:  cfg.Broker.RefreshToken,
		Environment:   cfg.Broker.Environment,
		AccountNumber: cfg.Broker.AccountNumber,
		RateLimit:     float64(cfg.Broker.RateLimit),
		RateBurst:     cfg.Broker.RateBurst,
	}, a.Logger)

	if cfg.Central.ServerURL != "" {
		a.Policy = policy.NewClient(policy.Config{
			ServerURL:     cfg.Central.ServerURL,
			BotToken:      cfg.Central.BotToken,
			SubscriberID:  cfg.Central.SubscriberID,
			DeploymentID:  cfg.Central.DeploymentID,
			DiscordUserID: cfg.Central.DiscordUserID,
		}, clock, a.Logger)
	}

	a.Sizer = sizing.NewSizer(sizing.Config{
		Method:        sizing.Method(cfg.Sizing.Method),
		FixedQuantity: cfg.Sizing.FixedQuantity,
		Multiplier:    cfg.Sizing.Multiplier,
		Percentage:    cfg.Sizing.Percentage,
		CoachBalance:  cfg.Sizing.CoachBalance,
		MinQuantity:   cfg.Sizing.MinQuantity,
		MaxQuantity:   cfg.Sizing.MaxQuantity,
		CacheTTL:      cfg.Sizing.BalanceCacheTTL,
	}, a.Broker, cfg.Broker.AccountNumber, clock, a.Logger)

	a.Guard = safety.NewDailyGuard(safety.Limits{
		MaxDailyTrades: cfg.Safety.MaxDailyTrades,
		MaxDailyLoss:   cfg.Safety.MaxDailyLoss,
	}, clock)

	a.Latency = latency.NewMonitor(clock, a.Logger)

	a.Queue = queue.NewOrderQueue(queue.Config{
		AccountNumber:          cfg.Broker.AccountNumber,
		MaxConcurrentOrders:    cfg.Queue.MaxConcurrentOrders,
		DelayBetweenOrders:     cfg.Queue.DelayBetweenOrders,
		MaxOrdersPerMinute:     cfg.Queue.MaxOrdersPerMinute,
		PriorityThreshold:      cfg.Queue.PriorityThreshold,
		EnableDryRunValidation: cfg.Queue.DryRunEnabled(),
	}, a.Broker, a.Latency, clock, a.Logger)

	var policyForRisk core.IPolicyClient
	if a.Policy != nil {
		policyForRisk = a.Policy
	}
	a.Risk = risk.NewChecker(policyForRisk, a.Logger)
	a.Queue.RiskCheck = a.Risk.Check

	if cfg.Chat.Token != "" {
		a.Chat = transport.NewChatClient(transport.ChatConfig{
			BaseURL: cfg.Chat.APIBaseURL,
			Token:   cfg.Chat.Token,
		}, a.Logger)
	}
	if cfg.Chat.GatewayURL != "" {
		a.ChatGateway = transport.NewChatGateway(cfg.Chat.GatewayURL, a.Logger)
	}

	var chatTransport core.IChatTransport
	channels := broadcast.ChannelMap{
		Signals: map[core.Tier]string{},
		Fills:   map[core.Tier]string{},
	}
	if a.Chat != nil {
		// Without a transport the channel map stays empty, so every tier
		// delivery degrades to a skip.
		chatTransport = a.Chat
		channels.Signals[core.TierVIP] = cfg.Chat.VIPChannelID
		channels.Signals[core.TierPremium] = cfg.Chat.PremiumChannelID
		channels.Signals[core.TierBasic] = cfg.Chat.BasicChannelID
		channels.Fills[core.TierVIP] = cfg.Chat.VIPFillsChannelID
		channels.Fills[core.TierPremium] = cfg.Chat.PremiumFillsChannelID
		channels.Fills[core.TierBasic] = cfg.Chat.BasicFillsChannelID
	}
	a.Broadcaster = broadcast.NewFillBroadcaster(chatTransport,
		broadcast.NewTierRouter(false), broadcast.NewSignalTierMemory(),
		channels, clock, a.Logger)

	var policyForEngine core.IPolicyClient
	if a.Policy != nil {
		policyForEngine = a.Policy
	}
	a.Engine = engine.NewCopyEngine(engine.Config{
		EnabledSymbols: cfg.Filter.EnabledSymbols,
		EnabledActions: cfg.Filter.EnabledActions,
	}, policyForEngine, a.Sizer, a.Queue, a.Broadcaster, a.Guard, a.Latency, clock, a.Logger)

	a.Health = health.NewMonitor(a.Logger)
	addr := cfg.Telemetry.MetricsAddr
	if addr == "" {
		addr = ":9090"
	}
	a.Metrics = metrics.NewServer(addr, a.Health, a.Logger)

	a.Commands = transport.NewCommandRouter(a.Logger)
	a.registerCommands()
}

// Startup authenticates external services and runs the pre-start account
// check. Roles that never trade skip the sizing seed.
func (a *App) Startup(ctx context.Context) error {
	if err := a.Broker.Authenticate(ctx); err != nil {
		return fmt.Errorf("broker authentication: %w", err)
	}

	if a.Policy != nil {
		if err := a.Policy.Authenticate(ctx); err != nil {
			return fmt.Errorf("policy authentication: %w", err)
		}
	}

	checker := safety.NewAccountChecker(a.Broker, a.Logger)
	if err := checker.CheckAccount(ctx, a.Cfg.Broker.AccountNumber); err != nil {
		return fmt.Errorf("account safety check: %w", err)
	}

	if a.Role == "engine" {
		if err := a.Sizer.InitializeSizing(ctx); err != nil {
			return fmt.Errorf("sizing initialization: %w", err)
		}
	}
	return nil
}

// Run starts the runners and blocks until a signal arrives or a runner fails.
func (a *App) Run(runners ...Runner) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	a.Logger.Info("Starting", "role", a.Role, "runners", len(runners))

	for _, runner := range runners {
		r := runner
		g.Go(func() error {
			return r.Run(ctx)
		})
	}

	err := g.Wait()
	a.shutdown()
	if err != nil && err != context.Canceled {
		a.Logger.Error("Stopped with error", "error", err)
		return err
	}
	a.Logger.Info("Shut down cleanly")
	return nil
}

func (a *App) shutdown() {
	a.Queue.Close()
	a.Broadcaster.Close()
	if a.Policy != nil {
		a.Policy.Close()
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := a.Telemetry.Shutdown(ctx); err != nil {
		a.Logger.Warn("Telemetry shutdown incomplete", "error", err)
	}
}
