package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/runnelsdev/copybridge/internal/broker"
	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/queue"
	"github.com/runnelsdev/copybridge/internal/signalparse"
	"github.com/runnelsdev/copybridge/internal/supervisor"
	"github.com/runnelsdev/copybridge/internal/transport"
)

// Runners assembles the long-lived components for the app's role.
func (a *App) Runners() ([]Runner, error) {
	switch a.Role {
	case "engine":
		return a.engineRunners(), nil
	case "follower":
		return a.followerRunners(), nil
	case "streamer":
		return a.streamerRunners(), nil
	case "simulator":
		return a.simulatorRunners(), nil
	default:
		return nil, fmt.Errorf("unknown role %q", a.Role)
	}
}

// engineRunners is the full copy pipeline: queue dispatch, account stream,
// chat gateway, health and metrics.
func (a *App) engineRunners() []Runner {
	runners := []Runner{
		a.queueRunner(),
		a.accountStreamRunner(),
		a.healthRunner(),
		a.Metrics,
	}
	if a.ChatGateway != nil {
		a.subscribeChat()
		runners = append(runners, a.ChatGateway)
	}
	if a.Policy != nil {
		runners = append(runners, a.policyRefreshRunner())
	}
	return runners
}

// followerRunners only mirrors fills: account stream plus broadcast, no
// trading surface.
func (a *App) followerRunners() []Runner {
	return []Runner{
		a.accountStreamRunner(),
		a.healthRunner(),
		a.Metrics,
	}
}

// streamerRunners feeds quotes into the risk checker's mid-price cache.
func (a *App) streamerRunners() []Runner {
	return []Runner{
		RunnerFunc(func(ctx context.Context) error {
			symbols := a.Cfg.Filter.EnabledSymbols
			if err := a.Broker.StartQuoteStream(ctx, symbols, a.Risk.UpdateQuote); err != nil {
				return err
			}
			<-ctx.Done()
			return ctx.Err()
		}),
		a.healthRunner(),
		a.Metrics,
	}
}

// simulatorRunners serves only the command channel, generating synthetic
// stream events for rehearsals.
func (a *App) simulatorRunners() []Runner {
	runners := []Runner{a.healthRunner(), a.Metrics}
	if a.ChatGateway != nil {
		a.subscribeChat()
		runners = append(runners, a.ChatGateway)
	}
	return runners
}

func (a *App) queueRunner() Runner {
	return RunnerFunc(func(ctx context.Context) error {
		a.Queue.Start(ctx)
		<-ctx.Done()
		return ctx.Err()
	})
}

func (a *App) accountStreamRunner() Runner {
	return RunnerFunc(func(ctx context.Context) error {
		handler := func(event []byte) {
			a.Engine.HandleStreamEvent(ctx, event)
		}
		if err := a.Broker.StartAccountStream(ctx, a.Cfg.Broker.AccountNumber, handler); err != nil {
			return err
		}
		<-ctx.Done()
		return ctx.Err()
	})
}

func (a *App) healthRunner() Runner {
	a.Health.Register("order_queue", func() error {
		status := a.Queue.Status()
		if status.ActiveOrders > status.MaxConcurrent {
			return fmt.Errorf("active orders %d exceed cap %d", status.ActiveOrders, status.MaxConcurrent)
		}
		return nil
	})
	if a.Policy != nil {
		a.Health.Register("policy", func() error {
			if a.Policy.Status() == nil {
				return fmt.Errorf("not authenticated")
			}
			return nil
		})
	}
	return RunnerFunc(func(ctx context.Context) error {
		a.Health.Run(ctx, 30*time.Second)
		return ctx.Err()
	})
}

// policyRefreshRunner keeps the trading status fresh across the day.
func (a *App) policyRefreshRunner() Runner {
	return RunnerFunc(func(ctx context.Context) error {
		ticker := time.NewTicker(5 * time.Minute)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				if err := a.Policy.RefreshStatus(ctx); err != nil {
					a.Logger.Warn("Policy status refresh failed", "error", err)
				}
			}
		}
	})
}

// subscribeChat routes the coach channel into the engine and the command
// channel into the command router.
func (a *App) subscribeChat() {
	coach := a.Cfg.Chat.CoachChannelID
	if coach != "" {
		a.ChatGateway.Subscribe(coach, func(ctx context.Context, msg *transport.InboundMessage) {
			a.Engine.ProcessCoachMessage(ctx, msg.Message)
		})
	}

	command := a.Cfg.Chat.CommandChannelID
	if command != "" {
		a.ChatGateway.Subscribe(command, func(ctx context.Context, msg *transport.InboundMessage) {
			reply, handled := a.Commands.Dispatch(ctx, msg.Message.Content)
			if !handled || reply == "" || a.Chat == nil {
				return
			}
			if _, err := a.Chat.SendMessage(ctx, command, &core.ChatMessage{Content: reply}); err != nil {
				a.Logger.Warn("Failed to send command reply", "error", err)
			}
		})
	}
}

// registerCommands binds the operator commands.
func (a *App) registerCommands() {
	a.Commands.Register("queue-status", func(ctx context.Context, args []string) (string, error) {
		return transport.RenderQueueStatus(a.Queue.Status()), nil
	})

	a.Commands.Register("latency-stats", func(ctx context.Context, args []string) (string, error) {
		window := time.Hour
		overall := a.Latency.Stats(core.LatencyOrder, window)
		return transport.RenderLatencyStats(overall, a.Latency.StatsBySource(core.LatencyOrder, window)), nil
	})

	a.Commands.Register("central-status", func(ctx context.Context, args []string) (string, error) {
		if a.Policy == nil {
			return "No policy server configured.", nil
		}
		return transport.RenderTradingStatus(a.Policy.Status()), nil
	})

	a.Commands.Register("live-status", func(ctx context.Context, args []string) (string, error) {
		orders, err := a.Broker.GetLiveOrders(ctx, a.Cfg.Broker.AccountNumber)
		if err != nil {
			return "", err
		}
		return transport.RenderLiveOrders(orders), nil
	})

	a.Commands.Register("queue-order", func(ctx context.Context, args []string) (string, error) {
		symbol, qty, action, priority, err := transport.ParseQueueOrderArgs(args)
		if err != nil {
			return "", err
		}
		signal := &core.Signal{
			Symbol:     symbol,
			Action:     signalparse.NormalizeAction(string(action)),
			Quantity:   qty,
			Instrument: core.Equity,
			Timestamp:  time.Now(),
			Source:     "command",
		}
		payload, err := broker.BuildPayload(signal, qty)
		if err != nil {
			return "", err
		}
		a.Queue.Enqueue(ctx, payload, queue.EnqueueOptions{Priority: priority, Source: "command"})
		return fmt.Sprintf("Queued %d %s %s at priority %d", qty, symbol, signal.Action, priority), nil
	})

	a.Commands.Register("clear-queue", func(ctx context.Context, args []string) (string, error) {
		cleared := a.Queue.ClearQueue()
		return fmt.Sprintf("Cleared %d pending orders.", cleared), nil
	})

	a.Commands.Register("reconnect", func(ctx context.Context, args []string) (string, error) {
		if err := a.Broker.Authenticate(ctx); err != nil {
			return "", err
		}
		return "Broker session refreshed.", nil
	})

	a.Commands.Register("test-fill", func(ctx context.Context, args []string) (string, error) {
		event, err := syntheticFill(args)
		if err != nil {
			return "", err
		}
		a.Engine.HandleStreamEvent(ctx, event)
		return "Test fill injected.", nil
	})

	a.Commands.Register("sim", func(ctx context.Context, args []string) (string, error) {
		if len(args) < 1 {
			return "", fmt.Errorf("usage: !sim fill|signal ...")
		}
		switch args[0] {
		case "fill":
			event, err := syntheticFill(args[1:])
			if err != nil {
				return "", err
			}
			a.Engine.HandleStreamEvent(ctx, event)
			return "Simulated fill injected.", nil
		case "signal":
			if len(args) < 4 {
				return "", fmt.Errorf("usage: !sim signal SYMBOL QTY ACTION")
			}
			qty, err := strconv.Atoi(args[2])
			if err != nil || qty <= 0 {
				return "", fmt.Errorf("quantity must be a positive integer")
			}
			result := a.Engine.HandleSignal(ctx, &core.Signal{
				ID:         fmt.Sprintf("sim_%d", time.Now().UnixMilli()),
				Symbol:     args[1],
				Action:     signalparse.NormalizeAction(args[3]),
				Quantity:   qty,
				Instrument: core.Equity,
				Timestamp:  time.Now(),
				Source:     "simulator",
			})
			if result.Err != nil {
				return "", result.Err
			}
			if !result.Success {
				return fmt.Sprintf("Simulated signal skipped: %s", result.Reason), nil
			}
			return fmt.Sprintf("Simulated signal queued as %d contracts.", result.Quantity), nil
		default:
			return "", fmt.Errorf("usage: !sim fill|signal ...")
		}
	})
}

// syntheticFill renders a Fill-shaped stream event from "SYMBOL QTY [PRICE]".
func syntheticFill(args []string) ([]byte, error) {
	if len(args) < 2 {
		return nil, fmt.Errorf("usage: SYMBOL QTY [PRICE]")
	}
	qty, err := strconv.Atoi(args[1])
	if err != nil || qty <= 0 {
		return nil, fmt.Errorf("quantity must be a positive integer")
	}
	price := "1.00"
	if len(args) >= 3 {
		price = args[2]
	}
	return json.Marshal(map[string]any{
		"type":            "Fill",
		"symbol":          args[0],
		"action":          "BOUGHT",
		"quantity":        qty,
		"price":           price,
		"status":          "Filled",
		"order-id":        fmt.Sprintf("sim_%d", time.Now().UnixMilli()),
		"instrument-type": "Equity",
	})
}

// SupervisorRunner builds the process supervisor for the worker roles.
func (a *App) SupervisorRunner(roles ...string) Runner {
	sup := supervisor.New(supervisor.Config{}, core.SystemClock{}, a.Logger)
	for _, role := range roles {
		sup.Add(supervisor.RoleSpec{
			Name: role,
			Args: []string{"--role", role},
		})
	}
	return sup
}
