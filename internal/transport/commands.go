package transport

import (
	"context"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/olekukonko/tablewriter"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/internal/latency"
	"github.com/runnelsdev/copybridge/internal/queue"
)

// CommandHandler serves one operator command. The returned string is sent
// back to the commanding channel verbatim.
type CommandHandler func(ctx context.Context, args []string) (string, error)

// CommandRouter dispatches "!"-prefixed operator commands.
type CommandRouter struct {
	logger   core.ILogger
	handlers map[string]CommandHandler
}

func NewCommandRouter(logger core.ILogger) *CommandRouter {
	return &CommandRouter{
		logger:   logger.WithField("component", "command_router"),
		handlers: make(map[string]CommandHandler),
	}
}

// Register binds a handler to a command name (without the "!" prefix).
func (r *CommandRouter) Register(name string, handler CommandHandler) {
	r.handlers[strings.ToLower(name)] = handler
}

// Dispatch parses and serves a message. The second return is false when the
// message is not a command or the command is unknown.
func (r *CommandRouter) Dispatch(ctx context.Context, content string) (string, bool) {
	content = strings.TrimSpace(content)
	if !strings.HasPrefix(content, "!") {
		return "", false
	}

	parts := strings.Fields(content[1:])
	if len(parts) == 0 {
		return "", false
	}
	name := strings.ToLower(parts[0])
	handler, ok := r.handlers[name]
	if !ok {
		return "", false
	}

	reply, err := handler(ctx, parts[1:])
	if err != nil {
		r.logger.Warn("Command failed", "command", name, "error", err)
		return fmt.Sprintf("Command !%s failed: %v", name, err), true
	}
	return reply, true
}

// Commands lists the registered command names, sorted.
func (r *CommandRouter) Commands() []string {
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// RenderQueueStatus formats a queue snapshot as a monospace table.
func RenderQueueStatus(status queue.Status) string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.Header("Metric", "Value")
	table.Append("Queue length", strconv.Itoa(status.QueueLength))
	table.Append("Active orders", fmt.Sprintf("%d/%d", status.ActiveOrders, status.MaxConcurrent))
	table.Append("Window count", fmt.Sprintf("%d/%d", status.WindowCount, status.MaxOrdersPerMinute))
	table.Append("Dry runs (window)", strconv.Itoa(status.DryRunsWindow))
	table.Append("Total processed", strconv.Itoa(status.TotalProcessed))
	table.Append("Total failed", strconv.Itoa(status.TotalFailed))
	table.Render()
	return "```\n" + sb.String() + "```"
}

// RenderLatencyStats formats per-source latency statistics as a table.
func RenderLatencyStats(overall latency.Stats, bySource map[string]latency.Stats) string {
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.Header("Source", "Count", "Mean", "P50", "P95", "P99", "Max")

	appendRow := func(name string, s latency.Stats) {
		table.Append(name,
			strconv.Itoa(s.Count),
			fmt.Sprintf("%.0fms", s.MeanMs),
			fmt.Sprintf("%.0fms", s.P50Ms),
			fmt.Sprintf("%.0fms", s.P95Ms),
			fmt.Sprintf("%.0fms", s.P99Ms),
			fmt.Sprintf("%.0fms", s.MaxMs))
	}
	appendRow("all", overall)

	sources := make([]string, 0, len(bySource))
	for source := range bySource {
		sources = append(sources, source)
	}
	sort.Strings(sources)
	for _, source := range sources {
		appendRow(source, bySource[source])
	}
	table.Render()
	return "```\n" + sb.String() + "```"
}

// RenderTradingStatus formats the policy snapshot for !central-status.
func RenderTradingStatus(status *core.TradingStatus) string {
	if status == nil {
		return "Not authenticated with the policy server."
	}
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.Header("Field", "Value")
	table.Append("Can trade", strconv.FormatBool(status.CanTrade))
	table.Append("Tier", status.Tier)
	table.Append("Max position", "$"+status.MaxPositionSize.StringFixed(2))
	table.Append("Monthly used", "$"+status.MonthlyProfitUsed.StringFixed(2))
	table.Append("Monthly cap", "$"+status.MonthlyCapLimit.StringFixed(2))
	table.Append("Valid until", status.ValidUntil.Format(time.RFC3339))
	if status.Reason != "" {
		table.Append("Reason", status.Reason)
	}
	table.Render()
	return "```\n" + sb.String() + "```"
}

// RenderLiveOrders formats the broker's working orders for !live-status.
func RenderLiveOrders(orders []core.LiveOrder) string {
	if len(orders) == 0 {
		return "No live orders."
	}
	var sb strings.Builder
	table := tablewriter.NewWriter(&sb)
	table.Header("Order", "Symbol", "Type", "TIF", "Status")
	for _, o := range orders {
		table.Append(o.OrderID, o.Symbol, string(o.OrderType), string(o.TimeInForce), o.Status)
	}
	table.Render()
	return "```\n" + sb.String() + "```"
}

// ParseQueueOrderArgs parses "!queue-order SYMBOL QTY ACTION [PRIO]".
func ParseQueueOrderArgs(args []string) (symbol string, qty int, action core.Action, priority int, err error) {
	if len(args) < 3 {
		return "", 0, "", 0, fmt.Errorf("usage: !queue-order SYMBOL QTY ACTION [PRIO]")
	}
	symbol = strings.ToUpper(args[0])
	qty, err = strconv.Atoi(args[1])
	if err != nil || qty <= 0 {
		return "", 0, "", 0, fmt.Errorf("quantity must be a positive integer")
	}
	action = core.Action(args[2])
	if len(args) >= 4 {
		priority, err = strconv.Atoi(args[3])
		if err != nil || priority < 0 || priority > 10 {
			return "", 0, "", 0, fmt.Errorf("priority must be an integer in [0,10]")
		}
	}
	return symbol, qty, action, priority, nil
}
