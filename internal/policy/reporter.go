package policy

import (
	"context"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/retry"
)

type jobKind int

const (
	jobTrade jobKind = iota
	jobPnL
)

type reportJob struct {
	kind    jobKind
	trade   core.TradeReport
	tradeID string
	pnl     decimal.Decimal
}

// reporter drains fire-and-forget reports on a single worker. Failures are
// logged and dropped; they never reach the order path.
type reporter struct {
	client *Client
	logger core.ILogger
	jobs   chan reportJob

	stopOnce sync.Once
	done     chan struct{}
	wg       sync.WaitGroup
}

func newReporter(client *Client, logger core.ILogger) *reporter {
	r := &reporter{
		client: client,
		logger: logger.WithField("component", "policy_reporter"),
		jobs:   make(chan reportJob, 256),
		done:   make(chan struct{}),
	}
	r.wg.Add(1)
	go r.run()
	return r
}

// submit never blocks: when the buffer is full the job is dropped with a log.
func (r *reporter) submit(job reportJob) {
	select {
	case <-r.done:
	case r.jobs <- job:
	default:
		r.logger.Warn("Report queue full, dropping report", "kind", job.kind)
	}
}

func (r *reporter) run() {
	defer r.wg.Done()
	for {
		select {
		case <-r.done:
			// Drain what is already buffered before exiting.
			for {
				select {
				case job := <-r.jobs:
					r.process(job)
				default:
					return
				}
			}
		case job := <-r.jobs:
			r.process(job)
		}
	}
}

func (r *reporter) process(job reportJob) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("Report worker panic recovered", "panic", p)
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), r.client.cfg.ReportTimeout)
	defer cancel()

	err := retry.Do(ctx, retry.DefaultPolicy, nil, func() error {
		switch job.kind {
		case jobTrade:
			body := map[string]any{
				"symbol":    job.trade.Symbol,
				"quantity":  job.trade.Quantity,
				"fillPrice": job.trade.FillPrice.String(),
				"pnl":       job.trade.PnL.String(),
				"timestamp": job.trade.Timestamp.Format(time.RFC3339),
			}
			_, err := r.client.client.Post(ctx, "/api/v1/report-trade", body)
			return err
		default:
			body := map[string]any{
				"tradeId": job.tradeID,
				"pnl":     job.pnl.String(),
			}
			_, err := r.client.client.Post(ctx, "/api/v1/update-pnl", body)
			return err
		}
	})
	if err != nil {
		r.logger.Warn("Report delivery failed", "kind", job.kind, "error", err)
	}
}

func (r *reporter) stop() {
	r.stopOnce.Do(func() { close(r.done) })
	r.wg.Wait()
}
