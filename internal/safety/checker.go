package safety

import (
	"context"
	"fmt"

	"github.com/runnelsdev/copybridge/internal/core"
)

// AccountChecker performs the pre-start account safety check: the configured
// account must exist, carry a positive net liquidation and have buying power
// available before any role starts copying.
type AccountChecker struct {
	broker core.IBrokerGateway
	logger core.ILogger
}

func NewAccountChecker(broker core.IBrokerGateway, logger core.ILogger) *AccountChecker {
	return &AccountChecker{broker: broker, logger: logger.WithField("component", "account_checker")}
}

// CheckAccount validates the follower account before trading starts.
func (c *AccountChecker) CheckAccount(ctx context.Context, accountNumber string) error {
	c.logger.Info("Starting account safety check", "account", accountNumber)

	accounts, err := c.broker.GetAccounts(ctx)
	if err != nil {
		return fmt.Errorf("failed to list accounts: %w", err)
	}
	found := false
	for _, acct := range accounts {
		if acct.AccountNumber == accountNumber {
			found = true
			break
		}
	}
	if !found {
		return fmt.Errorf("account %s not accessible with these credentials", accountNumber)
	}

	balance, err := c.broker.GetBalances(ctx, accountNumber)
	if err != nil {
		return fmt.Errorf("failed to get balances: %w", err)
	}
	if !balance.NetLiquidation.IsPositive() {
		return fmt.Errorf("account has no equity: net liquidation %s", balance.NetLiquidation)
	}
	if !balance.BuyingPower.IsPositive() && !balance.DerivativeBP.IsPositive() {
		return fmt.Errorf("account has no buying power")
	}

	positions, err := c.broker.GetPositions(ctx, accountNumber)
	if err != nil {
		return fmt.Errorf("failed to get positions: %w", err)
	}
	if len(positions) > 0 {
		c.logger.Info("Account carries existing positions", "count", len(positions))
	}

	c.logger.Info("Account safety check passed",
		"account", accountNumber,
		"netLiquidation", balance.NetLiquidation.String())
	return nil
}
