package safety

import (
	"context"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/runnelsdev/copybridge/internal/core"
	"github.com/runnelsdev/copybridge/pkg/logging"
)

type mockBroker struct {
	core.IBrokerGateway
	accounts  []core.Account
	balance   *core.AccountBalance
	positions []core.Position
}

func (m *mockBroker) GetAccounts(ctx context.Context) ([]core.Account, error) {
	return m.accounts, nil
}

func (m *mockBroker) GetBalances(ctx context.Context, account string) (*core.AccountBalance, error) {
	return m.balance, nil
}

func (m *mockBroker) GetPositions(ctx context.Context, account string) ([]core.Position, error) {
	return m.positions, nil
}

func healthyBroker() *mockBroker {
	return &mockBroker{
		accounts: []core.Account{{AccountNumber: "ACC-1"}},
		balance: &core.AccountBalance{
			NetLiquidation: decimal.NewFromInt(25000),
			BuyingPower:    decimal.NewFromInt(50000),
		},
	}
}

func TestCheckAccount_Passes(t *testing.T) {
	checker := NewAccountChecker(healthyBroker(), logging.GetGlobalLogger())
	require.NoError(t, checker.CheckAccount(context.Background(), "ACC-1"))
}

func TestCheckAccount_UnknownAccount(t *testing.T) {
	checker := NewAccountChecker(healthyBroker(), logging.GetGlobalLogger())
	err := checker.CheckAccount(context.Background(), "ACC-9")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "not accessible")
}

func TestCheckAccount_NoEquity(t *testing.T) {
	broker := healthyBroker()
	broker.balance.NetLiquidation = decimal.Zero
	checker := NewAccountChecker(broker, logging.GetGlobalLogger())
	err := checker.CheckAccount(context.Background(), "ACC-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "no equity")
}

func TestCheckAccount_NoBuyingPower(t *testing.T) {
	broker := healthyBroker()
	broker.balance.BuyingPower = decimal.Zero
	checker := NewAccountChecker(broker, logging.GetGlobalLogger())
	err := checker.CheckAccount(context.Background(), "ACC-1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "buying power")
}

func TestCheckAccount_DerivativeBPCounts(t *testing.T) {
	broker := healthyBroker()
	broker.balance.BuyingPower = decimal.Zero
	broker.balance.DerivativeBP = decimal.NewFromInt(10000)
	checker := NewAccountChecker(broker, logging.GetGlobalLogger())
	require.NoError(t, checker.CheckAccount(context.Background(), "ACC-1"))
}
