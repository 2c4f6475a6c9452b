package services

import (
	"context"
	"math/big"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSimulateComputesFeeImpact(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balance = big.NewInt(1_000_000)
	adapter.gas = 21000
	adapter.gasPrice = big.NewInt(2)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	result, err := svc.Simulate(context.Background(), testWallet, testRecipient, big.NewInt(100_000), "sepolia", Guardrails{})
	require.NoError(t, err)
	assert.Equal(t, int64(42000), result.EstimatedFee.Int64())
	assert.Equal(t, int64(142000), result.TotalImpact.Int64())
	assert.Equal(t, int64(858000), result.ProjectedPostBalance.Int64())
}

func TestSimulateStaticGuards(t *testing.T) {
	svc := NewPreflightService(newTestRegistry(newFakeAdapter()), nil)
	ctx := context.Background()

	_, err := svc.Simulate(ctx, testWallet, "not-an-address", big.NewInt(100), "sepolia", Guardrails{})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailInvalidRecipient, ge.Code)

	_, err = svc.Simulate(ctx, testWallet, testWallet, big.NewInt(100), "sepolia", Guardrails{})
	ge, ok = IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailSelfSendBlocked, ge.Code)

	// explicit override allows self-send
	_, err = svc.Simulate(ctx, testWallet, testWallet, big.NewInt(100), "sepolia", Guardrails{AllowSelfSend: true})
	assert.NoError(t, err)

	_, err = svc.Simulate(ctx, testWallet, testRecipient, big.NewInt(0), "sepolia", Guardrails{})
	ge, ok = IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailNonPositiveValue, ge.Code)

	_, err = svc.Simulate(ctx, testWallet, testRecipient, big.NewInt(5), "sepolia", Guardrails{DustFloor: big.NewInt(10)})
	ge, ok = IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailBelowDustFloor, ge.Code)
}

func TestSimulateInsufficientBalance(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balance = big.NewInt(1000)
	adapter.gas = 100
	adapter.gasPrice = big.NewInt(5)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	_, err := svc.Simulate(context.Background(), testWallet, testRecipient, big.NewInt(600), "sepolia", Guardrails{})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailInsufficientBalance, ge.Code)
}

func TestSimulateFeeCap(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gas = 21000
	adapter.gasPrice = big.NewInt(10)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	_, err := svc.Simulate(context.Background(), testWallet, testRecipient, big.NewInt(100), "sepolia", Guardrails{MaxFeeCap: big.NewInt(100_000)})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailFeeCapExceeded, ge.Code)
}

func TestSimulateGasDriftGuard(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.gasPrice = big.NewInt(130)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	// 20% guard over a reference of 100: ceiling 120, live 130 trips
	_, err := svc.Simulate(context.Background(), testWallet, testRecipient, big.NewInt(100), "sepolia", Guardrails{
		GasGuardBps:       2000,
		ReferenceGasPrice: big.NewInt(100),
	})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailGasPriceDrift, ge.Code)

	// live at exactly the ceiling passes
	adapter.gasPrice = big.NewInt(120)
	_, err = svc.Simulate(context.Background(), testWallet, testRecipient, big.NewInt(100), "sepolia", Guardrails{
		GasGuardBps:       2000,
		ReferenceGasPrice: big.NewInt(100),
	})
	assert.NoError(t, err)
}

func TestSimulateSweepDerivesValue(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balance = big.NewInt(100_000)
	adapter.gas = 500
	adapter.gasPrice = big.NewInt(1)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	result, err := svc.SimulateSweep(context.Background(), testWallet, testRecipient, "sepolia", Guardrails{})
	require.NoError(t, err)
	assert.Equal(t, int64(99_500), result.Value.Int64())
	assert.Equal(t, int64(0), result.ProjectedPostBalance.Int64())
}

func TestSimulateSweepCannotCoverGas(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balance = big.NewInt(400)
	adapter.gas = 500
	adapter.gasPrice = big.NewInt(1)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	_, err := svc.SimulateSweep(context.Background(), testWallet, testRecipient, "sepolia", Guardrails{})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailInsufficientBalance, ge.Code)
	assert.Contains(t, ge.Message, "insufficient balance to cover gas")
}

func TestSimulateSweepDustFloorChecksDerivedAmount(t *testing.T) {
	adapter := newFakeAdapter()
	adapter.balance = big.NewInt(100_000)
	adapter.gas = 21000
	adapter.gasPrice = big.NewInt(1)
	svc := NewPreflightService(newTestRegistry(adapter), nil)

	// the dust floor applies to the derived sweep amount, not to the
	// placeholder value used for the static checks
	result, err := svc.SimulateSweep(context.Background(), testWallet, testRecipient, "sepolia", Guardrails{DustFloor: big.NewInt(1000)})
	require.NoError(t, err)
	assert.Equal(t, int64(79_000), result.Value.Int64())

	// a remainder below the floor is still rejected
	adapter.balance = big.NewInt(21_800)
	_, err = svc.SimulateSweep(context.Background(), testWallet, testRecipient, "sepolia", Guardrails{DustFloor: big.NewInt(1000)})
	ge, ok := IsGuardrailError(err)
	require.True(t, ok)
	assert.Equal(t, GuardrailBelowDustFloor, ge.Code)
}
