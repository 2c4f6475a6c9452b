package services

import (
	"context"
	"errors"
	"math/big"
	"testing"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newLifecycleEnv(t *testing.T) (*testEnv, *LifecycleService, *models.Transaction) {
	t.Helper()
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeBroadcast, result.Outcome)

	lifecycle := NewLifecycleService(env.txRepo, env.registry, env.webhooks, time.Second, 50)
	return env, lifecycle, result.Transaction
}

func reloadTx(t *testing.T, env *testEnv, id string) *models.Transaction {
	t.Helper()
	tx, err := env.txRepo.GetByID(context.Background(), id)
	require.NoError(t, err)
	return tx
}

func TestPollAdvancesSubmittedToPending(t *testing.T) {
	env, lifecycle, tx := newLifecycleEnv(t)

	// no receipt yet: the transaction has been seen by the node but not mined
	lifecycle.PollOnce(context.Background())

	updated := reloadTx(t, env, tx.ID)
	assert.Equal(t, models.TxStatePending, updated.State)
	require.NotNil(t, updated.PendingAt)
	require.Len(t, updated.History, 2)
	assert.Equal(t, models.TxStateSubmitted, updated.History[1].From)
	assert.Equal(t, models.TxStatePending, updated.History[1].To)
}

func TestPollConfirmsOnSuccessReceipt(t *testing.T) {
	env, lifecycle, tx := newLifecycleEnv(t)

	env.adapter.setReceipt(tx.Hash, &chain.Receipt{
		Status:            1,
		BlockNumber:       1234,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(3),
	})
	lifecycle.PollOnce(context.Background())

	updated := reloadTx(t, env, tx.ID)
	assert.Equal(t, models.TxStateConfirmed, updated.State)
	require.NotNil(t, updated.ConfirmedAt)
	assert.Equal(t, uint64(1234), updated.BlockNumber)
	assert.Equal(t, uint64(21000), updated.GasUsed)
	assert.Equal(t, "63000", updated.ActualFee) // 21000 * 3
	assert.Empty(t, updated.FailReason)
}

func TestPollFailsOnRevertedReceipt(t *testing.T) {
	env, lifecycle, tx := newLifecycleEnv(t)

	env.adapter.setReceipt(tx.Hash, &chain.Receipt{
		Status:      0,
		BlockNumber: 1234,
		GasUsed:     21000,
	})
	lifecycle.PollOnce(context.Background())

	updated := reloadTx(t, env, tx.ID)
	assert.Equal(t, models.TxStateFailed, updated.State)
	require.NotNil(t, updated.FailedAt)
	assert.Equal(t, "reverted on chain", updated.FailReason)
}

func TestTerminalStateIsNotRepolled(t *testing.T) {
	env, lifecycle, tx := newLifecycleEnv(t)

	env.adapter.setReceipt(tx.Hash, &chain.Receipt{
		Status:            1,
		BlockNumber:       1234,
		GasUsed:           21000,
		EffectiveGasPrice: big.NewInt(1),
	})
	lifecycle.PollOnce(context.Background())

	confirmed := reloadTx(t, env, tx.ID)
	require.Equal(t, models.TxStateConfirmed, confirmed.State)
	historyLen := len(confirmed.History)

	// confirmed transactions drop out of the active set; repeated polls change nothing
	lifecycle.PollOnce(context.Background())
	lifecycle.PollOnce(context.Background())

	updated := reloadTx(t, env, tx.ID)
	assert.Equal(t, models.TxStateConfirmed, updated.State)
	assert.Len(t, updated.History, historyLen)
}

func TestAdapterErrorKeepsState(t *testing.T) {
	env, lifecycle, tx := newLifecycleEnv(t)

	env.adapter.receiptErr = errors.New("rpc: connection refused")
	lifecycle.PollOnce(context.Background())

	updated := reloadTx(t, env, tx.ID)
	assert.Equal(t, models.TxStateSubmitted, updated.State)
	assert.Len(t, updated.History, 1)
}

func TestStatusReflectsRunningAndLastPoll(t *testing.T) {
	_, lifecycle, _ := newLifecycleEnv(t)

	status := lifecycle.Status()
	assert.False(t, status.Running)
	assert.True(t, status.LastPollAt.IsZero())

	lifecycle.Start()
	defer lifecycle.Stop()

	lifecycle.PollOnce(context.Background())

	status = lifecycle.Status()
	assert.True(t, status.Running)
	assert.False(t, status.LastPollAt.IsZero())
	assert.Equal(t, 1, status.LastPollCount)
	assert.Equal(t, time.Second.String(), status.PollInterval)
	assert.Equal(t, 50, status.BatchSize)
}

func TestPollRespectsBatchSize(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)

	for i := 0; i < 3; i++ {
		_, err := env.settlement.Send(context.Background(), SendRequest{
			WalletAddress: testWallet,
			To:            testRecipient,
			Value:         "100",
		})
		require.NoError(t, err)
	}

	lifecycle := NewLifecycleService(env.txRepo, env.registry, env.webhooks, time.Second, 2)
	lifecycle.PollOnce(context.Background())

	active, err := env.txRepo.FindActive(context.Background())
	require.NoError(t, err)

	advanced := 0
	for _, tx := range active {
		if tx.State == models.TxStatePending {
			advanced++
		}
	}
	assert.Equal(t, 2, advanced)
}
