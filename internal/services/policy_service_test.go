package services

import (
	"context"
	"math/big"
	"sync"
	"testing"
	"time"

	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testWallet    = "0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa"
	testRecipient = "0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb"
)

func newPolicyService() *PolicyService {
	return NewPolicyService(repository.NewMemoryPolicyRepository())
}

func TestEvaluateNoPolicy(t *testing.T) {
	svc := newPolicyService()

	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(1_000_000), DayKey(time.Now()))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ReasonNoPolicy, decision.ReasonCode)
}

func TestEvaluateDisabledPolicy(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       false,
		PerTxLimit:    strPtr("1"),
	})
	require.NoError(t, err)

	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(100), DayKey(time.Now()))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
	assert.Equal(t, models.ReasonPolicyDisabled, decision.ReasonCode)
}

func TestBlockedOverridesAllowed(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress:     testWallet,
		Enabled:           true,
		AllowedRecipients: models.StringList{testRecipient},
		BlockedRecipients: models.StringList{testRecipient},
	})
	require.NoError(t, err)

	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(1), DayKey(time.Now()))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonBlockedRecipient, decision.ReasonCode)
	assert.False(t, decision.RequiresApproval)
}

func TestAllowlistMiss(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress:     testWallet,
		Enabled:           true,
		AllowedRecipients: models.StringList{"0xcccccccccccccccccccccccccccccccccccccccc"},
	})
	require.NoError(t, err)

	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(1), DayKey(time.Now()))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonRecipientNotAllowed, decision.ReasonCode)
}

func TestPerTxCapExceeded(t *testing.T) {
	svc := newPolicyService()
	// 0.01 ETH in wei
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		PerTxLimit:    strPtr("10000000000000000"),
	})
	require.NoError(t, err)

	// 0.015 ETH exceeds the cap but is approvable
	value, _ := new(big.Int).SetString("15000000000000000", 10)
	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, value, DayKey(time.Now()))
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonPerTxCapExceeded, decision.ReasonCode)
	assert.True(t, decision.RequiresApproval)

	// exactly at the cap passes
	atCap, _ := new(big.Int).SetString("10000000000000000", 10)
	decision, err = svc.Evaluate(context.Background(), testWallet, testRecipient, atCap, DayKey(time.Now()))
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestDailyCapCountsRecordedSpend(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("1000"),
	})
	require.NoError(t, err)

	now := time.Now()
	dayKey := DayKey(now)

	decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(800), dayKey)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)

	require.NoError(t, svc.Record(context.Background(), testWallet, big.NewInt(800), now))

	decision, err = svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(300), dayKey)
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, models.ReasonDailyCapExceeded, decision.ReasonCode)
	assert.True(t, decision.RequiresApproval)

	// remaining headroom is still usable
	decision, err = svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(200), dayKey)
	require.NoError(t, err)
	assert.True(t, decision.Allowed)
}

func TestRecordConcurrentNoLostUpdates(t *testing.T) {
	svc := newPolicyService()
	now := time.Now()

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = svc.Record(context.Background(), testWallet, big.NewInt(10), now)
		}()
	}
	wg.Wait()

	spent, err := svc.GetUsage(context.Background(), testWallet, DayKey(now))
	require.NoError(t, err)
	assert.Equal(t, int64(500), spent.Int64())
}

func TestSetPolicyOverwritesAndBumpsVersion(t *testing.T) {
	svc := newPolicyService()

	first, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress:     testWallet,
		Enabled:           true,
		PerTxLimit:        strPtr("100"),
		AllowedRecipients: models.StringList{testRecipient},
	})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)

	// overwrite, not merge: allowlist disappears
	second, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("5000"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	stored, err := svc.GetPolicy(context.Background(), testWallet)
	require.NoError(t, err)
	assert.Nil(t, stored.PerTxLimit)
	assert.Empty(t, stored.AllowedRecipients)
	require.NotNil(t, stored.DailyLimit)
	assert.Equal(t, "5000", *stored.DailyLimit)
}

func TestSetPolicyRejectsInvalidLimit(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		PerTxLimit:    strPtr("0.5eth"),
	})
	assert.Error(t, err)
}

func TestEvaluateDoesNotRecordUsage(t *testing.T) {
	svc := newPolicyService()
	_, err := svc.SetPolicy(context.Background(), &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("1000"),
	})
	require.NoError(t, err)

	// evaluating is a dry run: repeated passes take no quota
	for i := 0; i < 3; i++ {
		decision, err := svc.Evaluate(context.Background(), testWallet, testRecipient, big.NewInt(600), DayKey(time.Now()))
		require.NoError(t, err)
		assert.True(t, decision.Allowed)
	}

	spent, err := svc.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "0", spent.String())
}
