package services

import (
	"context"
	"errors"
	"math/big"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func setPolicy(t *testing.T, env *testEnv, policy *models.Policy) {
	t.Helper()
	_, err := env.policy.SetPolicy(context.Background(), policy)
	require.NoError(t, err)
}

func TestSendAllowedBroadcastsAndRecordsUsage(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("1000000"),
	})

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeBroadcast, result.Outcome)
	require.NotNil(t, result.Transaction)
	assert.Equal(t, models.TxStateSubmitted, result.Transaction.State)
	assert.NotEmpty(t, result.Transaction.Hash)
	assert.Equal(t, "sepolia", result.Transaction.Chain)
	assert.Equal(t, 1, env.adapter.broadcasts())

	spent, err := env.policy.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "500", spent.String())
}

func TestSendOverPerTxCapRoutesToApproval(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		PerTxLimit:    strPtr("100"),
	})

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)

	assert.Equal(t, OutcomeApprovalRequired, result.Outcome)
	assert.Equal(t, models.ReasonPerTxCapExceeded, result.Decision.ReasonCode)
	require.NotNil(t, result.Approval)
	assert.Equal(t, models.ApprovalStatusPending, result.Approval.Status)
	// nothing reached the chain
	assert.Equal(t, 0, env.adapter.broadcasts())
}

func TestSendBlockedRecipientDenied(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress:     testWallet,
		Enabled:           true,
		BlockedRecipients: models.StringList{testRecipient},
	})

	_, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
	})
	require.Error(t, err)

	var denied *PolicyDeniedError
	require.True(t, errors.As(err, &denied))
	assert.Equal(t, models.ReasonBlockedRecipient, denied.ReasonCode)
	assert.False(t, denied.RequiresApproval)
	assert.Equal(t, 0, env.adapter.broadcasts())
}

func TestSendUnknownWallet(t *testing.T) {
	env := newTestEnv()

	_, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
	})
	assert.ErrorIs(t, err, ErrWalletNotFound)
}

func TestExecuteApprovedFlow(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		PerTxLimit:    strPtr("100"),
	})

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApprovalRequired, result.Outcome)
	approvalID := result.Approval.ID

	// executing before the decision must fail
	_, err = env.settlement.ExecuteApproved(context.Background(), approvalID)
	assert.ErrorIs(t, err, ErrApprovalNotApproved)

	_, err = env.approvals.Decide(context.Background(), approvalID, models.ApprovalStatusApproved, "operator-1")
	require.NoError(t, err)

	tx, err := env.settlement.ExecuteApproved(context.Background(), approvalID)
	require.NoError(t, err)
	assert.NotEmpty(t, tx.Hash)
	assert.Equal(t, approvalID, tx.ApprovalID)
	assert.Equal(t, 1, env.adapter.broadcasts())

	// usage is still recorded even though the caps were overridden
	spent, err := env.policy.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "500", spent.String())

	// the execution record is write-once
	_, err = env.settlement.ExecuteApproved(context.Background(), approvalID)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "already executed")
	assert.Equal(t, 1, env.adapter.broadcasts())

	stored, err := env.approvals.Get(context.Background(), approvalID)
	require.NoError(t, err)
	assert.Equal(t, tx.Hash, stored.ExecTxHash)
}

func TestMultisigScopeRoutesToProposal(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeMultisig)

	_, err := env.multisig.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob"},
		Threshold:     2,
		Scope:         models.MultisigScopeAboveAmount,
		ScopeAmount:   strPtr("1000"),
	})
	require.NoError(t, err)

	// below the scope amount: normal pipeline, straight to broadcast
	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeBroadcast, result.Outcome)

	// at the scope amount: gated behind the threshold
	result, err = env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "1000",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, OutcomeProposalCreated, result.Outcome)
	require.NotNil(t, result.Proposal)
	assert.Equal(t, 2, result.Proposal.Threshold)
	assert.Equal(t, 1, env.adapter.broadcasts())
}

func TestExecuteProposalRequiresThreshold(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeMultisig)

	_, err := env.multisig.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob"},
		Threshold:     2,
		Scope:         models.MultisigScopeAll,
	})
	require.NoError(t, err)

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeProposalCreated, result.Outcome)
	proposalID := result.Proposal.ID

	_, err = env.settlement.ExecuteProposal(context.Background(), proposalID)
	assert.ErrorIs(t, err, ErrThresholdNotMet)

	_, err = env.multisig.Approve(context.Background(), proposalID, "alice")
	require.NoError(t, err)
	_, err = env.multisig.Approve(context.Background(), proposalID, "bob")
	require.NoError(t, err)

	tx, err := env.settlement.ExecuteProposal(context.Background(), proposalID)
	require.NoError(t, err)
	assert.Equal(t, proposalID, tx.ProposalID)
	assert.Equal(t, "500", tx.Value)
	assert.Equal(t, 1, env.adapter.broadcasts())

	executed, err := env.multisig.GetProposal(context.Background(), proposalID)
	require.NoError(t, err)
	assert.Equal(t, models.ProposalStatusExecuted, executed.Status)
	assert.Equal(t, tx.Hash, executed.TxHash)

	_, err = env.settlement.ExecuteProposal(context.Background(), proposalID)
	assert.ErrorIs(t, err, ErrProposalAlreadyExecuted)
}

func TestSweepSendsRemainderAfterGas(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	env.adapter.balance = big.NewInt(100_000)
	env.adapter.gas = 21000
	env.adapter.gasPrice = big.NewInt(1)

	result, err := env.settlement.Sweep(context.Background(), testWallet, testRecipient, "", "agent-1")
	require.NoError(t, err)

	assert.Equal(t, OutcomeBroadcast, result.Outcome)
	assert.Equal(t, "79000", result.Transaction.Value) // 100000 - 21000*1
	assert.Equal(t, "21000", result.Transaction.EstimatedFee)
}

func TestBroadcastFailureSurfacesWithoutRetry(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	env.adapter.sendErr = errors.New("nonce too low")

	_, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "broadcast failed")
	// exactly one attempt: broadcast failures are never retried automatically
	assert.Equal(t, 1, env.adapter.broadcasts())

	// no usage recorded for the failed attempt
	spent, err := env.policy.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "0", spent.String())
}

func TestConcurrentSendsNeverExceedDailyCap(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("1000"),
	})

	// 20 concurrent sends of 100 against a 1000 daily cap: at most 10 can land.
	// Losers either get a denial from the re-check inside the broadcast lock or,
	// if their first evaluation already saw the cap exhausted, an approval route.
	var wg sync.WaitGroup
	type outcome struct {
		result *SendResult
		err    error
	}
	results := make([]outcome, 20)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, err := env.settlement.Send(context.Background(), SendRequest{
				WalletAddress: testWallet,
				To:            testRecipient,
				Value:         "100",
			})
			results[idx] = outcome{result: result, err: err}
		}(i)
	}
	wg.Wait()

	broadcastCount := 0
	for _, o := range results {
		if o.err != nil {
			var denied *PolicyDeniedError
			require.True(t, errors.As(o.err, &denied), "unexpected error: %v", o.err)
			assert.Equal(t, models.ReasonDailyCapExceeded, denied.ReasonCode)
			continue
		}
		if o.result.Outcome == OutcomeBroadcast {
			broadcastCount++
		} else {
			assert.Equal(t, OutcomeApprovalRequired, o.result.Outcome)
		}
	}
	assert.Equal(t, 10, broadcastCount)
	assert.Equal(t, 10, env.adapter.broadcasts())

	spent, err := env.policy.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "1000", spent.String())
}

func TestConcurrentCrossChainSendsNeverExceedDailyCap(t *testing.T) {
	env := newTestEnv()
	env.registry.Register("mainnet", chain.WildcardProvider, env.adapter)
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		DailyLimit:    strPtr("1000"),
	})

	// the daily cap is per wallet, not per chain: two concurrent sends of 600
	// on different chains must not both pass the cap re-check
	chains := []string{"sepolia", "mainnet"}
	var wg sync.WaitGroup
	type outcome struct {
		result *SendResult
		err    error
	}
	results := make([]outcome, len(chains))
	for i, chainName := range chains {
		wg.Add(1)
		go func(idx int, chainName string) {
			defer wg.Done()
			result, err := env.settlement.Send(context.Background(), SendRequest{
				WalletAddress: testWallet,
				To:            testRecipient,
				Value:         "600",
				Chain:         chainName,
			})
			results[idx] = outcome{result: result, err: err}
		}(i, chainName)
	}
	wg.Wait()

	broadcastCount := 0
	for _, o := range results {
		if o.err != nil {
			var denied *PolicyDeniedError
			require.True(t, errors.As(o.err, &denied), "unexpected error: %v", o.err)
			assert.Equal(t, models.ReasonDailyCapExceeded, denied.ReasonCode)
			continue
		}
		if o.result.Outcome == OutcomeBroadcast {
			broadcastCount++
		} else {
			assert.Equal(t, OutcomeApprovalRequired, o.result.Outcome)
		}
	}
	assert.Equal(t, 1, broadcastCount)
	assert.Equal(t, 1, env.adapter.broadcasts())

	spent, err := env.policy.GetUsage(context.Background(), testWallet, DayKey(time.Now()))
	require.NoError(t, err)
	assert.Equal(t, "600", spent.String())
}

func TestProposalLifecycleNotifiesSubscribers(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeMultisig)
	subscribe(t, env.webhooks, server.URL, nil)

	_, err := env.multisig.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob"},
		Threshold:     2,
		Scope:         models.MultisigScopeAll,
	})
	require.NoError(t, err)

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeProposalCreated, result.Outcome)
	proposalID := result.Proposal.ID

	_, err = env.multisig.Approve(context.Background(), proposalID, "alice")
	require.NoError(t, err)
	_, err = env.multisig.Approve(context.Background(), proposalID, "bob")
	require.NoError(t, err)
	_, err = env.settlement.ExecuteProposal(context.Background(), proposalID)
	require.NoError(t, err)
	env.webhooks.Wait()

	counts := map[string]int{}
	for _, d := range sink.deliveries() {
		counts[d.event]++
	}
	assert.Equal(t, 1, counts[models.EventProposalCreated])
	assert.Equal(t, 2, counts[models.EventProposalApproved])
	assert.Equal(t, 1, counts[models.EventProposalExecuted])
	assert.Equal(t, 1, counts[models.EventTxSubmitted])
}

func TestApprovalDecisionNotifiesSubscribers(t *testing.T) {
	sink := &webhookSink{}
	server := httptest.NewServer(sink.handler())
	defer server.Close()

	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)
	setPolicy(t, env, &models.Policy{
		WalletAddress: testWallet,
		Enabled:       true,
		PerTxLimit:    strPtr("100"),
	})
	subscribe(t, env.webhooks, server.URL, nil)

	result, err := env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		Nonce:         "1",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApprovalRequired, result.Outcome)
	_, err = env.approvals.Decide(context.Background(), result.Approval.ID, models.ApprovalStatusApproved, "operator-1")
	require.NoError(t, err)

	// a new logical request, this time rejected
	result, err = env.settlement.Send(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		Nonce:         "2",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	require.Equal(t, OutcomeApprovalRequired, result.Outcome)
	_, err = env.approvals.Decide(context.Background(), result.Approval.ID, models.ApprovalStatusRejected, "operator-1")
	require.NoError(t, err)
	env.webhooks.Wait()

	counts := map[string]int{}
	for _, d := range sink.deliveries() {
		counts[d.event]++
	}
	assert.Equal(t, 2, counts[models.EventApprovalCreated])
	assert.Equal(t, 1, counts[models.EventApprovalApproved])
	assert.Equal(t, 1, counts[models.EventApprovalRejected])
}

func TestCreateApprovalByFingerprint(t *testing.T) {
	env := newTestEnv()
	env.addWallet(testWallet, models.SecurityModeStandard)

	first, err := env.settlement.CreateApproval(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		Nonce:         "batch-1",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, models.ApprovalStatusPending, first.Status)
	assert.Equal(t, "sepolia", first.Chain) // defaults to the wallet's home chain
	assert.Equal(t, "batch-1", first.Nonce)

	second, err := env.settlement.CreateApproval(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "500",
		Nonce:         "batch-1",
		RequestedBy:   "agent-1",
	})
	require.NoError(t, err)
	assert.Equal(t, first.ID, second.ID)

	_, err = env.settlement.CreateApproval(context.Background(), SendRequest{
		WalletAddress: testWallet,
		To:            testRecipient,
		Value:         "not-a-number",
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid value")
}
