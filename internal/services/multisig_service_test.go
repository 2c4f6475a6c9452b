package services

import (
	"context"
	"testing"

	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMultisigService() *MultisigService {
	return NewMultisigService(repository.NewMemoryMultisigRepository())
}

func newTestConfig(t *testing.T, svc *MultisigService, threshold int, scope models.MultisigScope) *models.MultisigConfig {
	t.Helper()
	config := &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob", "carol"},
		Threshold:     threshold,
		Scope:         scope,
	}
	if scope == models.MultisigScopeAboveAmount {
		config.ScopeAmount = strPtr("1000")
	}
	if scope == models.MultisigScopeSpecificChains {
		config.ScopeChains = models.StringList{"mainnet"}
	}
	created, err := svc.CreateConfig(context.Background(), config)
	require.NoError(t, err)
	return created
}

func TestCreateConfigValidatesThreshold(t *testing.T) {
	svc := newMultisigService()

	_, err := svc.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob"},
		Threshold:     3,
		Scope:         models.MultisigScopeAll,
	})
	assert.ErrorIs(t, err, ErrInvalidThreshold)

	_, err = svc.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob"},
		Threshold:     0,
		Scope:         models.MultisigScopeAll,
	})
	assert.ErrorIs(t, err, ErrInvalidThreshold)
}

func TestScopeMatching(t *testing.T) {
	svc := newMultisigService()

	all := newTestConfig(t, svc, 2, models.MultisigScopeAll)
	matches, err := svc.ScopeMatches(all, "sepolia", "1")
	require.NoError(t, err)
	assert.True(t, matches)

	above := newTestConfig(t, svc, 2, models.MultisigScopeAboveAmount)
	matches, err = svc.ScopeMatches(above, "sepolia", "999")
	require.NoError(t, err)
	assert.False(t, matches)
	matches, err = svc.ScopeMatches(above, "sepolia", "1000")
	require.NoError(t, err)
	assert.True(t, matches)

	chains := newTestConfig(t, svc, 2, models.MultisigScopeSpecificChains)
	matches, err = svc.ScopeMatches(chains, "sepolia", "1")
	require.NoError(t, err)
	assert.False(t, matches)
	matches, err = svc.ScopeMatches(chains, "mainnet", "1")
	require.NoError(t, err)
	assert.True(t, matches)
}

func TestThresholdGating(t *testing.T) {
	svc := newMultisigService()
	config := newTestConfig(t, svc, 2, models.MultisigScopeAll)

	proposal, err := svc.CreateProposal(context.Background(), config, models.MultisigActionSend, ProposalPayload{
		From:  testWallet,
		To:    testRecipient,
		Value: "5000",
		Chain: "sepolia",
	}, "agent-1")
	require.NoError(t, err)

	// one approval is not enough for threshold=2
	proposal, err = svc.Approve(context.Background(), proposal.ID, "alice")
	require.NoError(t, err)
	assert.ErrorIs(t, svc.EnsureExecutable(proposal), ErrThresholdNotMet)

	// duplicate approvals from the same signer do not advance the count
	proposal, err = svc.Approve(context.Background(), proposal.ID, "alice")
	require.NoError(t, err)
	assert.Len(t, proposal.Approvals, 1)
	assert.ErrorIs(t, svc.EnsureExecutable(proposal), ErrThresholdNotMet)

	proposal, err = svc.Approve(context.Background(), proposal.ID, "bob")
	require.NoError(t, err)
	assert.Len(t, proposal.Approvals, 2)
	assert.NoError(t, svc.EnsureExecutable(proposal))
}

func TestApproveRejectsNonSigner(t *testing.T) {
	svc := newMultisigService()
	config := newTestConfig(t, svc, 2, models.MultisigScopeAll)

	proposal, err := svc.CreateProposal(context.Background(), config, models.MultisigActionSend, ProposalPayload{
		From: testWallet, To: testRecipient, Value: "1", Chain: "sepolia",
	}, "agent-1")
	require.NoError(t, err)

	_, err = svc.Approve(context.Background(), proposal.ID, "mallory")
	assert.ErrorIs(t, err, ErrNotSigner)
}

func TestExecutedProposalIsImmutable(t *testing.T) {
	svc := newMultisigService()
	config := newTestConfig(t, svc, 1, models.MultisigScopeAll)

	proposal, err := svc.CreateProposal(context.Background(), config, models.MultisigActionSend, ProposalPayload{
		From: testWallet, To: testRecipient, Value: "1", Chain: "sepolia",
	}, "agent-1")
	require.NoError(t, err)

	proposal, err = svc.Approve(context.Background(), proposal.ID, "alice")
	require.NoError(t, err)
	require.NoError(t, svc.EnsureExecutable(proposal))
	require.NoError(t, svc.MarkExecuted(context.Background(), proposal, "0xhash"))

	_, err = svc.Approve(context.Background(), proposal.ID, "bob")
	assert.ErrorIs(t, err, ErrProposalAlreadyExecuted)
	assert.ErrorIs(t, svc.EnsureExecutable(proposal), ErrProposalAlreadyExecuted)
}

func TestProposalThresholdFrozenAtCreation(t *testing.T) {
	svc := newMultisigService()
	config := newTestConfig(t, svc, 2, models.MultisigScopeAll)

	proposal, err := svc.CreateProposal(context.Background(), config, models.MultisigActionSend, ProposalPayload{
		From: testWallet, To: testRecipient, Value: "1", Chain: "sepolia",
	}, "agent-1")
	require.NoError(t, err)
	assert.Equal(t, 2, proposal.Threshold)

	// a new config with a higher threshold does not affect the in-flight proposal
	_, err = svc.CreateConfig(context.Background(), &models.MultisigConfig{
		WalletAddress: testWallet,
		Signers:       models.StringList{"alice", "bob", "carol"},
		Threshold:     3,
		Scope:         models.MultisigScopeAll,
	})
	require.NoError(t, err)

	reread, err := svc.GetProposal(context.Background(), proposal.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, reread.Threshold)
}
