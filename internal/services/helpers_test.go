package services

import (
	"context"
	"fmt"
	"math/big"
	"sync"
	"time"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
)

// fakeAdapter is an in-memory chain adapter with scriptable responses.
type fakeAdapter struct {
	mu sync.Mutex

	balance  *big.Int
	gas      uint64
	gasPrice *big.Int

	sendErr   error
	sendCount int

	receipts   map[string]*chain.Receipt
	receiptErr error
}

func newFakeAdapter() *fakeAdapter {
	return &fakeAdapter{
		balance:  big.NewInt(1_000_000_000),
		gas:      21000,
		gasPrice: big.NewInt(1),
		receipts: make(map[string]*chain.Receipt),
	}
}

func (f *fakeAdapter) GetBalance(_ context.Context, _ string) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.balance), nil
}

func (f *fakeAdapter) EstimateGas(_ context.Context, _ chain.TransferInput) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gas, nil
}

func (f *fakeAdapter) GetGasPrice(_ context.Context) (*big.Int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return new(big.Int).Set(f.gasPrice), nil
}

func (f *fakeAdapter) SendTransaction(_ context.Context, _ chain.TransferInput) (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	// count every attempt, not just successes: the no-retry assertions
	// care about how often the adapter was hit
	f.sendCount++
	if f.sendErr != nil {
		return "", f.sendErr
	}
	return fmt.Sprintf("0xhash%04d", f.sendCount), nil
}

func (f *fakeAdapter) GetReceipt(_ context.Context, hash string) (*chain.Receipt, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.receiptErr != nil {
		return nil, f.receiptErr
	}
	receipt, ok := f.receipts[hash]
	if !ok {
		return nil, chain.ErrReceiptNotFound
	}
	return receipt, nil
}

func (f *fakeAdapter) setReceipt(hash string, receipt *chain.Receipt) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.receipts[hash] = receipt
}

func (f *fakeAdapter) broadcasts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.sendCount
}

func newTestRegistry(adapter chain.Adapter) *chain.Registry {
	registry := chain.NewRegistry()
	registry.Register("sepolia", chain.WildcardProvider, adapter)
	return registry
}

// testEnv wires the full pipeline against in-memory stores and a fake adapter.
type testEnv struct {
	adapter    *fakeAdapter
	registry   *chain.Registry
	wallets    *repository.MemoryWalletRepository
	txRepo     *repository.MemoryTransactionRepository
	policyRepo *repository.MemoryPolicyRepository
	policy     *PolicyService
	approvals  *ApprovalService
	multisig   *MultisigService
	preflight  *PreflightService
	webhooks   *WebhookService
	settlement *SettlementService
}

func newTestEnv() *testEnv {
	adapter := newFakeAdapter()
	registry := newTestRegistry(adapter)

	wallets := repository.NewMemoryWalletRepository()
	txRepo := repository.NewMemoryTransactionRepository()
	policyRepo := repository.NewMemoryPolicyRepository()
	webhookRepo := repository.NewMemoryWebhookRepository()

	policy := NewPolicyService(policyRepo)
	approvals := NewApprovalService(repository.NewMemoryApprovalRepository(), "test-secret", time.Hour, time.Minute)
	multisig := NewMultisigService(repository.NewMemoryMultisigRepository())
	preflight := NewPreflightService(registry, nil)
	webhooks := NewWebhookService(webhookRepo, 5*time.Second, time.Minute)
	webhooks.sleep = func(time.Duration) {}
	approvals.SetWebhookService(webhooks)
	multisig.SetWebhookService(webhooks)

	settlement := NewSettlementService(wallets, txRepo, policy, approvals, multisig, preflight, registry, webhooks, SettlementOptions{})

	return &testEnv{
		adapter:    adapter,
		registry:   registry,
		wallets:    wallets,
		txRepo:     txRepo,
		policyRepo: policyRepo,
		policy:     policy,
		approvals:  approvals,
		multisig:   multisig,
		preflight:  preflight,
		webhooks:   webhooks,
		settlement: settlement,
	}
}

func (e *testEnv) addWallet(address string, mode models.WalletSecurityMode) {
	e.wallets.Create(context.Background(), &models.Wallet{
		Address:      address,
		Chain:        "sepolia",
		SecurityMode: mode,
	})
}

func strPtr(s string) *string { return &s }
