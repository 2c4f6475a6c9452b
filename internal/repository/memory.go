package repository

import (
	"context"
	"sort"
	"sync"

	"agentpay-backend/internal/models"
)

// In-memory repository implementations. Used by tests and by deployments that
// run without a database; they satisfy the same load/save contract as the
// gorm-backed implementations.

// MemoryPolicyRepository in-memory PolicyRepository
type MemoryPolicyRepository struct {
	mu       sync.RWMutex
	policies map[string]models.Policy
	usage    map[string]models.PolicyUsage // wallet:day
}

// NewMemoryPolicyRepository creates an empty in-memory policy repository.
func NewMemoryPolicyRepository() *MemoryPolicyRepository {
	return &MemoryPolicyRepository{
		policies: make(map[string]models.Policy),
		usage:    make(map[string]models.PolicyUsage),
	}
}

func (m *MemoryPolicyRepository) GetPolicy(_ context.Context, walletAddress string) (*models.Policy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.policies[walletAddress]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *MemoryPolicyRepository) SavePolicy(_ context.Context, policy *models.Policy) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.policies[policy.WalletAddress] = *policy
	return nil
}

func (m *MemoryPolicyRepository) GetUsage(_ context.Context, walletAddress, dayKey string) (*models.PolicyUsage, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.usage[walletAddress+":"+dayKey]
	if !ok {
		return nil, ErrNotFound
	}
	cp := u
	return &cp, nil
}

func (m *MemoryPolicyRepository) SaveUsage(_ context.Context, usage *models.PolicyUsage) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.usage[usage.WalletAddress+":"+usage.DayKey] = *usage
	return nil
}

// MemoryApprovalRepository in-memory ApprovalRepository
type MemoryApprovalRepository struct {
	mu        sync.RWMutex
	approvals map[string]models.ApprovalRequest
}

// NewMemoryApprovalRepository creates an empty in-memory approval repository.
func NewMemoryApprovalRepository() *MemoryApprovalRepository {
	return &MemoryApprovalRepository{approvals: make(map[string]models.ApprovalRequest)}
}

func (m *MemoryApprovalRepository) Create(_ context.Context, approval *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.approvals[approval.ID] = *approval
	return nil
}

func (m *MemoryApprovalRepository) GetByID(_ context.Context, id string) (*models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.approvals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := a
	return &cp, nil
}

func (m *MemoryApprovalRepository) Update(_ context.Context, approval *models.ApprovalRequest) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.approvals[approval.ID]; !ok {
		return ErrNotFound
	}
	m.approvals[approval.ID] = *approval
	return nil
}

func (m *MemoryApprovalRepository) ListRecent(_ context.Context, limit int) ([]*models.ApprovalRequest, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.ApprovalRequest, 0, len(m.approvals))
	for _, a := range m.approvals {
		cp := a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// MemoryTransactionRepository in-memory TransactionRepository
type MemoryTransactionRepository struct {
	mu  sync.RWMutex
	txs map[string]models.Transaction
}

// NewMemoryTransactionRepository creates an empty in-memory transaction repository.
func NewMemoryTransactionRepository() *MemoryTransactionRepository {
	return &MemoryTransactionRepository{txs: make(map[string]models.Transaction)}
}

func (m *MemoryTransactionRepository) Create(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.txs[tx.ID] = *tx
	return nil
}

func (m *MemoryTransactionRepository) GetByID(_ context.Context, id string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	tx, ok := m.txs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := tx
	return &cp, nil
}

func (m *MemoryTransactionRepository) GetByHash(_ context.Context, hash string) (*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, tx := range m.txs {
		if tx.Hash == hash {
			cp := tx
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryTransactionRepository) Update(_ context.Context, tx *models.Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.txs[tx.ID]; !ok {
		return ErrNotFound
	}
	m.txs[tx.ID] = *tx
	return nil
}

func (m *MemoryTransactionRepository) FindActive(_ context.Context) ([]*models.Transaction, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Transaction
	for _, tx := range m.txs {
		if tx.State == models.TxStateSubmitted || tx.State == models.TxStatePending {
			cp := tx
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.Before(out[j].SubmittedAt) })
	return out, nil
}

func (m *MemoryTransactionRepository) ListByWallet(_ context.Context, walletAddress, state string, page, pageSize int) ([]*models.Transaction, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*models.Transaction
	for _, tx := range m.txs {
		if tx.FromAddress != walletAddress {
			continue
		}
		if state != "" && string(tx.State) != state {
			continue
		}
		cp := tx
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// MemoryMultisigRepository in-memory MultisigRepository
type MemoryMultisigRepository struct {
	mu        sync.RWMutex
	configs   map[string]models.MultisigConfig
	proposals map[string]models.MultisigProposal
}

// NewMemoryMultisigRepository creates an empty in-memory multisig repository.
func NewMemoryMultisigRepository() *MemoryMultisigRepository {
	return &MemoryMultisigRepository{
		configs:   make(map[string]models.MultisigConfig),
		proposals: make(map[string]models.MultisigProposal),
	}
}

func (m *MemoryMultisigRepository) CreateConfig(_ context.Context, config *models.MultisigConfig) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.configs[config.ID] = *config
	return nil
}

func (m *MemoryMultisigRepository) GetConfig(_ context.Context, id string) (*models.MultisigConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.configs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := c
	return &cp, nil
}

func (m *MemoryMultisigRepository) GetConfigByWallet(_ context.Context, walletAddress string) (*models.MultisigConfig, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var found *models.MultisigConfig
	for _, c := range m.configs {
		if c.WalletAddress == walletAddress {
			cp := c
			if found == nil || cp.CreatedAt.After(found.CreatedAt) {
				found = &cp
			}
		}
	}
	if found == nil {
		return nil, ErrNotFound
	}
	return found, nil
}

func (m *MemoryMultisigRepository) CreateProposal(_ context.Context, proposal *models.MultisigProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.proposals[proposal.ID] = *proposal
	return nil
}

func (m *MemoryMultisigRepository) GetProposal(_ context.Context, id string) (*models.MultisigProposal, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.proposals[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := p
	return &cp, nil
}

func (m *MemoryMultisigRepository) UpdateProposal(_ context.Context, proposal *models.MultisigProposal) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.proposals[proposal.ID]; !ok {
		return ErrNotFound
	}
	m.proposals[proposal.ID] = *proposal
	return nil
}

func (m *MemoryMultisigRepository) ListProposals(_ context.Context, walletAddress string, status string, page, pageSize int) ([]*models.MultisigProposal, int64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var all []*models.MultisigProposal
	for _, p := range m.proposals {
		if walletAddress != "" && p.WalletAddress != walletAddress {
			continue
		}
		if status != "" && string(p.Status) != status {
			continue
		}
		cp := p
		all = append(all, &cp)
	}
	sort.Slice(all, func(i, j int) bool { return all[i].CreatedAt.After(all[j].CreatedAt) })
	total := int64(len(all))
	start := (page - 1) * pageSize
	if start >= len(all) {
		return nil, total, nil
	}
	end := start + pageSize
	if end > len(all) {
		end = len(all)
	}
	return all[start:end], total, nil
}

// MemoryWebhookRepository in-memory WebhookRepository
type MemoryWebhookRepository struct {
	mu          sync.RWMutex
	subs        map[string]models.WebhookSubscription
	deadLetters map[string]models.WebhookDeadLetter
}

// NewMemoryWebhookRepository creates an empty in-memory webhook repository.
func NewMemoryWebhookRepository() *MemoryWebhookRepository {
	return &MemoryWebhookRepository{
		subs:        make(map[string]models.WebhookSubscription),
		deadLetters: make(map[string]models.WebhookDeadLetter),
	}
}

func (m *MemoryWebhookRepository) CreateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryWebhookRepository) GetSubscription(_ context.Context, id string) (*models.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.subs[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := s
	return &cp, nil
}

func (m *MemoryWebhookRepository) UpdateSubscription(_ context.Context, sub *models.WebhookSubscription) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.subs[sub.ID]; !ok {
		return ErrNotFound
	}
	m.subs[sub.ID] = *sub
	return nil
}

func (m *MemoryWebhookRepository) ListActiveSubscriptions(_ context.Context) ([]*models.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.WebhookSubscription
	for _, s := range m.subs {
		if s.Active {
			cp := s
			out = append(out, &cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryWebhookRepository) ListSubscriptions(_ context.Context) ([]*models.WebhookSubscription, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.WebhookSubscription, 0, len(m.subs))
	for _, s := range m.subs {
		cp := s
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	return out, nil
}

func (m *MemoryWebhookRepository) CreateDeadLetter(_ context.Context, dl *models.WebhookDeadLetter) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deadLetters[dl.ID] = *dl
	return nil
}

func (m *MemoryWebhookRepository) ListDeadLetters(_ context.Context, limit int) ([]*models.WebhookDeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*models.WebhookDeadLetter, 0, len(m.deadLetters))
	for _, dl := range m.deadLetters {
		cp := dl
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (m *MemoryWebhookRepository) GetDeadLetter(_ context.Context, id string) (*models.WebhookDeadLetter, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	dl, ok := m.deadLetters[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := dl
	return &cp, nil
}

func (m *MemoryWebhookRepository) DeleteDeadLetter(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.deadLetters, id)
	return nil
}

// MemoryWalletRepository in-memory WalletRepository
type MemoryWalletRepository struct {
	mu      sync.RWMutex
	wallets map[string]models.Wallet
}

// NewMemoryWalletRepository creates an empty in-memory wallet repository.
func NewMemoryWalletRepository() *MemoryWalletRepository {
	return &MemoryWalletRepository{wallets: make(map[string]models.Wallet)}
}

func (m *MemoryWalletRepository) Create(_ context.Context, wallet *models.Wallet) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.wallets[wallet.Address] = *wallet
	return nil
}

func (m *MemoryWalletRepository) GetByAddress(_ context.Context, address string) (*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	w, ok := m.wallets[address]
	if !ok {
		return nil, ErrNotFound
	}
	cp := w
	return &cp, nil
}

func (m *MemoryWalletRepository) List(_ context.Context, agentID string) ([]*models.Wallet, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []*models.Wallet
	for _, w := range m.wallets {
		if agentID != "" && w.AgentID != agentID {
			continue
		}
		cp := w
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return out, nil
}
