package services

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log"
	"math/big"

	"agentpay-backend/internal/chain"
	"agentpay-backend/internal/models"
	"agentpay-backend/internal/repository"
	"agentpay-backend/internal/utils"

	"github.com/ethereum/go-ethereum/crypto"
)

// WalletCreation 钱包创建结果
// PrivateKeyHex 只在创建响应中出现一次，服务端不落库
type WalletCreation struct {
	Wallet        *models.Wallet `json:"wallet"`
	PrivateKeyHex string         `json:"private_key_hex,omitempty"`
}

// WalletService 托管钱包管理服务
type WalletService struct {
	repo     repository.WalletRepository
	registry *chain.Registry
}

// NewWalletService 创建钱包服务
func NewWalletService(repo repository.WalletRepository, registry *chain.Registry) *WalletService {
	return &WalletService{repo: repo, registry: registry}
}

// CreateWallet 生成新钱包
func (s *WalletService) CreateWallet(ctx context.Context, agentID, chainName string, securityMode models.WalletSecurityMode, label string) (*WalletCreation, error) {
	if securityMode == "" {
		securityMode = models.SecurityModeStandard
	}
	if securityMode != models.SecurityModeStandard && securityMode != models.SecurityModeMultisig {
		return nil, fmt.Errorf("unknown security mode: %s", securityMode)
	}

	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("failed to generate key: %w", err)
	}
	address := utils.NormalizeAddress(crypto.PubkeyToAddress(key.PublicKey).Hex())

	wallet := &models.Wallet{
		Address:      address,
		Chain:        chainName,
		SecurityMode: securityMode,
		Label:        label,
		AgentID:      agentID,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}

	log.Printf("✅ [Wallet] Wallet created: address=%s, chain=%s, mode=%s, agent=%s", address, chainName, securityMode, agentID)
	return &WalletCreation{
		Wallet:        wallet,
		PrivateKeyHex: hex.EncodeToString(crypto.FromECDSA(key)),
	}, nil
}

// ImportWallet 导入已有地址作为托管钱包
func (s *WalletService) ImportWallet(ctx context.Context, address, chainName string, securityMode models.WalletSecurityMode, agentID, label string) (*models.Wallet, error) {
	if !utils.IsEvmAddress(address) {
		return nil, fmt.Errorf("invalid address: %s", address)
	}
	if securityMode == "" {
		securityMode = models.SecurityModeStandard
	}

	wallet := &models.Wallet{
		Address:      utils.NormalizeAddress(address),
		Chain:        chainName,
		SecurityMode: securityMode,
		Label:        label,
		AgentID:      agentID,
		Imported:     true,
	}
	if err := s.repo.Create(ctx, wallet); err != nil {
		return nil, fmt.Errorf("failed to save wallet: %w", err)
	}

	log.Printf("✅ [Wallet] Wallet imported: address=%s, chain=%s", wallet.Address, chainName)
	return wallet, nil
}

// GetWallet 按地址获取钱包
func (s *WalletService) GetWallet(ctx context.Context, address string) (*models.Wallet, error) {
	wallet, err := s.repo.GetByAddress(ctx, utils.NormalizeAddress(address))
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrWalletNotFound
		}
		return nil, err
	}
	return wallet, nil
}

// ListWallets 列出钱包，可按 agent 过滤
func (s *WalletService) ListWallets(ctx context.Context, agentID string) ([]*models.Wallet, error) {
	return s.repo.List(ctx, agentID)
}

// GetBalance 查询钱包链上余额
func (s *WalletService) GetBalance(ctx context.Context, address string) (*big.Int, error) {
	wallet, err := s.GetWallet(ctx, address)
	if err != nil {
		return nil, err
	}

	adapter, err := s.registry.Resolve(wallet.Chain, "")
	if err != nil {
		return nil, fmt.Errorf("failed to resolve chain adapter: %w", err)
	}
	return adapter.GetBalance(ctx, wallet.Address)
}
