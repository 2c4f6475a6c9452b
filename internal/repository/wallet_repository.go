package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
)

// WalletRepository defines the interface for Wallet data access
type WalletRepository interface {
	Create(ctx context.Context, wallet *models.Wallet) error
	GetByAddress(ctx context.Context, address string) (*models.Wallet, error)
	List(ctx context.Context, agentID string) ([]*models.Wallet, error)
}

type walletRepository struct {
	db *gorm.DB
}

// NewWalletRepository creates a new WalletRepository instance
func NewWalletRepository(db *gorm.DB) WalletRepository {
	return &walletRepository{db: db}
}

func (r *walletRepository) Create(ctx context.Context, wallet *models.Wallet) error {
	return r.db.WithContext(ctx).Create(wallet).Error
}

func (r *walletRepository) GetByAddress(ctx context.Context, address string) (*models.Wallet, error) {
	var wallet models.Wallet
	err := r.db.WithContext(ctx).Where("address = ?", address).First(&wallet).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &wallet, nil
}

func (r *walletRepository) List(ctx context.Context, agentID string) ([]*models.Wallet, error) {
	var wallets []*models.Wallet
	query := r.db.WithContext(ctx)
	if agentID != "" {
		query = query.Where("agent_id = ?", agentID)
	}
	err := query.Order("created_at DESC").Find(&wallets).Error
	return wallets, err
}
