package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
)

// TransactionRepository defines the interface for Transaction data access
type TransactionRepository interface {
	Create(ctx context.Context, tx *models.Transaction) error
	GetByID(ctx context.Context, id string) (*models.Transaction, error)
	GetByHash(ctx context.Context, hash string) (*models.Transaction, error)
	Update(ctx context.Context, tx *models.Transaction) error

	// FindActive returns transactions still in submitted/pending state
	FindActive(ctx context.Context) ([]*models.Transaction, error)
	// ListByWallet pages transactions sent from the wallet, optionally
	// filtered by state ("" matches all).
	ListByWallet(ctx context.Context, walletAddress, state string, page, pageSize int) ([]*models.Transaction, int64, error)
}

type transactionRepository struct {
	db *gorm.DB
}

// NewTransactionRepository creates a new TransactionRepository instance
func NewTransactionRepository(db *gorm.DB) TransactionRepository {
	return &transactionRepository{db: db}
}

func (r *transactionRepository) Create(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Create(tx).Error
}

func (r *transactionRepository) GetByID(ctx context.Context, id string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) GetByHash(ctx context.Context, hash string) (*models.Transaction, error) {
	var tx models.Transaction
	err := r.db.WithContext(ctx).Where("hash = ?", hash).First(&tx).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &tx, nil
}

func (r *transactionRepository) Update(ctx context.Context, tx *models.Transaction) error {
	return r.db.WithContext(ctx).Save(tx).Error
}

func (r *transactionRepository) FindActive(ctx context.Context) ([]*models.Transaction, error) {
	var txs []*models.Transaction
	err := r.db.WithContext(ctx).
		Where("state IN ?", []models.TransactionState{models.TxStateSubmitted, models.TxStatePending}).
		Order("submitted_at ASC").
		Find(&txs).Error
	return txs, err
}

func (r *transactionRepository) ListByWallet(ctx context.Context, walletAddress, state string, page, pageSize int) ([]*models.Transaction, int64, error) {
	var txs []*models.Transaction
	var total int64

	query := r.db.WithContext(ctx).Model(&models.Transaction{}).Where("from_address = ?", walletAddress)
	if state != "" {
		query = query.Where("state = ?", state)
	}
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&txs).Error
	return txs, total, err
}
