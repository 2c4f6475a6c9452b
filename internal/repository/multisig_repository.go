package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
)

// MultisigRepository defines the interface for MultisigConfig and MultisigProposal data access
type MultisigRepository interface {
	CreateConfig(ctx context.Context, config *models.MultisigConfig) error
	GetConfig(ctx context.Context, id string) (*models.MultisigConfig, error)
	GetConfigByWallet(ctx context.Context, walletAddress string) (*models.MultisigConfig, error)

	CreateProposal(ctx context.Context, proposal *models.MultisigProposal) error
	GetProposal(ctx context.Context, id string) (*models.MultisigProposal, error)
	UpdateProposal(ctx context.Context, proposal *models.MultisigProposal) error
	ListProposals(ctx context.Context, walletAddress string, status string, page, pageSize int) ([]*models.MultisigProposal, int64, error)
}

type multisigRepository struct {
	db *gorm.DB
}

// NewMultisigRepository creates a new MultisigRepository instance
func NewMultisigRepository(db *gorm.DB) MultisigRepository {
	return &multisigRepository{db: db}
}

func (r *multisigRepository) CreateConfig(ctx context.Context, config *models.MultisigConfig) error {
	return r.db.WithContext(ctx).Create(config).Error
}

func (r *multisigRepository) GetConfig(ctx context.Context, id string) (*models.MultisigConfig, error) {
	var config models.MultisigConfig
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &config, nil
}

func (r *multisigRepository) GetConfigByWallet(ctx context.Context, walletAddress string) (*models.MultisigConfig, error) {
	var config models.MultisigConfig
	err := r.db.WithContext(ctx).
		Where("wallet_address = ?", walletAddress).
		Order("created_at DESC").
		First(&config).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &config, nil
}

func (r *multisigRepository) CreateProposal(ctx context.Context, proposal *models.MultisigProposal) error {
	return r.db.WithContext(ctx).Create(proposal).Error
}

func (r *multisigRepository) GetProposal(ctx context.Context, id string) (*models.MultisigProposal, error) {
	var proposal models.MultisigProposal
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&proposal).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &proposal, nil
}

func (r *multisigRepository) UpdateProposal(ctx context.Context, proposal *models.MultisigProposal) error {
	return r.db.WithContext(ctx).Save(proposal).Error
}

func (r *multisigRepository) ListProposals(ctx context.Context, walletAddress string, status string, page, pageSize int) ([]*models.MultisigProposal, int64, error) {
	var proposals []*models.MultisigProposal
	query := r.db.WithContext(ctx).Model(&models.MultisigProposal{})

	if walletAddress != "" {
		query = query.Where("wallet_address = ?", walletAddress)
	}
	if status != "" {
		query = query.Where("status = ?", status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	offset := (page - 1) * pageSize
	err := query.Order("created_at DESC").Offset(offset).Limit(pageSize).Find(&proposals).Error
	return proposals, total, err
}
