package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
)

// ApprovalRepository defines the interface for ApprovalRequest data access
type ApprovalRepository interface {
	Create(ctx context.Context, approval *models.ApprovalRequest) error
	GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error)
	Update(ctx context.Context, approval *models.ApprovalRequest) error
	ListRecent(ctx context.Context, limit int) ([]*models.ApprovalRequest, error)
}

type approvalRepository struct {
	db *gorm.DB
}

// NewApprovalRepository creates a new ApprovalRepository instance
func NewApprovalRepository(db *gorm.DB) ApprovalRepository {
	return &approvalRepository{db: db}
}

func (r *approvalRepository) Create(ctx context.Context, approval *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Create(approval).Error
}

func (r *approvalRepository) GetByID(ctx context.Context, id string) (*models.ApprovalRequest, error) {
	var approval models.ApprovalRequest
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&approval).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &approval, nil
}

func (r *approvalRepository) Update(ctx context.Context, approval *models.ApprovalRequest) error {
	return r.db.WithContext(ctx).Save(approval).Error
}

func (r *approvalRepository) ListRecent(ctx context.Context, limit int) ([]*models.ApprovalRequest, error) {
	var approvals []*models.ApprovalRequest
	err := r.db.WithContext(ctx).
		Order("created_at DESC").
		Limit(limit).
		Find(&approvals).Error
	return approvals, err
}
