// Package repository provides data access interfaces and implementations
package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by all repositories when a record does not exist.
var ErrNotFound = errors.New("record not found")

// PolicyRepository defines the interface for Policy and PolicyUsage data access
type PolicyRepository interface {
	GetPolicy(ctx context.Context, walletAddress string) (*models.Policy, error)
	SavePolicy(ctx context.Context, policy *models.Policy) error

	GetUsage(ctx context.Context, walletAddress, dayKey string) (*models.PolicyUsage, error)
	SaveUsage(ctx context.Context, usage *models.PolicyUsage) error
}

type policyRepository struct {
	db *gorm.DB
}

// NewPolicyRepository creates a new PolicyRepository instance
func NewPolicyRepository(db *gorm.DB) PolicyRepository {
	return &policyRepository{db: db}
}

func (r *policyRepository) GetPolicy(ctx context.Context, walletAddress string) (*models.Policy, error) {
	var policy models.Policy
	err := r.db.WithContext(ctx).Where("wallet_address = ?", walletAddress).First(&policy).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &policy, nil
}

func (r *policyRepository) SavePolicy(ctx context.Context, policy *models.Policy) error {
	// setPolicy overwrites the whole record, never merges
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}},
		UpdateAll: true,
	}).Create(policy).Error
}

func (r *policyRepository) GetUsage(ctx context.Context, walletAddress, dayKey string) (*models.PolicyUsage, error) {
	var usage models.PolicyUsage
	err := r.db.WithContext(ctx).
		Where("wallet_address = ? AND day_key = ?", walletAddress, dayKey).
		First(&usage).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &usage, nil
}

func (r *policyRepository) SaveUsage(ctx context.Context, usage *models.PolicyUsage) error {
	return r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "wallet_address"}, {Name: "day_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"spent", "updated_at"}),
	}).Create(usage).Error
}
