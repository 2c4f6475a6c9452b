package repository

import (
	"context"
	"errors"

	"agentpay-backend/internal/models"

	"gorm.io/gorm"
)

// WebhookRepository defines the interface for webhook subscription and dead-letter data access
type WebhookRepository interface {
	CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error)
	UpdateSubscription(ctx context.Context, sub *models.WebhookSubscription) error
	ListActiveSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)
	ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error)

	CreateDeadLetter(ctx context.Context, dl *models.WebhookDeadLetter) error
	ListDeadLetters(ctx context.Context, limit int) ([]*models.WebhookDeadLetter, error)
	GetDeadLetter(ctx context.Context, id string) (*models.WebhookDeadLetter, error)
	DeleteDeadLetter(ctx context.Context, id string) error
}

type webhookRepository struct {
	db *gorm.DB
}

// NewWebhookRepository creates a new WebhookRepository instance
func NewWebhookRepository(db *gorm.DB) WebhookRepository {
	return &webhookRepository{db: db}
}

func (r *webhookRepository) CreateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	return r.db.WithContext(ctx).Create(sub).Error
}

func (r *webhookRepository) GetSubscription(ctx context.Context, id string) (*models.WebhookSubscription, error) {
	var sub models.WebhookSubscription
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&sub).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &sub, nil
}

func (r *webhookRepository) UpdateSubscription(ctx context.Context, sub *models.WebhookSubscription) error {
	return r.db.WithContext(ctx).Save(sub).Error
}

func (r *webhookRepository) ListActiveSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	var subs []*models.WebhookSubscription
	err := r.db.WithContext(ctx).Where("active = ?", true).Find(&subs).Error
	return subs, err
}

func (r *webhookRepository) ListSubscriptions(ctx context.Context) ([]*models.WebhookSubscription, error) {
	var subs []*models.WebhookSubscription
	err := r.db.WithContext(ctx).Order("created_at DESC").Find(&subs).Error
	return subs, err
}

func (r *webhookRepository) CreateDeadLetter(ctx context.Context, dl *models.WebhookDeadLetter) error {
	return r.db.WithContext(ctx).Create(dl).Error
}

func (r *webhookRepository) ListDeadLetters(ctx context.Context, limit int) ([]*models.WebhookDeadLetter, error) {
	var dls []*models.WebhookDeadLetter
	err := r.db.WithContext(ctx).Order("created_at DESC").Limit(limit).Find(&dls).Error
	return dls, err
}

func (r *webhookRepository) GetDeadLetter(ctx context.Context, id string) (*models.WebhookDeadLetter, error) {
	var dl models.WebhookDeadLetter
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&dl).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return &dl, nil
}

func (r *webhookRepository) DeleteDeadLetter(ctx context.Context, id string) error {
	return r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.WebhookDeadLetter{}).Error
}
