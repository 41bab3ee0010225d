package store

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/repo"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

// Repository manages persistence for store items and their variants.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	ListByEvent(ctx context.Context, event string) ([]models.StoreItem, error)
	FindVariantByID(ctx context.Context, id uuid.UUID) (*models.StoreItemVariant, error)
	CountUnitsSold(ctx context.Context, itemID uuid.UUID) (int, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a store repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error) {
	var item models.StoreItem
	if err := r.DB(ctx).
		Preload("Variants").
		First(&item, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &item, nil
}

func (r *repository) ListByEvent(ctx context.Context, event string) ([]models.StoreItem, error) {
	var items []models.StoreItem
	if err := r.DB(ctx).
		Preload("Variants").
		Where("event = ?", event).
		Order("sort_index ASC, name ASC").
		Find(&items).Error; err != nil {
		return nil, err
	}
	return items, nil
}

func (r *repository) FindVariantByID(ctx context.Context, id uuid.UUID) (*models.StoreItemVariant, error) {
	var variant models.StoreItemVariant
	if err := r.DB(ctx).First(&variant, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &variant, nil
}

// CountUnitsSold counts unit rows held by any transaction that has not been
// cancelled. Created and pending transactions hold stock too, so a buyer
// mid-payment cannot be oversold.
func (r *repository) CountUnitsSold(ctx context.Context, itemID uuid.UUID) (int, error) {
	var count int64
	err := r.DB(ctx).
		Model(&models.TransactionItem{}).
		Joins("JOIN transactions ON transactions.id = transaction_items.transaction_id").
		Where("transaction_items.item_id = ?", itemID).
		Where("transactions.time_cancelled IS NULL").
		Count(&count).Error
	if err != nil {
		return 0, err
	}
	return int(count), nil
}
