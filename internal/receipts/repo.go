package receipts

import (
	"context"
	"time"

	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/repo"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

// Repository manages receipt persistence.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, receipt *models.Receipt) error
	FindByID(ctx context.Context, id int64) (*models.Receipt, error)
	Update(ctx context.Context, receipt *models.Receipt) error
	ListUnsentOlderThan(ctx context.Context, cutoff time.Time) ([]models.Receipt, error)
}

type repository struct {
	repo.Base
}

func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) Create(ctx context.Context, receipt *models.Receipt) error {
	return r.DB(ctx).Create(receipt).Error
}

func (r *repository) FindByID(ctx context.Context, id int64) (*models.Receipt, error) {
	var receipt models.Receipt
	if err := r.DB(ctx).First(&receipt, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &receipt, nil
}

func (r *repository) Update(ctx context.Context, receipt *models.Receipt) error {
	return r.DB(ctx).Save(receipt).Error
}

// ListUnsentOlderThan returns rendered receipts that were never delivered
// and have been sitting since before cutoff. Used by the requeue job.
func (r *repository) ListUnsentOlderThan(ctx context.Context, cutoff time.Time) ([]models.Receipt, error) {
	var receipts []models.Receipt
	if err := r.DB(ctx).
		Where("sent IS NULL AND content <> '' AND created_at < ?", cutoff).
		Order("id ASC").
		Find(&receipts).Error; err != nil {
		return nil, err
	}
	return receipts, nil
}
