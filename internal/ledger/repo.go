package ledger

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/soihtufest/soihtufest-backend/internal/repo"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

// Repository manages persistence for transactions, their unit line items and
// the append-only event log.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	CreateTransaction(ctx context.Context, transaction *models.Transaction) error
	CreateItems(ctx context.Context, items []models.TransactionItem) error
	FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error)
	FindByKey(ctx context.Context, key string) (*models.Transaction, error)
	FindByToken(ctx context.Context, token string) (*models.Transaction, error)
	Update(ctx context.Context, transaction *models.Transaction) error
	AppendEvent(ctx context.Context, event *models.TransactionEvent) error
	ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error)
}

type repository struct {
	repo.Base
}

// NewRepository returns a ledger repository bound to the provided database.
func NewRepository(db *gorm.DB) Repository {
	return &repository{Base: repo.NewBase(db)}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{Base: repo.NewBase(tx)}
}

func (r *repository) CreateTransaction(ctx context.Context, transaction *models.Transaction) error {
	return r.DB(ctx).Create(transaction).Error
}

func (r *repository) CreateItems(ctx context.Context, items []models.TransactionItem) error {
	if len(items) == 0 {
		return nil
	}
	return r.DB(ctx).Create(&items).Error
}

func (r *repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.DB(ctx).
		Preload("Items").
		First(&transaction, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

// FindByIDForUpdate loads the transaction under a row-level lock. Callers
// must be inside a database transaction; the lock serializes concurrent
// callbacks for the same row until commit.
func (r *repository) FindByIDForUpdate(ctx context.Context, id uuid.UUID) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.DB(ctx).
		Clauses(clause.Locking{Strength: "UPDATE"}).
		First(&transaction, "id = ?", id).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) FindByKey(ctx context.Context, key string) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.DB(ctx).
		Preload("Items").
		First(&transaction, "key = ?", key).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) FindByToken(ctx context.Context, token string) (*models.Transaction, error) {
	var transaction models.Transaction
	if err := r.DB(ctx).
		Preload("Items").
		First(&transaction, "token = ? AND token <> ''", token).Error; err != nil {
		return nil, err
	}
	return &transaction, nil
}

func (r *repository) Update(ctx context.Context, transaction *models.Transaction) error {
	return r.DB(ctx).Save(transaction).Error
}

func (r *repository) AppendEvent(ctx context.Context, event *models.TransactionEvent) error {
	return r.DB(ctx).Create(event).Error
}

func (r *repository) ListEvents(ctx context.Context, transactionID uuid.UUID) ([]models.TransactionEvent, error) {
	var events []models.TransactionEvent
	if err := r.DB(ctx).
		Where("transaction_id = ?", transactionID).
		Order("created ASC").
		Find(&events).Error; err != nil {
		return nil, err
	}
	return events, nil
}
