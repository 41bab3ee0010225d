package ledger

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/inventory"
	"github.com/soihtufest/soihtufest-backend/internal/store"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	"github.com/soihtufest/soihtufest-backend/pkg/enums"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

type txRunner interface {
	WithTx(ctx context.Context, fn func(tx *gorm.DB) error) error
}

// Service owns transaction creation and lookups.
type Service interface {
	CreateTransaction(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error)
	GetByKey(ctx context.Context, key string) (*models.Transaction, error)
	GetByToken(ctx context.Context, token string) (*models.Transaction, error)
	LogEvent(ctx context.Context, transactionID uuid.UUID, message string, data any) error
}

// BuyerInfo carries the contact fields persisted on the transaction header.
type BuyerInfo struct {
	FirstName   string
	LastName    string
	Email       string
	Telephone   string
	Mobile      string
	Street      string
	PostalCode  string
	City        string
	Country     string
	Information string
}

// CreateTransactionInput is everything needed to open a ledger transaction.
type CreateTransactionInput struct {
	Buyer         BuyerInfo
	Lines         []inventory.CartLine
	PaymentMethod enums.PaymentMethod
	SecretKey     string
}

type service struct {
	tx        txRunner
	repo      Repository
	storeRepo store.Repository
}

// NewService wires the ledger service.
func NewService(tx txRunner, repo Repository, storeRepo store.Repository) (Service, error) {
	if tx == nil {
		return nil, fmt.Errorf("tx runner required")
	}
	if repo == nil {
		return nil, fmt.Errorf("ledger repository required")
	}
	if storeRepo == nil {
		return nil, fmt.Errorf("store repository required")
	}
	return &service{tx: tx, repo: repo, storeRepo: storeRepo}, nil
}

// CreateTransaction validates and prices the cart, persists the transaction
// header with a fresh unguessable key and expands every cart line into one
// row per purchased unit. The whole operation runs in a single database
// transaction; no partial ledger state is ever observable.
func (s *service) CreateTransaction(ctx context.Context, input CreateTransactionInput) (*models.Transaction, error) {
	if err := validateBuyer(input.Buyer); err != nil {
		return nil, err
	}

	var created *models.Transaction
	err := s.tx.WithTx(ctx, func(tx *gorm.DB) error {
		repo := s.repo.WithTx(tx)
		storeRepo := s.storeRepo.WithTx(tx)

		validator, err := inventory.NewValidator(storeRepo)
		if err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeInternal, err, "build validator")
		}
		priced, err := validator.ValidateCart(ctx, input.Lines, input.SecretKey)
		if err != nil {
			return err
		}
		if err := validator.ValidatePaymentMethod(priced, input.PaymentMethod); err != nil {
			return err
		}

		now := time.Now().UTC()
		transaction := &models.Transaction{
			ID:          uuid.New(),
			Key:         NewKey(),
			FirstName:   input.Buyer.FirstName,
			LastName:    input.Buyer.LastName,
			Email:       input.Buyer.Email,
			Telephone:   input.Buyer.Telephone,
			Mobile:      input.Buyer.Mobile,
			Street:      input.Buyer.Street,
			PostalCode:  input.Buyer.PostalCode,
			City:        input.Buyer.City,
			Country:     defaultCountry(input.Buyer.Country),
			Information: input.Buyer.Information,
			TimeCreated: now,
		}
		if err := repo.CreateTransaction(ctx, transaction); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction")
		}

		var units []models.TransactionItem
		for _, line := range priced {
			for i := 0; i < line.Amount; i++ {
				unit := models.TransactionItem{
					ID:            uuid.New(),
					Key:           NewKey(),
					ItemID:        line.Item.ID,
					TransactionID: transaction.ID,
					PurchasePrice: line.UnitPrice,
					OriginalPrice: line.OriginalPrice,
				}
				if line.Variant != nil {
					variantID := line.Variant.ID
					unit.VariantID = &variantID
				}
				units = append(units, unit)
			}
		}
		if err := repo.CreateItems(ctx, units); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist transaction items")
		}
		transaction.Items = units

		event := &models.TransactionEvent{
			TransactionID: transaction.ID,
			Message:       "transaction created",
			Data:          EventData(map[string]any{"units": len(units), "payment_method": input.PaymentMethod.String()}),
		}
		if err := repo.AppendEvent(ctx, event); err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append transaction event")
		}

		created = transaction
		return nil
	})
	if err != nil {
		return nil, err
	}
	return created, nil
}

func (s *service) GetByKey(ctx context.Context, key string) (*models.Transaction, error) {
	if key == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction key required")
	}
	transaction, err := s.repo.FindByKey(ctx, key)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return transaction, nil
}

func (s *service) GetByToken(ctx context.Context, token string) (*models.Transaction, error) {
	if token == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction token required")
	}
	transaction, err := s.repo.FindByToken(ctx, token)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "transaction not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load transaction")
	}
	return transaction, nil
}

func (s *service) LogEvent(ctx context.Context, transactionID uuid.UUID, message string, data any) error {
	if transactionID == uuid.Nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "transaction id required")
	}
	event := &models.TransactionEvent{
		TransactionID: transactionID,
		Message:       message,
		Data:          EventData(data),
	}
	if err := s.repo.AppendEvent(ctx, event); err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "append transaction event")
	}
	return nil
}

// NewKey returns an opaque identifier safe for use in public URLs.
func NewKey() string {
	return strings.ReplaceAll(uuid.NewString(), "-", "")
}

func validateBuyer(buyer BuyerInfo) error {
	details := map[string]string{}
	if strings.TrimSpace(buyer.FirstName) == "" {
		details["first_name"] = "is required"
	}
	if strings.TrimSpace(buyer.LastName) == "" {
		details["last_name"] = "is required"
	}
	if strings.TrimSpace(buyer.Email) == "" {
		details["email"] = "is required"
	}
	if strings.TrimSpace(buyer.Street) == "" {
		details["street"] = "is required"
	}
	if strings.TrimSpace(buyer.PostalCode) == "" {
		details["postal_code"] = "is required"
	}
	if strings.TrimSpace(buyer.City) == "" {
		details["city"] = "is required"
	}
	if len(details) > 0 {
		return pkgerrors.New(pkgerrors.CodeValidation, "buyer info incomplete").WithDetails(details)
	}
	return nil
}

func defaultCountry(country string) string {
	if country == "" {
		return "FI"
	}
	return country
}

// EventData marshals an event payload for the append-only log. A payload
// that cannot be marshalled degrades to an empty object rather than losing
// the event.
func EventData(data any) json.RawMessage {
	if data == nil {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return json.RawMessage(`{}`)
	}
	return raw
}
