package inventory

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/multierr"
	"gorm.io/gorm"

	"github.com/soihtufest/soihtufest-backend/internal/pricing"
	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
	"github.com/soihtufest/soihtufest-backend/pkg/enums"
	pkgerrors "github.com/soihtufest/soihtufest-backend/pkg/errors"
)

// Rejection reasons surfaced in error details so the storefront can render
// per-line messages.
const (
	ReasonInvalidQuantity         = "invalid_quantity"
	ReasonItemUnavailable         = "item_unavailable"
	ReasonVariantMismatch         = "variant_mismatch"
	ReasonInsufficientStock       = "insufficient_stock"
	ReasonDuplicateLine           = "duplicate_line"
	ReasonPaymentMethodNotAllowed = "payment_method_not_allowed"
)

// CartLine is one requested purchase row. Ephemeral, never persisted.
type CartLine struct {
	ItemID    uuid.UUID  `json:"item_id" validate:"required"`
	VariantID *uuid.UUID `json:"variant_id"`
	Amount    int        `json:"amount" validate:"required,min=1"`
}

// PricedLine is a validated cart line with its resolved item, variant and
// discount-aware pricing.
type PricedLine struct {
	Item          *models.StoreItem
	Variant       *models.StoreItemVariant
	Amount        int
	OriginalPrice decimal.Decimal
	UnitPrice     decimal.Decimal
	Subtotal      decimal.Decimal
}

type itemSource interface {
	FindItemByID(ctx context.Context, id uuid.UUID) (*models.StoreItem, error)
	CountUnitsSold(ctx context.Context, itemID uuid.UUID) (int, error)
}

// Validator checks cart lines against the catalogue and remaining stock.
type Validator struct {
	items itemSource
}

// NewValidator builds an inventory validator.
func NewValidator(items itemSource) (*Validator, error) {
	if items == nil {
		return nil, fmt.Errorf("item source required")
	}
	return &Validator{items: items}, nil
}

// ValidateLine resolves and prices a single cart line. secretKey unlocks
// secret items; an empty key hides them as if they did not exist.
func (v *Validator) ValidateLine(ctx context.Context, line CartLine, secretKey string) (*PricedLine, error) {
	if line.Amount < 1 {
		return nil, lineError(pkgerrors.CodeValidation, "amount must be at least 1", ReasonInvalidQuantity)
	}

	item, err := v.items.FindItemByID(ctx, line.ItemID)
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, lineError(pkgerrors.CodeInventory, "item is not available", ReasonItemUnavailable)
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load store item")
	}
	if !item.Available {
		return nil, lineError(pkgerrors.CodeInventory, "item is not available", ReasonItemUnavailable)
	}
	if item.IsSecret && (secretKey == "" || secretKey != item.SecretKey) {
		return nil, lineError(pkgerrors.CodeInventory, "item is not available", ReasonItemUnavailable)
	}

	var variant *models.StoreItemVariant
	if line.VariantID != nil {
		for i := range item.Variants {
			if item.Variants[i].ID == *line.VariantID {
				variant = &item.Variants[i]
				break
			}
		}
		if variant == nil {
			return nil, lineError(pkgerrors.CodeInventory, "variant does not belong to item", ReasonVariantMismatch)
		}
	}

	sold, err := v.items.CountUnitsSold(ctx, item.ID)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "count units sold")
	}
	remaining := item.Max - sold
	if item.PerOrderMax > 0 && remaining > item.PerOrderMax {
		remaining = item.PerOrderMax
	}
	if remaining < line.Amount {
		return nil, lineError(pkgerrors.CodeInventory, "not enough stock left", ReasonInsufficientStock).
			WithDetails(map[string]any{"reason": ReasonInsufficientStock, "purchasable": max(remaining, 0)})
	}

	unit := pricing.DiscountedUnitPrice(*item, line.Amount)
	return &PricedLine{
		Item:          item,
		Variant:       variant,
		Amount:        line.Amount,
		OriginalPrice: item.Price.Round(2),
		UnitPrice:     unit,
		Subtotal:      pricing.DiscountedSubtotal(*item, line.Amount),
	}, nil
}

// ValidateCart validates every line and rejects carts holding two lines for
// the same (item, variant) pair; callers must merge duplicates first.
// Line-scoped failures are aggregated so the buyer sees all of them at once.
func (v *Validator) ValidateCart(ctx context.Context, lines []CartLine, secretKey string) ([]PricedLine, error) {
	if len(lines) == 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "cart contains no items")
	}

	type lineKey struct {
		item    uuid.UUID
		variant uuid.UUID
	}
	seen := map[lineKey]bool{}

	priced := make([]PricedLine, 0, len(lines))
	details := map[string]any{}
	var agg error

	for i, line := range lines {
		key := lineKey{item: line.ItemID}
		if line.VariantID != nil {
			key.variant = *line.VariantID
		}
		if seen[key] {
			err := lineError(pkgerrors.CodeValidation, "duplicate cart line", ReasonDuplicateLine)
			agg = multierr.Append(agg, err)
			details[fmt.Sprintf("items[%d]", i)] = ReasonDuplicateLine
			continue
		}
		seen[key] = true

		pl, err := v.ValidateLine(ctx, line, secretKey)
		if err != nil {
			typed := pkgerrors.As(err)
			if typed == nil || typed.Code() == pkgerrors.CodeDependency {
				return nil, err
			}
			agg = multierr.Append(agg, err)
			details[fmt.Sprintf("items[%d]", i)] = reasonOf(typed)
			continue
		}
		priced = append(priced, *pl)
	}

	if agg != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeValidation, agg, "cart validation failed").WithDetails(details)
	}
	return priced, nil
}

// ValidatePaymentMethod enforces that a no-cost method is used only when
// every line prices to exactly zero, so priced items cannot bypass payment.
func (v *Validator) ValidatePaymentMethod(priced []PricedLine, method enums.PaymentMethod) error {
	if !method.IsValid() {
		return lineError(pkgerrors.CodeValidation, "unknown payment method", ReasonPaymentMethodNotAllowed)
	}
	if !method.IsNoCost() {
		return nil
	}
	for _, line := range priced {
		if !line.Subtotal.IsZero() {
			return lineError(pkgerrors.CodeValidation, "payment method not allowed for priced items", ReasonPaymentMethodNotAllowed)
		}
	}
	return nil
}

func lineError(code pkgerrors.Code, message, reason string) *pkgerrors.Error {
	return pkgerrors.New(code, message).WithDetails(map[string]any{"reason": reason})
}

func reasonOf(err *pkgerrors.Error) string {
	if details, ok := err.Details().(map[string]any); ok {
		if reason, ok := details["reason"].(string); ok {
			return reason
		}
	}
	return "invalid"
}
