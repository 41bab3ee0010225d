package pricing

import (
	"github.com/shopspring/decimal"

	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

// DiscountedUnitPrice returns the effective unit price for purchasing the
// given amount of an item. The quantity discount kicks in once the amount
// reaches the item's threshold; the result is rounded to two decimal places.
// All arithmetic stays in fixed-point decimal so totals never drift by cents.
func DiscountedUnitPrice(item models.StoreItem, amount int) decimal.Decimal {
	if !item.DiscountEnabled() || amount < item.DiscountAmount {
		return item.Price.Round(2)
	}
	return item.Price.Mul(item.DiscountFactor()).Round(2)
}

// DiscountedSubtotal returns the discount-aware price for amount units.
func DiscountedSubtotal(item models.StoreItem, amount int) decimal.Decimal {
	return DiscountedUnitPrice(item, amount).Mul(decimal.NewFromInt(int64(amount)))
}

// IsZeroCost reports whether amount units of the item cost nothing.
func IsZeroCost(item models.StoreItem, amount int) bool {
	return DiscountedSubtotal(item, amount).IsZero()
}
