package ledger

import (
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/soihtufest/soihtufest-backend/pkg/db/models"
)

// UnitGroup collapses identical transaction item units back into a cart line.
type UnitGroup struct {
	ItemID        uuid.UUID
	VariantID     *uuid.UUID
	UnitPrice     decimal.Decimal
	OriginalPrice decimal.Decimal
	Count         int64
}

// Subtotal returns the group unit price multiplied by the unit count.
func (g UnitGroup) Subtotal() decimal.Decimal {
	return g.UnitPrice.Mul(decimal.NewFromInt(g.Count)).Round(2)
}

// GroupUnits aggregates unit rows sharing item, variant and purchase price.
// Group order follows first appearance in the input.
func GroupUnits(items []models.TransactionItem) []UnitGroup {
	type groupKey struct {
		itemID    uuid.UUID
		variantID uuid.UUID
		price     string
	}
	index := make(map[groupKey]int, len(items))
	groups := make([]UnitGroup, 0, len(items))
	for _, item := range items {
		key := groupKey{itemID: item.ItemID, price: item.PurchasePrice.String()}
		if item.VariantID != nil {
			key.variantID = *item.VariantID
		}
		if i, ok := index[key]; ok {
			groups[i].Count++
			continue
		}
		index[key] = len(groups)
		groups = append(groups, UnitGroup{
			ItemID:        item.ItemID,
			VariantID:     item.VariantID,
			UnitPrice:     item.PurchasePrice,
			OriginalPrice: item.OriginalPrice,
			Count:         1,
		})
	}
	return groups
}

// Total sums the subtotals of all groups.
func Total(groups []UnitGroup) decimal.Decimal {
	total := decimal.Zero
	for _, g := range groups {
		total = total.Add(g.Subtotal())
	}
	return total
}
