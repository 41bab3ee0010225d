package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// TransactionItem is one physical unit purchased in a transaction. A cart
// line of amount N expands into N rows so that delivery and redemption can
// be tracked per unit.
type TransactionItem struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Key           string          `gorm:"column:key;not null;uniqueIndex"`
	ItemID        uuid.UUID       `gorm:"column:item_id;type:uuid;not null;index"`
	VariantID     *uuid.UUID      `gorm:"column:variant_id;type:uuid"`
	TransactionID uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;index"`
	PurchasePrice decimal.Decimal `gorm:"column:purchase_price;type:numeric(10,2);not null"`
	OriginalPrice decimal.Decimal `gorm:"column:original_price;type:numeric(10,2);not null"`
	TimeDelivered *time.Time      `gorm:"column:time_delivered"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
}

// IsDelivered reports whether this unit has been handed out.
func (i TransactionItem) IsDelivered() bool {
	return i.TimeDelivered != nil
}
