package models

import (
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// StoreItem is a purchasable product (ticket or merchandise) tied to one
// event edition. Stock is tracked at the item level; variants subdivide the
// same pool.
type StoreItem struct {
	ID                 uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Event              string             `gorm:"column:event;not null;index"`
	Name               string             `gorm:"column:name;not null"`
	Description        string             `gorm:"column:description;not null;default:''"`
	Price              decimal.Decimal    `gorm:"column:price;type:numeric(10,2);not null"`
	Max                int                `gorm:"column:max;not null"`
	PerOrderMax        int                `gorm:"column:per_order_max;not null;default:10"`
	SortIndex          int                `gorm:"column:sort_index;not null;default:0"`
	DiscountAmount     int                `gorm:"column:discount_amount;not null;default:-1"`
	DiscountPercentage int                `gorm:"column:discount_percentage;not null;default:0"`
	Available          bool               `gorm:"column:available;not null;default:false"`
	IsSecret           bool               `gorm:"column:is_secret;not null;default:false"`
	SecretKey          string             `gorm:"column:secret_key;not null;default:''"`
	IsTicket           bool               `gorm:"column:is_ticket;not null;default:false"`
	Variants           []StoreItemVariant `gorm:"foreignKey:ItemID;constraint:OnDelete:CASCADE"`
	CreatedAt          time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt          time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// DiscountEnabled reports whether a quantity discount is configured at all.
func (i StoreItem) DiscountEnabled() bool {
	return i.DiscountAmount >= 0
}

// DiscountFactor returns the multiplier applied once the quantity threshold
// is met, e.g. 50% discount yields 0.50.
func (i StoreItem) DiscountFactor() decimal.Decimal {
	return decimal.NewFromInt(int64(100 - i.DiscountPercentage)).Div(decimal.NewFromInt(100))
}
