package models

import (
	"time"

	"github.com/google/uuid"
)

// StoreItemVariant subdivides an item (e.g. shirt sizes) without carrying
// its own stock counter.
type StoreItemVariant struct {
	ID        uuid.UUID `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	ItemID    uuid.UUID `gorm:"column:item_id;type:uuid;not null;index"`
	Name      string    `gorm:"column:name;not null"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
