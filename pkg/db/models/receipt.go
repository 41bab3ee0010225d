package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Receipt stores both the parameters used to render a receipt mail and the
// final rendered content, so the document can be reproduced and audited.
// The numeric id doubles as the human-visible receipt number. Sent is the
// only field mutated after creation, exactly once.
type Receipt struct {
	ID            int64           `gorm:"column:id;primaryKey;autoIncrement"`
	TransactionID *uuid.UUID      `gorm:"column:transaction_id;type:uuid;index;constraint:OnDelete:SET NULL"`
	MailTo        string          `gorm:"column:mail_to;not null"`
	MailFrom      string          `gorm:"column:mail_from;not null"`
	Subject       string          `gorm:"column:subject;not null"`
	Sent          *time.Time      `gorm:"column:sent"`
	Params        json.RawMessage `gorm:"column:params;type:jsonb"`
	Content       string          `gorm:"column:content;not null;default:''"`
	CreatedAt     time.Time       `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt     time.Time       `gorm:"column:updated_at;autoUpdateTime"`
}

// IsSent reports whether delivery already happened; senders must check this
// before attempting delivery.
func (r Receipt) IsSent() bool {
	return r.Sent != nil
}
