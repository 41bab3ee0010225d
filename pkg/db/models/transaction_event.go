package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// TransactionEvent is an append-only audit record. Rows are never updated
// or deleted; duplicate and out-of-order provider callbacks are diagnosed
// from this log.
type TransactionEvent struct {
	ID            uuid.UUID       `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	TransactionID uuid.UUID       `gorm:"column:transaction_id;type:uuid;not null;index"`
	Message       string          `gorm:"column:message;not null"`
	Data          json.RawMessage `gorm:"column:data;type:jsonb"`
	Created       time.Time       `gorm:"column:created;autoCreateTime"`
}
