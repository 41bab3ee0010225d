package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/soihtufest/soihtufest-backend/pkg/enums"
)

// Transaction is the ledger aggregate root for one checkout. Its lifecycle
// is expressed as four ordered timestamps; paid and cancelled are terminal
// and never cleared once set.
type Transaction struct {
	ID                uuid.UUID          `gorm:"column:id;type:uuid;default:gen_random_uuid();primaryKey"`
	Key               string             `gorm:"column:key;not null;uniqueIndex"`
	FirstName         string             `gorm:"column:first_name;not null"`
	LastName          string             `gorm:"column:last_name;not null"`
	Email             string             `gorm:"column:email;not null"`
	Telephone         string             `gorm:"column:telephone;not null;default:''"`
	Mobile            string             `gorm:"column:mobile;not null;default:''"`
	Street            string             `gorm:"column:street;not null"`
	PostalCode        string             `gorm:"column:postal_code;not null"`
	City              string             `gorm:"column:city;not null"`
	Country           string             `gorm:"column:country;not null;default:'FI'"`
	Information       string             `gorm:"column:information;not null;default:''"`
	Token             string             `gorm:"column:token;not null;default:'';index"`
	PaymentMethodName string             `gorm:"column:payment_method_name;not null;default:''"`
	TimeCreated       time.Time          `gorm:"column:time_created;not null"`
	TimePending       *time.Time         `gorm:"column:time_pending"`
	TimePaid          *time.Time         `gorm:"column:time_paid"`
	TimeCancelled     *time.Time         `gorm:"column:time_cancelled"`
	Items             []TransactionItem  `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
	Events            []TransactionEvent `gorm:"foreignKey:TransactionID;constraint:OnDelete:CASCADE"`
	CreatedAt         time.Time          `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt         time.Time          `gorm:"column:updated_at;autoUpdateTime"`
}

// State derives the lifecycle state from the timestamps. Paid wins over
// cancelled to keep the terminal states mutually exclusive in readers even
// if a row were ever corrupted into carrying both.
func (t Transaction) State() enums.TransactionState {
	switch {
	case t.TimePaid != nil:
		return enums.TransactionStatePaid
	case t.TimeCancelled != nil:
		return enums.TransactionStateCancelled
	case t.TimePending != nil:
		return enums.TransactionStatePending
	default:
		return enums.TransactionStateCreated
	}
}

// IsPaid reports whether the transaction reached the paid terminal state.
func (t Transaction) IsPaid() bool {
	return t.TimePaid != nil
}

// IsCancelled reports whether the transaction reached the cancelled terminal state.
func (t Transaction) IsCancelled() bool {
	return t.TimeCancelled != nil
}

// FullName joins the buyer's name fields for display.
func (t Transaction) FullName() string {
	return t.FirstName + " " + t.LastName
}
