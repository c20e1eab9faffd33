package models

import (
	"time"

	"github.com/shopspring/decimal"
)

const (
	LedgerStatusSucceeded = "succeeded"
	LedgerStatusFailed    = "failed"
)

// LedgerEntry is one gateway transaction. ExternalID is the gateway identifier
// of the checkout session, invoice or payment and is unique across the table.
type LedgerEntry struct {
	ID          uint            `gorm:"primaryKey" json:"id"`
	ExternalID  string          `gorm:"type:varchar(191);not null;uniqueIndex:ux_ledger_entries_external_id" json:"external_id"`
	UserEmail   string          `gorm:"type:varchar(200);not null;index:idx_ledger_entries_email_created,priority:1" json:"user_email"`
	PlanType    PlanType        `gorm:"type:varchar(16);not null" json:"plan_type"`
	Amount      decimal.Decimal `gorm:"type:decimal(12,2);not null" json:"amount"`
	Currency    string          `gorm:"type:varchar(3);not null" json:"currency"`
	Status      string          `gorm:"type:varchar(16);not null;default:'succeeded'" json:"status"`
	SourceEvent string          `gorm:"type:varchar(64);not null;default:''" json:"source_event"`
	CreatedAt   time.Time       `gorm:"autoCreateTime;index:idx_ledger_entries_email_created,priority:2" json:"created_at"`
}
