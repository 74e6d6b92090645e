// Package schema holds the gorm row types of the persistent ledger.
package schema

import "time"

// Balance is one non-zero account balance. Amounts are decimal strings so
// 256-bit values survive every driver.
type Balance struct {
	Account   string `gorm:"primaryKey;size:128"`
	Amount    string `gorm:"not null"`
	UpdatedAt time.Time
}

type Escrow struct {
	SaleID       string `gorm:"primaryKey;size:66"`
	State        string `gorm:"not null;size:16"`
	Escrowed     string `gorm:"not null"`
	Buyer        string `gorm:"not null;size:42"`
	Seller       string `gorm:"not null;size:42"`
	Subject      string `gorm:"not null;size:66"`
	Price        string `gorm:"not null"`
	Expiry       time.Time
	CapPct       uint32
	EvidenceRef  string
	RefundReason string
	FundedAt     time.Time
	UpdatedAt    time.Time `gorm:"autoUpdateTime:false"`
}

type RefundGuard struct {
	SaleID     string `gorm:"primaryKey;size:66"`
	Recipient  string `gorm:"not null;size:42"`
	Amount     string `gorm:"not null"`
	Reason     string
	RefundedAt time.Time
}

type Revocation struct {
	Subject   string `gorm:"primaryKey;size:66"`
	Reason    string `gorm:"not null"`
	Issuer    string `gorm:"not null;size:42"`
	Emergency bool
	RevokedAt time.Time
}

// LedgerEvent is an outbox row. Sequence is assigned on insert and is the
// delivery order.
type LedgerEvent struct {
	Sequence    uint64 `gorm:"primaryKey;autoIncrement"`
	Type        string `gorm:"not null;size:64"`
	Payload     []byte `gorm:"not null"`
	OccurredAt  time.Time
	Delivered   bool `gorm:"not null;default:false"`
	DeliveredAt *time.Time
}

// TableName keeps the outbox table name stable.
func (LedgerEvent) TableName() string { return "ledger_events" }
