package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/null-ledger/internal/database/schema"
)

// CreateLedgerTables creates balances, escrow records, refund guards and
// revocations.
func CreateLedgerTables(db *gorm.DB) error {
	return db.AutoMigrate(
		&schema.Balance{},
		&schema.Escrow{},
		&schema.RefundGuard{},
		&schema.Revocation{},
	)
}
