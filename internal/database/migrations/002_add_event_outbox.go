package migrations

import (
	"gorm.io/gorm"

	"github.com/ksred/null-ledger/internal/database/schema"
)

// AddEventOutbox creates the ledger_events outbox and the indexes the relay
// and the read endpoints query by.
func AddEventOutbox(db *gorm.DB) error {
	if err := db.AutoMigrate(&schema.LedgerEvent{}); err != nil {
		return err
	}

	indexes := []string{
		// Relay scans undelivered events in sequence order
		`CREATE INDEX IF NOT EXISTS idx_ledger_events_pending
		 ON ledger_events(delivered, sequence)`,

		`CREATE INDEX IF NOT EXISTS idx_ledger_events_type
		 ON ledger_events(type)`,

		// Escrow lookups by participant
		`CREATE INDEX IF NOT EXISTS idx_escrows_buyer
		 ON escrows(buyer)`,

		`CREATE INDEX IF NOT EXISTS idx_escrows_seller
		 ON escrows(seller)`,

		`CREATE INDEX IF NOT EXISTS idx_escrows_state
		 ON escrows(state)`,
	}

	for _, idx := range indexes {
		if err := db.Exec(idx).Error; err != nil {
			return err
		}
	}
	return nil
}
