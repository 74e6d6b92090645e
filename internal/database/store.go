package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/ksred/null-ledger/internal/database/schema"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

// Store is a ledger.Store backed by gorm. Every Update is one database
// transaction that also appends its events to the ledger_events outbox, so
// state and outbox commit or roll back together.
type Store struct {
	db      *gorm.DB
	mu      sync.Mutex
	emitMu  sync.RWMutex
	emitter events.Emitter
	nowFn   func() time.Time
}

// NewStore wraps a migrated database.
func NewStore(db *gorm.DB) *Store {
	return &Store{db: db, emitter: events.NoopEmitter{}, nowFn: time.Now}
}

// DB exposes the underlying handle for health checks.
func (s *Store) DB() *gorm.DB { return s.db }

// SetEmitter implements ledger.Store.
func (s *Store) SetEmitter(emitter events.Emitter) {
	s.emitMu.Lock()
	defer s.emitMu.Unlock()
	if emitter == nil {
		emitter = events.NoopEmitter{}
	}
	s.emitter = emitter
}

// Update implements ledger.Store.
func (s *Store) Update(ctx context.Context, fn func(ledger.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var staged []events.Event
	err := s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		tx := &gormTx{db: db}
		if err := fn(tx); err != nil {
			return err
		}
		now := s.nowFn().UTC()
		for _, evt := range tx.events {
			payload, err := json.Marshal(evt)
			if err != nil {
				return fmt.Errorf("database: encode %s: %w", evt.EventType(), err)
			}
			row := schema.LedgerEvent{Type: evt.EventType(), Payload: payload, OccurredAt: now}
			if err := db.Create(&row).Error; err != nil {
				return err
			}
		}
		staged = tx.events
		return nil
	})
	if err != nil {
		return err
	}

	s.emitMu.RLock()
	emitter := s.emitter
	s.emitMu.RUnlock()
	for _, evt := range staged {
		emitter.Emit(evt)
	}
	return nil
}

// View implements ledger.Store.
func (s *Store) View(ctx context.Context, fn func(ledger.Tx) error) error {
	return fn(&gormTx{db: s.db.WithContext(ctx), readOnly: true})
}

type gormTx struct {
	db       *gorm.DB
	readOnly bool
	events   []events.Event
}

func (t *gormTx) writable() error {
	if t.readOnly {
		return ledger.ErrReadOnly
	}
	return nil
}

// first loads one row by primary key, reporting whether it exists.
func first(db *gorm.DB, dst any, query string, args ...any) (bool, error) {
	err := db.Where(query, args...).Take(dst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	return err == nil, err
}

func (t *gormTx) Balance(account ledger.Account) (types.Amount, error) {
	var row schema.Balance
	ok, err := first(t.db, &row, "account = ?", string(account))
	if err != nil || !ok {
		return types.Amount{}, err
	}
	return types.ParseAmount(row.Amount)
}

func (t *gormTx) Balances() (map[ledger.Account]types.Amount, error) {
	var rows []schema.Balance
	if err := t.db.Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make(map[ledger.Account]types.Amount, len(rows))
	for _, row := range rows {
		amt, err := types.ParseAmount(row.Amount)
		if err != nil {
			return nil, fmt.Errorf("database: balance %s: %w", row.Account, err)
		}
		out[ledger.Account(row.Account)] = amt
	}
	return out, nil
}

func (t *gormTx) setBalance(account ledger.Account, amount types.Amount) error {
	if amount.IsZero() {
		return t.db.Delete(&schema.Balance{}, "account = ?", string(account)).Error
	}
	row := schema.Balance{Account: string(account), Amount: amount.String(), UpdatedAt: time.Now().UTC()}
	return t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "account"}},
		DoUpdates: clause.AssignmentColumns([]string{"amount", "updated_at"}),
	}).Create(&row).Error
}

func (t *gormTx) Credit(account ledger.Account, amount types.Amount) error {
	if err := t.writable(); err != nil {
		return err
	}
	bal, err := t.Balance(account)
	if err != nil {
		return err
	}
	return t.setBalance(account, bal.Add(amount))
}

func (t *gormTx) Debit(account ledger.Account, amount types.Amount) error {
	if err := t.writable(); err != nil {
		return err
	}
	bal, err := t.Balance(account)
	if err != nil {
		return err
	}
	if bal.Lt(amount) {
		return types.ErrInsufficientBalance.Withf("%s has %s, needs %s", account, bal, amount)
	}
	return t.setBalance(account, bal.Sub(amount))
}

func (t *gormTx) Transfer(from, to ledger.Account, amount types.Amount) error {
	if err := t.Debit(from, amount); err != nil {
		return err
	}
	return t.Credit(to, amount)
}

func (t *gormTx) Escrow(saleID types.Hash) (ledger.EscrowRecord, bool, error) {
	var row schema.Escrow
	ok, err := first(t.db, &row, "sale_id = ?", saleID.Hex())
	if err != nil || !ok {
		return ledger.EscrowRecord{}, false, err
	}
	rec, err := escrowFromRow(row)
	return rec, err == nil, err
}

func (t *gormTx) PutEscrow(rec ledger.EscrowRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	row := escrowToRow(rec)
	return t.db.Save(&row).Error
}

func (t *gormTx) RefundGuard(saleID types.Hash) (ledger.RefundGuard, bool, error) {
	var row schema.RefundGuard
	ok, err := first(t.db, &row, "sale_id = ?", saleID.Hex())
	if err != nil || !ok {
		return ledger.RefundGuard{}, false, err
	}
	amt, err := types.ParseAmount(row.Amount)
	if err != nil {
		return ledger.RefundGuard{}, false, err
	}
	return ledger.RefundGuard{
		SaleID:     saleID,
		Recipient:  common.HexToAddress(row.Recipient),
		Amount:     amt,
		Reason:     row.Reason,
		RefundedAt: row.RefundedAt.UTC(),
	}, true, nil
}

func (t *gormTx) PutRefundGuard(g ledger.RefundGuard) error {
	if err := t.writable(); err != nil {
		return err
	}
	// Guards are insert-only; a duplicate key is a double refund.
	return t.db.Create(&schema.RefundGuard{
		SaleID:     g.SaleID.Hex(),
		Recipient:  g.Recipient.Hex(),
		Amount:     g.Amount.String(),
		Reason:     g.Reason,
		RefundedAt: g.RefundedAt,
	}).Error
}

func (t *gormTx) Revocation(subject types.Hash) (ledger.RevocationRecord, bool, error) {
	var row schema.Revocation
	ok, err := first(t.db, &row, "subject = ?", subject.Hex())
	if err != nil || !ok {
		return ledger.RevocationRecord{}, false, err
	}
	return ledger.RevocationRecord{
		Subject:   subject,
		Reason:    row.Reason,
		Issuer:    common.HexToAddress(row.Issuer),
		Emergency: row.Emergency,
		RevokedAt: row.RevokedAt.UTC(),
	}, true, nil
}

func (t *gormTx) PutRevocation(rec ledger.RevocationRecord) error {
	if err := t.writable(); err != nil {
		return err
	}
	return t.db.Create(&schema.Revocation{
		Subject:   rec.Subject.Hex(),
		Reason:    rec.Reason,
		Issuer:    rec.Issuer.Hex(),
		Emergency: rec.Emergency,
		RevokedAt: rec.RevokedAt,
	}).Error
}

func (t *gormTx) Emit(evt events.Event) {
	if t.readOnly || evt == nil {
		return
	}
	t.events = append(t.events, evt)
}

func escrowToRow(rec ledger.EscrowRecord) schema.Escrow {
	return schema.Escrow{
		SaleID:       rec.SaleID.Hex(),
		State:        string(rec.State),
		Escrowed:     rec.Escrowed.String(),
		Buyer:        rec.Buyer.Hex(),
		Seller:       rec.Seller.Hex(),
		Subject:      rec.Subject.Hex(),
		Price:        rec.Price.String(),
		Expiry:       rec.Expiry,
		CapPct:       rec.CapPct,
		EvidenceRef:  rec.EvidenceRef,
		RefundReason: rec.RefundReason,
		FundedAt:     rec.FundedAt,
		UpdatedAt:    rec.UpdatedAt,
	}
}

func escrowFromRow(row schema.Escrow) (ledger.EscrowRecord, error) {
	escrowed, err := types.ParseAmount(row.Escrowed)
	if err != nil {
		return ledger.EscrowRecord{}, fmt.Errorf("database: escrow %s: %w", row.SaleID, err)
	}
	price, err := types.ParseAmount(row.Price)
	if err != nil {
		return ledger.EscrowRecord{}, fmt.Errorf("database: escrow %s: %w", row.SaleID, err)
	}
	return ledger.EscrowRecord{
		SaleID:       common.HexToHash(row.SaleID),
		State:        ledger.EscrowState(row.State),
		Escrowed:     escrowed,
		Buyer:        common.HexToAddress(row.Buyer),
		Seller:       common.HexToAddress(row.Seller),
		Subject:      common.HexToHash(row.Subject),
		Price:        price,
		Expiry:       row.Expiry.UTC(),
		CapPct:       row.CapPct,
		EvidenceRef:  row.EvidenceRef,
		RefundReason: row.RefundReason,
		FundedAt:     row.FundedAt.UTC(),
		UpdatedAt:    row.UpdatedAt.UTC(),
	}, nil
}
