package ledger

import (
	"context"
	"fmt"

	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/types"
)

// Tx is a unit of work against the ledger. Writes are staged and become
// visible only if the enclosing Update returns nil.
type Tx interface {
	Balance(account Account) (types.Amount, error)
	// Balances returns every non-zero balance.
	Balances() (map[Account]types.Amount, error)
	// Credit increases a balance. Overflow panics.
	Credit(account Account, amount types.Amount) error
	// Debit decreases a balance or fails with types.ErrInsufficientBalance
	// leaving it untouched.
	Debit(account Account, amount types.Amount) error
	Transfer(from, to Account, amount types.Amount) error

	Escrow(saleID types.Hash) (EscrowRecord, bool, error)
	PutEscrow(rec EscrowRecord) error

	RefundGuard(saleID types.Hash) (RefundGuard, bool, error)
	PutRefundGuard(guard RefundGuard) error

	Revocation(subject types.Hash) (RevocationRecord, bool, error)
	PutRevocation(rec RevocationRecord) error

	// Emit stages an event. Staged events reach the store's emitter only
	// after commit, in commit order.
	Emit(evt events.Event)
}

// Store is the authoritative ledger. Update calls are serialized: one commits
// fully, events included, before the next begins.
type Store interface {
	Update(ctx context.Context, fn func(Tx) error) error
	View(ctx context.Context, fn func(Tx) error) error
	SetEmitter(emitter events.Emitter)
}

// transfer is the shared debit-then-credit composition. Credit cannot fail
// for a reason other than storage errors, so no compensation is needed.
func transfer(tx Tx, from, to Account, amount types.Amount) error {
	if err := tx.Debit(from, amount); err != nil {
		return err
	}
	return tx.Credit(to, amount)
}

// Balance reads one balance.
func Balance(ctx context.Context, store Store, account Account) (types.Amount, error) {
	var out types.Amount
	err := store.View(ctx, func(tx Tx) error {
		bal, err := tx.Balance(account)
		out = bal
		return err
	})
	return out, err
}

// Balances reads every non-zero balance.
func Balances(ctx context.Context, store Store) (map[Account]types.Amount, error) {
	var out map[Account]types.Amount
	err := store.View(ctx, func(tx Tx) error {
		bals, err := tx.Balances()
		out = bals
		return err
	})
	return out, err
}

// Credit credits account in its own transaction.
func Credit(ctx context.Context, store Store, account Account, amount types.Amount) error {
	return store.Update(ctx, func(tx Tx) error { return tx.Credit(account, amount) })
}

// Debit debits account in its own transaction.
func Debit(ctx context.Context, store Store, account Account, amount types.Amount) error {
	return store.Update(ctx, func(tx Tx) error { return tx.Debit(account, amount) })
}

// Transfer moves amount between accounts atomically.
func Transfer(ctx context.Context, store Store, from, to Account, amount types.Amount) error {
	return store.Update(ctx, func(tx Tx) error { return tx.Transfer(from, to, amount) })
}

// GetEscrow loads one escrow record or returns types.ErrNotFound.
func GetEscrow(ctx context.Context, store Store, saleID types.Hash) (EscrowRecord, error) {
	var out EscrowRecord
	err := store.View(ctx, func(tx Tx) error {
		rec, ok, err := tx.Escrow(saleID)
		if err != nil {
			return err
		}
		if !ok {
			return types.ErrNotFound.Withf("escrow %s", saleID.Hex())
		}
		out = rec
		return nil
	})
	return out, err
}

// GetRevocation loads one revocation record.
func GetRevocation(ctx context.Context, store Store, subject types.Hash) (RevocationRecord, bool, error) {
	var (
		out RevocationRecord
		ok  bool
	)
	err := store.View(ctx, func(tx Tx) error {
		rec, found, err := tx.Revocation(subject)
		out, ok = rec, found
		return err
	})
	return out, ok, err
}

// GetRefundGuard loads the refund guard for a sale.
func GetRefundGuard(ctx context.Context, store Store, saleID types.Hash) (RefundGuard, bool, error) {
	var (
		out RefundGuard
		ok  bool
	)
	err := store.View(ctx, func(tx Tx) error {
		g, found, err := tx.RefundGuard(saleID)
		out, ok = g, found
		return err
	})
	return out, ok, err
}

func insufficient(account Account, have, want types.Amount) error {
	return types.ErrInsufficientBalance.Withf("%s has %s, needs %s", account, have, want)
}

func checkContext(ctx context.Context) error {
	if ctx == nil {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("ledger: %w", err)
	}
	return nil
}
