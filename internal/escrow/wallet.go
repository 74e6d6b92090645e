package escrow

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

// Deposit credits external funds to a principal's wallet account. Only the
// owner may mint into wallets; this stands in for the payment rail.
func (e *Engine) Deposit(ctx context.Context, caller, wallet types.Address, amount types.Amount) (err error) {
	defer func(started time.Time) { e.observe("deposit", started, err) }(time.Now())
	if err := auth.Require(e.oracle, caller, types.RoleOwner); err != nil {
		return err
	}
	if wallet == types.ZeroAddress || amount.IsZero() {
		return types.ErrInvalidInput.Withf("wallet and non-zero amount required")
	}
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Credit(ledger.WalletAccount(wallet), amount); err != nil {
			return err
		}
		tx.Emit(events.Deposited{Wallet: wallet, Amount: amount, Operator: caller})
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("service", "escrow").
		Str("wallet", wallet.Hex()).
		Str("amount", amount.String()).
		Msg("wallet deposit")
	return nil
}

// Withdraw moves funds out of the caller's own wallet account.
func (e *Engine) Withdraw(ctx context.Context, caller types.Address, amount types.Amount) (err error) {
	defer func(started time.Time) { e.observe("withdraw", started, err) }(time.Now())
	if caller == types.ZeroAddress || amount.IsZero() {
		return types.ErrInvalidInput.Withf("caller and non-zero amount required")
	}
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Debit(ledger.WalletAccount(caller), amount); err != nil {
			return err
		}
		tx.Emit(events.Withdrawn{Wallet: caller, Amount: amount})
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("service", "escrow").
		Str("wallet", caller.Hex()).
		Str("amount", amount.String()).
		Msg("wallet withdrawal")
	return nil
}

// WalletBalance returns a principal's wallet balance.
func (e *Engine) WalletBalance(ctx context.Context, wallet types.Address) (types.Amount, error) {
	return ledger.Balance(ctx, e.store, ledger.WalletAccount(wallet))
}
