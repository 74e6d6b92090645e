package pool

import (
	"context"
	"errors"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/observability"
	"github.com/ksred/null-ledger/internal/types"
)

// Pool is the shared protection reserve. It pays each sale's refund at most once.
type Pool struct {
	store   ledger.Store
	oracle  auth.AuthorizationOracle
	locks   *ledger.KeyedLocker
	nowFn   func() time.Time
	metrics *observability.LedgerMetrics
}

// NewPool creates a pool over the ledger's pool account.
func NewPool(store ledger.Store, oracle auth.AuthorizationOracle) *Pool {
	return &Pool{
		store:  store,
		oracle: oracle,
		locks:  ledger.NewKeyedLocker(),
		nowFn:  time.Now,
	}
}

// SetNowFunc overrides the clock, mainly for tests.
func (p *Pool) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	p.nowFn = now
}

// SetMetrics enables operation metrics. Nil disables them.
func (p *Pool) SetMetrics(m *observability.LedgerMetrics) { p.metrics = m }

func (p *Pool) observe(op string, started time.Time, err error) {
	p.metrics.Observe("pool", op, started, err)
}

// Fund tops up the reserve from the caller's wallet. Any caller may fund with
// value they hold; a short wallet fails with ErrInsufficientBalance.
func (p *Pool) Fund(ctx context.Context, from types.Address, amount types.Amount) (err error) {
	defer func(started time.Time) { p.observe("fund", started, err) }(time.Now())
	if amount.IsZero() {
		return types.ErrInvalidInput.Withf("zero amount")
	}
	err = p.store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Transfer(ledger.WalletAccount(from), ledger.PoolAccount, amount); err != nil {
			return err
		}
		tx.Emit(events.PoolFunded{From: from, Amount: amount})
		return nil
	})
	if err != nil {
		return err
	}
	log.Info().
		Str("service", "pool").
		Str("from", from.Hex()).
		Str("amount", amount.String()).
		Msg("protection pool funded")
	return nil
}

// ProcessRefund pays recipient from the reserve for saleID. The caller must be
// a resolver. The refunded guard is checked and set in the same transaction as
// the debit, so concurrent attempts for one sale cannot both succeed.
func (p *Pool) ProcessRefund(ctx context.Context, caller types.Address, saleID types.Hash, recipient types.Address, amount types.Amount, reason string) (_ ledger.RefundGuard, err error) {
	defer func(started time.Time) { p.observe("refund", started, err) }(time.Now())
	if err := auth.Require(p.oracle, caller, types.RoleResolver); err != nil {
		return ledger.RefundGuard{}, err
	}

	unlock := p.locks.Lock(saleID.Hex())
	defer unlock()

	var guard ledger.RefundGuard
	err = p.store.Update(ctx, func(tx ledger.Tx) error {
		g, err := p.RefundTx(tx, saleID, recipient, amount, reason)
		guard = g
		return err
	})
	if err != nil {
		log.Warn().
			Err(err).
			Str("service", "pool").
			Str("sale_id", saleID.Hex()).
			Msg("refund rejected")
		return ledger.RefundGuard{}, err
	}
	log.Info().
		Str("service", "pool").
		Str("sale_id", saleID.Hex()).
		Str("recipient", recipient.Hex()).
		Str("amount", amount.String()).
		Msg("refund paid")
	return guard, nil
}

// RefundTx performs the refund inside an existing transaction. Authorization
// is the caller's responsibility.
func (p *Pool) RefundTx(tx ledger.Tx, saleID types.Hash, recipient types.Address, amount types.Amount, reason string) (ledger.RefundGuard, error) {
	if amount.IsZero() {
		return ledger.RefundGuard{}, types.ErrInvalidInput.Withf("zero refund")
	}
	if _, refunded, err := tx.RefundGuard(saleID); err != nil {
		return ledger.RefundGuard{}, err
	} else if refunded {
		return ledger.RefundGuard{}, types.ErrAlreadyRefunded.Withf("sale %s", saleID.Hex())
	}

	if err := tx.Debit(ledger.PoolAccount, amount); err != nil {
		if errors.Is(err, types.ErrInsufficientBalance) {
			bal, _ := tx.Balance(ledger.PoolAccount)
			return ledger.RefundGuard{}, types.ErrInsufficientPoolBalance.Withf("pool has %s, refund needs %s", bal, amount)
		}
		return ledger.RefundGuard{}, err
	}
	if err := tx.Credit(ledger.WalletAccount(recipient), amount); err != nil {
		return ledger.RefundGuard{}, err
	}

	guard := ledger.RefundGuard{
		SaleID:     saleID,
		Recipient:  recipient,
		Amount:     amount,
		Reason:     reason,
		RefundedAt: p.nowFn().UTC(),
	}
	if err := tx.PutRefundGuard(guard); err != nil {
		return ledger.RefundGuard{}, err
	}
	tx.Emit(events.Refunded{SaleID: saleID, Buyer: recipient, Amount: amount, Reason: reason})

	log.Debug().
		Str("service", "pool").
		Str("sale_id", saleID.Hex()).
		Str("recipient", recipient.Hex()).
		Str("amount", amount.String()).
		Str("reason", reason).
		Msg("refund staged")
	return guard, nil
}

// Sweep is the owner's emergency withdrawal. It is limited only by the
// reserve's balance.
func (p *Pool) Sweep(ctx context.Context, caller, to types.Address, amount types.Amount) (err error) {
	defer func(started time.Time) { p.observe("sweep", started, err) }(time.Now())
	if err := auth.Require(p.oracle, caller, types.RoleOwner); err != nil {
		return err
	}
	if amount.IsZero() {
		return types.ErrInvalidInput.Withf("zero amount")
	}
	err = p.store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Transfer(ledger.PoolAccount, ledger.WalletAccount(to), amount); err != nil {
			return err
		}
		tx.Emit(events.PoolSwept{To: to, Amount: amount})
		return nil
	})
	if err != nil {
		return err
	}
	log.Warn().
		Str("service", "pool").
		Str("to", to.Hex()).
		Str("amount", amount.String()).
		Msg("protection pool swept")
	return nil
}

// Balance returns the reserve balance.
func (p *Pool) Balance(ctx context.Context) (types.Amount, error) {
	return ledger.Balance(ctx, p.store, ledger.PoolAccount)
}

// IsRefunded reports whether saleID has already been refunded.
func (p *Pool) IsRefunded(ctx context.Context, saleID types.Hash) (bool, error) {
	_, ok, err := ledger.GetRefundGuard(ctx, p.store, saleID)
	return ok, err
}
