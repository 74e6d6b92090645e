package escrow

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/fees"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/observability"
	"github.com/ksred/null-ledger/internal/pool"
	"github.com/ksred/null-ledger/internal/types"
)

// Settlement is the outcome of a successful ConfirmAndSettle.
type Settlement struct {
	Record ledger.EscrowRecord `json:"record"`
	Split  SplitSummary        `json:"split"`
}

// SplitSummary lists what each party received at settlement.
type SplitSummary struct {
	SellerAmount  types.Amount `json:"seller_amount"`
	ProtocolFee   types.Amount `json:"protocol_fee"`
	ProtectionFee types.Amount `json:"protection_fee"`
	Residual      types.Amount `json:"residual"`
}

// Engine runs the fund/settle/cancel/refund state machine for sales. Each
// operation checks authorization before touching the store, holds the sale's
// lock for its duration and applies all of its writes in one ledger
// transaction.
type Engine struct {
	store  ledger.Store
	oracle auth.AuthorizationOracle
	pool   *pool.Pool
	locks  *ledger.KeyedLocker

	feesMu   sync.Mutex
	mu       sync.RWMutex
	schedule fees.Schedule

	nowFn   func() time.Time
	metrics *observability.LedgerMetrics
}

// NewEngine wires an engine. The initial schedule must pass validation.
func NewEngine(store ledger.Store, oracle auth.AuthorizationOracle, reserve *pool.Pool, schedule fees.Schedule) (*Engine, error) {
	if schedule.MaxTotalBps == 0 {
		schedule.MaxTotalBps = fees.DefaultMaxTotalBps
	}
	if err := schedule.Validate(); err != nil {
		return nil, err
	}
	return &Engine{
		store:    store,
		oracle:   oracle,
		pool:     reserve,
		locks:    ledger.NewKeyedLocker(),
		schedule: schedule,
		nowFn:    time.Now,
	}, nil
}

// SetNowFunc overrides the clock used for expiry checks.
func (e *Engine) SetNowFunc(now func() time.Time) {
	if now == nil {
		now = time.Now
	}
	e.nowFn = now
}

// SetMetrics enables operation metrics. Nil disables them.
func (e *Engine) SetMetrics(m *observability.LedgerMetrics) { e.metrics = m }

func (e *Engine) now() time.Time { return e.nowFn().UTC() }

func (e *Engine) observe(op string, started time.Time, err error) {
	e.metrics.Observe("escrow", op, started, err)
}

func saleLogger(op string, saleID types.Hash) zerolog.Logger {
	return log.With().
		Str("service", "escrow").
		Str("operation", op).
		Str("sale_id", saleID.Hex()).
		Logger()
}

// Fees returns the schedule that the next settlement will use.
func (e *Engine) Fees() fees.Schedule {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.schedule
}

func (e *Engine) setSchedule(schedule fees.Schedule) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.schedule = schedule
}

// SetFees changes the protocol and protection rates. Owner only. Funded but
// unsettled sales pick up the new rates when they settle.
func (e *Engine) SetFees(ctx context.Context, caller types.Address, protocolBps, protectionBps uint32) (err error) {
	defer func(started time.Time) { e.observe("set_fees", started, err) }(time.Now())
	if err := auth.Require(e.oracle, caller, types.RoleOwner); err != nil {
		return err
	}

	e.feesMu.Lock()
	defer e.feesMu.Unlock()
	prev := e.Fees()
	next := prev
	next.ProtocolBps = protocolBps
	next.ProtectionBps = protectionBps
	if err := next.Validate(); err != nil {
		return err
	}
	// The swap happens under the store's commit lock so every settlement
	// committed after FeesUpdated uses the new rates.
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		tx.Emit(events.FeesUpdated{ProtocolBps: protocolBps, ProtectionBps: protectionBps, UpdatedBy: caller})
		e.setSchedule(next)
		return nil
	})
	if err != nil {
		e.setSchedule(prev)
		return err
	}
	log.Info().
		Str("service", "escrow").
		Uint32("protocol_bps", protocolBps).
		Uint32("protection_bps", protectionBps).
		Msg("fee schedule updated")
	return nil
}

// Fund escrows payment for order. The caller must be the order's buyer, the
// order must not have expired, payment must equal the price exactly and the
// sale must not already have a record. The price moves from the buyer's wallet
// into the sale's escrow account.
func (e *Engine) Fund(ctx context.Context, caller types.Address, order Order, payment types.Amount) (rec ledger.EscrowRecord, err error) {
	saleID := order.SaleID()
	logger := saleLogger("fund", saleID)
	defer func(started time.Time) { e.observe("fund", started, err) }(time.Now())

	if err := order.Validate(); err != nil {
		return ledger.EscrowRecord{}, err
	}
	if caller != order.Buyer {
		return ledger.EscrowRecord{}, types.ErrBuyerMismatch.Withf("caller %s is not buyer %s", caller.Hex(), order.Buyer.Hex())
	}
	now := e.now()
	if order.Expiry <= now.Unix() {
		return ledger.EscrowRecord{}, types.ErrOrderExpired.Withf("expired at %s", order.ExpiresAt().Format(time.RFC3339))
	}
	if !payment.Eq(order.Price) {
		return ledger.EscrowRecord{}, types.ErrAmountMismatch.Withf("paid %s, price %s", payment, order.Price)
	}

	unlock := e.locks.Lock(saleID.Hex())
	defer unlock()

	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		if _, exists, err := tx.Escrow(saleID); err != nil {
			return err
		} else if exists {
			return types.ErrDuplicateOrder.Withf("sale %s", saleID.Hex())
		}
		if err := tx.Transfer(ledger.WalletAccount(caller), ledger.EscrowAccount(saleID), order.Price); err != nil {
			return err
		}
		rec = ledger.EscrowRecord{
			SaleID:    saleID,
			State:     ledger.StateFunded,
			Escrowed:  order.Price,
			Buyer:     caller,
			Seller:    order.Seller,
			Subject:   order.Subject,
			Price:     order.Price,
			Expiry:    order.ExpiresAt(),
			CapPct:    order.CapPct,
			FundedAt:  now,
			UpdatedAt: now,
		}
		if err := tx.PutEscrow(rec); err != nil {
			return err
		}
		tx.Emit(events.Funded{SaleID: saleID, Buyer: caller, Amount: order.Price})
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("funding rejected")
		return ledger.EscrowRecord{}, err
	}

	logger.Info().
		Str("buyer", caller.Hex()).
		Str("amount", order.Price.String()).
		Time("expiry", rec.Expiry).
		Msg("sale funded")
	return rec, nil
}

// Cancel returns escrowed funds to the buyer once the order has expired. Only
// the recorded buyer may cancel, and only while the sale is still funded.
func (e *Engine) Cancel(ctx context.Context, caller types.Address, order Order) (rec ledger.EscrowRecord, err error) {
	saleID := order.SaleID()
	logger := saleLogger("cancel", saleID)
	defer func(started time.Time) { e.observe("cancel", started, err) }(time.Now())

	unlock := e.locks.Lock(saleID.Hex())
	defer unlock()

	now := e.now()
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		current, exists, err := tx.Escrow(saleID)
		if err != nil {
			return err
		}
		if !exists {
			return types.ErrNotFunded.Withf("sale %s has no escrow", saleID.Hex())
		}
		if caller != current.Buyer {
			return types.ErrUnauthorized.Withf("only buyer %s may cancel", current.Buyer.Hex())
		}
		if current.State != ledger.StateFunded {
			return types.ErrNotFunded.Withf("sale %s is %s", saleID.Hex(), current.State)
		}
		if now.Before(current.Expiry) {
			return types.ErrNotYetExpired.Withf("expires at %s", current.Expiry.Format(time.RFC3339))
		}

		amount := current.Escrowed
		if err := tx.Transfer(ledger.EscrowAccount(saleID), ledger.WalletAccount(current.Buyer), amount); err != nil {
			return err
		}
		current.State = ledger.StateCancelled
		current.Escrowed = types.Amount{}
		current.UpdatedAt = now
		if err := tx.PutEscrow(current); err != nil {
			return err
		}
		tx.Emit(events.Cancelled{SaleID: saleID, Buyer: current.Buyer, Amount: amount})
		rec = current
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Msg("cancellation rejected")
		return ledger.EscrowRecord{}, err
	}

	logger.Info().Str("buyer", rec.Buyer.Hex()).Msg("sale cancelled")
	return rec, nil
}

// ConfirmAndSettle pays out a funded sale. The caller must be a confirmer, the
// order's buyer must match the funding buyer and the subject must not be
// revoked. The escrowed amount is split between protocol treasury, protection
// pool and seller using the fee schedule in force at commit; any rounding residual
// goes to the ledger's residual account.
func (e *Engine) ConfirmAndSettle(ctx context.Context, caller types.Address, order Order, evidenceRef string) (out Settlement, err error) {
	saleID := order.SaleID()
	logger := saleLogger("settle", saleID)
	defer func(started time.Time) { e.observe("settle", started, err) }(time.Now())

	if err := auth.Require(e.oracle, caller, types.RoleConfirmer); err != nil {
		return Settlement{}, err
	}

	unlock := e.locks.Lock(saleID.Hex())
	defer unlock()

	now := e.now()
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		current, exists, err := tx.Escrow(saleID)
		if err != nil {
			return err
		}
		if !exists || current.State != ledger.StateFunded {
			state := "UNFUNDED"
			if exists {
				state = string(current.State)
			}
			return types.ErrInvalidState.Withf("cannot settle sale %s in state %s", saleID.Hex(), state)
		}
		if order.Buyer != current.Buyer {
			return types.ErrBuyerMismatch.Withf("order buyer %s, funded by %s", order.Buyer.Hex(), current.Buyer.Hex())
		}
		if _, revoked, err := tx.Revocation(current.Subject); err != nil {
			return err
		} else if revoked {
			return types.ErrSubjectRevoked.Withf("subject %s", current.Subject.Hex())
		}

		sellerAccount := ledger.WalletAccount(current.Seller)
		split, err := fees.Split(current.Escrowed, e.Fees().SettlementShares(sellerAccount))
		if err != nil {
			return err
		}
		if err := tx.Debit(ledger.EscrowAccount(saleID), current.Escrowed); err != nil {
			return err
		}
		if err := split.Apply(tx, ledger.ResidualAccount); err != nil {
			return err
		}

		current.State = ledger.StateSettled
		current.Escrowed = types.Amount{}
		current.EvidenceRef = evidenceRef
		current.UpdatedAt = now
		if err := tx.PutEscrow(current); err != nil {
			return err
		}

		summary := SplitSummary{
			SellerAmount:  split.Amount(sellerAccount),
			ProtocolFee:   split.Amount(ledger.TreasuryAccount),
			ProtectionFee: split.Amount(ledger.PoolAccount),
			Residual:      split.Residual,
		}
		tx.Emit(events.Settled{
			SaleID:        saleID,
			Seller:        current.Seller,
			NetAmount:     summary.SellerAmount,
			ProtocolFee:   summary.ProtocolFee,
			ProtectionFee: summary.ProtectionFee,
			Residual:      summary.Residual,
			EvidenceRef:   evidenceRef,
		})
		out = Settlement{Record: current, Split: summary}
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("confirmer", caller.Hex()).Msg("settlement rejected")
		return Settlement{}, err
	}

	logger.Info().
		Str("confirmer", caller.Hex()).
		Str("seller", out.Record.Seller.Hex()).
		Str("seller_amount", out.Split.SellerAmount.String()).
		Str("protocol_fee", out.Split.ProtocolFee.String()).
		Str("protection_fee", out.Split.ProtectionFee.String()).
		Str("residual", out.Split.Residual.String()).
		Str("evidence_ref", evidenceRef).
		Msg("sale settled")
	return out, nil
}

// RefundFromPool makes the buyer of a settled sale whole from the protection
// pool. The seller keeps their payout: this is a pool-funded refund, not a
// clawback. The pool's one-time guard and the record transition commit together.
func (e *Engine) RefundFromPool(ctx context.Context, caller types.Address, order Order, reason string) (rec ledger.EscrowRecord, err error) {
	saleID := order.SaleID()
	logger := saleLogger("refund", saleID)
	defer func(started time.Time) { e.observe("refund", started, err) }(time.Now())

	if err := auth.Require(e.oracle, caller, types.RoleResolver); err != nil {
		return ledger.EscrowRecord{}, err
	}

	unlock := e.locks.Lock(saleID.Hex())
	defer unlock()

	now := e.now()
	err = e.store.Update(ctx, func(tx ledger.Tx) error {
		current, exists, err := tx.Escrow(saleID)
		if err != nil {
			return err
		}
		if exists && current.State == ledger.StateRefunded {
			return types.ErrAlreadyRefunded.Withf("sale %s", saleID.Hex())
		}
		if !exists || current.State != ledger.StateSettled {
			state := "UNFUNDED"
			if exists {
				state = string(current.State)
			}
			return types.ErrNotSettled.Withf("cannot refund sale %s in state %s", saleID.Hex(), state)
		}
		if _, err := e.pool.RefundTx(tx, saleID, current.Buyer, current.Price, reason); err != nil {
			return err
		}
		current.State = ledger.StateRefunded
		current.RefundReason = reason
		current.UpdatedAt = now
		if err := tx.PutEscrow(current); err != nil {
			return err
		}
		rec = current
		return nil
	})
	if err != nil {
		logger.Warn().Err(err).Str("resolver", caller.Hex()).Msg("refund rejected")
		return ledger.EscrowRecord{}, err
	}

	logger.Info().
		Str("resolver", caller.Hex()).
		Str("buyer", rec.Buyer.Hex()).
		Str("amount", rec.Price.String()).
		Str("reason", reason).
		Msg("sale refunded from protection pool")
	return rec, nil
}

// Record returns the escrow record for saleID or ErrNotFound.
func (e *Engine) Record(ctx context.Context, saleID types.Hash) (ledger.EscrowRecord, error) {
	return ledger.GetEscrow(ctx, e.store, saleID)
}
