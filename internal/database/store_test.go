package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/null-ledger/internal/auth"
	"github.com/ksred/null-ledger/internal/escrow"
	"github.com/ksred/null-ledger/internal/events"
	"github.com/ksred/null-ledger/internal/fees"
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/pool"
	"github.com/ksred/null-ledger/internal/revocation"
	"github.com/ksred/null-ledger/internal/types"
)

var (
	alice = ledger.WalletAccount(types.Address{0xa1})
	bob   = ledger.WalletAccount(types.Address{0xb0})
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := NewDatabase("sqlite", dsn)
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return NewStore(db)
}

func TestBalancesPersist(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	big := types.MustParseAmount("115792089237316195423570985008687907853269984665640564039457584007913129639935")
	require.NoError(t, ledger.Credit(ctx, store, alice, big))
	require.NoError(t, ledger.Transfer(ctx, store, alice, bob, types.NewAmount(7)))

	bal, err := ledger.Balance(ctx, store, bob)
	require.NoError(t, err)
	assert.Equal(t, "7", bal.String())

	err = ledger.Debit(ctx, store, bob, types.NewAmount(8))
	assert.ErrorIs(t, err, types.ErrInsufficientBalance)

	require.NoError(t, ledger.Debit(ctx, store, bob, types.NewAmount(7)))
	bals, err := ledger.Balances(ctx, store)
	require.NoError(t, err)
	assert.Len(t, bals, 1, "zero balances are removed")
	assert.Equal(t, big.Sub(types.NewAmount(7)), bals[alice])
}

func TestUpdateRollsBackStateAndOutbox(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	rec := &events.Recorder{}
	store.SetEmitter(rec)

	boom := errors.New("boom")
	err := store.Update(ctx, func(tx ledger.Tx) error {
		if err := tx.Credit(alice, types.NewAmount(10)); err != nil {
			return err
		}
		tx.Emit(events.PoolFunded{Amount: types.NewAmount(10)})
		return boom
	})
	assert.ErrorIs(t, err, boom)

	bal, err := ledger.Balance(ctx, store, alice)
	require.NoError(t, err)
	assert.True(t, bal.IsZero())
	assert.Empty(t, rec.Events())

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	assert.Empty(t, pending)
}

func TestViewRejectsWrites(t *testing.T) {
	store := newTestStore(t)
	err := store.View(context.Background(), func(tx ledger.Tx) error {
		return tx.Credit(alice, types.NewAmount(1))
	})
	assert.ErrorIs(t, err, ledger.ErrReadOnly)
}

func TestEscrowRecordRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)
	at := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

	want := ledger.EscrowRecord{
		SaleID:      types.Hash{0x01, 0x02},
		State:       ledger.StateFunded,
		Escrowed:    types.NewAmount(500),
		Buyer:       types.Address{0xb0},
		Seller:      types.Address{0x5e},
		Subject:     types.Hash{0xaa},
		Price:       types.NewAmount(500),
		Expiry:      at.Add(time.Hour),
		CapPct:      120,
		EvidenceRef: "ipfs://x",
		FundedAt:    at,
		UpdatedAt:   at,
	}
	require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error { return tx.PutEscrow(want) }))

	got, err := ledger.GetEscrow(ctx, store, want.SaleID)
	require.NoError(t, err)
	assert.Equal(t, want.SaleID, got.SaleID)
	assert.Equal(t, want.State, got.State)
	assert.Equal(t, want.Escrowed, got.Escrowed)
	assert.Equal(t, want.Buyer, got.Buyer)
	assert.Equal(t, want.Subject, got.Subject)
	assert.Equal(t, want.CapPct, got.CapPct)
	assert.True(t, want.Expiry.Equal(got.Expiry))

	want.State = ledger.StateSettled
	want.Escrowed = types.Amount{}
	require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error { return tx.PutEscrow(want) }))
	got, err = ledger.GetEscrow(ctx, store, want.SaleID)
	require.NoError(t, err)
	assert.Equal(t, ledger.StateSettled, got.State)
	assert.True(t, got.Escrowed.IsZero())

	_, err = ledger.GetEscrow(ctx, store, types.Hash{0xff})
	assert.ErrorIs(t, err, types.ErrNotFound)
}

func TestOutboxOrderAndDelivery(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	for i := 1; i <= 3; i++ {
		amount := types.NewAmount(uint64(i))
		require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error {
			if err := tx.Credit(ledger.PoolAccount, amount); err != nil {
				return err
			}
			tx.Emit(events.PoolFunded{From: types.Address{byte(i)}, Amount: amount})
			return nil
		}))
	}

	pending, err := store.PendingEvents(ctx, 2)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Less(t, pending[0].Sequence, pending[1].Sequence)
	assert.Equal(t, events.TypePoolFunded, pending[0].Type)

	var first events.PoolFunded
	require.NoError(t, json.Unmarshal(pending[0].Payload, &first))
	assert.Equal(t, "1", first.Amount.String())

	require.NoError(t, store.MarkDelivered(ctx, []uint64{pending[0].Sequence, pending[1].Sequence}))
	pending, err = store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 1)

	all, err := store.EventsSince(ctx, 0, 10)
	require.NoError(t, err)
	assert.Len(t, all, 3)
}

func TestEngineOnPersistentStore(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	owner := types.Address{0x01}
	confirmer := types.Address{0x02}
	buyer := types.Address{0xb0}
	seller := types.Address{0x5e}

	roles := auth.NewRoleRegistry(owner)
	require.NoError(t, roles.Grant(owner, confirmer, types.RoleConfirmer))
	require.NoError(t, roles.Grant(owner, owner, types.RoleIssuer))

	reserve := pool.NewPool(store, roles)
	registry := revocation.NewRegistry(store, roles)
	engine, err := escrow.NewEngine(store, roles, reserve, fees.Schedule{ProtocolBps: 769, ProtectionBps: 50})
	require.NoError(t, err)

	now := time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)
	engine.SetNowFunc(func() time.Time { return now })

	price := types.MustParseAmount("1000000000000000000")
	order := escrow.Order{
		Subject: types.Hash{0xaa},
		Seller:  seller,
		Buyer:   buyer,
		Price:   price,
		Expiry:  now.Add(time.Hour).Unix(),
	}

	require.NoError(t, engine.Deposit(ctx, owner, buyer, price))
	require.NoError(t, engine.Deposit(ctx, owner, owner, price))
	require.NoError(t, reserve.Fund(ctx, owner, price))

	_, err = engine.Fund(ctx, buyer, order, price)
	require.NoError(t, err)
	_, err = engine.Fund(ctx, buyer, order, price)
	assert.ErrorIs(t, err, types.ErrDuplicateOrder)

	out, err := engine.ConfirmAndSettle(ctx, confirmer, order, "ipfs://evidence")
	require.NoError(t, err)
	assert.Equal(t, "918100000000000000", out.Split.SellerAmount.String())

	_, err = registry.Revoke(ctx, order.Subject, "fraud", owner)
	require.NoError(t, err)
	_, err = engine.RefundFromPool(ctx, confirmer, order, "fraud")
	require.NoError(t, err)
	_, err = engine.RefundFromPool(ctx, confirmer, order, "fraud")
	assert.ErrorIs(t, err, types.ErrAlreadyRefunded)

	rec, err := engine.Record(ctx, order.SaleID())
	require.NoError(t, err)
	assert.Equal(t, ledger.StateRefunded, rec.State)

	buyerBal, err := engine.WalletBalance(ctx, buyer)
	require.NoError(t, err)
	assert.Equal(t, price, buyerBal)

	pending, err := store.PendingEvents(ctx, 100)
	require.NoError(t, err)
	got := make([]string, len(pending))
	for i, env := range pending {
		got[i] = env.Type
	}
	assert.Equal(t, []string{
		events.TypeDeposited,
		events.TypeDeposited,
		events.TypePoolFunded,
		events.TypeFunded,
		events.TypeSettled,
		events.TypeRevoked,
		events.TypeRefunded,
	}, got)
}

func TestRoleChangesSurviveRestart(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	owner := types.Address{0x01}
	next := types.Address{0x0f}
	confirmer := types.Address{0x02}

	roles := auth.NewRoleRegistry(owner)
	roles.SetJournal(store)
	require.NoError(t, roles.Grant(owner, confirmer, types.RoleConfirmer))
	require.NoError(t, roles.TransferOwnership(owner, next))

	pending, err := store.PendingEvents(ctx, 10)
	require.NoError(t, err)
	require.Len(t, pending, 3)
	for _, env := range pending {
		assert.Equal(t, events.TypeRoleChanged, env.Type)
	}

	all, err := store.EventsSince(ctx, 0, 100)
	require.NoError(t, err)
	restored := auth.NewRoleRegistry(owner)
	applied, err := restored.Replay(all)
	require.NoError(t, err)
	assert.Equal(t, 3, applied)
	assert.Equal(t, next, restored.Owner())
	assert.True(t, restored.HasRole(confirmer, types.RoleConfirmer))
}
