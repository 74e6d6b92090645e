package fees

import (
	"context"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

var seller = ledger.WalletAccount(types.Address{0x5e})

func TestSettlementSplitOneUnit(t *testing.T) {
	oneUnit := types.MustParseAmount("1000000000000000000")
	sched := Schedule{ProtocolBps: 769, ProtectionBps: 50, MaxTotalBps: DefaultMaxTotalBps}
	require.NoError(t, sched.Validate())

	res, err := Split(oneUnit, sched.SettlementShares(seller))
	require.NoError(t, err)

	assert.Equal(t, "76900000000000000", res.Amount(ledger.TreasuryAccount).String())
	assert.Equal(t, "5000000000000000", res.Amount(ledger.PoolAccount).String())
	assert.Equal(t, "918100000000000000", res.Amount(seller).String())
	assert.True(t, res.Residual.IsZero())
}

func TestSplitRejectsOverallocation(t *testing.T) {
	_, err := Split(types.NewAmount(100), []Share{
		{Recipient: "a", Bps: 6_000},
		{Recipient: "b", Bps: 4_001},
	})
	assert.ErrorIs(t, err, types.ErrFeeTooHigh)
}

func TestSplitEmptySharesLeavesEverythingResidual(t *testing.T) {
	res, err := Split(types.NewAmount(99), nil)
	require.NoError(t, err)
	assert.Equal(t, "99", res.Residual.String())
}

func TestSplitConservesAndBoundsResidual(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	for i := 0; i < 2_000; i++ {
		n := 1 + rng.Intn(6)
		shares := make([]Share, n)
		remaining := uint32(types.BasisPointsDenominator)
		for j := 0; j < n-1; j++ {
			bps := uint32(rng.Intn(int(remaining) + 1))
			shares[j] = Share{Recipient: ledger.Account(string(rune('a' + j))), Bps: bps}
			remaining -= bps
		}
		shares[n-1] = Share{Recipient: "last", Bps: remaining}

		gross := types.NewAmount(rng.Uint64())
		res, err := Split(gross, shares)
		require.NoError(t, err)

		parts := make([]types.Amount, 0, n+1)
		for _, p := range res.Parts {
			parts = append(parts, p.Amount)
		}
		parts = append(parts, res.Residual)
		require.True(t, types.Sum(parts...).Eq(gross), "split must conserve gross")
		require.True(t, res.Residual.Lt(types.NewAmount(uint64(n))), "residual %s >= %d", res.Residual, n)

		again, err := Split(gross, shares)
		require.NoError(t, err)
		require.Equal(t, res, again)
	}
}

func TestScheduleValidate(t *testing.T) {
	assert.NoError(t, Schedule{ProtocolBps: 2_000, ProtectionBps: 500, MaxTotalBps: 2_500}.Validate())
	assert.ErrorIs(t, Schedule{ProtocolBps: 2_000, ProtectionBps: 501, MaxTotalBps: 2_500}.Validate(), types.ErrFeeTooHigh)
	assert.ErrorIs(t, Schedule{MaxTotalBps: 10_001}.Validate(), types.ErrFeeTooHigh)
}

func TestApplyCreditsPartsAndResidual(t *testing.T) {
	ctx := context.Background()
	store := ledger.NewMemoryStore()

	res, err := Split(types.NewAmount(10), []Share{
		{Recipient: "x", Bps: 3_333},
		{Recipient: "y", Bps: 3_333},
		{Recipient: "z", Bps: 3_334},
	})
	require.NoError(t, err)
	require.Equal(t, "1", res.Residual.String())

	require.NoError(t, store.Update(ctx, func(tx ledger.Tx) error {
		return res.Apply(tx, ledger.ResidualAccount)
	}))

	bals, err := ledger.Balances(ctx, store)
	require.NoError(t, err)
	assert.Equal(t, "3", bals["x"].String())
	assert.Equal(t, "3", bals["y"].String())
	assert.Equal(t, "3", bals["z"].String())
	assert.Equal(t, "1", bals[ledger.ResidualAccount].String())
}
