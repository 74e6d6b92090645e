package fees

import (
	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

// DefaultMaxTotalBps caps protocol plus protection fees at 25%.
const DefaultMaxTotalBps uint32 = 2_500

// Schedule is the fee configuration applied at settlement time.
type Schedule struct {
	ProtocolBps   uint32 `json:"protocol_bps" toml:"protocol_bps"`
	ProtectionBps uint32 `json:"protection_bps" toml:"protection_bps"`
	MaxTotalBps   uint32 `json:"max_total_bps" toml:"max_total_bps"`
}

// TotalBps is the combined fee rate.
func (s Schedule) TotalBps() uint64 {
	return uint64(s.ProtocolBps) + uint64(s.ProtectionBps)
}

// Validate enforces the fee ceiling.
func (s Schedule) Validate() error {
	if s.MaxTotalBps > types.BasisPointsDenominator {
		return types.ErrFeeTooHigh.Withf("ceiling %d bps above 100%%", s.MaxTotalBps)
	}
	if s.TotalBps() > uint64(s.MaxTotalBps) {
		return types.ErrFeeTooHigh.Withf("%d+%d bps exceeds ceiling %d", s.ProtocolBps, s.ProtectionBps, s.MaxTotalBps)
	}
	return nil
}

// SettlementShares returns the three-way split used when a sale settles:
// protocol treasury, protection pool and the seller's remaining bps.
func (s Schedule) SettlementShares(seller ledger.Account) []Share {
	return []Share{
		{Recipient: ledger.TreasuryAccount, Bps: s.ProtocolBps},
		{Recipient: ledger.PoolAccount, Bps: s.ProtectionBps},
		{Recipient: seller, Bps: uint32(types.BasisPointsDenominator - s.TotalBps())},
	}
}
