package ledger

import (
	"strings"
	"time"

	"github.com/ksred/null-ledger/internal/types"
)

// Account names a balance held by the ledger.
type Account string

const (
	TreasuryAccount Account = "treasury:protocol"
	PoolAccount     Account = "pool:protection"
	ResidualAccount Account = "ledger:residual"

	escrowPrefix = "escrow:"
	walletPrefix = "wallet:"
)

// EscrowAccount holds the in-flight funds of one sale.
func EscrowAccount(saleID types.Hash) Account {
	return Account(escrowPrefix + saleID.Hex())
}

// WalletAccount holds a principal's external funds as seen by the ledger.
func WalletAccount(addr types.Address) Account {
	return Account(walletPrefix + strings.ToLower(addr.Hex()))
}

// IsEscrow reports whether the account is a per-sale escrow account.
func (a Account) IsEscrow() bool { return strings.HasPrefix(string(a), escrowPrefix) }

// EscrowState is the lifecycle state of a funded sale. Unfunded sales have no record.
type EscrowState string

const (
	StateFunded    EscrowState = "FUNDED"
	StateSettled   EscrowState = "SETTLED"
	StateCancelled EscrowState = "CANCELLED"
	StateRefunded  EscrowState = "REFUNDED"
)

// Terminal reports whether no further transition is possible from s.
func (s EscrowState) Terminal() bool {
	return s == StateCancelled || s == StateRefunded
}

// EscrowRecord is the per-sale state. Records are never deleted.
type EscrowRecord struct {
	SaleID       types.Hash    `json:"sale_id"`
	State        EscrowState   `json:"state"`
	Escrowed     types.Amount  `json:"escrowed_amount"`
	Buyer        types.Address `json:"buyer"`
	Seller       types.Address `json:"seller"`
	Subject      types.Hash    `json:"subject"`
	Price        types.Amount  `json:"price"`
	Expiry       time.Time     `json:"expiry"`
	CapPct       uint32        `json:"cap_pct"`
	EvidenceRef  string        `json:"evidence_ref,omitempty"`
	RefundReason string        `json:"refund_reason,omitempty"`
	FundedAt     time.Time     `json:"funded_at"`
	UpdatedAt    time.Time     `json:"updated_at"`
}

// RefundGuard marks a sale as refunded by the protection pool. Once written it
// is never removed.
type RefundGuard struct {
	SaleID     types.Hash    `json:"sale_id"`
	Recipient  types.Address `json:"recipient"`
	Amount     types.Amount  `json:"amount"`
	Reason     string        `json:"reason"`
	RefundedAt time.Time     `json:"refunded_at"`
}

// RevocationRecord is a permanent revocation of a subject commitment.
type RevocationRecord struct {
	Subject   types.Hash    `json:"subject"`
	Reason    string        `json:"reason"`
	Issuer    types.Address `json:"issuer"`
	Emergency bool          `json:"emergency"`
	RevokedAt time.Time     `json:"revoked_at"`
}
