package events

import "github.com/ksred/null-ledger/internal/types"

const (
	TypeFunded      = "escrow.funded"
	TypeSettled     = "escrow.settled"
	TypeCancelled   = "escrow.cancelled"
	TypeRefunded    = "escrow.refunded"
	TypeRevoked     = "registry.revoked"
	TypeFeesUpdated = "escrow.fees_updated"
	TypePoolFunded  = "pool.funded"
	TypePoolSwept   = "pool.swept"
	TypeRoleChanged = "auth.role_changed"
	TypeDeposited   = "wallet.deposited"
	TypeWithdrawn   = "wallet.withdrawn"
)

type Funded struct {
	SaleID types.Hash    `json:"sale_id"`
	Buyer  types.Address `json:"buyer"`
	Amount types.Amount  `json:"amount"`
}

func (Funded) EventType() string { return TypeFunded }

// Settled reports the seller's net payout; the fee legs are included so an
// indexer can reconcile the full price without replaying the fee schedule.
type Settled struct {
	SaleID        types.Hash    `json:"sale_id"`
	Seller        types.Address `json:"seller"`
	NetAmount     types.Amount  `json:"net_amount"`
	ProtocolFee   types.Amount  `json:"protocol_fee"`
	ProtectionFee types.Amount  `json:"protection_fee"`
	Residual      types.Amount  `json:"residual"`
	EvidenceRef   string        `json:"evidence_ref"`
}

func (Settled) EventType() string { return TypeSettled }

type Cancelled struct {
	SaleID types.Hash    `json:"sale_id"`
	Buyer  types.Address `json:"buyer"`
	Amount types.Amount  `json:"amount"`
}

func (Cancelled) EventType() string { return TypeCancelled }

type Refunded struct {
	SaleID types.Hash    `json:"sale_id"`
	Buyer  types.Address `json:"buyer"`
	Amount types.Amount  `json:"amount"`
	Reason string        `json:"reason"`
}

func (Refunded) EventType() string { return TypeRefunded }

type Revoked struct {
	Subject   types.Hash    `json:"subject"`
	Reason    string        `json:"reason"`
	Issuer    types.Address `json:"issuer"`
	Emergency bool          `json:"emergency"`
}

func (Revoked) EventType() string { return TypeRevoked }

type FeesUpdated struct {
	ProtocolBps   uint32        `json:"protocol_bps"`
	ProtectionBps uint32        `json:"protection_bps"`
	UpdatedBy     types.Address `json:"updated_by"`
}

func (FeesUpdated) EventType() string { return TypeFeesUpdated }

type PoolFunded struct {
	From   types.Address `json:"from"`
	Amount types.Amount  `json:"amount"`
}

func (PoolFunded) EventType() string { return TypePoolFunded }

type PoolSwept struct {
	To     types.Address `json:"to"`
	Amount types.Amount  `json:"amount"`
}

func (PoolSwept) EventType() string { return TypePoolSwept }

type RoleChanged struct {
	Principal types.Address `json:"principal"`
	Role      types.Role    `json:"role"`
	Granted   bool          `json:"granted"`
}

func (RoleChanged) EventType() string { return TypeRoleChanged }

// Deposited records external funds entering a wallet account.
type Deposited struct {
	Wallet   types.Address `json:"wallet"`
	Amount   types.Amount  `json:"amount"`
	Operator types.Address `json:"operator"`
}

func (Deposited) EventType() string { return TypeDeposited }

type Withdrawn struct {
	Wallet types.Address `json:"wallet"`
	Amount types.Amount  `json:"amount"`
}

func (Withdrawn) EventType() string { return TypeWithdrawn }
