package escrow

import (
	"encoding/binary"
	"time"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"github.com/ksred/null-ledger/internal/types"
)

// Order is a proposed sale. It is immutable: every field feeds SaleID, so a
// changed field is a different order.
type Order struct {
	Subject types.Hash    `json:"subject"`
	Seller  types.Address `json:"seller"`
	Buyer   types.Address `json:"buyer"`
	Price   types.Amount  `json:"price"`
	Expiry  int64         `json:"expiry"` // unix seconds
	CapPct  uint32        `json:"cap_pct"`
}

// SaleID is keccak256 over the fixed-width packing of every order field:
// subject(32) seller(20) buyer(20) price(32) expiry(8) capPct(4). Fixed widths
// keep the encoding injective.
func (o Order) SaleID() types.Hash {
	buf := make([]byte, 0, 32+20+20+32+8+4)
	buf = append(buf, o.Subject[:]...)
	buf = append(buf, o.Seller[:]...)
	buf = append(buf, o.Buyer[:]...)
	price := o.Price.Bytes32()
	buf = append(buf, price[:]...)
	buf = binary.BigEndian.AppendUint64(buf, uint64(o.Expiry))
	buf = binary.BigEndian.AppendUint32(buf, o.CapPct)
	return ethcrypto.Keccak256Hash(buf)
}

// ExpiresAt returns the expiry as a time.
func (o Order) ExpiresAt() time.Time {
	return time.Unix(o.Expiry, 0).UTC()
}

// Validate checks the order is well formed.
func (o Order) Validate() error {
	switch {
	case o.Seller == types.ZeroAddress:
		return types.ErrInvalidInput.Withf("seller required")
	case o.Buyer == types.ZeroAddress:
		return types.ErrInvalidInput.Withf("buyer required")
	case o.Seller == o.Buyer:
		return types.ErrInvalidInput.Withf("seller and buyer must differ")
	case o.Price.IsZero():
		return types.ErrInvalidInput.Withf("price must be positive")
	case o.Expiry <= 0:
		return types.ErrInvalidInput.Withf("expiry required")
	}
	return nil
}
