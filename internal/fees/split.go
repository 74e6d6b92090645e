package fees

import (
	"fmt"

	"github.com/ksred/null-ledger/internal/ledger"
	"github.com/ksred/null-ledger/internal/types"
)

// Share assigns a basis-point slice of a gross amount to a recipient.
type Share struct {
	Recipient ledger.Account
	Bps       uint32
}

// Part is the amount a recipient receives from a split.
type Part struct {
	Recipient ledger.Account
	Amount    types.Amount
}

// Result is the outcome of Split. Gross == sum(Parts) + Residual always holds.
type Result struct {
	Gross    types.Amount
	Parts    []Part
	Residual types.Amount
}

// Split divides gross among shares, flooring each part. Whatever the floors
// leave behind is reported as Residual; when the shares cover the full 10000
// bps the residual is strictly less than len(shares). Split has no side
// effects: applying the credits is the caller's job.
func Split(gross types.Amount, shares []Share) (Result, error) {
	var totalBps uint64
	for _, s := range shares {
		totalBps += uint64(s.Bps)
	}
	if totalBps > types.BasisPointsDenominator {
		return Result{}, types.ErrFeeTooHigh.Withf("shares total %d bps", totalBps)
	}

	res := Result{Gross: gross, Parts: make([]Part, len(shares))}
	var allocated types.Amount
	for i, s := range shares {
		amt := gross.MulDiv(uint64(s.Bps), types.BasisPointsDenominator)
		res.Parts[i] = Part{Recipient: s.Recipient, Amount: amt}
		allocated = allocated.Add(amt)
	}
	if gross.Lt(allocated) {
		panic(fmt.Sprintf("fees: allocated %s exceeds gross %s", allocated, gross))
	}
	res.Residual = gross.Sub(allocated)
	return res, nil
}

// Amount returns the part credited to recipient, summing duplicates.
func (r Result) Amount(recipient ledger.Account) types.Amount {
	var total types.Amount
	for _, p := range r.Parts {
		if p.Recipient == recipient {
			total = total.Add(p.Amount)
		}
	}
	return total
}

// Apply credits every part, and the residual to residualAccount, inside tx.
// The source of the funds must already have been debited by the caller.
func (r Result) Apply(tx ledger.Tx, residualAccount ledger.Account) error {
	for _, p := range r.Parts {
		if p.Amount.IsZero() {
			continue
		}
		if err := tx.Credit(p.Recipient, p.Amount); err != nil {
			return err
		}
	}
	if !r.Residual.IsZero() {
		if err := tx.Credit(residualAccount, r.Residual); err != nil {
			return err
		}
	}
	return nil
}
