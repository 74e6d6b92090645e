package types

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
)

// BasisPointsDenominator is the fixed denominator for all bps math (10000 bps = 100%).
const BasisPointsDenominator = 10_000

// Amount is an unsigned quantity in the smallest currency unit. Arithmetic
// helpers panic on overflow or underflow: a wrapped balance is a ledger bug,
// never an operational failure, and callers check balances before debiting.
type Amount struct {
	u uint256.Int
}

// NewAmount returns an Amount holding v.
func NewAmount(v uint64) Amount {
	var a Amount
	a.u.SetUint64(v)
	return a
}

// ParseAmount parses a base-10 unsigned integer.
func ParseAmount(s string) (Amount, error) {
	trimmed := strings.TrimSpace(s)
	if trimmed == "" {
		return Amount{}, fmt.Errorf("amount: empty value")
	}
	u, err := uint256.FromDecimal(trimmed)
	if err != nil {
		return Amount{}, fmt.Errorf("amount: parse %q: %w", s, err)
	}
	return Amount{u: *u}, nil
}

// MustParseAmount is ParseAmount for constants and tests.
func MustParseAmount(s string) Amount {
	a, err := ParseAmount(s)
	if err != nil {
		panic(err)
	}
	return a
}

// Add returns a+b and panics if the sum does not fit in 256 bits.
func (a Amount) Add(b Amount) Amount {
	sum, ok := a.CheckedAdd(b)
	if !ok {
		panic(fmt.Sprintf("amount: overflow adding %s and %s", a, b))
	}
	return sum
}

// CheckedAdd returns a+b and false on overflow.
func (a Amount) CheckedAdd(b Amount) (Amount, bool) {
	var out Amount
	_, overflow := out.u.AddOverflow(&a.u, &b.u)
	return out, !overflow
}

// Sub returns a-b and panics if b > a.
func (a Amount) Sub(b Amount) Amount {
	var out Amount
	if _, underflow := out.u.SubOverflow(&a.u, &b.u); underflow {
		panic(fmt.Sprintf("amount: underflow subtracting %s from %s", b, a))
	}
	return out
}

// MulDiv returns floor(a*num/den). The intermediate product is computed at
// 512-bit precision; a quotient that does not fit in 256 bits panics.
func (a Amount) MulDiv(num, den uint64) Amount {
	if den == 0 {
		panic("amount: division by zero")
	}
	var out Amount
	n := uint256.NewInt(num)
	d := uint256.NewInt(den)
	if _, overflow := out.u.MulDivOverflow(&a.u, n, d); overflow {
		panic(fmt.Sprintf("amount: overflow computing %s*%d/%d", a, num, den))
	}
	return out
}

// Cmp compares a and b and returns -1, 0 or +1.
func (a Amount) Cmp(b Amount) int { return a.u.Cmp(&b.u) }

// Lt reports whether a < b.
func (a Amount) Lt(b Amount) bool { return a.u.Lt(&b.u) }

// Eq reports whether a == b.
func (a Amount) Eq(b Amount) bool { return a.u.Eq(&b.u) }

// IsZero reports whether a is zero.
func (a Amount) IsZero() bool { return a.u.IsZero() }

// Bytes32 returns the big-endian 32-byte encoding used when hashing.
func (a Amount) Bytes32() [32]byte { return a.u.Bytes32() }

// String renders the amount in base 10.
func (a Amount) String() string { return a.u.Dec() }

func (a Amount) MarshalJSON() ([]byte, error) {
	return json.Marshal(a.String())
}

// UnmarshalJSON accepts either a quoted decimal string or a bare JSON number.
func (a *Amount) UnmarshalJSON(data []byte) error {
	raw := strings.Trim(strings.TrimSpace(string(data)), `"`)
	parsed, err := ParseAmount(raw)
	if err != nil {
		return err
	}
	*a = parsed
	return nil
}

// Sum adds all amounts, panicking on overflow.
func Sum(amounts ...Amount) Amount {
	var total Amount
	for _, a := range amounts {
		total = total.Add(a)
	}
	return total
}
