package types

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

// Address identifies a principal (buyer, seller, operator).
type Address = common.Address

// Hash is an opaque 32-byte commitment or identifier.
type Hash = common.Hash

// ZeroAddress is the unset principal.
var ZeroAddress = common.Address{}

// ParseAddress parses a 0x-prefixed hex address.
func ParseAddress(s string) (Address, error) {
	trimmed := strings.TrimSpace(s)
	if !common.IsHexAddress(trimmed) {
		return Address{}, fmt.Errorf("invalid address %q", s)
	}
	return common.HexToAddress(trimmed), nil
}

// ParseHash parses a 0x-prefixed 32-byte hex value.
func ParseHash(s string) (Hash, error) {
	trimmed := strings.TrimPrefix(strings.TrimSpace(s), "0x")
	raw, err := hex.DecodeString(trimmed)
	if err != nil || len(raw) != common.HashLength {
		return Hash{}, fmt.Errorf("invalid hash %q", s)
	}
	return common.BytesToHash(raw), nil
}
