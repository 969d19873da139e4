// Package utils holds the numeric and encoding helpers shared across the
// protocol packages: strict atomic-amount parsing and conversions between
// human decimal prices and atomic token units.
package utils

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"

	"github.com/shopspring/decimal"
)

// ParseAtomicAmount parses an atomic-unit amount string into a big integer.
// Parsing is strict: base-10 only, no signs, no coercion, no truncation.
func ParseAtomicAmount(s string) (*big.Int, error) {
	if s == "" {
		return nil, fmt.Errorf("amount cannot be empty")
	}
	if strings.HasPrefix(s, "+") || strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("amount must be unsigned")
	}
	n, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q: not a base-10 integer", s)
	}
	return n, nil
}

// AtomicFromDecimal converts a human-readable price ("0.10") into atomic
// units for a token with the given number of decimals. The conversion must
// be exact; a price with more fractional digits than the token supports is
// a configuration error, not something to round away.
func AtomicFromDecimal(price string, decimals int32) (string, error) {
	d, err := decimal.NewFromString(price)
	if err != nil {
		return "", fmt.Errorf("invalid price %q: %w", price, err)
	}
	if d.IsNegative() {
		return "", fmt.Errorf("price cannot be negative")
	}
	shifted := d.Shift(decimals)
	if !shifted.Equal(shifted.Truncate(0)) {
		return "", fmt.Errorf("price %q exceeds %d decimal places", price, decimals)
	}
	return shifted.BigInt().String(), nil
}

// DecimalFromAtomic renders an atomic amount as a human decimal string.
func DecimalFromAtomic(amount string, decimals int32) (string, error) {
	n, err := ParseAtomicAmount(amount)
	if err != nil {
		return "", err
	}
	return decimal.NewFromBigInt(n, -decimals).String(), nil
}

// ParseNonce decodes a 0x-prefixed hex nonce into its 32-byte form.
func ParseNonce(s string) ([32]byte, error) {
	var out [32]byte
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return out, fmt.Errorf("invalid nonce hex: %w", err)
	}
	if len(b) != 32 {
		return out, fmt.Errorf("nonce must be 32 bytes, got %d", len(b))
	}
	copy(out[:], b)
	return out, nil
}
