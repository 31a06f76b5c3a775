package amount

import (
	"fmt"
	"math/big"
	"strings"

	clierr "github.com/ggonzalez94/stratsync/internal/errors"
	"github.com/shopspring/decimal"
)

// DefaultDecimals is the scaling applied to numeric values whose token
// decimals are unknown.
const DefaultDecimals int32 = 18

// MaxBits is the width of an EVM uint256 word.
const MaxBits = 256

// Parse reads a non-negative decimal string such as "1.5" or "100".
func Parse(v string) (decimal.Decimal, error) {
	clean := strings.TrimSpace(v)
	if clean == "" {
		return decimal.Zero, fmt.Errorf("empty amount")
	}
	d, err := decimal.NewFromString(clean)
	if err != nil {
		return decimal.Zero, fmt.Errorf("invalid decimal amount %q", v)
	}
	if d.IsNegative() {
		return decimal.Zero, fmt.Errorf("amount must be non-negative")
	}
	return d, nil
}

// ToBaseUnits scales a decimal amount into integer base units.
func ToBaseUnits(v string, decimals int32) (*big.Int, error) {
	if decimals < 0 {
		return nil, clierr.New(clierr.CodeUsage, "decimals must be >= 0")
	}
	d, err := Parse(v)
	if err != nil {
		return nil, clierr.Wrap(clierr.CodeUsage, "parse amount", err)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, clierr.New(clierr.CodeUsage, fmt.Sprintf("decimal precision exceeds token decimals (%d)", decimals))
	}
	out := scaled.BigInt()
	if out.BitLen() > MaxBits {
		return nil, clierr.New(clierr.CodeEncoding, fmt.Sprintf("amount %s overflows uint256 after scaling by %d decimals", strings.TrimSpace(v), decimals))
	}
	return out, nil
}

// FormatBaseUnits renders integer base units as a trimmed decimal string.
func FormatBaseUnits(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}

// Normalize returns both the base-unit and the canonical decimal form of a
// human-entered amount.
func Normalize(v string, decimals int32) (string, string, error) {
	base, err := ToBaseUnits(v, decimals)
	if err != nil {
		return "", "", err
	}
	return base.String(), FormatBaseUnits(base, decimals), nil
}
