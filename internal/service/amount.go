package service

import (
	"fmt"
	"math/big"
	"regexp"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/alanyoungcy/bundlerlab/internal/domain"
)

// TokenDecimals is the precision every demo amount is entered in.
const TokenDecimals = 18

// plainDecimal admits digits with an optional fractional part. Signs,
// exponents and separators are rejected before any arithmetic runs.
var plainDecimal = regexp.MustCompile(`^[0-9]*(\.[0-9]*)?$`)

// maxUint256 is the largest amount a Morpho call can carry.
var maxUint256 = new(big.Int).Sub(new(big.Int).Lsh(big.NewInt(1), 256), big.NewInt(1))

// ParseAmount converts decimal text into an exact fixed-point integer with
// the given number of decimals. "1" with 18 decimals is 10^18. Empty,
// negative or malformed text fails, as does text with more fractional digits
// than decimals allows.
func ParseAmount(text string, decimals int32) (*big.Int, error) {
	s := strings.TrimSpace(text)
	if s == "" {
		return nil, fmt.Errorf("%w: empty", domain.ErrInvalidAmount)
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("%w: %q is negative", domain.ErrInvalidAmount, text)
	}
	if s == "." || !plainDecimal.MatchString(s) {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, text)
	}
	whole, frac, _ := strings.Cut(s, ".")
	whole = strings.TrimLeft(whole, "0")
	frac = strings.TrimRight(frac, "0")
	// 2^256-1 has 78 digits.
	if len(whole) > 78 {
		return nil, fmt.Errorf("%w: %q exceeds uint256", domain.ErrInvalidAmount, text)
	}
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", domain.ErrInvalidAmount, text, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	if frac != "" {
		whole += "." + frac
	}
	d, err := decimal.NewFromString(whole)
	if err != nil {
		return nil, fmt.Errorf("%w: %q", domain.ErrInvalidAmount, text)
	}
	scaled := d.Shift(decimals)
	if !scaled.IsInteger() {
		return nil, fmt.Errorf("%w: %q has more than %d decimals", domain.ErrInvalidAmount, text, decimals)
	}
	v := scaled.BigInt()
	if v.Cmp(maxUint256) > 0 {
		return nil, fmt.Errorf("%w: %q exceeds uint256", domain.ErrInvalidAmount, text)
	}
	return v, nil
}

// FormatAmount renders a fixed-point integer as decimal text, trimming
// trailing zeros.
func FormatAmount(v *big.Int, decimals int32) string {
	if v == nil {
		return "0"
	}
	return decimal.NewFromBigInt(v, -decimals).String()
}
