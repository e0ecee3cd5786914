package x402gate

import (
	"fmt"
	"math/big"
	"strings"
)

// DollarsToSmallestUnit converts a decimal dollar string such as "4.02" or
// "$4.02" into the asset's smallest-unit integer string, e.g. "4020000"
// for 6-decimal USDC. It never goes through a floating point type: the
// integer and fractional parts are split on '.', the fractional part is
// right-padded with zeros to exactly `decimals` digits, and the two parts
// are concatenated as a base-10 big.Int. A fractional part longer than
// `decimals` digits is rejected rather than truncated or rounded.
func DollarsToSmallestUnit(amount string, decimals int) (string, error) {
	s := strings.TrimSpace(amount)
	s = strings.TrimPrefix(s, "$")
	neg := strings.HasPrefix(s, "-")
	if neg {
		s = s[1:]
	}
	if s == "" {
		return "", fmt.Errorf("empty amount")
	}

	whole, frac, hasPoint := strings.Cut(s, ".")
	if whole == "" {
		whole = "0"
	}
	if !isDigits(whole) || (hasPoint && !isDigits(frac)) {
		return "", fmt.Errorf("invalid decimal amount: %q", amount)
	}
	if len(frac) > decimals {
		return "", fmt.Errorf("amount %q has more precision than %d decimals", amount, decimals)
	}
	frac = frac + strings.Repeat("0", decimals-len(frac))

	combined := whole + frac
	combined = strings.TrimLeft(combined, "0")
	if combined == "" {
		combined = "0"
	}

	value, ok := new(big.Int).SetString(combined, 10)
	if !ok {
		return "", fmt.Errorf("invalid decimal amount: %q", amount)
	}
	if neg {
		value.Neg(value)
	}
	return value.String(), nil
}

// SmallestUnitToDollars is the inverse of DollarsToSmallestUnit: given an
// integer smallest-unit string and the asset's decimals, it produces a
// decimal dollar string with no trailing zeros beyond what's needed.
func SmallestUnitToDollars(smallestUnit string, decimals int) (string, error) {
	value, ok := new(big.Int).SetString(strings.TrimSpace(smallestUnit), 10)
	if !ok {
		return "", fmt.Errorf("invalid smallest-unit amount: %q", smallestUnit)
	}
	neg := value.Sign() < 0
	abs := new(big.Int).Abs(value)
	digits := abs.String()

	if decimals == 0 {
		if neg {
			return "-" + digits, nil
		}
		return digits, nil
	}
	if len(digits) <= decimals {
		digits = strings.Repeat("0", decimals-len(digits)+1) + digits
	}
	whole := digits[:len(digits)-decimals]
	frac := strings.TrimRight(digits[len(digits)-decimals:], "0")

	out := whole
	if frac != "" {
		out += "." + frac
	}
	if neg {
		out = "-" + out
	}
	return out, nil
}

// CompareSmallestUnit compares two smallest-unit integer strings, returning
// -1, 0 or 1 as a.Cmp(b) would. Used by facilitator "amount_mismatch"
// checks instead of string or float comparison.
func CompareSmallestUnit(a, b string) (int, error) {
	av, ok := new(big.Int).SetString(strings.TrimSpace(a), 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", a)
	}
	bv, ok := new(big.Int).SetString(strings.TrimSpace(b), 10)
	if !ok {
		return 0, fmt.Errorf("invalid amount: %q", b)
	}
	return av.Cmp(bv), nil
}

func isDigits(s string) bool {
	if s == "" {
		return true
	}
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}
