package utils

import (
	"fmt"
	"math/big"
	"strings"
)

// Min returns the smaller of a or b
func Min(a, b int) int {
	if a < b {
		return a
	}
	return b
}

// Max returns the larger of a or b
func Max(a, b int) int {
	if a > b {
		return a
	}
	return b
}

// ParseBaseUnits parses a base-unit decimal string (integer, no fractional
// part) into a big.Int. All monetary values travel through the pipeline in
// base units to avoid floating-point drift.
func ParseBaseUnits(s string) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid base-unit amount: %s", s)
	}
	if v.Sign() < 0 {
		return nil, fmt.Errorf("negative amount not allowed: %s", s)
	}
	return v, nil
}

// DecimalToBaseUnits converts a human decimal amount (e.g. "0.01" ETH) into
// base units using the given number of decimals. Fails on excess precision
// instead of silently truncating.
func DecimalToBaseUnits(s string, decimals int) (*big.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("empty amount")
	}
	if strings.HasPrefix(s, "-") {
		return nil, fmt.Errorf("negative amount not allowed: %s", s)
	}

	intPart := s
	fracPart := ""
	if idx := strings.Index(s, "."); idx >= 0 {
		intPart = s[:idx]
		fracPart = s[idx+1:]
	}
	if intPart == "" {
		intPart = "0"
	}
	if len(fracPart) > decimals {
		return nil, fmt.Errorf("amount %s exceeds %d decimal places", s, decimals)
	}

	digits := intPart + fracPart + strings.Repeat("0", decimals-len(fracPart))
	v, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal amount: %s", s)
	}
	return v, nil
}

// BaseUnitsToDecimal renders base units as a decimal string with the given
// number of decimals, trimming trailing zeros.
func BaseUnitsToDecimal(v *big.Int, decimals int) string {
	if v == nil {
		return "0"
	}
	s := v.String()
	neg := false
	if strings.HasPrefix(s, "-") {
		neg = true
		s = s[1:]
	}
	if len(s) <= decimals {
		s = strings.Repeat("0", decimals-len(s)+1) + s
	}
	intPart := s[:len(s)-decimals]
	fracPart := strings.TrimRight(s[len(s)-decimals:], "0")
	out := intPart
	if fracPart != "" {
		out = intPart + "." + fracPart
	}
	if neg {
		out = "-" + out
	}
	return out
}
