package utils

import (
	"regexp"
	"strings"
)

var evmHexPattern = regexp.MustCompile("^[0-9a-fA-F]{40}$")

// IsEvmAddress reports whether the string is a 20-byte EVM address,
// with or without the 0x prefix.
func IsEvmAddress(address string) bool {
	if address == "" {
		return false
	}
	// 0x-prefixed: 40 hex chars after the prefix
	if strings.HasPrefix(strings.ToLower(address), "0x") {
		return len(address) == 42 && evmHexPattern.MatchString(address[2:])
	}
	// bare form: 40 hex chars
	if len(address) == 40 {
		return evmHexPattern.MatchString(address)
	}
	return false
}

// NormalizeAddress lowercases an EVM address and guarantees the 0x prefix.
// Deterministic approval ids hash over normalized addresses, so every caller
// must go through here before canonicalization.
func NormalizeAddress(address string) string {
	if address == "" {
		return ""
	}
	if IsEvmAddress(address) {
		if strings.HasPrefix(strings.ToLower(address), "0x") {
			return strings.ToLower(address)
		}
		return "0x" + strings.ToLower(address)
	}
	// If address doesn't match any known format, return as-is
	return address
}

// SameAddress compares two addresses after normalization.
func SameAddress(a, b string) bool {
	return NormalizeAddress(a) == NormalizeAddress(b)
}
