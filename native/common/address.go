package common

import (
	"strings"

	ethcommon "github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// DeriveAddress returns a deterministic module address for the given path,
// e.g. DeriveAddress("market", "cUSDC"). Parts are joined with '/' and hashed
// with Keccak-256; the last 20 bytes form the address.
func DeriveAddress(parts ...string) ethcommon.Address {
	path := "moneymarket/" + strings.Join(parts, "/")
	return ethcommon.BytesToAddress(crypto.Keccak256([]byte(path))[12:])
}

// ParseAddress accepts a 0x-prefixed hex address. An empty string falls back
// to the address derived from fallback.
func ParseAddress(value string, fallback ...string) (ethcommon.Address, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		if len(fallback) == 0 {
			return ethcommon.Address{}, false
		}
		return DeriveAddress(fallback...), true
	}
	if !ethcommon.IsHexAddress(value) {
		return ethcommon.Address{}, false
	}
	return ethcommon.HexToAddress(value), true
}
