package models

import "strings"

// CanonicalWallet returns the stored form of a wallet address. EVM hex
// addresses are case-insensitive and are lower-cased; base58 keys are
// case-sensitive and kept as given.
func CanonicalWallet(addr string) string {
	addr = strings.TrimSpace(addr)
	if len(addr) != 42 || (addr[:2] != "0x" && addr[:2] != "0X") {
		return addr
	}
	for _, r := range addr[2:] {
		if !strings.ContainsRune("0123456789abcdefABCDEF", r) {
			return addr
		}
	}
	return "0x" + strings.ToLower(addr[2:])
}
