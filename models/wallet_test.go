package models

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCanonicalWallet(t *testing.T) {
	cases := map[string]string{
		"0x52908400098527886E0F7030069857D2E4169EE7":   "0x52908400098527886e0f7030069857d2e4169ee7",
		" 0X52908400098527886e0f7030069857d2e4169ee7 ": "0x52908400098527886e0f7030069857d2e4169ee7",
		"7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV":  "7EcDhSYGxXyscszYEp35KHN8vvw3svAuLKTzXwCFLtV",
		"0xABC": "0xABC",
		"0xZZ908400098527886E0F7030069857D2E4169EE7": "0xZZ908400098527886E0F7030069857D2E4169EE7",
		"": "",
	}
	for in, want := range cases {
		assert.Equal(t, want, CanonicalWallet(in), in)
	}
}
