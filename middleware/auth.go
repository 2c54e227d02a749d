package middleware

import (
	"regexp"
	"strings"

	"github.com/gofiber/fiber/v2"

	"vault-gate/models"
)

// LocalWallet is the fiber.Ctx local holding the caller's wallet address.
const LocalWallet = "wallet_address"

// HeaderWallet carries the connected wallet, set by the gateway or the device client.
const HeaderWallet = "X-Wallet-Address"

// walletPattern accepts EVM hex addresses and base58 (Solana-style) keys.
var walletPattern = regexp.MustCompile(`^(0x[0-9a-fA-F]{40}|[1-9A-HJ-NP-Za-km-z]{32,44})$`)

// ValidWallet reports whether addr looks like a wallet address.
func ValidWallet(addr string) bool {
	return walletPattern.MatchString(addr)
}

// WalletContextMiddleware copies X-Wallet-Address into the request locals.
// When required is set, requests without a well-formed wallet are rejected.
func WalletContextMiddleware(required bool) fiber.Handler {
	return func(c *fiber.Ctx) error {
		wallet := strings.TrimSpace(c.Get(HeaderWallet))
		if wallet != "" && !ValidWallet(wallet) {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "malformed wallet address"})
		}
		if required && wallet == "" {
			return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
				"error": "missing " + HeaderWallet,
			})
		}
		c.Locals(LocalWallet, models.CanonicalWallet(wallet))
		return c.Next()
	}
}
