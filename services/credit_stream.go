package services

import (
	"bufio"
	"context"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"

	"vault-gate/models"
)

// EventCredits carries a wallet's balance on the credit stream.
const EventCredits = "credits"

// DefaultStreamInterval is how often the credit stream polls the balance.
const DefaultStreamInterval = 2 * time.Second

type creditUpdate struct {
	WalletAddress string `json:"wallet_address"`
	Credits       int64  `json:"credits"`
}

func (s *UserService) balance(ctx context.Context, wallet string) (int64, bool, error) {
	var user models.User
	err := s.DB.WithContext(ctx).Select("credits").First(&user, "wallet_address = ?", wallet).Error
	if isNotFound(err) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	return user.Credits, true, nil
}

// StreamCredits handles GET /users/:wallet/credits/stream. It sends the
// current balance, then a new event whenever the balance changes.
func (s *UserService) StreamCredits(c *fiber.Ctx) error {
	wallet := models.CanonicalWallet(c.Params("wallet"))
	if session := walletFromContext(c); session != "" && session != wallet {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{"error": "wallet does not match session"})
	}
	interval := s.StreamInterval
	if interval <= 0 {
		interval = DefaultStreamInterval
	}

	c.Set("Content-Type", "text/event-stream")
	c.Set("Cache-Control", "no-cache")
	c.Set("Connection", "keep-alive")
	c.Set("X-Accel-Buffering", "no")

	done := c.Context().Done()
	c.Context().SetBodyStreamWriter(func(w *bufio.Writer) {
		emit := sseWriter(w)
		ctx := context.Background()
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		defer s.Log.Debug("[USER] credit stream closed", zap.String("wallet", wallet))

		last := int64(-1)
		push := func() error {
			credits, _, err := s.balance(ctx, wallet)
			if err != nil {
				s.Log.Warn("[USER] credit stream query failed", zap.String("wallet", wallet), zap.Error(err))
				return nil
			}
			if credits == last {
				return nil
			}
			last = credits
			return emit(EventCredits, creditUpdate{WalletAddress: wallet, Credits: credits})
		}

		if err := keepAlive(w); err != nil {
			return
		}
		if err := push(); err != nil {
			return
		}
		for {
			select {
			case <-ticker.C:
				// a quiet balance writes nothing else, so this is what sees a dropped client
				if err := keepAlive(w); err != nil {
					return
				}
				if err := push(); err != nil {
					return
				}
			case <-done:
				return
			}
		}
	})
	return nil
}

// keepAlive writes an SSE comment and flushes it to the client.
func keepAlive(w *bufio.Writer) error {
	if _, err := w.WriteString(":\n\n"); err != nil {
		return err
	}
	return w.Flush()
}
