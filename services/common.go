package services

import (
	"errors"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"gorm.io/gorm"

	"vault-gate/middleware"
)

var (
	ErrVaultNotFound       = errors.New("vault not found")
	ErrUserNotFound        = errors.New("user not found")
	ErrInsufficientCredits = errors.New("insufficient credits")
	ErrVaultDrained        = errors.New("vault prize already claimed")
	ErrIdentityConflict    = errors.New("twitter account is linked to another wallet")
)

var validate = validator.New(validator.WithRequiredStructEnabled())

var (
	rewardOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultgate",
		Name:      "reward_awards_total",
		Help:      "Free-credit award attempts by outcome.",
	}, []string{"outcome"})

	chatMessages = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultgate",
		Name:      "chat_messages_total",
		Help:      "Paid chat messages by outcome.",
	}, []string{"outcome"})
)

// parseBody decodes and validates a JSON request body into dst.
func parseBody(c *fiber.Ctx, dst any) error {
	if err := c.BodyParser(dst); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "Invalid request body")
	}
	if err := validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fe.Field()+" "+fe.Tag())
			}
			return fiber.NewError(fiber.StatusBadRequest, "Invalid request: "+strings.Join(fields, ", "))
		}
		return fiber.NewError(fiber.StatusBadRequest, err.Error())
	}
	return nil
}

// errorJSON writes err as {"error": ...} using a fiber.Error status when present.
func errorJSON(c *fiber.Ctx, err error) error {
	var fe *fiber.Error
	if errors.As(err, &fe) {
		return c.Status(fe.Code).JSON(fiber.Map{"error": fe.Message})
	}
	return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": err.Error()})
}

func isNotFound(err error) bool {
	return errors.Is(err, gorm.ErrRecordNotFound)
}

// walletFromContext returns the wallet the request was made for, if the
// wallet middleware ran.
func walletFromContext(c *fiber.Ctx) string {
	w, _ := c.Locals(middleware.LocalWallet).(string)
	return w
}
