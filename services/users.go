package services

import (
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vault-gate/models"
)

type UserService struct {
	DB         *gorm.DB
	Identities *IdentityService
	Log        *zap.Logger
	// StreamInterval defaults to DefaultStreamInterval.
	StreamInterval time.Duration
}

func NewUserService(db *gorm.DB, identities *IdentityService, log *zap.Logger) *UserService {
	if log == nil {
		log = zap.NewNop()
	}
	return &UserService{DB: db, Identities: identities, Log: log}
}

// GetUser handles GET /users/:wallet and includes the linked Twitter identity.
func (s *UserService) GetUser(c *fiber.Ctx) error {
	wallet := models.CanonicalWallet(c.Params("wallet"))
	ctx := c.UserContext()

	var user models.User
	if err := s.DB.WithContext(ctx).First(&user, "wallet_address = ?", wallet).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "user not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	if s.Identities != nil {
		ident, err := s.Identities.ForWallet(ctx, user.WalletAddress)
		if err != nil {
			s.Log.Warn("[USER] identity lookup failed", zap.String("wallet", wallet), zap.Error(err))
		}
		user.Twitter = ident
	}
	return c.JSON(user)
}

// SearchUsers handles GET /admin/users?q=&limit= and matches on wallet address.
func (s *UserService) SearchUsers(c *fiber.Ctx) error {
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil || limit <= 0 || limit > 100 {
		limit = 50
	}

	db := s.DB.WithContext(c.UserContext()).Model(&models.User{}).Order("created_at DESC").Limit(limit)
	if q := strings.TrimSpace(c.Query("q")); q != "" {
		db = db.Where("LOWER(wallet_address) LIKE ?", "%"+strings.ToLower(q)+"%")
	}

	var users []models.User
	if err := db.Find(&users).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "search failed"})
	}

	type userSummary struct {
		WalletAddress string `json:"wallet_address"`
		Credits       int64  `json:"credits"`
	}
	res := make([]userSummary, len(users))
	for i, u := range users {
		res[i] = userSummary{WalletAddress: u.WalletAddress, Credits: u.Credits}
	}
	return c.JSON(res)
}
