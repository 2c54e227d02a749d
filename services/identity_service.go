package services

import (
	"context"
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vault-gate/models"
)

// IdentityService keeps the one-wallet-per-Twitter-account binding.
type IdentityService struct {
	DB  *gorm.DB
	Log *zap.Logger
}

func NewIdentityService(db *gorm.DB, log *zap.Logger) *IdentityService {
	if log == nil {
		log = zap.NewNop()
	}
	return &IdentityService{DB: db, Log: log}
}

// CheckConflict reports whether twitterID is linked to a wallet other than wallet.
func (s *IdentityService) CheckConflict(ctx context.Context, twitterID, wallet string) (bool, error) {
	var ident models.TwitterIdentity
	err := s.DB.WithContext(ctx).Where("twitter_id = ?", twitterID).First(&ident).Error
	if isNotFound(err) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("lookup identity: %w", err)
	}
	return models.CanonicalWallet(ident.WalletAddress) != models.CanonicalWallet(wallet), nil
}

// Link binds twitterID to wallet. An identity already bound to another
// wallet is rejected with ErrIdentityConflict; a wallet that was bound to a
// different identity is moved to the new one.
func (s *IdentityService) Link(ctx context.Context, wallet, twitterID, username string) (*models.TwitterIdentity, error) {
	wallet = models.CanonicalWallet(wallet)
	var out models.TwitterIdentity
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var existing models.TwitterIdentity
		err := tx.Where("twitter_id = ?", twitterID).First(&existing).Error
		switch {
		case err == nil:
			if models.CanonicalWallet(existing.WalletAddress) != wallet {
				return ErrIdentityConflict
			}
			if username != "" && existing.Username != username {
				existing.Username = username
				if err := tx.Save(&existing).Error; err != nil {
					return err
				}
			}
			out = existing
			return nil
		case !isNotFound(err):
			return err
		}

		// drop whatever identity the wallet held before
		if err := tx.Unscoped().Where("wallet_address = ?", wallet).Delete(&models.TwitterIdentity{}).Error; err != nil {
			return err
		}
		out = models.TwitterIdentity{
			TwitterID:       twitterID,
			Username:        username,
			WalletAddress:   wallet,
			VerifiedFollows: models.AddressList{},
		}
		return tx.Create(&out).Error
	})
	if err != nil {
		if errors.Is(err, ErrIdentityConflict) {
			s.Log.Warn("[IDENTITY] link rejected", zap.String("twitter_id", twitterID), zap.String("wallet", wallet))
			return nil, err
		}
		return nil, fmt.Errorf("link identity: %w", err)
	}
	if _, err := EnsureUser(ctx, s.DB, wallet); err != nil {
		return nil, err
	}
	s.Log.Info("[IDENTITY] linked", zap.String("twitter_id", twitterID), zap.String("wallet", wallet))
	return &out, nil
}

// RecordFollow appends targetID to the wallet identity's verified follows.
func (s *IdentityService) RecordFollow(ctx context.Context, wallet, targetID string) error {
	wallet = models.CanonicalWallet(wallet)
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var ident models.TwitterIdentity
		if err := tx.Where("wallet_address = ?", wallet).First(&ident).Error; err != nil {
			if isNotFound(err) {
				return ErrUserNotFound
			}
			return err
		}
		if ident.VerifiedFollows.Contains(targetID) {
			return nil
		}
		return tx.Model(&ident).UpdateColumn("verified_follows", ident.VerifiedFollows.With(targetID)).Error
	})
}

// ForWallet returns the identity linked to wallet, or nil.
func (s *IdentityService) ForWallet(ctx context.Context, wallet string) (*models.TwitterIdentity, error) {
	var ident models.TwitterIdentity
	err := s.DB.WithContext(ctx).Where("wallet_address = ?", models.CanonicalWallet(wallet)).First(&ident).Error
	if isNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ident, nil
}

// --- Handlers ---

// GetConflict handles GET /identity/twitter/:id/conflict?wallet=.
func (s *IdentityService) GetConflict(c *fiber.Ctx) error {
	twitterID := c.Params("id")
	wallet := c.Query("wallet", walletFromContext(c))
	if twitterID == "" || wallet == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "twitter id and wallet are required"})
	}
	conflict, err := s.CheckConflict(c.UserContext(), twitterID, wallet)
	if err != nil {
		s.Log.Error("[IDENTITY] conflict check failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(fiber.Map{"conflict": conflict})
}

// PostLink handles POST /identity/twitter/link.
func (s *IdentityService) PostLink(c *fiber.Ctx) error {
	var req struct {
		WalletAddress string `json:"walletAddress" validate:"required,max=128"`
		TwitterID     string `json:"twitterId" validate:"required,numeric"`
		Username      string `json:"username" validate:"omitempty,max=64"`
	}
	if err := parseBody(c, &req); err != nil {
		return errorJSON(c, err)
	}
	ident, err := s.Link(c.UserContext(), req.WalletAddress, req.TwitterID, req.Username)
	if errors.Is(err, ErrIdentityConflict) {
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{"error": err.Error(), "kind": "identity_conflict"})
	}
	if err != nil {
		s.Log.Error("[IDENTITY] link failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to link identity"})
	}
	return c.JSON(ident)
}

// PostFollow handles POST /identity/twitter/follows and records a verified
// follow on the wallet's linked identity.
func (s *IdentityService) PostFollow(c *fiber.Ctx) error {
	var req struct {
		WalletAddress string `json:"walletAddress" validate:"required,max=128"`
		TargetID      string `json:"targetId" validate:"required,numeric"`
	}
	if err := parseBody(c, &req); err != nil {
		return errorJSON(c, err)
	}
	err := s.RecordFollow(c.UserContext(), req.WalletAddress, req.TargetID)
	if errors.Is(err, ErrUserNotFound) {
		return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "no twitter identity linked to wallet"})
	}
	if err != nil {
		s.Log.Error("[IDENTITY] record follow failed", zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "Failed to record follow"})
	}
	return c.JSON(fiber.Map{"success": true})
}
