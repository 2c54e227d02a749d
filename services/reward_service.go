package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/gofiber/fiber/v2"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"vault-gate/models"
)

// DefaultFreeCredits is awarded when neither the caller nor the vault names an amount.
const DefaultFreeCredits = 3

// maxAwardAttempts bounds compare-and-swap retries on the vault award list.
const maxAwardAttempts = 8

// RewardService grants the one-time free-credit bonus per (vault, wallet).
type RewardService struct {
	DB  *gorm.DB
	Log *zap.Logger
	// FallbackCredits applies when completedTasks is zero and the vault has no fallback of its own.
	FallbackCredits int
}

func NewRewardService(db *gorm.DB, log *zap.Logger, fallback int) *RewardService {
	if log == nil {
		log = zap.NewNop()
	}
	if fallback <= 0 {
		fallback = DefaultFreeCredits
	}
	return &RewardService{DB: db, Log: log, FallbackCredits: fallback}
}

// AwardResult is the reward gate's answer.
type AwardResult struct {
	Success        bool   `json:"success"`
	CreditsAwarded int64  `json:"creditsAwarded"`
	AlreadyAwarded bool   `json:"alreadyAwarded,omitempty"`
	Error          string `json:"error,omitempty"`
}

// EnsureUser returns the user for wallet, creating it with zero credits.
func EnsureUser(ctx context.Context, db *gorm.DB, wallet string) (*models.User, error) {
	wallet = models.CanonicalWallet(wallet)
	user := models.User{WalletAddress: wallet}
	if err := db.WithContext(ctx).
		Clauses(clause.OnConflict{Columns: []clause.Column{{Name: "wallet_address"}}, DoNothing: true}).
		Create(&user).Error; err != nil {
		return nil, fmt.Errorf("create user: %w", err)
	}
	var out models.User
	if err := db.WithContext(ctx).Where("wallet_address = ?", wallet).First(&out).Error; err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	return &out, nil
}

func (s *RewardService) loadVault(ctx context.Context, vaultID string) (*models.Vault, error) {
	var v models.Vault
	if err := s.DB.WithContext(ctx).First(&v, "id = ?", vaultID).Error; err != nil {
		if isNotFound(err) {
			return nil, ErrVaultNotFound
		}
		return nil, fmt.Errorf("load vault %s: %w", vaultID, err)
	}
	return &v, nil
}

// swapAwardList replaces the vault's award list if nobody wrote it since
// version was read. It reports whether the swap happened.
func (s *RewardService) swapAwardList(ctx context.Context, vaultID string, version int64, list models.AddressList) (bool, error) {
	res := s.DB.WithContext(ctx).Model(&models.Vault{}).
		Where("id = ? AND award_version = ?", vaultID, version).
		UpdateColumns(map[string]any{
			"freecreditawarded": list,
			"award_version":     version + 1,
		})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected == 1, nil
}

func (s *RewardService) creditAmount(v *models.Vault, completedTasks int) int64 {
	if completedTasks > 0 {
		return int64(completedTasks)
	}
	if v.FreeCreditFallback > 0 {
		return int64(v.FreeCreditFallback)
	}
	return int64(s.FallbackCredits)
}

// AwardIfEligible grants free credits to wallet for vaultID at most once.
//
// The wallet is appended to the vault's award list before any credit moves;
// that write is the lock. If the credit increment then fails the wallet is
// removed again, so a failed award can be retried and a successful one never
// repeats.
func (s *RewardService) AwardIfEligible(ctx context.Context, vaultID, wallet string, completedTasks int) (AwardResult, error) {
	wallet = models.CanonicalWallet(wallet)
	if vaultID == "" || wallet == "" {
		return AwardResult{Error: "vaultId and walletAddress are required"}, errors.New("vault id and wallet are required")
	}

	vault, err := s.loadVault(ctx, vaultID)
	if err != nil {
		return AwardResult{Error: err.Error()}, err
	}

	var amount int64
	locked := false
	for attempt := 0; attempt < maxAwardAttempts && !locked; attempt++ {
		if attempt > 0 {
			if vault, err = s.loadVault(ctx, vaultID); err != nil {
				return AwardResult{Error: err.Error()}, err
			}
		}
		if vault.FreeCreditAwarded.Contains(wallet) {
			rewardOutcomes.WithLabelValues("already_awarded").Inc()
			s.Log.Info("[REWARD] already awarded", zap.String("vault", vaultID), zap.String("wallet", wallet))
			return AwardResult{AlreadyAwarded: true}, nil
		}

		amount = s.creditAmount(vault, completedTasks)
		if _, err := EnsureUser(ctx, s.DB, wallet); err != nil {
			return AwardResult{Error: "failed to prepare user"}, err
		}

		locked, err = s.swapAwardList(ctx, vaultID, vault.AwardVersion, vault.FreeCreditAwarded.With(wallet))
		if err != nil {
			rewardOutcomes.WithLabelValues("error").Inc()
			return AwardResult{Error: "failed to record award"}, fmt.Errorf("lock award list: %w", err)
		}
	}
	if !locked {
		rewardOutcomes.WithLabelValues("contended").Inc()
		return AwardResult{Error: "award list busy, retry"}, fmt.Errorf("award list for vault %s kept changing", vaultID)
	}

	res := s.DB.WithContext(ctx).Model(&models.User{}).
		Where("wallet_address = ?", wallet).
		UpdateColumn("credits", gorm.Expr("credits + ?", amount))
	creditErr := res.Error
	if creditErr == nil && res.RowsAffected == 0 {
		creditErr = ErrUserNotFound
	}
	if creditErr != nil {
		s.Log.Error("[REWARD] credit increment failed, releasing award lock",
			zap.String("vault", vaultID), zap.String("wallet", wallet), zap.Error(creditErr))
		if rbErr := s.releaseAward(context.WithoutCancel(ctx), vaultID, wallet); rbErr != nil {
			s.Log.Error("[REWARD] rollback failed", zap.String("vault", vaultID), zap.String("wallet", wallet), zap.Error(rbErr))
			creditErr = errors.Join(creditErr, rbErr)
		}
		rewardOutcomes.WithLabelValues("rolled_back").Inc()
		return AwardResult{Error: "failed to award credits"}, fmt.Errorf("credit wallet: %w", creditErr)
	}

	rewardOutcomes.WithLabelValues("awarded").Inc()
	s.Log.Info("[REWARD] free credits awarded",
		zap.String("vault", vaultID), zap.String("wallet", wallet), zap.Int64("credits", amount))
	return AwardResult{Success: true, CreditsAwarded: amount}, nil
}

// releaseAward removes wallet from the vault's award list.
func (s *RewardService) releaseAward(ctx context.Context, vaultID, wallet string) error {
	for attempt := 0; attempt < maxAwardAttempts; attempt++ {
		vault, err := s.loadVault(ctx, vaultID)
		if err != nil {
			return err
		}
		if !vault.FreeCreditAwarded.Contains(wallet) {
			return nil
		}
		ok, err := s.swapAwardList(ctx, vaultID, vault.AwardVersion, vault.FreeCreditAwarded.Without(wallet))
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
	}
	return fmt.Errorf("award list for vault %s kept changing during rollback", vaultID)
}

// --- Handlers ---

// AwardFreeCredits handles POST /rewards/free-credits.
func (s *RewardService) AwardFreeCredits(c *fiber.Ctx) error {
	var req struct {
		VaultID        string `json:"vaultId" validate:"required"`
		WalletAddress  string `json:"walletAddress" validate:"required,max=128"`
		CompletedTasks int    `json:"completedTasks" validate:"gte=0,lte=64"`
	}
	if err := parseBody(c, &req); err != nil {
		return errorJSON(c, err)
	}
	if w := walletFromContext(c); w != "" && !strings.EqualFold(w, req.WalletAddress) {
		return c.Status(fiber.StatusForbidden).JSON(AwardResult{Error: "wallet does not match session"})
	}

	result, err := s.AwardIfEligible(c.UserContext(), req.VaultID, req.WalletAddress, req.CompletedTasks)
	switch {
	case errors.Is(err, ErrVaultNotFound):
		return c.Status(fiber.StatusNotFound).JSON(result)
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(result)
	}
	return c.JSON(result)
}
