package services

import (
	"context"
	"mime/multipart"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"vault-gate/models"
)

// AssetUploader stores an uploaded file and returns its public URL.
type AssetUploader interface {
	UploadMultipart(ctx context.Context, fh *multipart.FileHeader, key string) (string, error)
}

type VaultService struct {
	DB *gorm.DB
	// Uploader is optional; without it sponsor logos are rejected.
	Uploader AssetUploader
	Log      *zap.Logger
}

func NewVaultService(db *gorm.DB, uploader AssetUploader, log *zap.Logger) *VaultService {
	if log == nil {
		log = zap.NewNop()
	}
	return &VaultService{DB: db, Uploader: uploader, Log: log}
}

// ListVaults returns every vault, open ones first.
func (s *VaultService) ListVaults(c *fiber.Ctx) error {
	var vaults []models.Vault
	if err := s.DB.WithContext(c.UserContext()).
		Order("available_prize DESC, created_at DESC").
		Find(&vaults).Error; err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to fetch vaults"})
	}
	return c.JSON(vaults)
}

// GetVault returns a vault by id or slug.
func (s *VaultService) GetVault(c *fiber.Ctx) error {
	id := c.Params("id")
	var vault models.Vault
	if err := s.DB.WithContext(c.UserContext()).First(&vault, "id = ? OR slug = ?", id, id).Error; err != nil {
		if isNotFound(err) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{"error": "vault not found"})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
	}
	return c.JSON(vault)
}

// formValues returns the submitted form fields, trimmed. Absent fields are
// absent from the map, unlike fiber's FormValue.
func formValues(c *fiber.Ctx) map[string]string {
	out := make(map[string]string)
	if form, err := c.MultipartForm(); err == nil {
		for k, v := range form.Value {
			if len(v) > 0 {
				out[k] = strings.TrimSpace(v[0])
			}
		}
		return out
	}
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		out[string(k)] = strings.TrimSpace(string(v))
	})
	return out
}

// UpsertVault handles POST /admin/vaults (multipart). Only fields present in
// the form are written, so partial edits leave the rest of the vault alone.
func (s *VaultService) UpsertVault(c *fiber.Ctx) error {
	form := formValues(c)
	id := form["id"]
	if id == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "id is required"})
	}
	ctx := c.UserContext()

	var vault models.Vault
	created := false
	if err := s.DB.WithContext(ctx).First(&vault, "id = ?", id).Error; err != nil {
		if !isNotFound(err) {
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "DB error"})
		}
		vault = models.Vault{ID: id, FreeCreditFallback: DefaultFreeCredits}
		created = true
	}

	for key, dst := range map[string]*string{
		"name":                   &vault.Name,
		"description":            &vault.Description,
		"sponsor_name":           &vault.SponsorName,
		"sponsor_twitter_handle": &vault.SponsorTwitterHandle,
		"sponsor_twitter_id":     &vault.SponsorTwitterID,
		"sponsor_website":        &vault.SponsorWebsite,
		"tweet_content":          &vault.TweetContent,
		"retweet_content":        &vault.RetweetContent,
		"retweet_tweet_id":       &vault.RetweetTweetID,
		"telegram_link":          &vault.TelegramLink,
		"discord_link":           &vault.DiscordLink,
		"linkedin_link":          &vault.LinkedInLink,
		"extra_link":             &vault.ExtraLink,
		"agent_prompt":           &vault.AgentPrompt,
	} {
		if v, ok := form[key]; ok {
			*dst = v
		}
	}
	if strings.TrimSpace(vault.Name) == "" {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "name is required"})
	}
	for key, dst := range map[string]*float64{
		"total_prize":     &vault.TotalPrize,
		"available_prize": &vault.AvailablePrize,
	} {
		raw, ok := form[key]
		if !ok || raw == "" {
			continue
		}
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil || v < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid " + key})
		}
		*dst = v
	}
	if raw := form["free_credit_fallback"]; raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": "invalid free_credit_fallback"})
		}
		vault.FreeCreditFallback = n
	}
	if vault.AvailablePrize > vault.TotalPrize {
		vault.TotalPrize = vault.AvailablePrize
	}
	if created || form["regenerate_slug"] == "true" {
		vault.Slug = models.VaultSlug(vault.Name, vault.ID)
	}

	if logo, err := c.FormFile("sponsor_logo"); err == nil && logo.Size > 0 {
		if s.Uploader == nil {
			return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{"error": "asset storage is not configured"})
		}
		ext := filepath.Ext(logo.Filename)
		if ext == "" {
			ext = ".png"
		}
		url, err := s.Uploader.UploadMultipart(ctx, logo, "vaults/"+vault.ID+"/logo-"+uuid.NewString()+ext)
		if err != nil {
			s.Log.Error("[VAULT] logo upload failed", zap.String("vault", vault.ID), zap.Error(err))
			return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to upload sponsor logo"})
		}
		vault.SponsorLogoURL = url
	}

	// award bookkeeping is owned by the reward gate
	var err error
	if created {
		err = s.DB.WithContext(ctx).Create(&vault).Error
	} else {
		err = s.DB.WithContext(ctx).Model(&models.Vault{ID: vault.ID}).
			Select("*").
			Omit("freecreditawarded", "award_version", "created_at").
			Updates(&vault).Error
	}
	if err != nil {
		s.Log.Error("[VAULT] save failed", zap.String("vault", vault.ID), zap.Error(err))
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{"error": "failed to save vault"})
	}

	s.Log.Info("[VAULT] saved", zap.String("vault", vault.ID), zap.Bool("created", created))
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(vault)
}
