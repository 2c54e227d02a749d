package services

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"vault-gate/models"
)

const (
	walletA = "0x52908400098527886e0f7030069857d2e4169ee7"
	walletB = "0x8617e340b3d01fa5f11f306f4090fd50e238070d"
)

// newTestDB opens a private shared-cache sqlite database with the gate schema.
func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.AutoMigrate(models.All()...))
	return db
}

func seedVault(t *testing.T, db *gorm.DB, v models.Vault) models.Vault {
	t.Helper()
	if v.Name == "" {
		v.Name = "Vault " + v.ID
	}
	require.NoError(t, db.Create(&v).Error)
	return v
}

func reloadVault(t *testing.T, db *gorm.DB, id string) models.Vault {
	t.Helper()
	var v models.Vault
	require.NoError(t, db.First(&v, "id = ?", id).Error)
	return v
}

func userCredits(t *testing.T, db *gorm.DB, wallet string) int64 {
	t.Helper()
	var u models.User
	require.NoError(t, db.First(&u, "wallet_address = ?", wallet).Error)
	return u.Credits
}

func jsonRequest(t *testing.T, method, path string, body any) *http.Request {
	t.Helper()
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, r)
	req.Header.Set(fiber.HeaderContentType, fiber.MIMEApplicationJSON)
	return req
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}
