package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-gate/models"
)

func TestUserHandlers(t *testing.T) {
	db := newTestDB(t)
	seedUser(t, db, walletA, 4)
	seedUser(t, db, walletB, 0)
	ids := NewIdentityService(db, nil)
	_, err := ids.Link(context.Background(), walletA, "1001", "alice")
	require.NoError(t, err)

	svc := NewUserService(db, ids, nil)
	app := fiber.New()
	app.Get("/users/:wallet", svc.GetUser)
	app.Get("/admin/users", svc.SearchUsers)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/users/"+walletA, nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	user := decode[models.User](t, resp)
	assert.Equal(t, int64(4), user.Credits)
	require.NotNil(t, user.Twitter)
	assert.Equal(t, "alice", user.Twitter.Username)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/users/"+walletB, nil))
	require.NoError(t, err)
	assert.Nil(t, decode[models.User](t, resp).Twitter)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/users/0xdead", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/admin/users?q=8617e3", nil))
	require.NoError(t, err)
	found := decode[[]map[string]any](t, resp)
	require.Len(t, found, 1)
	assert.Equal(t, walletB, found[0]["wallet_address"])
}
