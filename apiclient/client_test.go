package apiclient

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-gate/orchestrator"
	"vault-gate/probes"
)

const testWallet = "0x00000000000000000000000000000000000000ab"

func newTestClient(t *testing.T, h http.Handler) *Client {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	c, err := New(Config{BaseURL: srv.URL, Token: "svc-token", Wallet: testWallet, Timeout: time.Second})
	require.NoError(t, err)
	return c
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func TestNew_RejectsBadURL(t *testing.T) {
	_, err := New(Config{BaseURL: "not a url"})
	assert.Error(t, err)
	_, err = New(Config{})
	assert.Error(t, err)
}

func TestCheckFollow_SendsQueryAndAuth(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/verify/twitter/follow", r.URL.Path)
		assert.Equal(t, "42", r.URL.Query().Get("user"))
		assert.Equal(t, "100", r.URL.Query().Get("target"))
		assert.Equal(t, testWallet, r.URL.Query().Get("wallet"))
		assert.Equal(t, "Bearer svc-token", r.Header.Get("Authorization"))
		writeJSON(w, http.StatusOK, probes.Verdict{Verified: true, Detail: "found"})
	}))

	v := c.CheckFollow(context.Background(), "42", "100")
	assert.True(t, v.Verified)
	assert.Nil(t, v.Error)
}

func TestChecks_UseContentParam(t *testing.T) {
	var paths []string
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		paths = append(paths, r.URL.Path)
		if strings.HasSuffix(r.URL.Path, "/like") {
			assert.Equal(t, "555", r.URL.Query().Get("target"))
		} else {
			assert.Equal(t, "Join the vault", r.URL.Query().Get("content"))
		}
		writeJSON(w, http.StatusOK, probes.Verdict{})
	}))

	ctx := context.Background()
	c.CheckRetweet(ctx, "42", "Join the vault")
	c.CheckLike(ctx, "42", "555")
	c.CheckTweet(ctx, "42", "Join the vault")
	assert.Equal(t, []string{"/verify/twitter/retweet", "/verify/twitter/like", "/verify/twitter/tweet"}, paths)
}

func TestVerify_StatusMapping(t *testing.T) {
	tests := []struct {
		status     int
		retryAfter string
		kind       probes.ErrorKind
		wait       time.Duration
	}{
		{http.StatusUnauthorized, "", probes.KindAuthRequired, 0},
		{http.StatusTooManyRequests, "7", probes.KindRateLimited, 7 * time.Second},
		{http.StatusBadGateway, "", probes.KindNetwork, 0},
		{http.StatusGatewayTimeout, "", probes.KindTimeout, 0},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprint(tc.status), func(t *testing.T) {
			c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				if tc.retryAfter != "" {
					w.Header().Set("Retry-After", tc.retryAfter)
				}
				writeJSON(w, tc.status, map[string]string{"error": "nope"})
			}))
			v := c.CheckLike(context.Background(), "42", "555")
			require.NotNil(t, v.Error)
			assert.False(t, v.Verified)
			assert.Equal(t, tc.kind, v.Error.Kind)
			assert.Equal(t, tc.wait, v.Error.RetryAfter)
			assert.Equal(t, "nope", v.Error.Message)
		})
	}
}

func TestVerify_TransportTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	c, err := New(Config{BaseURL: srv.URL, Timeout: 50 * time.Millisecond})
	require.NoError(t, err)
	v := c.CheckTweet(context.Background(), "42", "hi")
	require.NotNil(t, v.Error)
	assert.Equal(t, probes.KindTimeout, v.Error.Kind)
}

func TestVerify_ServerDown(t *testing.T) {
	srv := httptest.NewServer(http.NotFoundHandler())
	addr := srv.URL
	srv.Close()

	c, err := New(Config{BaseURL: addr})
	require.NoError(t, err)
	v := c.CheckFollow(context.Background(), "42", "100")
	require.NotNil(t, v.Error)
	assert.Equal(t, probes.KindNetwork, v.Error.Kind)
}

func TestIdentityEndpoints(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("/identity/twitter/42/conflict", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]bool{"conflict": r.URL.Query().Get("wallet") != testWallet})
	})
	mux.HandleFunc("/identity/twitter/link", func(w http.ResponseWriter, r *http.Request) {
		var body map[string]string
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		if body["twitterId"] == "taken" {
			writeJSON(w, http.StatusConflict, map[string]string{"error": "linked elsewhere", "kind": "identity_conflict"})
			return
		}
		assert.Equal(t, "alice", body["username"])
		writeJSON(w, http.StatusOK, body)
	})
	mux.HandleFunc("/identity/twitter/follows", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no linked identity"})
	})
	c := newTestClient(t, mux)
	ctx := context.Background()

	conflict, err := c.IdentityConflict(ctx, "42", testWallet)
	require.NoError(t, err)
	assert.False(t, conflict)
	conflict, err = c.IdentityConflict(ctx, "42", "0xother")
	require.NoError(t, err)
	assert.True(t, conflict)

	require.NoError(t, c.LinkIdentity(ctx, testWallet, "42", "alice"))
	assert.ErrorIs(t, c.LinkIdentity(ctx, testWallet, "taken", "alice"), orchestrator.ErrIdentityConflict)

	err = c.RecordFollow(ctx, testWallet, "100")
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestAwardFreeCredits(t *testing.T) {
	calls := 0
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rewards/free-credits", r.URL.Path)
		var body struct {
			VaultID        string `json:"vaultId"`
			WalletAddress  string `json:"walletAddress"`
			CompletedTasks int    `json:"completedTasks"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
		assert.Equal(t, "111", body.VaultID)
		assert.Equal(t, 4, body.CompletedTasks)
		calls++
		if calls == 1 {
			writeJSON(w, http.StatusOK, map[string]any{"success": true, "creditsAwarded": 4})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "creditsAwarded": 0, "alreadyAwarded": true})
	}))

	award, err := c.AwardFreeCredits(context.Background(), "111", testWallet, 4)
	require.NoError(t, err)
	assert.Equal(t, orchestrator.Award{Success: true, CreditsAwarded: 4}, award)

	award, err = c.AwardFreeCredits(context.Background(), "111", testWallet, 4)
	require.NoError(t, err)
	assert.True(t, award.Granted())
	assert.True(t, award.AlreadyAwarded)
}

func TestAwardFreeCredits_Failures(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]any{"success": false, "creditsAwarded": 0, "error": "vault locked"})
	}))
	_, err := c.AwardFreeCredits(context.Background(), "111", testWallet, 1)
	assert.ErrorContains(t, err, "vault locked")

	gone := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "vault not found"})
	}))
	_, err = gone.AwardFreeCredits(context.Background(), "111", testWallet, 1)
	var se *StatusError
	require.ErrorAs(t, err, &se)
	assert.Equal(t, http.StatusNotFound, se.Status)
}

func TestVault(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/vaults/open-vault" {
			writeJSON(w, http.StatusNotFound, map[string]string{"error": "vault not found"})
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{
			"id":                 "111",
			"slug":               "open-vault",
			"available_prize":    250.5,
			"sponsor_twitter_id": "900",
			"tweetContent":       "I am in",
			"retweet_tweet_id":   "555",
			"discord_link":       "https://discord.gg/x",
		})
	}))

	v, err := c.Vault(context.Background(), "open-vault")
	require.NoError(t, err)
	assert.Equal(t, "111", v.ID)
	assert.InDelta(t, 250.5, v.AvailablePrize, 0.001)
	content := v.Content()
	assert.Equal(t, "900", content.SponsorTwitterID)
	assert.Equal(t, "I am in", content.TweetContent)
	assert.Equal(t, "555", content.RetweetTweetID)
	assert.Equal(t, "https://discord.gg/x", content.DiscordLink)

	_, err = c.Vault(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrVaultNotFound)
}

func TestUser(t *testing.T) {
	c := newTestClient(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/users/"+testWallet {
			writeJSON(w, http.StatusOK, map[string]any{
				"wallet_address": testWallet,
				"credits":        3,
				"twitter":        map[string]string{"twitter_id": "42", "username": "alice"},
			})
			return
		}
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "user not found"})
	}))

	u, err := c.User(context.Background(), testWallet)
	require.NoError(t, err)
	require.NotNil(t, u.Twitter)
	assert.Equal(t, int64(3), u.Credits)
	assert.Equal(t, "alice", u.Twitter.Username)

	u, err = c.User(context.Background(), "0xnobody")
	require.NoError(t, err)
	assert.Nil(t, u)
}
