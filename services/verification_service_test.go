package services

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"sync"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-gate/probes"
)

type fakeProber struct {
	mu      sync.Mutex
	calls   []string
	verdict probes.Verdict
}

func (f *fakeProber) record(probe, subject, target string) probes.Verdict {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, probe+":"+subject+":"+target)
	return f.verdict
}

func (f *fakeProber) CheckFollow(_ context.Context, s, t string) probes.Verdict {
	return f.record("follow", s, t)
}
func (f *fakeProber) CheckRetweet(_ context.Context, s, t string) probes.Verdict {
	return f.record("retweet", s, t)
}
func (f *fakeProber) CheckLike(_ context.Context, s, t string) probes.Verdict {
	return f.record("like", s, t)
}
func (f *fakeProber) CheckTweet(_ context.Context, s, t string) probes.Verdict {
	return f.record("tweet", s, t)
}

func newVerifyApp(t *testing.T) (*fiber.App, *fakeProber, *IdentityService) {
	t.Helper()
	fp := &fakeProber{verdict: probes.Verdict{Verified: true}}
	ids := NewIdentityService(newTestDB(t), nil)
	svc := NewVerificationService(fp, ids, nil)
	app := fiber.New()
	app.Get("/verify/twitter/follow", svc.CheckFollow)
	app.Get("/verify/twitter/retweet", svc.CheckRetweet)
	app.Get("/verify/twitter/like", svc.CheckLike)
	app.Get("/verify/twitter/tweet", svc.CheckTweet)
	return app, fp, ids
}

func TestVerification_RoutesToProbe(t *testing.T) {
	app, fp, _ := newVerifyApp(t)

	q := url.Values{"user": {"42"}, "content": {"Vault 111 is open"}}
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/verify/twitter/retweet?"+q.Encode(), nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.True(t, decode[probes.Verdict](t, resp).Verified)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet, "/verify/twitter/follow?user=42&target=777", nil))
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)

	assert.Equal(t, []string{"retweet:42:Vault 111 is open", "follow:42:777"}, fp.calls)
}

func TestVerification_MissingParams(t *testing.T) {
	app, fp, _ := newVerifyApp(t)
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/verify/twitter/like?user=42", nil))
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Empty(t, fp.calls)
}

func TestVerification_IdentityConflictShortCircuits(t *testing.T) {
	app, fp, ids := newVerifyApp(t)
	_, err := ids.Link(context.Background(), walletA, "42", "alice")
	require.NoError(t, err)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/verify/twitter/follow?user=42&target=777&wallet="+walletB, nil))
	require.NoError(t, err)
	v := decode[probes.Verdict](t, resp)
	assert.False(t, v.Verified)
	require.NotNil(t, v.Error)
	assert.Equal(t, probes.KindIdentityConflict, v.Error.Kind)
	assert.Empty(t, fp.calls)

	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/verify/twitter/follow?user=42&target=777&wallet="+walletA, nil))
	require.NoError(t, err)
	assert.True(t, decode[probes.Verdict](t, resp).Verified)
}
