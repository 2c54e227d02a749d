// Package apiclient talks to the vault-gate server on behalf of a device.
// Client implements the orchestrator's Verifier and Rewarder ports.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"vault-gate/orchestrator"
	"vault-gate/policy"
	"vault-gate/probes"
	"vault-gate/utils"
)

const (
	// DefaultTimeout covers one verification round trip, which itself may
	// page through the upstream proxy.
	DefaultTimeout = 30 * time.Second
	maxErrorBody   = 4 << 10
)

// ErrVaultNotFound is returned by Vault for unknown ids.
var ErrVaultNotFound = errors.New("vault not found")

type Config struct {
	BaseURL string
	// Token is the gateway service token.
	Token string
	// Wallet is sent with verification calls so the server runs its own
	// identity-conflict guard.
	Wallet     string
	Timeout    time.Duration
	HTTPClient *http.Client
	Logger     *zap.Logger
}

type Client struct {
	base   *url.URL
	token  string
	wallet string
	http   *http.Client
	// stream has no overall timeout; chat replies are bounded by ctx.
	stream *http.Client
	log    *zap.Logger
}

func New(cfg Config) (*Client, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid server URL %q", cfg.BaseURL)
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = utils.NewHTTPClient(cfg.Timeout)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	stream := &http.Client{Transport: hc.Transport}
	return &Client{base: base, token: cfg.Token, wallet: cfg.Wallet, http: hc, stream: stream, log: log}, nil
}

// StatusError is a non-2xx answer from the server.
type StatusError struct {
	Status     int
	Message    string
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("server returned %d: %s", e.Status, e.Message)
}

func (c *Client) endpoint(path string, query url.Values) string {
	u := c.base.JoinPath(path)
	if len(query) > 0 {
		u.RawQuery = query.Encode()
	}
	return u.String()
}

func (c *Client) newRequest(ctx context.Context, method, path string, query url.Values, body any) (*http.Request, error) {
	var r io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encode request: %w", err)
		}
		r = bytes.NewReader(raw)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.endpoint(path, query), r)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set("Accept", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	if c.wallet != "" {
		req.Header.Set("X-Wallet-Address", c.wallet)
	}
	return req, nil
}

func readError(resp *http.Response) *StatusError {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))
	msg := strings.TrimSpace(string(raw))
	var body struct {
		Error string `json:"error"`
	}
	if json.Unmarshal(raw, &body) == nil && body.Error != "" {
		msg = body.Error
	}
	se := &StatusError{Status: resp.StatusCode, Message: msg}
	if secs, err := strconv.Atoi(resp.Header.Get("Retry-After")); err == nil && secs > 0 {
		se.RetryAfter = time.Duration(secs) * time.Second
	}
	return se
}

// do sends the request and decodes a 2xx JSON answer into out. Answers in
// accept are decoded too, for endpoints that report failures in the body.
func (c *Client) do(req *http.Request, out any, accept ...int) error {
	resp, err := c.http.Do(req)
	if err != nil {
		return err
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	for _, code := range accept {
		ok = ok || resp.StatusCode == code
	}
	if !ok {
		return readError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", req.URL.Path, err)
	}
	return nil
}

// --- Verifier ---

// transportVerdict turns a failed call into a verdict so callers never see
// Go errors from checks.
func transportVerdict(err error) probes.Verdict {
	var se *StatusError
	var ne net.Error
	switch {
	case errors.As(err, &se):
		kind := probes.KindNetwork
		switch se.Status {
		case http.StatusUnauthorized, http.StatusForbidden:
			kind = probes.KindAuthRequired
		case http.StatusTooManyRequests:
			kind = probes.KindRateLimited
		case http.StatusNotFound:
			kind = probes.KindNotFound
		case http.StatusGatewayTimeout:
			kind = probes.KindTimeout
		}
		return probes.Verdict{Error: &probes.ProbeError{Kind: kind, Message: se.Message, RetryAfter: se.RetryAfter}}
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		return probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindTimeout, Message: "gate server timed out"}}
	}
	return probes.Verdict{Error: &probes.ProbeError{Kind: probes.KindNetwork, Message: err.Error()}}
}

func (c *Client) verify(ctx context.Context, probe, subject, param, value string) probes.Verdict {
	q := url.Values{"user": {subject}, param: {value}}
	if c.wallet != "" {
		q.Set("wallet", c.wallet)
	}
	req, err := c.newRequest(ctx, http.MethodGet, "/verify/twitter/"+probe, q, nil)
	if err != nil {
		return transportVerdict(err)
	}
	var v probes.Verdict
	if err := c.do(req, &v); err != nil {
		c.log.Debug("[CLIENT] verification call failed", zap.String("probe", probe), zap.Error(err))
		return transportVerdict(err)
	}
	return v
}

func (c *Client) CheckFollow(ctx context.Context, subjectID, targetID string) probes.Verdict {
	return c.verify(ctx, "follow", subjectID, "target", targetID)
}

func (c *Client) CheckRetweet(ctx context.Context, subjectID, content string) probes.Verdict {
	return c.verify(ctx, "retweet", subjectID, "content", content)
}

func (c *Client) CheckLike(ctx context.Context, subjectID, tweetID string) probes.Verdict {
	return c.verify(ctx, "like", subjectID, "target", tweetID)
}

func (c *Client) CheckTweet(ctx context.Context, subjectID, content string) probes.Verdict {
	return c.verify(ctx, "tweet", subjectID, "content", content)
}

func (c *Client) IdentityConflict(ctx context.Context, twitterID, wallet string) (bool, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/identity/twitter/"+url.PathEscape(twitterID)+"/conflict",
		url.Values{"wallet": {wallet}}, nil)
	if err != nil {
		return false, err
	}
	var out struct {
		Conflict bool `json:"conflict"`
	}
	if err := c.do(req, &out); err != nil {
		return false, fmt.Errorf("identity conflict check: %w", err)
	}
	return out.Conflict, nil
}

func (c *Client) LinkIdentity(ctx context.Context, wallet, twitterID, username string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/identity/twitter/link", nil, map[string]string{
		"walletAddress": wallet,
		"twitterId":     twitterID,
		"username":      username,
	})
	if err != nil {
		return err
	}
	err = c.do(req, nil)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusConflict {
		return orchestrator.ErrIdentityConflict
	}
	if err != nil {
		return fmt.Errorf("link identity: %w", err)
	}
	return nil
}

func (c *Client) RecordFollow(ctx context.Context, wallet, targetID string) error {
	req, err := c.newRequest(ctx, http.MethodPost, "/identity/twitter/follows", nil, map[string]string{
		"walletAddress": wallet,
		"targetId":      targetID,
	})
	if err != nil {
		return err
	}
	if err := c.do(req, nil); err != nil {
		return fmt.Errorf("record follow: %w", err)
	}
	return nil
}

// --- Rewarder ---

func (c *Client) AwardFreeCredits(ctx context.Context, vaultID, wallet string, completedTasks int) (orchestrator.Award, error) {
	req, err := c.newRequest(ctx, http.MethodPost, "/rewards/free-credits", nil, map[string]any{
		"vaultId":        vaultID,
		"walletAddress":  wallet,
		"completedTasks": completedTasks,
	})
	if err != nil {
		return orchestrator.Award{}, err
	}
	var out struct {
		orchestrator.Award
		Error string `json:"error"`
	}
	if err := c.do(req, &out); err != nil {
		return orchestrator.Award{}, fmt.Errorf("award free credits: %w", err)
	}
	if out.Error != "" && !out.Granted() {
		return orchestrator.Award{}, fmt.Errorf("award free credits: %s", out.Error)
	}
	return out.Award, nil
}

// --- Read models ---

// Vault is the server's vault view.
type Vault struct {
	ID                   string  `json:"id"`
	Name                 string  `json:"name"`
	Slug                 string  `json:"slug"`
	TotalPrize           float64 `json:"total_prize"`
	AvailablePrize       float64 `json:"available_prize"`
	SponsorName          string  `json:"sponsor_name"`
	SponsorTwitterHandle string  `json:"sponsor_twitter_handle"`
	SponsorTwitterID     string  `json:"sponsor_twitter_id"`
	TweetContent         string  `json:"tweetContent"`
	RetweetContent       string  `json:"retweet_content"`
	RetweetTweetID       string  `json:"retweet_tweet_id"`
	TelegramLink         string  `json:"telegram_link"`
	DiscordLink          string  `json:"discord_link"`
	LinkedInLink         string  `json:"linkedin_link"`
	ExtraLink            string  `json:"extra_link"`
}

// Content returns the fields the vault policy is overlaid with.
func (v Vault) Content() policy.VaultContent {
	return policy.VaultContent{
		SponsorTwitterID:     v.SponsorTwitterID,
		SponsorTwitterHandle: v.SponsorTwitterHandle,
		TweetContent:         v.TweetContent,
		RetweetContent:       v.RetweetContent,
		RetweetTweetID:       v.RetweetTweetID,
		DiscordLink:          v.DiscordLink,
		LinkedInLink:         v.LinkedInLink,
		TelegramLink:         v.TelegramLink,
		ExtraLink:            v.ExtraLink,
	}
}

func (c *Client) Vault(ctx context.Context, id string) (*Vault, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/vaults/"+url.PathEscape(id), nil, nil)
	if err != nil {
		return nil, err
	}
	var v Vault
	err = c.do(req, &v)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil, ErrVaultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("fetch vault %s: %w", id, err)
	}
	return &v, nil
}

// User is the server's view of a wallet.
type User struct {
	WalletAddress string `json:"wallet_address"`
	Credits       int64  `json:"credits"`
	Twitter       *struct {
		TwitterID string `json:"twitter_id"`
		Username  string `json:"username"`
	} `json:"twitter,omitempty"`
}

// User returns nil, nil when the wallet has no account yet.
func (c *Client) User(ctx context.Context, wallet string) (*User, error) {
	req, err := c.newRequest(ctx, http.MethodGet, "/users/"+url.PathEscape(wallet), nil, nil)
	if err != nil {
		return nil, err
	}
	var u User
	err = c.do(req, &u)
	var se *StatusError
	if errors.As(err, &se) && se.Status == http.StatusNotFound {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("fetch user: %w", err)
	}
	return &u, nil
}
