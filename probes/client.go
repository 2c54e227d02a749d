// probes/client.go
package probes

import (
	"context"
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
	"golang.org/x/time/rate"
)

// Upstream endpoint paths on the scraping proxy.
const (
	EndpointFollowings  = "/followings"
	EndpointUserTweets  = "/user-tweets"
	EndpointUserReplies = "/user-replies"
	EndpointUserLikes   = "/user-likes"
)

const (
	DefaultUpstreamTimeout = 10 * time.Second
	maxUpstreamBody        = 8 << 20
)

// UpstreamConfig configures the scraping proxy client.
type UpstreamConfig struct {
	BaseURL string
	APIKey  string
	APIHost string
	Timeout time.Duration
	// RequestsPerSecond caps calls to the proxy across all probes. Zero means unlimited.
	RequestsPerSecond float64
	Burst             int
	HTTPClient        *http.Client
	Logger            *zap.Logger
}

// UpstreamClient performs GETs against the scraping proxy and classifies failures.
type UpstreamClient struct {
	baseURL *url.URL
	apiKey  string
	apiHost string
	http    *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// fetchError is a failed upstream call. classified is false for failures the
// client cannot attribute (odd status codes, transport errors other than
// timeouts); some probes degrade on those.
type fetchError struct {
	probe      *ProbeError
	status     int
	classified bool
}

func NewUpstreamClient(cfg UpstreamConfig) (*UpstreamClient, error) {
	base, err := url.Parse(strings.TrimRight(cfg.BaseURL, "/"))
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, fmt.Errorf("invalid upstream base URL %q", cfg.BaseURL)
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultUpstreamTimeout
	}
	hc := cfg.HTTPClient
	if hc == nil {
		hc = &http.Client{Timeout: timeout}
	}
	limiter := rate.NewLimiter(rate.Inf, 1)
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	apiHost := cfg.APIHost
	if apiHost == "" {
		apiHost = base.Host
	}
	return &UpstreamClient{
		baseURL: base,
		apiKey:  cfg.APIKey,
		apiHost: apiHost,
		http:    hc,
		limiter: limiter,
		log:     log,
	}, nil
}

// Get fetches endpoint with params and returns the body of a 200 response.
func (c *UpstreamClient) Get(ctx context.Context, endpoint string, params url.Values) ([]byte, *fetchError) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, transportError(err)
	}

	u := c.baseURL.JoinPath(endpoint)
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, &fetchError{probe: newProbeError(KindNetwork, "build request: %v", err)}
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("x-rapidapi-key", c.apiKey)
		req.Header.Set("x-rapidapi-host", c.apiHost)
	}

	start := time.Now()
	resp, err := c.http.Do(req)
	if err != nil {
		c.log.Warn("[PROBE] upstream request failed",
			zap.String("endpoint", endpoint), zap.Duration("elapsed", time.Since(start)), zap.Error(err))
		return nil, transportError(err)
	}
	defer func() {
		_, _ = io.Copy(io.Discard, resp.Body)
		_ = resp.Body.Close()
	}()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		c.log.Warn("[PROBE] upstream non-200",
			zap.String("endpoint", endpoint), zap.Int("status", resp.StatusCode), zap.ByteString("body", body))
		return nil, statusError(resp.StatusCode, resp.Header.Get("Retry-After"))
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxUpstreamBody))
	if err != nil {
		return nil, transportError(err)
	}
	return body, nil
}

func transportError(err error) *fetchError {
	var netErr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &netErr) && netErr.Timeout()) {
		return &fetchError{probe: newProbeError(KindTimeout, "upstream timed out"), classified: true}
	}
	if errors.Is(err, context.Canceled) {
		return &fetchError{probe: newProbeError(KindNetwork, "request canceled"), classified: true}
	}
	return &fetchError{probe: newProbeError(KindNetwork, "%v", err)}
}

func statusError(status int, retryAfter string) *fetchError {
	fe := &fetchError{status: status, classified: true}
	switch status {
	case http.StatusUnauthorized:
		fe.probe = newProbeError(KindAuthExpired, "upstream authorization expired")
	case http.StatusForbidden:
		fe.probe = newProbeError(KindAuthRequired, "upstream refused access")
	case http.StatusNotFound:
		fe.probe = newProbeError(KindNotFound, "subject or target not found")
	case http.StatusTooManyRequests:
		fe.probe = newProbeError(KindRateLimited, "upstream rate limit reached")
		fe.probe.RetryAfter = parseRetryAfter(retryAfter, time.Now())
	default:
		fe.classified = false
		fe.probe = newProbeError(KindNetwork, "upstream returned status %d", status)
	}
	return fe
}

// parseRetryAfter accepts delta-seconds or an HTTP date.
func parseRetryAfter(v string, now time.Time) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil && t.After(now) {
		return t.Sub(now)
	}
	return 0
}
