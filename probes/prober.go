// probes/prober.go
package probes

import (
	"net/url"
	"strconv"

	"go.uber.org/zap"
)

// Probe names, used for cache keys and metric labels.
const (
	ProbeFollow  = "follow"
	ProbeRetweet = "retweet"
	ProbeLike    = "like"
	ProbeTweet   = "tweet"
)

// ProbePolicy tunes how one probe treats ambiguous upstream failures.
type ProbePolicy struct {
	// DegradeToOptimisticOnError turns 403s and unclassified upstream errors
	// into an assumed-success verdict instead of an error.
	DegradeToOptimisticOnError bool
}

// Config bounds how much upstream work a probe may do.
type Config struct {
	MaxFollowPages int
	FollowPageSize int
	// TimelineCount is how many posts are requested per timeline endpoint.
	TimelineCount int

	Follow  ProbePolicy
	Retweet ProbePolicy
	Like    ProbePolicy
	Tweet   ProbePolicy
}

func DefaultConfig() Config {
	return Config{
		MaxFollowPages: 20,
		FollowPageSize: 100,
		TimelineCount:  40,
		Like:           ProbePolicy{DegradeToOptimisticOnError: true},
		Tweet:          ProbePolicy{DegradeToOptimisticOnError: true},
	}
}

// Prober runs the verification probes against the scraping proxy.
type Prober struct {
	client *UpstreamClient
	cache  *VerdictCache
	cfg    Config
	log    *zap.Logger
}

// NewProber wires a prober. cache may be nil to disable caching.
func NewProber(client *UpstreamClient, cache *VerdictCache, cfg Config, log *zap.Logger) *Prober {
	def := DefaultConfig()
	if cfg.MaxFollowPages <= 0 {
		cfg.MaxFollowPages = def.MaxFollowPages
	}
	if cfg.FollowPageSize <= 0 {
		cfg.FollowPageSize = def.FollowPageSize
	}
	if cfg.TimelineCount <= 0 {
		cfg.TimelineCount = def.TimelineCount
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Prober{client: client, cache: cache, cfg: cfg, log: log}
}

// Cache exposes the verdict cache for the purge job.
func (p *Prober) Cache() *VerdictCache { return p.cache }

func (p *Prober) timelineParams(subjectID string) url.Values {
	return url.Values{
		"user":  {subjectID},
		"count": {strconv.Itoa(p.cfg.TimelineCount)},
	}
}

// degrade applies the probe's optimistic policy to a failed fetch. Auth
// expiry, rate limits and timeouts are always surfaced.
func (p *Prober) degrade(probe string, policy ProbePolicy, fe *fetchError) Verdict {
	switch fe.probe.Kind {
	case KindAuthExpired, KindRateLimited, KindTimeout:
		return failed(fe.probe)
	}
	if policy.DegradeToOptimisticOnError && (fe.status == 403 || !fe.classified) {
		p.log.Warn("[PROBE] degrading to optimistic verdict",
			zap.String("probe", probe), zap.Int("status", fe.status), zap.String("cause", fe.probe.Message))
		return optimistic(fe.probe.Message)
	}
	return failed(fe.probe)
}

func (p *Prober) finish(probe, subject, target string, v Verdict) Verdict {
	p.cache.Put(probe, subject, target, v)
	observe(probe, v)
	return v
}

func (p *Prober) cached(probe, subject, target string) (Verdict, bool) {
	v, ok := p.cache.Get(probe, subject, target)
	if ok {
		probeCacheHits.WithLabelValues(probe).Inc()
	}
	return v, ok
}

func missingArgs(probe string) Verdict {
	v := failed(newProbeError(KindNotFound, "%s probe needs a subject and a target", probe))
	observe(probe, v)
	return v
}
