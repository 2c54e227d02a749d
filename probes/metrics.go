package probes

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	probeResults = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultgate",
		Name:      "probe_results_total",
		Help:      "Probe verdicts by probe and outcome.",
	}, []string{"probe", "outcome"})

	probeCacheHits = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "vaultgate",
		Name:      "probe_cache_hits_total",
		Help:      "Probe calls answered from the verdict cache.",
	}, []string{"probe"})

	followPagesFetched = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "vaultgate",
		Name:      "follow_pages_fetched",
		Help:      "Following-list pages fetched per follow probe.",
		Buckets:   prometheus.LinearBuckets(1, 2, 10),
	})
)

func outcome(v Verdict) string {
	switch {
	case v.Failed():
		return string(v.Error.Kind)
	case v.Optimistic:
		return "optimistic"
	case v.Verified:
		return "verified"
	default:
		return "unverified"
	}
}

func observe(probe string, v Verdict) {
	probeResults.WithLabelValues(probe, outcome(v)).Inc()
}
