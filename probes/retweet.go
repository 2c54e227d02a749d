// probes/retweet.go
package probes

import (
	"context"
	"strings"
)

// timelineEndpoints are scanned in order. Retweets show up in either.
var timelineEndpoints = []string{EndpointUserTweets, EndpointUserReplies}

// CheckRetweet scans subjectID's recent posts for a retweet of content.
func (p *Prober) CheckRetweet(ctx context.Context, subjectID, content string) Verdict {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || strings.TrimSpace(content) == "" {
		return missingArgs(ProbeRetweet)
	}
	if v, ok := p.cached(ProbeRetweet, subjectID, content); ok {
		return v
	}

	var lastErr *fetchError
	fetched := 0
	for _, endpoint := range timelineEndpoints {
		body, fe := p.client.Get(ctx, endpoint, p.timelineParams(subjectID))
		if fe != nil {
			lastErr = fe
			continue
		}
		fetched++
		tweets := Tweets(ExtractEntries(body))
		if len(tweets) > p.cfg.TimelineCount {
			tweets = tweets[:p.cfg.TimelineCount]
		}
		for _, t := range tweets {
			cand := Candidate{Text: t.Text, RetweetedText: t.RetweetedText}
			if s, ok := MatchContent(content, cand, retweetStrategies); ok {
				return p.finish(ProbeRetweet, subjectID, content, verified(MatchDetail{
					Endpoint: endpoint, TweetID: t.TweetID, Strategy: s,
				}))
			}
		}
	}

	if fetched == 0 && lastErr != nil {
		v := p.degrade(ProbeRetweet, p.cfg.Retweet, lastErr)
		observe(ProbeRetweet, v)
		return v
	}
	return p.finish(ProbeRetweet, subjectID, content, unverified(nil))
}
