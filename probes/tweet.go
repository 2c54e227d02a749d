// probes/tweet.go
package probes

import (
	"context"
	"strings"
)

// CheckTweet looks for an original post by subjectID containing content.
// Posts from both timeline endpoints are merged and de-duplicated by id.
func (p *Prober) CheckTweet(ctx context.Context, subjectID, content string) Verdict {
	subjectID = strings.TrimSpace(subjectID)
	if subjectID == "" || strings.TrimSpace(content) == "" {
		return missingArgs(ProbeTweet)
	}
	if v, ok := p.cached(ProbeTweet, subjectID, content); ok {
		return v
	}

	type sourced struct {
		entry    Entry
		endpoint string
	}
	var (
		merged  []sourced
		seen    = make(map[string]struct{})
		lastErr *fetchError
		fetched int
	)
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
			if _, dup := seen[t.TweetID]; dup {
				continue
			}
			seen[t.TweetID] = struct{}{}
			merged = append(merged, sourced{entry: t, endpoint: endpoint})
		}
	}

	if fetched == 0 && lastErr != nil {
		v := p.degrade(ProbeTweet, p.cfg.Tweet, lastErr)
		observe(ProbeTweet, v)
		return v
	}

	for _, s := range merged {
		// a retweet of someone else's post is not the user's own tweet
		if s.entry.RetweetedText != "" || strings.HasPrefix(Fold(s.entry.Text), "rt @") {
			continue
		}
		if strategy, ok := MatchContent(content, Candidate{Text: s.entry.Text}, tweetStrategies); ok {
			return p.finish(ProbeTweet, subjectID, content, verified(MatchDetail{
				Endpoint: s.endpoint, TweetID: s.entry.TweetID, Strategy: strategy,
			}))
		}
	}
	return p.finish(ProbeTweet, subjectID, content, unverified(map[string]int{"postsScanned": len(merged)}))
}
