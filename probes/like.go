// probes/like.go
package probes

import (
	"context"
	"strings"
)

// CheckLike looks for tweetID among subjectID's liked posts. The likes
// endpoint is the flakiest one upstream, so 403s and unclassified failures
// assume the like happened when the policy allows; expired auth, rate limits
// and timeouts are always returned as errors.
func (p *Prober) CheckLike(ctx context.Context, subjectID, tweetID string) Verdict {
	subjectID, tweetID = strings.TrimSpace(subjectID), strings.TrimSpace(tweetID)
	if subjectID == "" || tweetID == "" {
		return missingArgs(ProbeLike)
	}
	if v, ok := p.cached(ProbeLike, subjectID, tweetID); ok {
		return v
	}

	body, fe := p.client.Get(ctx, EndpointUserLikes, p.timelineParams(subjectID))
	if fe != nil {
		v := p.degrade(ProbeLike, p.cfg.Like, fe)
		observe(ProbeLike, v)
		return v
	}

	for _, t := range Tweets(ExtractEntries(body)) {
		if t.TweetID == tweetID {
			return p.finish(ProbeLike, subjectID, tweetID, verified(MatchDetail{
				Endpoint: EndpointUserLikes, TweetID: t.TweetID,
			}))
		}
	}
	return p.finish(ProbeLike, subjectID, tweetID, unverified(nil))
}
