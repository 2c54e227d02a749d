// probes/follow.go
package probes

import (
	"context"
	"net/url"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

// FollowDetail reports how far the following list was scanned.
type FollowDetail struct {
	PagesScanned int  `json:"pagesScanned"`
	Capped       bool `json:"capped,omitempty"`
}

// CheckFollow pages through subjectID's following list looking for targetID.
// The scan stops at the first match, when the cursor is missing or repeats,
// on any non-200 page, or after MaxFollowPages pages. Follow lists longer
// than the cap produce a false negative.
func (p *Prober) CheckFollow(ctx context.Context, subjectID, targetID string) Verdict {
	subjectID, targetID = strings.TrimSpace(subjectID), strings.TrimSpace(targetID)
	if subjectID == "" || targetID == "" {
		return missingArgs(ProbeFollow)
	}
	if v, ok := p.cached(ProbeFollow, subjectID, targetID); ok {
		return v
	}

	seen := make(map[string]struct{})
	cursor := ""
	pages := 0
	for pages < p.cfg.MaxFollowPages {
		params := url.Values{
			"user":  {subjectID},
			"count": {strconv.Itoa(p.cfg.FollowPageSize)},
		}
		if cursor != "" {
			params.Set("cursor", cursor)
		}

		body, fe := p.client.Get(ctx, EndpointFollowings, params)
		pages++
		if fe != nil {
			p.log.Warn("[PROBE] follow scan aborted",
				zap.String("subject", subjectID), zap.Int("page", pages), zap.String("cause", fe.probe.Error()))
			followPagesFetched.Observe(float64(pages))
			v := unverified(FollowDetail{PagesScanned: pages})
			switch fe.probe.Kind {
			case KindAuthExpired, KindRateLimited, KindTimeout:
				v.Error = fe.probe
			}
			observe(ProbeFollow, v)
			return v
		}

		entries := ExtractEntries(body)
		for _, e := range entries {
			if e.Kind == EntryUser && e.UserID == targetID {
				followPagesFetched.Observe(float64(pages))
				return p.finish(ProbeFollow, subjectID, targetID, verified(FollowDetail{PagesScanned: pages}))
			}
		}

		next := BottomCursor(entries)
		if next == "" || next == cursor {
			break
		}
		if _, dup := seen[next]; dup {
			break
		}
		seen[next] = struct{}{}
		cursor = next
	}

	followPagesFetched.Observe(float64(pages))
	detail := FollowDetail{PagesScanned: pages, Capped: pages >= p.cfg.MaxFollowPages}
	return p.finish(ProbeFollow, subjectID, targetID, unverified(detail))
}
