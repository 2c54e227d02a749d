package probes

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type testTweet struct {
	ID            string
	Text          string
	RetweetedText string
}

func userEntry(id string) map[string]any {
	return map[string]any{
		"entryId": "user-" + id,
		"content": map[string]any{
			"entryType": "TimelineTimelineItem",
			"itemContent": map[string]any{
				"itemType": "TimelineUser",
				"user_results": map[string]any{
					"result": map[string]any{
						"rest_id": id,
						"legacy":  map[string]any{"screen_name": "user" + id},
					},
				},
			},
		},
	}
}

func tweetEntry(t testTweet) map[string]any {
	legacy := map[string]any{"id_str": t.ID, "full_text": t.Text, "user_id_str": "900"}
	if t.RetweetedText != "" {
		legacy["retweeted_status_result"] = map[string]any{
			"result": map[string]any{
				"rest_id": "rt-" + t.ID,
				"legacy":  map[string]any{"full_text": t.RetweetedText},
			},
		}
	}
	return map[string]any{
		"entryId": "tweet-" + t.ID,
		"content": map[string]any{
			"entryType": "TimelineTimelineItem",
			"itemContent": map[string]any{
				"itemType": "TimelineTweet",
				"tweet_results": map[string]any{
					"result": map[string]any{"__typename": "Tweet", "rest_id": t.ID, "legacy": legacy},
				},
			},
		},
	}
}

func cursorEntry(value string) map[string]any {
	return map[string]any{
		"entryId": "cursor-bottom-" + value,
		"content": map[string]any{
			"entryType":  "TimelineTimelineCursor",
			"cursorType": "Bottom",
			"value":      value,
		},
	}
}

func timelineDoc(entries ...map[string]any) []byte {
	list := make([]any, 0, len(entries))
	for _, e := range entries {
		list = append(list, e)
	}
	doc := map[string]any{
		"data": map[string]any{
			"user": map[string]any{
				"result": map[string]any{
					"timeline": map[string]any{
						"timeline": map[string]any{
							"instructions": []any{
								map[string]any{"type": "TimelineClearCache"},
								map[string]any{"type": "TimelineAddEntries", "entries": list},
							},
						},
					},
				},
			},
		},
	}
	b, _ := json.Marshal(doc)
	return b
}

func tweetsDoc(tweets ...testTweet) []byte {
	entries := make([]map[string]any, 0, len(tweets))
	for _, t := range tweets {
		entries = append(entries, tweetEntry(t))
	}
	return timelineDoc(entries...)
}

// fakeUpstream records requests per path and answers with the handler
// registered for that path.
type fakeUpstream struct {
	mu       sync.Mutex
	calls    map[string]int
	handlers map[string]http.HandlerFunc
	srv      *httptest.Server
}

func newFakeUpstream(t *testing.T) *fakeUpstream {
	t.Helper()
	f := &fakeUpstream{calls: map[string]int{}, handlers: map[string]http.HandlerFunc{}}
	f.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		f.mu.Lock()
		f.calls[r.URL.Path]++
		h := f.handlers[r.URL.Path]
		f.mu.Unlock()
		if h == nil {
			http.NotFound(w, r)
			return
		}
		h(w, r)
	}))
	t.Cleanup(f.srv.Close)
	return f
}

func (f *fakeUpstream) handle(path string, h http.HandlerFunc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[path] = h
}

func (f *fakeUpstream) json(path string, body []byte) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write(body)
	})
}

func (f *fakeUpstream) status(path string, code int, headers map[string]string) {
	f.handle(path, func(w http.ResponseWriter, r *http.Request) {
		for k, v := range headers {
			w.Header().Set(k, v)
		}
		w.WriteHeader(code)
	})
}

func (f *fakeUpstream) count(path string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[path]
}

func newTestProber(t *testing.T, f *fakeUpstream, cfg Config, cache *VerdictCache) *Prober {
	t.Helper()
	client, err := NewUpstreamClient(UpstreamConfig{
		BaseURL: f.srv.URL,
		APIKey:  "test-key",
		Timeout: 2 * time.Second,
	})
	require.NoError(t, err)
	return NewProber(client, cache, cfg, zap.NewNop())
}

func newTestCache() (*VerdictCache, *clockwork.FakeClock) {
	clock := clockwork.NewFakeClock()
	return NewVerdictCache(clock, time.Minute, 10*time.Second), clock
}
