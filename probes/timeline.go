// probes/timeline.go
package probes

import (
	"encoding/json"
	"strings"
)

// EntryKind says what a flattened timeline entry carries.
type EntryKind string

const (
	EntryUser   EntryKind = "user"
	EntryTweet  EntryKind = "tweet"
	EntryCursor EntryKind = "cursor"
)

// Entry is one flattened item of an upstream timeline payload.
type Entry struct {
	Kind EntryKind

	// user entries
	UserID     string
	ScreenName string

	// tweet entries
	TweetID         string
	AuthorID        string
	Text            string
	RetweetedText   string
	RetweetedAuthor string

	// cursor entries
	CursorType  string
	CursorValue string
}

// The structs below mirror only the parts of the proxy's timeline JSON that
// are read. Every level is a pointer or slice so absent fields decode to nil.

type rawTimelineDoc struct {
	Data *struct {
		User *struct {
			Result *struct {
				Timeline   *rawTimelineWrap `json:"timeline"`
				TimelineV2 *rawTimelineWrap `json:"timeline_v2"`
			} `json:"result"`
		} `json:"user"`
	} `json:"data"`
}

type rawTimelineWrap struct {
	Timeline *struct {
		Instructions []rawInstruction `json:"instructions"`
	} `json:"timeline"`
}

type rawInstruction struct {
	Type    string     `json:"type"`
	Entries []rawEntry `json:"entries"`
	Entry   *rawEntry  `json:"entry"`
}

type rawEntry struct {
	EntryID string      `json:"entryId"`
	Content *rawContent `json:"content"`
}

type rawContent struct {
	EntryType   string          `json:"entryType"`
	CursorType  string          `json:"cursorType"`
	Value       string          `json:"value"`
	ItemContent *rawItemContent `json:"itemContent"`
	Items       []struct {
		Item *struct {
			ItemContent *rawItemContent `json:"itemContent"`
		} `json:"item"`
	} `json:"items"`
}

type rawItemContent struct {
	ItemType    string `json:"itemType"`
	UserResults *struct {
		Result *rawUser `json:"result"`
	} `json:"user_results"`
	TweetResults *struct {
		Result *rawTweet `json:"result"`
	} `json:"tweet_results"`
}

type rawUser struct {
	RestID string `json:"rest_id"`
	Legacy *struct {
		ScreenName string `json:"screen_name"`
	} `json:"legacy"`
}

type rawTweet struct {
	TypeName string `json:"__typename"`
	RestID   string `json:"rest_id"`
	// TweetWithVisibilityResults wraps the real tweet one level deeper.
	Tweet *rawTweet `json:"tweet"`
	Core  *struct {
		UserResults *struct {
			Result *rawUser `json:"result"`
		} `json:"user_results"`
	} `json:"core"`
	Legacy *rawTweetLegacy `json:"legacy"`
}

type rawTweetLegacy struct {
	IDStr                 string `json:"id_str"`
	FullText              string `json:"full_text"`
	UserIDStr             string `json:"user_id_str"`
	RetweetedStatusResult *struct {
		Result *rawTweet `json:"result"`
	} `json:"retweeted_status_result"`
}

// ExtractEntries validates and flattens a timeline payload. Anything that
// does not have the expected shape is skipped; a payload with no usable shape
// yields an empty slice.
func ExtractEntries(raw []byte) []Entry {
	var doc rawTimelineDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return []Entry{}
	}
	if doc.Data == nil || doc.Data.User == nil || doc.Data.User.Result == nil {
		return []Entry{}
	}
	res := doc.Data.User.Result

	var instructions []rawInstruction
	for _, wrap := range []*rawTimelineWrap{res.Timeline, res.TimelineV2} {
		if wrap != nil && wrap.Timeline != nil {
			instructions = append(instructions, wrap.Timeline.Instructions...)
		}
	}

	entries := []Entry{}
	for _, ins := range instructions {
		switch ins.Type {
		case "TimelineAddEntries":
			for _, e := range ins.Entries {
				entries = appendEntry(entries, e)
			}
		case "TimelinePinEntry", "TimelineReplaceEntry":
			if ins.Entry != nil {
				entries = appendEntry(entries, *ins.Entry)
			}
		}
	}
	return entries
}

func appendEntry(out []Entry, e rawEntry) []Entry {
	c := e.Content
	if c == nil {
		return out
	}
	if c.CursorType != "" || strings.HasPrefix(e.EntryID, "cursor-") {
		if c.Value == "" {
			return out
		}
		return append(out, Entry{Kind: EntryCursor, CursorType: c.CursorType, CursorValue: c.Value})
	}
	if c.ItemContent != nil {
		out = appendItem(out, c.ItemContent)
	}
	for _, it := range c.Items {
		if it.Item != nil && it.Item.ItemContent != nil {
			out = appendItem(out, it.Item.ItemContent)
		}
	}
	return out
}

func appendItem(out []Entry, ic *rawItemContent) []Entry {
	if ic.UserResults != nil && ic.UserResults.Result != nil {
		u := ic.UserResults.Result
		if u.RestID != "" {
			entry := Entry{Kind: EntryUser, UserID: u.RestID}
			if u.Legacy != nil {
				entry.ScreenName = u.Legacy.ScreenName
			}
			out = append(out, entry)
		}
	}
	if ic.TweetResults != nil && ic.TweetResults.Result != nil {
		if t, ok := flattenTweet(ic.TweetResults.Result); ok {
			out = append(out, t)
		}
	}
	return out
}

func unwrapTweet(t *rawTweet) *rawTweet {
	for depth := 0; t != nil && t.Legacy == nil && t.Tweet != nil && depth < 3; depth++ {
		t = t.Tweet
	}
	return t
}

func flattenTweet(t *rawTweet) (Entry, bool) {
	t = unwrapTweet(t)
	if t == nil || t.Legacy == nil {
		return Entry{}, false
	}
	id := t.RestID
	if id == "" {
		id = t.Legacy.IDStr
	}
	if id == "" {
		return Entry{}, false
	}
	entry := Entry{
		Kind:     EntryTweet,
		TweetID:  id,
		AuthorID: t.Legacy.UserIDStr,
		Text:     t.Legacy.FullText,
	}
	if rs := t.Legacy.RetweetedStatusResult; rs != nil {
		if inner := unwrapTweet(rs.Result); inner != nil && inner.Legacy != nil {
			entry.RetweetedText = inner.Legacy.FullText
			if inner.Core != nil && inner.Core.UserResults != nil && inner.Core.UserResults.Result != nil &&
				inner.Core.UserResults.Result.Legacy != nil {
				entry.RetweetedAuthor = inner.Core.UserResults.Result.Legacy.ScreenName
			}
		}
	}
	return entry, true
}

// BottomCursor returns the pagination cursor pointing at the next page.
func BottomCursor(entries []Entry) string {
	for _, e := range entries {
		if e.Kind == EntryCursor && strings.EqualFold(e.CursorType, "Bottom") {
			return e.CursorValue
		}
	}
	return ""
}

// Tweets filters the tweet entries.
func Tweets(entries []Entry) []Entry {
	out := make([]Entry, 0, len(entries))
	for _, e := range entries {
		if e.Kind == EntryTweet {
			out = append(out, e)
		}
	}
	return out
}
