// probes/normalize.go
package probes

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/gosimple/unidecode"
	"golang.org/x/net/html"
	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

var (
	urlPattern      = regexp.MustCompile(`https?://\S+`)
	domainPattern   = regexp.MustCompile(`\b(?:[\p{L}\p{N}-]+\.)+[a-z]{2,}\b(?:/\S*)?`)
	rtPrefixPattern = regexp.MustCompile(`^rt @[\p{L}\p{N}_]+:?\s*`)
	whitespaceRun   = regexp.MustCompile(`\s+`)
	quoteReplacer   = strings.NewReplacer(`"`, "", `'`, "", "“", "", "”", "", "‘", "", "’", "", "«", "", "»", "", "`", "")
)

// decodeEntities unescapes until the text stops changing so "&amp;amp;"
// reaches the same form as "&". Every effective round consumes an entity,
// so the loop ends.
func decodeEntities(s string) string {
	for {
		next := html.UnescapeString(s)
		if next == s {
			return s
		}
		s = next
	}
}

func collapse(s string) string {
	return strings.TrimSpace(whitespaceRun.ReplaceAllString(s, " "))
}

// Fold lower-cases, decodes HTML entities, drops quote characters and
// collapses whitespace. URLs and retweet prefixes are kept.
func Fold(s string) string {
	s = decodeEntities(s)
	s = norm.NFKC.String(s)
	s = cases.Fold().String(s)
	s = quoteReplacer.Replace(s)
	return collapse(s)
}

// StripLinks removes URLs and bare domain-like tokens. Link shorteners
// rewrite these, so they cannot be compared.
func StripLinks(s string) string {
	s = urlPattern.ReplaceAllString(s, " ")
	s = domainPattern.ReplaceAllString(s, " ")
	return collapse(s)
}

// StripRetweetPrefix removes any leading "rt @handle:" markers. Input must
// already be folded.
func StripRetweetPrefix(s string) string {
	for {
		loc := rtPrefixPattern.FindStringIndex(s)
		if loc == nil {
			return s
		}
		s = strings.TrimSpace(s[loc[1]:])
	}
}

func normalizeOnce(s string) string {
	s = Fold(s)
	s = StripLinks(s)
	s = StripRetweetPrefix(s)
	return collapse(s)
}

// Normalize is the full comparison form: folded, entity-decoded, links and
// retweet prefix removed, whitespace collapsed. Normalize(Normalize(x)) ==
// Normalize(x).
func Normalize(s string) string {
	for {
		next := normalizeOnce(s)
		if next == s {
			return s
		}
		s = next
	}
}

// SignificantWords returns the distinct words of s longer than two runes,
// transliterated to ASCII where possible.
func SignificantWords(s string) []string {
	s = unidecode.Unidecode(Normalize(s))
	s = strings.ToLower(s)
	fields := strings.FieldsFunc(s, func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsNumber(r)
	})
	seen := make(map[string]struct{}, len(fields))
	words := make([]string, 0, len(fields))
	for _, f := range fields {
		if len([]rune(f)) <= 2 {
			continue
		}
		if _, ok := seen[f]; ok {
			continue
		}
		seen[f] = struct{}{}
		words = append(words, f)
	}
	return words
}
