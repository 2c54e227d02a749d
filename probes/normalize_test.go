package probes

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestNormalize(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want string
	}{
		{"lowercase and collapse", "  Join   The\tVAULT\n now ", "join the vault now"},
		{"entities", "Tom &amp; Jerry &quot;live&quot;", "tom & jerry live"},
		{"double encoded entity", "a &amp;amp; b", "a & b"},
		{"deeply encoded entity", "&" + strings.Repeat("amp;", 20) + "lt;b", "<b"},
		{"dotted join stripped", "join us.now for prizes", "join for prizes"},
		{"dotted join with space kept", "join us. now for prizes", "join us. now for prizes"},
		{"urls stripped", "win big https://t.co/abc123 today", "win big today"},
		{"bare domain stripped", "visit vault.example.com/play now", "visit now"},
		{"retweet prefix", "RT @sponsor_1: Vault 111 is open", "vault 111 is open"},
		{"nested retweet prefix", "RT @a: RT @b: hello there", "hello there"},
		{"curly quotes", "“Prize” isn’t small", "prize isnt small"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Normalize(tc.in))
		})
	}
}

func TestNormalize_Idempotent(t *testing.T) {
	inputs := []string{
		"",
		"plain text",
		"RT @x: RT @y: &amp;amp;lt;b&amp;gt; https://t.co/x vault.io",
		"ＦＵＬＬＷＩＤＴＨ text &nbsp; spaced",
		"Straße ΣΊΣΥΦΟΣ 🚀 https://x.com/a?b=c",
		"rt @ notahandle: keep",
		"\"quoted\" 'text' `ticks`",
		"a.bc.d e.g. 1.5x www.site.org/path?q=1",
		"&" + strings.Repeat("amp;", 20) + "lt;b",
		"RT @a: &amp;" + strings.Repeat("amp;", 40) + "quot;RT @b: hi&amp;amp;quot;",
		"&#xFF06;amp;amp;lt;tag&#xFF06;gt;",
	}
	for _, in := range inputs {
		once := Normalize(in)
		assert.Equal(t, once, Normalize(once), "input %q", in)
	}
}

func TestFold_KeepsLinks(t *testing.T) {
	assert.Equal(t, "rt @user: hi https://t.co/abc", Fold("RT  @User: Hi https://t.co/abc"))
}

func TestSignificantWords(t *testing.T) {
	words := SignificantWords("I am in the Vault, the VAULT! go café")
	assert.Equal(t, []string{"the", "vault", "cafe"}, words)
}
