package chunk

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

// visible は MarkdownV2 として描画された時に見える文字列を返す
func visible(escaped string) string {
	rs := []rune(escaped)
	var b strings.Builder
	for i := 0; i < len(rs); i++ {
		if rs[i] == '\\' && i+1 < len(rs) {
			i++
		}
		b.WriteRune(rs[i])
	}
	return b.String()
}

func TestEscape(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"plain text", "plain text"},
		{"Hello_world!", `Hello\_world\!`},
		{"BTC hits $70k.", `BTC hits $70k\.`},
		{"[link](http://x.y)", `\[link\]\(http://x\.y\)`},
		{"a > b", `a \> b`},
		{`trailing \`, `trailing \\`},
		{"", ""},
		{"   ", "   "},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Escape(tt.in), "Escape(%q)", tt.in)
	}
}

func TestEscape_Idempotent(t *testing.T) {
	samples := []string{
		"Hello_world!",
		"*bold* and _italic_ (with) [links]",
		`already \_escaped\_ text`,
		`double \\ backslash`,
		`lone \ backslash`,
		"🚀 BTC +5.2% = new ATH!",
		`\`,
	}

	for _, s := range samples {
		once := Escape(s)
		twice := Escape(once)
		assert.Equal(t, once, twice, "Escape should be idempotent for %q", s)
	}
}

func TestEscape_PreservesVisibleContent(t *testing.T) {
	samples := []string{
		"Hello_world!",
		"*bold* and _italic_ (with) [links] {braces} |pipes| ~tilde~ `code` #tag",
		"🚀 BTC +5.2% = new ATH!",
		"日本語のテキスト。",
	}

	for _, s := range samples {
		assert.Equal(t, s, visible(Escape(s)))
	}
}
