package chunk

import "strings"

var markdownV2Escapes = map[rune]bool{
	'\\': true,
	'_':  true,
	'*':  true,
	'[':  true,
	']':  true,
	'(':  true,
	')':  true,
	'~':  true,
	'`':  true,
	'>':  true,
	'#':  true,
	'+':  true,
	'-':  true,
	'=':  true,
	'|':  true,
	'{':  true,
	'}':  true,
	'.':  true,
	'!':  true,
}

// Escape は MarkdownV2 の書式文字をエスケープする
// 既にエスケープ済みの文字はそのまま残すため、繰り返し適用しても結果は変わらない
func Escape(text string) string {
	if strings.TrimSpace(text) == "" {
		return text
	}

	rs := []rune(text)
	var b strings.Builder
	b.Grow(len(text) + 8)
	for i := 0; i < len(rs); i++ {
		r := rs[i]
		if r == '\\' && i+1 < len(rs) && markdownV2Escapes[rs[i+1]] {
			b.WriteRune(r)
			b.WriteRune(rs[i+1])
			i++
			continue
		}
		if markdownV2Escapes[r] {
			b.WriteByte('\\')
		}
		b.WriteRune(r)
	}
	return b.String()
}
