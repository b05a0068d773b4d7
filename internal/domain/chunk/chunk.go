// Package chunk は送信テキストをプラットフォームの上限長に分割し、MarkdownV2 の特殊文字をエスケープする
package chunk

import (
	"errors"
	"strings"
	"unicode"
	"unicode/utf8"
)

// DefaultMaxLength は Telegram のメッセージ長上限
const DefaultMaxLength = 4096

// ErrInvalidMax は指定された上限長では1文字も収まらない場合に返る
var ErrInvalidMax = errors.New("chunk: max length too small")

// Segment は送信チャンク1件の生テキストとエスケープ済みテキスト
type Segment struct {
	Raw     string
	Escaped string
}

// Split は text を max ルーン以下のチャンクに分割する
// 段落、行、文、単語の境界を順に優先し、見つからなければ max で切る
// 落とすのはチャンク境界の空白のみ
func Split(text string, max int) ([]string, error) {
	if max < 1 {
		return nil, ErrInvalidMax
	}

	rs := []rune(text)
	var chunks []string
	start := 0
	for {
		for start < len(rs) && unicode.IsSpace(rs[start]) {
			start++
		}
		if start >= len(rs) {
			break
		}

		rest := rs[start:]
		if len(rest) <= max {
			if piece := strings.TrimRightFunc(string(rest), unicode.IsSpace); piece != "" {
				chunks = append(chunks, piece)
			}
			break
		}

		cut := findCut(rest, max)
		chunks = append(chunks, strings.TrimRightFunc(string(rest[:cut]), unicode.IsSpace))
		start += cut
	}

	return chunks, nil
}

// SplitEscaped はエスケープ後の各チャンクが max ルーンに収まるよう分割する
func SplitEscaped(text string, max int) ([]Segment, error) {
	if max < 2 {
		return nil, ErrInvalidMax
	}

	raw, err := Split(text, max)
	if err != nil {
		return nil, err
	}

	segments := make([]Segment, 0, len(raw))
	for _, c := range raw {
		segments = appendEscaped(segments, c, max)
	}
	return segments, nil
}

func appendEscaped(out []Segment, raw string, max int) []Segment {
	escaped := Escape(raw)
	n := utf8.RuneCountInString(escaped)
	if n <= max {
		return append(out, Segment{Raw: raw, Escaped: escaped})
	}

	// エスケープで長さは高々2倍なので limit は max/2 以上を保ちつつ必ず縮む
	limit := utf8.RuneCountInString(raw) * max / n
	if limit < 1 {
		limit = 1
	}
	parts, _ := Split(raw, limit)
	for _, p := range parts {
		out = appendEscaped(out, p, max)
	}
	return out
}

// findCut は rest（len(rest) > max）の切断位置を (0, max] で返す
func findCut(rest []rune, max int) int {
	min := max / 2
	if min < 1 {
		min = 1
	}

	levels := []struct {
		min   int
		match func(rs []rune, i int) bool
	}{
		{min, isParagraphBreak},
		{min, isLineBreak},
		{min, isSentenceEnd},
		{1, isWordBreak},
	}

	for _, level := range levels {
		for i := max; i >= level.min; i-- {
			if level.match(rest, i) {
				return i
			}
		}
	}
	return max
}

// 以下の判定はいずれも rest[:i] と rest[i:] の境界について判定する（0 < i < len(rest)）

func isParagraphBreak(rs []rune, i int) bool {
	return i >= 2 && rs[i-1] == '\n' && rs[i-2] == '\n'
}

func isLineBreak(rs []rune, i int) bool {
	return rs[i-1] == '\n' || rs[i] == '\n'
}

func isSentenceEnd(rs []rune, i int) bool {
	switch rs[i-1] {
	case '.', '!', '?':
		return unicode.IsSpace(rs[i])
	case '。', '！', '？':
		return true
	}
	return false
}

func isWordBreak(rs []rune, i int) bool {
	return unicode.IsSpace(rs[i]) || unicode.IsSpace(rs[i-1])
}
