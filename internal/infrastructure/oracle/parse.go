package oracle

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/news"
)

// IgnoreSentinel は変換不可・返信不要を示す出力
const IgnoreSentinel = "IGNORE"

// cleanMarker は判定用に出力の装飾（引用符、強調、末尾の句読点）を取り除く
func cleanMarker(s string) string {
	return strings.Trim(s, "\"'`*_“”「」.! \t\r\n")
}

// parseBoolVerdict は "TRUE" / "FALSE - reason" 形式の出力を解釈する
func parseBoolVerdict(raw string) (bool, string, error) {
	cleaned := cleanMarker(firstLine(raw))
	upper := strings.ToUpper(cleaned)

	switch {
	case startsWithWord(upper, "TRUE"):
		return true, "", nil
	case startsWithWord(upper, "FALSE"):
		reason := strings.TrimLeft(cleaned[len("FALSE"):], "-:–—*\"' ")
		reason = strings.TrimSpace(reason)
		if reason == "" {
			reason = "no reason given"
		}
		return false, reason, nil
	default:
		return false, "", fmt.Errorf("%w: %q", news.ErrAmbiguousVerdict, truncate(raw, 80))
	}
}

// parseNovelty は新規性判定の出力を解釈する（TRUE: 未処理, FALSE: 処理済み）
func parseNovelty(raw string) (news.NoveltyVerdict, error) {
	novel, reason, err := parseBoolVerdict(raw)
	if err != nil {
		return news.AlreadyProcessed("ambiguous oracle output"), err
	}
	if novel {
		return news.Novel(), nil
	}
	return news.AlreadyProcessed(reason), nil
}

// parseTransform は変換オラクルの出力を解釈する
func parseTransform(raw string) news.TransformOutcome {
	text := strings.TrimSpace(raw)
	if text == "" {
		return news.Skip("empty output")
	}
	if strings.EqualFold(cleanMarker(text), IgnoreSentinel) {
		return news.Skip("oracle answered " + IgnoreSentinel)
	}
	return news.Transformed(text)
}

type replyPayload struct {
	Text   string `json:"text"`
	Action string `json:"action"`
}

// parseReply は返信生成の出力を解釈する
// JSONとして読めない場合は全体を本文として扱う
func parseReply(raw string) *conversation.Content {
	text := strings.TrimSpace(raw)
	if text == "" {
		return nil
	}

	if payload, ok := extractJSON(text); ok {
		var p replyPayload
		if err := json.Unmarshal([]byte(payload), &p); err == nil {
			p.Text = strings.TrimSpace(p.Text)
			p.Action = strings.ToUpper(strings.TrimSpace(p.Action))
			if p.Text == "" || p.Action == IgnoreSentinel {
				return nil
			}
			return &conversation.Content{Text: p.Text, Action: p.Action}
		}
	}

	if strings.EqualFold(cleanMarker(text), IgnoreSentinel) {
		return nil
	}
	return &conversation.Content{Text: text}
}

// extractJSON はコードフェンスを外し、最初の { から最後の } までを返す
func extractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```json")
		s = strings.TrimPrefix(s, "```")
		s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	}
	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start < 0 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}

// startsWithWord は s が word で始まり、直後が英字でないかどうか
func startsWithWord(s, word string) bool {
	if !strings.HasPrefix(s, word) {
		return false
	}
	rest := s[len(word):]
	return rest == "" || !(rest[0] >= 'A' && rest[0] <= 'Z')
}

func firstLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i]
	}
	return s
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
