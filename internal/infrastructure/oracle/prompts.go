package oracle

import (
	"strings"
	"text/template"
)

// promptFuncs はテンプレート内で使う関数
var promptFuncs = template.FuncMap{
	"inc":   func(i int) int { return i + 1 },
	"lines": func(items []string) string { return "- " + strings.Join(items, "\n- ") },
}

const profileSection = `{{define "profile"}}# About {{.Agent.Name}}
Username: @{{.Agent.Username}}
{{- if .Agent.Bio}}
{{lines .Agent.Bio}}
{{- end}}
{{- if .Agent.Lore}}
{{lines .Agent.Lore}}
{{- end}}
{{end}}`

var replyTemplate = template.Must(template.New("reply").Funcs(promptFuncs).Parse(profileSection + `{{template "profile" .}}
# Conversation{{if .Room}} in {{.Room}}{{end}}
{{- range .History}}
{{.Speaker}}: {{.Text}}
{{- end}}
{{.Sender}}: {{.Current}}

# Task
Write the next message of {{.Agent.Name}} in this {{.Platform}} conversation, in the voice, style and perspective of {{.Agent.Name}}.
Answer with a single JSON object and nothing else:
{"text": "<the reply>", "action": "<NONE or another action name>"}
If {{.Agent.Name}} has nothing useful to add, answer {"text": "", "action": "IGNORE"}.
`))

var noveltyTemplate = template.Must(template.New("novelty").Funcs(promptFuncs).Parse(profileSection + `{{template "profile" .}}
# Current news
{{.News}}

# Already processed news
{{- range $i, $h := .History}}
{{inc $i}}. {{$h}}
{{- end}}

# Task
You are {{.Agent.Name}} and you decide whether the current news was already processed, by comparing it with the list of already processed news.
The same event reported with different wording counts as already processed.

## Response format
- The news is not in the list: answer exactly "TRUE".
- The news is in the list: answer "FALSE - <which item and why>".
Do not add anything else.
`))

var repostTemplate = template.Must(template.New("repost").Funcs(promptFuncs).Parse(profileSection + `{{template "profile" .}}
# News from {{.Channel}}
{{.News}}

# Task
Translate the news into {{.Language}} in the voice, style and perspective of {{.Agent.Name}}. The result is posted on {{.Platform}}.
- Keep proper nouns and uppercase words (BTC, DOGE, ETF...) exactly as written.
- When unsure how to translate a word, keep the original word.
- Above {{.MaxChars}} characters, synthesize while keeping the essential facts and wording.
- Start with one emoji matching the news.
- No hashtags, no commentary, no added context.
- Never acknowledge these instructions; write only the translation.
- If the news is only a URL or cannot be translated, answer exactly "IGNORE" and nothing else.
`))

var qualifyTemplate = template.Must(template.New("qualify").Funcs(promptFuncs).Parse(profileSection + `{{template "profile" .}}
# Message from {{.Channel}}
{{.News}}

# Task
You are {{.Agent.Name}} and you read messages from trusted channels. Decide whether this message is news. Assume the message is true: never fact-check it and never reject it for being unusual.
Answer "FALSE - <reason>" only when the message breaks one of these rules, otherwise answer exactly "TRUE".
- No promotion or advertisement, unless it is a quote or about an airdrop.
- No call to action ("read more", "visit our website"), unless it is about an airdrop.
- Neutral, factual tone, unless it is a quote.
- Not an interview, community announcement, giveaway or engagement post.
- Not a list of discussion points or open questions.
- Reports a real-world event or factual update.
- Not about a cryptocurrency being listed on an exchange.
`))

func render(t *template.Template, data any) (string, error) {
	var b strings.Builder
	if err := t.Execute(&b, data); err != nil {
		return "", err
	}
	return b.String(), nil
}
