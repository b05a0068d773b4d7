package news

import (
	"errors"
	"regexp"
	"strings"
	"time"

	"github.com/Nyukimin/relayclaw/internal/domain/transport"
)

var (
	// ErrTargetUnresolved は転載先チャンネルが表示名で見つからない場合のエラー
	ErrTargetUnresolved = errors.New("news target channel unresolved")
	// ErrNoSources は監視対象のソースチャンネルがない場合のエラー
	ErrNoSources = errors.New("no news source channels resolved")
	// ErrOracleTimeout はオラクル呼び出しがタイムアウトした場合のエラー
	ErrOracleTimeout = errors.New("oracle call timed out")
	// ErrAmbiguousVerdict はオラクル出力を判定できない場合のエラー
	ErrAmbiguousVerdict = errors.New("ambiguous oracle verdict")
)

// Candidate は新着として取り出されたソースメッセージ
type Candidate struct {
	Channel ChannelWatch
	Message transport.Message
}

// NormalizedText は正規化済みの本文を返す
func (c Candidate) NormalizedText() string {
	return Normalize(c.Message.Text)
}

var whitespaceRun = regexp.MustCompile(`\s+`)

// Normalize は前後の空白を除き、連続する空白を1つにまとめる
func Normalize(text string) string {
	return whitespaceRun.ReplaceAllString(strings.TrimSpace(text), " ")
}

// NoveltyVerdict は候補の新規性判定結果
type NoveltyVerdict struct {
	novel  bool
	reason string
}

// Novel は新規の判定を作成
func Novel() NoveltyVerdict {
	return NoveltyVerdict{novel: true}
}

// AlreadyProcessed は処理済みの判定を作成
func AlreadyProcessed(reason string) NoveltyVerdict {
	return NoveltyVerdict{reason: reason}
}

// IsNovel は新規かどうか
func (v NoveltyVerdict) IsNovel() bool {
	return v.novel
}

// Reason は処理済みと判定した理由を返す
func (v NoveltyVerdict) Reason() string {
	return v.reason
}

// String は判定の文字列表現を返す
func (v NoveltyVerdict) String() string {
	if v.novel {
		return "novel"
	}
	return "already_processed: " + v.reason
}

// RepostOutcome は転載の結果
type RepostOutcome struct {
	published bool
	targetRef string
	reason    string
}

// Published は転載成功の結果を作成
func Published(targetMessageRef string) RepostOutcome {
	return RepostOutcome{published: true, targetRef: targetMessageRef}
}

// Suppressed は転載抑止の結果を作成
func Suppressed(reason string) RepostOutcome {
	return RepostOutcome{reason: reason}
}

// IsPublished は転載されたかどうか
func (o RepostOutcome) IsPublished() bool {
	return o.published
}

// TargetMessageRef は転載先メッセージIDを返す
func (o RepostOutcome) TargetMessageRef() string {
	return o.targetRef
}

// Reason は抑止理由を返す
func (o RepostOutcome) Reason() string {
	return o.reason
}

// TransformOutcome は変換オラクルの結果
type TransformOutcome struct {
	text   string
	skip   bool
	reason string
}

// Transformed は変換後テキストの結果を作成
func Transformed(text string) TransformOutcome {
	return TransformOutcome{text: text}
}

// Skip は変換不可の結果を作成
func Skip(reason string) TransformOutcome {
	return TransformOutcome{skip: true, reason: reason}
}

// Text は変換後テキストを返す
func (o TransformOutcome) Text() string {
	return o.text
}

// IsSkip は変換不可かどうか
func (o TransformOutcome) IsSkip() bool {
	return o.skip || strings.TrimSpace(o.text) == ""
}

// Reason は変換不可の理由を返す
func (o TransformOutcome) Reason() string {
	if o.reason == "" && o.IsSkip() {
		return "empty transform output"
	}
	return o.reason
}

// 転載抑止の理由
const (
	ReasonDuplicate       = "duplicate"
	ReasonNotNews         = "not_news"
	ReasonTransformSkip   = "transform_skipped"
	ReasonOracleFailure   = "oracle_failure"
	ReasonHistoryFailure  = "history_unavailable"
	ReasonSendFailure     = "send_failure"
	ReasonOutsideSchedule = "outside_schedule"
	ReasonInternalError   = "internal_error"
)

// Outcome はティック内で処理した1候補の結果
type Outcome struct {
	TickID    string
	Candidate Candidate
	Verdict   NoveltyVerdict
	Result    RepostOutcome
	RecordID  string
	At        time.Time
}
