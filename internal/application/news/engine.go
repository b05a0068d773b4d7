package news

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/adhocore/gronx"
	"github.com/oklog/ulid/v2"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/Nyukimin/relayclaw/internal/domain/chunk"
	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	newsdomain "github.com/Nyukimin/relayclaw/internal/domain/news"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/metrics"
)

// Transport はニュースエンジンが使うトランスポート操作
type Transport interface {
	GetDialogs(ctx context.Context) ([]transport.Dialog, error)
	GetMessages(ctx context.Context, channelRef string, limit int) ([]transport.Message, error)
	SendMessage(ctx context.Context, targetRef string, req transport.SendRequest) (transport.SentMessage, error)
}

// Classifier は候補が履歴に含まれているかを判定する
type Classifier interface {
	ClassifyNovelty(ctx context.Context, candidate newsdomain.Candidate, history []string) (newsdomain.NoveltyVerdict, error)
}

// Transformer は候補を転載用に翻訳・要約する
type Transformer interface {
	TransformForRepost(ctx context.Context, candidate newsdomain.Candidate) (newsdomain.TransformOutcome, error)
}

// Qualifier は候補がニュースかどうかを判定する
type Qualifier interface {
	QualifyNews(ctx context.Context, candidate newsdomain.Candidate) (bool, string, error)
}

// WatchStore は既読IDの永続化
type WatchStore interface {
	Load(ctx context.Context) (map[string]string, error)
	Save(ctx context.Context, lastSeen map[string]string) error
}

// OutcomeSink は候補ごとの結果を受け取る
type OutcomeSink interface {
	PublishOutcome(ctx context.Context, outcome newsdomain.Outcome) error
}

// Config はニュースエンジンの設定
type Config struct {
	Namespace            string
	TargetName           string
	SourceNames          []string
	Interval             time.Duration
	HistoryWindow        time.Duration
	HistoryLimit         int
	MaxConcurrentFetches int
	OracleTimeout        time.Duration
	// ActiveSchedule は cron 式。空でなければ一致する時間帯だけティックを実行する
	ActiveSchedule   string
	RequireNewsCheck bool
	// MaxMessageLength を超える転載文は分割して送信する
	MaxMessageLength int
}

func (c *Config) setDefaults() {
	if c.Interval <= 0 {
		c.Interval = 5 * time.Second
	}
	if c.HistoryWindow <= 0 {
		c.HistoryWindow = 24 * time.Hour
	}
	if c.HistoryLimit <= 0 {
		c.HistoryLimit = 100
	}
	if c.MaxConcurrentFetches <= 0 {
		c.MaxConcurrentFetches = 4
	}
	if c.OracleTimeout <= 0 {
		c.OracleTimeout = 60 * time.Second
	}
	if c.MaxMessageLength <= 0 {
		c.MaxMessageLength = chunk.DefaultMaxLength
	}
}

// Deps はエンジンの依存
type Deps struct {
	Transport   Transport
	Store       conversation.Store
	Classifier  Classifier
	Transformer Transformer
	Qualifier   Qualifier
	State       *newsdomain.WatchState
	WatchStore  WatchStore
	Sinks       []OutcomeSink
	Logger      zerolog.Logger
	Now         func() time.Time
}

// TickReport は1ティックの集計
type TickReport struct {
	ID         string
	Skipped    string
	Fetched    int
	Failed     int
	Candidates int
	Published  int
	Suppressed int
}

// Engine は監視チャンネルをポーリングし、新規ニュースを転載先へ再投稿する
type Engine struct {
	cfg         Config
	agentID     identity.CorrelationID
	transport   Transport
	store       conversation.Store
	classifier  Classifier
	transformer Transformer
	qualifier   Qualifier
	state       *newsdomain.WatchState
	watchStore  WatchStore
	sinks       []OutcomeSink
	logger      zerolog.Logger
	now         func() time.Time
	isDue       func(expr string, ref ...time.Time) (bool, error)

	mu        sync.RWMutex
	targetRef string
	missing   []string

	running     atomic.Bool
	resolveErrs atomic.Int64
	wg          sync.WaitGroup
}

// NewEngine は新しいEngineを作成
func NewEngine(cfg Config, agentID identity.CorrelationID, deps Deps) (*Engine, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("news engine: %w", identity.ErrEmptyNamespace)
	}
	if agentID.IsZero() {
		return nil, errors.New("news engine: agent id is required")
	}
	if deps.Transport == nil || deps.Store == nil || deps.Classifier == nil || deps.Transformer == nil {
		return nil, errors.New("news engine: transport, store, classifier and transformer are required")
	}
	if cfg.RequireNewsCheck && deps.Qualifier == nil {
		return nil, errors.New("news engine: news check requires a qualifier")
	}

	gron := gronx.New()
	if cfg.ActiveSchedule != "" && !gron.IsValid(cfg.ActiveSchedule) {
		return nil, fmt.Errorf("news engine: invalid active schedule %q", cfg.ActiveSchedule)
	}
	cfg.setDefaults()

	if deps.State == nil {
		deps.State = newsdomain.NewWatchState()
	}
	if deps.Now == nil {
		deps.Now = time.Now
	}

	return &Engine{
		cfg:         cfg,
		agentID:     agentID,
		transport:   deps.Transport,
		store:       deps.Store,
		classifier:  deps.Classifier,
		transformer: deps.Transformer,
		qualifier:   deps.Qualifier,
		state:       deps.State,
		watchStore:  deps.WatchStore,
		sinks:       deps.Sinks,
		logger:      deps.Logger.With().Str("component", "news").Logger(),
		now:         deps.Now,
		isDue:       gron.IsDue,
	}, nil
}

// TargetRef は解決済みの転載先チャンネルを返す
func (e *Engine) TargetRef() (string, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.targetRef, e.targetRef != ""
}

// Ready は転載先と監視対象が解決済みかどうか
func (e *Engine) Ready() bool {
	_, ok := e.TargetRef()
	return ok && e.state.Len() > 0
}

// Unresolved はまだ見つかっていないソースチャンネル名を返す
func (e *Engine) Unresolved() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return append([]string(nil), e.missing...)
}

// Watches は監視チャンネルのスナップショットを返す
func (e *Engine) Watches() []newsdomain.ChannelWatch {
	return e.state.Watches()
}

// Resolve は表示名から転載先と監視チャンネルを解決する
func (e *Engine) Resolve(ctx context.Context) error {
	dialogs, err := e.transport.GetDialogs(ctx)
	if err != nil {
		return fmt.Errorf("get dialogs: %w", err)
	}

	byName := make(map[string]transport.Dialog, len(dialogs))
	for _, d := range dialogs {
		name := strings.TrimSpace(d.DisplayName)
		if prev, ok := byName[name]; ok && prev.IsChannel && !d.IsChannel {
			continue
		}
		byName[name] = d
	}

	target, ok := byName[strings.TrimSpace(e.cfg.TargetName)]
	if !ok {
		return fmt.Errorf("%w: %q", newsdomain.ErrTargetUnresolved, e.cfg.TargetName)
	}

	_, resolvedBefore := e.TargetRef()
	watchedBefore := e.state.Len()
	var missing []string
	for _, name := range e.cfg.SourceNames {
		d, ok := byName[strings.TrimSpace(name)]
		if !ok {
			missing = append(missing, name)
			event := e.logger.Warn()
			if resolvedBefore {
				event = e.logger.Debug()
			}
			event.Str("source", name).Msg("source channel not found")
			continue
		}
		if d.Ref == target.Ref {
			e.logger.Warn().Str("source", name).Msg("source channel is the target, skipped")
			continue
		}
		e.state.Watch(d.Ref, d.DisplayName)
	}

	if e.watchStore != nil {
		lastSeen, err := e.watchStore.Load(ctx)
		if err != nil {
			e.logger.Warn().Err(err).Msg("restore last seen ids failed")
		} else {
			e.state.Load(lastSeen)
		}
	}

	e.mu.Lock()
	e.targetRef = target.Ref
	e.missing = missing
	e.mu.Unlock()

	if e.state.Len() == 0 {
		return newsdomain.ErrNoSources
	}

	event := e.logger.Info()
	if resolvedBefore && e.state.Len() == watchedBefore {
		event = e.logger.Debug()
	}
	event.
		Str("target", target.DisplayName).
		Int("sources", e.state.Len()).
		Strs("missing", missing).
		Msg("news channels resolved")
	return nil
}

// Run は一定間隔でティックを実行する。ctx がキャンセルされるまで戻らない
func (e *Engine) Run(ctx context.Context) error {
	e.resolve(ctx)

	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.wg.Wait()
			return nil
		case <-ticker.C:
			e.trigger(ctx)
		}
	}
}

// resolve は未解決の転載先・ソースがあれば解決を試みる。失敗はログに残し、エンジンは待機する
// 一部のソースが見つかっていない間は毎ティック解決し直す（既存の既読IDは保持される）
func (e *Engine) resolve(ctx context.Context) bool {
	if e.Ready() && len(e.Unresolved()) == 0 {
		return true
	}

	err := e.Resolve(ctx)
	if err == nil {
		e.resolveErrs.Store(0)
		return true
	}
	if e.Ready() {
		e.logger.Debug().Err(err).Msg("re-resolve failed, keeping current watches")
		return true
	}

	// 失敗が続く間は最初の1回だけ目立つレベルで記録する
	event := e.logger.Debug()
	if e.resolveErrs.Add(1) == 1 {
		event = e.logger.Error()
		if errors.Is(err, newsdomain.ErrNoSources) {
			event = e.logger.Warn()
		}
	}
	event.Err(err).Msg("news engine idle")
	return false
}

// trigger は前のティックが実行中ならスキップし、そうでなければ非同期にティックを開始する
func (e *Engine) trigger(ctx context.Context) {
	if !e.running.CompareAndSwap(false, true) {
		metrics.Ticks.WithLabelValues("overlap").Inc()
		e.logger.Debug().Msg("previous tick still running, skipped")
		return
	}

	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		defer e.running.Store(false)
		defer func() {
			if r := recover(); r != nil {
				metrics.Ticks.WithLabelValues("panic").Inc()
				e.logger.Error().Interface("panic", r).Msg("news tick panicked")
			}
		}()

		if !e.resolve(ctx) {
			metrics.Ticks.WithLabelValues("idle").Inc()
			return
		}
		e.Tick(ctx)
	}()
}

type fetchResult struct {
	watch    newsdomain.ChannelWatch
	messages []transport.Message
	err      error
}

// Tick は全監視チャンネルから最新1件を取得し、新着を処理する
func (e *Engine) Tick(ctx context.Context) TickReport {
	report := TickReport{ID: ulid.Make().String()}
	logger := e.logger.With().Str("tick", report.ID).Logger()

	if e.cfg.ActiveSchedule != "" {
		due, err := e.isDue(e.cfg.ActiveSchedule, e.now())
		if err != nil || !due {
			metrics.Ticks.WithLabelValues(newsdomain.ReasonOutsideSchedule).Inc()
			report.Skipped = newsdomain.ReasonOutsideSchedule
			return report
		}
	}

	targetRef, ok := e.TargetRef()
	if !ok {
		metrics.Ticks.WithLabelValues("idle").Inc()
		report.Skipped = "unresolved"
		return report
	}
	metrics.Ticks.WithLabelValues("run").Inc()

	results := e.fetchAll(ctx, e.state.Watches())

	// 既読IDの更新はこのゴルーチンだけが行う
	var candidates []newsdomain.Candidate
	advanced := false
	for _, r := range results {
		if r.err != nil {
			report.Failed++
			metrics.FetchFailures.Inc()
			logger.Warn().Err(r.err).Str("channel", r.watch.DisplayName).Msg("fetch failed")
			continue
		}
		report.Fetched++
		if len(r.messages) == 0 {
			continue
		}

		latest := r.messages[0]
		if !e.state.Advance(r.watch.ChannelRef, latest.ExternalID) {
			continue
		}
		advanced = true
		r.watch.LastSeen = latest.ExternalID

		if strings.TrimSpace(latest.Text) == "" {
			logger.Debug().Str("channel", r.watch.DisplayName).Str("message", latest.ExternalID).Msg("message without text consumed")
			continue
		}
		candidates = append(candidates, newsdomain.Candidate{Channel: r.watch, Message: latest})
	}

	if advanced && e.watchStore != nil {
		if err := e.watchStore.Save(ctx, e.state.Snapshot()); err != nil {
			logger.Warn().Err(err).Msg("persist last seen ids failed")
		}
	}

	report.Candidates = len(candidates)
	metrics.Candidates.Add(float64(len(candidates)))

	for _, c := range candidates {
		outcome := e.safeProcess(ctx, logger, report.ID, targetRef, c)
		if outcome.Result.IsPublished() {
			report.Published++
		} else {
			report.Suppressed++
		}
		e.emit(ctx, logger, outcome)
	}

	if report.Candidates > 0 || report.Failed > 0 {
		logger.Info().
			Int("fetched", report.Fetched).
			Int("failed", report.Failed).
			Int("candidates", report.Candidates).
			Int("published", report.Published).
			Int("suppressed", report.Suppressed).
			Msg("tick done")
	}
	return report
}

func (e *Engine) fetchAll(ctx context.Context, watches []newsdomain.ChannelWatch) []fetchResult {
	results := make([]fetchResult, len(watches))

	var g errgroup.Group
	g.SetLimit(e.cfg.MaxConcurrentFetches)
	for i, w := range watches {
		g.Go(func() error {
			defer func() {
				if r := recover(); r != nil {
					results[i] = fetchResult{watch: w, err: fmt.Errorf("fetch %s: panic: %v", w.ChannelRef, r)}
				}
			}()
			msgs, err := e.transport.GetMessages(ctx, w.ChannelRef, 1)
			if err != nil {
				err = fmt.Errorf("fetch %s: %w", w.ChannelRef, err)
			}
			results[i] = fetchResult{watch: w, messages: msgs, err: err}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

// safeProcess は候補1件の境界。パニックは抑制扱いにしてログに残す
func (e *Engine) safeProcess(ctx context.Context, logger zerolog.Logger, tickID, targetRef string, c newsdomain.Candidate) (outcome newsdomain.Outcome) {
	defer func() {
		if r := recover(); r != nil {
			outcome = newsdomain.Outcome{TickID: tickID, Candidate: c, At: e.now(), Result: newsdomain.Suppressed(newsdomain.ReasonInternalError)}
			metrics.Reposts.WithLabelValues("suppressed", newsdomain.ReasonInternalError).Inc()
			logger.Error().
				Interface("panic", r).
				Str("channel", c.Channel.DisplayName).
				Str("message", c.Message.ExternalID).
				Msg("candidate processing panicked")
		}
	}()
	return e.process(ctx, logger, tickID, targetRef, c)
}

// process は候補1件を判定・変換・転載する
func (e *Engine) process(ctx context.Context, logger zerolog.Logger, tickID, targetRef string, c newsdomain.Candidate) newsdomain.Outcome {
	outcome := newsdomain.Outcome{TickID: tickID, Candidate: c, At: e.now()}
	logger = logger.With().Str("channel", c.Channel.DisplayName).Str("message", c.Message.ExternalID).Logger()

	suppress := func(reason string, err error) newsdomain.Outcome {
		outcome.Result = newsdomain.Suppressed(reason)
		metrics.Reposts.WithLabelValues("suppressed", reason).Inc()
		event := logger.Info()
		if err != nil {
			event = logger.Warn().Err(err)
		}
		event.Str("reason", reason).Msg("candidate suppressed")
		return outcome
	}

	if e.cfg.RequireNewsCheck {
		isNews, why, err := e.qualify(ctx, c)
		if err != nil {
			return suppress(newsdomain.ReasonOracleFailure, err)
		}
		if !isNews {
			logger.Debug().Str("why", why).Msg("not news")
			return suppress(newsdomain.ReasonNotNews, nil)
		}
	}

	history, err := e.history(ctx, targetRef)
	if err != nil {
		return suppress(newsdomain.ReasonHistoryFailure, err)
	}

	outcome.Verdict = e.classify(ctx, logger, c, history)
	if !outcome.Verdict.IsNovel() {
		logger.Debug().Str("why", outcome.Verdict.Reason()).Msg("already processed")
		return suppress(newsdomain.ReasonDuplicate, nil)
	}

	transformed, err := e.transform(ctx, c)
	if err != nil {
		return suppress(newsdomain.ReasonOracleFailure, err)
	}
	if transformed.IsSkip() {
		logger.Debug().Str("why", transformed.Reason()).Msg("transform skipped")
		return suppress(newsdomain.ReasonTransformSkip, nil)
	}

	sent, err := e.publish(ctx, logger, targetRef, transformed.Text())
	if err != nil {
		return suppress(newsdomain.ReasonSendFailure, err)
	}

	outcome.Result = newsdomain.Published(sent.ExternalID)
	metrics.Reposts.WithLabelValues("published", "").Inc()
	logger.Info().Str("target_message", sent.ExternalID).Msg("news reposted")

	if id, err := e.recordOriginal(ctx, c); err != nil {
		metrics.RecordPersistFailures.Inc()
		logger.Error().Err(err).Msg("record original failed")
	} else {
		outcome.RecordID = id.String()
	}
	return outcome
}

// publish は転載文を上限長ごとに分割して順に送信し、最初の送信を返す
// 2件目以降の失敗は転載済みとして扱い、ログに残す
func (e *Engine) publish(ctx context.Context, logger zerolog.Logger, targetRef, text string) (transport.SentMessage, error) {
	parts, err := chunk.Split(text, e.cfg.MaxMessageLength)
	if err != nil {
		return transport.SentMessage{}, fmt.Errorf("split repost: %w", err)
	}
	if len(parts) == 0 {
		return transport.SentMessage{}, errors.New("split repost: empty text")
	}

	var first transport.SentMessage
	for i, part := range parts {
		sent, err := e.transport.SendMessage(ctx, targetRef, transport.SendRequest{Text: part})
		if err != nil {
			if i == 0 {
				return transport.SentMessage{}, fmt.Errorf("send to %s: %w", targetRef, err)
			}
			logger.Warn().Err(err).Int("part", i+1).Int("parts", len(parts)).Msg("repost truncated")
			break
		}
		if i == 0 {
			first = sent
		}
	}
	return first, nil
}

// history は転載先の直近の投稿と記録済みの元テキストを正規化して返す
func (e *Engine) history(ctx context.Context, targetRef string) ([]string, error) {
	since := e.now().Add(-e.cfg.HistoryWindow)

	msgs, err := e.transport.GetMessages(ctx, targetRef, e.cfg.HistoryLimit)
	if err != nil {
		return nil, fmt.Errorf("fetch target history: %w", err)
	}

	seen := make(map[string]bool)
	var out []string
	add := func(text string) {
		norm := newsdomain.Normalize(text)
		if norm == "" || seen[norm] {
			return
		}
		seen[norm] = true
		out = append(out, norm)
	}

	for _, m := range msgs {
		if m.TimestampSeconds > 0 && m.TimestampSeconds < since.Unix() {
			continue
		}
		add(m.Text)
	}

	records, err := e.store.ListRecords(ctx, conversation.Query{
		AgentID: e.agentID,
		Source:  conversation.SourceNews,
		Since:   since,
		Limit:   e.cfg.HistoryLimit,
	})
	if err != nil {
		e.logger.Warn().Err(err).Msg("recorded news unavailable, using target history only")
	}
	for _, r := range records {
		add(r.Content.Text)
	}
	return out, nil
}

// classify は新規性を判定する。判定できない場合は処理済みとみなす
func (e *Engine) classify(ctx context.Context, logger zerolog.Logger, c newsdomain.Candidate, history []string) newsdomain.NoveltyVerdict {
	if len(history) == 0 {
		return newsdomain.Novel()
	}

	norm := c.NormalizedText()
	for _, h := range history {
		if h == norm {
			return newsdomain.AlreadyProcessed("identical text in history")
		}
	}

	verdict, err := withTimeout(ctx, e.cfg.OracleTimeout, "classify", func(ctx context.Context) (newsdomain.NoveltyVerdict, error) {
		return e.classifier.ClassifyNovelty(ctx, c, history)
	})
	if err != nil {
		logger.Warn().Err(err).Msg("novelty check failed")
		return newsdomain.AlreadyProcessed("novelty check failed")
	}
	return verdict
}

func (e *Engine) transform(ctx context.Context, c newsdomain.Candidate) (newsdomain.TransformOutcome, error) {
	return withTimeout(ctx, e.cfg.OracleTimeout, "transform", func(ctx context.Context) (newsdomain.TransformOutcome, error) {
		return e.transformer.TransformForRepost(ctx, c)
	})
}

type qualification struct {
	isNews bool
	why    string
}

func (e *Engine) qualify(ctx context.Context, c newsdomain.Candidate) (bool, string, error) {
	q, err := withTimeout(ctx, e.cfg.OracleTimeout, "qualify", func(ctx context.Context) (qualification, error) {
		ok, why, err := e.qualifier.QualifyNews(ctx, c)
		return qualification{isNews: ok, why: why}, err
	})
	return q.isNews, q.why, err
}

// recordOriginal は元の候補テキストをレコードとして保存する
func (e *Engine) recordOriginal(ctx context.Context, c newsdomain.Candidate) (identity.CorrelationID, error) {
	ns := e.cfg.Namespace
	agent := e.agentID.String()

	room, err := identity.Correlate(identity.Namespace(ns, identity.KindRoom), c.Channel.ChannelRef, agent)
	if err != nil {
		return identity.CorrelationID{}, err
	}
	id, err := identity.Correlate(identity.Namespace(ns, identity.KindMessage), room.String(), c.Message.ExternalID, agent)
	if err != nil {
		return identity.CorrelationID{}, err
	}
	senderRef := c.Message.SenderRef
	if senderRef == "" {
		senderRef = c.Channel.ChannelRef
	}
	user, err := identity.Correlate(identity.Namespace(ns, identity.KindUser), senderRef)
	if err != nil {
		return identity.CorrelationID{}, err
	}

	createdAt := e.now()
	if c.Message.TimestampSeconds > 0 {
		createdAt = time.Unix(c.Message.TimestampSeconds, 0)
	}
	rec, err := conversation.NewRecord(id, e.agentID, user, room, conversation.Content{
		Text:   c.Message.Text,
		Source: conversation.SourceNews,
	}, createdAt)
	if err != nil {
		return identity.CorrelationID{}, err
	}
	if err := e.store.CreateRecord(ctx, rec); err != nil {
		return identity.CorrelationID{}, fmt.Errorf("create record %s: %w", id, err)
	}
	return id, nil
}

func (e *Engine) emit(ctx context.Context, logger zerolog.Logger, outcome newsdomain.Outcome) {
	for _, sink := range e.sinks {
		if err := sink.PublishOutcome(ctx, outcome); err != nil {
			logger.Warn().Err(err).Msg("publish outcome failed")
		}
	}
}

// withTimeout はオラクル呼び出しをタイムアウト付きで実行する
func withTimeout[T any](ctx context.Context, timeout time.Duration, op string, call func(context.Context) (T, error)) (T, error) {
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	start := time.Now()
	result, err := call(cctx)
	metrics.OracleLatency.WithLabelValues(op).Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleFailures.WithLabelValues(op).Inc()
		if errors.Is(cctx.Err(), context.DeadlineExceeded) {
			var zero T
			return zero, fmt.Errorf("%s: %w", op, newsdomain.ErrOracleTimeout)
		}
		return result, fmt.Errorf("%s: %w", op, err)
	}
	return result, nil
}
