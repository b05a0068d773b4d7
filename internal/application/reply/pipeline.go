package reply

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/Nyukimin/relayclaw/internal/application/dispatch"
	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/metrics"
)

// ErrOracleTimeout は返信生成がタイムアウトした場合のエラー
var ErrOracleTimeout = errors.New("reply generation timed out")

// Generator は会話状態から返信内容を生成する
// 使える内容がなければ nil を返す
type Generator interface {
	GenerateReply(ctx context.Context, state *conversation.State) (*conversation.Content, error)
}

// Evaluator は受信レコードに対する後処理
type Evaluator interface {
	Evaluate(ctx context.Context, record conversation.Record) error
}

// Presence は既読・入力中表示のインターフェース
type Presence interface {
	MarkRead(ctx context.Context, chatRef string) error
	SetTyping(ctx context.Context, chatRef string) error
}

// Dispatcher はチャンク送信のインターフェース
type Dispatcher interface {
	Dispatch(ctx context.Context, targetRef string, content conversation.Content, replyTo string) ([]dispatch.Delivery, error)
}

// Listener は受信イベントの供給元
type Listener interface {
	Listen(ctx context.Context, handle func(context.Context, conversation.InboundEvent)) error
}

// Config はパイプラインの設定
type Config struct {
	// Namespace はIDの名前空間に使うプラットフォーム接頭辞（例: "tg"）
	Namespace     string
	Source        string
	Agent         conversation.AgentProfile
	HistoryLimit  int
	OracleTimeout time.Duration
}

// Pipeline は受信メッセージ1件ごとに返信の要否を判断し、返信を送信する
type Pipeline struct {
	cfg        Config
	self       transport.Account
	agentID    identity.CorrelationID
	store      conversation.Store
	generator  Generator
	presence   Presence
	dispatcher Dispatcher
	evaluators []Evaluator
	locks      *roomLocks
	wg         sync.WaitGroup
	logger     zerolog.Logger
}

// NewPipeline は新しいPipelineを作成
func NewPipeline(
	cfg Config,
	self transport.Account,
	store conversation.Store,
	generator Generator,
	presence Presence,
	dispatcher Dispatcher,
	evaluators []Evaluator,
	logger zerolog.Logger,
) (*Pipeline, error) {
	if cfg.Namespace == "" {
		return nil, fmt.Errorf("reply pipeline: %w", identity.ErrEmptyNamespace)
	}
	agentID, err := identity.Correlate(identity.Namespace(cfg.Namespace, identity.KindUser), self.Ref)
	if err != nil {
		return nil, fmt.Errorf("derive agent id: %w", err)
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = 20
	}
	if cfg.OracleTimeout <= 0 {
		cfg.OracleTimeout = 60 * time.Second
	}
	if cfg.Agent.Username == "" {
		cfg.Agent.Username = self.Username
	}
	if cfg.Agent.Name == "" {
		cfg.Agent.Name = self.DisplayName()
	}

	return &Pipeline{
		cfg:        cfg,
		self:       self,
		agentID:    agentID,
		store:      store,
		generator:  generator,
		presence:   presence,
		dispatcher: dispatcher,
		evaluators: evaluators,
		locks:      newRoomLocks(),
		logger:     logger.With().Str("component", "reply").Logger(),
	}, nil
}

// AgentID はエージェントのCorrelationIDを返す
func (p *Pipeline) AgentID() identity.CorrelationID {
	return p.agentID
}

// ids は1イベントから導出されるID群
type ids struct {
	user    identity.CorrelationID
	room    identity.CorrelationID
	message identity.CorrelationID
	replyTo *identity.CorrelationID
}

func (p *Pipeline) correlate(ev conversation.InboundEvent) (ids, error) {
	ns := p.cfg.Namespace
	agent := p.agentID.String()

	user, err := identity.Correlate(identity.Namespace(ns, identity.KindUser), ev.SenderRef)
	if err != nil {
		return ids{}, fmt.Errorf("correlate sender: %w", err)
	}
	room, err := identity.Correlate(identity.Namespace(ns, identity.KindRoom), ev.ChatRef, agent)
	if err != nil {
		return ids{}, fmt.Errorf("correlate room: %w", err)
	}
	message, err := p.messageID(room, ev.ExternalMessageID)
	if err != nil {
		return ids{}, fmt.Errorf("correlate message: %w", err)
	}

	out := ids{user: user, room: room, message: message}
	if ev.ReplyTo != nil && ev.ReplyTo.ExternalID != "" {
		replyTo, err := p.messageID(room, ev.ReplyTo.ExternalID)
		if err != nil {
			return ids{}, fmt.Errorf("correlate reply target: %w", err)
		}
		out.replyTo = &replyTo
	}
	return out, nil
}

func (p *Pipeline) messageID(room identity.CorrelationID, externalID string) (identity.CorrelationID, error) {
	return identity.Correlate(
		identity.Namespace(p.cfg.Namespace, identity.KindMessage),
		room.String(), externalID, p.agentID.String(),
	)
}

// Handle はイベント1件を処理する
func (p *Pipeline) Handle(ctx context.Context, ev conversation.InboundEvent) error {
	// 1. フィルタ
	if !Accept(ev, p.self) {
		metrics.EventsReceived.WithLabelValues(p.cfg.Source, "filtered").Inc()
		return nil
	}
	metrics.EventsReceived.WithLabelValues(p.cfg.Source, "accepted").Inc()

	// 2. ID導出
	eventIDs, err := p.correlate(ev)
	if err != nil {
		return err
	}

	// 3. 受信レコードを保存（失敗しても続行）
	inbound, err := conversation.NewRecord(
		eventIDs.message, p.agentID, eventIDs.user, eventIDs.room,
		conversation.Content{Text: ev.Text, InReplyTo: eventIDs.replyTo, Source: p.cfg.Source},
		eventTime(ev),
	)
	if err != nil {
		return fmt.Errorf("build inbound record: %w", err)
	}
	p.persist(ctx, inbound)

	// 4. 判断 → 5. 生成 → 6. 送信
	var respondErr error
	if ShouldRespond(ev, p.self) {
		respondErr = p.respond(ctx, ev, eventIDs, inbound)
	}

	// 7. 後処理（判断結果に関わらず実行）
	p.evaluate(ctx, inbound)

	return respondErr
}

func (p *Pipeline) respond(ctx context.Context, ev conversation.InboundEvent, eventIDs ids, inbound conversation.Record) error {
	logger := p.logger.With().Str("chat", ev.ChatRef).Str("message", ev.ExternalMessageID).Logger()

	if p.presence != nil {
		if err := p.presence.MarkRead(ctx, ev.ChatRef); err != nil && !errors.Is(err, transport.ErrNotSupported) {
			logger.Warn().Err(err).Msg("mark read failed")
		}
		if err := p.presence.SetTyping(ctx, ev.ChatRef); err != nil && !errors.Is(err, transport.ErrNotSupported) {
			logger.Warn().Err(err).Msg("typing indicator failed")
		}
	}

	history, err := p.store.ListRecords(ctx, conversation.Query{
		AgentID: p.agentID,
		RoomID:  eventIDs.room,
		Limit:   p.cfg.HistoryLimit,
	})
	if err != nil {
		logger.Warn().Err(err).Msg("load room history failed")
		history = nil
	}
	state := conversation.NewState(p.cfg.Agent, ev.ChatTitle, senderName(ev), history, inbound)

	content, err := p.generate(ctx, state)
	if err != nil {
		return err
	}
	if content.IsEmpty() {
		logger.Debug().Msg("generator returned no content")
		return nil
	}

	replyTo := ev.ExternalMessageID
	if ev.IsDirect() {
		replyTo = ""
	}

	deliveries, dispatchErr := p.dispatcher.Dispatch(ctx, ev.ChatRef, *content, replyTo)
	p.recordDeliveries(ctx, eventIDs, inbound, *content, deliveries, dispatchErr == nil)
	if dispatchErr != nil {
		return fmt.Errorf("dispatch reply: %w", dispatchErr)
	}

	metrics.RepliesSent.WithLabelValues(p.cfg.Source).Inc()
	logger.Info().Int("chunks", len(deliveries)).Msg("reply sent")
	return nil
}

func (p *Pipeline) generate(ctx context.Context, state *conversation.State) (*conversation.Content, error) {
	gctx, cancel := context.WithTimeout(ctx, p.cfg.OracleTimeout)
	defer cancel()

	start := time.Now()
	content, err := p.generator.GenerateReply(gctx, state)
	metrics.OracleLatency.WithLabelValues("reply").Observe(time.Since(start).Seconds())
	if err != nil {
		metrics.OracleFailures.WithLabelValues("reply").Inc()
		if errors.Is(gctx.Err(), context.DeadlineExceeded) {
			return nil, fmt.Errorf("%w: %v", ErrOracleTimeout, err)
		}
		return nil, fmt.Errorf("generate reply: %w", err)
	}
	return content, nil
}

// recordDeliveries は送信した各メッセージのレコードを保存する
// 最後以外は CONTINUE とし、完全に送信できた場合のみ最後に生成されたアクションを付ける
func (p *Pipeline) recordDeliveries(ctx context.Context, eventIDs ids, inbound conversation.Record, content conversation.Content, deliveries []dispatch.Delivery, complete bool) {
	inReplyTo := inbound.ID
	for i, d := range deliveries {
		action := conversation.ActionContinue
		if i == len(deliveries)-1 {
			action = ""
			if complete {
				action = content.Action
			}
		}

		id, err := p.messageID(eventIDs.room, d.Sent.ExternalID)
		if err != nil {
			p.logger.Warn().Err(err).Msg("sent message has no id, record skipped")
			continue
		}

		c := conversation.Content{
			Text:      d.Raw,
			InReplyTo: &inReplyTo,
			Source:    p.cfg.Source,
			Action:    action,
		}
		if d.Attachment != nil {
			c.Attachments = []conversation.Attachment{*d.Attachment}
		}

		createdAt := time.Now()
		if d.Sent.TimestampSeconds > 0 {
			createdAt = time.Unix(d.Sent.TimestampSeconds, 0)
		}
		rec, err := conversation.NewRecord(id, p.agentID, p.agentID, eventIDs.room, c, createdAt)
		if err != nil {
			p.logger.Warn().Err(err).Msg("build outbound record failed")
			continue
		}
		p.persist(ctx, rec)
	}
}

func (p *Pipeline) persist(ctx context.Context, rec conversation.Record) {
	if err := p.store.CreateRecord(ctx, rec); err != nil {
		metrics.RecordPersistFailures.Inc()
		p.logger.Error().Err(err).Str("record", rec.ID.String()).Msg("persist record failed")
	}
}

func (p *Pipeline) evaluate(ctx context.Context, rec conversation.Record) {
	for _, e := range p.evaluators {
		if err := e.Evaluate(ctx, rec); err != nil {
			p.logger.Warn().Err(err).Str("record", rec.ID.String()).Msg("evaluator failed")
		}
	}
}

// Process はパイプラインの境界。エラーとパニックをログに残し、呼び出し元には伝えない
func (p *Pipeline) Process(ctx context.Context, ev conversation.InboundEvent) {
	defer func() {
		if r := recover(); r != nil {
			metrics.ReplyFailures.WithLabelValues(p.cfg.Source).Inc()
			p.logger.Error().Interface("panic", r).Str("chat", ev.ChatRef).Msg("reply pipeline panicked")
		}
	}()

	if err := p.Handle(ctx, ev); err != nil {
		metrics.ReplyFailures.WithLabelValues(p.cfg.Source).Inc()
		p.logger.Error().Err(err).
			Str("chat", ev.ChatRef).
			Str("message", ev.ExternalMessageID).
			Msg("reply pipeline failed")
	}
}

// Submit はイベントを非同期に処理する。同じルームのイベントは同時には処理しない
func (p *Pipeline) Submit(ctx context.Context, ev conversation.InboundEvent) {
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		unlock := p.locks.lock(ev.ChatRef)
		defer unlock()
		p.Process(ctx, ev)
	}()
}

// Serve はリスナーからのイベントを処理し、リスナー終了後に処理中のイベントを待つ
func (p *Pipeline) Serve(ctx context.Context, listener Listener) error {
	err := listener.Listen(ctx, p.Submit)
	p.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		return fmt.Errorf("listen: %w", err)
	}
	return nil
}

// Wait は処理中のイベントの完了を待つ
func (p *Pipeline) Wait() {
	p.wg.Wait()
}

func eventTime(ev conversation.InboundEvent) time.Time {
	if ev.TimestampSeconds > 0 {
		return time.Unix(ev.TimestampSeconds, 0)
	}
	return time.Now()
}

func senderName(ev conversation.InboundEvent) string {
	if ev.SenderName != "" {
		return ev.SenderName
	}
	return ev.SenderUsername
}
