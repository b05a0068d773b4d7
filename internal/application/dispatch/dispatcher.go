package dispatch

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/time/rate"

	"github.com/Nyukimin/relayclaw/internal/domain/chunk"
	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/transport"
	"github.com/Nyukimin/relayclaw/internal/infrastructure/metrics"
)

// ErrNothingToSend は送信する内容がない場合のエラー
var ErrNothingToSend = errors.New("nothing to send")

// Sender はメッセージ送信のインターフェース
type Sender interface {
	SendMessage(ctx context.Context, targetRef string, req transport.SendRequest) (transport.SentMessage, error)
	SendFile(ctx context.Context, targetRef string, req transport.FileRequest) (transport.SentMessage, error)
}

// Delivery は送信済みの1メッセージ
type Delivery struct {
	Raw        string
	Attachment *conversation.Attachment
	Sent       transport.SentMessage
}

// Options はDispatcherの設定
type Options struct {
	MaxChunkLength int
	// MarkdownV2 が true の場合、各チャンクをエスケープして MarkdownV2 で送信する
	MarkdownV2 bool
	// Limiter は送信ペースを制御する（nil なら制限なし）
	Limiter *rate.Limiter
}

// Dispatcher は1つの論理メッセージをチャンクに分けて順番に送信する
type Dispatcher struct {
	sender  Sender
	maxLen  int
	escape  bool
	limiter *rate.Limiter
}

// NewDispatcher は新しいDispatcherを作成
func NewDispatcher(sender Sender, opts Options) *Dispatcher {
	if opts.MaxChunkLength <= 0 {
		opts.MaxChunkLength = chunk.DefaultMaxLength
	}
	return &Dispatcher{
		sender:  sender,
		maxLen:  opts.MaxChunkLength,
		escape:  opts.MarkdownV2,
		limiter: opts.Limiter,
	}
}

// Dispatch は content を targetRef に送信する
//
// チャンクは元の順序で1件ずつ送信し、前の送信が完了するまで次を送らない。
// replyTo が空でなければ最初の送信だけをスレッド化する。
// 途中で失敗した場合は、それまでに送信できた分とエラーを返す。
func (d *Dispatcher) Dispatch(ctx context.Context, targetRef string, content conversation.Content, replyTo string) ([]Delivery, error) {
	if content.IsEmpty() {
		return nil, ErrNothingToSend
	}

	segments, err := d.segments(content.Text)
	if err != nil {
		return nil, fmt.Errorf("split reply: %w", err)
	}

	deliveries := make([]Delivery, 0, len(segments)+len(content.Attachments))
	threadTo := replyTo

	for i, seg := range segments {
		if err := d.wait(ctx); err != nil {
			return deliveries, err
		}

		req := transport.SendRequest{Text: seg.Raw, ReplyToExternalID: threadTo}
		if d.escape {
			req.Text = seg.Escaped
			req.ParseMode = transport.ParseModeMarkdownV2
		}

		sent, err := d.sender.SendMessage(ctx, targetRef, req)
		if err != nil {
			return deliveries, fmt.Errorf("send chunk %d/%d to %s: %w", i+1, len(segments), targetRef, err)
		}
		metrics.ChunksSent.Inc()
		deliveries = append(deliveries, Delivery{Raw: seg.Raw, Sent: sent})
		threadTo = ""
	}

	for i := range content.Attachments {
		att := content.Attachments[i]
		if err := d.wait(ctx); err != nil {
			return deliveries, err
		}

		sent, err := d.sender.SendFile(ctx, targetRef, transport.FileRequest{
			FileRef:           att.URL,
			Caption:           att.Description,
			ReplyToExternalID: threadTo,
		})
		if err != nil {
			return deliveries, fmt.Errorf("send attachment %s to %s: %w", att.URL, targetRef, err)
		}
		metrics.ChunksSent.Inc()
		deliveries = append(deliveries, Delivery{Raw: att.Description, Attachment: &att, Sent: sent})
		threadTo = ""
	}

	return deliveries, nil
}

func (d *Dispatcher) segments(text string) ([]chunk.Segment, error) {
	if d.escape {
		return chunk.SplitEscaped(text, d.maxLen)
	}

	parts, err := chunk.Split(text, d.maxLen)
	if err != nil {
		return nil, err
	}
	segments := make([]chunk.Segment, len(parts))
	for i, p := range parts {
		segments[i] = chunk.Segment{Raw: p, Escaped: p}
	}
	return segments, nil
}

func (d *Dispatcher) wait(ctx context.Context) error {
	if d.limiter == nil {
		return ctx.Err()
	}
	return d.limiter.Wait(ctx)
}
