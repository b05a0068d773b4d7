package record

import (
	"fmt"
	"strings"
	"time"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
	"github.com/Nyukimin/relayclaw/internal/domain/identity"
)

// recordDTO はJSONシリアライズ用のDTO
type recordDTO struct {
	ID        string     `json:"id"`
	AgentID   string     `json:"agent_id"`
	UserID    string     `json:"user_id"`
	RoomID    string     `json:"room_id"`
	Content   contentDTO `json:"content"`
	CreatedAt time.Time  `json:"created_at"`
	Embedding []float32  `json:"embedding,omitempty"`
}

// contentDTO は本文のDTO（SQLストアではこの形でJSON列に入る）
type contentDTO struct {
	Text        string          `json:"text"`
	InReplyTo   string          `json:"inReplyTo,omitempty"`
	Source      string          `json:"source,omitempty"`
	Action      string          `json:"action,omitempty"`
	Attachments []attachmentDTO `json:"attachments,omitempty"`
}

type attachmentDTO struct {
	URL         string `json:"url"`
	Description string `json:"description,omitempty"`
}

func toContentDTO(c conversation.Content) contentDTO {
	dto := contentDTO{
		Text:   c.Text,
		Source: c.Source,
		Action: c.Action,
	}
	if c.InReplyTo != nil {
		dto.InReplyTo = c.InReplyTo.String()
	}
	for _, a := range c.Attachments {
		dto.Attachments = append(dto.Attachments, attachmentDTO{URL: a.URL, Description: a.Description})
	}
	return dto
}

func fromContentDTO(dto contentDTO) (conversation.Content, error) {
	c := conversation.Content{
		Text:   dto.Text,
		Source: dto.Source,
		Action: dto.Action,
	}
	if dto.InReplyTo != "" {
		id, err := identity.Parse(dto.InReplyTo)
		if err != nil {
			return conversation.Content{}, err
		}
		c.InReplyTo = &id
	}
	for _, a := range dto.Attachments {
		c.Attachments = append(c.Attachments, conversation.Attachment{URL: a.URL, Description: a.Description})
	}
	return c, nil
}

// toDTO はRecordをDTOに変換（ゼロベクトルの埋め込みは保存しない）
func toDTO(r conversation.Record) recordDTO {
	dto := recordDTO{
		ID:        r.ID.String(),
		AgentID:   r.AgentID.String(),
		UserID:    r.UserID.String(),
		RoomID:    r.RoomID.String(),
		Content:   toContentDTO(r.Content),
		CreatedAt: r.CreatedAt.UTC(),
	}
	if !isZeroVector(r.Embedding) {
		dto.Embedding = r.Embedding
	}
	return dto
}

// fromDTO はDTOからRecordを復元
func fromDTO(dto recordDTO) (conversation.Record, error) {
	ids, err := parseIDs(dto.ID, dto.AgentID, dto.UserID, dto.RoomID)
	if err != nil {
		return conversation.Record{}, fmt.Errorf("record %s: %w", dto.ID, err)
	}
	content, err := fromContentDTO(dto.Content)
	if err != nil {
		return conversation.Record{}, fmt.Errorf("record %s content: %w", dto.ID, err)
	}

	r, err := conversation.NewRecord(ids[0], ids[1], ids[2], ids[3], content, dto.CreatedAt)
	if err != nil {
		return conversation.Record{}, err
	}
	if len(dto.Embedding) > 0 {
		r.Embedding = dto.Embedding
	}
	return r, nil
}

func parseIDs(values ...string) ([]identity.CorrelationID, error) {
	ids := make([]identity.CorrelationID, len(values))
	for i, v := range values {
		id, err := identity.Parse(strings.TrimSpace(v))
		if err != nil {
			return nil, err
		}
		ids[i] = id
	}
	return ids, nil
}

func isZeroVector(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
