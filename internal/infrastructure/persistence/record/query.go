package record

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
)

// whereClause はQueryをSQLのWHERE句と引数に変換する
// placeholder は n 番目（1始まり）の引数のプレースホルダを返す
func whereClause(q conversation.Query, placeholder func(n int) string, since func(conversation.Query) any) (string, []any) {
	var conds []string
	var args []any
	add := func(cond string, arg any) {
		args = append(args, arg)
		conds = append(conds, fmt.Sprintf(cond, placeholder(len(args))))
	}

	if !q.AgentID.IsZero() {
		add("agent_id = %s", q.AgentID.String())
	}
	if !q.RoomID.IsZero() {
		add("room_id = %s", q.RoomID.String())
	}
	if q.Source != "" {
		add("source = %s", q.Source)
	}
	if !q.Since.IsZero() {
		add("created_at >= %s", since(q))
	}

	if len(conds) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conds, " AND "), args
}

func limitClause(q conversation.Query) string {
	if q.Limit <= 0 {
		return ""
	}
	return fmt.Sprintf(" LIMIT %d", q.Limit)
}

func marshalContent(c conversation.Content) ([]byte, error) {
	data, err := json.Marshal(toContentDTO(c))
	if err != nil {
		return nil, fmt.Errorf("failed to marshal content: %w", err)
	}
	return data, nil
}

func unmarshalContent(data []byte) (conversation.Content, error) {
	var dto contentDTO
	if err := json.Unmarshal(data, &dto); err != nil {
		return conversation.Content{}, fmt.Errorf("failed to unmarshal content: %w", err)
	}
	return fromContentDTO(dto)
}
