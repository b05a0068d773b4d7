package record

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	content    TEXT NOT NULL,
	created_at INTEGER NOT NULL,
	seq        INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS idx_records_room ON records (agent_id, room_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_source ON records (agent_id, source, created_at DESC);
`

// SQLiteStore はSQLite（modernc.org/sqlite）を使うStore実装
type SQLiteStore struct {
	db *sql.DB
}

// OpenSQLiteStore はデータベースを開きスキーマを作成する
func OpenSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// 書き込みを直列化する
	db.SetMaxOpenConns(1)

	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL; PRAGMA busy_timeout=5000;"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to configure sqlite: %w", err)
	}
	if _, err := db.ExecContext(ctx, sqliteSchema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

// CreateRecord はレコードを挿入する（同じIDは無視）
func (s *SQLiteStore) CreateRecord(ctx context.Context, r conversation.Record) error {
	content, err := marshalContent(r.Content)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO records (id, agent_id, user_id, room_id, source, content, created_at, seq)
		VALUES (?, ?, ?, ?, ?, ?, ?, (SELECT COALESCE(MAX(seq), 0) + 1 FROM records))
		ON CONFLICT (id) DO NOTHING
	`, r.ID.String(), r.AgentID.String(), r.UserID.String(), r.RoomID.String(),
		r.Content.Source, string(content), r.CreatedAt.UTC().UnixNano())
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// ListRecords は条件に一致するレコードを新しい順に返す
func (s *SQLiteStore) ListRecords(ctx context.Context, q conversation.Query) ([]conversation.Record, error) {
	where, args := whereClause(q,
		func(int) string { return "?" },
		func(q conversation.Query) any { return q.Since.UTC().UnixNano() },
	)
	query := "SELECT id, agent_id, user_id, room_id, content, created_at FROM records" +
		where + " ORDER BY created_at DESC, seq DESC" + limitClause(q)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []conversation.Record
	for rows.Next() {
		var dto recordDTO
		var content string
		var createdAt int64
		if err := rows.Scan(&dto.ID, &dto.AgentID, &dto.UserID, &dto.RoomID, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r, err := scanRecord(dto, []byte(content), time.Unix(0, createdAt))
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping は接続を確認する
func (s *SQLiteStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close はデータベースを閉じる
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func scanRecord(dto recordDTO, content []byte, createdAt time.Time) (conversation.Record, error) {
	c, err := unmarshalContent(content)
	if err != nil {
		return conversation.Record{}, fmt.Errorf("record %s: %w", dto.ID, err)
	}
	dto.Content = toContentDTO(c)
	dto.CreatedAt = createdAt
	return fromDTO(dto)
}
