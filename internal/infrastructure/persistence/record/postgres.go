package record

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS records (
	id         TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	user_id    TEXT NOT NULL,
	room_id    TEXT NOT NULL,
	source     TEXT NOT NULL DEFAULT '',
	content    JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	seq        BIGSERIAL
);
CREATE INDEX IF NOT EXISTS idx_records_room ON records (agent_id, room_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_records_source ON records (agent_id, source, created_at DESC);
`

// PostgresStore はPostgreSQL（pgxpool）を使うStore実装
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore は接続プールを作成しスキーマを作成する
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	if _, err := pool.Exec(ctx, postgresSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

// CreateRecord はレコードを挿入する（同じIDは無視）
func (s *PostgresStore) CreateRecord(ctx context.Context, r conversation.Record) error {
	content, err := marshalContent(r.Content)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx, `
		INSERT INTO records (id, agent_id, user_id, room_id, source, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`, r.ID.String(), r.AgentID.String(), r.UserID.String(), r.RoomID.String(),
		r.Content.Source, content, r.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("failed to insert record: %w", err)
	}
	return nil
}

// ListRecords は条件に一致するレコードを新しい順に返す
func (s *PostgresStore) ListRecords(ctx context.Context, q conversation.Query) ([]conversation.Record, error) {
	where, args := whereClause(q,
		func(n int) string { return fmt.Sprintf("$%d", n) },
		func(q conversation.Query) any { return q.Since.UTC() },
	)
	query := "SELECT id, agent_id, user_id, room_id, content, created_at FROM records" +
		where + " ORDER BY created_at DESC, seq DESC" + limitClause(q)

	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query records: %w", err)
	}
	defer rows.Close()

	var out []conversation.Record
	for rows.Next() {
		var dto recordDTO
		var content []byte
		var createdAt time.Time
		if err := rows.Scan(&dto.ID, &dto.AgentID, &dto.UserID, &dto.RoomID, &content, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan record: %w", err)
		}
		r, err := scanRecord(dto, content, createdAt)
		if err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

// Ping は接続を確認する
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close は接続プールを閉じる
func (s *PostgresStore) Close() {
	s.pool.Close()
}
