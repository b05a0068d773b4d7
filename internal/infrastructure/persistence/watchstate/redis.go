package watchstate

import (
	"context"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// RedisStore はチャンネルごとの既読IDをRedisのハッシュに保存する
type RedisStore struct {
	client *redis.Client
	key    string
}

// NewRedisStore は新しいRedisStoreを作成（agentID ごとに別のキーを使う）
func NewRedisStore(ctx context.Context, redisURL, agentID string) (*RedisStore, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse redis url: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("failed to ping redis: %w", err)
	}

	return &RedisStore{client: client, key: lastSeenKey(agentID)}, nil
}

// lastSeenKey はエージェントの既読ハッシュのキーを返す
func lastSeenKey(agentID string) string {
	return fmt.Sprintf("relayclaw:%s:watch:last_seen", agentID)
}

// Load は保存済みの既読IDを返す
func (s *RedisStore) Load(ctx context.Context) (map[string]string, error) {
	values, err := s.client.HGetAll(ctx, s.key).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to load last seen ids: %w", err)
	}
	return values, nil
}

// Save は既読IDを上書き保存する
func (s *RedisStore) Save(ctx context.Context, lastSeen map[string]string) error {
	if len(lastSeen) == 0 {
		return nil
	}
	fields := make(map[string]any, len(lastSeen))
	for ref, id := range lastSeen {
		if id != "" {
			fields[ref] = id
		}
	}
	if len(fields) == 0 {
		return nil
	}
	if err := s.client.HSet(ctx, s.key, fields).Err(); err != nil {
		return fmt.Errorf("failed to save last seen ids: %w", err)
	}
	return nil
}

// Ping は接続を確認する
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.client.Ping(ctx).Err()
}

// Close は接続を閉じる
func (s *RedisStore) Close() error {
	return s.client.Close()
}
