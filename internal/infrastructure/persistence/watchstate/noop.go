package watchstate

import "context"

// NoopStore は何も保存しないStore（再起動時は全チャンネルを未読から始める）
type NoopStore struct{}

// Load は常に空を返す
func (NoopStore) Load(context.Context) (map[string]string, error) { return nil, nil }

// Save は何もしない
func (NoopStore) Save(context.Context, map[string]string) error { return nil }
