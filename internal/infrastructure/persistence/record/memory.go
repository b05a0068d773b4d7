package record

import (
	"context"
	"sort"
	"sync"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
)

// MemoryStore はプロセス内のみで保持するStore実装
type MemoryStore struct {
	mu      sync.RWMutex
	records []conversation.Record
	ids     map[string]struct{}
}

// NewMemoryStore は新しいMemoryStoreを作成
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{ids: make(map[string]struct{})}
}

// CreateRecord はレコードを追加する（同じIDは無視）
func (s *MemoryStore) CreateRecord(ctx context.Context, r conversation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.add(r)
	return nil
}

func (s *MemoryStore) add(r conversation.Record) bool {
	key := r.ID.String()
	if _, ok := s.ids[key]; ok {
		return false
	}
	s.ids[key] = struct{}{}
	s.records = append(s.records, r)
	return true
}

// ListRecords は条件に一致するレコードを新しい順に返す
func (s *MemoryStore) ListRecords(ctx context.Context, q conversation.Query) ([]conversation.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return filterNewestFirst(s.records, q), nil
}

// Len は保持しているレコード数を返す
func (s *MemoryStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

func filterNewestFirst(records []conversation.Record, q conversation.Query) []conversation.Record {
	out := make([]conversation.Record, 0)
	for _, r := range records {
		if q.Matches(r) {
			out = append(out, r)
		}
	}
	// 同時刻は後から追加されたものを新しいとみなす
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if q.Limit > 0 && len(out) > q.Limit {
		out = out[:q.Limit]
	}
	return out
}
