package record

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/Nyukimin/relayclaw/internal/domain/conversation"
)

// JSONLStore は1行1レコードの追記型ファイルを使うStore実装
// 起動時に全件を読み込み、検索はメモリ上で行う
type JSONLStore struct {
	mu   sync.Mutex
	path string
	file *os.File
	mem  *MemoryStore
}

// OpenJSONLStore はファイルを開き（なければ作成し）既存レコードを読み込む
func OpenJSONLStore(path string) (*JSONLStore, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("failed to create record directory: %w", err)
	}

	mem := NewMemoryStore()
	if err := loadJSONL(path, mem); err != nil {
		return nil, err
	}

	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open record file: %w", err)
	}
	return &JSONLStore{path: path, file: f, mem: mem}, nil
}

func loadJSONL(path string, mem *MemoryStore) error {
	f, err := os.Open(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to read record file: %w", err)
	}
	defer f.Close()

	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 4*1024*1024)
	line := 0
	for scanner.Scan() {
		line++
		raw := scanner.Bytes()
		if len(raw) == 0 {
			continue
		}
		var dto recordDTO
		if err := json.Unmarshal(raw, &dto); err != nil {
			return fmt.Errorf("%s:%d: failed to unmarshal record: %w", path, line, err)
		}
		r, err := fromDTO(dto)
		if err != nil {
			return fmt.Errorf("%s:%d: %w", path, line, err)
		}
		mem.add(r)
	}
	return scanner.Err()
}

// CreateRecord はレコードを追記する（同じIDは無視）
func (s *JSONLStore) CreateRecord(ctx context.Context, r conversation.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.file == nil {
		return fmt.Errorf("record file %s is closed", s.path)
	}

	s.mem.mu.RLock()
	_, exists := s.mem.ids[r.ID.String()]
	s.mem.mu.RUnlock()
	if exists {
		return nil
	}

	data, err := json.Marshal(toDTO(r))
	if err != nil {
		return fmt.Errorf("failed to marshal record: %w", err)
	}
	if _, err := s.file.Write(append(data, '\n')); err != nil {
		return fmt.Errorf("failed to append record: %w", err)
	}
	return s.mem.CreateRecord(ctx, r)
}

// ListRecords は条件に一致するレコードを新しい順に返す
func (s *JSONLStore) ListRecords(ctx context.Context, q conversation.Query) ([]conversation.Record, error) {
	return s.mem.ListRecords(ctx, q)
}

// Close はファイルを閉じる
func (s *JSONLStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.file == nil {
		return nil
	}
	err := s.file.Close()
	s.file = nil
	return err
}
