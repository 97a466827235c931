package docstore

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// MemoryStore はメモリ上のStore実装。
// エミュレーターの裏側およびテストで使用する。並行アクセスに安全。
type MemoryStore struct {
	mu          sync.RWMutex
	collections map[string]map[string]map[string]any
}

// NewMemoryStore はMemoryStoreを生成する。
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		collections: make(map[string]map[string]map[string]any),
	}
}

// Create は新規レコードを作成しUUIDを採番して返す。
func (s *MemoryStore) Create(ctx context.Context, collection string, data map[string]any) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}

	id := uuid.New().String()
	docs[id] = copyData(data)
	return id, nil
}

// Set は指定パスにレコードを書き込む。既存レコードは置き換える。
func (s *MemoryStore) Set(ctx context.Context, path string, data map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs, ok := s.collections[collection]
	if !ok {
		docs = make(map[string]map[string]any)
		s.collections[collection] = docs
	}
	docs[id] = copyData(data)
	return nil
}

// List はコレクション配下の全レコードを返す。
func (s *MemoryStore) List(ctx context.Context, collection string) ([]Document, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	docs := s.collections[collection]
	out := make([]Document, 0, len(docs))
	for id, data := range docs {
		out = append(out, Document{ID: id, Data: copyData(data)})
	}
	return out, nil
}

// Update は部分データを既存レコードにマージする。
func (s *MemoryStore) Update(ctx context.Context, path string, partial map[string]any) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	docs := s.collections[collection]
	data, ok := docs[id]
	if !ok {
		return ErrNotFound
	}
	for k, v := range partial {
		data[k] = v
	}
	return nil
}

// Delete は指定パスのレコードを削除する。存在しない場合は何もしない。
func (s *MemoryStore) Delete(ctx context.Context, path string) error {
	collection, id, err := SplitPath(path)
	if err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.collections[collection], id)
	return nil
}

func copyData(data map[string]any) map[string]any {
	out := make(map[string]any, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}

// compile-time interface check
var _ Store = (*MemoryStore)(nil)
