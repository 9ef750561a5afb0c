package vectorstore

import (
	"context"
	"sync"

	"github.com/xxxsen/studyrag/internal/config"
	"github.com/xxxsen/studyrag/internal/model"
)

func init() {
	Register("memory", func(config.VectorStoreConfig) (Store, error) {
		return NewMemory(), nil
	})
}

type memoryCollection struct {
	dim     int
	entries []entry
}

type memoryStore struct {
	mu          sync.RWMutex
	collections map[string]*memoryCollection
}

// NewMemory returns a process-local store doing brute-force cosine search.
func NewMemory() Store {
	return &memoryStore{collections: make(map[string]*memoryCollection)}
}

func (s *memoryStore) Name() string {
	return "memory"
}

func (s *memoryStore) CreateCollection(ctx context.Context, name string, dim int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.collections[name] = &memoryCollection{dim: dim}
	return nil
}

func (s *memoryStore) DeleteCollection(ctx context.Context, name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.collections, name)
	return nil
}

func (s *memoryStore) Insert(ctx context.Context, name string, ids, documents []string, embeddings [][]float32, metadatas []model.Metadata) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	col, ok := s.collections[name]
	if !ok {
		return collectionMissing(name)
	}
	if err := checkInsert(ids, documents, embeddings, metadatas, col.dim); err != nil {
		return err
	}
	for i := range ids {
		col.entries = append(col.entries, entry{
			id:        ids[i],
			document:  documents[i],
			embedding: model.CloneVector(embeddings[i]),
			metadata:  metadatas[i],
		})
	}
	return nil
}

func (s *memoryStore) Query(ctx context.Context, name string, embedding []float32, k int) ([]model.Hit, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return nil, collectionMissing(name)
	}
	return rank(col.entries, embedding, k), nil
}

func (s *memoryStore) Count(ctx context.Context, name string) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	col, ok := s.collections[name]
	if !ok {
		return 0, collectionMissing(name)
	}
	return len(col.entries), nil
}

func (s *memoryStore) Close() error {
	return nil
}
