package vectorstore

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/xxxsen/studyrag/internal/config"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

// Store keeps named collections of embedded documents. Entries keep their
// insertion position, which breaks ties between equal distances.
type Store interface {
	Name() string
	CreateCollection(ctx context.Context, name string, dim int) error
	// DeleteCollection is a no-op for unknown names.
	DeleteCollection(ctx context.Context, name string) error
	Insert(ctx context.Context, name string, ids, documents []string, embeddings [][]float32, metadatas []model.Metadata) error
	Query(ctx context.Context, name string, embedding []float32, k int) ([]model.Hit, error)
	Count(ctx context.Context, name string) (int, error)
	Close() error
}

type Factory func(cfg config.VectorStoreConfig) (Store, error)

var (
	registryMu sync.RWMutex
	registry   = map[string]Factory{}
)

func Register(name string, factory Factory) {
	key := strings.ToLower(strings.TrimSpace(name))
	if key == "" || factory == nil {
		return
	}
	registryMu.Lock()
	registry[key] = factory
	registryMu.Unlock()
}

func New(cfg config.VectorStoreConfig) (Store, error) {
	key := strings.ToLower(strings.TrimSpace(cfg.Type))
	if key == "" {
		key = "memory"
	}
	registryMu.RLock()
	factory := registry[key]
	registryMu.RUnlock()
	if factory == nil {
		return nil, fmt.Errorf("unsupported vector store type: %s", cfg.Type)
	}
	return factory(cfg)
}

func checkInsert(ids, documents []string, embeddings [][]float32, metadatas []model.Metadata, dim int) error {
	n := len(ids)
	if len(documents) != n || len(embeddings) != n || len(metadatas) != n {
		return fmt.Errorf("%w: misaligned insert: ids=%d documents=%d embeddings=%d metadatas=%d",
			appErr.ErrInvalid, n, len(documents), len(embeddings), len(metadatas))
	}
	for i, e := range embeddings {
		if dim > 0 && len(e) != dim {
			return fmt.Errorf("%w: embedding %d has dimension %d, collection wants %d", appErr.ErrInvalid, i, len(e), dim)
		}
	}
	return nil
}

func collectionMissing(name string) error {
	return fmt.Errorf("%w: collection %s", appErr.ErrNotFound, name)
}
