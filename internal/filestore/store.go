package filestore

import (
	"context"
	"encoding/json"
	"fmt"
	"path"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/xxxsen/studyrag/internal/config"
)

// Store archives uploaded source files. Keys are slash separated and
// relative, e.g. "<session_id>/<uuid>_<file name>".
type Store interface {
	Type() string
	Save(ctx context.Context, key string, r ReadSeekCloser, size int64) error
}

type ReadSeekCloser interface {
	Read(p []byte) (n int, err error)
	Seek(offset int64, whence int) (int64, error)
	Close() error
}

type Factory func(args interface{}) (Store, error)

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

// New builds the configured archive. An empty type disables archiving and
// yields a nil Store.
func New(cfg config.FileStoreConfig) (Store, error) {
	typ := strings.ToLower(strings.TrimSpace(cfg.Type))
	if typ == "" {
		return nil, nil
	}
	registryMu.RLock()
	factory, ok := registry[typ]
	registryMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported archive type: %s", cfg.Type)
	}
	store, err := factory(cfg.Data)
	if err != nil {
		return nil, fmt.Errorf("init %s archive: %w", typ, err)
	}
	return store, nil
}

// ArchiveKey names one upload of a session. Repeated uploads of the same
// file never collide.
func ArchiveKey(sessionID, filename string) string {
	name := strings.Map(func(r rune) rune {
		if r == '/' || r == '\\' || r < 0x20 {
			return '_'
		}
		return r
	}, strings.TrimSpace(filename))
	if name == "" || name == "." || name == ".." {
		name = "upload"
	}
	return sessionID + "/" + uuid.NewString() + "_" + name
}

func validKey(key string) bool {
	if key == "" || strings.Contains(key, "\\") || path.IsAbs(key) {
		return false
	}
	for _, part := range strings.Split(key, "/") {
		if part == "" || part == "." || part == ".." {
			return false
		}
	}
	return true
}

func decodeConfig(args interface{}, dst interface{}) error {
	if args == nil {
		return fmt.Errorf("store config is required")
	}
	data, err := json.Marshal(args)
	if err != nil {
		return fmt.Errorf("encode store config: %w", err)
	}
	if err := json.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("decode store config: %w", err)
	}
	return nil
}
