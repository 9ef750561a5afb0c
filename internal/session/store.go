package session

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

// Store owns every live session. It is safe for concurrent use; the map is
// guarded by a store-wide lock and each session guards its own state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	baseDir  string
	now      func() time.Time
}

func NewStore(baseDir string) (*Store, error) {
	if baseDir == "" {
		baseDir = filepath.Join(os.TempDir(), "rag_sessions")
	}
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("create session dir: %w", err)
	}
	return &Store{
		sessions: make(map[string]*Session),
		baseDir:  baseDir,
		now:      time.Now,
	}, nil
}

func (s *Store) Create(ctx context.Context) (string, error) {
	id := uuid.New().String()
	dir := filepath.Join(s.baseDir, id)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create scratch dir: %w", err)
	}
	sess := newSession(id, dir, s.now)
	s.mu.Lock()
	s.sessions[id] = sess
	s.mu.Unlock()
	logutil.GetLogger(ctx).Info("session created", zap.String("session_id", id))
	return id, nil
}

func (s *Store) Get(id string) (*Session, error) {
	s.mu.RLock()
	sess, ok := s.sessions[id]
	s.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", appErr.ErrSessionNotFound, id)
	}
	sess.touch()
	return sess, nil
}

// Exists reports whether id is live without refreshing its idle clock.
func (s *Store) Exists(id string) bool {
	s.mu.RLock()
	_, ok := s.sessions[id]
	s.mu.RUnlock()
	return ok
}

// Delete drops the session and its scratch directory. It reports whether
// the session existed.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	s.mu.Lock()
	sess, ok := s.sessions[id]
	if ok {
		delete(s.sessions, id)
	}
	s.mu.Unlock()
	if !ok {
		return false, nil
	}
	if err := os.RemoveAll(sess.ScratchDir()); err != nil {
		logutil.GetLogger(ctx).Warn("remove scratch dir failed", zap.String("session_id", id), zap.Error(err))
		return true, fmt.Errorf("remove scratch dir: %w", err)
	}
	logutil.GetLogger(ctx).Info("session deleted", zap.String("session_id", id))
	return true, nil
}

// DeleteIdle removes sessions not accessed within maxIdle and returns their ids.
func (s *Store) DeleteIdle(ctx context.Context, maxIdle time.Duration) []string {
	if maxIdle <= 0 {
		return nil
	}
	cutoff := s.now().Add(-maxIdle)
	var stale []string
	s.mu.RLock()
	for id, sess := range s.sessions {
		if sess.LastActive().Before(cutoff) {
			stale = append(stale, id)
		}
	}
	s.mu.RUnlock()
	sort.Strings(stale)
	removed := make([]string, 0, len(stale))
	for _, id := range stale {
		ok, err := s.Delete(ctx, id)
		if ok {
			removed = append(removed, id)
		}
		if err != nil {
			logutil.GetLogger(ctx).Warn("expire session failed", zap.String("session_id", id), zap.Error(err))
		}
	}
	return removed
}

func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}
