package index

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/embedding"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/vectorstore"
)

const DefaultInsertBatchSize = 256

func CollectionName(sessionID string) string {
	return "session_" + sessionID
}

type Builder struct {
	sessions        *session.Store
	store           vectorstore.Store
	embedder        *embedding.Client
	insertBatchSize int
}

func NewBuilder(sessions *session.Store, store vectorstore.Store, embedder *embedding.Client, insertBatchSize int) *Builder {
	if insertBatchSize <= 0 {
		insertBatchSize = DefaultInsertBatchSize
	}
	return &Builder{
		sessions:        sessions,
		store:           store,
		embedder:        embedder,
		insertBatchSize: insertBatchSize,
	}
}

// Build replaces the session's index with one built from its current
// segments. Embedding failures degrade entries to zero vectors but never
// fail the build.
func (b *Builder) Build(ctx context.Context, sessionID string) (*model.IndexHandle, error) {
	sess, err := b.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	sess.LockBuild()
	defer sess.UnlockBuild()

	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	segments := sess.Segments()
	texts := make([]string, 0, len(segments))
	metas := make([]model.Metadata, 0, len(segments))
	for _, seg := range segments {
		if !seg.Eligible() {
			continue
		}
		texts = append(texts, seg.Text)
		metas = append(metas, seg.Metadata())
	}

	res := b.embedder.Embed(ctx, texts, embedding.TaskDocument)
	ids := make([]string, len(texts))
	for i := range texts {
		ids[i] = strconv.Itoa(i)
		metas[i].Degraded = res.Degraded[i]
	}
	if err := res.Err(); appErr.IsDegraded(err) {
		logger.Warn("index built with degraded embeddings", zap.Error(err))
	}

	name := CollectionName(sessionID)
	if err := b.store.DeleteCollection(ctx, name); err != nil {
		return nil, fmt.Errorf("drop previous index: %w", err)
	}
	sess.SetIndex(nil)
	if err := b.store.CreateCollection(ctx, name, b.embedder.Dimension()); err != nil {
		return nil, fmt.Errorf("create index: %w", err)
	}
	for start := 0; start < len(ids); start += b.insertBatchSize {
		end := start + b.insertBatchSize
		if end > len(ids) {
			end = len(ids)
		}
		if err := b.store.Insert(ctx, name, ids[start:end], texts[start:end], res.Vectors[start:end], metas[start:end]); err != nil {
			b.dropQuietly(ctx, name)
			return nil, fmt.Errorf("insert index batch %d-%d: %w", start, end, err)
		}
	}

	if !b.sessions.Exists(sessionID) {
		b.dropQuietly(ctx, name)
		return nil, fmt.Errorf("%w: %s deleted during build", appErr.ErrSessionNotFound, sessionID)
	}
	handle := &model.IndexHandle{
		Collection:   name,
		Entries:      len(ids),
		Degraded:     res.DegradedCount(),
		Dimension:    b.embedder.Dimension(),
		SegmentCount: len(segments),
		BuiltAt:      time.Now(),
	}
	sess.SetIndex(handle)
	logger.Info("index built",
		zap.Int("entries", handle.Entries),
		zap.Int("degraded", handle.Degraded),
		zap.Int("segments", handle.SegmentCount))
	return handle, nil
}

// Drop removes the session's collection. Unknown sessions are fine.
func (b *Builder) Drop(ctx context.Context, sessionID string) error {
	return b.store.DeleteCollection(ctx, CollectionName(sessionID))
}

func (b *Builder) dropQuietly(ctx context.Context, name string) {
	if err := b.store.DeleteCollection(ctx, name); err != nil {
		logutil.GetLogger(ctx).Error("drop partial index failed", zap.String("collection", name), zap.Error(err))
	}
}
