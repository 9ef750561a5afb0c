package retrieval

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/studyrag/internal/embedding"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/vectorstore"
)

const (
	DefaultTopK   = 5
	ContextHeader = "Retrieved Segments:"
)

type Config struct {
	TopK            int
	ExcludeDegraded bool
}

type Retriever struct {
	sessions *session.Store
	store    vectorstore.Store
	embedder *embedding.Client
	cfg      Config
}

func NewRetriever(sessions *session.Store, store vectorstore.Store, embedder *embedding.Client, cfg Config) *Retriever {
	if cfg.TopK <= 0 {
		cfg.TopK = DefaultTopK
	}
	return &Retriever{sessions: sessions, store: store, embedder: embedder, cfg: cfg}
}

// Query returns up to k entries of the session's index nearest to question,
// most relevant first, with a context block built from them. k <= 0 uses the
// configured default.
func (r *Retriever) Query(ctx context.Context, sessionID, question string, k int) (*model.Retrieval, error) {
	sess, err := r.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	handle := sess.Index()
	if handle == nil {
		return nil, fmt.Errorf("%w: session %s has no index", appErr.ErrIndexNotReady, sessionID)
	}
	if k <= 0 {
		k = r.cfg.TopK
	}
	if handle.Entries == 0 {
		return &model.Retrieval{Context: "", Hits: []model.Hit{}}, nil
	}

	logger := logutil.GetLogger(ctx).With(zap.String("session_id", sessionID))
	vec, degraded := r.embedder.EmbedQuery(ctx, question)
	if degraded {
		logger.Warn("query embedding degraded, ranking by insertion order")
	}
	fetch := k
	if r.cfg.ExcludeDegraded {
		fetch += handle.Degraded
	}
	hits, err := r.store.Query(ctx, handle.Collection, vec, fetch)
	if err != nil {
		if appErr.IsNotFound(err) {
			return nil, fmt.Errorf("%w: %v", appErr.ErrIndexNotReady, err)
		}
		return nil, err
	}
	if r.cfg.ExcludeDegraded {
		kept := hits[:0]
		for _, h := range hits {
			if !h.Metadata.Degraded {
				kept = append(kept, h)
			}
		}
		hits = kept
	}
	if len(hits) > k {
		hits = hits[:k]
	}
	if len(hits) > 0 {
		logger.Debug("retrieved", zap.Int("k", k), zap.Int("hits", len(hits)), zap.Float64("top_similarity", hits[0].Similarity()))
	}
	return &model.Retrieval{Context: BuildContext(hits), Hits: hits}, nil
}

// BuildContext renders hits as labelled blocks separated by blank lines,
// in the given order.
func BuildContext(hits []model.Hit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	sb.WriteString(ContextHeader)
	for _, h := range hits {
		sb.WriteString("\n\n")
		sb.WriteString(h.Metadata.Label())
		sb.WriteString("\n")
		sb.WriteString(strings.TrimSpace(h.Document))
	}
	return sb.String()
}
