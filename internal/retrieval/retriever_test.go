package retrieval

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/xxxsen/studyrag/internal/embedding"
	"github.com/xxxsen/studyrag/internal/index"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
	"github.com/xxxsen/studyrag/internal/session"
	"github.com/xxxsen/studyrag/internal/vectorstore"
)

var vocabulary = []string{"scheduler", "paging", "deadlock"}

// keywordEmbedder counts vocabulary words. Texts containing "corrupt" fail
// their batch so degraded entries can be produced on demand.
type keywordEmbedder struct{}

func (keywordEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	out := make([][]float32, len(texts))
	for i, t := range texts {
		if strings.Contains(t, "corrupt") {
			return nil, errors.New("malformed response")
		}
		v := make([]float32, len(vocabulary))
		for j, w := range vocabulary {
			v[j] = float32(strings.Count(strings.ToLower(t), w))
		}
		out[i] = v
	}
	return out, nil
}

func (keywordEmbedder) ModelName() string { return "keyword" }

type env struct {
	sessions *session.Store
	builder  *index.Builder
	client   *embedding.Client
	store    vectorstore.Store
}

func newEnv(t *testing.T) *env {
	sessions, err := session.NewStore(t.TempDir())
	require.NoError(t, err)
	store := vectorstore.NewMemory()
	client := embedding.NewClient(keywordEmbedder{}, embedding.Config{Dimension: len(vocabulary), BatchSize: 1})
	return &env{sessions: sessions, store: store, client: client, builder: index.NewBuilder(sessions, store, client, 0)}
}

func (e *env) indexed(t *testing.T, segs ...model.Segment) string {
	ctx := context.Background()
	id, err := e.sessions.Create(ctx)
	require.NoError(t, err)
	sess, err := e.sessions.Get(id)
	require.NoError(t, err)
	sess.AppendSegments(model.SourceInfo{SourceType: model.SourceTypePDF, SourceID: "os.pdf"}, segs)
	_, err = e.builder.Build(ctx, id)
	require.NoError(t, err)
	return id
}

func pdfSeg(idx, page int, text string) model.Segment {
	return model.Segment{SourceType: model.SourceTypePDF, SourceID: "os.pdf", Text: text, ChunkIndex: idx, Page: page}
}

func TestQueryRanksAndBuildsContext(t *testing.T) {
	e := newEnv(t)
	id := e.indexed(t,
		pdfSeg(0, 1, "The scheduler picks the next process."),
		pdfSeg(1, 2, "Paging splits memory into frames. Paging avoids fragmentation."),
		pdfSeg(2, 3, "A deadlock needs four conditions."),
	)
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), id, "how does paging work?", 2)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	require.Equal(t, 2, res.Hits[0].Metadata.Page)
	require.InDelta(t, 1, res.Hits[0].Similarity(), 1e-6)
	require.Equal(t, "Retrieved Segments:\n\n[pdf | os.pdf | page 2]\nPaging splits memory into frames. Paging avoids fragmentation.\n\n[pdf | os.pdf | page 1]\nThe scheduler picks the next process.", res.Context)
}

func TestQueryIgnoresSegmentsAddedAfterBuild(t *testing.T) {
	e := newEnv(t)
	id := e.indexed(t,
		pdfSeg(0, 1, "The scheduler picks the next process."),
		pdfSeg(1, 2, "Paging splits memory into frames."),
	)
	sess, err := e.sessions.Get(id)
	require.NoError(t, err)
	sess.AppendSegments(model.SourceInfo{SourceType: model.SourceTypePDF, SourceID: "os.pdf"},
		[]model.Segment{pdfSeg(2, 3, "Paging tables map pages to frames.")})

	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), id, "paging", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	require.NotContains(t, res.Context, "Paging tables")

	_, err = e.builder.Build(context.Background(), id)
	require.NoError(t, err)
	res, err = r.Query(context.Background(), id, "paging", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)
}

func TestQueryReturnsAllWhenKExceedsIndex(t *testing.T) {
	e := newEnv(t)
	start, end := 3.0, 7.5
	id := e.indexed(t,
		pdfSeg(0, 1, "deadlock"),
		model.Segment{SourceType: model.SourceTypeYouTube, SourceID: "vid", Text: "scheduler talk", ChunkIndex: 0, Start: &start, End: &end},
	)
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), id, "scheduler", 10)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	require.True(t, strings.HasPrefix(res.Context, "Retrieved Segments:\n\n[youtube | vid | 3.0s - 7.5s]\nscheduler talk"))
}

func TestQueryDefaultK(t *testing.T) {
	e := newEnv(t)
	var segs []model.Segment
	for i := 0; i < 8; i++ {
		segs = append(segs, pdfSeg(i, 1, "paging"))
	}
	id := e.indexed(t, segs...)
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), id, "paging", 0)
	require.NoError(t, err)
	require.Len(t, res.Hits, DefaultTopK)
	for i, h := range res.Hits {
		require.Equal(t, i, h.Metadata.ChunkIndex)
	}
}

func TestQueryErrors(t *testing.T) {
	e := newEnv(t)
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	_, err := r.Query(context.Background(), "nope", "q", 3)
	require.True(t, errors.Is(err, appErr.ErrSessionNotFound))

	id, err := e.sessions.Create(context.Background())
	require.NoError(t, err)
	_, err = r.Query(context.Background(), id, "q", 3)
	require.True(t, errors.Is(err, appErr.ErrIndexNotReady))
}

func TestQueryEmptyIndex(t *testing.T) {
	e := newEnv(t)
	id := e.indexed(t)
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), id, "paging", 3)
	require.NoError(t, err)
	require.Empty(t, res.Hits)
	require.Empty(t, res.Context)
}

func TestQueryDegradedEntries(t *testing.T) {
	e := newEnv(t)
	id := e.indexed(t,
		pdfSeg(0, 1, "corrupt page"),
		pdfSeg(1, 2, "deadlock"),
		pdfSeg(2, 3, "scheduler"),
	)
	included := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := included.Query(context.Background(), id, "deadlock", 3)
	require.NoError(t, err)
	require.Len(t, res.Hits, 3)
	require.Equal(t, "1", res.Hits[0].ID)
	require.Equal(t, "0", res.Hits[1].ID)
	require.Equal(t, 1.0, res.Hits[1].Distance)

	excluded := NewRetriever(e.sessions, e.store, e.client, Config{ExcludeDegraded: true})
	res, err = excluded.Query(context.Background(), id, "deadlock", 3)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
	for _, h := range res.Hits {
		require.False(t, h.Metadata.Degraded)
	}
}

func TestQuerySessionsAreIsolated(t *testing.T) {
	e := newEnv(t)
	a := e.indexed(t, pdfSeg(0, 1, "paging"))
	b := e.indexed(t, pdfSeg(0, 1, "deadlock"), pdfSeg(1, 2, "scheduler"))
	r := NewRetriever(e.sessions, e.store, e.client, Config{})
	res, err := r.Query(context.Background(), a, "deadlock", 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 1)
	require.Equal(t, "paging", res.Hits[0].Document)

	res, err = r.Query(context.Background(), b, "paging", 5)
	require.NoError(t, err)
	require.Len(t, res.Hits, 2)
}
