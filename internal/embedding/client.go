package embedding

import (
	"context"
	"fmt"
	"time"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/xxxsen/studyrag/internal/ai"
	"github.com/xxxsen/studyrag/internal/model"
	appErr "github.com/xxxsen/studyrag/internal/pkg/errors"
)

type Task string

const (
	TaskDocument Task = ai.TaskRetrievalDocument
	TaskQuery    Task = ai.TaskRetrievalQuery
)

type Config struct {
	Dimension         int
	BatchSize         int
	Workers           int
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
}

// Result holds one vector per input text. Degraded[i] marks a zero vector
// substituted for a failed batch.
type Result struct {
	Vectors       [][]float32
	Degraded      []bool
	FailedBatches int
	Batches       int
}

func (r *Result) DegradedCount() int {
	n := 0
	for _, d := range r.Degraded {
		if d {
			n++
		}
	}
	return n
}

// Err is non-nil when any batch fell back to zero vectors. The vectors are
// still usable; callers decide whether to surface it.
func (r *Result) Err() error {
	n := r.DegradedCount()
	if n == 0 {
		return nil
	}
	return fmt.Errorf("%w: %d of %d texts (%d of %d batches) fell back to zero vectors",
		appErr.ErrEmbeddingDegraded, n, len(r.Vectors), r.FailedBatches, r.Batches)
}

type Client struct {
	embedder ai.IEmbedder
	cfg      Config
	limiter  *rate.Limiter
}

func NewClient(embedder ai.IEmbedder, cfg Config) *Client {
	if cfg.Dimension <= 0 {
		cfg.Dimension = 768
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 32
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 10
	}
	c := &Client{embedder: embedder, cfg: cfg}
	if cfg.RequestsPerSecond > 0 {
		burst := cfg.Burst
		if burst <= 0 {
			burst = 1
		}
		c.limiter = rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), burst)
	}
	return c
}

func (c *Client) Dimension() int {
	return c.cfg.Dimension
}

// Embed returns exactly len(texts) vectors in input order. Batches are sent
// concurrently up to the worker limit; a failed batch is not retried and its
// texts get zero vectors.
func (c *Client) Embed(ctx context.Context, texts []string, task Task) *Result {
	res := &Result{
		Vectors:  make([][]float32, len(texts)),
		Degraded: make([]bool, len(texts)),
	}
	if len(texts) == 0 {
		return res
	}
	logger := logutil.GetLogger(ctx).With(zap.String("task", string(task)))
	size := c.cfg.BatchSize
	res.Batches = (len(texts) + size - 1) / size
	failed := make([]bool, res.Batches)

	var g errgroup.Group
	g.SetLimit(c.cfg.Workers)
	for b := 0; b < res.Batches; b++ {
		start := b * size
		end := start + size
		if end > len(texts) {
			end = len(texts)
		}
		g.Go(func() error {
			vecs, err := c.embedBatch(ctx, texts[start:end], task)
			if err != nil {
				logger.Warn("embedding batch failed, using zero vectors",
					zap.Int("batch", b), zap.Int("size", end-start), zap.Error(err))
				failed[b] = true
				for i := start; i < end; i++ {
					res.Vectors[i] = model.ZeroVector(c.cfg.Dimension)
					res.Degraded[i] = true
				}
				return nil
			}
			copy(res.Vectors[start:end], vecs)
			return nil
		})
	}
	_ = g.Wait()
	for _, f := range failed {
		if f {
			res.FailedBatches++
		}
	}
	if res.FailedBatches > 0 {
		logger.Warn("embedding degraded", zap.Int("failed_batches", res.FailedBatches), zap.Int("batches", res.Batches))
	}
	return res
}

// EmbedQuery embeds a single query text. The bool reports a zero-vector fallback.
func (c *Client) EmbedQuery(ctx context.Context, text string) ([]float32, bool) {
	res := c.Embed(ctx, []string{text}, TaskQuery)
	return res.Vectors[0], res.Degraded[0]
}

func (c *Client) embedBatch(ctx context.Context, texts []string, task Task) ([][]float32, error) {
	if c.embedder == nil {
		return nil, fmt.Errorf("%w: embedder not configured", ai.ErrUnavailable)
	}
	if c.limiter != nil {
		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}
	}
	if c.cfg.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.cfg.Timeout)
		defer cancel()
	}
	vecs, err := c.embedder.EmbedBatch(ctx, texts, string(task))
	if err != nil {
		return nil, err
	}
	if len(vecs) != len(texts) {
		return nil, fmt.Errorf("got %d vectors for %d texts", len(vecs), len(texts))
	}
	for i, v := range vecs {
		if len(v) != c.cfg.Dimension {
			return nil, fmt.Errorf("vector %d has dimension %d, want %d", i, len(v), c.cfg.Dimension)
		}
	}
	return vecs, nil
}
