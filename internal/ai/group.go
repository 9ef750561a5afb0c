package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"
)

type GeneratorEntry struct {
	Name      string
	Generator IGenerator
}

type EmbedderEntry struct {
	Name     string
	Embedder IEmbedder
}

// firstSuccess calls try for each member in order and returns the first
// result without error. A canceled ctx stops the walk.
func firstSuccess[T any](ctx context.Context, kind string, names []string, try func(i int) (T, bool, error)) (T, error) {
	var zero T
	var lastErr error
	tried := 0
	for i, name := range names {
		res, ok, err := try(i)
		if !ok {
			continue
		}
		tried++
		if err == nil {
			return res, nil
		}
		if ctx.Err() != nil {
			return zero, err
		}
		lastErr = err
		logutil.GetLogger(ctx).Warn(kind+" failed", zap.Int("index", i), zap.String("name", name), zap.Error(err))
	}
	if lastErr == nil {
		return zero, fmt.Errorf("%w: %s not configured", ErrUnavailable, kind)
	}
	if tried > 1 {
		return zero, fmt.Errorf("all %d %ss failed, last: %w", tried, kind, lastErr)
	}
	return zero, lastErr
}

type groupGenerator struct {
	items []GeneratorEntry
	names []string
}

func NewGroupGenerator(items []GeneratorEntry) IGenerator {
	if len(items) == 0 {
		return nil
	}
	g := &groupGenerator{items: items}
	for _, item := range items {
		g.names = append(g.names, item.Name)
	}
	return g
}

func (g *groupGenerator) Generate(ctx context.Context, prompt string) (string, error) {
	return firstSuccess(ctx, "generator", g.names, func(i int) (string, bool, error) {
		gen := g.items[i].Generator
		if gen == nil {
			return "", false, nil
		}
		out, err := gen.Generate(ctx, prompt)
		return out, true, err
	})
}

// groupEmbedder falls through its members in order. Every member must
// produce vectors of the same dimension for the index to stay usable.
type groupEmbedder struct {
	items []EmbedderEntry
	names []string
}

func NewGroupEmbedder(items []EmbedderEntry) IEmbedder {
	if len(items) == 0 {
		return nil
	}
	e := &groupEmbedder{items: items}
	for _, item := range items {
		e.names = append(e.names, item.Name)
	}
	return e
}

func (e *groupEmbedder) EmbedBatch(ctx context.Context, texts []string, taskType string) ([][]float32, error) {
	return firstSuccess(ctx, "embedder", e.names, func(i int) ([][]float32, bool, error) {
		emb := e.items[i].Embedder
		if emb == nil {
			return nil, false, nil
		}
		vecs, err := emb.EmbedBatch(ctx, texts, taskType)
		return vecs, true, err
	})
}

// ModelName feeds embedding cache keys, so it changes whenever the member
// list does.
func (e *groupEmbedder) ModelName() string {
	names := make([]string, 0, len(e.names))
	for _, name := range e.names {
		if name != "" {
			names = append(names, name)
		}
	}
	return strings.Join(names, "|")
}
