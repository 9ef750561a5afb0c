package ai

import (
	"fmt"

	"github.com/xxxsen/studyrag/internal/config"
)

// BuildFromConfig instantiates the configured providers and returns the
// fallback groups for generation and embedding. Either may be nil when the
// config lists no models for it.
func BuildFromConfig(cfg config.AIConfig, dim int) (IGenerator, IEmbedder, error) {
	providers := make(map[string]config.ProviderConfig, len(cfg.Providers))
	for _, p := range cfg.Providers {
		providers[p.Name] = p
	}
	var gens []GeneratorEntry
	for _, ref := range cfg.Generators {
		pc, ok := providers[ref.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
		}
		p, err := NewProvider(pc.Type, pc.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init generator %s/%s: %w", ref.Provider, ref.Model, err)
		}
		gens = append(gens, GeneratorEntry{Name: ref.Provider + ":" + ref.Model, Generator: NewGenerator(p, ref.Model)})
	}
	var embs []EmbedderEntry
	for _, ref := range cfg.Embedders {
		pc, ok := providers[ref.Provider]
		if !ok {
			return nil, nil, fmt.Errorf("unknown ai provider: %s", ref.Provider)
		}
		p, err := NewEmbedProvider(pc.Type, pc.Data)
		if err != nil {
			return nil, nil, fmt.Errorf("init embedder %s/%s: %w", ref.Provider, ref.Model, err)
		}
		embs = append(embs, EmbedderEntry{Name: ref.Provider + ":" + ref.Model, Embedder: NewEmbedder(p, ref.Model, dim)})
	}
	return NewGroupGenerator(gens), NewGroupEmbedder(embs), nil
}
