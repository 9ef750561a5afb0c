package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/ollama/ollama/api"
	"github.com/ollama/ollama/envconfig"
)

type ollamaConfig struct {
	Host        string  `json:"host"`
	Temperature float64 `json:"temperature"`
	NumPredict  int     `json:"num_predict"`
	TimeoutSecs int     `json:"timeout_seconds"`
}

type ollamaProvider struct {
	client  *api.Client
	options map[string]interface{}
}

func newOllamaProvider(args interface{}) (*ollamaProvider, error) {
	cfg := &ollamaConfig{}
	if args != nil {
		if err := decodeConfig(args, cfg); err != nil {
			return nil, err
		}
	}
	hostURL := envconfig.Host()
	if h := strings.TrimSpace(cfg.Host); h != "" {
		parsed, err := url.Parse(h)
		if err != nil {
			return nil, fmt.Errorf("parse ollama host: %w", err)
		}
		hostURL = parsed
	}
	timeout := time.Duration(cfg.TimeoutSecs) * time.Second
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	options := map[string]interface{}{}
	if cfg.Temperature > 0 {
		options["temperature"] = cfg.Temperature
	}
	if cfg.NumPredict > 0 {
		options["num_predict"] = cfg.NumPredict
	}
	return &ollamaProvider{
		client:  api.NewClient(hostURL, &http.Client{Timeout: timeout}),
		options: options,
	}, nil
}

func (p *ollamaProvider) Name() string {
	return "ollama"
}

func (p *ollamaProvider) Generate(ctx context.Context, model string, prompt string) (string, error) {
	var sb strings.Builder
	err := p.client.Generate(ctx, &api.GenerateRequest{
		Model:   model,
		Prompt:  prompt,
		Options: p.options,
	}, func(resp api.GenerateResponse) error {
		_, err := sb.WriteString(resp.Response)
		return err
	})
	if err != nil {
		return "", fmt.Errorf("ollama generate: %w", err)
	}
	return strings.TrimSpace(sb.String()), nil
}

// Embed sends the whole batch in one /api/embed call; vectors come back in
// input order.
func (p *ollamaProvider) Embed(ctx context.Context, model string, texts []string, taskType string, dim int) ([][]float32, error) {
	resp, err := p.client.Embed(ctx, &api.EmbedRequest{
		Model:   model,
		Input:   texts,
		Options: map[string]interface{}{},
	})
	if err != nil {
		return nil, fmt.Errorf("ollama embed: %w", err)
	}
	if len(resp.Embeddings) != len(texts) {
		return nil, fmt.Errorf("ollama embed: got %d vectors for %d texts", len(resp.Embeddings), len(texts))
	}
	return resp.Embeddings, nil
}

func createOllamaFactory(args interface{}) (IProvider, error) {
	p, err := newOllamaProvider(args)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func createOllamaEmbedFactory(args interface{}) (IEmbedProvider, error) {
	p, err := newOllamaProvider(args)
	if err != nil {
		return nil, err
	}
	return p, nil
}

func init() {
	Register("ollama", createOllamaFactory)
	RegisterEmbed("ollama", createOllamaEmbedFactory)
}
