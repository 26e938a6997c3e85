package embedding

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/sashabaranov/go-openai"
)

// openaiProvider calls an OpenAI-compatible embeddings API. BaseURL
// may point at any server speaking the same wire protocol.
type openaiProvider struct {
	client    *openai.Client
	model     string
	dimension int
}

func newOpenAIProvider(cfg Config) (*openaiProvider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("openai embedding provider requires OPENAI_API_KEY")
	}

	model := cfg.Model
	if model == "" {
		model = string(openai.SmallEmbedding3)
	}
	dimension := cfg.Dimension
	if dimension == 0 {
		dimension = 1536
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	if cfg.Timeout > 0 {
		clientCfg.HTTPClient = &http.Client{Timeout: cfg.Timeout}
	} else {
		clientCfg.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &openaiProvider{
		client:    openai.NewClientWithConfig(clientCfg),
		model:     model,
		dimension: dimension,
	}, nil
}

func (p *openaiProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	resp, err := p.client.CreateEmbeddings(ctx, openai.EmbeddingRequest{
		Input:      []string{text},
		Model:      openai.EmbeddingModel(p.model),
		Dimensions: p.dimension,
	})
	if err != nil {
		return nil, fmt.Errorf("embeddings request failed: %w", err)
	}
	if len(resp.Data) == 0 || len(resp.Data[0].Embedding) == 0 {
		return nil, fmt.Errorf("received empty embedding")
	}

	vec := resp.Data[0].Embedding
	if len(vec) != p.dimension {
		return nil, fmt.Errorf("model returned dimension %d, configured %d", len(vec), p.dimension)
	}
	return vec, nil
}

func (p *openaiProvider) Dimension() int { return p.dimension }
func (p *openaiProvider) Name() string   { return "openai/" + p.model }
