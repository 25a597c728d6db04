package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// OpenAIProvider implements Provider on the OpenAI embeddings API
type OpenAIProvider struct {
	client    openai.Client
	model     string
	dimension int
}

// NewOpenAIProvider creates a provider. A zero dimension picks the model's
// native size; a smaller value asks the API to shorten the vectors.
func NewOpenAIProvider(apiKey, model string, dimension int, opts ...option.RequestOption) *OpenAIProvider {
	if model == "" {
		model = string(openai.EmbeddingModelTextEmbedding3Small)
	}
	if dimension <= 0 {
		dimension = nativeDimension(model)
	}

	reqOpts := append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)

	return &OpenAIProvider{
		client:    openai.NewClient(reqOpts...),
		model:     model,
		dimension: dimension,
	}
}

func nativeDimension(model string) int {
	switch model {
	case string(openai.EmbeddingModelTextEmbedding3Large):
		return 3072
	default:
		return 1536
	}
}

func (p *OpenAIProvider) Dimension() int {
	return p.dimension
}

func (p *OpenAIProvider) Embed(ctx context.Context, text string) ([]float32, error) {
	if strings.TrimSpace(text) == "" {
		return nil, ErrEmptyText
	}

	params := openai.EmbeddingNewParams{
		Input: openai.EmbeddingNewParamsInputUnion{OfString: openai.String(text)},
		Model: openai.EmbeddingModel(p.model),
	}
	if p.dimension != nativeDimension(p.model) {
		params.Dimensions = openai.Int(int64(p.dimension))
	}

	resp, err := p.client.Embeddings.New(ctx, params)
	if err != nil {
		return nil, fmt.Errorf("openai embeddings request failed: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("openai returned no embeddings")
	}

	src := resp.Data[0].Embedding
	vec := make([]float32, len(src))
	for i, v := range src {
		vec[i] = float32(v)
	}
	return vec, nil
}
