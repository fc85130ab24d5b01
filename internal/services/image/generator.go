package image

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"
	"go.uber.org/zap"

	"github.com/parleybot/parley/internal/services/ai"
)

const (
	// DefaultImageModel is the default image generation model
	DefaultImageModel = "dall-e-3"
	// DefaultTimeout is the default timeout for image API calls
	DefaultTimeout = 60 * time.Second
)

// Generator produces images from text prompts
type Generator interface {
	Generate(ctx context.Context, prompt string) (*Result, error)
}

// Result is one generated image
type Result struct {
	URL           string
	RevisedPrompt string
}

// OpenAIGenerator implements Generator using OpenAI's image API
type OpenAIGenerator struct {
	client openai.Client
	model  string
	logger *zap.Logger
}

var _ Generator = (*OpenAIGenerator)(nil)

// NewOpenAIGenerator creates an image generator
func NewOpenAIGenerator(apiKey, baseURL, model string, logger *zap.Logger) *OpenAIGenerator {
	if model == "" {
		model = DefaultImageModel
	}

	opts := []option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithHTTPClient(&http.Client{Timeout: DefaultTimeout}),
	}
	if baseURL != "" {
		opts = append(opts, option.WithBaseURL(baseURL))
	}

	return &OpenAIGenerator{
		client: openai.NewClient(opts...),
		model:  model,
		logger: logger,
	}
}

// Generate creates one image. Transient failures get a single retry after
// the provider-suggested delay; anything else fails immediately.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt string) (*Result, error) {
	result, err := g.generate(ctx, prompt)
	if err == nil {
		return result, nil
	}
	if !ai.IsTransientError(err) {
		return nil, err
	}

	delay := ai.GetRetryDelay(err, 0)
	g.logger.Warn("image generation failed transiently, retrying once",
		zap.Duration("delay", delay),
		zap.Error(err))

	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case <-time.After(delay):
	}

	return g.generate(ctx, prompt)
}

func (g *OpenAIGenerator) generate(ctx context.Context, prompt string) (*Result, error) {
	start := time.Now()
	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  openai.ImageModel(g.model),
		N:      openai.Int(1),
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		if apiErr := ai.ExtractAPIError(err); apiErr != nil {
			return nil, fmt.Errorf("failed to generate image: %w", apiErr)
		}
		return nil, fmt.Errorf("failed to generate image: %w", err)
	}
	if len(resp.Data) == 0 {
		return nil, fmt.Errorf("no image in response")
	}

	g.logger.Info("image generated",
		zap.String("model", g.model),
		zap.Int64("latency_ms", time.Since(start).Milliseconds()))

	return &Result{
		URL:           resp.Data[0].URL,
		RevisedPrompt: resp.Data[0].RevisedPrompt,
	}, nil
}
