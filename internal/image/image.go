// Package image turns a text description into a hosted image URL for
// post attachments. Generation failures are expected and non-fatal; the
// workflow falls back to a text-only post.
package image

import (
	"context"
	"fmt"
	"os"

	"github.com/sashabaranov/go-openai"
)

// Generator produces an image for a description and returns its URL.
type Generator interface {
	Generate(ctx context.Context, description string) (string, error)
}

// OpenAIGenerator calls the OpenAI Images API.
type OpenAIGenerator struct {
	client *openai.Client
	model  string
}

func NewOpenAIGenerator(apiKey, model string) *OpenAIGenerator {
	if apiKey == "" {
		apiKey = os.Getenv("OPENAI_API_KEY")
	}
	if model == "" {
		model = openai.CreateImageModelDallE3
	}
	return &OpenAIGenerator{client: openai.NewClient(apiKey), model: model}
}

func (g *OpenAIGenerator) Generate(ctx context.Context, description string) (string, error) {
	resp, err := g.client.CreateImage(ctx, openai.ImageRequest{
		Prompt:         description,
		Model:          g.model,
		N:              1,
		Size:           openai.CreateImageSize1024x1024,
		ResponseFormat: openai.CreateImageResponseFormatURL,
	})
	if err != nil {
		return "", fmt.Errorf("image generation failed: %w", err)
	}
	if len(resp.Data) == 0 || resp.Data[0].URL == "" {
		return "", fmt.Errorf("image generation returned no url")
	}
	return resp.Data[0].URL, nil
}

// NullGenerator always fails, for deployments without an image backend.
type NullGenerator struct{}

func (NullGenerator) Generate(ctx context.Context, description string) (string, error) {
	return "", fmt.Errorf("image generation not configured")
}
