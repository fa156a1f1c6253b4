package memegen

import (
	"context"
	"fmt"
	"strings"

	"github.com/openai/openai-go/v3"
	"github.com/openai/openai-go/v3/option"

	"github.com/corkboard-app/corkboard/internal/errs"
)

// OpenAIGenerator generates meme images with the OpenAI image API, for
// deployments that have no dedicated generation endpoint.
type OpenAIGenerator struct {
	client openai.Client
	model  openai.ImageModel
}

// NewOpenAIGenerator builds a generator from an API key. An empty model
// falls back to DALL-E 3.
func NewOpenAIGenerator(apiKey string, model string) *OpenAIGenerator {
	g := &OpenAIGenerator{
		client: openai.NewClient(option.WithAPIKey(apiKey)),
		model:  openai.ImageModelDallE3,
	}
	if model != "" {
		g.model = openai.ImageModel(model)
	}
	return g
}

// Generate renders prompt, with the style folded into the prompt text since
// the image API has no separate style parameter.
func (g *OpenAIGenerator) Generate(ctx context.Context, prompt, style string) (string, error) {
	if strings.TrimSpace(prompt) == "" {
		return "", errs.New(errs.InvalidArgument, "empty prompt")
	}
	if style != "" {
		prompt = fmt.Sprintf("%s, in the style of %s", prompt, style)
	}

	resp, err := g.client.Images.Generate(ctx, openai.ImageGenerateParams{
		Prompt: prompt,
		Model:  g.model,
		Size:   openai.ImageGenerateParamsSize1024x1024,
	})
	if err != nil {
		return "", errs.Wrap(errs.GenerationFailed, "image generation failed", err)
	}
	if len(resp.Data) == 0 || !strings.HasPrefix(resp.Data[0].URL, "http") {
		return "", errs.New(errs.GenerationFailed, "image API returned no usable URL")
	}
	return resp.Data[0].URL, nil
}
