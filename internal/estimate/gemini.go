package estimate

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"google.golang.org/genai"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gemini-2.5-flash"

// Gemini pricing (per million tokens)
const (
	geminiInputPricePerMillion  = 0.30
	geminiOutputPricePerMillion = 2.50
)

// Generator is the part of the genai client used for estimation.
// *genai.Models satisfies it.
type Generator interface {
	GenerateContent(ctx context.Context, model string, contents []*genai.Content, config *genai.GenerateContentConfig) (*genai.GenerateContentResponse, error)
}

// GeminiClient estimates market value using Google's Gemini API.
type GeminiClient struct {
	models    Generator
	model     string
	validator *Validator
}

// NewGeminiClient creates a client authenticated with apiKey.
func NewGeminiClient(ctx context.Context, apiKey, model string) (*GeminiClient, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}
	return NewGeminiClientWithGenerator(client.Models, model), nil
}

// NewGeminiClientWithGenerator creates a client on top of an existing
// Generator.
func NewGeminiClientWithGenerator(models Generator, model string) *GeminiClient {
	if model == "" {
		model = DefaultModel
	}
	return &GeminiClient{models: models, model: model, validator: NewValidator()}
}

// buildContents assembles the single user turn: instruction text first, then
// the image inline. The SDK base64-encodes blob data on the wire.
func buildContents(sub Submission) []*genai.Content {
	mimeType := sub.Image.MIMEType
	if mimeType == "image/jpg" {
		mimeType = "image/jpeg"
	}
	parts := []*genai.Part{
		genai.NewPartFromText(BuildPrompt(sub.PostalCode)),
		{InlineData: &genai.Blob{Data: sub.Image.Data, MIMEType: mimeType}},
	}
	return []*genai.Content{genai.NewContentFromParts(parts, genai.RoleUser)}
}

// Estimate implements Estimator. The submission must already be valid; it is
// checked again so an invalid one never reaches the network.
func (g *GeminiClient) Estimate(ctx context.Context, sub Submission) (*Result, error) {
	if err := g.validator.Validate(sub); err != nil {
		return nil, err
	}

	config := &genai.GenerateContentConfig{
		ResponseMIMEType: "application/json",
		ResponseSchema:   responseSchema(),
	}

	resp, err := g.models.GenerateContent(ctx, g.model, buildContents(sub), config)
	if err != nil {
		classified := Classify(err)
		log.Warn().
			Err(err).
			Str("model", g.model).
			Stringer("kind", classified.Kind).
			Msg("estimation llm call failed")
		return nil, classified
	}

	if resp == nil || len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, malformed("", fmt.Errorf("no response from Gemini"))
	}

	raw := strings.TrimSpace(resp.Text())
	result, err := g.validator.parseResult(raw)
	if err != nil {
		log.Error().Err(err).Str("response", raw).Msg("failed to parse estimation response")
		return nil, err
	}

	usage := usageOf(resp)
	log.Info().
		Str("model", g.model).
		Str("postalCode", sub.PostalCode).
		Int64("imageBytes", sub.Image.Size).
		Int64("inputTokens", usage.InputTokens).
		Int64("outputTokens", usage.OutputTokens).
		Float64("costUSD", usage.CostUSD).
		Str("confidence", string(result.Confidence)).
		Msg("estimation llm call")

	return result, nil
}

func usageOf(resp *genai.GenerateContentResponse) Usage {
	usage := Usage{}
	if resp.UsageMetadata != nil {
		usage.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		usage.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
		usage.TotalTokens = int64(resp.UsageMetadata.TotalTokenCount)
		usage.CostUSD = calculateGeminiCost(usage.InputTokens, usage.OutputTokens)
	}
	return usage
}

func calculateGeminiCost(inputTokens, outputTokens int64) float64 {
	inputCost := float64(inputTokens) / 1_000_000 * geminiInputPricePerMillion
	outputCost := float64(outputTokens) / 1_000_000 * geminiOutputPricePerMillion
	return inputCost + outputCost
}
