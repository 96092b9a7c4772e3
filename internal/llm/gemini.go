package llm

import (
	"context"
	"fmt"
	"strings"

	"github.com/google/generative-ai-go/genai"
	"google.golang.org/api/option"
)

// GeminiClient generates assistant replies with the Gemini API.
type GeminiClient struct {
	client *genai.Client
	model  *genai.GenerativeModel
}

// NewGeminiClient dials the Gemini API and configures the model with the
// assistant's Bangla system instructions.
func NewGeminiClient(ctx context.Context, apiKey, modelName, instructions string) (*GeminiClient, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("gemini api key missing")
	}
	if modelName == "" {
		modelName = "gemini-2.5-flash"
	}
	client, err := genai.NewClient(ctx, option.WithAPIKey(apiKey))
	if err != nil {
		return nil, fmt.Errorf("gemini: create client: %w", err)
	}
	model := client.GenerativeModel(modelName)
	if instructions != "" {
		model.SystemInstruction = &genai.Content{Parts: []genai.Part{genai.Text(instructions)}}
	}
	return &GeminiClient{client: client, model: model}, nil
}

// Generate produces a single reply for the prompt.
func (g *GeminiClient) Generate(ctx context.Context, prompt string) (string, error) {
	resp, err := g.model.GenerateContent(ctx, genai.Text(prompt))
	if err != nil {
		return "", fmt.Errorf("gemini: generate: %w", err)
	}
	answer := extractText(resp)
	if answer == "" {
		return "", fmt.Errorf("gemini: empty response")
	}
	return answer, nil
}

// Close releases the underlying connection.
func (g *GeminiClient) Close() error { return g.client.Close() }

// extractText concatenates the text parts of the first candidate.
func extractText(resp *genai.GenerateContentResponse) string {
	if resp == nil || len(resp.Candidates) == 0 {
		return ""
	}
	cand := resp.Candidates[0]
	if cand.Content == nil {
		return ""
	}
	var b strings.Builder
	for _, part := range cand.Content.Parts {
		if text, ok := part.(genai.Text); ok {
			b.WriteString(string(text))
		}
	}
	return strings.TrimSpace(b.String())
}
