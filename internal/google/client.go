package google

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/jusunglee/kaitoribot/internal/llm"
	"google.golang.org/genai"
)

// Model represents a Google AI model identifier
type Model string

const (
	ModelGemini2Flash   Model = "gemini-2.0-flash"
	ModelGemini2_5Flash Model = "gemini-2.5-flash"
	ModelGemini2_5Pro   Model = "gemini-2.5-pro"
)

var DefaultModel Model = ModelGemini2_5Flash

type Client struct {
	client *genai.Client
	model  Model
}

func NewClient(ctx context.Context, apiKey string, model Model) (*Client, error) {
	if model == "" {
		model = DefaultModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create google client: %w", err)
	}

	return &Client{
		client: client,
		model:  model,
	}, nil
}

func (c *Client) Complete(ctx context.Context, system, prompt string, images ...llm.Image) (string, error) {
	parts := make([]*genai.Part, 0, len(images)+1)
	for _, img := range images {
		parts = append(parts, &genai.Part{InlineData: &genai.Blob{Data: img.Data, MIMEType: img.MediaType}})
	}
	parts = append(parts, &genai.Part{Text: prompt})

	temperature := float32(0.1)
	result, err := c.client.Models.GenerateContent(ctx, string(c.model),
		[]*genai.Content{{Role: "user", Parts: parts}},
		&genai.GenerateContentConfig{
			SystemInstruction: &genai.Content{Parts: []*genai.Part{{Text: system}}},
			Temperature:       &temperature,
		},
	)
	if err != nil {
		if isQuotaError(err) {
			return "", fmt.Errorf("google API call failed: %w", llm.ErrQuota)
		}
		return "", fmt.Errorf("google API call failed: %w", err)
	}

	if len(result.Candidates) == 0 || result.Candidates[0].Content == nil || len(result.Candidates[0].Content.Parts) == 0 {
		return "", fmt.Errorf("empty response from google")
	}

	text := result.Candidates[0].Content.Parts[0].Text

	return llm.StripMarkdownCodeBlocks(text), nil
}

func isQuotaError(err error) bool {
	var apiErr genai.APIError
	if !errors.As(err, &apiErr) {
		return false
	}
	return apiErr.Code == http.StatusTooManyRequests || apiErr.Status == "RESOURCE_EXHAUSTED"
}
