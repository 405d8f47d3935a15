package summarizer

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/pkg/errors"
	"google.golang.org/genai"

	"spotto-service/internal/model"
)

// Client writes a short summary for one place.
type Client interface {
	Summarize(ctx context.Context, p model.Place) (string, error)
}

type GeminiOption func(*genai.ClientConfig)

// WithHTTPClient routes API calls through c.
func WithHTTPClient(c *http.Client) GeminiOption {
	return func(cfg *genai.ClientConfig) { cfg.HTTPClient = c }
}

// WithBaseURL points the client at another endpoint.
func WithBaseURL(u string) GeminiOption {
	return func(cfg *genai.ClientConfig) { cfg.HTTPOptions.BaseURL = u }
}

type Gemini struct {
	client *genai.Client
	model  string
	config *genai.GenerateContentConfig
}

func NewGemini(ctx context.Context, apiKey, modelName string, opts ...GeminiOption) (*Gemini, error) {
	cfg := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	for _, opt := range opts {
		opt(cfg)
	}

	client, err := genai.NewClient(ctx, cfg)
	if err != nil {
		return nil, errors.Wrap(err, "create gemini client")
	}
	return &Gemini{
		client: client,
		model:  modelName,
		config: &genai.GenerateContentConfig{
			Temperature:     genai.Ptr[float32](0.4),
			MaxOutputTokens: 256,
		},
	}, nil
}

func (g *Gemini) Model() string {
	return g.model
}

func (g *Gemini) Summarize(ctx context.Context, p model.Place) (string, error) {
	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(Prompt(p)), g.config)
	if err != nil {
		return "", errors.Wrap(err, "generate summary")
	}
	return strings.TrimSpace(resp.Text()), nil
}

// Prompt builds the instruction sent for p.
func Prompt(p model.Place) string {
	var b strings.Builder
	b.WriteString("Write a two sentence summary of this place for someone deciding whether to visit. ")
	b.WriteString("Describe the atmosphere and what it is good for. Do not invent facts, prices or opening hours.\n\n")
	fmt.Fprintf(&b, "Name: %s\n", p.Name)
	fmt.Fprintf(&b, "Category: %s\n", p.Category)
	if len(p.Moods) > 0 {
		fmt.Fprintf(&b, "Moods: %s\n", strings.Join(p.Moods, ", "))
	}
	if p.Address != "" {
		fmt.Fprintf(&b, "Address: %s\n", p.Address)
	}
	if p.Description != "" {
		fmt.Fprintf(&b, "Description: %s\n", p.Description)
	}
	return b.String()
}
