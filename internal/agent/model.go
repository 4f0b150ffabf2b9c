// internal/agent/model.go
package agent

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"
	"google.golang.org/genai"

	"github.com/webpilot-ai/webpilot/internal/config"
)

// ModelCaller abstracts the LLM round-trip so the planner can be tested
// without network access.
type ModelCaller interface {
	// GenerateJSON sends the prompt and returns the model's reply, which is
	// requested as a single JSON document.
	GenerateJSON(ctx context.Context, system, prompt string) (string, error)
}

// geminiCaller implements ModelCaller on top of the Gemini API.
type geminiCaller struct {
	client  *genai.Client
	model   string
	timeout time.Duration
	logger  *zap.Logger
}

// NewGeminiCaller builds the production model client.
func NewGeminiCaller(ctx context.Context, cfg config.AgentConfig, logger *zap.Logger) (ModelCaller, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("agent API key is required")
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return &geminiCaller{
		client:  client,
		model:   cfg.Model,
		timeout: cfg.APITimeout,
		logger:  logger.Named("gemini"),
	}, nil
}

func (g *geminiCaller) GenerateJSON(ctx context.Context, system, prompt string) (string, error) {
	if g.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, g.timeout)
		defer cancel()
	}

	cfg := &genai.GenerateContentConfig{
		Temperature:      genai.Ptr[float32](0.1),
		ResponseMIMEType: "application/json",
	}
	if system != "" {
		cfg.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, genai.Text(prompt), cfg)
	if err != nil {
		return "", fmt.Errorf("model call failed: %w", err)
	}

	text := resp.Text()
	if text == "" {
		return "", fmt.Errorf("model returned an empty response")
	}

	g.logger.Debug("Model response received", zap.Int("length", len(text)))
	return text, nil
}
