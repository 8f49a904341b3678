package completion

import (
	"context"
	"fmt"
	"strings"

	"github.com/smallbiznis/quotaguard/internal/config"
	"go.uber.org/zap"
	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

type GeminiClient struct {
	client *genai.Client
	model  string
	log    *zap.Logger
}

func NewGeminiClient(ctx context.Context, apiKey, model string, log *zap.Logger) (*GeminiClient, error) {
	if strings.TrimSpace(apiKey) == "" {
		return nil, fmt.Errorf("gemini api key is required")
	}
	if strings.TrimSpace(model) == "" {
		model = defaultGeminiModel
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("create gemini client: %w", err)
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &GeminiClient{client: client, model: model, log: log.Named("completion.gemini")}, nil
}

func (g *GeminiClient) Name() string { return "gemini" }

func (g *GeminiClient) Complete(ctx context.Context, req Request) (*Response, error) {
	if strings.TrimSpace(req.Prompt) == "" {
		return nil, ErrEmptyPrompt
	}

	contents := []*genai.Content{{
		Role:  "user",
		Parts: []*genai.Part{{Text: req.Prompt}},
	}}
	cfg := &genai.GenerateContentConfig{}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.SystemInstruction}}}
	}
	if req.MaxOutputTokens > 0 {
		cfg.MaxOutputTokens = int32(req.MaxOutputTokens)
	}

	resp, err := g.client.Models.GenerateContent(ctx, g.model, contents, cfg)
	if err != nil {
		g.log.Warn("gemini generation failed", zap.String("model", g.model), zap.Error(err))
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return responseFromGemini(g.model, resp), nil
}

// responseFromGemini joins the text parts of the first candidate.
func responseFromGemini(model string, resp *genai.GenerateContentResponse) *Response {
	out := &Response{Model: model}
	if resp == nil {
		return out
	}
	if resp.UsageMetadata != nil {
		out.InputTokens = int64(resp.UsageMetadata.PromptTokenCount)
		out.OutputTokens = int64(resp.UsageMetadata.CandidatesTokenCount)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil {
		return out
	}
	var sb strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if part != nil && !part.Thought {
			sb.WriteString(part.Text)
		}
	}
	out.Text = sb.String()
	return out
}

// NewClient returns the Gemini client, or a client that always reports
// ErrUnavailable when no API key is configured.
func NewClient(cfg config.Config, log *zap.Logger) (Client, error) {
	if strings.TrimSpace(cfg.Completion.GeminiAPIKey) == "" {
		log.Warn("GEMINI_API_KEY not set, completion endpoint disabled")
		return disabledClient{}, nil
	}
	return NewGeminiClient(context.Background(), cfg.Completion.GeminiAPIKey, cfg.Completion.GeminiModel, log)
}
