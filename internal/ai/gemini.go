package ai

import (
	"context"
	"fmt"
	"net/http"

	"skkn-server/internal/domain"

	"go.uber.org/zap"
	"google.golang.org/genai"
)

type geminiStreamer struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func newGeminiStreamer(baseURL string, httpClient *http.Client, logger *zap.Logger) *geminiStreamer {
	return &geminiStreamer{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.Named("GeminiStreamer"),
	}
}

// Stream creates a chat per request so the key and model can change between
// attempts while the history stays owned by the caller.
func (g *geminiStreamer) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Usage, error) {
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:      req.APIKey,
		Backend:     genai.BackendGeminiAPI,
		HTTPClient:  g.httpClient,
		HTTPOptions: genai.HTTPOptions{BaseURL: g.baseURL},
	})
	if err != nil {
		return Usage{}, fmt.Errorf("create genai client: %w", err)
	}

	chat, err := client.Chats.Create(ctx, req.Model, geminiConfig(req), geminiHistory(req.History))
	if err != nil {
		return Usage{}, fmt.Errorf("create chat: %w", err)
	}

	var usage Usage
	for resp, err := range chat.SendMessageStream(ctx, genai.Part{Text: req.Message}) {
		if err != nil {
			return usage, err
		}
		if text := resp.Text(); text != "" {
			if err := onChunk(text); err != nil {
				return usage, err
			}
		}
		if md := resp.UsageMetadata; md != nil {
			usage = Usage{
				PromptTokens:     int(md.PromptTokenCount),
				CompletionTokens: int(md.CandidatesTokenCount),
				TotalTokens:      int(md.TotalTokenCount),
			}
		}
	}
	return usage, nil
}

func geminiConfig(req Request) *genai.GenerateContentConfig {
	p := req.Params
	cfg := &genai.GenerateContentConfig{
		Temperature:     genai.Ptr(p.Temperature),
		TopK:            genai.Ptr(p.TopK),
		TopP:            genai.Ptr(p.TopP),
		MaxOutputTokens: p.MaxOutputTokens,
	}
	if req.SystemInstruction != "" {
		cfg.SystemInstruction = genai.NewContentFromText(req.SystemInstruction, genai.RoleUser)
	}
	if p.ThinkingBudget > 0 {
		cfg.ThinkingConfig = &genai.ThinkingConfig{ThinkingBudget: genai.Ptr(p.ThinkingBudget)}
	}
	if p.GoogleSearch {
		cfg.Tools = []*genai.Tool{{GoogleSearch: &genai.GoogleSearch{}}}
	}
	return cfg
}

func geminiHistory(turns []domain.ChatTurn) []*genai.Content {
	history := make([]*genai.Content, 0, len(turns))
	for _, t := range turns {
		role := genai.Role(genai.RoleUser)
		if t.Role == domain.RoleModel {
			role = genai.RoleModel
		}
		history = append(history, genai.NewContentFromText(t.Text, role))
	}
	return history
}
