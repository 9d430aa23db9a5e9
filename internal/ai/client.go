package ai

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"skkn-server/internal/domain"

	"go.uber.org/zap"
)

// Params are the sampling settings sent with every request.
type Params struct {
	Temperature     float32
	TopK            float32
	TopP            float32
	MaxOutputTokens int32
	ThinkingBudget  int32
	GoogleSearch    bool
}

// DefaultParams returns the settings the service was tuned with.
func DefaultParams() Params {
	return Params{
		Temperature:     0.7,
		TopK:            64,
		TopP:            0.95,
		MaxOutputTokens: 65536,
		ThinkingBudget:  2048,
		GoogleSearch:    true,
	}
}

// Request is one conversational exchange against the upstream service.
type Request struct {
	Model             string
	APIKey            string
	SystemInstruction string
	History           []domain.ChatTurn
	Message           string
	Params            Params
}

// Usage holds token counts of one request.
type Usage struct {
	PromptTokens     int `json:"promptTokens"`
	CompletionTokens int `json:"completionTokens"`
	TotalTokens      int `json:"totalTokens"`
}

// ChunkHandler receives text fragments in arrival order.
type ChunkHandler func(chunk string) error

// Streamer opens a chat seeded with the request history, sends the message
// and delivers the reply incrementally.
type Streamer interface {
	Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Usage, error)
}

// ProviderConfig selects and configures the upstream implementation.
type ProviderConfig struct {
	Provider string // gemini, openai or ollama
	BaseURL  string
	Timeout  time.Duration
}

// NewStreamer builds the Streamer for the configured provider. The second
// return value reports whether the provider needs API credentials.
func NewStreamer(cfg ProviderConfig, logger *zap.Logger) (Streamer, bool, error) {
	httpClient := &http.Client{Timeout: cfg.Timeout}
	switch strings.ToLower(cfg.Provider) {
	case "gemini", "":
		logger.Info("Using Gemini upstream", zap.String("baseURL", cfg.BaseURL))
		return newGeminiStreamer(cfg.BaseURL, httpClient, logger), true, nil
	case "openai":
		logger.Info("Using OpenAI compatible upstream", zap.String("baseURL", cfg.BaseURL))
		return newOpenAIStreamer(cfg.BaseURL, httpClient, logger), true, nil
	case "ollama":
		s, err := newOllamaStreamer(cfg.BaseURL, httpClient, logger)
		if err != nil {
			return nil, false, err
		}
		return s, false, nil
	default:
		return nil, false, fmt.Errorf("unknown AI provider: '%s'", cfg.Provider)
	}
}
