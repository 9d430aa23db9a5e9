package ai

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"

	"skkn-server/internal/domain"

	"github.com/ollama/ollama/api"
	"go.uber.org/zap"
)

const defaultOllamaURL = "http://localhost:11434"

type ollamaStreamer struct {
	client *api.Client
	logger *zap.Logger
}

func newOllamaStreamer(baseURL string, httpClient *http.Client, logger *zap.Logger) (*ollamaStreamer, error) {
	// api.NewClient wants the URL without the /v1 suffix
	ollamaBaseURL := strings.TrimSuffix(baseURL, "/v1")
	ollamaBaseURL = strings.TrimSuffix(ollamaBaseURL, "/")
	if ollamaBaseURL == "" {
		ollamaBaseURL = defaultOllamaURL
	}
	parsedURL, err := url.Parse(ollamaBaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse Ollama base URL '%s': %w", ollamaBaseURL, err)
	}
	logger.Info("Using Ollama upstream", zap.String("baseURL", ollamaBaseURL))
	return &ollamaStreamer{
		client: api.NewClient(parsedURL, httpClient),
		logger: logger.Named("OllamaStreamer"),
	}, nil
}

// Stream ignores req.APIKey; a local Ollama server needs no credential.
func (s *ollamaStreamer) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Usage, error) {
	stream := true
	chatReq := &api.ChatRequest{
		Model:    req.Model,
		Messages: ollamaMessages(req),
		Stream:   &stream,
		Options: map[string]interface{}{
			"temperature": req.Params.Temperature,
			"top_k":       req.Params.TopK,
			"top_p":       req.Params.TopP,
			"num_predict": req.Params.MaxOutputTokens,
		},
	}

	var usage Usage
	err := s.client.Chat(ctx, chatReq, func(resp api.ChatResponse) error {
		if resp.Message.Content != "" {
			if err := onChunk(resp.Message.Content); err != nil {
				return err
			}
		}
		if resp.Done {
			usage = Usage{
				PromptTokens:     resp.PromptEvalCount,
				CompletionTokens: resp.EvalCount,
				TotalTokens:      resp.PromptEvalCount + resp.EvalCount,
			}
			if resp.DoneReason != "" && resp.DoneReason != "stop" {
				s.logger.Warn("Ollama stream finished without 'stop'", zap.String("reason", resp.DoneReason))
			}
		}
		return nil
	})
	return usage, err
}

func ollamaMessages(req Request) []api.Message {
	messages := make([]api.Message, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, api.Message{Role: "system", Content: req.SystemInstruction})
	}
	for _, t := range req.History {
		role := "user"
		if t.Role == domain.RoleModel {
			role = "assistant"
		}
		messages = append(messages, api.Message{Role: role, Content: t.Text})
	}
	return append(messages, api.Message{Role: "user", Content: req.Message})
}
