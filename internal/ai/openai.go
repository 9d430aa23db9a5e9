package ai

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"skkn-server/internal/domain"

	openaigo "github.com/sashabaranov/go-openai"
	"go.uber.org/zap"
)

type openAIStreamer struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func newOpenAIStreamer(baseURL string, httpClient *http.Client, logger *zap.Logger) *openAIStreamer {
	return &openAIStreamer{
		baseURL:    baseURL,
		httpClient: httpClient,
		logger:     logger.Named("OpenAIStreamer"),
	}
}

func (s *openAIStreamer) Stream(ctx context.Context, req Request, onChunk ChunkHandler) (Usage, error) {
	cfg := openaigo.DefaultConfig(req.APIKey)
	if s.baseURL != "" {
		cfg.BaseURL = s.baseURL
	}
	cfg.HTTPClient = s.httpClient
	client := openaigo.NewClientWithConfig(cfg)

	request := openaigo.ChatCompletionRequest{
		Model:         req.Model,
		Messages:      openAIMessages(req),
		Stream:        true,
		Temperature:   req.Params.Temperature,
		TopP:          req.Params.TopP,
		MaxTokens:     int(req.Params.MaxOutputTokens),
		StreamOptions: &openaigo.StreamOptions{IncludeUsage: true},
	}

	stream, err := client.CreateChatCompletionStream(ctx, request)
	if err != nil {
		return Usage{}, fmt.Errorf("create stream: %w", err)
	}
	defer stream.Close()

	var (
		usage   Usage
		builder strings.Builder
	)
	for {
		response, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return usage, fmt.Errorf("read stream: %w", err)
		}
		if response.Usage != nil && response.Usage.TotalTokens > 0 {
			usage = Usage{
				PromptTokens:     response.Usage.PromptTokens,
				CompletionTokens: response.Usage.CompletionTokens,
				TotalTokens:      response.Usage.TotalTokens,
			}
		}
		if len(response.Choices) == 0 {
			continue
		}
		chunk := response.Choices[0].Delta.Content
		if chunk == "" {
			continue
		}
		builder.WriteString(chunk)
		if err := onChunk(chunk); err != nil {
			return usage, err
		}
	}

	if usage.TotalTokens == 0 {
		s.logger.Debug("Final usage block not received, estimating tokens", zap.String("model", req.Model))
		usage = estimateUsage(req, builder.String())
	}
	return usage, nil
}

func openAIMessages(req Request) []openaigo.ChatCompletionMessage {
	messages := make([]openaigo.ChatCompletionMessage, 0, len(req.History)+2)
	if req.SystemInstruction != "" {
		messages = append(messages, openaigo.ChatCompletionMessage{
			Role:    openaigo.ChatMessageRoleSystem,
			Content: req.SystemInstruction,
		})
	}
	for _, t := range req.History {
		role := openaigo.ChatMessageRoleUser
		if t.Role == domain.RoleModel {
			role = openaigo.ChatMessageRoleAssistant
		}
		messages = append(messages, openaigo.ChatCompletionMessage{Role: role, Content: t.Text})
	}
	return append(messages, openaigo.ChatCompletionMessage{
		Role:    openaigo.ChatMessageRoleUser,
		Content: req.Message,
	})
}
