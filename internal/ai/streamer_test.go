package ai

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"skkn-server/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func testRequest() Request {
	return Request{
		Model:             "gpt-4o-mini",
		APIKey:            "sk-test-0123456789",
		SystemInstruction: "Bạn là chuyên gia viết SKKN.",
		History: []domain.ChatTurn{
			{Role: domain.RoleUser, Text: "Lập dàn ý"},
			{Role: domain.RoleModel, Text: "Dàn ý..."},
		},
		Message: "Viết phần I và II",
		Params:  DefaultParams(),
	}
}

func TestOpenAIStreamer(t *testing.T) {
	t.Run("streams chunks and reads usage", func(t *testing.T) {
		var body map[string]any
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			assert.Equal(t, "/v1/chat/completions", r.URL.Path)
			assert.Equal(t, "Bearer sk-test-0123456789", r.Header.Get("Authorization"))
			raw, _ := io.ReadAll(r.Body)
			assert.NoError(t, json.Unmarshal(raw, &body))

			w.Header().Set("Content-Type", "text/event-stream")
			for _, c := range []string{"PHẦN I", ". MỞ ĐẦU"} {
				fmt.Fprintf(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[{\"index\":0,\"delta\":{\"content\":%q}}]}\n\n", c)
			}
			fmt.Fprint(w, "data: {\"id\":\"1\",\"object\":\"chat.completion.chunk\",\"choices\":[],\"usage\":{\"prompt_tokens\":42,\"completion_tokens\":7,\"total_tokens\":49}}\n\n")
			fmt.Fprint(w, "data: [DONE]\n\n")
		}))
		defer srv.Close()

		s := newOpenAIStreamer(srv.URL+"/v1", srv.Client(), zap.NewNop())
		var chunks []string
		usage, err := s.Stream(context.Background(), testRequest(), func(c string) error {
			chunks = append(chunks, c)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, []string{"PHẦN I", ". MỞ ĐẦU"}, chunks)
		assert.Equal(t, Usage{PromptTokens: 42, CompletionTokens: 7, TotalTokens: 49}, usage)

		messages := body["messages"].([]any)
		require.Len(t, messages, 4)
		assert.Equal(t, "system", messages[0].(map[string]any)["role"])
		assert.Equal(t, "assistant", messages[2].(map[string]any)["role"])
		assert.Equal(t, "Viết phần I và II", messages[3].(map[string]any)["content"])
	})

	t.Run("unauthorized is an invalid credential", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.Header().Set("Content-Type", "application/json")
			w.WriteHeader(http.StatusUnauthorized)
			fmt.Fprint(w, `{"error":{"message":"Incorrect API key provided","type":"invalid_request_error","code":"invalid_api_key"}}`)
		}))
		defer srv.Close()

		s := newOpenAIStreamer(srv.URL+"/v1", srv.Client(), zap.NewNop())
		_, err := s.Stream(context.Background(), testRequest(), func(string) error { return nil })
		require.Error(t, err)
		assert.Equal(t, domain.KindInvalidCredential, Classify("gpt-4o-mini", "", err).Kind)
	})
}

func TestOllamaStreamer(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/chat", r.URL.Path)
		var req struct {
			Model    string `json:"model"`
			Messages []struct {
				Role    string `json:"role"`
				Content string `json:"content"`
			} `json:"messages"`
		}
		assert.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "qwen2.5", req.Model)
		if assert.Len(t, req.Messages, 4) {
			assert.Equal(t, "assistant", req.Messages[2].Role)
		}

		w.Header().Set("Content-Type", "application/x-ndjson")
		now := time.Now().UTC().Format(time.RFC3339Nano)
		fmt.Fprintf(w, "{\"model\":\"qwen2.5\",\"created_at\":%q,\"message\":{\"role\":\"assistant\",\"content\":\"Giải \"},\"done\":false}\n", now)
		fmt.Fprintf(w, "{\"model\":\"qwen2.5\",\"created_at\":%q,\"message\":{\"role\":\"assistant\",\"content\":\"pháp\"},\"done\":false}\n", now)
		fmt.Fprintf(w, "{\"model\":\"qwen2.5\",\"created_at\":%q,\"message\":{\"role\":\"assistant\",\"content\":\"\"},\"done\":true,\"done_reason\":\"stop\",\"prompt_eval_count\":30,\"eval_count\":2}\n", now)
	}))
	defer srv.Close()

	s, err := newOllamaStreamer(srv.URL+"/v1", srv.Client(), zap.NewNop())
	require.NoError(t, err)

	req := testRequest()
	req.Model = "qwen2.5"
	var text string
	usage, err := s.Stream(context.Background(), req, func(c string) error {
		text += c
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "Giải pháp", text)
	assert.Equal(t, Usage{PromptTokens: 30, CompletionTokens: 2, TotalTokens: 32}, usage)
}

func TestGeminiRequestMapping(t *testing.T) {
	req := testRequest()
	cfg := geminiConfig(req)
	require.NotNil(t, cfg.Temperature)
	assert.InDelta(t, 0.7, *cfg.Temperature, 0.001)
	assert.Equal(t, int32(65536), cfg.MaxOutputTokens)
	require.NotNil(t, cfg.ThinkingConfig)
	assert.Equal(t, int32(2048), *cfg.ThinkingConfig.ThinkingBudget)
	require.Len(t, cfg.Tools, 1)
	assert.NotNil(t, cfg.Tools[0].GoogleSearch)
	require.NotNil(t, cfg.SystemInstruction)

	history := geminiHistory(req.History)
	require.Len(t, history, 2)
	assert.Equal(t, "user", history[0].Role)
	assert.Equal(t, "model", history[1].Role)
}
