package ai

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"testing"

	"skkn-server/internal/domain"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"google.golang.org/genai"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want domain.ErrorKind
	}{
		{"gemini bad key", genai.APIError{Code: http.StatusBadRequest, Message: "API key not valid. Please pass a valid API key.", Status: "INVALID_ARGUMENT"}, domain.KindInvalidCredential},
		{"gemini forbidden", genai.APIError{Code: http.StatusForbidden, Message: "forbidden"}, domain.KindInvalidCredential},
		{"gemini rate limit", genai.APIError{Code: http.StatusTooManyRequests, Message: "Resource has been exhausted"}, domain.KindTransient},
		{"gemini overloaded wrapped", fmt.Errorf("stream: %w", genai.APIError{Code: http.StatusServiceUnavailable, Message: "The model is overloaded"}), domain.KindTransient},
		{"openai unauthorized", &openaigo.APIError{HTTPStatusCode: http.StatusUnauthorized, Message: "Incorrect API key provided"}, domain.KindInvalidCredential},
		{"openai request error", &openaigo.RequestError{HTTPStatusCode: http.StatusBadGateway, Err: errors.New("bad gateway")}, domain.KindTransient},
		{"ollama status", api.StatusError{StatusCode: http.StatusInternalServerError, ErrorMessage: "model crashed"}, domain.KindTransient},
		{"marker in text", errors.New("got API_KEY_INVALID from upstream"), domain.KindInvalidCredential},
		{"timeout", context.DeadlineExceeded, domain.KindTransient},
		{"cancel", fmt.Errorf("read: %w", context.Canceled), domain.KindCancelled},
		{"plain", errors.New("connection reset by peer"), domain.KindTransient},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify("gemini-2.5-flash", "AIza...0001", tt.err)
			assert.Equal(t, tt.want, got.Kind)
			assert.Equal(t, tt.err, got.Err)
		})
	}

	t.Run("nil", func(t *testing.T) {
		assert.Nil(t, Classify("m", "", nil))
	})

	t.Run("already classified", func(t *testing.T) {
		in := &domain.UpstreamError{Kind: domain.KindInvalidCredential, Err: errors.New("x")}
		assert.Same(t, in, Classify("m", "", fmt.Errorf("wrap: %w", in)))
	})
}
