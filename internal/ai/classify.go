package ai

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"skkn-server/internal/domain"

	"github.com/ollama/ollama/api"
	openaigo "github.com/sashabaranov/go-openai"
	"google.golang.org/genai"
)

var invalidKeyMarkers = []string{
	"api_key_invalid",
	"api key not valid",
	"invalid api key",
	"incorrect api key",
	"permission_denied",
}

// Classify translates a provider error into the upstream taxonomy.
func Classify(model, maskedKey string, err error) *domain.UpstreamError {
	if err == nil {
		return nil
	}
	var classified *domain.UpstreamError
	if errors.As(err, &classified) {
		return classified
	}
	return &domain.UpstreamError{
		Kind:       classifyKind(err),
		Model:      model,
		Credential: maskedKey,
		Err:        err,
	}
}

func classifyKind(err error) domain.ErrorKind {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, domain.ErrCancelled):
		return domain.KindCancelled
	case errors.Is(err, context.DeadlineExceeded):
		return domain.KindTransient
	}

	if status, ok := statusCode(err); ok && (status == http.StatusUnauthorized || status == http.StatusForbidden) {
		return domain.KindInvalidCredential
	}

	message := strings.ToLower(err.Error())
	for _, marker := range invalidKeyMarkers {
		if strings.Contains(message, marker) {
			return domain.KindInvalidCredential
		}
	}
	return domain.KindTransient
}

func statusCode(err error) (int, bool) {
	var geminiErr genai.APIError
	if errors.As(err, &geminiErr) {
		return geminiErr.Code, true
	}
	var openaiErr *openaigo.APIError
	if errors.As(err, &openaiErr) {
		return openaiErr.HTTPStatusCode, true
	}
	var requestErr *openaigo.RequestError
	if errors.As(err, &requestErr) {
		return requestErr.HTTPStatusCode, true
	}
	var ollamaErr api.StatusError
	if errors.As(err, &ollamaErr) {
		return ollamaErr.StatusCode, true
	}
	return 0, false
}
