package handler

import (
	"errors"
	"net/http"

	"skkn-server/internal/domain"
	"skkn-server/internal/export"
	"skkn-server/pkg/taskmanager"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// APIError is the body of every error response.
type APIError struct {
	Message string            `json:"message"`
	Details *domain.ErrorInfo `json:"details,omitempty"`
}

func handleServiceError(c *gin.Context, err error) {
	var statusCode int
	apiErr := APIError{Message: err.Error()}

	switch {
	case errors.Is(err, domain.ErrSessionNotFound), errors.Is(err, domain.ErrCredentialUnknown),
		errors.Is(err, taskmanager.ErrTaskNotFound):
		statusCode = http.StatusNotFound
	case errors.Is(err, domain.ErrBusy), errors.Is(err, domain.ErrReviewPending),
		errors.Is(err, domain.ErrNotInReview), errors.Is(err, domain.ErrTerminalStage),
		errors.Is(err, domain.ErrFeedbackNotAllowed), errors.Is(err, domain.ErrNothingToRetry),
		errors.Is(err, domain.ErrCredentialExists):
		statusCode = http.StatusConflict
		info := domain.DescribeError(err)
		apiErr.Details = &info
	case errors.Is(err, domain.ErrEmptyFeedback), errors.Is(err, domain.ErrCredentialInvalid),
		errors.Is(err, domain.ErrPoolFull), errors.Is(err, export.ErrEmptyDocument):
		statusCode = http.StatusBadRequest
	case errors.Is(err, taskmanager.ErrTooManyTasks):
		statusCode = http.StatusTooManyRequests
	case errors.Is(err, taskmanager.ErrClosed):
		statusCode = http.StatusServiceUnavailable
	default:
		zap.L().Error("Unhandled internal error in handleServiceError", zap.Error(err))
		statusCode = http.StatusInternalServerError
		apiErr.Message = "An unexpected internal error occurred"
	}

	c.AbortWithStatusJSON(statusCode, apiErr)
}

func abortBadRequest(c *gin.Context, message string) {
	c.AbortWithStatusJSON(http.StatusBadRequest, APIError{Message: message})
}
