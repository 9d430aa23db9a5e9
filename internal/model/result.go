package model

import (
	"time"

	"github.com/google/uuid"
)

// Action names what a session asked the upstream service to do.
type Action string

const (
	ActionAdvance  Action = "advance"
	ActionFeedback Action = "feedback"
	ActionRevise   Action = "revise"
)

// Result status values.
const (
	StatusSuccess   = "success"
	StatusError     = "error"
	StatusCancelled = "cancelled"
)

// GenerationResult is one ledger row describing an upstream exchange.
type GenerationResult struct {
	ID               uuid.UUID     `db:"id" json:"id"`
	SessionID        uuid.UUID     `db:"session_id" json:"sessionId"`
	Stage            string        `db:"stage" json:"stage"`
	Action           Action        `db:"action" json:"action"`
	Status           string        `db:"status" json:"status"`
	Model            string        `db:"model" json:"model,omitempty"`
	Credential       string        `db:"credential" json:"credential,omitempty"` // masked
	Attempts         int           `db:"attempts" json:"attempts"`
	PromptTokens     int           `db:"prompt_tokens" json:"promptTokens"`
	CompletionTokens int           `db:"completion_tokens" json:"completionTokens"`
	OutputChars      int           `db:"output_chars" json:"outputChars"`
	ProcessingTime   time.Duration `db:"-" json:"-"`
	ProcessingTimeMs int64         `db:"processing_time_ms" json:"processingTimeMs"`
	Error            string        `db:"error" json:"error,omitempty"`
	CreatedAt        time.Time     `db:"created_at" json:"createdAt"`
	CompletedAt      time.Time     `db:"completed_at" json:"completedAt"`
}
