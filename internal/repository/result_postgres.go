package repository

import (
	"context"
	"fmt"
	"time"

	"skkn-server/internal/model"

	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	saveResultQuery = `
        INSERT INTO generation_results
        (id, session_id, stage, action, status, model, credential, attempts,
         prompt_tokens, completion_tokens, output_chars, processing_time_ms, error, created_at, completed_at)
        VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)
        ON CONFLICT (id) DO UPDATE SET
            status = EXCLUDED.status,
            model = EXCLUDED.model,
            credential = EXCLUDED.credential,
            attempts = EXCLUDED.attempts,
            prompt_tokens = EXCLUDED.prompt_tokens,
            completion_tokens = EXCLUDED.completion_tokens,
            output_chars = EXCLUDED.output_chars,
            processing_time_ms = EXCLUDED.processing_time_ms,
            error = EXCLUDED.error,
            completed_at = EXCLUDED.completed_at
    `
	listResultsBySessionQuery = `
        SELECT id, session_id, stage, action, status, model, credential, attempts,
               prompt_tokens, completion_tokens, output_chars, processing_time_ms, error, created_at, completed_at
        FROM generation_results
        WHERE session_id = $1
        ORDER BY created_at DESC
        LIMIT $2
    `
)

type postgresResultRepository struct {
	db     DBTX
	logger *zap.Logger
}

// NewPostgresResultRepository creates the Postgres backed ledger.
func NewPostgresResultRepository(db DBTX, logger *zap.Logger) ResultRepository {
	return &postgresResultRepository{db: db, logger: logger.Named("ResultRepo")}
}

// Save inserts or updates a ledger row.
func (r *postgresResultRepository) Save(ctx context.Context, result *model.GenerationResult) error {
	log := r.logger.With(zap.String("resultID", result.ID.String()), zap.String("sessionID", result.SessionID.String()))

	processingTimeMs := result.ProcessingTimeMs
	if processingTimeMs == 0 {
		processingTimeMs = result.ProcessingTime.Milliseconds()
	}
	_, err := r.db.Exec(ctx, saveResultQuery,
		result.ID,
		result.SessionID,
		result.Stage,
		result.Action,
		result.Status,
		result.Model,
		result.Credential,
		result.Attempts,
		result.PromptTokens,
		result.CompletionTokens,
		result.OutputChars,
		processingTimeMs,
		result.Error,
		result.CreatedAt,
		result.CompletedAt,
	)
	if err != nil {
		log.Error("Failed to save generation result", zap.Error(err))
		return fmt.Errorf("failed to save generation result %s: %w", result.ID, err)
	}
	log.Debug("Generation result saved", zap.String("status", result.Status))
	return nil
}

// ListBySession returns the newest rows of a session first.
func (r *postgresResultRepository) ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*model.GenerationResult, error) {
	if limit <= 0 {
		limit = 50
	}
	var results []*model.GenerationResult
	if err := pgxscan.Select(ctx, r.db, &results, listResultsBySessionQuery, sessionID, limit); err != nil {
		r.logger.Error("Failed to list generation results", zap.String("sessionID", sessionID.String()), zap.Error(err))
		return nil, fmt.Errorf("failed to list generation results for session %s: %w", sessionID, err)
	}
	for _, res := range results {
		res.ProcessingTime = time.Duration(res.ProcessingTimeMs) * time.Millisecond
	}
	return results, nil
}
