package repository

import (
	"context"

	"skkn-server/internal/model"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// ResultRepository stores the generation ledger.
type ResultRepository interface {
	Save(ctx context.Context, result *model.GenerationResult) error
	ListBySession(ctx context.Context, sessionID uuid.UUID, limit int) ([]*model.GenerationResult, error)
}
