package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"skkn-server/internal/credential"
	"skkn-server/internal/domain"

	"go.uber.org/zap"
)

// CredentialPool is the part of credential.Pool the executor rotates over.
type CredentialPool interface {
	Acquire(skip func(key string) bool) (string, error)
	ReportFailure(ctx context.Context, key string, kind domain.ErrorKind, reason string)
	ReportSuccess(ctx context.Context, key string)
	Advance(ctx context.Context)
	RotateToNext(ctx context.Context, reason string) (string, bool)
}

// ModelSelector returns the model chosen by the user, or "".
type ModelSelector interface {
	SelectedModel(ctx context.Context) (string, error)
}

// ExecutorConfig configures model fallback and request settings.
type ExecutorConfig struct {
	Models         []string
	PreferredModel string
	Params         Params
	AttemptTimeout time.Duration
}

// Call is one instruction sent in the context of a conversation.
type Call struct {
	SystemInstruction string
	History           []domain.ChatTurn
	Message           string
}

// Attempt describes one credential/model combination being tried.
type Attempt struct {
	Number     int    `json:"number"`
	Model      string `json:"model"`
	Credential string `json:"credential,omitempty"` // masked
}

// Hooks observe an execution. Both are optional.
type Hooks struct {
	// OnAttempt is called before each attempt. Chunks delivered after it
	// belong to the new attempt only.
	OnAttempt func(Attempt)
	OnChunk   func(chunk string)
}

// Result is the outcome of a successful execution.
type Result struct {
	Text       string
	Model      string
	Credential string // masked
	Usage      Usage
	Attempts   int
}

// Executor runs a Call across the model fallback chain and the credential
// pool until one combination succeeds.
type Executor struct {
	streamer Streamer
	pool     CredentialPool
	selector ModelSelector
	cfg      ExecutorConfig
	logger   *zap.Logger
}

// NewExecutor creates an Executor. pool may be nil for providers that need
// no credential; selector may be nil to always use cfg.PreferredModel.
func NewExecutor(streamer Streamer, pool CredentialPool, selector ModelSelector, cfg ExecutorConfig, logger *zap.Logger) *Executor {
	return &Executor{
		streamer: streamer,
		pool:     pool,
		selector: selector,
		cfg:      cfg,
		logger:   logger.Named("Executor"),
	}
}

// Models returns the fallback chain for the next call.
func (e *Executor) Models(ctx context.Context) []string {
	preferred := e.cfg.PreferredModel
	if e.selector != nil {
		selected, err := e.selector.SelectedModel(ctx)
		if err != nil {
			e.logger.Warn("Failed to read selected model, using default", zap.Error(err))
		} else if selected != "" {
			preferred = selected
		}
	}
	return OrderModels(preferred, e.cfg.Models)
}

// Execute sends the call. Failed attempts are reported to the pool and the
// next credential is tried; the error returned is ErrCancelled when ctx is
// done, and an *domain.ExhaustedError when nothing succeeded.
func (e *Executor) Execute(ctx context.Context, call Call, hooks Hooks) (Result, error) {
	models := e.Models(ctx)
	tried := make(map[string]bool)
	attempts := 0
	var last error

	for {
		if err := ctx.Err(); err != nil {
			return Result{Attempts: attempts}, fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}

		key := ""
		if e.pool != nil {
			k, err := e.pool.Acquire(func(k string) bool { return tried[k] })
			if err != nil {
				if last == nil {
					last = err
				}
				e.logger.Warn("Credentials exhausted", zap.Int("attempts", attempts), zap.Error(last))
				return Result{Attempts: attempts}, &domain.ExhaustedError{Attempts: attempts, Last: last}
			}
			key = k
			tried[key] = true
		}
		masked := ""
		if key != "" {
			masked = credential.Mask(key)
		}

		var (
			usage Usage
			text  string
		)
		model, err := TryInOrder(ctx, models, func(ctx context.Context, model string) error {
			attempts++
			if hooks.OnAttempt != nil {
				hooks.OnAttempt(Attempt{Number: attempts, Model: model, Credential: masked})
			}
			u, t, err := e.attempt(ctx, key, model, call, hooks.OnChunk)
			if err != nil {
				upstream := Classify(model, masked, err)
				e.logger.Warn("Attempt failed",
					zap.Int("attempt", attempts),
					zap.String("model", model),
					zap.String("key", masked),
					zap.String("kind", string(upstream.Kind)),
					zap.Error(err),
				)
				return upstream
			}
			usage, text = u, t
			return nil
		})
		if err == nil {
			if e.pool != nil {
				e.pool.ReportSuccess(ctx, key)
				e.pool.Advance(ctx)
			}
			e.logger.Info("Request succeeded",
				zap.String("model", model),
				zap.String("key", masked),
				zap.Int("attempts", attempts),
				zap.Int("totalTokens", usage.TotalTokens),
			)
			return Result{Text: text, Model: model, Credential: masked, Usage: usage, Attempts: attempts}, nil
		}
		if errors.Is(err, domain.ErrCancelled) {
			return Result{Attempts: attempts}, err
		}
		last = err

		if e.pool == nil {
			return Result{Attempts: attempts}, &domain.ExhaustedError{Attempts: attempts, Last: last}
		}
		kind := domain.KindTransient
		if errors.Is(err, domain.ErrInvalidCredential) {
			kind = domain.KindInvalidCredential
		}
		e.pool.ReportFailure(ctx, key, kind, err.Error())
		e.pool.RotateToNext(ctx, string(kind))
	}
}

func (e *Executor) attempt(ctx context.Context, key, model string, call Call, onChunk func(string)) (Usage, string, error) {
	attemptCtx := ctx
	if e.cfg.AttemptTimeout > 0 {
		var cancel context.CancelFunc
		attemptCtx, cancel = context.WithTimeout(ctx, e.cfg.AttemptTimeout)
		defer cancel()
	}

	req := Request{
		Model:             model,
		APIKey:            key,
		SystemInstruction: call.SystemInstruction,
		History:           call.History,
		Message:           call.Message,
		Params:            e.cfg.Params,
	}

	var builder strings.Builder
	start := time.Now()
	usage, err := e.streamer.Stream(attemptCtx, req, func(chunk string) error {
		if err := ctx.Err(); err != nil {
			return err
		}
		builder.WriteString(chunk)
		if onChunk != nil {
			onChunk(chunk)
		}
		return nil
	})
	aiRequestDuration.WithLabelValues(model).Observe(time.Since(start).Seconds())

	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			err = fmt.Errorf("%w: %w", domain.ErrCancelled, ctxErr)
		}
		status := "error"
		if errors.Is(err, domain.ErrCancelled) {
			status = "cancelled"
		}
		aiRequestsTotal.WithLabelValues(model, status).Inc()
		return usage, builder.String(), err
	}

	aiRequestsTotal.WithLabelValues(model, "success").Inc()
	if usage.PromptTokens > 0 {
		aiPromptTokens.WithLabelValues(model).Observe(float64(usage.PromptTokens))
	}
	if usage.CompletionTokens > 0 {
		aiCompletionTokens.WithLabelValues(model).Observe(float64(usage.CompletionTokens))
	}
	return usage, builder.String(), nil
}
