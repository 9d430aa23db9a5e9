package ai

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"skkn-server/internal/domain"
)

// FallbackError is returned by TryInOrder when every model failed.
type FallbackError struct {
	Models []string
	Last   error
}

func (e *FallbackError) Error() string {
	return fmt.Sprintf("all models failed (%s): %v", strings.Join(e.Models, ", "), e.Last)
}

func (e *FallbackError) Unwrap() error { return e.Last }

// OrderModels puts the preferred model first, followed by the remaining
// defaults in their configured order. A preferred model outside the list
// keeps the default order.
func OrderModels(preferred string, defaults []string) []string {
	ordered := make([]string, 0, len(defaults))
	if preferred != "" && slices.Contains(defaults, preferred) {
		ordered = append(ordered, preferred)
	}
	for _, m := range defaults {
		if m == "" || slices.Contains(ordered, m) {
			continue
		}
		ordered = append(ordered, m)
	}
	return ordered
}

// TryInOrder calls attempt for each model in order and returns the first
// model that succeeded. It stops early when the context is done, or when
// the failure is not a model problem (invalid credential, cancellation).
func TryInOrder(ctx context.Context, models []string, attempt func(ctx context.Context, model string) error) (string, error) {
	if len(models) == 0 {
		return "", &FallbackError{Last: errors.New("no models configured")}
	}
	var lastErr error
	for _, model := range models {
		if err := ctx.Err(); err != nil {
			return "", fmt.Errorf("%w: %w", domain.ErrCancelled, err)
		}
		err := attempt(ctx, model)
		if err == nil {
			return model, nil
		}
		lastErr = err
		if errors.Is(err, domain.ErrCancelled) || errors.Is(err, domain.ErrInvalidCredential) {
			return "", err
		}
	}
	return "", &FallbackError{Models: models, Last: lastErr}
}
