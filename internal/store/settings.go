package store

import (
	"context"
	"errors"
)

// Settings wraps the user preferences kept next to the credentials.
type Settings struct {
	kv KV
}

func NewSettings(kv KV) *Settings {
	return &Settings{kv: kv}
}

// SelectedModel returns the preferred model, or "" when none was chosen.
func (s *Settings) SelectedModel(ctx context.Context) (string, error) {
	var model string
	err := GetJSON(ctx, s.kv, KeySelectedModel, &model)
	if errors.Is(err, ErrNotFound) {
		return "", nil
	}
	return model, err
}

func (s *Settings) SetSelectedModel(ctx context.Context, model string) error {
	return SetJSON(ctx, s.kv, KeySelectedModel, model)
}

// Unlocked reports the stored unlock flag.
func (s *Settings) Unlocked(ctx context.Context) (bool, error) {
	var unlocked bool
	err := GetJSON(ctx, s.kv, KeyUnlocked, &unlocked)
	if errors.Is(err, ErrNotFound) {
		return false, nil
	}
	return unlocked, err
}

func (s *Settings) SetUnlocked(ctx context.Context, unlocked bool) error {
	return SetJSON(ctx, s.kv, KeyUnlocked, unlocked)
}
