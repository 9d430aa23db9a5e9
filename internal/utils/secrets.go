package utils

import (
	"errors"
	"fmt"
	"os"
	"strings"
)

// SecretsDir is where Docker mounts secret files.
var SecretsDir = "/run/secrets"

// ErrSecretMissing is returned when the secret file does not exist.
var ErrSecretMissing = errors.New("secret not found")

// ReadSecret reads a secret from the Docker secrets directory.
func ReadSecret(secretName string) (string, error) {
	filePath := fmt.Sprintf("%s/%s", SecretsDir, secretName)
	secretBytes, err := os.ReadFile(filePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("%w: %s", ErrSecretMissing, filePath)
		}
		return "", fmt.Errorf("failed to read secret file %s: %w", filePath, err)
	}
	secret := strings.TrimSpace(string(secretBytes))
	if secret == "" {
		return "", fmt.Errorf("secret file %s is empty", filePath)
	}
	return secret, nil
}

// ReadOptionalSecret returns the secret, or fallback when the file is absent.
func ReadOptionalSecret(secretName, fallback string) (string, error) {
	secret, err := ReadSecret(secretName)
	if errors.Is(err, ErrSecretMissing) {
		return fallback, nil
	}
	return secret, err
}

// SplitList splits a comma separated value, dropping blanks.
func SplitList(raw string) []string {
	var out []string
	for _, part := range strings.Split(raw, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}
