// Package ai provides the optional commentary generator used by briefings:
// a Completer interface and an OpenAI-compatible chat-completions client.
package ai

import (
	"context"
	"errors"
)

// ErrNotConfigured means no API key or endpoint is set. Callers degrade
// (briefings just skip commentary) instead of logging an error.
var ErrNotConfigured = errors.New("ai completer not configured")

type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Disabled satisfies Completer for deployments without an AI endpoint.
type Disabled struct{}

func (Disabled) Complete(ctx context.Context, prompt string) (string, error) {
	return "", ErrNotConfigured
}
