// Package ai defines the AI capability the agent runtime depends on and the
// concrete providers that implement it. The runtime only sees the Provider
// interface; vendor protocols stay behind it.
package ai

import (
	"context"
	"errors"
)

// ErrUnavailable indicates the provider could not be reached (network or
// auth failure). Callers treat it as a signal to engage deterministic
// fallback behavior rather than as a task failure.
var ErrUnavailable = errors.New("ai provider unavailable")

// Usage reports token consumption for a single exchange. It is an explicit,
// versioned contract: providers fill in whatever their API reports and leave
// the rest zero.
type Usage struct {
	InputTokens  int64 `json:"inputTokens"`
	OutputTokens int64 `json:"outputTokens"`
}

// Response is the provider-neutral answer to a single question.
type Response struct {
	Text  string `json:"text"`
	Model string `json:"model,omitempty"`
	Usage Usage  `json:"usage"`
}

// Provider is the abstract "ask the model" capability.
type Provider interface {
	// Ask sends one system context + question pair and returns the answer.
	// Network and auth failures are reported wrapping ErrUnavailable.
	Ask(ctx context.Context, system, prompt string) (*Response, error)

	// Name identifies the provider for logs and status output.
	Name() string
}
