package ai

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

// ErrProviderUnavailable is returned when every configured provider
// has failed for a request.
var ErrProviderUnavailable = errors.New("all AI providers unavailable")

// Message is one role-tagged entry in a completion request.
type Message struct {
	Role    string `json:"role"` // system, user, assistant
	Content string `json:"content"`
}

// Request describes one completion call. Model selection belongs to
// the provider; callers only set conversation and sampling knobs.
type Request struct {
	Messages    []Message
	MaxTokens   int
	Temperature float64
}

// Provider is a single hosted LLM backend.
type Provider interface {
	Name() string
	Complete(ctx context.Context, req Request) (string, error)
}

// Gateway dispatches completion requests to an ordered list of
// capability-equivalent providers, trying each in sequence. There is
// no retry beyond the list.
type Gateway struct {
	providers []Provider
	log       *slog.Logger
}

// NewGateway builds a gateway over the given providers, primary first.
func NewGateway(log *slog.Logger, providers ...Provider) *Gateway {
	return &Gateway{providers: providers, log: log}
}

// Complete sends the request to each provider in order and returns the
// first successful result. When all providers fail the returned error
// wraps ErrProviderUnavailable.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	if len(g.providers) == 0 {
		return "", fmt.Errorf("%w: no providers configured", ErrProviderUnavailable)
	}

	var errs []error
	for _, p := range g.providers {
		text, err := p.Complete(ctx, req)
		if err == nil {
			return text, nil
		}
		g.log.Warn("provider failed",
			slog.String("provider", p.Name()), slog.Any("err", err))
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))

		if ctx.Err() != nil {
			break // caller gone, stop burning providers
		}
	}

	return "", fmt.Errorf("%w: %w", ErrProviderUnavailable, errors.Join(errs...))
}
