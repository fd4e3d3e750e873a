package llm

import (
	"context"
	"errors"

	"github.com/rs/zerolog/log"
)

// Router tries each configured backend in order and returns the first
// success. Rate-limit and availability errors fall through to the next
// backend; other errors abort immediately, since a prompt the first model
// rejects will fare no better elsewhere.
type Router struct {
	providers []Provider
}

// NewRouter builds a router over the given backends in preference order.
func NewRouter(providers ...Provider) *Router {
	return &Router{providers: providers}
}

// Configured reports whether any backend is available.
func (r *Router) Configured() bool { return len(r.providers) > 0 }

// Primary returns the first backend's name, or "" when none is configured.
func (r *Router) Primary() string {
	if len(r.providers) == 0 {
		return ""
	}
	return r.providers[0].Name()
}

// Chat routes a conversation with fallback.
func (r *Router) Chat(ctx context.Context, messages []Message, opts *ChatOptions) (*Response, error) {
	if len(r.providers) == 0 {
		return nil, ErrNoProviders
	}
	var lastErr error
	for _, p := range r.providers {
		resp, err := p.Chat(ctx, messages, opts)
		if err == nil {
			return resp, nil
		}
		lastErr = err
		if errors.Is(err, ErrRateLimit) || errors.Is(err, ErrProviderDown) {
			log.Warn().Err(err).Str("provider", p.Name()).Msg("llm backend unavailable, falling back")
			continue
		}
		return nil, err
	}
	return nil, lastErr
}
