package reasoning

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/metalagman/plancheck/internal/model"
	"github.com/rs/zerolog/log"
)

// Middleware decorates a Client.
type Middleware func(Client) Client

// Chain applies mws so that the first one is outermost.
func Chain(c Client, mws ...Middleware) Client {
	for i := len(mws) - 1; i >= 0; i-- {
		c = mws[i](c)
	}
	return c
}

// WithTimeout bounds every call. An exceeded budget is an ordinary call error.
func WithTimeout(d time.Duration) Middleware {
	return func(next Client) Client {
		if d <= 0 {
			return next
		}
		return ClientFunc(func(ctx context.Context, req Request) (Response, error) {
			ctx, cancel := context.WithTimeout(ctx, d)
			defer cancel()
			resp, err := next.Infer(ctx, req)
			if err != nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
				return Response{Usage: resp.Usage}, fmt.Errorf("%s: call exceeded %s: %w", req.Label, d, err)
			}
			return resp, err
		})
	}
}

// WithRetry retries failed calls up to retries extra times with exponential
// backoff starting at base. A cancelled parent context stops immediately.
// The returned Usage sums every attempt.
func WithRetry(retries int, base time.Duration) Middleware {
	return func(next Client) Client {
		if retries <= 0 {
			return next
		}
		if base <= 0 {
			base = defaultBackoff
		}
		return ClientFunc(func(ctx context.Context, req Request) (Response, error) {
			var (
				last  error
				spent model.Usage
			)
			for attempt := 0; attempt <= retries; attempt++ {
				resp, err := next.Infer(ctx, req)
				spent = spent.Add(resp.Usage)
				if err == nil {
					resp.Usage = spent
					return resp, nil
				}
				last = err
				if attempt == retries {
					break
				}
				delay := base * time.Duration(1<<attempt)
				log.Warn().Err(err).
					Str("label", req.Label).
					Int("attempt", attempt+1).
					Dur("backoff", delay).
					Msg("reasoning call failed, retrying")
				t := time.NewTimer(delay)
				select {
				case <-ctx.Done():
					t.Stop()
					return Response{Usage: spent}, ctx.Err()
				case <-t.C:
				}
			}
			return Response{Usage: spent}, last
		})
	}
}

// New builds the configured Gemini client with timeout and retries applied.
// The timeout covers each attempt separately.
func New(ctx context.Context, cfg Config, httpClient *http.Client) (Client, error) {
	gc, err := NewGeminiClient(ctx, cfg, httpClient)
	if err != nil {
		return nil, err
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	return Chain(gc, WithRetry(cfg.MaxRetries, cfg.Backoff), WithTimeout(timeout)), nil
}
