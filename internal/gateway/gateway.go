// Package gateway wraps the remote platform with rate-limit aware retries.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"ChannelMonitor/internal/domain"
	"ChannelMonitor/internal/ports"
)

const (
	defaultJitterMin = 5 * time.Second
	defaultJitterMax = 10 * time.Second
)

// RateLimitedError is the platform's "retry after N seconds" signal.
type RateLimitedError struct {
	Op         string
	RetryAfter time.Duration
	Err        error
}

func (e *RateLimitedError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: rate limited, retry after %s: %v", e.Op, e.RetryAfter, e.Err)
	}
	return fmt.Sprintf("%s: rate limited, retry after %s", e.Op, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return e.Err }

// AsRateLimited extracts a rate-limit signal from err.
func AsRateLimited(err error) (*RateLimitedError, bool) {
	var rl *RateLimitedError
	if errors.As(err, &rl) {
		return rl, true
	}
	return nil, false
}

// Deps wires the adapters and pacing used by the Gateway.
type Deps struct {
	Source    ports.HistorySource
	Forwarder ports.Forwarder
	Resolver  ports.RecipientResolver
	Sleeper   ports.Sleeper
	Jitter    ports.Jitter
	JitterMin time.Duration
	JitterMax time.Duration
	Logger    *slog.Logger
}

// Gateway decorates the remote adapters. Rate-limited calls are retried
// without a ceiling after the server supplied delay plus jitter; any other
// failure is logged and returned to the caller.
type Gateway struct {
	source    ports.HistorySource
	forwarder ports.Forwarder
	resolver  ports.RecipientResolver
	sleeper   ports.Sleeper
	jitter    ports.Jitter
	jitterMin time.Duration
	jitterMax time.Duration
	logger    *slog.Logger
}

var (
	_ ports.HistorySource     = (*Gateway)(nil)
	_ ports.Forwarder         = (*Gateway)(nil)
	_ ports.RecipientResolver = (*Gateway)(nil)
)

// New builds the facade.
func New(deps Deps) *Gateway {
	g := &Gateway{
		source:    deps.Source,
		forwarder: deps.Forwarder,
		resolver:  deps.Resolver,
		sleeper:   deps.Sleeper,
		jitter:    deps.Jitter,
		jitterMin: deps.JitterMin,
		jitterMax: deps.JitterMax,
		logger:    deps.Logger,
	}
	if g.jitterMin <= 0 && g.jitterMax <= 0 {
		g.jitterMin, g.jitterMax = defaultJitterMin, defaultJitterMax
	}
	if g.logger == nil {
		g.logger = slog.New(slog.DiscardHandler)
	}
	return g
}

// FetchHistory fetches one page of channel history.
func (g *Gateway) FetchHistory(ctx context.Context, channel domain.ChannelID, after int64, limit int) ([]domain.MessageRecord, error) {
	if g.source == nil {
		return nil, errors.New("history source is not configured")
	}
	return call(ctx, g, "fetch_history", []any{"channel", channel, "after", after, "limit", limit},
		func(ctx context.Context) ([]domain.MessageRecord, error) {
			return g.source.FetchHistory(ctx, channel, after, limit)
		})
}

// Forward relays a post to one target.
func (g *Gateway) Forward(ctx context.Context, post domain.Post, target domain.RecipientTarget) error {
	if g.forwarder == nil {
		return errors.New("forwarder is not configured")
	}
	// a started forward runs to completion; backoff sleeps still honour ctx
	inFlight := context.WithoutCancel(ctx)
	_, err := call(ctx, g, "forward", []any{"channel", post.Channel, "ids", post.IDs(), "target", target.String()},
		func(context.Context) (struct{}, error) {
			return struct{}{}, g.forwarder.Forward(inFlight, post, target)
		})
	return err
}

// ResolveRecipient resolves a configured recipient reference.
func (g *Gateway) ResolveRecipient(ctx context.Context, ref domain.RecipientRef) (domain.RecipientTarget, error) {
	if g.resolver == nil {
		return domain.RecipientTarget{}, errors.New("recipient resolver is not configured")
	}
	return call(ctx, g, "resolve_recipient", []any{"ref", ref},
		func(ctx context.Context) (domain.RecipientTarget, error) {
			return g.resolver.ResolveRecipient(ctx, ref)
		})
}

func call[T any](ctx context.Context, g *Gateway, op string, attrs []any, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return zero, err
		}

		result, err := fn(ctx)
		if err == nil {
			return result, nil
		}

		rl, limited := AsRateLimited(err)
		if !limited {
			if !errors.Is(err, context.Canceled) {
				g.logger.Debug("remote call failed", append([]any{"op", op, "error", err}, attrs...)...)
			}
			return zero, fmt.Errorf("%s: %w", op, err)
		}

		wait := rl.RetryAfter + g.pick()
		g.logger.Warn("rate limited, backing off",
			append([]any{"op", op, "retry_after", rl.RetryAfter, "wait", wait, "attempt", attempt}, attrs...)...)
		if err := g.sleep(ctx, wait); err != nil {
			return zero, err
		}
	}
}

func (g *Gateway) pick() time.Duration {
	if g.jitter == nil {
		return g.jitterMin
	}
	return g.jitter(g.jitterMin, g.jitterMax)
}

func (g *Gateway) sleep(ctx context.Context, d time.Duration) error {
	if g.sleeper == nil {
		timer := time.NewTimer(d)
		defer timer.Stop()
		select {
		case <-timer.C:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return g.sleeper.Sleep(ctx, d)
}
