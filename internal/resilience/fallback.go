package resilience

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/MrWong99/callpilot/internal/observe"
)

// ErrAllFailed is returned when every entry in a [FallbackGroup] fails or has an
// open circuit breaker. The last entry's error is wrapped alongside it, so
// errors.Is still sees causes such as context.DeadlineExceeded.
var ErrAllFailed = errors.New("all providers failed")

// FallbackConfig configures the per-entry circuit breaker created for each
// provider in a [FallbackGroup].
type FallbackConfig struct {
	CircuitBreaker CircuitBreakerConfig
}

// fallbackEntry pairs a provider value with its dedicated circuit breaker.
type fallbackEntry[T any] struct {
	name    string
	value   T
	breaker *CircuitBreaker
}

// FallbackGroup wraps a primary and zero or more fallback instances of the same
// provider type. When the primary fails (or its circuit breaker is open), the
// next healthy fallback is tried in registration order.
//
// Entries must be registered before the group is shared between goroutines;
// after that FallbackGroup is safe for concurrent use.
type FallbackGroup[T any] struct {
	entries  []fallbackEntry[T]
	cfg      FallbackConfig
	answered func(ctx context.Context, name string, attempt int)
}

// NewFallbackGroup creates a [FallbackGroup] with primary as the first entry.
// Additional fallbacks are registered via [FallbackGroup.AddFallback].
func NewFallbackGroup[T any](primary T, primaryName string, cfg FallbackConfig) *FallbackGroup[T] {
	fg := &FallbackGroup[T]{cfg: cfg}
	fg.AddFallback(primaryName, primary)
	return fg
}

// AddFallback appends a fallback provider. Fallbacks are tried in the order they
// are added, after the primary.
func (fg *FallbackGroup[T]) AddFallback(name string, fallback T) {
	cbCfg := fg.cfg.CircuitBreaker
	cbCfg.Name = name
	fg.entries = append(fg.entries, fallbackEntry[T]{
		name:    name,
		value:   fallback,
		breaker: NewCircuitBreaker(cbCfg),
	})
}

// OnAnswer registers fn to run after an entry succeeds, with the entry's name
// and its position in the group (0 is the primary). Like AddFallback it must
// be called before the group is shared.
func (fg *FallbackGroup[T]) OnAnswer(fn func(ctx context.Context, name string, attempt int)) {
	fg.answered = fn
}

// Len returns the number of registered entries, primary included.
func (fg *FallbackGroup[T]) Len() int { return len(fg.entries) }

// States returns each entry's breaker state keyed by entry name.
func (fg *FallbackGroup[T]) States() map[string]State {
	out := make(map[string]State, len(fg.entries))
	for i := range fg.entries {
		out[fg.entries[i].name] = fg.entries[i].breaker.State()
	}
	return out
}

// Execute tries fn against each entry in order until one succeeds. It is a
// thin wrapper around [ExecuteWithResult].
func (fg *FallbackGroup[T]) Execute(ctx context.Context, fn func(T) error) error {
	_, err := ExecuteWithResult(ctx, fg, func(v T) (struct{}, error) {
		return struct{}{}, fn(v)
	})
	return err
}

// ExecuteWithResult tries fn against each entry in the group until one succeeds,
// returning both the result value and error. Circuit-breaker-open entries are
// skipped. Once ctx is done no further entries are tried: the caller's
// deadline covers the whole group, not each entry. This is a package-level
// function because Go does not support method-level type parameters.
func ExecuteWithResult[T any, R any](ctx context.Context, fg *FallbackGroup[T], fn func(T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for i := range fg.entries {
		if err := ctx.Err(); err != nil {
			if lastErr == nil {
				lastErr = err
			}
			return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
		}
		entry := &fg.entries[i]
		var result R
		err := entry.breaker.Execute(func() error {
			var innerErr error
			result, innerErr = fn(entry.value)
			return innerErr
		})
		if err == nil {
			if fg.answered != nil {
				fg.answered(ctx, entry.name, i)
			}
			return result, nil
		}
		lastErr = err
		if errors.Is(err, ErrCircuitOpen) {
			observe.Logger(ctx).Debug("skipping provider (circuit open)", "provider", entry.name)
		} else {
			observe.Logger(ctx).Warn("provider failed, trying next",
				"provider", entry.name, "err", err)
		}
	}
	return zero, fmt.Errorf("%w: %w", ErrAllFailed, lastErr)
}

// annotateAnswer returns an [FallbackGroup.OnAnswer] hook that tags the
// caller's span with the backend that served the slot and logs failovers.
func annotateAnswer(slot string) func(ctx context.Context, name string, attempt int) {
	return func(ctx context.Context, name string, attempt int) {
		span := trace.SpanFromContext(ctx)
		span.SetAttributes(attribute.String(slot+".provider", name))
		if attempt == 0 {
			return
		}
		span.AddEvent("failover", trace.WithAttributes(
			attribute.String("slot", slot),
			attribute.String("provider", name),
			attribute.Int("attempt", attempt),
		))
		observe.Logger(ctx).Info("fallback provider answered", "slot", slot, "provider", name, "attempt", attempt)
	}
}
