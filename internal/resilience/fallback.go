// Package resilience implements ordered provider failover. Providers are
// tried strictly in registration order on every call; there is no circuit
// state carried between calls, so a recovered primary is used again on the
// very next utterance.
package resilience

import (
	"errors"
	"fmt"
	"log/slog"
)

// ErrAllFailed is returned when every entry in a [Chain] fails.
var ErrAllFailed = errors.New("all providers failed")

type chainEntry[T any] struct {
	name  string
	value T
}

// Chain wraps a primary and zero or more fallback instances of the same
// provider type. When an entry fails, the next is tried in registration
// order.
//
// Chain is safe for concurrent use once built; Add must not race with
// Execute.
type Chain[T any] struct {
	entries []chainEntry[T]
}

// NewChain creates a [Chain] with primary as the first entry.
func NewChain[T any](primary T, primaryName string) *Chain[T] {
	return &Chain[T]{entries: []chainEntry[T]{{name: primaryName, value: primary}}}
}

// Add appends a fallback provider. Fallbacks are tried in the order they are
// added, after the primary.
func (c *Chain[T]) Add(name string, fallback T) {
	c.entries = append(c.entries, chainEntry[T]{name: name, value: fallback})
}

// Len reports the number of entries in the chain.
func (c *Chain[T]) Len() int { return len(c.entries) }

// Names returns the entry names in try order.
func (c *Chain[T]) Names() []string {
	names := make([]string, len(c.entries))
	for i, e := range c.entries {
		names[i] = e.name
	}
	return names
}

// Execute tries fn against each entry in order until one succeeds. Returns
// [ErrAllFailed] wrapped with the last error if every entry fails.
func (c *Chain[T]) Execute(fn func(name string, v T) error) error {
	var lastErr error
	for _, entry := range c.entries {
		err := fn(entry.name, entry.value)
		if err == nil {
			return nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
	}
	return fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}

// ExecuteWithResult tries fn against each entry in the chain until one
// succeeds, returning both the result value and error. This is a
// package-level function because Go does not support method-level type
// parameters.
func ExecuteWithResult[T any, R any](c *Chain[T], fn func(name string, v T) (R, error)) (R, error) {
	var (
		lastErr error
		zero    R
	)
	for _, entry := range c.entries {
		result, err := fn(entry.name, entry.value)
		if err == nil {
			return result, nil
		}
		lastErr = err
		slog.Warn("provider failed, trying next", "provider", entry.name, "error", err)
	}
	return zero, fmt.Errorf("%w: %v", ErrAllFailed, lastErr)
}
