// Package resilience provides the failure-handling primitives used during
// session setup.
//
// [TryInOrder] runs an operation against an ordered list of candidates, each
// at most once, and stops at the first success. [Breaker] is a three-state
// circuit breaker (closed → open → half-open) that lets the relay fail fast
// while the provider is unreachable.
//
// All types are safe for concurrent use.
package resilience

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
)

// ErrCandidatesExhausted is matched by the error [TryInOrder] returns when every
// candidate failed.
var ErrCandidatesExhausted = errors.New("resilience: all candidates failed")

// Attempt records the outcome of one candidate.
type Attempt struct {
	Candidate string
	Err       error // nil on success

	// Unavailable is set when the classifier recognised Err as "this candidate
	// does not exist or is not offered", as opposed to a transport failure.
	Unavailable bool

	Duration time.Duration
}

// ExhaustedError is returned when no candidate succeeded. It lists every
// attempt in the order made.
type ExhaustedError struct {
	Attempts []Attempt
}

func (e *ExhaustedError) Error() string {
	if len(e.Attempts) == 0 {
		return ErrCandidatesExhausted.Error() + ": no candidates"
	}
	parts := make([]string, len(e.Attempts))
	for i, a := range e.Attempts {
		parts[i] = fmt.Sprintf("%s: %v", a.Candidate, a.Err)
	}
	return ErrCandidatesExhausted.Error() + ": " + strings.Join(parts, "; ")
}

// Unwrap makes errors.Is(err, ErrCandidatesExhausted) hold.
func (e *ExhaustedError) Unwrap() error { return ErrCandidatesExhausted }

// Trial configures [TryInOrder]. The zero value is usable.
type Trial struct {
	// Unavailable classifies an attempt error. It only labels the attempt; both
	// classes move on to the next candidate.
	Unavailable func(error) bool

	// OnAttempt, if set, is called after each attempt, including the
	// successful one.
	OnAttempt func(Attempt)
}

// TryInOrder calls fn for each candidate in order until one succeeds, and
// returns its result together with the winning candidate. Every failure moves
// on to the next candidate; each candidate is tried at most once. Context
// cancellation aborts immediately with the context error.
//
// When all candidates fail, the error is an [*ExhaustedError].
func TryInOrder[R any](ctx context.Context, candidates []string, t Trial, fn func(ctx context.Context, candidate string) (R, error)) (R, string, error) {
	var (
		zero     R
		attempts []Attempt
	)
	for _, c := range candidates {
		if err := ctx.Err(); err != nil {
			return zero, "", fmt.Errorf("resilience: aborted before %q: %w", c, err)
		}

		start := time.Now()
		result, err := fn(ctx, c)
		a := Attempt{Candidate: c, Err: err, Duration: time.Since(start)}
		if err != nil && t.Unavailable != nil {
			a.Unavailable = t.Unavailable(err)
		}
		if t.OnAttempt != nil {
			t.OnAttempt(a)
		}

		if err == nil {
			return result, c, nil
		}
		if ctxErr := ctx.Err(); ctxErr != nil {
			return zero, "", fmt.Errorf("resilience: aborted during %q: %w", c, ctxErr)
		}
		attempts = append(attempts, a)
		slog.Warn("candidate failed, trying next",
			"candidate", c, "unavailable", a.Unavailable, "err", err)
	}
	return zero, "", &ExhaustedError{Attempts: attempts}
}
