package media

import "context"

// Acquirer opens a capture stream for one source kind. Implementations
// must stop every partially acquired track before returning an error, so
// no failure path leaks a hardware handle.
type Acquirer interface {
	Acquire(ctx context.Context, source Source) (*Stream, error)
}
