package ai

import "context"

// Request describes one completion call to the model backend.
type Request struct {
	Prompt      string
	System      string
	MaxTokens   int
	Temperature float64
}

// Generator defines a pluggable language model backend. Calls are opaque
// and may fail; the caller surfaces failures to the user and never lets
// them corrupt session state.
type Generator interface {
	Generate(ctx context.Context, req Request) (string, error)
}
