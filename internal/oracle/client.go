// Package oracle wraps the language-model completion providers. Callers only
// require text in, text out; everything else (provider identity, transport,
// rate limiting) stays behind the Client interface.
package oracle

import "context"

// Options tune a single completion call.
type Options struct {
	Temperature float64
	MaxTokens   int
}

// Client defines the interface for completion providers.
type Client interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteWithOptions(ctx context.Context, prompt string, opts Options) (string, error)
}
