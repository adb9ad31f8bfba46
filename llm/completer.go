package llm

import (
	"context"

	"github.com/BaSui01/agentmesh/types"
)

// DefaultModel is used when no model is configured.
const DefaultModel = "gpt-5-nano"

// DefaultTemperature is used when a call site does not pick one.
const DefaultTemperature = 0.7

// Completer is the opaque text-generation service.
// A false second return means the backend was unreachable or returned no content.
type Completer interface {
	Complete(ctx context.Context, messages []types.Message, opts ...Option) (string, bool)
}

// ToolCompleter extends Completer with function calling.
type ToolCompleter interface {
	Completer
	CompleteWithTools(ctx context.Context, messages []types.Message, tools []types.ToolSchema, opts ...Option) (*Reply, bool)
}

// Reply is a completion that may request tool invocations.
type Reply struct {
	Content   string
	ToolCalls []types.ToolCall
}

// HasToolCalls reports whether the model asked for tools.
func (r *Reply) HasToolCalls() bool {
	return r != nil && len(r.ToolCalls) > 0
}

// CallOptions holds per-call settings.
type CallOptions struct {
	System      string
	Temperature *float64
	MaxTokens   int
}

// Option configures a single completion call.
type Option func(*CallOptions)

// WithSystem prepends a system prompt.
func WithSystem(prompt string) Option {
	return func(o *CallOptions) { o.System = prompt }
}

// WithTemperature overrides the sampling temperature.
func WithTemperature(t float64) Option {
	return func(o *CallOptions) { o.Temperature = &t }
}

// WithMaxTokens caps the completion length.
func WithMaxTokens(n int) Option {
	return func(o *CallOptions) { o.MaxTokens = n }
}

// ApplyOptions folds opts into a CallOptions value.
func ApplyOptions(opts ...Option) CallOptions {
	var o CallOptions
	for _, fn := range opts {
		fn(&o)
	}
	return o
}

// CompleterFunc adapts a plain function to Completer.
type CompleterFunc func(ctx context.Context, messages []types.Message, opts ...Option) (string, bool)

// Complete implements Completer.
func (f CompleterFunc) Complete(ctx context.Context, messages []types.Message, opts ...Option) (string, bool) {
	return f(ctx, messages, opts...)
}

// Observer receives the outcome of each completion call.
type Observer interface {
	ObserveCompletion(status string, seconds float64)
}
