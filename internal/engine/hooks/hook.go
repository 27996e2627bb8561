// Package hooks fires session lifecycle events - open/close, seek,
// segment EOF, decode error, keyframe seen - out to registered handlers.
// The built-in StdioHook covers the one output path the player's own CLI
// exercises; callers embedding the player can register any other Hook
// implementation (a subprocess runner, a webhook poster, a metrics
// forwarder) against the event types they care about.
package hooks

import (
	"context"
)

// Hook is a handler invoked when a subscribed event fires.
type Hook interface {
	// Execute runs the hook against event, honoring ctx cancellation.
	Execute(ctx context.Context, event Event) error

	// Type identifies the hook's implementation kind, e.g. "stdio".
	Type() string

	// ID uniquely identifies this hook instance among others of its type.
	ID() string
}

// HookConfig represents the configuration for hooks
type HookConfig struct {
	// Timeout for hook execution (default: 30s)
	Timeout string `json:"timeout"`

	// Maximum number of concurrent hook executions (default: 10)
	Concurrency int `json:"concurrency"`

	// Whether to enable structured stdio output
	StdioFormat string `json:"stdio_format"` // "json", "env", or ""
}

// DefaultHookConfig returns a configuration with sensible defaults
func DefaultHookConfig() HookConfig {
	return HookConfig{
		Timeout:     "30s",
		Concurrency: 10,
		StdioFormat: "",
	}
}
