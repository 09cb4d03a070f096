// Package provider defines the uniform Provider contract (spec.md §4.1)
// and the factory that constructs one of the four back-ends from a
// configuration record.
package provider

import (
	"context"
	"fmt"

	"github.com/wnrun/wn-core/internal/rtconfig"
	"github.com/wnrun/wn-core/internal/result"
	"github.com/wnrun/wn-core/pkg/provider/anthropic"
	"github.com/wnrun/wn-core/pkg/provider/compat"
	"github.com/wnrun/wn-core/pkg/provider/gemini"
	"github.com/wnrun/wn-core/pkg/provider/openai"
	"github.com/wnrun/wn-core/pkg/wire"
)

// StreamHandler receives chunks as a Provider streams a response. It is
// invoked synchronously from within Stream; any error it returns stops
// the stream early.
type StreamHandler = wire.StreamHandler

// Provider is a uniform contract over a single LLM back-end.
type Provider interface {
	// Complete performs one LLM round-trip.
	Complete(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string) (wire.CompleteResponse, error)
	// Stream performs the same operation incrementally, invoking handler
	// once per StreamChunk. Errors during streaming are returned from
	// Stream itself, not wrapped in a chunk (spec.md §4.1: "Errors during
	// streaming are raised at the consumer's iteration point").
	Stream(ctx context.Context, messages []wire.Message, tools []wire.ToolDefinition, model string, handler wire.StreamHandler) error
	// DefaultModel returns the model name to use when the caller does
	// not specify one.
	DefaultModel() string
}

// New constructs the named back-end from its configuration. It fails
// fast with a descriptive error if required credentials are absent.
func New(name string, cfg rtconfig.ProviderConfig) result.Result[Provider] {
	switch name {
	case "claude", "anthropic":
		p, err := anthropic.New(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return result.Err[Provider](err)
		}
		return result.Ok[Provider](p)
	case "openai":
		p, err := openai.New(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return result.Err[Provider](err)
		}
		return result.Ok[Provider](p)
	case "gemini":
		p, err := gemini.New(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return result.Err[Provider](err)
		}
		return result.Ok[Provider](p)
	case "compat":
		p, err := compat.New(cfg.APIKey, cfg.BaseURL)
		if err != nil {
			return result.Err[Provider](err)
		}
		return result.Ok[Provider](p)
	default:
		return result.Errf[Provider]("unknown provider %q", name)
	}
}
