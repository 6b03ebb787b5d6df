// Package llm defines the generation capability the engine queries segments
// with, plus its live backends and a deterministic offline stand-in.
package llm

import (
	"context"
	"fmt"
	"strings"
	"time"
)

// Options tune a single generation call.
type Options struct {
	Temperature    float64
	MaxOutputUnits int
	Timeout        time.Duration
}

// DefaultOptions are low-randomness settings suited to extractive answers.
func DefaultOptions() Options {
	return Options{
		Temperature:    0.1,
		MaxOutputUnits: 1024,
		Timeout:        60 * time.Second,
	}
}

// Generator produces text for a prompt.
type Generator interface {
	Generate(ctx context.Context, prompt string, opts Options) (string, error)
	Name() string
}

// TokenCounter is implemented by generators that can count context units
// exactly.
type TokenCounter interface {
	CountTokens(ctx context.Context, text string) (int, error)
}

// Keys holds credentials for the live backends.
type Keys struct {
	Anthropic string
	Gemini    string
}

// New selects a generator by model name: "stub", "mock" or "" give the
// offline Stub, "claude-*" the Anthropic client, "gemini-*" the Gemini client.
func New(ctx context.Context, model string, keys Keys) (Generator, error) {
	m := strings.ToLower(strings.TrimSpace(model))
	switch {
	case m == "" || m == "stub" || m == "mock":
		return NewStub(), nil
	case strings.HasPrefix(m, "claude"):
		if keys.Anthropic == "" {
			return nil, fmt.Errorf("model %s requires ANTHROPIC_API_KEY", model)
		}
		return NewClaude(keys.Anthropic, model), nil
	case strings.HasPrefix(m, "gemini"):
		if keys.Gemini == "" {
			return nil, fmt.Errorf("model %s requires GEMINI_API_KEY", model)
		}
		return NewGemini(ctx, keys.Gemini, model)
	}
	return nil, fmt.Errorf("unknown model %q", model)
}

// withTimeout bounds ctx by opts.Timeout when one is set.
func withTimeout(ctx context.Context, opts Options) (context.Context, context.CancelFunc) {
	if opts.Timeout > 0 {
		return context.WithTimeout(ctx, opts.Timeout)
	}
	return context.WithCancel(ctx)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
