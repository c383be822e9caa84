package vector

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"unicode/utf8"
)

// Provider generates embeddings for text. Implementations are expected to
// return an error on transport or API failure; the Embedder wrapper converts
// those into nil results.
type Provider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	Dimension() int
}

const defaultMaxInputLen = 8000

// Embedder wraps a Provider with the fail-open policy the mediation core
// relies on: embedding generation never returns an error to callers. A nil
// result means "no embedding available" and downstream code degrades.
type Embedder struct {
	provider    Provider
	maxInputLen int
	logger      *slog.Logger
}

// EmbedderOptions configures an Embedder.
type EmbedderOptions struct {
	Provider    Provider
	MaxInputLen int
	Logger      *slog.Logger
}

func NewEmbedder(opts EmbedderOptions) *Embedder {
	if opts.MaxInputLen <= 0 {
		opts.MaxInputLen = defaultMaxInputLen
	}
	if opts.Logger == nil {
		opts.Logger = slog.New(slog.NewTextHandler(os.Stdout, nil))
	}
	return &Embedder{
		provider:    opts.Provider,
		maxInputLen: opts.MaxInputLen,
		logger:      opts.Logger,
	}
}

// Available reports whether a provider is configured. An unconfigured
// embedder is a normal state, not an error: every Generate call returns nil.
func (e *Embedder) Available() bool {
	return e != nil && e.provider != nil
}

// Dimension returns the provider's embedding dimension, or 0 if unconfigured.
func (e *Embedder) Dimension() int {
	if !e.Available() {
		return 0
	}
	return e.provider.Dimension()
}

// Generate returns an embedding for text, or nil for empty/whitespace input,
// a missing provider, or any provider failure. Input is truncated to the
// configured max length before the provider call. Failures are logged with
// their cause and never propagate.
func (e *Embedder) Generate(ctx context.Context, text string) []float32 {
	text = strings.TrimSpace(text)
	if text == "" {
		return nil
	}
	if !e.Available() {
		e.logger.Warn("embedding provider not configured, skipping")
		return nil
	}

	text = truncateRunes(text, e.maxInputLen)

	vec, err := e.provider.Embed(ctx, text)
	if err != nil {
		e.logger.Error("embedding generation failed", "error", err)
		return nil
	}
	if len(vec) == 0 {
		e.logger.Warn("embedding provider returned empty vector")
		return nil
	}
	return vec
}

// truncateRunes cuts s to at most max bytes without splitting a rune.
func truncateRunes(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut]
}
