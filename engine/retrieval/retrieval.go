// Package retrieval wraps the external retrieval capability behind a
// stable gateway. The upstream ranking is authoritative: the gateway never
// re-ranks, it only drops chunks with missing provenance and clamps scores.
package retrieval

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/pkg/fn"
)

// Searcher is the external retrieval capability.
type Searcher interface {
	Search(ctx context.Context, text string, topK int) ([]domain.RetrievedChunk, error)
}

// Options configures the gateway.
type Options struct {
	// Timeout bounds one Retrieve call end to end, retries included.
	Timeout time.Duration
	// Retry controls idempotent retries against the capability.
	// MaxAttempts 1 disables retrying.
	Retry fn.RetryOpts
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout: 10 * time.Second,
		Retry: fn.RetryOpts{
			MaxAttempts: 2,
			InitialWait: 200 * time.Millisecond,
			MaxWait:     time.Second,
			Jitter:      true,
		},
	}
}

// Gateway mediates between the pipeline and the retrieval capability.
type Gateway struct {
	searcher Searcher
	opts     Options
	logger   *slog.Logger
}

// New creates a Gateway.
func New(searcher Searcher, opts Options, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.Retry.MaxAttempts <= 0 {
		opts.Retry.MaxAttempts = 1
	}
	return &Gateway{searcher: searcher, opts: opts, logger: logger}
}

// Retrieve fetches at most topK chunks for the query text. The measured
// wall-clock latency of the capability call is returned even on failure.
// Zero chunks with a nil error means the corpus had nothing relevant;
// that is not a failure.
func (g *Gateway) Retrieve(ctx context.Context, text string, topK int) ([]domain.RetrievedChunk, time.Duration, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	start := time.Now()
	result := fn.Retry(ctx, g.opts.Retry, func(ctx context.Context) fn.Result[[]domain.RetrievedChunk] {
		chunks, err := g.searcher.Search(ctx, text, topK)
		if err != nil {
			return fn.Err[[]domain.RetrievedChunk](err)
		}
		return fn.Ok(chunks)
	})
	elapsed := time.Since(start)

	chunks, err := result.Unwrap()
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, elapsed, fmt.Errorf("retrieval: search after %v: %w", elapsed, domain.ErrRetrievalTimeout)
		}
		return nil, elapsed, fmt.Errorf("retrieval: search: %v: %w", err, domain.ErrRetrievalFailure)
	}

	usable := fn.FilterMap(chunks, func(c domain.RetrievedChunk) (domain.RetrievedChunk, bool) {
		if c.SourceURL == "" || c.Title == "" {
			g.logger.Warn("retrieval: dropping chunk with missing metadata",
				"source_url", c.SourceURL, "title", c.Title)
			return c, false
		}
		c.RelevanceScore = clamp01(c.RelevanceScore)
		return c, true
	})
	if len(usable) > topK {
		usable = usable[:topK]
	}

	g.logger.Info("retrieval done",
		"requested", topK, "returned", len(chunks), "usable", len(usable),
		"duration", elapsed)
	return usable, elapsed, nil
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
