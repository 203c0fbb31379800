// Package generation wraps the external text-generation capability. The
// prompt is built only from the chunks handed to Generate; nothing else
// reaches the model, which is what keeps the answer grounded.
package generation

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/pkg/resilience"
)

// Completer is the external generation capability, a pure
// prompt-to-text function with no side effects visible to the pipeline.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// Options configures the gateway.
type Options struct {
	// Timeout bounds one Generate call.
	Timeout time.Duration
	// ContextBudget caps the total characters of chunk content placed in
	// the prompt. Higher-relevance chunks win when truncating.
	ContextBudget int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		Timeout:       15 * time.Second,
		ContextBudget: 6000,
	}
}

// Gateway mediates between the pipeline and the generation capability.
// An optional limiter paces calls to the provider and an optional breaker
// sheds load when the provider is failing.
type Gateway struct {
	completer Completer
	opts      Options
	limiter   *resilience.Limiter
	breaker   *resilience.Breaker
	logger    *slog.Logger
}

// New creates a Gateway. limiter and breaker may be nil.
func New(completer Completer, opts Options, limiter *resilience.Limiter, breaker *resilience.Breaker, logger *slog.Logger) *Gateway {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.Timeout <= 0 {
		opts.Timeout = DefaultOptions().Timeout
	}
	if opts.ContextBudget <= 0 {
		opts.ContextBudget = DefaultOptions().ContextBudget
	}
	return &Gateway{completer: completer, opts: opts, limiter: limiter, breaker: breaker, logger: logger}
}

// Generate produces an answer for the question from the supplied chunks.
// There are no retries here: a failed completion is not free.
func (g *Gateway) Generate(ctx context.Context, question string, chunks []domain.RetrievedChunk) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, g.opts.Timeout)
	defer cancel()

	if g.limiter != nil {
		if err := g.limiter.Wait(ctx); err != nil {
			if errors.Is(err, context.DeadlineExceeded) {
				return "", fmt.Errorf("generation: rate limit wait: %w", domain.ErrGenerationTimeout)
			}
			return "", fmt.Errorf("generation: rate limit wait: %v: %w", err, domain.ErrGenerationFailure)
		}
	}

	prompt := BuildPrompt(question, chunks, g.opts.ContextBudget)

	start := time.Now()
	call := func(ctx context.Context) (string, error) {
		return g.completer.Complete(ctx, prompt)
	}

	var text string
	var err error
	if g.breaker != nil {
		err = g.breaker.Call(ctx, func(ctx context.Context) error {
			text, err = call(ctx)
			return err
		})
	} else {
		text, err = call(ctx)
	}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) {
			return "", fmt.Errorf("generation: complete after %v: %w", time.Since(start), domain.ErrGenerationTimeout)
		}
		return "", fmt.Errorf("generation: complete: %v: %w", err, domain.ErrGenerationFailure)
	}

	text = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(text), "Answer:"))
	g.logger.Info("generation done", "prompt_len", len(prompt), "answer_len", len(text), "duration", time.Since(start))
	return text, nil
}

// BuildPrompt assembles the grounded prompt. Chunk content is spent against
// the budget in the order given, which is descending relevance, so lower
// ranked chunks are the ones truncated or dropped.
func BuildPrompt(question string, chunks []domain.RetrievedChunk, budget int) string {
	var ctxParts []string
	remaining := budget
	for _, c := range chunks {
		if remaining <= 0 {
			break
		}
		content := c.Content
		if len(content) > remaining {
			content = content[:remaining]
		}
		remaining -= len(content)
		ctxParts = append(ctxParts, fmt.Sprintf("[%s — %s]\n%s", c.Title, c.Section, content))
	}

	var b strings.Builder
	b.WriteString("You are a helpful assistant for city residents. Answer the user's question based on the provided context.\n\n")
	b.WriteString("Context:\n")
	b.WriteString(strings.Join(ctxParts, "\n\n"))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(question)
	b.WriteString("\n\nInstructions:\n")
	b.WriteString("1. Answer the question using only the information provided in the context\n")
	b.WriteString("2. Be specific and helpful\n")
	b.WriteString("3. If the context doesn't contain enough information to answer the question, say so\n")
	b.WriteString("4. Keep your answer concise but informative\n")
	b.WriteString("5. Focus on practical steps and information residents need\n\n")
	b.WriteString("Answer:")
	return b.String()
}
