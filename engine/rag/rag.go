// Package rag orchestrates the question-answering pipeline: it retrieves
// evidence for a validated query, decides whether that evidence is strong
// enough to answer at all, invokes generation only when it is, and
// assembles the cited answer. Refusing to answer for lack of evidence is a
// successful outcome here, never an error.
package rag

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/engine/telemetry"
	"github.com/civicrag/civicrag/pkg/fn"
)

// Retriever is the retrieval gateway seen by the assembler.
type Retriever interface {
	Retrieve(ctx context.Context, text string, topK int) ([]domain.RetrievedChunk, time.Duration, error)
}

// Generator is the generation gateway seen by the assembler.
type Generator interface {
	Generate(ctx context.Context, question string, chunks []domain.RetrievedChunk) (string, error)
}

// Options configures the assembly policy.
type Options struct {
	// RelevanceThreshold is the minimum chunk score required to attempt
	// generation at all.
	RelevanceThreshold float64
	// RefusalText is returned verbatim when evidence is insufficient.
	RefusalText string
	// ExcerptLen caps the citation text excerpt.
	ExcerptLen int
}

// DefaultOptions returns sensible defaults.
func DefaultOptions() Options {
	return Options{
		RelevanceThreshold: 0.35,
		RefusalText: "I cannot find specific information to answer your question. " +
			"Please try rephrasing or contact your city's 311 line for assistance.",
		ExcerptLen: 200,
	}
}

// Service is the query orchestration service.
type Service struct {
	retriever Retriever
	generator Generator
	recorder  *telemetry.Recorder
	opts      Options
	logger    *slog.Logger
}

// New creates a Service. recorder may be nil to disable metrics.
func New(retriever Retriever, generator Generator, recorder *telemetry.Recorder, opts Options, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	if opts.RelevanceThreshold <= 0 {
		opts.RelevanceThreshold = DefaultOptions().RelevanceThreshold
	}
	if opts.RefusalText == "" {
		opts.RefusalText = DefaultOptions().RefusalText
	}
	if opts.ExcerptLen <= 0 {
		opts.ExcerptLen = DefaultOptions().ExcerptLen
	}
	return &Service{
		retriever: retriever,
		generator: generator,
		recorder:  recorder,
		opts:      opts,
		logger:    logger,
	}
}

// Query runs the full pipeline for a validated query. Stage timings and
// the outcome are recorded before returning, including on failure, so
// retrieval metrics survive a later generation error.
func (s *Service) Query(ctx context.Context, q domain.Query) (*domain.Answer, error) {
	s.logger.Info("query start", "question", truncate(q.Text, 100), "top_k", q.TopK)
	start := time.Now()
	stages := make(map[string]time.Duration)

	fail := func(err error) (*domain.Answer, error) {
		stages["total"] = time.Since(start)
		kind, _, _ := MapError(err)
		s.record(ctx, telemetry.QueryMetrics{Outcome: domain.OutcomeError, ErrorKind: kind, Stages: stages})
		return nil, err
	}

	chunks, retrievalTime, err := s.retriever.Retrieve(ctx, q.Text, q.TopK)
	stages["retrieval"] = retrievalTime
	if err != nil {
		return fail(err)
	}

	if !s.sufficient(chunks) {
		answer := &domain.Answer{
			Text:            s.opts.RefusalText,
			Citations:       []domain.Citation{},
			RetrievalTimeMS: retrievalTime.Milliseconds(),
			Query:           q.Text,
		}
		stages["total"] = time.Since(start)
		s.record(ctx, telemetry.QueryMetrics{Outcome: domain.OutcomeRefused, Stages: stages})
		s.logger.Info("query refused, insufficient evidence", "chunks", len(chunks), "threshold", s.opts.RelevanceThreshold)
		return answer, nil
	}

	genStart := time.Now()
	text, err := s.generator.Generate(ctx, q.Text, chunks)
	stages["generation"] = time.Since(genStart)
	if err != nil {
		return fail(err)
	}

	citations := s.buildCitations(text, chunks)
	if err := verifyCitations(citations, chunks, q.TopK); err != nil {
		s.logger.Error("citation invariant violated", "err", err, "citations", len(citations), "chunks", len(chunks))
		return fail(err)
	}

	answer := &domain.Answer{
		Text:            text,
		Citations:       citations,
		RetrievalTimeMS: retrievalTime.Milliseconds(),
		Query:           q.Text,
	}
	stages["total"] = time.Since(start)
	s.record(ctx, telemetry.QueryMetrics{Outcome: domain.OutcomeAnswered, Stages: stages})
	s.logger.Info("query answered",
		"citations", len(answer.Citations),
		"answer_len", len(answer.Text),
		"duration", stages["total"])
	return answer, nil
}

// sufficient reports whether at least one chunk clears the threshold.
func (s *Service) sufficient(chunks []domain.RetrievedChunk) bool {
	for _, c := range chunks {
		if c.RelevanceScore >= s.opts.RelevanceThreshold {
			return true
		}
	}
	return false
}

// buildCitations projects chunks into citations. A chunk is cited when it
// cleared the sufficiency threshold or when its content lexically overlaps
// the generated answer; the policy deliberately over-cites plausible
// sources rather than dropping attribution. Retrieval order is preserved.
func (s *Service) buildCitations(answerText string, chunks []domain.RetrievedChunk) []domain.Citation {
	answerTokens := tokenSet(answerText)
	cited := fn.Filter(chunks, func(c domain.RetrievedChunk) bool {
		return c.RelevanceScore >= s.opts.RelevanceThreshold || overlaps(answerTokens, c.Content)
	})
	return fn.Map(cited, func(c domain.RetrievedChunk) domain.Citation {
		return domain.Citation{
			Text:           truncate(c.Content, s.opts.ExcerptLen),
			SourceURL:      c.SourceURL,
			Title:          c.Title,
			Section:        c.Section,
			RelevanceScore: c.RelevanceScore,
		}
	})
}

// verifyCitations checks the assembly invariant: every citation must trace
// back to a retrieved chunk and the count may never exceed top_k.
func verifyCitations(citations []domain.Citation, chunks []domain.RetrievedChunk, topK int) error {
	if len(citations) > topK {
		return fmt.Errorf("rag: %d citations for top_k %d: %w", len(citations), topK, domain.ErrInternal)
	}
	retrieved := make(map[string]bool, len(chunks))
	for _, c := range chunks {
		retrieved[c.SourceURL] = true
	}
	for _, cit := range citations {
		if !retrieved[cit.SourceURL] {
			return fmt.Errorf("rag: citation %q references unretrieved source: %w", cit.SourceURL, domain.ErrInternal)
		}
	}
	return nil
}

func (s *Service) record(ctx context.Context, qm telemetry.QueryMetrics) {
	if s.recorder != nil {
		s.recorder.Record(ctx, qm)
	}
}

// minOverlapTokens is how many distinct answer tokens a chunk must share
// to count as lexically reflected in the answer.
const minOverlapTokens = 3

// tokenSet lowercases and splits text into distinct tokens longer than
// three characters.
func tokenSet(text string) map[string]bool {
	set := make(map[string]bool)
	for _, w := range strings.Fields(strings.ToLower(text)) {
		w = strings.Trim(w, "?.,!;:'\"()")
		if len(w) > 3 {
			set[w] = true
		}
	}
	return set
}

// overlaps reports whether the chunk content shares enough distinct tokens
// with the answer. This is a cheap inclusion check, not semantic
// verification.
func overlaps(answerTokens map[string]bool, content string) bool {
	shared := 0
	for w := range tokenSet(content) {
		if answerTokens[w] {
			shared++
			if shared >= minOverlapTokens {
				return true
			}
		}
	}
	return false
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
