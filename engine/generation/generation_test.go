package generation

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/civicrag/civicrag/engine/domain"
	"github.com/civicrag/civicrag/pkg/resilience"
)

type fakeCompleter struct {
	reply      string
	err        error
	delay      time.Duration
	lastPrompt string
}

func (f *fakeCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	f.lastPrompt = prompt
	if f.delay > 0 {
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(f.delay):
		}
	}
	return f.reply, f.err
}

func someChunks() []domain.RetrievedChunk {
	return []domain.RetrievedChunk{
		{Content: "Apply for SNAP online at the benefits portal.", SourceURL: "https://city.gov/snap", Title: "SNAP", Section: "Apply", RelevanceScore: 0.9},
		{Content: "Bring proof of income to the office.", SourceURL: "https://city.gov/snap-docs", Title: "SNAP Documents", Section: "Requirements", RelevanceScore: 0.6},
	}
}

func TestGenerate_Success(t *testing.T) {
	c := &fakeCompleter{reply: "Answer: Apply online at the benefits portal."}
	g := New(c, DefaultOptions(), nil, nil, nil)

	text, err := g.Generate(context.Background(), "How do I apply for SNAP?", someChunks())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "Apply online at the benefits portal." {
		t.Errorf("Answer: prefix not stripped: %q", text)
	}
}

func TestGenerate_PromptContainsOnlySuppliedChunks(t *testing.T) {
	c := &fakeCompleter{reply: "ok"}
	g := New(c, DefaultOptions(), nil, nil, nil)

	chunks := someChunks()
	if _, err := g.Generate(context.Background(), "How do I apply for SNAP?", chunks); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for _, ch := range chunks {
		if !strings.Contains(c.lastPrompt, ch.Content) {
			t.Errorf("prompt missing chunk content %q", ch.Content)
		}
	}
	if !strings.Contains(c.lastPrompt, "How do I apply for SNAP?") {
		t.Error("prompt missing question")
	}
	if !strings.Contains(c.lastPrompt, "only the information provided in the context") {
		t.Error("prompt missing grounding instruction")
	}
}

func TestGenerate_ProviderErrorIsFailure(t *testing.T) {
	c := &fakeCompleter{err: errors.New("model overloaded")}
	g := New(c, DefaultOptions(), nil, nil, nil)

	_, err := g.Generate(context.Background(), "question", someChunks())
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure, got %v", err)
	}
}

func TestGenerate_TimeoutIsTimeout(t *testing.T) {
	c := &fakeCompleter{delay: time.Second}
	opts := DefaultOptions()
	opts.Timeout = 20 * time.Millisecond
	g := New(c, opts, nil, nil, nil)

	_, err := g.Generate(context.Background(), "question", someChunks())
	if !errors.Is(err, domain.ErrGenerationTimeout) {
		t.Fatalf("expected ErrGenerationTimeout, got %v", err)
	}
}

func TestGenerate_OpenBreakerShedsLoad(t *testing.T) {
	breaker := resilience.NewBreaker(resilience.BreakerOpts{FailThreshold: 1, Timeout: time.Minute})
	failing := &fakeCompleter{err: errors.New("down")}
	g := New(failing, DefaultOptions(), nil, breaker, nil)

	g.Generate(context.Background(), "q", someChunks())

	_, err := g.Generate(context.Background(), "q", someChunks())
	if !errors.Is(err, domain.ErrGenerationFailure) {
		t.Fatalf("expected ErrGenerationFailure from open breaker, got %v", err)
	}
}

func TestBuildPrompt_BudgetTruncation(t *testing.T) {
	long := strings.Repeat("x", 100)
	chunks := []domain.RetrievedChunk{
		{Content: long, Title: "First", Section: "s", RelevanceScore: 0.9},
		{Content: long, Title: "Second", Section: "s", RelevanceScore: 0.5},
	}

	prompt := BuildPrompt("q", chunks, 120)

	if !strings.Contains(prompt, "First") {
		t.Error("highest-relevance chunk missing from prompt")
	}
	// Second chunk only gets the remaining 20 chars of budget.
	if strings.Contains(prompt, long+"\n\n["+"Second") && strings.Count(prompt, long) > 1 {
		t.Error("budget not applied to lower-relevance chunk")
	}
	if got := strings.Count(prompt, "x"); got != 120 {
		t.Errorf("expected 120 budgeted chars, got %d", got)
	}
}

func TestBuildPrompt_NoChunksStillWellFormed(t *testing.T) {
	prompt := BuildPrompt("q", nil, 1000)
	if !strings.Contains(prompt, "Question: q") {
		t.Error("prompt missing question")
	}
}
