package domain

import (
	"errors"
	"strings"
	"testing"
)

func intPtr(n int) *int { return &n }

func TestParseQuery_Valid(t *testing.T) {
	q, err := ParseQuery(QueryRequest{Q: "How do I apply for SNAP?", TopK: intPtr(3)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Text != "How do I apply for SNAP?" {
		t.Errorf("unexpected text: %q", q.Text)
	}
	if q.TopK != 3 {
		t.Errorf("expected top_k 3, got %d", q.TopK)
	}
}

func TestParseQuery_DefaultTopK(t *testing.T) {
	q, err := ParseQuery(QueryRequest{Q: "Where do I renew my ID?"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.TopK != DefaultTopK {
		t.Errorf("expected default top_k %d, got %d", DefaultTopK, q.TopK)
	}
}

func TestParseQuery_TrimsWhitespace(t *testing.T) {
	q, err := ParseQuery(QueryRequest{Q: "  How do I pay a parking ticket?  "})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if q.Text != "How do I pay a parking ticket?" {
		t.Errorf("text not trimmed: %q", q.Text)
	}
}

func TestParseQuery_Rejections(t *testing.T) {
	tests := []struct {
		name string
		raw  QueryRequest
		want error
	}{
		{"empty", QueryRequest{Q: ""}, ErrQuestionMissing},
		{"whitespace only", QueryRequest{Q: "   \t\n"}, ErrQuestionMissing},
		{"too long", QueryRequest{Q: strings.Repeat("a", MaxQuestionLen+1)}, ErrQuestionTooLong},
		{"top_k zero", QueryRequest{Q: "valid question", TopK: intPtr(0)}, ErrTopKOutOfRange},
		{"top_k negative", QueryRequest{Q: "valid question", TopK: intPtr(-1)}, ErrTopKOutOfRange},
		{"top_k too large", QueryRequest{Q: "valid question", TopK: intPtr(21)}, ErrTopKOutOfRange},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseQuery(tt.raw)
			if !errors.Is(err, tt.want) {
				t.Errorf("expected %v, got %v", tt.want, err)
			}
			var ve *ValidationError
			if !errors.As(err, &ve) {
				t.Errorf("expected *ValidationError, got %T", err)
			}
		})
	}
}

func TestParseQuery_MaxLengthBoundary(t *testing.T) {
	q, err := ParseQuery(QueryRequest{Q: strings.Repeat("a", MaxQuestionLen)})
	if err != nil {
		t.Fatalf("question at exactly max length should pass: %v", err)
	}
	if len(q.Text) != MaxQuestionLen {
		t.Errorf("unexpected length %d", len(q.Text))
	}
}

func TestParseQuery_TopKBoundaries(t *testing.T) {
	for _, k := range []int{MinTopK, MaxTopK} {
		q, err := ParseQuery(QueryRequest{Q: "valid question", TopK: intPtr(k)})
		if err != nil {
			t.Fatalf("top_k=%d should pass: %v", k, err)
		}
		if q.TopK != k {
			t.Errorf("expected top_k %d, got %d", k, q.TopK)
		}
	}
}
