package domain

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// QueryRequest is the raw inbound payload before validation. TopK is a
// pointer so that an absent field can be told apart from an explicit zero.
type QueryRequest struct {
	Q    string `json:"q"`
	TopK *int   `json:"top_k,omitempty"`
}

// ParseQuery normalizes and constrains a raw payload into a Query.
// The question must be non-empty after trimming and at most MaxQuestionLen
// runes; top_k defaults to DefaultTopK and must lie in [MinTopK, MaxTopK].
func ParseQuery(raw QueryRequest) (Query, error) {
	text := strings.TrimSpace(raw.Q)
	if text == "" {
		return Query{}, NewValidationError("q", raw.Q, ErrQuestionMissing)
	}
	if utf8.RuneCountInString(text) > MaxQuestionLen {
		return Query{}, NewValidationError("q", text[:40]+"...", ErrQuestionTooLong)
	}

	topK := DefaultTopK
	if raw.TopK != nil {
		topK = *raw.TopK
		if topK < MinTopK || topK > MaxTopK {
			return Query{}, NewValidationError("top_k", fmt.Sprintf("%d", topK), ErrTopKOutOfRange)
		}
	}

	return Query{Text: text, TopK: topK}, nil
}
