// Package domain defines the core types and validation for the civic RAG
// query pipeline. It acts as the validation gate at pipeline entry points.
package domain

// Query is a validated, immutable question. Built once per request by
// ParseQuery and discarded when the response is written.
type Query struct {
	Text string `json:"text"`
	TopK int    `json:"top_k"`
}

// RetrievedChunk is one unit of source text returned by the retrieval
// capability, with its provenance metadata. Chunks arrive ordered by
// descending relevance; that order is authoritative.
type RetrievedChunk struct {
	Content        string  `json:"content"`
	SourceURL      string  `json:"source_url"`
	Title          string  `json:"title"`
	Section        string  `json:"section"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Citation is the user-facing projection of a RetrievedChunk that grounded
// the answer.
type Citation struct {
	Text           string  `json:"text"`
	SourceURL      string  `json:"source_url"`
	Title          string  `json:"title"`
	Section        string  `json:"section"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Answer is the terminal result of one query. Citations may be empty when
// the pipeline refused to answer for lack of evidence; that is still a
// successful outcome, not an error.
type Answer struct {
	Text            string     `json:"answer"`
	Citations       []Citation `json:"citations"`
	RetrievalTimeMS int64      `json:"retrieval_time_ms"`
	Query           string     `json:"query"`
}

// Refused reports whether the answer declined due to insufficient evidence.
func (a *Answer) Refused() bool { return len(a.Citations) == 0 }

// Outcome classifies how a request ended, for metrics.
type Outcome string

const (
	OutcomeAnswered Outcome = "answered"
	OutcomeRefused  Outcome = "refused"
	OutcomeError    Outcome = "error"
)

// Query limits and defaults.
const (
	MaxQuestionLen = 2000
	MinTopK        = 1
	MaxTopK        = 20
	DefaultTopK    = 6
)
