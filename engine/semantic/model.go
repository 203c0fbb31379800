package semantic

// SearchResult represents a single vector search hit with the chunk's
// provenance payload.
type SearchResult struct {
	ID        string  `json:"id"`
	Score     float32 `json:"score"`
	Content   string  `json:"content"`
	SourceURL string  `json:"source_url"`
	Title     string  `json:"title"`
	Section   string  `json:"section"`
}
