package research

import (
	"context"
	"encoding/json"

	"github.com/tmc/langchaingo/llms"

	"github.com/Gmelendi/listeando-app/pkg/search"
)

// LanguageModel is the slice of the LLM client the pipeline depends on.
type LanguageModel interface {
	// CompleteJSON returns raw JSON-mode output the caller validates itself.
	CompleteJSON(ctx context.Context, messages []llms.MessageContent) (string, error)
	// CompleteStructured returns output already validated against schemaText.
	CompleteStructured(ctx context.Context, messages []llms.MessageContent, schemaText string) (json.RawMessage, error)
}

// Searcher runs one web-search query.
type Searcher interface {
	Search(ctx context.Context, query string) ([]search.SearchResult, error)
}

// Extractor fetches raw page content for a batch of URLs.
type Extractor interface {
	Extract(ctx context.Context, urls []string) ([]search.ExtractResult, error)
}

// Deduper removes near-duplicate records by embedding similarity on a key field.
type Deduper interface {
	Dedupe(ctx context.Context, records []map[string]any, key string, threshold float64) ([]map[string]any, error)
}

// State carries the pipeline's intermediate artifacts. Each stage takes the
// prior state by value and returns a new one with its additions, so stages
// can be tested in isolation with literal fixtures.
type State struct {
	JobID      string
	UserPrompt string

	// JSONSchema is the generated list schema text, "{}" when schema
	// generation degraded after exhausting retries.
	JSONSchema string

	Title         string
	SearchQueries []string

	// CandidateURLs is deduplicated, first-seen order.
	CandidateURLs []string

	// RawContents is lossy: URLs whose extraction failed are absent.
	RawContents []string

	ExtractedRecords []map[string]any
}

// Result is the terminal pipeline artifact handed back for persistence.
type Result struct {
	Title   string           `json:"title"`
	Records []map[string]any `json:"data"`
}
