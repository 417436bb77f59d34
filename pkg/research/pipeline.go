// Package research runs the six-stage pipeline that turns a free-text list
// request into a deduplicated, schema-conformant set of records: schema
// generation, query generation, web search, content retrieval, structured
// extraction and semantic deduplication.
package research

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"

	"github.com/tmc/langchaingo/llms"
	"golang.org/x/sync/errgroup"

	"github.com/Gmelendi/listeando-app/pkg/schema"
	"github.com/Gmelendi/listeando-app/pkg/search"
)

const (
	maxSchemaRetries        = 3
	defaultExtractBatchSize = 20
	defaultDedupeThreshold  = 0.8
)

// Pipeline composes the stage clients. Stages run strictly in order with no
// branching; fan-out happens inside the URL retrieval, content retrieval and
// extraction stages.
type Pipeline struct {
	LLM       LanguageModel
	Searcher  Searcher
	Extractor Extractor
	Deduper   Deduper
	Logger    *slog.Logger

	// BatchSize bounds the URL count per extraction call.
	BatchSize int
	// DedupeThreshold is the cosine similarity at or above which two records
	// count as duplicates.
	DedupeThreshold float64
}

func NewPipeline(llm LanguageModel, searcher Searcher, extractor Extractor, deduper Deduper) *Pipeline {
	return &Pipeline{
		LLM:             llm,
		Searcher:        searcher,
		Extractor:       extractor,
		Deduper:         deduper,
		Logger:          slog.Default(),
		BatchSize:       defaultExtractBatchSize,
		DedupeThreshold: defaultDedupeThreshold,
	}
}

// Run executes all stages for one request and returns the terminal artifact.
// A returned error means the job failed; no partial result is produced.
func (p *Pipeline) Run(ctx context.Context, jobID, userPrompt string) (*Result, error) {
	st := State{JobID: jobID, UserPrompt: userPrompt}

	st = p.generateSchema(ctx, st)

	st, err := p.generateQueries(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("query generation failed: %w", err)
	}

	st, err = p.retrieveURLs(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("url retrieval failed: %w", err)
	}

	st = p.retrieveContent(ctx, st)
	st = p.extract(ctx, st)

	st, err = p.deduplicate(ctx, st)
	if err != nil {
		return nil, fmt.Errorf("deduplication failed: %w", err)
	}

	records := st.ExtractedRecords
	if records == nil {
		records = []map[string]any{}
	}
	return &Result{Title: st.Title, Records: records}, nil
}

// generateSchema asks the model for a flat list schema, validating each
// attempt. Invalid output and its diagnostic are appended to the conversation
// so every retry is conditioned on the prior failure. After maxSchemaRetries
// the stage degrades to an empty schema instead of failing: an empty schema
// yields an empty result set downstream, not a crashed job.
func (p *Pipeline) generateSchema(ctx context.Context, st State) State {
	p.Logger.Info("Starting schema generation", "job_id", st.JobID)

	conversation := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, genSchemaPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, st.UserPrompt),
	}

	for attempt := 1; attempt <= maxSchemaRetries; attempt++ {
		content, err := p.LLM.CompleteJSON(ctx, conversation)
		if err != nil {
			p.Logger.Warn("Schema generation call failed", "attempt", attempt, "error", err)
			conversation = append(conversation, llms.TextParts(llms.ChatMessageTypeHuman,
				fmt.Sprintf("An error occurred: %v. Please provide a valid JSON schema.", err)))
			continue
		}

		if err := schema.ValidateListSchema(content); err != nil {
			p.Logger.Warn("Generated schema failed validation", "attempt", attempt, "error", err)
			conversation = append(conversation,
				llms.TextParts(llms.ChatMessageTypeAI, content),
				llms.TextParts(llms.ChatMessageTypeHuman,
					fmt.Sprintf("The previous schema was invalid. Error: %v. Please fix the schema and ensure it's a valid JSON object.", err)))
			continue
		}

		p.Logger.Info("Schema validated", "job_id", st.JobID)
		st.JSONSchema = content
		return st
	}

	p.Logger.Warn("Maximum schema retries reached, using empty schema", "job_id", st.JobID)
	st.JSONSchema = "{}"
	return st
}

// generateQueries produces the list title and search queries with enforced
// structured output. No retry here: a single failure is fatal for the run.
func (p *Pipeline) generateQueries(ctx context.Context, st State) (State, error) {
	p.Logger.Info("Starting query generation", "job_id", st.JobID)

	raw, err := p.LLM.CompleteStructured(ctx, []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, searchQueriesPrompt),
		llms.TextParts(llms.ChatMessageTypeHuman, st.UserPrompt),
	}, searchQueriesSchema)
	if err != nil {
		return st, err
	}

	var resp struct {
		Title   string   `json:"title"`
		Queries []string `json:"queries"`
	}
	if err := json.Unmarshal(raw, &resp); err != nil {
		return st, fmt.Errorf("failed to parse query response: %w", err)
	}

	p.Logger.Info("Generated queries", "job_id", st.JobID, "title", resp.Title, "queries", resp.Queries)
	st.Title = resp.Title
	st.SearchQueries = resp.Queries
	return st, nil
}

// retrieveURLs fans out one search per query and joins all-or-nothing: any
// failing query fails the stage. Results are flattened in query order and
// deduplicated by URL, first seen wins.
func (p *Pipeline) retrieveURLs(ctx context.Context, st State) (State, error) {
	p.Logger.Info("Starting URL retrieval", "job_id", st.JobID, "queries", len(st.SearchQueries))

	results := make([][]search.SearchResult, len(st.SearchQueries))
	g, gctx := errgroup.WithContext(ctx)
	for i, query := range st.SearchQueries {
		g.Go(func() error {
			found, err := p.Searcher.Search(gctx, query)
			if err != nil {
				return err
			}
			results[i] = found
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return st, err
	}

	seen := make(map[string]bool)
	var urls []string
	for _, queryResults := range results {
		for _, r := range queryResults {
			if r.URL == "" || seen[r.URL] {
				continue
			}
			seen[r.URL] = true
			urls = append(urls, r.URL)
		}
	}

	p.Logger.Info("URL retrieval complete", "job_id", st.JobID, "urls", len(urls))
	st.CandidateURLs = urls
	return st, nil
}

// retrieveContent partitions the candidate URLs into fixed-size batches and
// extracts them concurrently. Failed batches and URLs that return no content
// are dropped without failing the stage, so RawContents may be shorter than
// CandidateURLs. Whole-batch transport failures follow the same policy as
// per-URL failures: the batch's URLs are dropped and the run continues.
func (p *Pipeline) retrieveContent(ctx context.Context, st State) State {
	batchSize := p.BatchSize
	if batchSize <= 0 {
		batchSize = defaultExtractBatchSize
	}
	batches := chunk(st.CandidateURLs, batchSize)
	p.Logger.Info("Starting content retrieval", "job_id", st.JobID, "urls", len(st.CandidateURLs), "batches", len(batches))

	batchContents := make([][]string, len(batches))
	var wg sync.WaitGroup
	for i, batch := range batches {
		wg.Add(1)
		go func(i int, batch []string) {
			defer wg.Done()
			results, err := p.Extractor.Extract(ctx, batch)
			if err != nil {
				p.Logger.Warn("Extraction batch failed, dropping its URLs", "job_id", st.JobID, "batch", i, "error", err)
				return
			}
			var contents []string
			for _, r := range results {
				if r.RawContent == "" {
					continue
				}
				contents = append(contents, r.RawContent)
			}
			batchContents[i] = contents
		}(i, batch)
	}
	wg.Wait()

	var contents []string
	for _, c := range batchContents {
		contents = append(contents, c...)
	}
	p.Logger.Info("Content retrieval complete", "job_id", st.JobID, "pages", len(contents))
	st.RawContents = contents
	return st
}

// extract runs structured extraction against the generated schema for every
// page concurrently. A failing page is skipped rather than failing the run,
// mirroring the content retrieval degrade policy. An empty schema short
// circuits to an empty record set.
func (p *Pipeline) extract(ctx context.Context, st State) State {
	fields, err := schema.FieldNames(st.JSONSchema)
	if err != nil || len(fields) == 0 {
		p.Logger.Warn("No usable schema fields, skipping extraction", "job_id", st.JobID)
		st.ExtractedRecords = []map[string]any{}
		return st
	}

	p.Logger.Info("Starting extraction", "job_id", st.JobID, "pages", len(st.RawContents))

	perPage := make([][]map[string]any, len(st.RawContents))
	var wg sync.WaitGroup
	for i, content := range st.RawContents {
		wg.Add(1)
		go func(i int, content string) {
			defer wg.Done()
			raw, err := p.LLM.CompleteStructured(ctx, []llms.MessageContent{
				llms.TextParts(llms.ChatMessageTypeSystem, extractPrompt),
				llms.TextParts(llms.ChatMessageTypeHuman, content),
			}, st.JSONSchema)
			if err != nil {
				p.Logger.Warn("Extraction failed for page, skipping", "job_id", st.JobID, "page", i, "error", err)
				return
			}

			var resp struct {
				Items []map[string]any `json:"items"`
			}
			if err := json.Unmarshal(raw, &resp); err != nil {
				p.Logger.Warn("Could not parse extraction output, skipping", "job_id", st.JobID, "page", i, "error", err)
				return
			}
			perPage[i] = resp.Items
		}(i, content)
	}
	wg.Wait()

	records := make([]map[string]any, 0)
	for _, items := range perPage {
		records = append(records, items...)
	}
	p.Logger.Info("Extraction finished", "job_id", st.JobID, "records", len(records))
	st.ExtractedRecords = records
	return st
}

// deduplicate collapses near-duplicate records on the first declared schema
// field. No-op on empty input; an embedding failure is fatal for the run.
func (p *Pipeline) deduplicate(ctx context.Context, st State) (State, error) {
	if len(st.ExtractedRecords) == 0 {
		st.ExtractedRecords = []map[string]any{}
		return st, nil
	}

	fields, err := schema.FieldNames(st.JSONSchema)
	if err != nil || len(fields) == 0 {
		return st, nil
	}
	key := fields[0]

	threshold := p.DedupeThreshold
	if threshold <= 0 {
		threshold = defaultDedupeThreshold
	}

	p.Logger.Info("Starting deduplication", "job_id", st.JobID, "key", key, "records", len(st.ExtractedRecords))
	unique, err := p.Deduper.Dedupe(ctx, st.ExtractedRecords, key, threshold)
	if err != nil {
		return st, err
	}

	p.Logger.Info("Deduplication complete", "job_id", st.JobID, "kept", len(unique))
	st.ExtractedRecords = unique
	return st, nil
}

func chunk(items []string, size int) [][]string {
	if len(items) == 0 {
		return nil
	}
	var batches [][]string
	for start := 0; start < len(items); start += size {
		end := start + size
		if end > len(items) {
			end = len(items)
		}
		batches = append(batches, items[start:end])
	}
	return batches
}
