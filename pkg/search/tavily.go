// Package search talks to the Tavily API for web search and page content
// extraction.
package search

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
)

const defaultBaseURL = "https://api.tavily.com"

// SearchError reports a failed web search for a single query.
type SearchError struct {
	Query string
	Err   error
}

func (e *SearchError) Error() string {
	return fmt.Sprintf("search failed for query %q: %v", e.Query, e.Err)
}

func (e *SearchError) Unwrap() error { return e.Err }

// ExtractionError reports a failed content extraction call.
type ExtractionError struct {
	Err error
}

func (e *ExtractionError) Error() string {
	return fmt.Sprintf("content extraction failed: %v", e.Err)
}

func (e *ExtractionError) Unwrap() error { return e.Err }

// SearchResult is one ranked hit for a query.
type SearchResult struct {
	Title   string  `json:"title"`
	URL     string  `json:"url"`
	Content string  `json:"content"`
	Score   float64 `json:"score"`
}

// ExtractResult is the raw content of one fetched page. Unreachable URLs are
// simply absent from the response.
type ExtractResult struct {
	URL        string `json:"url"`
	RawContent string `json:"raw_content"`
}

// Client calls the Tavily search and extract endpoints.
type Client struct {
	APIKey  string
	BaseURL string
	HTTP    *http.Client
}

func NewClient(apiKey string) *Client {
	return &Client{
		APIKey:  apiKey,
		BaseURL: defaultBaseURL,
		HTTP:    http.DefaultClient,
	}
}

// Search runs one query and returns its ranked results.
func (c *Client) Search(ctx context.Context, query string) ([]SearchResult, error) {
	reqBody := map[string]any{
		"query": query,
		"topic": "general",
	}

	var response struct {
		Results []SearchResult `json:"results"`
	}
	if err := c.post(ctx, "/search", reqBody, &response); err != nil {
		return nil, &SearchError{Query: query, Err: err}
	}
	return response.Results, nil
}

// Extract fetches raw page content for a batch of URLs. Entries for
// unreachable URLs are omitted rather than errored.
func (c *Client) Extract(ctx context.Context, urls []string) ([]ExtractResult, error) {
	reqBody := map[string]any{
		"urls": urls,
	}

	var response struct {
		Results       []ExtractResult `json:"results"`
		FailedResults []struct {
			URL   string `json:"url"`
			Error string `json:"error"`
		} `json:"failed_results"`
	}
	if err := c.post(ctx, "/extract", reqBody, &response); err != nil {
		return nil, &ExtractionError{Err: err}
	}
	return response.Results, nil
}

func (c *Client) post(ctx context.Context, path string, reqBody any, out any) error {
	jsonBody, err := json.Marshal(reqBody)
	if err != nil {
		return fmt.Errorf("failed to marshal request body: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewBuffer(jsonBody))
	if err != nil {
		return fmt.Errorf("failed to create HTTP request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.APIKey)

	httpClient := c.HTTP
	if httpClient == nil {
		httpClient = http.DefaultClient
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to make API request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("failed to read response body: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("API request failed with status: %s, body: %s", resp.Status, string(body))
	}

	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("failed to unmarshal response: %w", err)
	}
	return nil
}
