// Package dedupe removes near-duplicate list entries by comparing embeddings
// of a chosen key field.
package dedupe

import (
	"context"
	"fmt"
	"math"
)

// Embedder turns texts into vectors, one per input, order-preserving.
type Embedder interface {
	EmbedTexts(ctx context.Context, texts []string) ([][]float32, error)
}

// EmbeddingError reports a failed embedding call. It aborts deduplication for
// the whole batch; there is no partial dedup.
type EmbeddingError struct {
	Err error
}

func (e *EmbeddingError) Error() string {
	return fmt.Sprintf("embedding failed: %v", e.Err)
}

func (e *EmbeddingError) Unwrap() error { return e.Err }

// Deduper removes records whose key value embeds too close to an earlier
// record's key value.
type Deduper struct {
	embedder Embedder
}

func New(embedder Embedder) *Deduper {
	return &Deduper{embedder: embedder}
}

// Dedupe returns records with near-duplicates removed. Records missing the
// key are dropped up front. Key values are embedded in a single batched call,
// then candidates are scanned in order: a candidate whose maximum cosine
// similarity against the already-accepted records is >= threshold is
// discarded, so the first-seen record among near-duplicates always wins.
// Worst case O(n²) comparisons, but n is bounded by extracted-record volume.
func (d *Deduper) Dedupe(ctx context.Context, records []map[string]any, key string, threshold float64) ([]map[string]any, error) {
	if len(records) == 0 {
		return []map[string]any{}, nil
	}

	var candidates []map[string]any
	var keyValues []string
	for _, rec := range records {
		if rec == nil {
			continue
		}
		v, ok := rec[key]
		if !ok || v == nil {
			continue
		}
		candidates = append(candidates, rec)
		keyValues = append(keyValues, fmt.Sprintf("%v", v))
	}
	if len(candidates) == 0 {
		return []map[string]any{}, nil
	}

	vectors, err := d.embedder.EmbedTexts(ctx, keyValues)
	if err != nil {
		return nil, &EmbeddingError{Err: err}
	}
	if len(vectors) != len(candidates) {
		return nil, &EmbeddingError{Err: fmt.Errorf("got %d vectors for %d records", len(vectors), len(candidates))}
	}

	var accepted []map[string]any
	var acceptedVecs [][]float32
	for i, rec := range candidates {
		if isDuplicate(vectors[i], acceptedVecs, threshold) {
			continue
		}
		accepted = append(accepted, rec)
		acceptedVecs = append(acceptedVecs, vectors[i])
	}
	return accepted, nil
}

func isDuplicate(vec []float32, acceptedVecs [][]float32, threshold float64) bool {
	for _, other := range acceptedVecs {
		if CosineSimilarity(vec, other) >= threshold {
			return true
		}
	}
	return false
}

// CosineSimilarity returns the cosine of the angle between two vectors, or 0
// when either has zero magnitude or the lengths differ.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
