// Package vector defines the vector index contract used for knowledge-base
// and long-term-memory retrieval, plus an embedding-backed in-memory index.
package vector

import (
	"context"
)

// Document types stored in the index.
const (
	DocTypeKnowledge = "knowledge"
	DocTypeMemory    = "memory"
)

// SearchResult is one ranked hit from the index.
type SearchResult struct {
	ID       string
	Content  string
	Score    float64
	Metadata map[string]string
}

// Index is the vector search contract. Implementations own embedding and
// ranking; tenant isolation is enforced through the tenant tag.
type Index interface {
	// Search returns ranked results of the given docType for a tenant,
	// filtered by extraFilters (exact metadata match) and scoreThreshold.
	Search(ctx context.Context, query, tenantID, docType string, extraFilters map[string]string, limit int, scoreThreshold float64) ([]SearchResult, error)

	// Upsert embeds and stores documents tagged with tenant and docType.
	// metadata is per-document and may be nil.
	Upsert(ctx context.Context, documents []string, tenantID, docType string, metadata []map[string]string) ([]string, error)
}
