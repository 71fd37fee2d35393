package vector

import (
	"context"
	"errors"
	"math"
	"sort"
	"sync"

	"github.com/google/uuid"
	openai "github.com/sashabaranov/go-openai"

	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

// EmbeddingClient is the subset of the OpenAI client used for embeddings.
type EmbeddingClient interface {
	CreateEmbeddings(ctx context.Context, request openai.EmbeddingRequestConverter) (openai.EmbeddingResponse, error)
}

type indexedDocument struct {
	id        string
	content   string
	docType   string
	metadata  map[string]string
	embedding []float32
}

// MemoryIndex keeps embeddings in memory and supports cosine retrieval with
// tenant, docType, and metadata filtering.
type MemoryIndex struct {
	client EmbeddingClient
	model  string
	logger *logger.Logger

	mu        sync.RWMutex
	documents map[string][]indexedDocument // keyed by tenantID
}

// NewMemoryIndex creates an in-memory index.
func NewMemoryIndex(client EmbeddingClient, model string, log *logger.Logger) *MemoryIndex {
	if client == nil {
		panic("vector: embedding client cannot be nil")
	}
	if model == "" {
		model = "text-embedding-3-small"
	}
	if log == nil {
		log = logger.Global()
	}

	return &MemoryIndex{
		client:    client,
		model:     model,
		logger:    log,
		documents: make(map[string][]indexedDocument),
	}
}

// Upsert embeds and stores the provided documents for a tenant.
func (s *MemoryIndex) Upsert(ctx context.Context, documents []string, tenantID, docType string, metadata []map[string]string) ([]string, error) {
	if len(documents) == 0 {
		return nil, nil
	}
	if metadata != nil && len(metadata) != len(documents) {
		return nil, errors.New("vector: metadata length mismatch")
	}

	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: documents,
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) != len(documents) {
		return nil, errors.New("vector: embedding response size mismatch")
	}

	ids := make([]string, len(documents))
	s.mu.Lock()
	defer s.mu.Unlock()
	for i, item := range resp.Data {
		var meta map[string]string
		if metadata != nil {
			meta = metadata[i]
		}
		id := uuid.Must(uuid.NewV7()).String()
		ids[i] = id
		s.documents[tenantID] = append(s.documents[tenantID], indexedDocument{
			id:        id,
			content:   documents[i],
			docType:   docType,
			metadata:  meta,
			embedding: item.Embedding,
		})
	}
	return ids, nil
}

// Search returns the top results above scoreThreshold for a tenant.
func (s *MemoryIndex) Search(ctx context.Context, query, tenantID, docType string, extraFilters map[string]string, limit int, scoreThreshold float64) ([]SearchResult, error) {
	if limit <= 0 {
		limit = 3
	}

	req := &openai.EmbeddingRequest{
		Model: openai.EmbeddingModel(s.model),
		Input: []string{query},
	}
	resp, err := s.client.CreateEmbeddings(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(resp.Data) == 0 {
		return nil, nil
	}
	queryVec := resp.Data[0].Embedding

	s.mu.RLock()
	defer s.mu.RUnlock()

	var results []SearchResult
	for _, doc := range s.documents[tenantID] {
		if docType != "" && doc.docType != docType {
			continue
		}
		if !matchesFilters(doc.metadata, extraFilters) {
			continue
		}
		score := cosineSimilarity(queryVec, doc.embedding)
		if score < scoreThreshold {
			continue
		}
		results = append(results, SearchResult{
			ID:       doc.id,
			Content:  doc.content,
			Score:    score,
			Metadata: doc.metadata,
		})
	}

	sort.Slice(results, func(i, j int) bool {
		return results[i].Score > results[j].Score
	})
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func matchesFilters(metadata, filters map[string]string) bool {
	for k, want := range filters {
		if metadata[k] != want {
			return false
		}
	}
	return true
}

func cosineSimilarity(a, b []float32) float64 {
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
