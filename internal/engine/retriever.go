package engine

import (
	"context"
	"strings"

	"go.uber.org/zap"

	"github.com/converso-ai/orchestration-platform/internal/vector"
	"github.com/converso-ai/orchestration-platform/pkg/logger"
)

// RetrievedContext holds the two scoped lookups performed for a turn:
// tenant-wide knowledge base entries and per-user conversation memories.
type RetrievedContext struct {
	Knowledge []vector.SearchResult
	Memories  []vector.SearchResult
}

// Empty reports whether neither lookup produced results.
func (rc RetrievedContext) Empty() bool {
	return len(rc.Knowledge) == 0 && len(rc.Memories) == 0
}

// Format renders the retrieved context as prompt sections. The knowledge
// block always precedes the memory block; an empty lookup omits its block.
func (rc RetrievedContext) Format() string {
	var b strings.Builder
	if len(rc.Knowledge) > 0 {
		b.WriteString("## Relevant Information from Knowledge Base:\n")
		for _, r := range rc.Knowledge {
			b.WriteString("- ")
			b.WriteString(r.Content)
			b.WriteString("\n")
		}
	}
	if len(rc.Memories) > 0 {
		if b.Len() > 0 {
			b.WriteString("\n")
		}
		b.WriteString("## Previous Conversation Context:\n")
		for _, r := range rc.Memories {
			b.WriteString("- ")
			b.WriteString(r.Content)
			b.WriteString("\n")
		}
	}
	return b.String()
}

// SourceIDs returns the knowledge base document IDs used for the reply, for
// attribution in outbound message metadata.
func (rc RetrievedContext) SourceIDs() []string {
	ids := make([]string, 0, len(rc.Knowledge))
	for _, r := range rc.Knowledge {
		ids = append(ids, r.ID)
	}
	return ids
}

// Retriever performs semantic context lookups against the vector index. A
// failing lookup degrades to an empty block rather than failing the turn.
type Retriever struct {
	index          vector.Index
	scoreThreshold float64
	knowledgeLimit int
	memoryLimit    int
	log            *logger.Logger
}

func NewRetriever(index vector.Index, scoreThreshold float64, knowledgeLimit, memoryLimit int, log *logger.Logger) *Retriever {
	return &Retriever{
		index:          index,
		scoreThreshold: scoreThreshold,
		knowledgeLimit: knowledgeLimit,
		memoryLimit:    memoryLimit,
		log:            log,
	}
}

// Retrieve runs both scoped lookups for the given inbound message. Knowledge
// is filtered by tenant only; memories additionally by user so one user's
// history never leaks into another's context.
func (r *Retriever) Retrieve(ctx context.Context, query, tenantID, userID string) RetrievedContext {
	var rc RetrievedContext

	knowledge, err := r.index.Search(ctx, query, tenantID, vector.DocTypeKnowledge, nil, r.knowledgeLimit, r.scoreThreshold)
	if err != nil {
		r.log.Warn("knowledge retrieval failed, continuing without it",
			zap.String("tenant_id", tenantID),
			zap.Error(err))
	} else {
		rc.Knowledge = knowledge
	}

	memories, err := r.index.Search(ctx, query, tenantID, vector.DocTypeMemory,
		map[string]string{"user_id": userID}, r.memoryLimit, r.scoreThreshold)
	if err != nil {
		r.log.Warn("memory retrieval failed, continuing without it",
			zap.String("tenant_id", tenantID),
			zap.String("user_id", userID),
			zap.Error(err))
	} else {
		rc.Memories = memories
	}

	return rc
}
