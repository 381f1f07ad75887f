package index

import (
	"context"

	"github.com/tmc/langchaingo/schema"

	"quikbot/internal/models"
)

// Retriever adapts an Index to langchaingo's schema.Retriever.
type Retriever struct {
	index *Index
	k     int
}

var _ schema.Retriever = (*Retriever)(nil)

func (ix *Index) Retriever(k int) *Retriever {
	return &Retriever{index: ix, k: k}
}

func (r *Retriever) GetRelevantDocuments(ctx context.Context, query string) ([]schema.Document, error) {
	results, err := r.index.Search(ctx, query, r.k)
	if err != nil {
		return nil, err
	}
	docs := make([]schema.Document, len(results))
	for i, res := range results {
		docs[i] = schema.Document{
			PageContent: res.Content,
			Metadata: map[string]any{
				models.MetaSource:  res.SourceFilename,
				models.MetaChunkID: res.ChunkID,
			},
			Score: res.Score,
		}
	}
	return docs, nil
}
