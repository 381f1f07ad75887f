package rag

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/chains"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/prompts"
	"github.com/tmc/langchaingo/schema"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"quikbot/internal/models"
)

const tracerName = "quikbot/rag"

type RAG struct {
	qa chains.RetrievalQA
}

// NewRAG builds a retrieval QA "stuff" chain: the retrieved chunks are joined into a
// single prompt and sent to llm in one call.
func NewRAG(llm llms.Model, retriever schema.Retriever) *RAG {
	prompt := prompts.NewPromptTemplate(models.StuffPromptTemplate, []string{"context", "question"})
	stuff := chains.NewStuffDocuments(chains.NewLLMChain(llm, prompt))

	qa := chains.NewRetrievalQA(stuff, retriever)
	qa.ReturnSourceDocuments = true
	return &RAG{qa: qa}
}

// Query answers q. Blank questions get the rejection message without touching the
// retriever or the model.
func (r *RAG) Query(ctx context.Context, q string) (*models.PromptResponse, error) {
	if strings.TrimSpace(q) == "" {
		return &models.PromptResponse{Query: q, Content: models.RejectionMessage}, nil
	}

	ctx, span := otel.Tracer(tracerName).Start(ctx, "rag.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("query.length", len(q)))

	log.Info().Str("query", q).Msg("Here is the query")
	result, err := chains.Call(ctx, r.qa, map[string]any{"query": q})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("failed to answer query: %w", err)
	}

	answer, ok := result["text"].(string)
	if !ok {
		err := fmt.Errorf("unexpected chain output %T", result["text"])
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}

	docs, _ := result["source_documents"].([]schema.Document)
	sources := toSearchResults(docs)
	span.SetAttributes(attribute.Int("sources", len(sources)))

	contents := make([]string, len(sources))
	for i, s := range sources {
		contents[i] = s.Content
	}

	resp := &models.PromptResponse{
		Query:   q,
		Source:  strings.Join(contents, models.ContextJoinSep),
		Content: strings.TrimSpace(answer),
		Sources: sources,
	}
	log.Info().Str("response", resp.Content).Int("sources", len(sources)).Msg("Here is the response")
	return resp, nil
}

// Answer returns only the answer text
func (r *RAG) Answer(ctx context.Context, q string) (string, error) {
	resp, err := r.Query(ctx, q)
	if err != nil {
		return "", err
	}
	return resp.Content, nil
}

func toSearchResults(docs []schema.Document) []models.SearchResult {
	out := make([]models.SearchResult, 0, len(docs))
	for _, d := range docs {
		res := models.SearchResult{Content: d.PageContent, Score: d.Score}
		if src, ok := d.Metadata[models.MetaSource].(string); ok {
			res.SourceFilename = src
		}
		if id, ok := d.Metadata[models.MetaChunkID].(int); ok {
			res.ChunkID = id
		}
		out = append(out, res)
	}
	return out
}
