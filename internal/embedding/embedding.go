package embedding

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"github.com/tmc/langchaingo/llms/ollama"
	"github.com/tmc/langchaingo/llms/openai"
	"golang.org/x/time/rate"

	"quikbot/internal/config"
	"quikbot/internal/models"
)

// NewEmbedder creates the embedder selected by the config provider
func NewEmbedder(llmConfig *config.LLMConfig) (embeddings.Embedder, error) {
	switch llmConfig.Provider {
	case config.ProviderOpenAI:
		return NewOpenAIEmbedder(llmConfig)
	case config.ProviderOllama, "":
		return NewOllamaEmbedder(llmConfig)
	default:
		return nil, fmt.Errorf("unsupported embedding provider: %s", llmConfig.Provider)
	}
}

// new ollama embedder
func NewOllamaEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating ollama embedder")

	llm, err := ollama.New(
		ollama.WithServerURL(llmConfig.BaseURL),
		ollama.WithModel(llmConfig.Model),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize ollama: %w", err)
	}
	return newEmbedder(llm, llmConfig.BatchSize)
}

// NewOpenAIEmbedder creates an embedder for any OpenAI compatible endpoint
func NewOpenAIEmbedder(llmConfig *config.LLMConfig) (*embeddings.EmbedderImpl, error) {
	log.Debug().Interface("config", map[string]string{
		"base_url":        llmConfig.BaseURL,
		"embedding_model": llmConfig.Model,
	}).Msg("Creating openai embedder")

	opts := []openai.Option{
		openai.WithToken(strings.TrimPrefix(llmConfig.Key, "Bearer ")),
		openai.WithEmbeddingModel(llmConfig.Model),
	}
	if llmConfig.BaseURL != "" {
		opts = append(opts, openai.WithBaseURL(llmConfig.BaseURL))
	}
	llm, err := openai.New(opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize openai: %w", err)
	}
	return newEmbedder(llm, llmConfig.BatchSize)
}

func newEmbedder(client embeddings.EmbedderClient, batchSize int) (*embeddings.EmbedderImpl, error) {
	var opts []embeddings.Option
	if batchSize > 0 {
		opts = append(opts, embeddings.WithBatchSize(batchSize))
	}
	embedder, err := embeddings.NewEmbedder(client, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to create embedder: %w", err)
	}
	return embedder, nil
}

// NewLimiter returns nil when requestsPerSecond is not positive
func NewLimiter(requestsPerSecond float64) *rate.Limiter {
	if requestsPerSecond <= 0 {
		return nil
	}
	return rate.NewLimiter(rate.Limit(requestsPerSecond), 1)
}

// GenerateEmbedding embeds chunks in batches, preserving their order. Each batch
// waits on limiter when one is given.
func GenerateEmbedding(ctx context.Context, embedder embeddings.Embedder, limiter *rate.Limiter, batchSize int, chunks []models.Chunk) ([]models.ChunkEmbedding, error) {
	if len(chunks) == 0 {
		log.Info().Msg("No chunks generated from content")
		return nil, nil
	}
	if batchSize <= 0 {
		batchSize = len(chunks)
	}

	chunkEmbeddings := make([]models.ChunkEmbedding, 0, len(chunks))
	for start := 0; start < len(chunks); start += batchSize {
		end := min(start+batchSize, len(chunks))
		batch := chunks[start:end]

		if limiter != nil {
			if err := limiter.Wait(ctx); err != nil {
				return nil, err
			}
		}

		texts := make([]string, len(batch))
		for i, chunk := range batch {
			texts[i] = chunk.Content
		}
		vectors, err := embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return nil, fmt.Errorf("failed to embed chunks %d-%d: %w", start, end-1, err)
		}
		if len(vectors) != len(batch) {
			return nil, fmt.Errorf("embedder returned %d vectors for %d chunks", len(vectors), len(batch))
		}

		for i, chunk := range batch {
			chunkEmbeddings = append(chunkEmbeddings, models.ChunkEmbedding{
				Content:        chunk.Content,
				Embedding:      vectors[i],
				SourceFilename: chunk.SourceFilename,
				ChunkID:        chunk.ChunkID,
			})
		}
		log.Debug().Msgf("Embedded %d/%d chunks", end, len(chunks))
	}

	return chunkEmbeddings, nil
}
