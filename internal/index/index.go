// Package index builds, reloads and queries the persisted vector index.
//
// The index is populated at most once per process start and is read-only
// afterwards, so a single Index may be shared by concurrent requests.
package index

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/tmc/langchaingo/embeddings"
	"golang.org/x/time/rate"

	"quikbot/internal/embedding"
	"quikbot/internal/helper"
	"quikbot/internal/models"
)

// Store is a vector backend holding chunk embeddings.
type Store interface {
	Count(ctx context.Context) (int, error)
	// Reset drops every stored chunk.
	Reset(ctx context.Context) error
	Add(ctx context.Context, docs []models.ChunkEmbedding) error
	// Search returns at most k results ordered by decreasing similarity.
	Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error)
}

// Source produces the chunks to index. It is only called when a build is needed.
type Source func(ctx context.Context) ([]models.Chunk, error)

type State int

const (
	StateLoaded State = iota
	StateBuilt
)

func (s State) String() string {
	if s == StateBuilt {
		return "built"
	}
	return "loaded"
}

var ErrNoChunks = errors.New("no chunks to index")

type Options struct {
	// Dir is the persistence directory holding the manifest.
	Dir            string
	Backend        string
	Collection     string
	EmbeddingModel string
	BatchSize      int
	Limiter        *rate.Limiter
}

type Index struct {
	store    Store
	embedder embeddings.Embedder
	opts     Options
}

func New(store Store, embedder embeddings.Embedder, opts Options) *Index {
	return &Index{store: store, embedder: embedder, opts: opts}
}

// Ensure loads the index when a valid manifest is present and rebuilds it from
// source otherwise. force skips the manifest check.
func Ensure(ctx context.Context, ix *Index, source Source, force bool) (State, *Manifest, error) {
	if !force {
		m, err := ix.validManifest(ctx)
		if err != nil {
			return StateLoaded, nil, err
		}
		if m != nil {
			log.Info().Int("chunks", m.Chunks).Time("created_at", m.CreatedAt).Msg("Vector index is not empty. Using existing indexes!")
			return StateLoaded, m, nil
		}
	}

	empty, err := helper.IsDirEmpty(ix.opts.Dir)
	if err != nil {
		return StateBuilt, nil, err
	}
	if !empty {
		// a freshly opened backend may already have created its own files
		if n, err := ix.store.Count(ctx); err == nil && n == 0 {
			empty = true
		}
	}
	if empty {
		log.Info().Msg("Vector index is empty. Generating indexes...")
	} else {
		log.Warn().Str("dir", ix.opts.Dir).Msg("Vector index has no valid manifest. Rebuilding indexes...")
	}

	chunks, err := source(ctx)
	if err != nil {
		return StateBuilt, nil, fmt.Errorf("failed to ingest documents: %w", err)
	}
	m, err := ix.Build(ctx, chunks)
	if err != nil {
		return StateBuilt, nil, err
	}
	return StateBuilt, m, nil
}

// validManifest returns nil when the manifest is missing or does not describe the store
func (ix *Index) validManifest(ctx context.Context) (*Manifest, error) {
	m, err := ReadManifest(ix.opts.Dir)
	if err != nil {
		log.Warn().Err(err).Msg("Ignoring unreadable manifest")
		return nil, nil
	}
	if m == nil {
		return nil, nil
	}
	if m.Backend != ix.opts.Backend || m.Collection != ix.opts.Collection || m.EmbeddingModel != ix.opts.EmbeddingModel {
		log.Warn().
			Str("manifest_backend", m.Backend).
			Str("manifest_collection", m.Collection).
			Str("manifest_model", m.EmbeddingModel).
			Msg("Manifest was written for a different index")
		return nil, nil
	}
	count, err := ix.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count stored chunks: %w", err)
	}
	if count != m.Chunks {
		log.Warn().Int("manifest", m.Chunks).Int("stored", count).Msg("Stored chunk count does not match manifest")
		return nil, nil
	}
	if m.Dimensions > 0 {
		dims, err := ix.dimensions(ctx)
		if err != nil {
			// the embedder may come up later; queries will surface the failure
			log.Warn().Err(err).Msg("Could not check embedding dimensions")
		} else if dims != m.Dimensions {
			log.Warn().Int("manifest", m.Dimensions).Int("embedder", dims).Msg("Embedding dimensions do not match manifest")
			return nil, nil
		}
	}
	return m, nil
}

// dimensions reports the vector size the embedder currently produces
func (ix *Index) dimensions(ctx context.Context) (int, error) {
	vec, err := ix.embedder.EmbedQuery(ctx, "dimension check")
	if err != nil {
		return 0, fmt.Errorf("failed to embed dimension check text: %w", err)
	}
	return len(vec), nil
}

// Adopt writes a manifest for chunks already present in the store, such as
// after restoring a backup. Source documents are not known and stay empty.
func Adopt(ctx context.Context, ix *Index) (*Manifest, error) {
	count, err := ix.store.Count(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to count stored chunks: %w", err)
	}
	if count == 0 {
		return nil, ErrNoChunks
	}
	dims, err := ix.dimensions(ctx)
	if err != nil {
		return nil, err
	}
	if err := helper.CreateFolder(ix.opts.Dir); err != nil {
		return nil, err
	}

	m := &Manifest{
		Backend:        ix.opts.Backend,
		Collection:     ix.opts.Collection,
		EmbeddingModel: ix.opts.EmbeddingModel,
		Chunks:         count,
		Dimensions:     dims,
		CreatedAt:      time.Now().UTC(),
	}
	if err := WriteManifest(ix.opts.Dir, m); err != nil {
		return nil, err
	}
	log.Info().Int("chunks", count).Msg("Adopted restored vector index")
	return m, nil
}

// Build replaces the store contents with chunks and writes the manifest last.
func (ix *Index) Build(ctx context.Context, chunks []models.Chunk) (*Manifest, error) {
	if len(chunks) == 0 {
		return nil, ErrNoChunks
	}
	if err := helper.CreateFolder(ix.opts.Dir); err != nil {
		return nil, err
	}
	if err := RemoveManifest(ix.opts.Dir); err != nil {
		return nil, err
	}
	if err := ix.store.Reset(ctx); err != nil {
		return nil, fmt.Errorf("failed to reset vector store: %w", err)
	}

	start := time.Now()
	docs, err := embedding.GenerateEmbedding(ctx, ix.embedder, ix.opts.Limiter, ix.opts.BatchSize, chunks)
	if err != nil {
		return nil, err
	}
	log.Info().Msgf("Adding %d documents to vector database", len(docs))
	if err := ix.store.Add(ctx, docs); err != nil {
		return nil, fmt.Errorf("failed to store embeddings: %w", err)
	}

	m := &Manifest{
		Backend:        ix.opts.Backend,
		Collection:     ix.opts.Collection,
		EmbeddingModel: ix.opts.EmbeddingModel,
		Documents:      sources(chunks),
		Chunks:         len(docs),
		Dimensions:     len(docs[0].Embedding),
		CreatedAt:      time.Now().UTC(),
	}
	if err := WriteManifest(ix.opts.Dir, m); err != nil {
		return nil, err
	}
	log.Info().Int("documents", len(m.Documents)).Int("chunks", m.Chunks).Dur("took", time.Since(start)).Msg("Vector index built")
	return m, nil
}

// Search embeds query and returns the k most similar chunks.
func (ix *Index) Search(ctx context.Context, query string, k int) ([]models.SearchResult, error) {
	if k <= 0 {
		return nil, fmt.Errorf("k must be positive, got %d", k)
	}
	vec, err := ix.embedder.EmbedQuery(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to embed query: %w", err)
	}
	results, err := ix.store.Search(ctx, vec, k)
	if err != nil {
		return nil, err
	}
	if len(results) > k {
		results = results[:k]
	}
	return results, nil
}

func sources(chunks []models.Chunk) []string {
	seen := make(map[string]struct{})
	for _, c := range chunks {
		seen[filepath.ToSlash(c.SourceFilename)] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}

// RemoveManifest deletes the manifest if present
func RemoveManifest(dir string) error {
	err := os.Remove(filepath.Join(dir, models.ManifestFile))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove manifest: %w", err)
	}
	return nil
}
