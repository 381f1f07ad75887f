package chromemdb

import (
	"context"
	"fmt"
	"path/filepath"
	"runtime"
	"strconv"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"quikbot/internal/helper"
	"quikbot/internal/models"
)

// VectorDBManager encapsulates the chromem-go database operations
type VectorDBManager struct {
	db             *chromem.DB
	collection     *chromem.Collection
	collectionName string
	dbPath         string
	compress       bool
	encryptionKey  string
}

// NewVectorDBManager opens the database at dbPath and its collection. An empty
// dbPath keeps everything in memory.
func NewVectorDBManager(dbPath, collectionName string, compress bool, encryptionKey string) (*VectorDBManager, error) {
	var db *chromem.DB
	var err error
	if dbPath == "" {
		db = chromem.NewDB()
	} else {
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %w", err)
		}
	}

	m := &VectorDBManager{
		db:             db,
		collectionName: collectionName,
		dbPath:         dbPath,
		compress:       compress,
		encryptionKey:  encryptionKey,
	}
	if _, err := m.GetOrCreateCollection(collectionName); err != nil {
		return nil, err
	}
	return m, nil
}

// create or read collection
func (m *VectorDBManager) GetOrCreateCollection(collectionName string) (*chromem.Collection, error) {
	// embeddings are always computed by the caller, so no embedding func is needed
	c, err := m.db.GetOrCreateCollection(collectionName, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create/get collection: %w", err)
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) Count(_ context.Context) (int, error) {
	return m.collection.Count(), nil
}

// Reset drops and recreates the collection
func (m *VectorDBManager) Reset(_ context.Context) error {
	if err := m.db.DeleteCollection(m.collectionName); err != nil {
		return fmt.Errorf("failed to drop collection: %w", err)
	}
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}

// Add stores chunk embeddings as chromem documents
func (m *VectorDBManager) Add(ctx context.Context, docs []models.ChunkEmbedding) error {
	chromemDocs := make([]chromem.Document, len(docs))
	for i, d := range docs {
		chromemDocs[i] = chromem.Document{
			ID:      helper.ChunkUUID(d.SourceFilename, d.ChunkID),
			Content: d.Content,
			Metadata: map[string]string{
				models.MetaSource:  d.SourceFilename,
				models.MetaChunkID: strconv.Itoa(d.ChunkID),
			},
			Embedding: d.Embedding,
		}
	}
	if err := m.collection.AddDocuments(ctx, chromemDocs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %w", err)
	}
	return nil
}

// Search performs a similarity search by embedding. k is clamped to the collection size.
func (m *VectorDBManager) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	k = min(k, m.collection.Count())
	if k <= 0 {
		return nil, nil
	}

	results, err := m.collection.QueryEmbedding(ctx, embedding, k, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %w", err)
	}

	out := make([]models.SearchResult, len(results))
	for i, r := range results {
		chunkID, _ := strconv.Atoi(r.Metadata[models.MetaChunkID])
		out[i] = models.SearchResult{
			Content:        r.Content,
			SourceFilename: r.Metadata[models.MetaSource],
			ChunkID:        chunkID,
			Score:          r.Similarity,
		}
	}
	return out, nil
}

// export the collection to an encrypted file
func (m *VectorDBManager) Export(path string) error {
	if m.encryptionKey == "" {
		return fmt.Errorf("encryption key is required")
	}
	if path == "" {
		path = filepath.Join(m.dbPath, m.collectionName+".chromem")
	}

	log.Debug().
		Str("collection", m.collectionName).
		Str("file", path).
		Bool("compress", m.compress).
		Msg("Exporting collection")
	if err := m.db.ExportToFile(path, m.compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %w", err)
	}
	return nil
}

// import the collection from an encrypted file
func (m *VectorDBManager) Import(path string) error {
	if err := m.db.ImportFromFile(path, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %w", err)
	}
	_, err := m.GetOrCreateCollection(m.collectionName)
	return err
}
