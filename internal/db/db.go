package db

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/pgvector/pgvector-go"
	"github.com/rs/zerolog/log"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"quikbot/internal/config"
	"quikbot/internal/helper"
	"quikbot/internal/models"
)

const (
	DriverPG       = "pg"
	DriverPostgres = "postgres"
)

type Document struct {
	bun.BaseModel  `bun:"table:documents,alias:d"`
	ID             int64           `bun:"id,pk,autoincrement"`
	ChunkUUID      string          `bun:"chunk_uuid,notnull,unique"`
	Content        string          `bun:"content,notnull"`
	SourceFilename string          `bun:"source,notnull"`
	ChunkID        int             `bun:"chunk_id,notnull"`
	Embedding      pgvector.Vector `bun:"embedding,notnull,type:vector"`
}

type searchRow struct {
	Content        string  `bun:"content"`
	SourceFilename string  `bun:"source"`
	ChunkID        int     `bun:"chunk_id"`
	Score          float64 `bun:"score"`
}

// Store keeps chunk embeddings in a pgvector table
type Store struct {
	db *bun.DB
}

func NewDB(sqldb *sql.DB, debug bool) *bun.DB {
	db := bun.NewDB(sqldb, pgdialect.New())
	if debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db
}

// ConnectDB opens the database with bun's pgdriver or, for driver "postgres", lib/pq.
func ConnectDB(dbConfig *config.DatabaseConfig) (*sql.DB, error) {
	if dbConfig.DSN == "" {
		return nil, fmt.Errorf("database dsn is required")
	}

	switch dbConfig.Driver {
	case DriverPostgres:
		sqldb, err := sql.Open(DriverPostgres, dbConfig.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return sqldb, nil
	case DriverPG, "":
		opts := []pgdriver.Option{pgdriver.WithDSN(dbConfig.DSN)}
		if dbConfig.Password != "" {
			opts = append(opts, pgdriver.WithPassword(dbConfig.Password))
		}
		return sql.OpenDB(pgdriver.NewConnector(opts...)), nil
	default:
		return nil, fmt.Errorf("unsupported database driver %q", dbConfig.Driver)
	}
}

// NewStore makes sure the vector extension and the documents table exist.
func NewStore(ctx context.Context, db *bun.DB) (*Store, error) {
	if err := InitDB(ctx, db); err != nil {
		return nil, err
	}
	return &Store{db: db}, nil
}

func InitDB(ctx context.Context, db *bun.DB) error {
	if _, err := db.ExecContext(ctx, "CREATE EXTENSION IF NOT EXISTS vector"); err != nil {
		return fmt.Errorf("failed to create vector extension: %w", err)
	}
	if _, err := db.NewCreateTable().Model((*Document)(nil)).IfNotExists().Exec(ctx); err != nil {
		return fmt.Errorf("failed to create documents table: %w", err)
	}
	return nil
}

// drop table documents
func DropDocuments(ctx context.Context, db *bun.DB) error {
	_, err := db.NewDropTable().Model((*Document)(nil)).IfExists().Exec(ctx)
	return err
}

func (s *Store) Count(ctx context.Context) (int, error) {
	n, err := s.db.NewSelect().Model((*Document)(nil)).Count(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to count documents: %w", err)
	}
	return n, nil
}

func (s *Store) Reset(ctx context.Context) error {
	if err := DropDocuments(ctx, s.db); err != nil {
		return fmt.Errorf("failed to drop documents: %w", err)
	}
	return InitDB(ctx, s.db)
}

func (s *Store) Add(ctx context.Context, chunks []models.ChunkEmbedding) error {
	if len(chunks) == 0 {
		return nil
	}
	docs := toDocuments(chunks)
	if _, err := s.db.NewInsert().Model(&docs).Exec(ctx); err != nil {
		return fmt.Errorf("failed to store documents: %w", err)
	}
	log.Debug().Int("documents", len(docs)).Msg("Stored documents")
	return nil
}

// Search ranks by cosine distance; score is the cosine similarity.
func (s *Store) Search(ctx context.Context, embedding []float32, k int) ([]models.SearchResult, error) {
	if len(embedding) == 0 {
		return nil, fmt.Errorf("query embedding must be provided")
	}
	if k <= 0 {
		return nil, nil
	}

	var rows []searchRow
	if err := searchQuery(s.db, embedding, k).Scan(ctx, &rows); err != nil {
		return nil, fmt.Errorf("failed to search documents: %w", err)
	}

	out := make([]models.SearchResult, len(rows))
	for i, r := range rows {
		out[i] = models.SearchResult{
			Content:        r.Content,
			SourceFilename: r.SourceFilename,
			ChunkID:        r.ChunkID,
			Score:          float32(r.Score),
		}
	}
	return out, nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

func searchQuery(db *bun.DB, embedding []float32, k int) *bun.SelectQuery {
	vec := pgvector.NewVector(embedding)
	return db.NewSelect().
		Model((*Document)(nil)).
		Column("content", "source", "chunk_id").
		ColumnExpr("1 - (embedding <=> ?::vector) AS score", vec).
		OrderExpr("embedding <=> ?::vector", vec).
		Limit(k)
}

func toDocuments(chunks []models.ChunkEmbedding) []Document {
	docs := make([]Document, len(chunks))
	for i, c := range chunks {
		docs[i] = Document{
			ChunkUUID:      helper.ChunkUUID(c.SourceFilename, c.ChunkID),
			Content:        c.Content,
			SourceFilename: c.SourceFilename,
			ChunkID:        c.ChunkID,
			Embedding:      pgvector.NewVector(c.Embedding),
		}
	}
	return docs
}
