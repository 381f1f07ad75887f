package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"quikbot/internal/chromemdb"
	"quikbot/internal/config"
	"quikbot/internal/db"
	"quikbot/internal/embedding"
	"quikbot/internal/helper"
	"quikbot/internal/index"
	"quikbot/internal/llmservice"
	"quikbot/internal/models"
	"quikbot/internal/parser"
	"quikbot/internal/qdrantdb"
	"quikbot/internal/rag"
	"quikbot/internal/server"
	"quikbot/internal/watcher"
)

const (
	configFilePath = "./configs/config.yaml"
	envFilePath    = ".env"
)

func main() {
	configPath := flag.String("config", configFilePath, "Path to the YAML config file")
	envFile := flag.String("env", envFilePath, "Path to the .env file holding GENAI_KEY and GENAI_API")
	rebuild := flag.Bool("rebuild", false, "Ignore the manifest and rebuild the vector index")
	query := flag.String("query", "", "Answer a single question and exit")
	exportPath := flag.String("export", "", "Write an encrypted backup of the chromem collection to this file and exit")
	importPath := flag.String("import", "", "Restore the chromem collection from a backup written by -export before serving")
	flag.Parse()

	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}).With().Caller().Logger()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatal().Err(err).Msg("Error loading config")
	}
	setupLogging(cfg.Log)
	log.Debug().Interface("config", redacted(cfg)).Msg("Loaded config")

	creds := config.LoadCredentials(*envFile)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg)
	if err != nil {
		log.Fatal().Err(err).Str("backend", cfg.RAG.Backend).Msg("Error opening vector store")
	}
	defer closeStore()

	embedder, err := embedding.NewEmbedder(&cfg.EmbedLLM)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing embedder")
	}

	ix := index.New(store, embedder, index.Options{
		Dir:            cfg.RAG.DBDir,
		Backend:        cfg.RAG.Backend,
		Collection:     cfg.RAG.CollectionName,
		EmbeddingModel: cfg.EmbedLLM.Model,
		BatchSize:      cfg.EmbedLLM.BatchSize,
		Limiter:        embedding.NewLimiter(cfg.EmbedLLM.RequestsPerSecond),
	})

	if *importPath != "" {
		importIndex(ctx, store, ix, *importPath)
	}

	p := parser.New(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	source := func(ctx context.Context) ([]models.Chunk, error) {
		return p.ParseDirectory(ctx, cfg.RAG.DataDir)
	}
	state, manifest, err := index.Ensure(ctx, ix, source, *rebuild)
	if err != nil {
		log.Fatal().Err(err).Msg("Error preparing vector index")
	}
	log.Info().
		Stringer("state", state).
		Int("documents", len(manifest.Documents)).
		Int("chunks", manifest.Chunks).
		Msg("Vector index ready")

	if *exportPath != "" {
		exportIndex(store, *exportPath)
		return
	}

	llm, err := llmservice.New(creds, &cfg.InferenceLLM, cfg.Generation)
	if err != nil {
		log.Fatal().Err(err).Msg("Error initializing llm")
	}
	qa := rag.NewRAG(llm, ix.Retriever(cfg.RAG.TopK))

	if *query != "" {
		answerOnce(ctx, qa, *query)
		return
	}

	if cfg.RAG.Watch {
		watchDataDir(ctx, cfg.RAG.DataDir)
	}

	srv := server.New(cfg.Server, qa)
	if err := srv.Start(ctx); err != nil {
		log.Fatal().Err(err).Msg("Server stopped")
	}
	log.Info().Msg("Server stopped")
}

func setupLogging(logConfig config.LogConfig) {
	level, err := zerolog.ParseLevel(logConfig.Level)
	if err != nil {
		log.Warn().Str("level", logConfig.Level).Msg("Unknown log level, using info")
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	var out io.Writer = os.Stdout
	if logConfig.Console {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	log.Logger = zerolog.New(out).With().Timestamp().Caller().Logger()
}

// openStore returns the configured vector backend and a func releasing it
func openStore(ctx context.Context, cfg *config.Config) (index.Store, func(), error) {
	if err := helper.CreateFolder(cfg.RAG.DBDir); err != nil {
		return nil, nil, err
	}

	switch cfg.RAG.Backend {
	case config.BackendPGVector:
		sqldb, err := db.ConnectDB(&cfg.Database)
		if err != nil {
			return nil, nil, err
		}
		bunDB := db.NewDB(sqldb, cfg.Database.Debug)
		store, err := db.NewStore(ctx, bunDB)
		if err != nil {
			bunDB.Close()
			return nil, nil, err
		}
		return store, func() { closeQuietly("pgvector", store.Close) }, nil
	case config.BackendQdrant:
		store, err := qdrantdb.New(cfg.Qdrant.Addr, cfg.RAG.CollectionName, cfg.Qdrant.BatchSize)
		if err != nil {
			return nil, nil, err
		}
		return store, func() { closeQuietly("qdrant", store.Close) }, nil
	default:
		store, err := chromemdb.NewVectorDBManager(cfg.RAG.DBDir, cfg.RAG.CollectionName, cfg.RAG.Compress, cfg.RAG.EncryptionKey)
		if err != nil {
			return nil, nil, err
		}
		return store, func() {}, nil
	}
}

func closeQuietly(name string, closeFn func() error) {
	if err := closeFn(); err != nil {
		log.Warn().Err(err).Str("store", name).Msg("Error closing store")
	}
}

func exportIndex(store index.Store, path string) {
	vdb, ok := store.(*chromemdb.VectorDBManager)
	if !ok {
		log.Fatal().Msg("Export is only supported by the chromem backend")
	}
	if err := vdb.Export(path); err != nil {
		log.Fatal().Err(err).Msg("Error exporting collection")
	}
	log.Info().Str("file", path).Msg("Exported collection")
}

// importIndex restores a backup and records it in the manifest so Ensure loads it
func importIndex(ctx context.Context, store index.Store, ix *index.Index, path string) {
	vdb, ok := store.(*chromemdb.VectorDBManager)
	if !ok {
		log.Fatal().Msg("Import is only supported by the chromem backend")
	}
	if err := vdb.Import(path); err != nil {
		log.Fatal().Err(err).Msg("Error importing collection")
	}
	m, err := index.Adopt(ctx, ix)
	if err != nil {
		log.Fatal().Err(err).Msg("Error adopting imported collection")
	}
	log.Info().Str("file", path).Int("chunks", m.Chunks).Msg("Imported collection")
}

func answerOnce(ctx context.Context, qa *rag.RAG, query string) {
	response, err := qa.Query(ctx, query)
	if err != nil {
		log.Fatal().Err(err).Msg("Error querying")
	}

	log.Info().Msg("Query: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", query)

	log.Info().Msg("Source: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	helper.PrettyPrint(response.Sources)
	fmt.Println()

	log.Info().Msg("Assistant: ~~~~~~~~~~~~~~~~~~~~~~~~~>>>>>")
	fmt.Printf("%s\n\n", response.Content)
}

// watchDataDir logs changes to the PDF folder. The index is not rebuilt while serving.
func watchDataDir(ctx context.Context, dir string) {
	w, err := watcher.New()
	if err != nil {
		log.Warn().Err(err).Msg("Error creating data watcher")
		return
	}
	events, err := w.Watch(ctx, dir)
	if err != nil {
		log.Warn().Err(err).Str("dir", dir).Msg("Error watching data directory")
		w.Stop()
		return
	}

	go func() {
		defer w.Stop()
		for ev := range events {
			log.Warn().
				Str("file", ev.Path).
				Stringer("op", ev.Operation).
				Msg("PDF folder changed, restart with -rebuild to refresh the index")
		}
	}()
}

func redacted(cfg *config.Config) config.Config {
	c := *cfg
	if c.RAG.EncryptionKey != "" {
		c.RAG.EncryptionKey = "***"
	}
	if c.Database.Password != "" {
		c.Database.Password = "***"
	}
	if c.EmbedLLM.Key != "" {
		c.EmbedLLM.Key = "***"
	}
	if c.InferenceLLM.Key != "" {
		c.InferenceLLM.Key = "***"
	}
	return c
}
