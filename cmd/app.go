package main

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/chat"
	"textbook-rag/internal/chromemdb"
	"textbook-rag/internal/config"
	"textbook-rag/internal/db"
	"textbook-rag/internal/embedding"
	"textbook-rag/internal/generation"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/importer"
	"textbook-rag/internal/indexing"
	"textbook-rag/internal/jobs"
	"textbook-rag/internal/llmservice"
	"textbook-rag/internal/parser"
	"textbook-rag/internal/qdrant"
	"textbook-rag/internal/rag"
	"textbook-rag/internal/vectorindex"
)

// app holds the wired components shared by the commands.
type app struct {
	store     *db.Store
	embedder  *embedding.Embedder
	index     *vectorindex.Index
	chromem   *chromemdb.VectorDBManager
	llm       *llmservice.Client
	jobs      *jobs.Store
	rag       *rag.RAG
	indexer   *indexing.Indexer
	chat      *chat.Orchestrator
	generator *generation.Generator
	importer  *importer.Importer

	// snapshot is set when an in-memory chromem database is saved on close.
	snapshot bool
}

type appOptions struct {
	llm  bool
	jobs bool
}

func newApp(ctx context.Context, cfg *config.Config, opts appOptions) (*app, error) {
	a := &app{}
	ok := false
	defer func() {
		if !ok {
			a.close(ctx)
		}
	}()

	bunDB, err := db.ConnectDB(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("error connecting to database: %w", err)
	}
	a.store = db.NewStore(bunDB)
	if err := db.InitSchema(ctx, bunDB); err != nil {
		return nil, fmt.Errorf("error initializing database: %w", err)
	}

	a.embedder, err = embedding.NewFromConfig(cfg.EmbedLLM)
	if err != nil {
		return nil, fmt.Errorf("error initializing embedder: %w", err)
	}

	backend, err := a.vectorBackend(ctx, cfg)
	if err != nil {
		return nil, err
	}
	a.index = vectorindex.New(backend, vectorindex.Options{
		Dimension:      a.embedder.Dimension(),
		Timeout:        cfg.VectorStore.Timeout,
		DegradeOnError: cfg.VectorStore.DegradeOnError,
	})
	if err := a.index.EnsureCollection(ctx); err != nil {
		return nil, fmt.Errorf("error preparing vector collection: %w", err)
	}

	chunker, err := parser.NewChunker(cfg.RAG.ChunkSize, cfg.RAG.ChunkOverlap)
	if err != nil {
		return nil, err
	}
	a.rag = rag.NewRAG(a.embedder, a.index, cfg.RAG.SearchLimit)
	a.indexer = indexing.New(a.store, a.index, a.embedder, chunker)
	a.importer = importer.New(a.store, parser.FileParser{})

	if opts.jobs {
		if err := helper.CreateFolder(dirOf(cfg.Jobs.Path)); err != nil {
			return nil, err
		}
		a.jobs, err = jobs.Open(cfg.Jobs.Path)
		if err != nil {
			return nil, err
		}
	}

	if opts.llm {
		a.llm, err = llmservice.NewFromConfig(cfg.LLM)
		if err != nil {
			return nil, fmt.Errorf("error initializing llm: %w", err)
		}
		a.chat = chat.NewOrchestrator(a.store, a.rag, a.llm, cfg.RAG.SearchLimit)
		genOpts := []generation.Option{generation.WithComplexityThreshold(cfg.Generation.TopicComplexityThreshold)}
		if a.jobs != nil {
			genOpts = append(genOpts, generation.WithProgress(a.jobs))
		}
		a.generator = generation.New(a.store, a.llm, genOpts...)
	}

	log.Info().
		Str("database", cfg.Database.Driver).
		Str("vector_store", backend.Name()).
		Int("dimension", a.embedder.Dimension()).
		Msg("Initialized components")
	a.snapshot = a.chromem != nil && cfg.VectorStore.InMemory && cfg.VectorStore.EncryptionKey != ""
	ok = true
	return a, nil
}

func (a *app) vectorBackend(ctx context.Context, cfg *config.Config) (vectorindex.Backend, error) {
	vs := cfg.VectorStore
	switch vs.Type {
	case "chromem", "":
		m, err := chromemdb.NewVectorDBManager(vs.Path, vs.Collection, vs.InMemory, vs.EncryptionKey, a.embedder.Func())
		if err != nil {
			return nil, fmt.Errorf("error creating chromem database: %w", err)
		}
		if vs.InMemory && vs.EncryptionKey != "" {
			if err := m.Import(ctx); err != nil {
				return nil, err
			}
		}
		a.chromem = m
		return m, nil
	case "qdrant":
		return qdrant.NewStorage(qdrant.Config{
			URL:        vs.URL,
			APIKey:     vs.APIKey,
			Collection: vs.Collection,
			Timeout:    vs.Timeout,
		}), nil
	case "pgvector":
		return db.NewVectorStore(a.store.DB(), vs.Collection), nil
	case "memory":
		return vectorindex.NewMemory(), nil
	}
	return nil, fmt.Errorf("unknown vector store: %s", vs.Type)
}

// close persists in-memory vectors and releases every open resource.
func (a *app) close(ctx context.Context) error {
	var errs []error
	if a.snapshot {
		if err := a.chromem.Export(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if a.jobs != nil {
		errs = append(errs, a.jobs.Close())
	}
	if a.store != nil {
		errs = append(errs, a.store.Close())
	}
	err := errors.Join(errs...)
	if err != nil {
		log.Error().Err(err).Msg("Error shutting down")
	}
	return err
}

func dirOf(path string) string { return filepath.Dir(path) }
