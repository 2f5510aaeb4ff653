package chromemdb

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"

	"github.com/philippgille/chromem-go"
	"github.com/rs/zerolog/log"

	"textbook-rag/internal/models"
)

const compress = false

// VectorDBManager is the embedded chromem-go backend. Points live in a single
// collection and carry their payload as flat string metadata.
type VectorDBManager struct {
	db             *chromem.DB
	embed          chromem.EmbeddingFunc
	collectionName string
	dbPath         string
	inMemory       bool
	encryptionKey  string
	filePath       string

	mu         sync.RWMutex
	collection *chromem.Collection
}

// NewVectorDBManager opens a persistent database at dbPath, or an in-memory
// one when inMemory is set. embed is only used when chromem has to embed text
// itself; callers normally pass precomputed vectors.
func NewVectorDBManager(dbPath, collectionName string, inMemory bool, encryptionKey string, embed chromem.EmbeddingFunc) (*VectorDBManager, error) {
	var db *chromem.DB
	if inMemory {
		db = chromem.NewDB()
	} else {
		var err error
		db, err = chromem.NewPersistentDB(dbPath, compress)
		if err != nil {
			return nil, fmt.Errorf("failed to create database: %v", err)
		}
	}

	return &VectorDBManager{
		db:             db,
		embed:          embed,
		collectionName: collectionName,
		dbPath:         dbPath,
		inMemory:       inMemory,
		encryptionKey:  encryptionKey,
		filePath:       filepath.Join(dbPath, collectionName+".chromem"),
	}, nil
}

func (m *VectorDBManager) Name() string { return "chromem" }

// EnsureCollection opens the collection, creating it with cosine distance
// when it does not exist yet.
func (m *VectorDBManager) EnsureCollection(ctx context.Context, dimension int) error {
	_, err := m.ensure(dimension)
	return err
}

func (m *VectorDBManager) ensure(dimension int) (*chromem.Collection, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.collection != nil {
		return m.collection, nil
	}
	c := m.db.GetCollection(m.collectionName, m.embed)
	if c == nil {
		meta := map[string]string{"distance": "cosine"}
		if dimension > 0 {
			meta["dimension"] = strconv.Itoa(dimension)
		}
		var err error
		c, err = m.db.CreateCollection(m.collectionName, meta, m.embed)
		if err != nil {
			return nil, fmt.Errorf("failed to create collection %s: %v", m.collectionName, err)
		}
		log.Info().Str("collection", m.collectionName).Int("dimension", dimension).Msg("Created chromem collection")
	}
	m.collection = c
	return c, nil
}

func (m *VectorDBManager) current() (*chromem.Collection, error) {
	m.mu.RLock()
	c := m.collection
	m.mu.RUnlock()
	if c != nil {
		return c, nil
	}
	return m.ensure(0)
}

// Upsert adds the points; chromem replaces documents with an existing id.
func (m *VectorDBManager) Upsert(ctx context.Context, points []models.Point) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	docs := make([]chromem.Document, 0, len(points))
	for _, p := range points {
		docs = append(docs, chromem.Document{
			ID:        p.ID,
			Content:   p.Chunk.Text,
			Metadata:  p.Chunk.Payload(),
			Embedding: p.Vector(),
		})
	}
	if err := c.AddDocuments(ctx, docs, runtime.NumCPU()); err != nil {
		return fmt.Errorf("failed to add documents: %v", err)
	}
	return nil
}

// Search runs a filtered similarity query. chromem rejects a result count
// larger than the collection, so the limit is clamped.
func (m *VectorDBManager) Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error) {
	c, err := m.current()
	if err != nil {
		return nil, err
	}
	n := min(limit, c.Count())
	if n <= 0 {
		return nil, nil
	}

	res, err := c.QueryWithOptions(ctx, chromem.QueryOptions{
		QueryEmbedding: vector,
		NResults:       n,
		Where:          filter,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query by similarity: %v", err)
	}
	results := make([]models.SearchResult, 0, len(res))
	for _, r := range res {
		results = append(results, models.SearchResultFromPayload(r.Metadata, r.Content, float64(r.Similarity)))
	}
	return results, nil
}

func (m *VectorDBManager) Delete(ctx context.Context, filter models.Filter) error {
	c, err := m.current()
	if err != nil {
		return err
	}
	if c.Count() == 0 {
		return nil
	}
	if err := c.Delete(ctx, filter, nil); err != nil {
		return fmt.Errorf("failed to delete documents: %v", err)
	}
	return nil
}

// Export writes an encrypted snapshot of the collection. It is used to keep
// an in-memory database across restarts.
func (m *VectorDBManager) Export(ctx context.Context) error {
	if m.encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	if m.dbPath == "" {
		return errors.New("db path is required")
	}
	if _, err := m.current(); err != nil {
		return err
	}
	if err := os.MkdirAll(m.dbPath, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %v", m.dbPath, err)
	}

	log.Debug().Str("collection", m.collectionName).Str("file", m.filePath).Msg("Exporting chromem collection")
	if err := m.db.ExportToFile(m.filePath, compress, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to export database: %v", err)
	}
	return nil
}

// Import restores a snapshot written by Export. A missing snapshot is not an error.
func (m *VectorDBManager) Import(ctx context.Context) error {
	if m.encryptionKey == "" {
		return errors.New("encryption key is required")
	}
	if _, err := os.Stat(m.filePath); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := m.db.ImportFromFile(m.filePath, m.encryptionKey, m.collectionName); err != nil {
		return fmt.Errorf("failed to import database: %v", err)
	}
	m.mu.Lock()
	m.collection = nil
	m.mu.Unlock()
	return nil
}

// InMemory reports whether the database lives only in memory.
func (m *VectorDBManager) InMemory() bool { return m.inMemory }
