package rag

import (
	"context"
	"strings"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/models"
)

type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error)
}

// RAG retrieves textbook content relevant to a query.
type RAG struct {
	embedder     Embedder
	index        VectorSearcher
	defaultLimit int
}

func NewRAG(embedder Embedder, index VectorSearcher, defaultLimit int) *RAG {
	if defaultLimit <= 0 {
		defaultLimit = models.DefaultSearchLimit
	}
	return &RAG{embedder: embedder, index: index, defaultLimit: defaultLimit}
}

// Search embeds query and returns the closest chunks of one textbook, best
// first. No match is an empty slice, not an error.
func (r *RAG) Search(ctx context.Context, query, textbookID string, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = r.defaultLimit
	}
	vec, err := r.embedder.Embed(ctx, query)
	if err != nil {
		return nil, err
	}
	results, err := r.index.Search(ctx, vec, models.TextbookFilter(textbookID), limit)
	if err != nil {
		return nil, err
	}
	if results == nil {
		results = []models.SearchResult{}
	}
	log.Debug().Str("textbook_id", textbookID).Int("results", len(results)).Msg("Retrieved context")
	return results, nil
}

// BuildContext joins result texts for a prompt.
func BuildContext(results []models.SearchResult) string {
	if len(results) == 0 {
		return models.NoContextFound
	}
	texts := make([]string, len(results))
	for i, r := range results {
		texts[i] = r.Text
	}
	return strings.Join(texts, models.ContextSeparator)
}

// Sources lists the attribution of each result.
func Sources(results []models.SearchResult) []models.Source {
	sources := make([]models.Source, len(results))
	for i, r := range results {
		sources[i] = models.Source{
			ContentID:      r.ContentID,
			Title:          r.Metadata.Title,
			RelevanceScore: r.Score,
		}
	}
	return sources
}
