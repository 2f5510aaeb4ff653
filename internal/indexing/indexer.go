// Package indexing turns a completed textbook into vector points.
package indexing

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/singleflight"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/models"
	"textbook-rag/internal/parser"
)

// ContentReader reads the textbook hierarchy.
type ContentReader interface {
	GetTextbook(ctx context.Context, id string) (models.Textbook, error)
	ListChapters(ctx context.Context, textbookID string) ([]models.Chapter, error)
	ListSections(ctx context.Context, chapterID string) ([]models.Section, error)
}

type VectorIndex interface {
	Delete(ctx context.Context, filter models.Filter) (bool, error)
	Upsert(ctx context.Context, points []models.Point) error
}

type Embedder interface {
	EmbedMany(ctx context.Context, texts []string) ([][]float32, error)
}

// Report summarizes one indexing run.
type Report struct {
	TextbookID string `json:"textbook_id"`
	Chapters   int    `json:"chapters"`
	Sections   int    `json:"sections"`
	Chunks     int    `json:"chunks"`
}

type Indexer struct {
	content  ContentReader
	index    VectorIndex
	embedder Embedder
	chunker  *parser.Chunker
	group    singleflight.Group
}

func New(content ContentReader, index VectorIndex, embedder Embedder, chunker *parser.Chunker) *Indexer {
	if chunker == nil {
		chunker = parser.DefaultChunker()
	}
	return &Indexer{content: content, index: index, embedder: embedder, chunker: chunker}
}

// IndexTextbook replaces every vector of a completed textbook with freshly
// chunked and embedded section content. Concurrent calls for the same
// textbook share one run.
func (ix *Indexer) IndexTextbook(ctx context.Context, textbookID string) (*Report, error) {
	v, err, shared := ix.group.Do(textbookID, func() (any, error) {
		return ix.run(ctx, textbookID)
	})
	if err != nil {
		return nil, err
	}
	if shared {
		log.Debug().Str("textbook_id", textbookID).Msg("Joined in-flight indexing run")
	}
	report := *v.(*Report)
	return &report, nil
}

// Forget removes every vector of a textbook, for use when the textbook
// itself is deleted.
func (ix *Indexer) Forget(ctx context.Context, textbookID string) error {
	deleted, err := ix.index.Delete(ctx, models.TextbookFilter(textbookID))
	if err != nil {
		return err
	}
	if !deleted {
		log.Warn().Str("textbook_id", textbookID).Msg("Could not remove vectors of deleted textbook")
	}
	return nil
}

func (ix *Indexer) run(ctx context.Context, textbookID string) (*Report, error) {
	tb, err := ix.content.GetTextbook(ctx, textbookID)
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return nil, apperr.NotIndexable("Textbook not found or not completed.")
		}
		return nil, err
	}
	if tb.Status != models.StatusCompleted {
		return nil, apperr.NotIndexable("Textbook not found or not completed.")
	}

	deleted, err := ix.index.Delete(ctx, models.TextbookFilter(textbookID))
	if err != nil {
		return nil, err
	}
	if !deleted {
		log.Warn().Str("textbook_id", textbookID).Msg("Could not clear existing vectors, continuing")
	}

	chapters, err := ix.content.ListChapters(ctx, textbookID)
	if err != nil {
		return nil, err
	}

	report := &Report{TextbookID: textbookID, Chapters: len(chapters)}
	var chunks []models.ContentChunk
	for _, ch := range chapters {
		sections, err := ix.content.ListSections(ctx, ch.ID)
		if err != nil {
			return nil, err
		}
		report.Sections += len(sections)
		for _, sec := range sections {
			prefix := fmt.Sprintf(models.ChunkContextFormat, ch.Title, sec.Title)
			for i, piece := range ix.chunker.Chunk(sec.Content) {
				c, err := models.NewContentChunk(sec.ID, models.ContentTypeSection, textbookID, ch.ID, prefix+piece, nil,
					models.ChunkMetadata{Title: sec.Title, ChapterTitle: ch.Title, ChunkIndex: i})
				if err != nil {
					return nil, err
				}
				chunks = append(chunks, c)
			}
		}
	}

	if len(chunks) == 0 {
		log.Info().Str("textbook_id", textbookID).Msg("No content to index")
		return report, nil
	}

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	vectors, err := ix.embedder.EmbedMany(ctx, texts)
	if err != nil {
		return nil, err
	}

	points := make([]models.Point, len(chunks))
	for i, c := range chunks {
		c.Embedding = vectors[i]
		points[i] = models.Point{ID: helper.NewID(), Chunk: c}
	}
	if err := ix.index.Upsert(ctx, points); err != nil {
		return nil, err
	}

	report.Chunks = len(points)
	log.Info().Str("textbook_id", textbookID).Int("chapters", report.Chapters).
		Int("sections", report.Sections).Int("chunks", report.Chunks).Msg("Indexed textbook")
	return report, nil
}
