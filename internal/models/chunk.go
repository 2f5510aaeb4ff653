package models

import (
	"errors"
	"strconv"
)

// ContentChunk is a bounded piece of a section, prefixed with its chapter and
// section titles, ready to be stored in the vector index.
type ContentChunk struct {
	ContentID   string        `json:"content_id"`
	ContentType string        `json:"content_type"`
	TextbookID  string        `json:"textbook_id"`
	ChapterID   string        `json:"chapter_id"`
	Text        string        `json:"text"`
	Embedding   []float32     `json:"-"`
	Metadata    ChunkMetadata `json:"metadata"`
}

type ChunkMetadata struct {
	Title        string `json:"title"`
	ChapterTitle string `json:"chapter_title"`
	ChunkIndex   int    `json:"chunk_index"`
}

// Metadata keys used when a backend only stores flat string maps.
const (
	FieldContentID    = "content_id"
	FieldContentType  = "content_type"
	FieldTextbookID   = "textbook_id"
	FieldChapterID    = "chapter_id"
	FieldTitle        = "title"
	FieldChapterTitle = "chapter_title"
	FieldChunkIndex   = "chunk_index"
)

// NewContentChunk validates the required fields of a chunk.
func NewContentChunk(contentID, contentType, textbookID, chapterID, text string, embedding []float32, meta ChunkMetadata) (ContentChunk, error) {
	switch {
	case contentID == "":
		return ContentChunk{}, errors.New("content chunk: content_id is required")
	case textbookID == "":
		return ContentChunk{}, errors.New("content chunk: textbook_id is required")
	case chapterID == "":
		return ContentChunk{}, errors.New("content chunk: chapter_id is required")
	case text == "":
		return ContentChunk{}, errors.New("content chunk: text is required")
	case meta.ChunkIndex < 0:
		return ContentChunk{}, errors.New("content chunk: chunk_index must be non-negative")
	}
	if contentType == "" {
		contentType = ContentTypeSection
	}
	return ContentChunk{
		ContentID:   contentID,
		ContentType: contentType,
		TextbookID:  textbookID,
		ChapterID:   chapterID,
		Text:        text,
		Embedding:   embedding,
		Metadata:    meta,
	}, nil
}

// Payload flattens the chunk (without text and vector) into string fields.
func (c ContentChunk) Payload() map[string]string {
	return map[string]string{
		FieldContentID:    c.ContentID,
		FieldContentType:  c.ContentType,
		FieldTextbookID:   c.TextbookID,
		FieldChapterID:    c.ChapterID,
		FieldTitle:        c.Metadata.Title,
		FieldChapterTitle: c.Metadata.ChapterTitle,
		FieldChunkIndex:   strconv.Itoa(c.Metadata.ChunkIndex),
	}
}

// Point is a chunk stored under a unique identifier.
type Point struct {
	ID    string
	Chunk ContentChunk
}

func (p Point) Vector() []float32 { return p.Chunk.Embedding }

type SearchResult struct {
	ContentID   string        `json:"content_id"`
	ContentType string        `json:"content_type"`
	TextbookID  string        `json:"textbook_id"`
	ChapterID   string        `json:"chapter_id"`
	Text        string        `json:"text"`
	Metadata    ChunkMetadata `json:"metadata"`
	Score       float64       `json:"score"`
}

// SearchResultFromPayload rebuilds a result from flattened payload fields.
func SearchResultFromPayload(payload map[string]string, text string, score float64) SearchResult {
	idx, _ := strconv.Atoi(payload[FieldChunkIndex])
	return SearchResult{
		ContentID:   payload[FieldContentID],
		ContentType: payload[FieldContentType],
		TextbookID:  payload[FieldTextbookID],
		ChapterID:   payload[FieldChapterID],
		Text:        text,
		Metadata: ChunkMetadata{
			Title:        payload[FieldTitle],
			ChapterTitle: payload[FieldChapterTitle],
			ChunkIndex:   idx,
		},
		Score: score,
	}
}

// Field returns the payload value of a filterable field.
func (r SearchResult) Field(name string) (string, bool) {
	switch name {
	case FieldContentID:
		return r.ContentID, true
	case FieldContentType:
		return r.ContentType, true
	case FieldTextbookID:
		return r.TextbookID, true
	case FieldChapterID:
		return r.ChapterID, true
	case FieldTitle:
		return r.Metadata.Title, true
	case FieldChapterTitle:
		return r.Metadata.ChapterTitle, true
	case FieldChunkIndex:
		return strconv.Itoa(r.Metadata.ChunkIndex), true
	}
	return "", false
}

// Source is the attribution entry returned to chat clients.
type Source struct {
	ContentID      string  `json:"content_id"`
	Title          string  `json:"title"`
	RelevanceScore float64 `json:"relevance_score"`
}

// Filter selects points whose payload field equals the given value.
type Filter map[string]string

// TextbookFilter scopes an operation to one textbook.
func TextbookFilter(textbookID string) Filter {
	return Filter{FieldTextbookID: textbookID}
}

// Matches reports whether r satisfies every condition of f.
func (f Filter) Matches(r SearchResult) bool {
	for k, v := range f {
		got, ok := r.Field(k)
		if !ok || got != v {
			return false
		}
	}
	return true
}

// DocumentPage is one page, slide or sheet of an imported document.
type DocumentPage struct {
	Number  int
	Label   string
	Content string
}
