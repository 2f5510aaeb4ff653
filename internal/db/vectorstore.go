package db

import (
	"context"
	"fmt"
	"strconv"

	"github.com/pgvector/pgvector-go"
	"github.com/uptrace/bun"

	"textbook-rag/internal/models"
)

// chunkRow is a content chunk stored in a pgvector table.
type chunkRow struct {
	bun.BaseModel `bun:"table:textbook_content,alias:cc"`

	ID           string          `bun:"id,pk"`
	ContentID    string          `bun:"content_id,notnull"`
	ContentType  string          `bun:"content_type,notnull"`
	TextbookID   string          `bun:"textbook_id,notnull"`
	ChapterID    string          `bun:"chapter_id,notnull"`
	Title        string          `bun:"title"`
	ChapterTitle string          `bun:"chapter_title"`
	ChunkIndex   int             `bun:"chunk_index"`
	Text         string          `bun:"text,notnull"`
	Embedding    pgvector.Vector `bun:"embedding"`
	Score        float64         `bun:"score,scanonly"`
}

// filterColumns maps payload fields to columns usable in a WHERE clause.
var filterColumns = map[string]string{
	models.FieldContentID:    "content_id",
	models.FieldContentType:  "content_type",
	models.FieldTextbookID:   "textbook_id",
	models.FieldChapterID:    "chapter_id",
	models.FieldTitle:        "title",
	models.FieldChapterTitle: "chapter_title",
	models.FieldChunkIndex:   "chunk_index",
}

// VectorStore is the pgvector backend. The collection name is the table name.
type VectorStore struct {
	db    *bun.DB
	table string
}

func NewVectorStore(db *bun.DB, table string) *VectorStore {
	return &VectorStore{db: db, table: table}
}

func (v *VectorStore) Name() string { return "pgvector" }

func (v *VectorStore) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return fmt.Errorf("invalid dimension %d", dimension)
	}
	stmts := []struct {
		query string
		args  []any
	}{
		{"CREATE EXTENSION IF NOT EXISTS vector", nil},
		{fmt.Sprintf(`CREATE TABLE IF NOT EXISTS ? (
			id text PRIMARY KEY,
			content_id text NOT NULL,
			content_type text NOT NULL,
			textbook_id text NOT NULL,
			chapter_id text NOT NULL,
			title text,
			chapter_title text,
			chunk_index integer,
			text text NOT NULL,
			embedding vector(%d)
		)`, dimension), []any{bun.Ident(v.table)}},
		{"CREATE INDEX IF NOT EXISTS ? ON ? (textbook_id)", []any{bun.Ident(v.table + "_textbook_id_idx"), bun.Ident(v.table)}},
	}
	for _, s := range stmts {
		if _, err := v.db.ExecContext(ctx, s.query, s.args...); err != nil {
			return fmt.Errorf("failed to prepare pgvector table: %w", err)
		}
	}
	return nil
}

func (v *VectorStore) Upsert(ctx context.Context, points []models.Point) error {
	rows := make([]chunkRow, 0, len(points))
	for _, p := range points {
		c := p.Chunk
		rows = append(rows, chunkRow{
			ID:           p.ID,
			ContentID:    c.ContentID,
			ContentType:  c.ContentType,
			TextbookID:   c.TextbookID,
			ChapterID:    c.ChapterID,
			Title:        c.Metadata.Title,
			ChapterTitle: c.Metadata.ChapterTitle,
			ChunkIndex:   c.Metadata.ChunkIndex,
			Text:         c.Text,
			Embedding:    pgvector.NewVector(p.Vector()),
		})
	}
	q := v.db.NewInsert().Model(&rows).ModelTableExpr("?", bun.Ident(v.table)).
		On("CONFLICT (id) DO UPDATE")
	for _, col := range []string{"content_id", "content_type", "textbook_id", "chapter_id", "title", "chapter_title", "chunk_index", "text", "embedding"} {
		q = q.Set("? = EXCLUDED.?", bun.Ident(col), bun.Ident(col))
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to upsert chunks: %w", err)
	}
	return nil
}

// Search orders by cosine distance and reports 1 - distance as the score.
func (v *VectorStore) Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error) {
	qv := pgvector.NewVector(vector)
	var rows []chunkRow
	q := v.db.NewSelect().Model(&rows).ModelTableExpr("? AS cc", bun.Ident(v.table)).
		Column("id", "content_id", "content_type", "textbook_id", "chapter_id", "title", "chapter_title", "chunk_index", "text").
		ColumnExpr("1 - (embedding <=> ?) AS score", qv)
	q, err := applyFilter(q, filter)
	if err != nil {
		return nil, err
	}
	if err := q.OrderExpr("embedding <=> ?", qv).Limit(limit).Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to search chunks: %w", err)
	}

	results := make([]models.SearchResult, 0, len(rows))
	for _, r := range rows {
		results = append(results, models.SearchResult{
			ContentID:   r.ContentID,
			ContentType: r.ContentType,
			TextbookID:  r.TextbookID,
			ChapterID:   r.ChapterID,
			Text:        r.Text,
			Metadata:    models.ChunkMetadata{Title: r.Title, ChapterTitle: r.ChapterTitle, ChunkIndex: r.ChunkIndex},
			Score:       r.Score,
		})
	}
	return results, nil
}

func (v *VectorStore) Delete(ctx context.Context, filter models.Filter) error {
	q := v.db.NewDelete().Model((*chunkRow)(nil)).ModelTableExpr("? AS cc", bun.Ident(v.table))
	q, err := applyFilter(q, filter)
	if err != nil {
		return err
	}
	if _, err := q.Exec(ctx); err != nil {
		return fmt.Errorf("failed to delete chunks: %w", err)
	}
	return nil
}

type whereQuery[Q any] interface {
	Where(query string, args ...any) Q
}

func applyFilter[Q whereQuery[Q]](q Q, filter models.Filter) (Q, error) {
	for field, value := range filter {
		col, ok := filterColumns[field]
		if !ok {
			return q, fmt.Errorf("unsupported filter field %q", field)
		}
		var arg any = value
		if field == models.FieldChunkIndex {
			n, err := strconv.Atoi(value)
			if err != nil {
				return q, fmt.Errorf("invalid chunk_index filter %q", value)
			}
			arg = n
		}
		q = q.Where("? = ?", bun.Ident(col), arg)
	}
	return q, nil
}
