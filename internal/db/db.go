package db

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/pgdialect"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/pgdriver"
	"github.com/uptrace/bun/extra/bundebug"

	"textbook-rag/internal/config"
	"textbook-rag/internal/models"
)

type Textbook struct {
	bun.BaseModel `bun:"table:textbooks,alias:t"`

	ID               string         `bun:"id,pk"`
	Title            string         `bun:"title,notnull"`
	SubjectArea      string         `bun:"subject_area,notnull"`
	TargetAudience   string         `bun:"target_audience,notnull"`
	Description      string         `bun:"description"`
	Status           string         `bun:"status,notnull"`
	GenerationParams map[string]any `bun:"generation_params"`
	ExportFormats    []string       `bun:"export_formats"`
	CreatedAt        time.Time      `bun:"created_at,notnull"`
	UpdatedAt        time.Time      `bun:"updated_at,notnull"`
}

type Chapter struct {
	bun.BaseModel `bun:"table:chapters,alias:c"`

	ID          string    `bun:"id,pk"`
	TextbookID  string    `bun:"textbook_id,notnull"`
	Title       string    `bun:"title,notnull"`
	Slug        string    `bun:"slug,notnull"`
	Content     string    `bun:"content"`
	Position    int       `bun:"position,notnull"`
	WordCount   int       `bun:"word_count"`
	ReadingTime int       `bun:"reading_time"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

type Section struct {
	bun.BaseModel `bun:"table:sections,alias:s"`

	ID          string    `bun:"id,pk"`
	ChapterID   string    `bun:"chapter_id,notnull"`
	Title       string    `bun:"title,notnull"`
	Content     string    `bun:"content"`
	Position    int       `bun:"position,notnull"`
	SectionType string    `bun:"section_type,notnull"`
	CreatedAt   time.Time `bun:"created_at,notnull"`
	UpdatedAt   time.Time `bun:"updated_at,notnull"`
}

type ChatSession struct {
	bun.BaseModel `bun:"table:chat_sessions,alias:cs"`

	ID         string    `bun:"id,pk"`
	TextbookID string    `bun:"textbook_id"`
	ChapterID  string    `bun:"chapter_id"`
	CreatedAt  time.Time `bun:"created_at,notnull"`
	UpdatedAt  time.Time `bun:"updated_at,notnull"`
}

type ChatMessage struct {
	bun.BaseModel `bun:"table:chat_messages,alias:cm"`

	ID             string    `bun:"id,pk"`
	SessionID      string    `bun:"session_id,notnull"`
	Role           string    `bun:"role,notnull"`
	Content        string    `bun:"content,notnull"`
	ContextSnippet string    `bun:"context_snippet"`
	CreatedAt      time.Time `bun:"created_at,notnull"`
}

type ParameterSet struct {
	bun.BaseModel `bun:"table:generation_parameter_sets,alias:ps"`

	ID          string                         `bun:"id,pk"`
	Name        string                         `bun:"name,notnull,unique"`
	Description string                         `bun:"description"`
	Parameters  models.GenerateTextbookRequest `bun:"parameters,notnull"`
	CreatedAt   time.Time                      `bun:"created_at,notnull"`
}

// ConnectDB opens the configured driver: postgres (pgdriver), pq (lib/pq)
// or sqlite3 (mattn/go-sqlite3).
func ConnectDB(cfg config.DatabaseConfig) (*bun.DB, error) {
	var db *bun.DB
	switch cfg.Driver {
	case "postgres", "":
		sqldb := sql.OpenDB(pgdriver.NewConnector(pgdriver.WithDSN(cfg.DSN)))
		db = bun.NewDB(sqldb, pgdialect.New())
	case "pq":
		sqldb, err := sql.Open("postgres", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open postgres: %v", err)
		}
		db = bun.NewDB(sqldb, pgdialect.New())
	case "sqlite3":
		sqldb, err := sql.Open("sqlite3", cfg.DSN)
		if err != nil {
			return nil, fmt.Errorf("failed to open sqlite: %v", err)
		}
		sqldb.SetMaxOpenConns(1)
		db = bun.NewDB(sqldb, sqlitedialect.New())
	default:
		return nil, fmt.Errorf("unsupported database driver: %s", cfg.Driver)
	}
	if cfg.Debug {
		db.AddQueryHook(bundebug.NewQueryHook(bundebug.WithVerbose(true)))
	}
	return db, nil
}

// InitSchema creates missing tables and indexes. Existing tables are not altered.
func InitSchema(ctx context.Context, db *bun.DB) error {
	tables := []any{
		(*Textbook)(nil),
		(*Chapter)(nil),
		(*Section)(nil),
		(*ChatSession)(nil),
		(*ChatMessage)(nil),
		(*ParameterSet)(nil),
	}
	for _, m := range tables {
		if _, err := db.NewCreateTable().Model(m).IfNotExists().Exec(ctx); err != nil {
			return fmt.Errorf("failed to create table: %v", err)
		}
	}

	indexes := []struct {
		model  any
		name   string
		column string
	}{
		{(*Chapter)(nil), "chapters_textbook_id_idx", "textbook_id"},
		{(*Section)(nil), "sections_chapter_id_idx", "chapter_id"},
		{(*ChatMessage)(nil), "chat_messages_session_id_idx", "session_id"},
		{(*ChatSession)(nil), "chat_sessions_textbook_id_idx", "textbook_id"},
	}
	for _, ix := range indexes {
		if _, err := db.NewCreateIndex().Model(ix.model).Index(ix.name).IfNotExists().Column(ix.column).Exec(ctx); err != nil {
			return fmt.Errorf("failed to create index %s: %v", ix.name, err)
		}
	}
	return nil
}

func (t *Textbook) toModel() models.Textbook {
	return models.Textbook{
		ID:               t.ID,
		Title:            t.Title,
		SubjectArea:      t.SubjectArea,
		TargetAudience:   t.TargetAudience,
		Description:      t.Description,
		Status:           models.TextbookStatus(t.Status),
		GenerationParams: t.GenerationParams,
		ExportFormats:    t.ExportFormats,
		CreatedAt:        t.CreatedAt,
		UpdatedAt:        t.UpdatedAt,
	}
}

func (c *Chapter) toModel() models.Chapter {
	return models.Chapter{
		ID:          c.ID,
		TextbookID:  c.TextbookID,
		Title:       c.Title,
		Slug:        c.Slug,
		Content:     c.Content,
		Position:    c.Position,
		WordCount:   c.WordCount,
		ReadingTime: c.ReadingTime,
		CreatedAt:   c.CreatedAt,
		UpdatedAt:   c.UpdatedAt,
	}
}

func (s *Section) toModel() models.Section {
	return models.Section{
		ID:          s.ID,
		ChapterID:   s.ChapterID,
		Title:       s.Title,
		Content:     s.Content,
		Position:    s.Position,
		SectionType: models.SectionType(s.SectionType),
		CreatedAt:   s.CreatedAt,
		UpdatedAt:   s.UpdatedAt,
	}
}

func (s *ChatSession) toModel() models.ChatSession {
	return models.ChatSession{
		ID:         s.ID,
		TextbookID: s.TextbookID,
		ChapterID:  s.ChapterID,
		CreatedAt:  s.CreatedAt,
		UpdatedAt:  s.UpdatedAt,
	}
}

func (m *ChatMessage) toModel() models.ChatMessage {
	return models.ChatMessage{
		ID:             m.ID,
		SessionID:      m.SessionID,
		Role:           models.MessageRole(m.Role),
		Content:        m.Content,
		ContextSnippet: m.ContextSnippet,
		CreatedAt:      m.CreatedAt,
	}
}

func (p *ParameterSet) toModel() models.ParameterSet {
	return models.ParameterSet{
		ID:          p.ID,
		Name:        p.Name,
		Description: p.Description,
		Parameters:  p.Parameters,
		CreatedAt:   p.CreatedAt,
	}
}
