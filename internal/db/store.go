package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/uptrace/bun"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/models"
)

// Store persists textbooks, their chapters and sections, and chat history.
type Store struct {
	db  *bun.DB
	now func() time.Time
}

func NewStore(db *bun.DB) *Store {
	return &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (s *Store) DB() *bun.DB { return s.db }

func (s *Store) Close() error { return s.db.Close() }

func notFound(err error, msg string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return apperr.NotFound(msg)
	}
	return err
}

func (s *Store) CreateTextbook(ctx context.Context, tb models.Textbook) (models.Textbook, error) {
	now := s.now()
	row := &Textbook{
		ID:               tb.ID,
		Title:            tb.Title,
		SubjectArea:      tb.SubjectArea,
		TargetAudience:   tb.TargetAudience,
		Description:      tb.Description,
		Status:           string(tb.Status),
		GenerationParams: tb.GenerationParams,
		ExportFormats:    tb.ExportFormats,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if row.ID == "" {
		row.ID = helper.NewID()
	}
	if row.Status == "" {
		row.Status = string(models.StatusDraft)
	}
	if row.ExportFormats == nil {
		row.ExportFormats = []string{}
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return models.Textbook{}, fmt.Errorf("failed to create textbook: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) GetTextbook(ctx context.Context, id string) (models.Textbook, error) {
	row := new(Textbook)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return models.Textbook{}, notFound(err, "Textbook not found.")
	}
	return row.toModel(), nil
}

func (s *Store) ListTextbooks(ctx context.Context) ([]models.Textbook, error) {
	var rows []Textbook
	if err := s.db.NewSelect().Model(&rows).Order("created_at DESC").Scan(ctx); err != nil {
		return nil, fmt.Errorf("failed to list textbooks: %w", err)
	}
	out := make([]models.Textbook, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// UpdateTextbookStatus sets the status and, when exportFormats is non-nil,
// the export formats.
func (s *Store) UpdateTextbookStatus(ctx context.Context, id string, status models.TextbookStatus, exportFormats []string) error {
	row := &Textbook{ID: id, Status: string(status), ExportFormats: exportFormats, UpdatedAt: s.now()}
	columns := []string{"status", "updated_at"}
	if exportFormats != nil {
		columns = append(columns, "export_formats")
	}
	res, err := s.db.NewUpdate().Model(row).Column(columns...).WherePK().Exec(ctx)
	if err != nil {
		return fmt.Errorf("failed to update textbook status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return apperr.NotFound("Textbook not found.")
	}
	return nil
}

// UpdateTextbook applies the set fields of upd.
func (s *Store) UpdateTextbook(ctx context.Context, id string, upd models.TextbookUpdate) (models.Textbook, error) {
	if !upd.Valid() {
		return models.Textbook{}, apperr.InvalidRequest("Invalid textbook status.")
	}
	row := new(Textbook)
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if err := tx.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
			return notFound(err, "Textbook not found.")
		}
		if upd.Title != nil {
			row.Title = *upd.Title
		}
		if upd.SubjectArea != nil {
			row.SubjectArea = *upd.SubjectArea
		}
		if upd.TargetAudience != nil {
			row.TargetAudience = *upd.TargetAudience
		}
		if upd.Description != nil {
			row.Description = *upd.Description
		}
		if upd.Status != nil {
			row.Status = string(*upd.Status)
		}
		if upd.GenerationParams != nil {
			row.GenerationParams = upd.GenerationParams
		}
		row.UpdatedAt = s.now()
		_, err := tx.NewUpdate().Model(row).WherePK().Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return models.Textbook{}, err
		}
		return models.Textbook{}, fmt.Errorf("failed to update textbook: %w", err)
	}
	return row.toModel(), nil
}

// DeleteTextbook removes a textbook with its chapters, sections and chat
// history.
func (s *Store) DeleteTextbook(ctx context.Context, id string) error {
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewDelete().Model((*Textbook)(nil)).Where("id = ?", id).Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return apperr.NotFound("Textbook not found.")
		}
		chapters := tx.NewSelect().Model((*Chapter)(nil)).Column("id").Where("textbook_id = ?", id)
		if _, err := tx.NewDelete().Model((*Section)(nil)).Where("chapter_id IN (?)", chapters).Exec(ctx); err != nil {
			return err
		}
		if _, err := tx.NewDelete().Model((*Chapter)(nil)).Where("textbook_id = ?", id).Exec(ctx); err != nil {
			return err
		}
		sessions := tx.NewSelect().Model((*ChatSession)(nil)).Column("id").Where("textbook_id = ?", id)
		if _, err := tx.NewDelete().Model((*ChatMessage)(nil)).Where("session_id IN (?)", sessions).Exec(ctx); err != nil {
			return err
		}
		_, err = tx.NewDelete().Model((*ChatSession)(nil)).Where("textbook_id = ?", id).Exec(ctx)
		return err
	})
	if err != nil {
		if errors.Is(err, apperr.ErrNotFound) {
			return err
		}
		return fmt.Errorf("failed to delete textbook: %w", err)
	}
	return nil
}

func (s *Store) CreateChapter(ctx context.Context, ch models.Chapter) (models.Chapter, error) {
	now := s.now()
	row := &Chapter{
		ID:          ch.ID,
		TextbookID:  ch.TextbookID,
		Title:       ch.Title,
		Slug:        ch.Slug,
		Content:     ch.Content,
		Position:    ch.Position,
		WordCount:   ch.WordCount,
		ReadingTime: ch.ReadingTime,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.ID == "" {
		row.ID = helper.NewID()
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return models.Chapter{}, fmt.Errorf("failed to create chapter: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListChapters(ctx context.Context, textbookID string) ([]models.Chapter, error) {
	var rows []Chapter
	err := s.db.NewSelect().Model(&rows).Where("textbook_id = ?", textbookID).Order("position ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chapters: %w", err)
	}
	out := make([]models.Chapter, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) CreateSection(ctx context.Context, sec models.Section) (models.Section, error) {
	now := s.now()
	row := &Section{
		ID:          sec.ID,
		ChapterID:   sec.ChapterID,
		Title:       sec.Title,
		Content:     sec.Content,
		Position:    sec.Position,
		SectionType: string(sec.SectionType),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if row.ID == "" {
		row.ID = helper.NewID()
	}
	if row.SectionType == "" {
		row.SectionType = string(models.SectionText)
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return models.Section{}, fmt.Errorf("failed to create section: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListSections(ctx context.Context, chapterID string) ([]models.Section, error) {
	var rows []Section
	err := s.db.NewSelect().Model(&rows).Where("chapter_id = ?", chapterID).Order("position ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list sections: %w", err)
	}
	out := make([]models.Section, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

func (s *Store) CreateSession(ctx context.Context, textbookID, chapterID string) (models.ChatSession, error) {
	now := s.now()
	row := &ChatSession{
		ID:         helper.NewID(),
		TextbookID: textbookID,
		ChapterID:  chapterID,
		CreatedAt:  now,
		UpdatedAt:  now,
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return models.ChatSession{}, fmt.Errorf("failed to create chat session: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	row := new(ChatSession)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return models.ChatSession{}, notFound(err, "Chat session not found.")
	}
	return row.toModel(), nil
}

// AddMessage appends a message to a session and bumps the session's updated_at.
func (s *Store) AddMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	row := &ChatMessage{
		ID:             msg.ID,
		SessionID:      msg.SessionID,
		Role:           string(msg.Role),
		Content:        msg.Content,
		ContextSnippet: msg.ContextSnippet,
		CreatedAt:      s.now(),
	}
	if row.ID == "" {
		row.ID = helper.NewOrderedID()
	}
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		if _, err := tx.NewInsert().Model(row).Exec(ctx); err != nil {
			return err
		}
		_, err := tx.NewUpdate().Model((*ChatSession)(nil)).
			Set("updated_at = ?", row.CreatedAt).
			Where("id = ?", row.SessionID).
			Exec(ctx)
		return err
	})
	if err != nil {
		return models.ChatMessage{}, fmt.Errorf("failed to add chat message: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	var rows []ChatMessage
	err := s.db.NewSelect().Model(&rows).Where("session_id = ?", sessionID).
		Order("created_at ASC", "id ASC").Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list chat messages: %w", err)
	}
	out := make([]models.ChatMessage, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// SaveParameterSet stores a named generation request. Names are unique.
func (s *Store) SaveParameterSet(ctx context.Context, ps models.ParameterSet) (models.ParameterSet, error) {
	if strings.TrimSpace(ps.Name) == "" {
		return models.ParameterSet{}, apperr.InvalidRequest("Parameter set name cannot be empty.")
	}
	if _, err := s.GetParameterSetByName(ctx, ps.Name); err == nil {
		return models.ParameterSet{}, apperr.InvalidRequest("Parameter set with this name already exists.")
	} else if !errors.Is(err, apperr.ErrNotFound) {
		return models.ParameterSet{}, err
	}
	row := &ParameterSet{
		ID:          ps.ID,
		Name:        ps.Name,
		Description: ps.Description,
		Parameters:  ps.Parameters,
		CreatedAt:   s.now(),
	}
	if row.ID == "" {
		row.ID = helper.NewID()
	}
	if _, err := s.db.NewInsert().Model(row).Exec(ctx); err != nil {
		return models.ParameterSet{}, fmt.Errorf("failed to save parameter set: %w", err)
	}
	return row.toModel(), nil
}

func (s *Store) GetParameterSet(ctx context.Context, id string) (models.ParameterSet, error) {
	row := new(ParameterSet)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return models.ParameterSet{}, notFound(err, "Parameter set not found.")
	}
	return row.toModel(), nil
}

func (s *Store) GetParameterSetByName(ctx context.Context, name string) (models.ParameterSet, error) {
	row := new(ParameterSet)
	if err := s.db.NewSelect().Model(row).Where("name = ?", name).Scan(ctx); err != nil {
		return models.ParameterSet{}, notFound(err, "Parameter set not found.")
	}
	return row.toModel(), nil
}

// ListParameterSets pages through saved sets by name. limit <= 0 means 100.
func (s *Store) ListParameterSets(ctx context.Context, offset, limit int) ([]models.ParameterSet, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []ParameterSet
	err := s.db.NewSelect().Model(&rows).Order("name ASC").Offset(max(offset, 0)).Limit(limit).Scan(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list parameter sets: %w", err)
	}
	out := make([]models.ParameterSet, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toModel())
	}
	return out, nil
}

// UpdateParameterSet applies the set fields of upd.
func (s *Store) UpdateParameterSet(ctx context.Context, id string, upd models.ParameterSetUpdate) (models.ParameterSet, error) {
	row := new(ParameterSet)
	if err := s.db.NewSelect().Model(row).Where("id = ?", id).Scan(ctx); err != nil {
		return models.ParameterSet{}, notFound(err, "Parameter set not found.")
	}
	if upd.Name != nil && *upd.Name != row.Name {
		if strings.TrimSpace(*upd.Name) == "" {
			return models.ParameterSet{}, apperr.InvalidRequest("Parameter set name cannot be empty.")
		}
		if _, err := s.GetParameterSetByName(ctx, *upd.Name); err == nil {
			return models.ParameterSet{}, apperr.InvalidRequest("Parameter set with this name already exists.")
		}
		row.Name = *upd.Name
	}
	if upd.Description != nil {
		row.Description = *upd.Description
	}
	if upd.Parameters != nil {
		row.Parameters = *upd.Parameters
	}
	if _, err := s.db.NewUpdate().Model(row).WherePK().Exec(ctx); err != nil {
		return models.ParameterSet{}, fmt.Errorf("failed to update parameter set: %w", err)
	}
	return row.toModel(), nil
}
