package db

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/config"
	"textbook-rag/internal/models"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	bdb, err := ConnectDB(config.DatabaseConfig{
		Driver: "sqlite3",
		DSN:    "file:" + filepath.Join(t.TempDir(), "test.db") + "?_foreign_keys=on",
	})
	if err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(context.Background(), bdb); err != nil {
		t.Fatal(err)
	}
	if err := InitSchema(context.Background(), bdb); err != nil {
		t.Fatalf("expected InitSchema to be repeatable, got %v", err)
	}
	t.Cleanup(func() { bdb.Close() })
	return NewStore(bdb)
}

func TestTextbookLifecycle(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	tb, err := s.CreateTextbook(ctx, models.Textbook{
		Title:            "Biology - High School",
		SubjectArea:      "Biology",
		TargetAudience:   "High School",
		GenerationParams: map[string]any{"chapter_topics": []string{"Cells"}},
	})
	if err != nil {
		t.Fatal(err)
	}
	if tb.ID == "" || tb.Status != models.StatusDraft {
		t.Fatalf("unexpected textbook %+v", tb)
	}

	if err := s.UpdateTextbookStatus(ctx, tb.ID, models.StatusCompleted, []string{"pdf", "epub"}); err != nil {
		t.Fatal(err)
	}
	got, err := s.GetTextbook(ctx, tb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != models.StatusCompleted || len(got.ExportFormats) != 2 || got.ExportFormats[1] != "epub" {
		t.Errorf("unexpected textbook after update %+v", got)
	}
	if got.GenerationParams["chapter_topics"] == nil {
		t.Errorf("expected generation params to round-trip, got %v", got.GenerationParams)
	}

	if err := s.UpdateTextbookStatus(ctx, tb.ID, models.StatusFailed, nil); err != nil {
		t.Fatal(err)
	}
	got, _ = s.GetTextbook(ctx, tb.ID)
	if got.Status != models.StatusFailed || len(got.ExportFormats) != 2 {
		t.Errorf("expected export formats to be left alone, got %+v", got)
	}

	list, err := s.ListTextbooks(ctx)
	if err != nil || len(list) != 1 {
		t.Errorf("expected one textbook, got %d/%v", len(list), err)
	}
}

func TestMissingRowsAreNotFound(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	if _, err := s.GetTextbook(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	if err := s.UpdateTextbookStatus(ctx, "missing", models.StatusFailed, nil); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
	_, err := s.GetSession(ctx, "missing")
	if !errors.Is(err, apperr.ErrNotFound) || apperr.Message(err) != "Chat session not found." {
		t.Errorf("expected session not found, got %v", err)
	}
}

func TestChaptersAndSectionsOrderedByPosition(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tb, _ := s.CreateTextbook(ctx, models.Textbook{Title: "t", SubjectArea: "s", TargetAudience: "a"})

	for _, pos := range []int{2, 1} {
		if _, err := s.CreateChapter(ctx, models.Chapter{TextbookID: tb.ID, Title: "Chapter", Slug: "chapter", Position: pos}); err != nil {
			t.Fatal(err)
		}
	}
	chapters, err := s.ListChapters(ctx, tb.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(chapters) != 2 || chapters[0].Position != 1 || chapters[1].Position != 2 {
		t.Fatalf("unexpected chapter order %+v", chapters)
	}

	for _, pos := range []int{3, 1, 2} {
		_, err := s.CreateSection(ctx, models.Section{ChapterID: chapters[0].ID, Title: "S", Content: "c", Position: pos})
		if err != nil {
			t.Fatal(err)
		}
	}
	sections, err := s.ListSections(ctx, chapters[0].ID)
	if err != nil {
		t.Fatal(err)
	}
	for i, sec := range sections {
		if sec.Position != i+1 || sec.SectionType != models.SectionText {
			t.Errorf("unexpected section %d: %+v", i, sec)
		}
	}
}

func TestChatMessages(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	sess, err := s.CreateSession(ctx, "T1", "")
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(ctx, models.ChatMessage{SessionID: sess.ID, Role: models.RoleUser, Content: "q", ContextSnippet: "sel"}); err != nil {
		t.Fatal(err)
	}
	if _, err := s.AddMessage(ctx, models.ChatMessage{SessionID: sess.ID, Role: models.RoleAssistant, Content: "a"}); err != nil {
		t.Fatal(err)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 2 || msgs[0].Role != models.RoleUser || msgs[1].Role != models.RoleAssistant {
		t.Fatalf("unexpected messages %+v", msgs)
	}
	if msgs[0].ContextSnippet != "sel" {
		t.Errorf("expected context snippet to round-trip, got %q", msgs[0].ContextSnippet)
	}
	if _, err := s.ListMessages(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found for unknown session, got %v", err)
	}
}

func TestMessagesKeepInsertionOrderOnTimestampTie(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	fixed := time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time { return fixed }

	sess, err := s.CreateSession(ctx, "T1", "")
	if err != nil {
		t.Fatal(err)
	}
	var want []string
	for i := 0; i < 10; i++ {
		role := models.RoleUser
		if i%2 == 1 {
			role = models.RoleAssistant
		}
		msg, err := s.AddMessage(ctx, models.ChatMessage{SessionID: sess.ID, Role: role, Content: string(rune('a' + i))})
		if err != nil {
			t.Fatal(err)
		}
		want = append(want, msg.Content)
	}

	msgs, err := s.ListMessages(ctx, sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	for i, m := range msgs {
		if m.Content != want[i] {
			t.Fatalf("message %d: got %q, want %q", i, m.Content, want[i])
		}
	}
}

func TestUpdateTextbook(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	tb, _ := s.CreateTextbook(ctx, models.Textbook{Title: "t", SubjectArea: "Biology", TargetAudience: "a"})

	title := "Cell Biology"
	status := models.StatusCompleted
	got, err := s.UpdateTextbook(ctx, tb.ID, models.TextbookUpdate{Title: &title, Status: &status})
	if err != nil {
		t.Fatal(err)
	}
	if got.Title != title || got.Status != status || got.SubjectArea != "Biology" {
		t.Errorf("unexpected textbook %+v", got)
	}

	bad := models.TextbookStatus("archived")
	if _, err := s.UpdateTextbook(ctx, tb.ID, models.TextbookUpdate{Status: &bad}); !errors.Is(err, apperr.ErrInvalidRequest) {
		t.Errorf("expected invalid status to be rejected, got %v", err)
	}
	if _, err := s.UpdateTextbook(ctx, "missing", models.TextbookUpdate{Title: &title}); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}
}

func TestDeleteTextbookRemovesChildren(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	keep, _ := s.CreateTextbook(ctx, models.Textbook{Title: "keep", SubjectArea: "s", TargetAudience: "a"})
	drop, _ := s.CreateTextbook(ctx, models.Textbook{Title: "drop", SubjectArea: "s", TargetAudience: "a"})

	for _, tb := range []models.Textbook{keep, drop} {
		ch, err := s.CreateChapter(ctx, models.Chapter{TextbookID: tb.ID, Title: "C", Slug: "c", Position: 1})
		if err != nil {
			t.Fatal(err)
		}
		if _, err := s.CreateSection(ctx, models.Section{ChapterID: ch.ID, Title: "S", Content: "x", Position: 1}); err != nil {
			t.Fatal(err)
		}
		sess, _ := s.CreateSession(ctx, tb.ID, "")
		if _, err := s.AddMessage(ctx, models.ChatMessage{SessionID: sess.ID, Role: models.RoleUser, Content: "q"}); err != nil {
			t.Fatal(err)
		}
	}

	if err := s.DeleteTextbook(ctx, drop.ID); err != nil {
		t.Fatal(err)
	}
	if _, err := s.GetTextbook(ctx, drop.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected textbook to be gone, got %v", err)
	}
	for _, m := range []any{(*Chapter)(nil), (*Section)(nil), (*ChatSession)(nil), (*ChatMessage)(nil)} {
		n, err := s.DB().NewSelect().Model(m).Count(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if n != 1 {
			t.Errorf("expected only the kept textbook's rows for %T, got %d", m, n)
		}
	}
	if err := s.DeleteTextbook(ctx, drop.ID); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found on second delete, got %v", err)
	}
}

func TestParameterSets(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)
	params := models.GenerateTextbookRequest{
		SubjectArea:      "Biology",
		TargetAudience:   "High School",
		ChapterTopics:    []string{"Cells", "Genetics"},
		StylePreferences: &models.StylePreferences{IncludeExercises: true},
	}

	saved, err := s.SaveParameterSet(ctx, models.ParameterSet{Name: "bio", Description: "intro", Parameters: params})
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.SaveParameterSet(ctx, models.ParameterSet{Name: "bio", Parameters: params}); !errors.Is(err, apperr.ErrInvalidRequest) ||
		apperr.Message(err) != "Parameter set with this name already exists." {
		t.Errorf("expected duplicate name to be rejected, got %v", err)
	}

	byID, err := s.GetParameterSet(ctx, saved.ID)
	if err != nil {
		t.Fatal(err)
	}
	if len(byID.Parameters.ChapterTopics) != 2 || byID.Parameters.StylePreferences == nil || !byID.Parameters.StylePreferences.IncludeExercises {
		t.Errorf("expected parameters to round-trip, got %+v", byID.Parameters)
	}
	if byName, err := s.GetParameterSetByName(ctx, "bio"); err != nil || byName.ID != saved.ID {
		t.Errorf("unexpected lookup by name %+v/%v", byName, err)
	}
	if _, err := s.GetParameterSet(ctx, "missing"); !errors.Is(err, apperr.ErrNotFound) {
		t.Errorf("expected not found, got %v", err)
	}

	if _, err := s.SaveParameterSet(ctx, models.ParameterSet{Name: "algebra", Parameters: params}); err != nil {
		t.Fatal(err)
	}
	list, err := s.ListParameterSets(ctx, 0, 0)
	if err != nil || len(list) != 2 || list[0].Name != "algebra" {
		t.Errorf("unexpected list %+v/%v", list, err)
	}
	if page, _ := s.ListParameterSets(ctx, 1, 1); len(page) != 1 || page[0].Name != "bio" {
		t.Errorf("unexpected page %+v", page)
	}

	name := "biology"
	updated, err := s.UpdateParameterSet(ctx, saved.ID, models.ParameterSetUpdate{Name: &name})
	if err != nil || updated.Name != "biology" || updated.Description != "intro" {
		t.Errorf("unexpected update %+v/%v", updated, err)
	}
}
