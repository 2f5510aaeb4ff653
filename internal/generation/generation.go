// Package generation drives the LLM through a textbook, one chapter at a time,
// and stores the structured result.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/jobs"
	"textbook-rag/internal/models"
	"textbook-rag/internal/parser"
)

type Store interface {
	CreateTextbook(ctx context.Context, tb models.Textbook) (models.Textbook, error)
	GetTextbook(ctx context.Context, id string) (models.Textbook, error)
	UpdateTextbookStatus(ctx context.Context, id string, status models.TextbookStatus, exportFormats []string) error
	CreateChapter(ctx context.Context, ch models.Chapter) (models.Chapter, error)
	CreateSection(ctx context.Context, sec models.Section) (models.Section, error)
}

type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	CompleteJSON(ctx context.Context, prompt string) (string, error)
}

// Progress records live chapter counts for running generations.
type Progress interface {
	Start(id string, total int, message string) (*jobs.Tracker, error)
	Get(id string) (jobs.Progress, bool, error)
}

var exportFormats = []string{"pdf", "epub"}

type Generator struct {
	store     Store
	llm       LLM
	progress  Progress
	threshold int
}

type Option func(*Generator)

// WithProgress records per-chapter progress in p.
func WithProgress(p Progress) Option {
	return func(g *Generator) { g.progress = p }
}

// WithComplexityThreshold sets the topic word count above which a topic is
// broken into subtopics.
func WithComplexityThreshold(words int) Option {
	return func(g *Generator) {
		if words > 0 {
			g.threshold = words
		}
	}
}

func New(store Store, llm LLM, opts ...Option) *Generator {
	g := &Generator{store: store, llm: llm, threshold: models.DefaultTopicComplexity}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Normalize trims the request and drops blank topics, then rejects what is left
// if it cannot be generated.
func Normalize(req models.GenerateTextbookRequest) (models.GenerateTextbookRequest, error) {
	req.SubjectArea = strings.TrimSpace(req.SubjectArea)
	req.TargetAudience = strings.TrimSpace(req.TargetAudience)
	topics := make([]string, 0, len(req.ChapterTopics))
	for _, t := range req.ChapterTopics {
		if t = strings.TrimSpace(t); t != "" {
			topics = append(topics, t)
		}
	}
	req.ChapterTopics = topics

	switch {
	case req.SubjectArea == "":
		return req, apperr.InvalidRequest("Subject area cannot be empty.")
	case req.TargetAudience == "":
		return req, apperr.InvalidRequest("Target audience cannot be empty.")
	case len(req.ChapterTopics) == 0:
		return req, apperr.InvalidRequest("Chapter topics cannot be empty.")
	}
	return req, nil
}

// Create stores a draft textbook for req. The returned request is normalized.
func (g *Generator) Create(ctx context.Context, req models.GenerateTextbookRequest) (models.Textbook, models.GenerateTextbookRequest, error) {
	req, err := Normalize(req)
	if err != nil {
		return models.Textbook{}, req, err
	}
	tb, err := g.store.CreateTextbook(ctx, models.Textbook{
		Title:            fmt.Sprintf("%s - %s", req.SubjectArea, req.TargetAudience),
		SubjectArea:      req.SubjectArea,
		TargetAudience:   req.TargetAudience,
		Status:           models.StatusDraft,
		GenerationParams: req.Params(),
	})
	if err != nil {
		return models.Textbook{}, req, err
	}
	log.Info().Str("textbook_id", tb.ID).Str("subject_area", req.SubjectArea).Msg("Created textbook")
	return tb, req, nil
}

// GenerateTextbook creates a textbook and generates all of its chapters.
func (g *Generator) GenerateTextbook(ctx context.Context, req models.GenerateTextbookRequest) (models.GenerateTextbookResponse, error) {
	tb, req, err := g.Create(ctx, req)
	if err != nil {
		return models.GenerateTextbookResponse{}, err
	}
	if err := g.Run(ctx, tb, req); err != nil {
		return models.GenerateTextbookResponse{TextbookID: tb.ID, Status: "error"}, err
	}
	return models.GenerateTextbookResponse{TextbookID: tb.ID, Status: "success"}, nil
}

// Run generates the chapters of tb in request order. On failure the textbook
// is marked failed, even when ctx was cancelled.
func (g *Generator) Run(ctx context.Context, tb models.Textbook, req models.GenerateTextbookRequest) (err error) {
	total := len(req.ChapterTopics)
	tracker := g.startJob(tb.ID, total)
	defer func() {
		if tracker != nil {
			if ferr := tracker.Finish(); ferr != nil {
				log.Warn().Err(ferr).Str("textbook_id", tb.ID).Msg("Failed to clear generation progress")
			}
		}
		if err != nil {
			log.Error().Err(err).Str("textbook_id", tb.ID).Msg("Textbook generation failed")
			if serr := g.store.UpdateTextbookStatus(context.WithoutCancel(ctx), tb.ID, models.StatusFailed, nil); serr != nil {
				log.Error().Err(serr).Str("textbook_id", tb.ID).Msg("Failed to mark textbook as failed")
			}
		}
	}()

	if err := g.store.UpdateTextbookStatus(ctx, tb.ID, models.StatusGenerating, nil); err != nil {
		return err
	}

	for i, topic := range req.ChapterTopics {
		if err := ctx.Err(); err != nil {
			return err
		}
		msg := fmt.Sprintf("Generating chapter %d of %d: %s", i+1, total, topic)
		log.Info().Str("textbook_id", tb.ID).Int("chapter", i+1).Int("total", total).Str("topic", topic).Msg("Generating chapter")
		g.step(tracker, i, msg)
		if err := g.generateChapter(ctx, tb.ID, topic, i+1, req); err != nil {
			return fmt.Errorf("chapter %d (%s): %w", i+1, topic, err)
		}
		g.step(tracker, i+1, msg)
	}

	if err := g.store.UpdateTextbookStatus(ctx, tb.ID, models.StatusCompleted, exportFormats); err != nil {
		return err
	}
	log.Info().Str("textbook_id", tb.ID).Int("chapters", total).Msg("Textbook generation completed")
	return nil
}

func (g *Generator) startJob(id string, total int) *jobs.Tracker {
	if g.progress == nil {
		return nil
	}
	tr, err := g.progress.Start(id, total, "Starting textbook generation")
	if err != nil {
		log.Warn().Err(err).Str("textbook_id", id).Msg("Progress tracking unavailable")
		return nil
	}
	return tr
}

func (g *Generator) step(tr *jobs.Tracker, current int, msg string) {
	if tr == nil {
		return
	}
	if err := tr.Step(current, msg); err != nil {
		log.Warn().Err(err).Msg("Failed to record generation progress")
	}
}

// Status reports generation progress for a textbook. Unknown ids yield a
// not_found status rather than an error.
func (g *Generator) Status(ctx context.Context, id string) (models.GenerationStatus, error) {
	tb, err := g.store.GetTextbook(ctx, id)
	if errors.Is(err, apperr.ErrNotFound) {
		return models.GenerationStatus{TextbookID: id, Status: "not_found", Progress: 0, Message: "Textbook not found"}, nil
	}
	if err != nil {
		return models.GenerationStatus{}, err
	}

	st := models.GenerationStatus{TextbookID: id, Status: string(tb.Status)}
	if g.progress != nil {
		p, ok, err := g.progress.Get(id)
		if err != nil {
			log.Warn().Err(err).Str("textbook_id", id).Msg("Failed to read generation progress")
		}
		if ok {
			st.Progress = p.Fraction()
			st.Message = p.Message
			return st, nil
		}
	}

	switch tb.Status {
	case models.StatusCompleted:
		st.Progress, st.Message = 1.0, "Textbook generation completed"
	case models.StatusGenerating:
		st.Progress, st.Message = 0.5, "Textbook generation in progress"
	case models.StatusFailed:
		st.Progress, st.Message = 0.0, "Textbook generation failed"
	default:
		st.Message = fmt.Sprintf("Textbook is %s", tb.Status)
	}
	return st, nil
}

func (g *Generator) generateChapter(ctx context.Context, textbookID, topic string, position int, req models.GenerateTextbookRequest) error {
	style := req.Style()
	raw, err := g.chapterContent(ctx, topic, req)
	if err != nil {
		return err
	}
	structured := StructureChapter(topic, raw, style.IncludeExercises, style.IncludeSummaries)

	issues, err := g.review(ctx, structured, req)
	if err != nil {
		return err
	}
	if len(issues) > 0 {
		log.Warn().Str("textbook_id", textbookID).Str("topic", topic).Strs("issues", issues).Msg("Issues found in chapter")
	}

	words := len(strings.Fields(structured))
	ch, err := g.store.CreateChapter(ctx, models.Chapter{
		TextbookID:  textbookID,
		Title:       topic,
		Slug:        helper.Slugify(topic),
		Content:     structured,
		Position:    position,
		WordCount:   words,
		ReadingTime: words / models.WordsPerMinute,
	})
	if err != nil {
		return err
	}

	for i, sec := range parser.ExtractSections(structured) {
		_, err := g.store.CreateSection(ctx, models.Section{
			ChapterID:   ch.ID,
			Title:       sec.Title,
			Content:     sec.Content,
			Position:    i + 1,
			SectionType: sec.Type,
		})
		if err != nil {
			return err
		}
	}
	return nil
}

// chapterContent generates the raw chapter text, splitting complex topics
// into subtopics generated one after another.
func (g *Generator) chapterContent(ctx context.Context, topic string, req models.GenerateTextbookRequest) (string, error) {
	if len(strings.Fields(topic)) <= g.threshold {
		return g.llm.Complete(ctx, ChapterPrompt(topic, req))
	}

	subtopics := g.breakDown(ctx, topic, req)
	parts := make([]string, 0, len(subtopics))
	for _, sub := range subtopics {
		part, err := g.llm.Complete(ctx, ChapterPrompt(sub, req))
		if err != nil {
			return "", err
		}
		parts = append(parts, part)
	}
	return CombineParts(parts), nil
}

func (g *Generator) breakDown(ctx context.Context, topic string, req models.GenerateTextbookRequest) []string {
	raw, err := g.llm.CompleteJSON(ctx, fmt.Sprintf(models.BreakDownPromptTemplate, req.SubjectArea, req.TargetAudience, topic))
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Topic breakdown failed, generating topic directly")
		return []string{topic}
	}
	subtopics, err := ParseSubtopics(raw)
	if err != nil {
		log.Warn().Err(err).Str("topic", topic).Msg("Malformed topic breakdown, generating topic directly")
		return []string{topic}
	}
	return subtopics
}

func (g *Generator) review(ctx context.Context, content string, req models.GenerateTextbookRequest) ([]string, error) {
	var issues []string
	prompts := []string{
		fmt.Sprintf(models.CoherencePromptTemplate, req.TargetAudience, req.TargetAudience, content),
		fmt.Sprintf(models.AccuracyPromptTemplate, req.SubjectArea, content),
	}
	for _, p := range prompts {
		resp, err := g.llm.Complete(ctx, p)
		if err != nil {
			return nil, err
		}
		if strings.TrimSpace(resp) != "" {
			issues = append(issues, resp)
		}
	}
	return issues, nil
}
