// Package importer builds a completed textbook from existing documents.
package importer

import (
	"context"
	"fmt"
	"path/filepath"
	"sort"
	"strings"

	"github.com/bmatcuk/doublestar/v4"
	"github.com/rs/zerolog/log"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/models"
	"textbook-rag/internal/parser"
)

type Store interface {
	CreateTextbook(ctx context.Context, tb models.Textbook) (models.Textbook, error)
	UpdateTextbookStatus(ctx context.Context, id string, status models.TextbookStatus, exportFormats []string) error
	CreateChapter(ctx context.Context, ch models.Chapter) (models.Chapter, error)
	CreateSection(ctx context.Context, sec models.Section) (models.Section, error)
}

type Request struct {
	Patterns       []string `json:"patterns"`
	Title          string   `json:"title"`
	SubjectArea    string   `json:"subject_area"`
	TargetAudience string   `json:"target_audience"`
}

type Result struct {
	TextbookID string   `json:"textbook_id"`
	Files      []string `json:"files"`
	Chapters   int      `json:"chapters"`
	Sections   int      `json:"sections"`
}

type Importer struct {
	store  Store
	parser parser.Parser
}

func New(store Store, p parser.Parser) *Importer {
	if p == nil {
		p = parser.FileParser{}
	}
	return &Importer{store: store, parser: p}
}

// Expand resolves glob patterns to a sorted list of distinct files.
func Expand(patterns []string) ([]string, error) {
	seen := make(map[string]bool)
	var files []string
	for _, pattern := range patterns {
		matches, err := doublestar.FilepathGlob(pattern, doublestar.WithFilesOnly())
		if err != nil {
			return nil, apperr.InvalidRequest(fmt.Sprintf("invalid pattern %q: %v", pattern, err))
		}
		for _, m := range matches {
			m = filepath.Clean(m)
			if !seen[m] {
				seen[m] = true
				files = append(files, m)
			}
		}
	}
	sort.Strings(files)
	return files, nil
}

type document struct {
	path     string
	title    string
	sections []parser.ExtractedSection
}

// Import parses every matched file and stores it as one chapter, in file
// order, of a new completed textbook.
func (im *Importer) Import(ctx context.Context, req Request) (*Result, error) {
	files, err := Expand(req.Patterns)
	if err != nil {
		return nil, err
	}
	if len(files) == 0 {
		return nil, apperr.InvalidRequest("No files matched the given patterns.")
	}

	docs := make([]document, 0, len(files))
	for _, f := range files {
		doc, err := im.load(f)
		if err != nil {
			return nil, fmt.Errorf("failed to import %s: %w", f, err)
		}
		if len(doc.sections) == 0 {
			log.Warn().Str("file", f).Msg("No text found, skipping file")
			continue
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, apperr.InvalidRequest("No text found in the given files.")
	}

	title := req.Title
	if title == "" {
		title = docs[0].title
	}
	tb, err := im.store.CreateTextbook(ctx, models.Textbook{
		Title:          title,
		SubjectArea:    req.SubjectArea,
		TargetAudience: req.TargetAudience,
		Status:         models.StatusDraft,
		GenerationParams: map[string]any{
			"source": "import",
			"files":  files,
		},
	})
	if err != nil {
		return nil, err
	}

	res := &Result{TextbookID: tb.ID}
	if err := im.write(ctx, tb.ID, docs, res); err != nil {
		if serr := im.store.UpdateTextbookStatus(context.WithoutCancel(ctx), tb.ID, models.StatusFailed, nil); serr != nil {
			log.Error().Err(serr).Str("textbook_id", tb.ID).Msg("Failed to mark import as failed")
		}
		return nil, err
	}
	if err := im.store.UpdateTextbookStatus(ctx, tb.ID, models.StatusCompleted, nil); err != nil {
		return nil, err
	}
	log.Info().Str("textbook_id", tb.ID).Int("chapters", res.Chapters).Int("sections", res.Sections).Msg("Imported textbook")
	return res, nil
}

func (im *Importer) load(path string) (document, error) {
	pages, err := im.parser.Parse(path)
	if err != nil {
		return document{}, err
	}
	doc := document{path: path, title: strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".md", ".txt":
		for _, p := range pages {
			doc.sections = append(doc.sections, parser.ExtractSections(p.Content)...)
		}
	default:
		for _, p := range pages {
			if strings.TrimSpace(p.Content) == "" {
				continue
			}
			doc.sections = append(doc.sections, parser.ExtractedSection{
				Title:   p.Label,
				Content: p.Content,
				Type:    parser.DetermineSectionType(p.Label),
			})
		}
	}
	return doc, nil
}

func (im *Importer) write(ctx context.Context, textbookID string, docs []document, res *Result) error {
	for i, doc := range docs {
		var body strings.Builder
		for _, s := range doc.sections {
			fmt.Fprintf(&body, "## %s\n%s\n\n", s.Title, strings.TrimSpace(s.Content))
		}
		content := fmt.Sprintf("# %s\n\n%s", doc.title, body.String())
		words := len(strings.Fields(content))

		ch, err := im.store.CreateChapter(ctx, models.Chapter{
			TextbookID:  textbookID,
			Title:       doc.title,
			Slug:        helper.Slugify(doc.title),
			Content:     content,
			Position:    i + 1,
			WordCount:   words,
			ReadingTime: words / models.WordsPerMinute,
		})
		if err != nil {
			return err
		}
		for j, s := range doc.sections {
			if _, err := im.store.CreateSection(ctx, models.Section{
				ChapterID:   ch.ID,
				Title:       s.Title,
				Content:     s.Content,
				Position:    j + 1,
				SectionType: s.Type,
			}); err != nil {
				return err
			}
			res.Sections++
		}
		res.Chapters++
		res.Files = append(res.Files, doc.path)
	}
	return nil
}
