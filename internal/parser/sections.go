package parser

import (
	"strings"

	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"textbook-rag/internal/models"
)

const defaultSectionTitle = "Introduction"

// ExtractedSection is a level-two block of a chapter body.
type ExtractedSection struct {
	Title   string
	Content string
	Type    models.SectionType
}

// ExtractSections splits a structured chapter into sections. The level-one
// title line is dropped, every level-two heading opens a new section, and text
// before the first heading belongs to an implicit "Introduction" section.
// Sections whose content is blank are skipped.
func ExtractSections(content string) []ExtractedSection {
	src := []byte(content)
	headings := headingLines(src)

	var sections []ExtractedSection
	current := ExtractedSection{Title: defaultSectionTitle, Type: models.SectionText}
	var body strings.Builder

	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			current.Content = body.String()
			sections = append(sections, current)
		}
		body.Reset()
	}

	for i, line := range strings.Split(content, "\n") {
		h, ok := headings[i]
		switch {
		case ok && h.level == 1:
			continue
		case ok && h.level == 2:
			flush()
			current = ExtractedSection{Title: h.title, Type: DetermineSectionType(h.title)}
		default:
			body.WriteString(line)
			body.WriteByte('\n')
		}
	}
	flush()
	return sections
}

// DetermineSectionType maps a section title to its type by keyword.
func DetermineSectionType(title string) models.SectionType {
	t := strings.ToLower(title)
	switch {
	case containsAny(t, "exercise", "problem", "question"):
		return models.SectionExercise
	case containsAny(t, "summary", "review"):
		return models.SectionSummary
	case containsAny(t, "code", "program"):
		return models.SectionCode
	case containsAny(t, "diagram", "figure", "image"):
		return models.SectionDiagram
	}
	return models.SectionText
}

func containsAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

type heading struct {
	level int
	title string
}

// headingLines returns the ATX headings of level one and two keyed by their
// zero-based line number. Headings inside code blocks are not reported.
func headingLines(src []byte) map[int]heading {
	doc := goldmark.New().Parser().Parse(text.NewReader(src))
	starts := lineStarts(src)

	found := make(map[int]heading)
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		h, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		if h.Level > 2 || h.Lines().Len() == 0 {
			return ast.WalkSkipChildren, nil
		}
		seg := h.Lines().At(0)
		line := lineOf(starts, seg.Start)
		prefix := strings.Repeat("#", h.Level) + " "
		if !strings.HasPrefix(string(src[starts[line]:]), prefix) {
			// setext heading or indented ATX heading
			return ast.WalkSkipChildren, nil
		}
		found[line] = heading{level: h.Level, title: strings.TrimSpace(string(seg.Value(src)))}
		return ast.WalkSkipChildren, nil
	})
	return found
}

func lineStarts(src []byte) []int {
	starts := []int{0}
	for i, b := range src {
		if b == '\n' {
			starts = append(starts, i+1)
		}
	}
	return starts
}

func lineOf(starts []int, offset int) int {
	lo, hi := 0, len(starts)-1
	for lo < hi {
		mid := (lo + hi + 1) / 2
		if starts[mid] <= offset {
			lo = mid
		} else {
			hi = mid - 1
		}
	}
	return lo
}
