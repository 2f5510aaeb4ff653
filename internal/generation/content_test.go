package generation

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

func TestParseSubtopics(t *testing.T) {
	cases := []struct {
		raw  string
		want []string
	}{
		{`["A", "B"]`, []string{"A", "B"}},
		{`{"subtopics": [" A ", "", "B"]}`, []string{"A", "B"}},
	}
	for _, c := range cases {
		got, err := ParseSubtopics(c.raw)
		if err != nil {
			t.Fatalf("%s: %v", c.raw, err)
		}
		if !reflect.DeepEqual(got, c.want) {
			t.Errorf("%s: got %v, want %v", c.raw, got, c.want)
		}
	}

	for _, raw := range []string{"", "nope", `{"topics": ["A"]}`, `[]`, `{"subtopics": 3}`} {
		if _, err := ParseSubtopics(raw); !errors.Is(err, apperr.ErrParse) {
			t.Errorf("%q: expected parse failure, got %v", raw, err)
		}
	}
}

func TestStructureChapter(t *testing.T) {
	raw := "One. Two. Three. Four. Five"
	got := StructureChapter("Cells", raw, true, true)
	want := "# Cells\n\n" +
		"## Introduction\nOne. Two. Three.\n\n" +
		"## Main Content\nOne. Two. Three. Four. Five\n\n" +
		"## Summary\nThree. Four. Five.\n\n" +
		"## Exercises\n1. Define the key concepts in Cells.\n" +
		"2. Explain the main principles of Cells.\n" +
		"3. Provide an example of how Cells is applied in practice.\n\n"
	if got != want {
		t.Errorf("got\n%q\nwant\n%q", got, want)
	}

	bare := StructureChapter("Cells", raw, false, false)
	if strings.Contains(bare, "## Summary") || strings.Contains(bare, "## Exercises") {
		t.Errorf("expected optional sections to be omitted:\n%s", bare)
	}
}

func TestChapterPromptFollowsPreferences(t *testing.T) {
	req := models.GenerateTextbookRequest{
		SubjectArea:       "Biology",
		TargetAudience:    "High School",
		StylePreferences:  &models.StylePreferences{IncludeExercises: true},
		FormatPreferences: &models.FormatPreferences{FontSize: "large", Layout: "compact"},
	}
	p := ChapterPrompt("Cells", req)
	for _, s := range []string{`"Cells"`, "4. Practice exercises", "large font size", "compact layout", "High School students"} {
		if !strings.Contains(p, s) {
			t.Errorf("expected prompt to contain %q:\n%s", s, p)
		}
	}
	for _, s := range []string{"5. Key terms", "6. Suggestions for diagrams"} {
		if strings.Contains(p, s) {
			t.Errorf("expected prompt to omit %q", s)
		}
	}
}

func TestCombineParts(t *testing.T) {
	if got := CombineParts([]string{"a", "b"}); got != "a\n\nb" {
		t.Errorf("got %q", got)
	}
}
