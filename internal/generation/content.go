package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

// ChapterPrompt builds the generation prompt for one chapter or subtopic.
func ChapterPrompt(topic string, req models.GenerateTextbookRequest) string {
	style := req.Style()
	var b strings.Builder
	fmt.Fprintf(&b, models.ChapterPromptTemplate, topic, req.SubjectArea, req.TargetAudience)
	if style.IncludeExercises {
		b.WriteString("\n4. Practice exercises with solutions")
	}
	if style.IncludeSummaries {
		b.WriteString("\n5. Key terms and definitions")
	}
	if style.IncludeDiagrams {
		b.WriteString("\n6. Suggestions for diagrams or visual aids that would help explain concepts")
	}
	if f := req.FormatPreferences; f != nil {
		if f.FontSize != "" {
			fmt.Fprintf(&b, "\n\nThe content should be structured to be compatible with a %s font size.", f.FontSize)
		}
		if f.Layout != "" {
			fmt.Fprintf(&b, "\nConsider a %s layout when structuring the content, ensuring readability and flow.", f.Layout)
		}
	}
	fmt.Fprintf(&b, "\n\nEnsure the content is appropriate for %s students, with\n"+
		"explanations that match their comprehension level. Use clear, engaging\n"+
		"language and include real-world applications where relevant.\n", req.TargetAudience)
	return b.String()
}

// StructureChapter lays raw content out as a markdown chapter with
// introduction, main content and the optional summary and exercises.
func StructureChapter(topic, raw string, includeExercises, includeSummaries bool) string {
	var b strings.Builder
	fmt.Fprintf(&b, "# %s\n\n", topic)
	fmt.Fprintf(&b, "## Introduction\n%s\n\n", introduction(raw))
	fmt.Fprintf(&b, "## Main Content\n%s\n\n", raw)
	if includeSummaries {
		fmt.Fprintf(&b, "## Summary\n%s\n\n", summary(raw))
	}
	if includeExercises {
		fmt.Fprintf(&b, "## Exercises\n%s\n\n", exercises(topic))
	}
	return b.String()
}

func introduction(content string) string {
	sentences := strings.Split(content, ". ")
	if len(sentences) > 3 {
		sentences = sentences[:3]
	}
	return strings.Join(sentences, ". ") + "."
}

func summary(content string) string {
	sentences := strings.Split(content, ". ")
	if len(sentences) > 3 {
		sentences = sentences[len(sentences)-3:]
	}
	return strings.Join(sentences, ". ") + "."
}

func exercises(topic string) string {
	return fmt.Sprintf("1. Define the key concepts in %s.\n"+
		"2. Explain the main principles of %s.\n"+
		"3. Provide an example of how %s is applied in practice.", topic, topic, topic)
}

// CombineParts joins subtopic contents with blank lines.
func CombineParts(parts []string) string {
	var b strings.Builder
	for _, p := range parts {
		b.WriteString(p)
		b.WriteString("\n\n")
	}
	return strings.TrimSpace(b.String())
}

var errNoSubtopics = errors.New("no subtopics in response")

// ParseSubtopics reads a topic breakdown. Both a JSON array of strings and an
// object with a "subtopics" array are accepted.
func ParseSubtopics(raw string) ([]string, error) {
	raw = strings.TrimSpace(raw)
	var list []string
	if err := json.Unmarshal([]byte(raw), &list); err != nil {
		var obj struct {
			Subtopics []string `json:"subtopics"`
		}
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			return nil, apperr.Parse("parse subtopics", err)
		}
		list = obj.Subtopics
	}

	subtopics := list[:0]
	for _, s := range list {
		if s = strings.TrimSpace(s); s != "" {
			subtopics = append(subtopics, s)
		}
	}
	if len(subtopics) == 0 {
		return nil, apperr.Parse("parse subtopics", errNoSubtopics)
	}
	return subtopics, nil
}
