package models

import "time"

type TextbookStatus string

const (
	StatusDraft      TextbookStatus = "draft"
	StatusGenerating TextbookStatus = "generating"
	StatusCompleted  TextbookStatus = "completed"
	StatusFailed     TextbookStatus = "failed"
)

type SectionType string

const (
	SectionText     SectionType = "text"
	SectionCode     SectionType = "code"
	SectionDiagram  SectionType = "diagram"
	SectionExercise SectionType = "exercise"
	SectionSummary  SectionType = "summary"
)

type Textbook struct {
	ID               string         `json:"id"`
	Title            string         `json:"title"`
	SubjectArea      string         `json:"subject_area"`
	TargetAudience   string         `json:"target_audience"`
	Description      string         `json:"description,omitempty"`
	Status           TextbookStatus `json:"status"`
	GenerationParams map[string]any `json:"generation_params"`
	ExportFormats    []string       `json:"export_formats"`
	CreatedAt        time.Time      `json:"created_at"`
	UpdatedAt        time.Time      `json:"updated_at"`
}

type Chapter struct {
	ID          string    `json:"id"`
	TextbookID  string    `json:"textbook_id"`
	Title       string    `json:"title"`
	Slug        string    `json:"slug"`
	Content     string    `json:"content"`
	Position    int       `json:"position"`
	WordCount   int       `json:"word_count"`
	ReadingTime int       `json:"reading_time"` // minutes
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type Section struct {
	ID          string      `json:"id"`
	ChapterID   string      `json:"chapter_id"`
	Title       string      `json:"title"`
	Content     string      `json:"content"`
	Position    int         `json:"position"`
	SectionType SectionType `json:"section_type"`
	CreatedAt   time.Time   `json:"created_at"`
	UpdatedAt   time.Time   `json:"updated_at"`
}

type StylePreferences struct {
	IncludeExercises bool `json:"include_exercises" yaml:"include_exercises"`
	IncludeSummaries bool `json:"include_summaries" yaml:"include_summaries"`
	IncludeDiagrams  bool `json:"include_diagrams" yaml:"include_diagrams"`
}

// DefaultStylePreferences is used when a request carries none.
func DefaultStylePreferences() StylePreferences {
	return StylePreferences{IncludeExercises: true, IncludeSummaries: true, IncludeDiagrams: true}
}

type FormatPreferences struct {
	FontSize string `json:"font_size" yaml:"font_size"` // small, medium, large
	Layout   string `json:"layout" yaml:"layout"`       // standard, compact, spacious
}

type GenerateTextbookRequest struct {
	SubjectArea       string             `json:"subject_area"`
	TargetAudience    string             `json:"target_audience"`
	ChapterTopics     []string           `json:"chapter_topics"`
	StylePreferences  *StylePreferences  `json:"style_preferences,omitempty"`
	FormatPreferences *FormatPreferences `json:"format_preferences,omitempty"`
}

// Style returns the request's style preferences or the defaults.
func (r GenerateTextbookRequest) Style() StylePreferences {
	if r.StylePreferences == nil {
		return DefaultStylePreferences()
	}
	return *r.StylePreferences
}

// Params serializes the request for storage on the textbook record.
func (r GenerateTextbookRequest) Params() map[string]any {
	style := r.Style()
	params := map[string]any{
		"subject_area":    r.SubjectArea,
		"target_audience": r.TargetAudience,
		"chapter_topics":  r.ChapterTopics,
		"style_preferences": map[string]any{
			"include_exercises": style.IncludeExercises,
			"include_summaries": style.IncludeSummaries,
			"include_diagrams":  style.IncludeDiagrams,
		},
	}
	if r.FormatPreferences != nil {
		params["format_preferences"] = map[string]any{
			"font_size": r.FormatPreferences.FontSize,
			"layout":    r.FormatPreferences.Layout,
		}
	}
	return params
}

type GenerateTextbookResponse struct {
	TextbookID string `json:"textbook_id"`
	Status     string `json:"status"` // success, queued, error
}

type GenerationStatus struct {
	TextbookID string  `json:"textbook_id"`
	Status     string  `json:"status"`
	Progress   float64 `json:"progress"` // 0.0 to 1.0
	Message    string  `json:"message"`
}

// TextbookUpdate changes the fields that are set and leaves the rest.
type TextbookUpdate struct {
	Title            *string         `json:"title,omitempty"`
	SubjectArea      *string         `json:"subject_area,omitempty"`
	TargetAudience   *string         `json:"target_audience,omitempty"`
	Description      *string         `json:"description,omitempty"`
	Status           *TextbookStatus `json:"status,omitempty"`
	GenerationParams map[string]any  `json:"generation_params,omitempty"`
}

// Valid reports whether a set status is one of the known statuses.
func (u TextbookUpdate) Valid() bool {
	if u.Status == nil {
		return true
	}
	switch *u.Status {
	case StatusDraft, StatusGenerating, StatusCompleted, StatusFailed:
		return true
	}
	return false
}

// ParameterSet is a named generation request kept for reuse.
type ParameterSet struct {
	ID          string                  `json:"id"`
	Name        string                  `json:"name"`
	Description string                  `json:"description,omitempty"`
	Parameters  GenerateTextbookRequest `json:"parameters"`
	CreatedAt   time.Time               `json:"created_at"`
}

// ParameterSetUpdate changes the fields that are set and leaves the rest.
type ParameterSetUpdate struct {
	Name        *string                  `json:"name,omitempty"`
	Description *string                  `json:"description,omitempty"`
	Parameters  *GenerateTextbookRequest `json:"parameters,omitempty"`
}
