package models

import "time"

type MessageRole string

const (
	RoleUser      MessageRole = "user"
	RoleAssistant MessageRole = "assistant"
)

type ChatSession struct {
	ID         string    `json:"id"`
	TextbookID string    `json:"textbook_id,omitempty"`
	ChapterID  string    `json:"chapter_id,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
	UpdatedAt  time.Time `json:"updated_at"`
}

type ChatMessage struct {
	ID        string      `json:"id"`
	SessionID string      `json:"session_id"`
	Role      MessageRole `json:"role"`
	Content   string      `json:"content"`
	// ContextSnippet is the retrieval context or selected text that triggered the message.
	ContextSnippet string    `json:"context_snippet,omitempty"`
	CreatedAt      time.Time `json:"created_at"`
}
