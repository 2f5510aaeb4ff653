// Package chat answers questions about a textbook with retrieved context and
// keeps the conversation history.
package chat

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/llmservice"
	"textbook-rag/internal/models"
	"textbook-rag/internal/rag"
)

type SessionStore interface {
	GetSession(ctx context.Context, id string) (models.ChatSession, error)
	CreateSession(ctx context.Context, textbookID, chapterID string) (models.ChatSession, error)
	AddMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error)
}

type Retriever interface {
	Search(ctx context.Context, query, textbookID string, limit int) ([]models.SearchResult, error)
}

type LLM interface {
	Complete(ctx context.Context, prompt string) (string, error)
	Stream(ctx context.Context, prompt string) <-chan llmservice.Fragment
}

type Request struct {
	Query      string `json:"query"`
	TextbookID string `json:"textbook_id"`
	SessionID  string `json:"session_id,omitempty"`
	// ContextSnippet is the text the user selected, stored on their message.
	ContextSnippet string `json:"context_id,omitempty"`
}

type Response struct {
	Response  string          `json:"response"`
	Sources   []models.Source `json:"sources"`
	SessionID string          `json:"session_id"`
}

type Orchestrator struct {
	sessions  SessionStore
	retriever Retriever
	llm       LLM
	limit     int
}

func NewOrchestrator(sessions SessionStore, retriever Retriever, llm LLM, limit int) *Orchestrator {
	return &Orchestrator{sessions: sessions, retriever: retriever, llm: llm, limit: limit}
}

// Validate rejects requests without a textbook or with a blank query.
func Validate(req Request) error {
	if req.TextbookID == "" {
		return apperr.InvalidRequest("textbook_id is required.")
	}
	if strings.TrimSpace(req.Query) == "" {
		return apperr.InvalidRequest("Query cannot be empty.")
	}
	return nil
}

// ErrorDetail returns the client-facing message and status code for err.
func ErrorDetail(err error) (string, int) {
	switch apperr.KindOf(err) {
	case apperr.KindInvalidRequest, apperr.KindNotFound:
		return apperr.Message(err), apperr.StatusCode(err)
	}
	return "Error processing chat query: " + err.Error(), apperr.StatusCode(err)
}

// Chat answers one query and records both sides of the exchange.
func (o *Orchestrator) Chat(ctx context.Context, req Request) (*Response, error) {
	t, err := o.prepare(ctx, req)
	if err != nil {
		return nil, err
	}

	answer, err := o.llm.Complete(ctx, t.prompt)
	if err != nil {
		return nil, err
	}
	if err := o.saveAnswer(ctx, t, answer); err != nil {
		return nil, err
	}
	log.Info().Str("session_id", t.sessionID).Str("textbook_id", req.TextbookID).Msg("Generated chat response")
	return &Response{Response: answer, Sources: t.sources, SessionID: t.sessionID}, nil
}

// turn is the state shared by the single-shot and streaming paths once the
// user message is stored and context is retrieved.
type turn struct {
	sessionID string
	context   string
	prompt    string
	sources   []models.Source
}

func (o *Orchestrator) prepare(ctx context.Context, req Request) (*turn, error) {
	if err := Validate(req); err != nil {
		return nil, err
	}
	log.Info().Str("textbook_id", req.TextbookID).Str("query", req.Query).Msg("Received chat query")

	sessionID := req.SessionID
	if sessionID != "" {
		if _, err := o.sessions.GetSession(ctx, sessionID); err != nil {
			return nil, err
		}
	} else {
		sess, err := o.sessions.CreateSession(ctx, req.TextbookID, "")
		if err != nil {
			return nil, err
		}
		sessionID = sess.ID
	}

	_, err := o.sessions.AddMessage(ctx, models.ChatMessage{
		SessionID:      sessionID,
		Role:           models.RoleUser,
		Content:        req.Query,
		ContextSnippet: req.ContextSnippet,
	})
	if err != nil {
		return nil, err
	}

	results, err := o.retriever.Search(ctx, req.Query, req.TextbookID, o.limit)
	if err != nil {
		return nil, err
	}
	retrieved := rag.BuildContext(results)
	return &turn{
		sessionID: sessionID,
		context:   retrieved,
		prompt:    fmt.Sprintf(models.ChatPromptTemplate, req.Query, retrieved),
		sources:   rag.Sources(results),
	}, nil
}

func (o *Orchestrator) saveAnswer(ctx context.Context, t *turn, answer string) error {
	_, err := o.sessions.AddMessage(ctx, models.ChatMessage{
		SessionID:      t.sessionID,
		Role:           models.RoleAssistant,
		Content:        answer,
		ContextSnippet: t.context,
	})
	return err
}
