package chat

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/models"
)

type EventKind int

const (
	EventStart EventKind = iota
	EventContent
	EventError
)

// Event is one element of a streamed answer. A stream is a start event,
// content events, and then either nothing or a single error event.
type Event struct {
	Kind       EventKind
	SessionID  string
	Sources    []models.Source
	Content    string
	Error      string
	StatusCode int
}

func (e Event) MarshalJSON() ([]byte, error) {
	switch e.Kind {
	case EventStart:
		sources := e.Sources
		if sources == nil {
			sources = []models.Source{}
		}
		return json.Marshal(struct {
			SessionID string          `json:"session_id"`
			Sources   []models.Source `json:"sources"`
		}{e.SessionID, sources})
	case EventContent:
		return json.Marshal(struct {
			Content string `json:"content"`
		}{e.Content})
	default:
		return json.Marshal(struct {
			Error      string `json:"error"`
			StatusCode int    `json:"status_code"`
		}{e.Error, e.StatusCode})
	}
}

func errorEvent(err error) Event {
	msg, code := ErrorDetail(err)
	return Event{Kind: EventError, Error: msg, StatusCode: code}
}

// Stream answers req incrementally. The channel is closed after the last
// event. The assistant message is stored only when generation completes;
// cancelling ctx stops the stream without storing it.
func (o *Orchestrator) Stream(ctx context.Context, req Request) <-chan Event {
	out := make(chan Event)
	go func() {
		defer close(out)
		send := func(ev Event) bool {
			select {
			case out <- ev:
				return true
			case <-ctx.Done():
				return false
			}
		}
		fail := func(err error) {
			log.Error().Err(err).Str("textbook_id", req.TextbookID).Msg("Chat stream failed")
			send(errorEvent(err))
		}

		t, err := o.prepare(ctx, req)
		if err != nil {
			fail(err)
			return
		}
		if !send(Event{Kind: EventStart, SessionID: t.sessionID, Sources: t.sources}) {
			return
		}

		var answer strings.Builder
		for frag := range o.llm.Stream(ctx, t.prompt) {
			if frag.Err != nil {
				fail(frag.Err)
				return
			}
			answer.WriteString(frag.Text)
			if !send(Event{Kind: EventContent, Content: frag.Text}) {
				return
			}
		}
		if ctx.Err() != nil {
			log.Info().Str("session_id", t.sessionID).Msg("Chat stream cancelled")
			return
		}

		if err := o.saveAnswer(ctx, t, answer.String()); err != nil {
			fail(err)
			return
		}
		log.Info().Str("session_id", t.sessionID).Msg("Streamed chat response")
	}()
	return out
}
