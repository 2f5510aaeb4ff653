package chat

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/embedding"
	"textbook-rag/internal/helper"
	"textbook-rag/internal/llmservice"
	"textbook-rag/internal/llmservice/llmtest"
	"textbook-rag/internal/models"
	"textbook-rag/internal/rag"
	"textbook-rag/internal/vectorindex"
)

type memSessions struct {
	mu       sync.Mutex
	sessions map[string]models.ChatSession
	messages []models.ChatMessage
}

func newMemSessions() *memSessions {
	return &memSessions{sessions: map[string]models.ChatSession{}}
}

func (m *memSessions) GetSession(ctx context.Context, id string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return models.ChatSession{}, apperr.NotFound("Chat session not found.")
	}
	return s, nil
}

func (m *memSessions) CreateSession(ctx context.Context, textbookID, chapterID string) (models.ChatSession, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := models.ChatSession{ID: helper.NewID(), TextbookID: textbookID, ChapterID: chapterID, CreatedAt: time.Now()}
	m.sessions[s.ID] = s
	return s, nil
}

func (m *memSessions) AddMessage(ctx context.Context, msg models.ChatMessage) (models.ChatMessage, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	msg.ID = helper.NewID()
	m.messages = append(m.messages, msg)
	return msg, nil
}

func (m *memSessions) Messages() []models.ChatMessage {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]models.ChatMessage(nil), m.messages...)
}

func newOrchestrator(t *testing.T, model *llmtest.Model) (*Orchestrator, *memSessions) {
	t.Helper()
	emb := embedding.New(embedding.NewHashEmbedder(32), 32, 0)
	ix := vectorindex.New(vectorindex.NewMemory(), vectorindex.Options{Dimension: 32})

	text := "Chapter: Plants\nSection: Light\n\nchlorophyll absorbs light"
	vec, _ := emb.Embed(context.Background(), text)
	chunk, _ := models.NewContentChunk("S1", "", "T1", "C1", text, vec, models.ChunkMetadata{Title: "Light", ChapterTitle: "Plants"})
	if err := ix.Upsert(context.Background(), []models.Point{{ID: "p1", Chunk: chunk}}); err != nil {
		t.Fatal(err)
	}

	sessions := newMemSessions()
	return NewOrchestrator(sessions, rag.NewRAG(emb, ix, 5), llmservice.New(model, time.Second), 5), sessions
}

func TestChatPersistsBothMessages(t *testing.T) {
	model := llmtest.Static("Chlorophyll absorbs light.")
	o, sessions := newOrchestrator(t, model)

	resp, err := o.Chat(context.Background(), Request{Query: "What absorbs light?", TextbookID: "T1", ContextSnippet: "selected text"})
	if err != nil {
		t.Fatal(err)
	}
	if resp.Response != "Chlorophyll absorbs light." || resp.SessionID == "" {
		t.Errorf("unexpected response %+v", resp)
	}
	if len(resp.Sources) != 1 || resp.Sources[0].ContentID != "S1" || resp.Sources[0].Title != "Light" {
		t.Errorf("unexpected sources %+v", resp.Sources)
	}

	msgs := sessions.Messages()
	if len(msgs) != 2 {
		t.Fatalf("expected 2 messages, got %d", len(msgs))
	}
	if msgs[0].Role != models.RoleUser || msgs[0].ContextSnippet != "selected text" {
		t.Errorf("unexpected user message %+v", msgs[0])
	}
	if msgs[1].Role != models.RoleAssistant || !strings.Contains(msgs[1].ContextSnippet, "chlorophyll absorbs light") {
		t.Errorf("unexpected assistant message %+v", msgs[1])
	}
	if p := model.Prompts(); len(p) != 1 || !strings.Contains(p[0], "What absorbs light?") || !strings.Contains(p[0], "Section: Light") {
		t.Errorf("prompt is missing the query or context: %v", p)
	}
}

func TestChatValidation(t *testing.T) {
	o, sessions := newOrchestrator(t, llmtest.Static("x"))
	cases := map[string]Request{
		"textbook_id is required.": {Query: "q"},
		"Query cannot be empty.":   {Query: "   ", TextbookID: "T1"},
	}
	for want, req := range cases {
		_, err := o.Chat(context.Background(), req)
		if !errors.Is(err, apperr.ErrInvalidRequest) || apperr.Message(err) != want {
			t.Errorf("expected %q, got %v", want, err)
		}
	}
	if len(sessions.Messages()) != 0 {
		t.Errorf("expected no messages for invalid requests")
	}
}

func TestChatUnknownSession(t *testing.T) {
	o, _ := newOrchestrator(t, llmtest.Static("x"))
	_, err := o.Chat(context.Background(), Request{Query: "q", TextbookID: "T1", SessionID: "nope"})
	if apperr.StatusCode(err) != 404 {
		t.Errorf("expected 404, got %v", err)
	}
}

func collect(ch <-chan Event) []Event {
	var events []Event
	for ev := range ch {
		events = append(events, ev)
	}
	return events
}

func TestStreamEventsAndPersistence(t *testing.T) {
	o, sessions := newOrchestrator(t, llmtest.Static("Chlorophyll absorbs light."))
	events := collect(o.Stream(context.Background(), Request{Query: "What absorbs light?", TextbookID: "T1"}))

	if len(events) != 4 {
		t.Fatalf("expected start and 3 content events, got %+v", events)
	}
	if events[0].Kind != EventStart || events[0].SessionID == "" || len(events[0].Sources) != 1 {
		t.Errorf("unexpected start event %+v", events[0])
	}
	var content strings.Builder
	for _, ev := range events[1:] {
		if ev.Kind != EventContent {
			t.Fatalf("unexpected event %+v", ev)
		}
		content.WriteString(ev.Content)
	}
	if content.String() != "Chlorophyll absorbs light." {
		t.Errorf("unexpected streamed content %q", content.String())
	}

	msgs := sessions.Messages()
	if len(msgs) != 2 || msgs[1].Content != "Chlorophyll absorbs light." {
		t.Errorf("expected the streamed answer to be stored, got %+v", msgs)
	}
}

func TestStreamUnknownSessionEmitsSingleError(t *testing.T) {
	o, sessions := newOrchestrator(t, llmtest.Static("x"))
	events := collect(o.Stream(context.Background(), Request{Query: "q", TextbookID: "T1", SessionID: "nope"}))

	if len(events) != 1 || events[0].Kind != EventError {
		t.Fatalf("expected a single error event, got %+v", events)
	}
	if events[0].StatusCode != 404 || events[0].Error != "Chat session not found." {
		t.Errorf("unexpected error event %+v", events[0])
	}
	if len(sessions.Messages()) != 0 {
		t.Errorf("expected no messages to be written")
	}
}

func TestStreamLLMFailure(t *testing.T) {
	model := &llmtest.Model{Respond: func(string, bool) (string, error) { return "", errors.New("rate limited") }}
	o, sessions := newOrchestrator(t, model)
	events := collect(o.Stream(context.Background(), Request{Query: "q", TextbookID: "T1"}))

	last := events[len(events)-1]
	if last.Kind != EventError || !strings.HasPrefix(last.Error, "Error processing chat query: ") || last.StatusCode != 502 {
		t.Errorf("unexpected final event %+v", last)
	}
	if msgs := sessions.Messages(); len(msgs) != 1 || msgs[0].Role != models.RoleUser {
		t.Errorf("expected only the user message, got %+v", msgs)
	}
}

func TestStreamCancelledStoresNoAnswer(t *testing.T) {
	o, sessions := newOrchestrator(t, llmtest.Static("one two three four five six"))
	ctx, cancel := context.WithCancel(context.Background())
	stream := o.Stream(ctx, Request{Query: "q", TextbookID: "T1"})

	if ev := <-stream; ev.Kind != EventStart {
		t.Fatalf("expected start event, got %+v", ev)
	}
	if ev := <-stream; ev.Kind != EventContent {
		t.Fatalf("expected content event, got %+v", ev)
	}
	cancel()
	for ev := range stream {
		if ev.Kind == EventError {
			t.Errorf("unexpected error event after cancellation %+v", ev)
		}
	}

	for _, m := range sessions.Messages() {
		if m.Role == models.RoleAssistant {
			t.Errorf("expected no assistant message after cancellation")
		}
	}
}

func TestEventJSON(t *testing.T) {
	cases := []struct {
		ev   Event
		want string
	}{
		{Event{Kind: EventStart, SessionID: "s"}, `{"session_id":"s","sources":[]}`},
		{Event{Kind: EventContent, Content: "hi"}, `{"content":"hi"}`},
		{Event{Kind: EventError, Error: "boom", StatusCode: 500}, `{"error":"boom","status_code":500}`},
	}
	for _, c := range cases {
		b, err := json.Marshal(c.ev)
		if err != nil {
			t.Fatal(err)
		}
		if string(b) != c.want {
			t.Errorf("got %s, want %s", b, c.want)
		}
	}
}
