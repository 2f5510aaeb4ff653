package api

import (
	"bufio"
	"context"
	"encoding/json"
	"math"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/chat"
	"textbook-rag/internal/config"
	"textbook-rag/internal/db"
	"textbook-rag/internal/generation"
	"textbook-rag/internal/indexing"
	"textbook-rag/internal/models"
)

type fakeLibrary struct{}

func (fakeLibrary) ListTextbooks(ctx context.Context) ([]models.Textbook, error) {
	return []models.Textbook{{ID: "T1", Title: "Biology - High School"}}, nil
}

func (fakeLibrary) GetTextbook(ctx context.Context, id string) (models.Textbook, error) {
	if id != "T1" {
		return models.Textbook{}, apperr.NotFound("Textbook not found.")
	}
	return models.Textbook{ID: "T1"}, nil
}

func (l fakeLibrary) UpdateTextbook(ctx context.Context, id string, upd models.TextbookUpdate) (models.Textbook, error) {
	tb, err := l.GetTextbook(ctx, id)
	if err != nil {
		return tb, err
	}
	if upd.Title != nil {
		tb.Title = *upd.Title
	}
	return tb, nil
}

func (l fakeLibrary) DeleteTextbook(ctx context.Context, id string) error {
	_, err := l.GetTextbook(ctx, id)
	return err
}

func (fakeLibrary) ListChapters(ctx context.Context, textbookID string) ([]models.Chapter, error) {
	return []models.Chapter{{ID: "C1", TextbookID: textbookID, Position: 1}}, nil
}

func (fakeLibrary) ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error) {
	if sessionID != "S1" {
		return nil, apperr.NotFound("Chat session not found.")
	}
	return []models.ChatMessage{{ID: "M1", SessionID: "S1", Role: models.RoleUser, Content: "hi"}}, nil
}

type fakeGenerator struct {
	mu  sync.Mutex
	ran []string
}

func (g *fakeGenerator) Create(ctx context.Context, req models.GenerateTextbookRequest) (models.Textbook, models.GenerateTextbookRequest, error) {
	req, err := generation.Normalize(req)
	if err != nil {
		return models.Textbook{}, req, err
	}
	return models.Textbook{ID: "T9", Status: models.StatusDraft}, req, nil
}

func (g *fakeGenerator) Run(ctx context.Context, tb models.Textbook, req models.GenerateTextbookRequest) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.ran = append(g.ran, tb.ID)
	return nil
}

func (g *fakeGenerator) Status(ctx context.Context, id string) (models.GenerationStatus, error) {
	return models.GenerationStatus{TextbookID: id, Status: "generating", Progress: 0.5, Message: "Textbook generation in progress"}, nil
}

type fakeIndexer struct{}

func (fakeIndexer) IndexTextbook(ctx context.Context, id string) (*indexing.Report, error) {
	if id != "T1" {
		return nil, apperr.NotIndexable("Textbook not found or not completed.")
	}
	return &indexing.Report{TextbookID: id, Chapters: 1, Sections: 2, Chunks: 3}, nil
}

func (fakeIndexer) Forget(ctx context.Context, id string) error { return nil }

type fakeSearcher struct{}

func (fakeSearcher) Search(ctx context.Context, query, textbookID string, limit int) ([]models.SearchResult, error) {
	return []models.SearchResult{}, nil
}

type fakeChat struct{}

func (fakeChat) Chat(ctx context.Context, req chat.Request) (*chat.Response, error) {
	if err := chat.Validate(req); err != nil {
		return nil, err
	}
	if req.SessionID == "missing" {
		return nil, apperr.NotFound("Chat session not found.")
	}
	return &chat.Response{Response: "answer", Sources: []models.Source{}, SessionID: "S1"}, nil
}

func (fakeChat) Stream(ctx context.Context, req chat.Request) <-chan chat.Event {
	out := make(chan chat.Event, 3)
	out <- chat.Event{Kind: chat.EventStart, SessionID: "S1"}
	out <- chat.Event{Kind: chat.EventContent, Content: "Hello "}
	out <- chat.Event{Kind: chat.EventContent, Content: "world"}
	close(out)
	return out
}

func newParameterStore(t *testing.T) *db.Store {
	t.Helper()
	bdb, err := db.ConnectDB(config.DatabaseConfig{Driver: "sqlite3", DSN: "file:" + filepath.Join(t.TempDir(), "api.db")})
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { bdb.Close() })
	if err := db.InitSchema(context.Background(), bdb); err != nil {
		t.Fatal(err)
	}
	return db.NewStore(bdb)
}

func newTestServer(t *testing.T) (*httptest.Server, *Server, *fakeGenerator) {
	t.Helper()
	gen := &fakeGenerator{}
	s := NewServer(context.Background(), Deps{
		Library:    fakeLibrary{},
		Parameters: newParameterStore(t),
		Generator:  gen,
		Indexer:    fakeIndexer{},
		Searcher:   fakeSearcher{},
		Chat:       fakeChat{},
	})
	ts := httptest.NewServer(s)
	t.Cleanup(ts.Close)
	return ts, s, gen
}

func do(t *testing.T, method, url, body string) (*http.Response, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp, out
}

func TestGenerateIsQueued(t *testing.T) {
	ts, s, gen := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/textbooks/generate",
		`{"subject_area":"Biology","target_audience":"High School","chapter_topics":["Cells"]}`)
	if resp.StatusCode != http.StatusAccepted || body["status"] != "queued" || body["textbook_id"] != "T9" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	s.Wait()
	if len(gen.ran) != 1 || gen.ran[0] != "T9" {
		t.Errorf("expected a background run, got %v", gen.ran)
	}

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/textbooks/generate", `{"subject_area":"","target_audience":"x","chapter_topics":["a"]}`)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "Subject area cannot be empty." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestStatusAndTextbooks(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodGet, ts.URL+"/v1/textbooks/T1/status", "")
	if resp.StatusCode != http.StatusOK || body["progress"] != 0.5 {
		t.Errorf("unexpected status %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/v1/textbooks/nope", "")
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Textbook not found." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/textbooks/T1/chapters", "")
	if resp.StatusCode != http.StatusOK {
		t.Errorf("expected 200 for chapters, got %d", resp.StatusCode)
	}
}

func TestIndexEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/index", `{"textbook_id":"T1"}`)
	if resp.StatusCode != http.StatusOK || body["chunks"] != float64(3) {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, ts.URL+"/v1/index", `{"textbook_id":"T2"}`)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "Textbook not found or not completed." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestSearchEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/search?q=x&textbook_id=T1")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var results []models.SearchResult
	if err := json.NewDecoder(resp.Body).Decode(&results); err != nil {
		t.Fatal(err)
	}
	if resp.StatusCode != http.StatusOK || results == nil || len(results) != 0 {
		t.Errorf("expected an empty list, got %d %v", resp.StatusCode, results)
	}

	r2, body := do(t, http.MethodGet, ts.URL+"/v1/search?q=x&textbook_id=T1&limit=abc", "")
	if r2.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a bad limit, got %d %v", r2.StatusCode, body)
	}
}

func TestChatEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/chat", `{"query":"q","textbook_id":"T1"}`)
	if resp.StatusCode != http.StatusOK || body["response"] != "answer" || body["session_id"] != "S1" {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, ts.URL+"/v1/chat", `{"query":" ","textbook_id":"T1"}`)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "Query cannot be empty." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodPost, ts.URL+"/v1/chat", `{"query":"q","textbook_id":"T1","session_id":"missing"}`)
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Chat session not found." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPost, ts.URL+"/v1/chat", `{`)
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed json, got %d", resp.StatusCode)
	}
}

func TestChatStreamWritesEvents(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Post(ts.URL+"/v1/chat/stream", "application/json", strings.NewReader(`{"query":"q","textbook_id":"T1"}`))
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "text/event-stream" {
		t.Errorf("unexpected content type %q", ct)
	}

	var frames []string
	sc := bufio.NewScanner(resp.Body)
	for sc.Scan() {
		if line := sc.Text(); strings.HasPrefix(line, "data: ") {
			frames = append(frames, strings.TrimPrefix(line, "data: "))
		}
	}
	want := []string{
		`{"session_id":"S1","sources":[]}`,
		`{"content":"Hello "}`,
		`{"content":"world"}`,
	}
	if len(frames) != len(want) {
		t.Fatalf("got frames %v", frames)
	}
	for i := range want {
		if frames[i] != want[i] {
			t.Errorf("frame %d: got %s, want %s", i, frames[i], want[i])
		}
	}
}

func TestChatStreamRejectsInvalidRequest(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/chat/stream", `{"query":"q"}`)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "textbook_id is required." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
}

func TestMessagesEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, err := http.Get(ts.URL + "/v1/chat/sessions/S1/messages")
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	var msgs []models.ChatMessage
	if err := json.NewDecoder(resp.Body).Decode(&msgs); err != nil {
		t.Fatal(err)
	}
	if len(msgs) != 1 || msgs[0].Content != "hi" {
		t.Errorf("unexpected messages %+v", msgs)
	}
	r2, _ := do(t, http.MethodGet, ts.URL+"/v1/chat/sessions/nope/messages", "")
	if r2.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", r2.StatusCode)
	}
}

func TestWriteJSONReportsEncodingFailure(t *testing.T) {
	rec := httptest.NewRecorder()
	writeJSON(rec, http.StatusOK, []models.Source{{ContentID: "x", RelevanceScore: math.NaN()}})
	if rec.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", rec.Code)
	}
	var body map[string]string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil || body["detail"] != "Failed to encode response" {
		t.Errorf("unexpected body %q (%v)", rec.Body.String(), err)
	}
}

// unencodableChat starts a stream whose first event cannot be encoded and
// reports whether the handler cancelled it.
type unencodableChat struct {
	fakeChat
	cancelled chan struct{}
}

func (c unencodableChat) Stream(ctx context.Context, req chat.Request) <-chan chat.Event {
	out := make(chan chat.Event)
	go func() {
		defer close(out)
		out <- chat.Event{Kind: chat.EventStart, SessionID: "S1", Sources: []models.Source{{RelevanceScore: math.NaN()}}}
		<-ctx.Done()
		close(c.cancelled)
	}()
	return out
}

func TestChatStreamCancelsAfterWriteFailure(t *testing.T) {
	svc := unencodableChat{cancelled: make(chan struct{})}
	s := NewServer(context.Background(), Deps{
		Library:   fakeLibrary{},
		Generator: &fakeGenerator{},
		Indexer:   fakeIndexer{},
		Searcher:  fakeSearcher{},
		Chat:      svc,
	})
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/stream", strings.NewReader(`{"query":"q","textbook_id":"T1"}`))
	rec := httptest.NewRecorder()
	s.ServeHTTP(rec, req)

	select {
	case <-svc.cancelled:
	default:
		t.Fatal("expected the stream context to be cancelled")
	}
	if strings.Contains(rec.Body.String(), "data: ") {
		t.Errorf("expected no frames, got %q", rec.Body.String())
	}
}

type deletingLibrary struct {
	fakeLibrary
	log *[]string
}

func (l deletingLibrary) DeleteTextbook(ctx context.Context, id string) error {
	*l.log = append(*l.log, "rows:"+id)
	return nil
}

type forgettingIndexer struct {
	fakeIndexer
	log *[]string
}

func (ix forgettingIndexer) Forget(ctx context.Context, id string) error {
	*ix.log = append(*ix.log, "vectors:"+id)
	return nil
}

func TestDeleteTextbookRemovesVectors(t *testing.T) {
	var calls []string
	s := NewServer(context.Background(), Deps{
		Library:   deletingLibrary{log: &calls},
		Generator: &fakeGenerator{},
		Indexer:   forgettingIndexer{log: &calls},
		Searcher:  fakeSearcher{},
		Chat:      fakeChat{},
	})
	ts := httptest.NewServer(s)
	defer ts.Close()

	resp, body := do(t, http.MethodDelete, ts.URL+"/v1/textbooks/T1", "")
	if resp.StatusCode != http.StatusOK || body["message"] != "Textbook deleted successfully" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	if len(calls) != 2 || calls[0] != "vectors:T1" || calls[1] != "rows:T1" {
		t.Errorf("expected vectors then rows to be removed, got %v", calls)
	}

	calls = nil
	resp, _ = do(t, http.MethodDelete, ts.URL+"/v1/textbooks/nope", "")
	if resp.StatusCode != http.StatusNotFound || len(calls) != 0 {
		t.Errorf("expected 404 without side effects, got %d %v", resp.StatusCode, calls)
	}
}

func TestUpdateTextbookEndpoint(t *testing.T) {
	ts, _, _ := newTestServer(t)
	resp, body := do(t, http.MethodPut, ts.URL+"/v1/textbooks/T1", `{"title":"Renamed"}`)
	if resp.StatusCode != http.StatusOK || body["title"] != "Renamed" {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, _ = do(t, http.MethodPut, ts.URL+"/v1/textbooks/nope", `{"title":"x"}`)
	if resp.StatusCode != http.StatusNotFound {
		t.Errorf("expected 404, got %d", resp.StatusCode)
	}
}

func TestParameterEndpoints(t *testing.T) {
	ts, _, _ := newTestServer(t)
	payload := `{"name":"bio","description":"intro","parameters":{"subject_area":"Biology","target_audience":"High School","chapter_topics":["Cells"]}}`
	resp, body := do(t, http.MethodPost, ts.URL+"/v1/parameters", payload)
	if resp.StatusCode != http.StatusOK || body["name"] != "bio" {
		t.Fatalf("unexpected response %d %v", resp.StatusCode, body)
	}
	id, _ := body["id"].(string)

	resp, body = do(t, http.MethodPost, ts.URL+"/v1/parameters", payload)
	if resp.StatusCode != http.StatusBadRequest || body["detail"] != "Parameter set with this name already exists." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodGet, ts.URL+"/v1/parameters/"+id, "")
	params, _ := body["parameters"].(map[string]any)
	if resp.StatusCode != http.StatusOK || params["subject_area"] != "Biology" {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/v1/parameters/name/bio", "")
	if resp.StatusCode != http.StatusOK || body["id"] != id {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}
	resp, body = do(t, http.MethodGet, ts.URL+"/v1/parameters/name/none", "")
	if resp.StatusCode != http.StatusNotFound || body["detail"] != "Parameter set not found." {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}

	resp, body = do(t, http.MethodPut, ts.URL+"/v1/parameters/"+id, `{"description":"updated"}`)
	if resp.StatusCode != http.StatusOK || body["description"] != "updated" {
		t.Errorf("unexpected response %d %v", resp.StatusCode, body)
	}

	listResp, err := http.Get(ts.URL + "/v1/parameters?limit=10")
	if err != nil {
		t.Fatal(err)
	}
	defer listResp.Body.Close()
	var sets []models.ParameterSet
	if err := json.NewDecoder(listResp.Body).Decode(&sets); err != nil || len(sets) != 1 {
		t.Errorf("expected one saved set, got %v (%v)", sets, err)
	}
	resp, _ = do(t, http.MethodGet, ts.URL+"/v1/parameters?skip=-1", "")
	if resp.StatusCode != http.StatusBadRequest {
		t.Errorf("expected 400 for a negative skip, got %d", resp.StatusCode)
	}
}
