// Package api exposes textbook generation, indexing, search and chat over HTTP.
package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/chat"
	"textbook-rag/internal/indexing"
	"textbook-rag/internal/models"
)

type Generator interface {
	Create(ctx context.Context, req models.GenerateTextbookRequest) (models.Textbook, models.GenerateTextbookRequest, error)
	Run(ctx context.Context, tb models.Textbook, req models.GenerateTextbookRequest) error
	Status(ctx context.Context, id string) (models.GenerationStatus, error)
}

type Indexer interface {
	IndexTextbook(ctx context.Context, textbookID string) (*indexing.Report, error)
	Forget(ctx context.Context, textbookID string) error
}

type Searcher interface {
	Search(ctx context.Context, query, textbookID string, limit int) ([]models.SearchResult, error)
}

type Chatter interface {
	Chat(ctx context.Context, req chat.Request) (*chat.Response, error)
	Stream(ctx context.Context, req chat.Request) <-chan chat.Event
}

// Library is the textbook side of the relational store.
type Library interface {
	ListTextbooks(ctx context.Context) ([]models.Textbook, error)
	GetTextbook(ctx context.Context, id string) (models.Textbook, error)
	UpdateTextbook(ctx context.Context, id string, upd models.TextbookUpdate) (models.Textbook, error)
	DeleteTextbook(ctx context.Context, id string) error
	ListChapters(ctx context.Context, textbookID string) ([]models.Chapter, error)
	ListMessages(ctx context.Context, sessionID string) ([]models.ChatMessage, error)
}

// ParameterStore keeps named generation requests.
type ParameterStore interface {
	SaveParameterSet(ctx context.Context, ps models.ParameterSet) (models.ParameterSet, error)
	GetParameterSet(ctx context.Context, id string) (models.ParameterSet, error)
	GetParameterSetByName(ctx context.Context, name string) (models.ParameterSet, error)
	ListParameterSets(ctx context.Context, offset, limit int) ([]models.ParameterSet, error)
	UpdateParameterSet(ctx context.Context, id string, upd models.ParameterSetUpdate) (models.ParameterSet, error)
}

type Deps struct {
	Library    Library
	Parameters ParameterStore
	Generator  Generator
	Indexer    Indexer
	Searcher   Searcher
	Chat       Chatter
}

type Server struct {
	deps    Deps
	mux     *http.ServeMux
	handler http.Handler

	// base outlives single requests; background generations run under it.
	base context.Context
	wg   sync.WaitGroup
}

func NewServer(base context.Context, deps Deps) *Server {
	s := &Server{deps: deps, mux: http.NewServeMux(), base: base}
	s.routes()
	s.handler = enableCORS(s.mux)
	return s
}

func (s *Server) routes() {
	s.mux.HandleFunc("GET /v1/health", s.handleHealth)
	s.mux.HandleFunc("GET /v1/textbooks", s.handleListTextbooks)
	s.mux.HandleFunc("GET /v1/textbooks/{id}", s.handleGetTextbook)
	s.mux.HandleFunc("PUT /v1/textbooks/{id}", s.handleUpdateTextbook)
	s.mux.HandleFunc("DELETE /v1/textbooks/{id}", s.handleDeleteTextbook)
	s.mux.HandleFunc("GET /v1/textbooks/{id}/chapters", s.handleListChapters)
	s.mux.HandleFunc("POST /v1/textbooks/generate", s.handleGenerate)
	s.mux.HandleFunc("GET /v1/textbooks/{id}/status", s.handleStatus)
	s.mux.HandleFunc("POST /v1/index", s.handleIndex)
	s.mux.HandleFunc("GET /v1/search", s.handleSearch)
	s.mux.HandleFunc("POST /v1/chat", s.handleChat)
	s.mux.HandleFunc("POST /v1/chat/stream", s.handleChatStream)
	s.mux.HandleFunc("GET /v1/chat/sessions/{id}/messages", s.handleMessages)
	s.mux.HandleFunc("POST /v1/parameters", s.handleSaveParameters)
	s.mux.HandleFunc("GET /v1/parameters", s.handleListParameters)
	s.mux.HandleFunc("GET /v1/parameters/{id}", s.handleGetParameters)
	s.mux.HandleFunc("GET /v1/parameters/name/{name}", s.handleGetParametersByName)
	s.mux.HandleFunc("PUT /v1/parameters/{id}", s.handleUpdateParameters)
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
	s.handler.ServeHTTP(rec, r)
	log.Info().
		Str("method", r.Method).
		Str("path", r.URL.Path).
		Int("status", rec.status).
		Dur("duration", time.Since(start)).
		Msg("Handled request")
}

// Wait blocks until background generations have finished.
func (s *Server) Wait() { s.wg.Wait() }

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
}

func (s *Server) handleListTextbooks(w http.ResponseWriter, r *http.Request) {
	tbs, err := s.deps.Library.ListTextbooks(r.Context())
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tbs)
}

func (s *Server) handleGetTextbook(w http.ResponseWriter, r *http.Request) {
	tb, err := s.deps.Library.GetTextbook(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tb)
}

func (s *Server) handleUpdateTextbook(w http.ResponseWriter, r *http.Request) {
	var upd models.TextbookUpdate
	if !decode(w, r, &upd) {
		return
	}
	tb, err := s.deps.Library.UpdateTextbook(r.Context(), r.PathValue("id"), upd)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, tb)
}

// handleDeleteTextbook removes the vectors first so a failure leaves the
// textbook in place for a retry.
func (s *Server) handleDeleteTextbook(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Library.GetTextbook(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Indexer.Forget(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	if err := s.deps.Library.DeleteTextbook(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	log.Info().Str("textbook_id", id).Msg("Deleted textbook")
	writeJSON(w, http.StatusOK, map[string]string{"message": "Textbook deleted successfully"})
}

func (s *Server) handleListChapters(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if _, err := s.deps.Library.GetTextbook(r.Context(), id); err != nil {
		writeError(w, err)
		return
	}
	chapters, err := s.deps.Library.ListChapters(r.Context(), id)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, chapters)
}

func (s *Server) handleGenerate(w http.ResponseWriter, r *http.Request) {
	var req models.GenerateTextbookRequest
	if !decode(w, r, &req) {
		return
	}
	tb, req, err := s.deps.Generator.Create(r.Context(), req)
	if err != nil {
		writeError(w, err)
		return
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.deps.Generator.Run(s.base, tb, req); err != nil {
			log.Error().Err(err).Str("textbook_id", tb.ID).Msg("Background generation failed")
		}
	}()

	log.Info().Str("textbook_id", tb.ID).Msg("Queued textbook generation")
	writeJSON(w, http.StatusAccepted, models.GenerateTextbookResponse{TextbookID: tb.ID, Status: "queued"})
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	st, err := s.deps.Generator.Status(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

type indexRequest struct {
	TextbookID string `json:"textbook_id"`
}

type indexResponse struct {
	Message string `json:"message"`
	*indexing.Report
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	var req indexRequest
	if !decode(w, r, &req) {
		return
	}
	if req.TextbookID == "" {
		writeError(w, apperr.InvalidRequest("textbook_id is required."))
		return
	}
	report, err := s.deps.Indexer.IndexTextbook(r.Context(), req.TextbookID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, indexResponse{
		Message: fmt.Sprintf("Indexing for textbook_id %s completed successfully.", req.TextbookID),
		Report:  report,
	})
}

func (s *Server) handleSearch(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	textbookID := q.Get("textbook_id")
	if textbookID == "" {
		writeError(w, apperr.InvalidRequest("textbook_id is required."))
		return
	}
	limit := 0
	if v := q.Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 0 {
			writeError(w, apperr.InvalidRequest("limit must be a non-negative integer."))
			return
		}
		limit = n
	}
	results, err := s.deps.Searcher.Search(r.Context(), q.Get("q"), textbookID, limit)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, results)
}

func (s *Server) handleChat(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decode(w, r, &req) {
		return
	}
	resp, err := s.deps.Chat.Chat(r.Context(), req)
	if err != nil {
		msg, code := chat.ErrorDetail(err)
		log.Error().Err(err).Str("textbook_id", req.TextbookID).Msg("Chat query failed")
		writeJSON(w, code, errorBody{Detail: msg})
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleChatStream(w http.ResponseWriter, r *http.Request) {
	var req chat.Request
	if !decode(w, r, &req) {
		return
	}
	if err := chat.Validate(req); err != nil {
		writeError(w, err)
		return
	}
	sse, err := newSSEWriter(w)
	if err != nil {
		writeError(w, err)
		return
	}
	// A failed write cancels the stream so the unsent answer is not stored.
	// The channel is still drained until the producer exits.
	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	broken := false
	for ev := range s.deps.Chat.Stream(ctx, req) {
		if broken {
			continue
		}
		if err := sse.Send(ev); err != nil {
			log.Warn().Err(err).Str("textbook_id", req.TextbookID).Msg("Chat stream write failed")
			broken = true
			cancel()
		}
	}
}

func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	msgs, err := s.deps.Library.ListMessages(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, msgs)
}

type errorBody struct {
	Detail string `json:"detail"`
}

// writeJSON encodes v before the status line goes out, so an encoding
// failure can still be reported as a 500.
func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
		status = http.StatusInternalServerError
		data, _ = json.Marshal(errorBody{Detail: "Failed to encode response"})
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(append(data, '\n')); err != nil {
		log.Warn().Err(err).Msg("Failed to write response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	code := apperr.StatusCode(err)
	if code >= http.StatusInternalServerError {
		log.Error().Err(err).Int("status", code).Msg("Request failed")
	}
	writeJSON(w, code, errorBody{Detail: apperr.Message(err)})
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		writeError(w, apperr.InvalidRequest(fmt.Sprintf("Invalid request body: %v", err)))
		return false
	}
	return true
}

func enableCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

// Flush keeps server-sent events working through the recorder.
func (r *statusRecorder) Flush() {
	if f, ok := r.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
