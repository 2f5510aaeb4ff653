// Package qdrant is a minimal REST client for a Qdrant collection.
package qdrant

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/models"
)

type Config struct {
	URL        string
	APIKey     string
	Collection string
	Timeout    time.Duration
}

// Storage stores points in one collection with cosine distance.
type Storage struct {
	url        string
	apiKey     string
	collection string
	client     *http.Client
}

func NewStorage(cfg Config) *Storage {
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 15 * time.Second
	}
	return &Storage{
		url:        cfg.URL,
		apiKey:     cfg.APIKey,
		collection: cfg.Collection,
		client:     &http.Client{Timeout: timeout},
	}
}

func (s *Storage) Name() string { return "qdrant" }

// EnsureCollection creates the collection and a keyword index on textbook_id.
// A failed existence check is treated as a missing collection.
func (s *Storage) EnsureCollection(ctx context.Context, dimension int) error {
	if dimension <= 0 {
		return errors.New("invalid dimension")
	}
	err := s.do(ctx, http.MethodGet, s.collectionURL(""), nil, nil)
	if err == nil {
		return nil
	}
	log.Debug().Err(err).Str("collection", s.collection).Msg("Collection lookup failed, creating it")

	body := map[string]any{
		"vectors": map[string]any{
			"size":     dimension,
			"distance": "Cosine",
		},
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL(""), body, nil); err != nil {
		return err
	}
	index := map[string]any{
		"field_name":   models.FieldTextbookID,
		"field_schema": "keyword",
	}
	if err := s.do(ctx, http.MethodPut, s.collectionURL("/index?wait=true"), index, nil); err != nil {
		return err
	}
	log.Info().Str("collection", s.collection).Int("dimension", dimension).Msg("Created qdrant collection")
	return nil
}

type point struct {
	ID      string    `json:"id"`
	Vector  []float32 `json:"vector"`
	Payload payload   `json:"payload"`
}

type payload struct {
	ContentID   string               `json:"content_id"`
	ContentType string               `json:"content_type"`
	TextbookID  string               `json:"textbook_id"`
	ChapterID   string               `json:"chapter_id"`
	Text        string               `json:"text"`
	Metadata    models.ChunkMetadata `json:"metadata"`
}

func (s *Storage) Upsert(ctx context.Context, points []models.Point) error {
	body := struct {
		Points []point `json:"points"`
	}{Points: make([]point, 0, len(points))}
	for _, p := range points {
		c := p.Chunk
		body.Points = append(body.Points, point{
			ID:     p.ID,
			Vector: p.Vector(),
			Payload: payload{
				ContentID:   c.ContentID,
				ContentType: c.ContentType,
				TextbookID:  c.TextbookID,
				ChapterID:   c.ChapterID,
				Text:        c.Text,
				Metadata:    c.Metadata,
			},
		})
	}
	return s.do(ctx, http.MethodPut, s.collectionURL("/points?wait=true"), body, nil)
}

func (s *Storage) Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error) {
	req := map[string]any{
		"vector":       vector,
		"limit":        limit,
		"with_payload": true,
	}
	if f := mustFilter(filter); f != nil {
		req["filter"] = f
	}
	var resp struct {
		Result []struct {
			Score   float64 `json:"score"`
			Payload payload `json:"payload"`
		} `json:"result"`
	}
	if err := s.do(ctx, http.MethodPost, s.collectionURL("/points/search"), req, &resp); err != nil {
		return nil, err
	}
	results := make([]models.SearchResult, 0, len(resp.Result))
	for _, r := range resp.Result {
		results = append(results, models.SearchResult{
			ContentID:   r.Payload.ContentID,
			ContentType: r.Payload.ContentType,
			TextbookID:  r.Payload.TextbookID,
			ChapterID:   r.Payload.ChapterID,
			Text:        r.Payload.Text,
			Metadata:    r.Payload.Metadata,
			Score:       r.Score,
		})
	}
	return results, nil
}

func (s *Storage) Delete(ctx context.Context, filter models.Filter) error {
	body := map[string]any{"filter": mustFilter(filter)}
	return s.do(ctx, http.MethodPost, s.collectionURL("/points/delete?wait=true"), body, nil)
}

// mustFilter builds a Qdrant filter requiring every field to match exactly.
// chunk_index is stored as a number inside metadata.
func mustFilter(filter models.Filter) map[string]any {
	if len(filter) == 0 {
		return nil
	}
	must := make([]map[string]any, 0, len(filter))
	for k, v := range filter {
		key := k
		var value any = v
		switch k {
		case models.FieldTitle, models.FieldChapterTitle:
			key = "metadata." + k
		case models.FieldChunkIndex:
			key = "metadata." + k
			if n, err := strconv.Atoi(v); err == nil {
				value = n
			}
		}
		must = append(must, map[string]any{"key": key, "match": map[string]any{"value": value}})
	}
	return map[string]any{"must": must}
}

func (s *Storage) collectionURL(suffix string) string {
	return fmt.Sprintf("%s/collections/%s%s", s.url, s.collection, suffix)
}

func (s *Storage) do(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode qdrant request: %w", err)
		}
		rdr = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if s.apiKey != "" {
		req.Header.Set("api-key", s.apiKey)
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("qdrant %s %s failed: %s %s", method, url, resp.Status, bytes.TrimSpace(msg))
	}
	if out != nil {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}
