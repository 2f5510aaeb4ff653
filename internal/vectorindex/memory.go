package vectorindex

import (
	"context"
	"sort"
	"sync"

	"textbook-rag/internal/embedding"
	"textbook-rag/internal/models"
)

// Memory is an in-process Backend using exact cosine search. It backs tests
// and short-lived CLI runs.
type Memory struct {
	mu     sync.RWMutex
	points map[string]models.Point
	// Err, when set, is returned by every call.
	Err error
}

func NewMemory() *Memory {
	return &Memory{points: make(map[string]models.Point)}
}

func (m *Memory) Name() string { return "memory" }

func (m *Memory) EnsureCollection(ctx context.Context, dimension int) error {
	return m.Err
}

func (m *Memory) Upsert(ctx context.Context, points []models.Point) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range points {
		m.points[p.ID] = p
	}
	return nil
}

func (m *Memory) Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	var results []models.SearchResult
	for _, p := range m.points {
		r := resultOf(p, embedding.Cosine(vector, p.Vector()))
		if filter.Matches(r) {
			results = append(results, r)
		}
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if len(results) > limit {
		results = results[:limit]
	}
	return results, nil
}

func (m *Memory) Delete(ctx context.Context, filter models.Filter) error {
	if m.Err != nil {
		return m.Err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, p := range m.points {
		if filter.Matches(resultOf(p, 0)) {
			delete(m.points, id)
		}
	}
	return nil
}

// Len returns the number of stored points.
func (m *Memory) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.points)
}

// Points returns a copy of the stored points.
func (m *Memory) Points() []models.Point {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]models.Point, 0, len(m.points))
	for _, p := range m.points {
		out = append(out, p)
	}
	return out
}

func resultOf(p models.Point, score float64) models.SearchResult {
	return models.SearchResultFromPayload(p.Chunk.Payload(), p.Chunk.Text, score)
}
