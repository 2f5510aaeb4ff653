// Package vectorindex defines the vector store contract shared by the
// chromem, qdrant and pgvector backends and applies the failure policy.
package vectorindex

import (
	"context"
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/rs/zerolog/log"

	"textbook-rag/internal/apperr"
	"textbook-rag/internal/models"
)

// Backend is a store of (vector, payload) points in one collection.
type Backend interface {
	Name() string
	EnsureCollection(ctx context.Context, dimension int) error
	Upsert(ctx context.Context, points []models.Point) error
	Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error)
	Delete(ctx context.Context, filter models.Filter) error
}

type Options struct {
	Dimension int
	Timeout   time.Duration
	// DegradeOnError turns Search and Delete backend failures into empty
	// results instead of errors.
	DegradeOnError bool
}

// Index validates calls and bounds them in time before they reach the backend.
type Index struct {
	backend Backend
	opts    Options
}

func New(backend Backend, opts Options) *Index {
	return &Index{backend: backend, opts: opts}
}

func (ix *Index) Backend() Backend { return ix.backend }
func (ix *Index) Dimension() int   { return ix.opts.Dimension }

// EnsureCollection creates the collection if needed. It is safe to call repeatedly.
func (ix *Index) EnsureCollection(ctx context.Context) error {
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	if err := ix.backend.EnsureCollection(ctx, ix.opts.Dimension); err != nil {
		return apperr.Upstream(ix.backend.Name()+" ensure collection", err)
	}
	return nil
}

// Upsert stores points. Points are checked for unique non-empty ids and the
// configured dimension before anything is written.
func (ix *Index) Upsert(ctx context.Context, points []models.Point) error {
	if len(points) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(points))
	for i, p := range points {
		if p.ID == "" {
			return apperr.InvalidRequest(fmt.Sprintf("point %d has an empty id", i))
		}
		if _, dup := seen[p.ID]; dup {
			return apperr.InvalidRequest(fmt.Sprintf("duplicate point id %s", p.ID))
		}
		seen[p.ID] = struct{}{}
		if ix.opts.Dimension > 0 && len(p.Vector()) != ix.opts.Dimension {
			return apperr.InvalidRequest(fmt.Sprintf("point %s has dimension %d, expected %d", p.ID, len(p.Vector()), ix.opts.Dimension))
		}
	}

	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()
	if err := ix.backend.Upsert(ctx, points); err != nil {
		return apperr.Upstream(ix.backend.Name()+" upsert", err)
	}
	return nil
}

// Search returns at most limit results matching filter, best first. A
// zero-norm query matches nothing.
func (ix *Index) Search(ctx context.Context, vector []float32, filter models.Filter, limit int) ([]models.SearchResult, error) {
	if limit <= 0 {
		limit = models.DefaultSearchLimit
	}
	if zeroNorm(vector) {
		return []models.SearchResult{}, nil
	}
	sctx, cancel := ix.withTimeout(ctx)
	defer cancel()

	results, err := ix.backend.Search(sctx, vector, filter, limit)
	if err != nil {
		if derr := ix.degrade("search", filter, err); derr != nil {
			return nil, derr
		}
		return []models.SearchResult{}, nil
	}

	kept := make([]models.SearchResult, 0, len(results))
	for _, r := range results {
		if !filter.Matches(r) {
			continue
		}
		if math.IsNaN(r.Score) || math.IsInf(r.Score, 0) {
			r.Score = 0
		}
		kept = append(kept, r)
	}
	sort.SliceStable(kept, func(i, j int) bool { return kept[i].Score > kept[j].Score })
	if len(kept) > limit {
		kept = kept[:limit]
	}
	return kept, nil
}

// Delete removes every point matching filter. It reports false when the
// backend failed and the failure was degraded.
func (ix *Index) Delete(ctx context.Context, filter models.Filter) (bool, error) {
	if len(filter) == 0 {
		return false, apperr.InvalidRequest("delete requires a filter")
	}
	ctx, cancel := ix.withTimeout(ctx)
	defer cancel()

	if err := ix.backend.Delete(ctx, filter); err != nil {
		return false, ix.degrade("delete", filter, err)
	}
	return true, nil
}

// degrade applies the configured failure policy to a Search or Delete error.
// It returns nil when the failure is tolerated.
func (ix *Index) degrade(op string, filter models.Filter, err error) error {
	wrapped := apperr.Upstream(ix.backend.Name()+" "+op, err)
	if !ix.opts.DegradeOnError {
		return wrapped
	}
	log.Warn().Err(wrapped).Str("backend", ix.backend.Name()).Interface("filter", filter).
		Msgf("Vector %s failed, continuing with empty result", op)
	return nil
}

func (ix *Index) withTimeout(ctx context.Context) (context.Context, context.CancelFunc) {
	if ix.opts.Timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, ix.opts.Timeout)
}

func zeroNorm(v []float32) bool {
	for _, x := range v {
		if x != 0 {
			return false
		}
	}
	return true
}
