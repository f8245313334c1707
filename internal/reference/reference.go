// Package reference opens read-only secondary indexes and merges their
// search results into a primary query, down-weighted and tagged with
// the reference's name. References are never written through: a
// reference store is opened, searched, and closed, never mutated.
package reference

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/jamie8johnson/cqs/internal/config"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/search"
	"github.com/jamie8johnson/cqs/internal/store"
	"github.com/jamie8johnson/cqs/internal/vectorindex"
)

// storeFile and vectorName are the fixed file names a reference
// directory is expected to hold, matching the primary index layout.
const (
	storeFile  = "cqs.db"
	vectorName = "vectors"
)

// Result is a search.SearchResult tagged with the reference it came from
// and the down-weighted score it was merged at.
type Result struct {
	*search.SearchResult
	Source        string  // the configured reference name
	MergedScore   float64 // Score * the reference's configured weight
	CorrelationID string  // unique per merge call, for log correlation
}

// Reference is one opened, read-only secondary index.
type Reference struct {
	Name   string
	Weight float64
	engine *search.Engine
	store  *store.Store
	vector *vectorindex.Index
}

// Open opens every configured reference. A reference whose files are
// missing or whose schema doesn't match the running embedder is skipped
// with a logged warning rather than failing the whole search path:
// references are supplementary, never load-bearing.
func Open(ctx context.Context, configs []config.ReferenceConfig, embedder embed.Embedder, engineConfig search.EngineConfig, log *slog.Logger) ([]*Reference, error) {
	if log == nil {
		log = slog.Default()
	}
	refs := make([]*Reference, 0, len(configs))
	for _, c := range configs {
		ref, err := openOne(ctx, c, embedder, engineConfig, log)
		if err != nil {
			log.Warn("skipping reference index", "name", c.Name, "path", c.Path, "error", err)
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func openOne(ctx context.Context, c config.ReferenceConfig, embedder embed.Embedder, engineConfig search.EngineConfig, log *slog.Logger) (*Reference, error) {
	if c.Weight <= 0 {
		return nil, fmt.Errorf("reference %q: weight must be positive", c.Name)
	}
	st, err := store.Open(filepath.Join(c.Path, storeFile), embedder.ModelName(), embedder.Dimensions(), log.With("reference", c.Name))
	if err != nil {
		return nil, fmt.Errorf("reference %q: open store: %w", c.Name, err)
	}
	vec, err := vectorindex.Load(c.Path, vectorName)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reference %q: load vector index: %w", c.Name, err)
	}
	engine, err := search.NewEngine(st, vec, embedder, engineConfig)
	if err != nil {
		_ = st.Close()
		return nil, fmt.Errorf("reference %q: build engine: %w", c.Name, err)
	}
	return &Reference{Name: c.Name, Weight: c.Weight, engine: engine, store: st, vector: vec}, nil
}

// Close releases every reference's store and vector index handles.
func Close(refs []*Reference) {
	for _, r := range refs {
		_ = r.store.Close()
		_ = r.vector.Close()
	}
}

// Merge runs query against every reference in parallel, down-weights
// each hit's score by the reference's configured weight, and tags it
// with the reference's name. The returned slice is unsorted; callers
// merge it into the primary result list before truncating to limit.
//
// Per-call results share a CorrelationID so a single merge operation can
// be traced across every reference's log lines.
func Merge(ctx context.Context, refs []*Reference, query string, opts search.SearchOptions) ([]Result, error) {
	if len(refs) == 0 {
		return nil, nil
	}
	correlationID := uuid.New().String()

	perRef := make([][]Result, len(refs))
	g, gctx := errgroup.WithContext(ctx)
	for i, ref := range refs {
		i, ref := i, ref
		g.Go(func() error {
			hits, err := ref.engine.Search(gctx, query, opts)
			if err != nil {
				return fmt.Errorf("reference %q: search: %w", ref.Name, err)
			}
			out := make([]Result, len(hits))
			for j, h := range hits {
				out[j] = Result{
					SearchResult:  h,
					Source:        ref.Name,
					MergedScore:   h.Score * ref.Weight,
					CorrelationID: correlationID,
				}
			}
			perRef[i] = out
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	var merged []Result
	for _, out := range perRef {
		merged = append(merged, out...)
	}
	return merged, nil
}
