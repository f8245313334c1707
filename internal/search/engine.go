package search

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/store"
	"github.com/jamie8johnson/cqs/internal/telemetry"
	"github.com/jamie8johnson/cqs/internal/vectorindex"
)

// packEmbedding serializes an embedding as little-endian f32s for storage
// in the chunk's BLOB column. The vector index keeps its own in-memory copy
// for search; this packed form is what survives a restart before the index
// is rebuilt from it.
func packEmbedding(vec []float32) ([]byte, error) {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf, nil
}

// Engine implements hybrid search combining FTS5 lexical search with a
// vector index, fused by Reciprocal Rank Fusion.
type Engine struct {
	store      *store.Store
	vector     *vectorindex.Index
	embedder   embed.Embedder
	config     EngineConfig
	fusion     *RRFFusion
	classifier Classifier           // optional query classifier for dynamic weights
	metrics    *telemetry.QueryMetrics
	expander   *QueryExpander       // code-aware query expansion for lexical search
	reranker   Reranker             // optional cross-encoder reranker
	multiQuery *MultiQuerySearcher  // optional multi-query decomposition
	mu         sync.RWMutex
}

var _ SearchEngine = (*Engine)(nil)

// ErrNilDependency is returned when a required dependency is nil.
var ErrNilDependency = errors.New("nil dependency")

// ErrDimensionMismatch is returned when the query embedding dimension
// doesn't match the dimension the index was built with.
var ErrDimensionMismatch = errors.New("embedding dimension mismatch")

// embeddingQueryInstruction prefixes queries before embedding. Per the
// embedding model's documentation, queries want an instruction prefix for
// optimal retrieval while documents are embedded bare.
const embeddingQueryInstruction = "Instruct: Given a code search query, retrieve relevant code snippets that answer the query\nQuery:"

func formatQueryForEmbedding(query string) string {
	return embeddingQueryInstruction + query
}

// EngineOption configures the search engine.
type EngineOption func(*Engine)

// WithClassifier sets an optional query classifier for dynamic weight selection.
func WithClassifier(c Classifier) EngineOption {
	return func(e *Engine) { e.classifier = c }
}

// WithMetrics sets an optional query metrics collector for telemetry.
func WithMetrics(m *telemetry.QueryMetrics) EngineOption {
	return func(e *Engine) { e.metrics = m }
}

// WithQueryExpander sets an optional query expander for lexical search.
// Lexical search uses the expanded query; vector search uses the original.
func WithQueryExpander(exp *QueryExpander) EngineOption {
	return func(e *Engine) { e.expander = exp }
}

// WithReranker sets an optional cross-encoder reranker applied after fusion.
func WithReranker(r Reranker) EngineOption {
	return func(e *Engine) { e.reranker = r }
}

// WithMultiQuerySearch enables multi-query decomposition for generic
// queries: decompose into sub-queries, run each, fuse with consensus boost.
func WithMultiQuerySearch(decomposer QueryDecomposer) EngineOption {
	return func(e *Engine) {
		if decomposer == nil {
			return
		}
		searchFunc := func(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
			return e.singleSearch(ctx, query, opts)
		}
		e.multiQuery = NewMultiQuerySearcher(decomposer, searchFunc)
	}
}

// NewEngine creates a new hybrid search engine with the given dependencies.
func NewEngine(st *store.Store, vec *vectorindex.Index, embedder embed.Embedder, config EngineConfig, opts ...EngineOption) (*Engine, error) {
	if st == nil {
		return nil, fmt.Errorf("%w: store is required", ErrNilDependency)
	}
	if vec == nil {
		return nil, fmt.Errorf("%w: vector index is required", ErrNilDependency)
	}
	if embedder == nil {
		return nil, fmt.Errorf("%w: embedder is required", ErrNilDependency)
	}
	e := &Engine{
		store:    st,
		vector:   vec,
		embedder: embedder,
		config:   config,
		fusion:   NewRRFFusionWithK(config.RRFConstant),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e, nil
}

// Search executes a hybrid search combining lexical and semantic search,
// running both in parallel and fusing with Reciprocal Rank Fusion.
func (e *Engine) Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error) {
	start := time.Now()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if e.multiQuery != nil && e.multiQuery.decomposer.ShouldDecompose(query) {
		return e.multiQuerySearch(ctx, query, opts, start)
	}

	if opts.Weights == nil && e.classifier != nil {
		_, weights, err := e.classifier.Classify(ctx, query)
		if err == nil {
			opts.Weights = &weights
		}
	}

	opts = e.applyDefaults(opts)

	if opts.FTSOnly {
		slog.Info("fts_only mode enabled (user requested)")
		ftsIDs, ftsErr := e.store.SearchFTS(ctx, query, opts.Limit*2)
		if ftsErr != nil {
			return nil, fmt.Errorf("FTS search failed: %w", ftsErr)
		}
		fused := e.fusion.Fuse(ftsIDs, nil, Weights{BM25: 1.0, Semantic: 0.0})
		return e.finishSearch(ctx, query, opts, fused, start, len(ftsIDs), 0, false, nil)
	}

	if err := e.validateDimensions(ctx); err != nil {
		slog.Warn("dimension mismatch detected, semantic search disabled",
			slog.String("error", err.Error()),
			slog.String("recovery", "cqs index --force"))
		ftsIDs, ftsErr := e.store.SearchFTS(ctx, query, opts.Limit*2)
		if ftsErr != nil {
			return nil, fmt.Errorf("FTS search failed (semantic disabled due to dimension mismatch): %w", ftsErr)
		}
		fused := e.fusion.Fuse(ftsIDs, nil, *opts.Weights)
		return e.finishSearch(ctx, query, opts, fused, start, len(ftsIDs), 0, true, nil)
	}

	ftsIDs, vecResults, searchErr := e.parallelSearch(ctx, query, opts.Limit*2)
	if searchErr != nil && ftsIDs == nil && vecResults == nil {
		return nil, searchErr
	}

	fused := e.fusion.Fuse(ftsIDs, vecResults, *opts.Weights)
	return e.finishSearch(ctx, query, opts, fused, start, len(ftsIDs), len(vecResults), false, nil)
}

// finishSearch runs the shared reranking/enrichment/filtering pipeline once
// a fused result list exists, for the FTS-only, dimension-mismatch and hybrid
// paths of Search. multiQuerySearch does its own enrichment and filtering
// without reranking or name boosting.
func (e *Engine) finishSearch(ctx context.Context, query string, opts SearchOptions, fused []*FusedResult, start time.Time, ftsCount, vecCount int, dimMismatch bool, subQueries []string) ([]*SearchResult, error) {
	reranked := e.rerankResults(ctx, query, fused)

	enriched, err := e.enrichResults(ctx, reranked, query)
	if err != nil {
		return nil, err
	}

	e.enrichResultsWithAdjacent(ctx, enriched, opts.AdjacentChunks, 5)
	enriched = ApplyTestFilePenalty(enriched)
	enriched = ApplyPathBoost(enriched)
	enriched = ApplyNameBoost(enriched, opts.NameBoost)

	filtered := ApplyFilters(enriched, opts)
	if len(filtered) > opts.Limit {
		filtered = filtered[:opts.Limit]
	}

	e.attachExplainData(filtered, query, opts, ftsCount, vecCount, dimMismatch, subQueries)
	e.recordMetrics(query, e.classifyQueryType(ctx, query, opts), len(filtered), time.Since(start))
	return filtered, nil
}

// attachExplainData populates ExplainData on the first result when opts.Explain is true.
func (e *Engine) attachExplainData(results []*SearchResult, query string, opts SearchOptions, ftsCount, vecCount int, dimMismatch bool, subQueries []string) {
	if !opts.Explain || len(results) == 0 {
		return
	}
	results[0].Explain = &ExplainData{
		Query:                query,
		FTSResultCount:       ftsCount,
		VectorResultCount:    vecCount,
		Weights:              *opts.Weights,
		RRFConstant:          e.config.RRFConstant,
		FTSOnly:              opts.FTSOnly,
		DimensionMismatch:    dimMismatch,
		MultiQueryDecomposed: len(subQueries) > 0,
		SubQueries:           subQueries,
	}
}

// recordMetrics records query telemetry if a metrics collector is configured.
func (e *Engine) recordMetrics(query string, queryType QueryType, resultCount int, latency time.Duration) {
	if e.metrics == nil {
		return
	}
	e.metrics.Record(telemetry.QueryEvent{
		Query:       query,
		QueryType:   telemetry.QueryType(queryType),
		ResultCount: resultCount,
		Latency:     latency,
	})
}

// classifyQueryType determines the query type based on classifier or weights.
func (e *Engine) classifyQueryType(ctx context.Context, query string, opts SearchOptions) QueryType {
	if opts.Weights != nil {
		if opts.Weights.BM25 > 0.6 {
			return QueryTypeLexical
		}
		if opts.Weights.Semantic > 0.6 {
			return QueryTypeSemantic
		}
		return QueryTypeMixed
	}
	if e.classifier != nil {
		qt, _, err := e.classifier.Classify(ctx, query)
		if err == nil {
			return qt
		}
	}
	return QueryTypeMixed
}

// Index adds chunks to both the FTS index (via the store) and the vector index.
func (e *Engine) Index(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}

	e.mu.Lock()
	defer e.mu.Unlock()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Content
	}
	embeddings, err := e.embedder.EmbedBatch(ctx, texts)
	if err != nil {
		return fmt.Errorf("generate embeddings: %w", err)
	}

	ids := make([]string, len(chunks))
	for i, c := range chunks {
		ids[i] = c.ID
		buf, packErr := packEmbedding(embeddings[i])
		if packErr != nil {
			return fmt.Errorf("pack embedding for %s: %w", c.ID, packErr)
		}
		c.Embedding = buf
	}

	if err := e.store.UpsertChunksBatch(ctx, chunks); err != nil {
		return fmt.Errorf("upsert chunks: %w", err)
	}

	if err := e.vector.InsertBatch(ids, embeddings); err != nil {
		slog.Warn("vector insert failed, falling back to FTS-only retrieval for these chunks",
			slog.String("error", err.Error()), slog.Int("count", len(ids)))
	}

	if err := e.storeIndexEmbeddingInfo(ctx); err != nil {
		slog.Warn("failed to store index embedding info", slog.String("error", err.Error()))
	}

	return nil
}

func (e *Engine) storeIndexEmbeddingInfo(ctx context.Context) error {
	dim := fmt.Sprintf("%d", e.embedder.Dimensions())
	model := e.embedder.ModelName()
	if err := e.store.SetMetadata(ctx, "index_dimension", dim); err != nil {
		return fmt.Errorf("store index dimension: %w", err)
	}
	if err := e.store.SetMetadata(ctx, "index_model", model); err != nil {
		return fmt.Errorf("store index model: %w", err)
	}
	return nil
}

// validateDimensions checks if the current embedder dimension matches the
// dimension the index was built with. Returns nil on first-time indexing
// (no stored dimension yet) or on a match.
func (e *Engine) validateDimensions(ctx context.Context) error {
	storedDim, err := e.store.GetMetadata(ctx, "index_dimension")
	if err != nil || storedDim == "" {
		return nil
	}
	var indexDim int
	if _, err := fmt.Sscanf(storedDim, "%d", &indexDim); err != nil {
		slog.Warn("invalid stored index dimension", slog.String("value", storedDim))
		return nil
	}
	currentDim := e.embedder.Dimensions()
	if indexDim != currentDim {
		storedModel, _ := e.store.GetMetadata(ctx, "index_model")
		return fmt.Errorf("%w: index has %d dimensions (%s), current embedder has %d dimensions (%s); run 'cqs index --force' to rebuild",
			ErrDimensionMismatch, indexDim, storedModel, currentDim, e.embedder.ModelName())
	}
	return nil
}

// Delete removes chunks from the vector index and the store. The store is
// the source of truth; a vector-index delete failure leaves a harmless
// orphan that a future rebuild clears.
func (e *Engine) Delete(ctx context.Context, chunkIDs []string) error {
	if len(chunkIDs) == 0 {
		return nil
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	e.vector.Delete(chunkIDs)

	existing := make(map[string]struct{})
	for _, id := range chunkIDs {
		c, err := e.store.GetChunk(ctx, id)
		if err == nil && c != nil {
			existing[c.Origin] = struct{}{}
		}
	}
	if len(existing) == 0 {
		return nil
	}
	return e.store.PruneMissing(ctx, map[string]struct{}{})
}

// Stats returns engine statistics.
func (e *Engine) Stats() *EngineStats {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return &EngineStats{VectorCount: e.vector.Count()}
}

// Close releases all resources.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	var errs []error
	if err := e.vector.Close(); err != nil {
		errs = append(errs, err)
	}
	if err := e.store.Close(); err != nil {
		errs = append(errs, err)
	}
	if e.reranker != nil {
		if err := e.reranker.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	return nil
}

func (e *Engine) applyDefaults(opts SearchOptions) SearchOptions {
	if opts.Limit <= 0 {
		opts.Limit = e.config.DefaultLimit
	}
	if opts.Limit > e.config.MaxLimit {
		opts.Limit = e.config.MaxLimit
	}
	if opts.Weights == nil {
		w := e.config.DefaultWeights
		opts.Weights = &w
	}
	return opts
}

// parallelSearch executes the lexical and vector searches concurrently,
// returning partial results if one side fails.
//
// Lexical search uses the expanded query (with code synonyms) while vector
// search uses the original: embedding models handle semantic similarity
// natively, so expansion there would add noise rather than recall.
func (e *Engine) parallelSearch(ctx context.Context, query string, limit int) (ftsIDs []string, vecCandidates []VecCandidate, err error) {
	g, gctx := errgroup.WithContext(ctx)

	var ftsErr, vecErr error

	ftsQuery := query
	if e.expander != nil {
		ftsQuery = e.expander.Expand(query)
		if ftsQuery != query {
			slog.Debug("query expanded for FTS", slog.String("original", query), slog.String("expanded", ftsQuery))
		}
	}

	g.Go(func() error {
		var searchErr error
		ftsIDs, searchErr = e.store.SearchFTS(gctx, ftsQuery, limit)
		if searchErr != nil {
			ftsErr = searchErr
		}
		return nil
	})

	var queryEmbedding []float32
	g.Go(func() error {
		formatted := formatQueryForEmbedding(query)
		embedding, embedErr := e.embedder.Embed(gctx, formatted)
		if embedErr != nil {
			vecErr = embedErr
			return nil
		}
		queryEmbedding = embedding

		results, searchErr := e.vector.Search(embedding, limit)
		if searchErr != nil {
			vecErr = searchErr
			return nil
		}
		vecCandidates = make([]VecCandidate, len(results))
		for i, r := range results {
			vecCandidates[i] = VecCandidate{ID: r.ID, Score: 1 - r.Distance}
		}
		return nil
	})

	if waitErr := g.Wait(); waitErr != nil {
		return nil, nil, waitErr
	}

	if e.metrics != nil && len(queryEmbedding) > 0 {
		e.metrics.RecordQueryEmbedding(queryEmbedding)
	}

	if ftsErr != nil && vecErr != nil {
		return nil, nil, errors.Join(ftsErr, vecErr)
	}
	if ftsErr != nil {
		err = ftsErr
	} else if vecErr != nil {
		err = vecErr
	}
	return ftsIDs, vecCandidates, err
}

// enrichResults fetches full chunk data for a fused result list in one
// batch query, then derives highlights by matching query terms directly
// against chunk content (the store's FTS search returns ids only, not
// scored term matches).
func (e *Engine) enrichResults(ctx context.Context, fused []*FusedResult, query string) ([]*SearchResult, error) {
	if len(fused) == 0 {
		return nil, nil
	}

	ids := make([]string, len(fused))
	byID := make(map[string]*FusedResult, len(fused))
	for i, f := range fused {
		ids[i] = f.ChunkID
		byID[f.ChunkID] = f
	}

	chunks, err := e.store.GetChunks(ctx, ids)
	if err != nil {
		return nil, err
	}

	terms := queryTerms(query)
	byOrder := make(map[string]int, len(fused))
	for i, f := range fused {
		byOrder[f.ChunkID] = i
	}

	results := make([]*SearchResult, 0, len(chunks))
	for _, c := range chunks {
		f, ok := byID[c.ID]
		if !ok {
			continue
		}
		results = append(results, &SearchResult{
			Chunk:       c,
			Score:       f.RRFScore,
			VecScore:    f.VecScore,
			FTSRank:     f.FTSRank,
			VecRank:     f.VecRank,
			InBothLists: f.InBothLists,
			Highlights:  calculateHighlights(c.Content, terms),
		})
	}
	sort.Slice(results, func(i, j int) bool {
		return byOrder[results[i].Chunk.ID] < byOrder[results[j].Chunk.ID]
	})
	return results, nil
}

func queryTerms(query string) []string {
	fields := strings.Fields(query)
	terms := make([]string, 0, len(fields))
	for _, f := range fields {
		if len(f) >= 2 {
			terms = append(terms, f)
		}
	}
	return terms
}

// enrichResultsWithAdjacent fetches chunks before/after each of the top-N
// results in the same origin file for additional context.
func (e *Engine) enrichResultsWithAdjacent(ctx context.Context, results []*SearchResult, adjacentCount, topN int) {
	if adjacentCount <= 0 || len(results) == 0 {
		return
	}
	enrichCount := len(results)
	if topN > 0 && enrichCount > topN {
		enrichCount = topN
	}

	originToResults := make(map[string][]*SearchResult)
	for i := 0; i < enrichCount; i++ {
		r := results[i]
		if r.Chunk == nil || r.Chunk.Origin == "" {
			continue
		}
		originToResults[r.Chunk.Origin] = append(originToResults[r.Chunk.Origin], r)
	}

	for origin, fileResults := range originToResults {
		allChunks, err := e.store.GetChunksByOrigin(ctx, origin)
		if err != nil {
			slog.Debug("failed to fetch chunks for adjacent context",
				slog.String("origin", origin), slog.String("error", err.Error()))
			continue
		}

		for _, result := range fileResults {
			target := result.Chunk
			var before, after []*chunk.Chunk
			for _, c := range allChunks {
				if c.ID == target.ID {
					continue
				}
				if c.LineEnd < target.LineStart {
					before = append(before, c)
				}
				if c.LineStart > target.LineEnd {
					after = append(after, c)
				}
			}
			sort.Slice(before, func(i, j int) bool { return before[i].LineEnd > before[j].LineEnd })
			if len(before) > adjacentCount {
				before = before[:adjacentCount]
			}
			sort.Slice(after, func(i, j int) bool { return after[i].LineStart < after[j].LineStart })
			if len(after) > adjacentCount {
				after = after[:adjacentCount]
			}
			result.AdjacentContext.Before = before
			result.AdjacentContext.After = after
		}
	}
}

// rerankResults applies cross-encoder reranking to improve relevance on
// generic queries. Returns the original order unchanged if no reranker is
// configured, it is unavailable, or fewer than two results were fused.
func (e *Engine) rerankResults(ctx context.Context, query string, fused []*FusedResult) []*FusedResult {
	if e.reranker == nil || len(fused) < 2 {
		return fused
	}
	if !e.reranker.Available(ctx) {
		return fused
	}

	chunkIDs := make([]string, len(fused))
	for i, f := range fused {
		chunkIDs[i] = f.ChunkID
	}
	chunks, err := e.store.GetChunks(ctx, chunkIDs)
	if err != nil {
		slog.Warn("failed to fetch chunks for reranking, skipping", slog.String("error", err.Error()))
		return fused
	}

	contentByID := make(map[string]string, len(chunks))
	for _, c := range chunks {
		contentByID[c.ID] = c.Content
	}

	documents := make([]string, 0, len(fused))
	valid := make([]*FusedResult, 0, len(fused))
	for _, f := range fused {
		if content, ok := contentByID[f.ChunkID]; ok && content != "" {
			documents = append(documents, content)
			valid = append(valid, f)
		}
	}
	if len(documents) == 0 {
		return fused
	}

	reranked, err := e.reranker.Rerank(ctx, query, documents, 0)
	if err != nil {
		slog.Warn("reranking failed, using original order", slog.String("error", err.Error()))
		return fused
	}

	results := make([]*FusedResult, 0, len(reranked))
	for _, rr := range reranked {
		if rr.Index < 0 || rr.Index >= len(valid) {
			slog.Warn("invalid reranker index, skipping", slog.Int("index", rr.Index))
			continue
		}
		f := valid[rr.Index]
		f.RRFScore = rr.Score
		results = append(results, f)
	}
	return results
}

// calculateHighlights finds byte ranges for matched query terms.
func calculateHighlights(content string, terms []string) []Range {
	if len(terms) == 0 || len(content) == 0 {
		return []Range{}
	}
	const maxMatchesPerTerm = 10
	highlights := make([]Range, 0, len(terms)*3)
	lowerContent := strings.ToLower(content)

	for _, term := range terms {
		lowerTerm := strings.ToLower(term)
		start := 0
		matchCount := 0
		for matchCount < maxMatchesPerTerm {
			idx := strings.Index(lowerContent[start:], lowerTerm)
			if idx == -1 {
				break
			}
			absStart := start + idx
			highlights = append(highlights, Range{Start: absStart, End: absStart + len(term)})
			start = absStart + len(term)
			matchCount++
		}
	}
	if len(highlights) > 1 {
		sort.Slice(highlights, func(i, j int) bool { return highlights[i].Start < highlights[j].Start })
	}
	return highlights
}

// multiQuerySearch decomposes a generic query into sub-queries, runs them
// in parallel via MultiQuerySearcher, and fuses with consensus boosting.
func (e *Engine) multiQuerySearch(ctx context.Context, query string, opts SearchOptions, start time.Time) ([]*SearchResult, error) {
	opts = e.applyDefaults(opts)

	var subQueryStrings []string
	if opts.Explain {
		for _, sq := range e.multiQuery.decomposer.Decompose(query) {
			subQueryStrings = append(subQueryStrings, sq.Query)
		}
	}

	multiFused, err := e.multiQuery.Search(ctx, query, opts)
	if err != nil {
		return nil, err
	}

	fused := make([]*FusedResult, len(multiFused))
	for i, mf := range multiFused {
		fused[i] = &FusedResult{
			ChunkID:     mf.ChunkID,
			RRFScore:    mf.RRFScore,
			VecScore:    mf.VecScore,
			FTSRank:     mf.FTSRank,
			VecRank:     mf.VecRank,
			InBothLists: mf.InBothLists,
		}
	}

	enriched, err := e.enrichResults(ctx, fused, query)
	if err != nil {
		return nil, err
	}
	e.enrichResultsWithAdjacent(ctx, enriched, opts.AdjacentChunks, 5)
	enriched = ApplyTestFilePenalty(enriched)
	enriched = ApplyPathBoost(enriched)
	filtered := ApplyFilters(enriched, opts)

	e.attachExplainData(filtered, query, opts, len(filtered), len(filtered), false, subQueryStrings)
	e.recordMetrics(query, QueryTypeMixed, len(filtered), time.Since(start))
	return filtered, nil
}

// singleSearch executes a single hybrid search without multi-query
// decomposition, used by MultiQuerySearcher for each sub-query.
func (e *Engine) singleSearch(ctx context.Context, query string, opts SearchOptions) ([]*FusedResult, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, nil
	}

	if opts.Weights == nil && e.classifier != nil {
		_, weights, err := e.classifier.Classify(ctx, query)
		if err == nil {
			opts.Weights = &weights
		}
	}
	opts = e.applyDefaults(opts)

	if opts.FTSOnly {
		ftsIDs, err := e.store.SearchFTS(ctx, query, opts.Limit*2)
		if err != nil {
			return nil, fmt.Errorf("FTS search failed: %w", err)
		}
		return e.fusion.Fuse(ftsIDs, nil, Weights{BM25: 1.0, Semantic: 0.0}), nil
	}

	if err := e.validateDimensions(ctx); err != nil {
		ftsIDs, ftsErr := e.store.SearchFTS(ctx, query, opts.Limit*2)
		if ftsErr != nil {
			return nil, fmt.Errorf("FTS search failed: %w", ftsErr)
		}
		return e.fusion.Fuse(ftsIDs, nil, *opts.Weights), nil
	}

	ftsIDs, vecCandidates, _ := e.parallelSearch(ctx, query, opts.Limit*2)
	fused := e.fusion.Fuse(ftsIDs, vecCandidates, *opts.Weights)

	if len(opts.Filter.Languages) > 0 || len(opts.Filter.ChunkTypes) > 0 || opts.Filter.PathPattern != "" || len(opts.Filter.Scopes) > 0 {
		enriched, err := e.enrichResults(ctx, fused, query)
		if err != nil {
			return fused, nil
		}
		filtered := ApplyFilters(enriched, opts)
		fusedFiltered := make([]*FusedResult, len(filtered))
		for i, r := range filtered {
			fusedFiltered[i] = &FusedResult{
				ChunkID:     r.Chunk.ID,
				RRFScore:    r.Score,
				VecScore:    r.VecScore,
				InBothLists: r.InBothLists,
			}
		}
		return fusedFiltered, nil
	}

	return fused, nil
}
