// Package search provides hybrid search functionality combining FTS5 and
// semantic (vector) search. Results are fused using Reciprocal Rank Fusion
// (RRF) for robust rank-based scoring.
package search

import (
	"context"
	"time"

	"github.com/jamie8johnson/cqs/internal/chunk"
)

// SearchEngine provides hybrid search combining FTS5 and semantic search.
type SearchEngine interface {
	// Search executes a hybrid search query and returns ranked results.
	Search(ctx context.Context, query string, opts SearchOptions) ([]*SearchResult, error)

	// Index adds chunks to both the FTS index and the vector index.
	Index(ctx context.Context, chunks []*chunk.Chunk) error

	// Delete removes chunks from both indices.
	Delete(ctx context.Context, chunkIDs []string) error

	// Stats returns engine statistics.
	Stats() *EngineStats

	// Close releases all resources.
	Close() error
}

// SearchFilter narrows a query to a subset of the index before or after
// fusion. An empty SearchFilter matches everything.
type SearchFilter struct {
	// Languages restricts results to these languages. Empty means any.
	Languages []string

	// ChunkTypes restricts results to these chunk types. Empty means any.
	ChunkTypes []chunk.ChunkType

	// PathPattern is a glob (github.com/gobwas/glob syntax) matched against
	// Chunk.Origin. Empty means any path.
	PathPattern string

	// Scopes restricts results to files within these path prefixes (OR logic).
	Scopes []string
}

// SearchOptions configures a search query.
type SearchOptions struct {
	// Limit is the maximum number of results to return (default: 10, max: 100).
	Limit int

	// Filter restricts results by chunk type/path/language/scope.
	Filter SearchFilter

	// NameBoost, when non-empty, boosts chunks whose Name exactly or
	// partially matches this string, ahead of RRF score.
	NameBoost string

	// Weights overrides the default lexical/semantic weights.
	Weights *Weights

	// FTSOnly forces keyword-only search, skipping semantic/vector search entirely.
	FTSOnly bool

	// AdjacentChunks specifies how many chunks before/after to retrieve for context.
	// 0 = disabled (default), 1 = fetch 1 before + 1 after, 2 = fetch 2 each.
	AdjacentChunks int

	// Explain enables detailed search explanation mode.
	Explain bool
}

// Weights configures the relative importance of lexical vs semantic search.
type Weights struct {
	// BM25 is the weight for lexical (FTS5) search (0-1, default: 0.35).
	BM25 float64

	// Semantic is the weight for vector search (0-1, default: 0.65).
	Semantic float64
}

// DefaultWeights returns the default search weights optimized for mixed queries.
func DefaultWeights() Weights {
	return Weights{
		BM25:     0.35,
		Semantic: 0.65,
	}
}

// SearchResult represents a single search result with scores and metadata.
type SearchResult struct {
	// Chunk contains the full chunk data from the store.
	Chunk *chunk.Chunk

	// Score is the combined normalized RRF score (0-1).
	Score float64

	// VecScore is the individual vector cosine similarity.
	VecScore float32

	// FTSRank is the position in the lexical result list (1-indexed, 0 if absent).
	FTSRank int

	// VecRank is the position in vector results (1-indexed, 0 if absent).
	VecRank int

	// Highlights contains text ranges where query terms matched.
	Highlights []Range

	// InBothLists indicates the result appeared in both lexical and vector results.
	InBothLists bool

	// AdjacentContext contains chunks before/after this result for context.
	AdjacentContext AdjacentContext

	// Explain contains detailed search decision information when opts.Explain=true.
	// Only populated on the first result to avoid duplication.
	Explain *ExplainData
}

// AdjacentContext contains surrounding chunks for context continuity.
type AdjacentContext struct {
	// Before contains chunks appearing before this one in the same file,
	// sorted by proximity (closest first).
	Before []*chunk.Chunk

	// After contains chunks appearing after this one in the same file,
	// sorted by proximity (closest first).
	After []*chunk.Chunk
}

// Range represents a text range for highlighting.
type Range struct {
	Start int // 0-indexed
	End   int // exclusive
}

// EngineStats provides statistics about the search engine.
type EngineStats struct {
	ChunkCount  int
	VectorCount int
}

// EngineConfig configures the search engine.
type EngineConfig struct {
	DefaultLimit   int
	MaxLimit       int
	DefaultWeights Weights
	RRFConstant    int
	SearchTimeout  time.Duration
}

// DefaultConfig returns sensible default configuration.
func DefaultConfig() EngineConfig {
	return EngineConfig{
		DefaultLimit:   10,
		MaxLimit:       100,
		DefaultWeights: DefaultWeights(),
		RRFConstant:    DefaultRRFConstant,
		SearchTimeout:  5 * time.Second,
	}
}

// QueryType represents the classification category for a search query.
type QueryType string

const (
	// QueryTypeLexical indicates the query needs exact/keyword matching.
	QueryTypeLexical QueryType = "LEXICAL"

	// QueryTypeSemantic indicates the query is natural language seeking meaning.
	QueryTypeSemantic QueryType = "SEMANTIC"

	// QueryTypeMixed indicates the query benefits from both approaches.
	QueryTypeMixed QueryType = "MIXED"
)

// Classifier determines optimal search weights for a query. Implementations
// may use pattern matching or a small model.
type Classifier interface {
	// Classify analyzes a query and returns its type and optimal weights.
	// On error, implementations should return (QueryTypeMixed, DefaultWeights(), err).
	Classify(ctx context.Context, query string) (QueryType, Weights, error)
}

// WeightsForQueryType returns the predefined weights for a query type.
func WeightsForQueryType(qt QueryType) Weights {
	switch qt {
	case QueryTypeLexical:
		return Weights{BM25: 0.85, Semantic: 0.15}
	case QueryTypeSemantic:
		return Weights{BM25: 0.20, Semantic: 0.80}
	default:
		return Weights{BM25: 0.35, Semantic: 0.65}
	}
}

// ExplainData contains detailed search decision information.
type ExplainData struct {
	Query                string
	FTSResultCount        int
	VectorResultCount     int
	Weights               Weights
	RRFConstant           int
	FTSOnly               bool
	DimensionMismatch     bool
	MultiQueryDecomposed  bool
	SubQueries            []string
}
