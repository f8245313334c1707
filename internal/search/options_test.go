package search

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/jamie8johnson/cqs/internal/chunk"
)

func resChunk(origin, language, name string, ct chunk.ChunkType) *SearchResult {
	return &SearchResult{Chunk: &chunk.Chunk{Origin: origin, Language: language, Name: name, ChunkType: ct}, Score: 1.0}
}

func TestApplyFilters_NoFilterSet_ReturnsAll(t *testing.T) {
	results := []*SearchResult{resChunk("a.go", "go", "A", chunk.ChunkTypeFunction)}
	filtered := ApplyFilters(results, SearchOptions{})
	assert.Len(t, filtered, 1)
}

func TestApplyFilters_LanguageFilter(t *testing.T) {
	results := []*SearchResult{
		resChunk("a.go", "go", "A", chunk.ChunkTypeFunction),
		resChunk("b.ts", "typescript", "B", chunk.ChunkTypeFunction),
	}
	filtered := ApplyFilters(results, SearchOptions{Filter: SearchFilter{Languages: []string{"go"}}})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "a.go", filtered[0].Chunk.Origin)
}

func TestApplyFilters_ChunkTypeFilter(t *testing.T) {
	results := []*SearchResult{
		resChunk("a.go", "go", "A", chunk.ChunkTypeFunction),
		resChunk("b.go", "go", "B", chunk.ChunkTypeStruct),
	}
	filtered := ApplyFilters(results, SearchOptions{Filter: SearchFilter{ChunkTypes: []chunk.ChunkType{chunk.ChunkTypeStruct}}})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "B", filtered[0].Chunk.Name)
}

func TestApplyFilters_PathPatternFilter(t *testing.T) {
	results := []*SearchResult{
		resChunk("internal/store/store.go", "go", "A", chunk.ChunkTypeFunction),
		resChunk("internal/search/engine.go", "go", "B", chunk.ChunkTypeFunction),
	}
	filtered := ApplyFilters(results, SearchOptions{Filter: SearchFilter{PathPattern: "internal/store/*"}})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "A", filtered[0].Chunk.Name)
}

func TestApplyFilters_ScopeFilter_PrefixBoundary(t *testing.T) {
	results := []*SearchResult{
		resChunk("services/api/handler.go", "go", "A", chunk.ChunkTypeFunction),
		resChunk("services/api-v2/handler.go", "go", "B", chunk.ChunkTypeFunction),
	}
	filtered := ApplyFilters(results, SearchOptions{Filter: SearchFilter{Scopes: []string{"services/api"}}})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "A", filtered[0].Chunk.Name)
}

func TestApplyFilters_AndLogicAcrossCriteria(t *testing.T) {
	results := []*SearchResult{
		resChunk("internal/store/store.go", "go", "A", chunk.ChunkTypeFunction),
		resChunk("internal/store/store.go", "go", "B", chunk.ChunkTypeStruct),
	}
	filtered := ApplyFilters(results, SearchOptions{Filter: SearchFilter{
		Languages:  []string{"go"},
		ChunkTypes: []chunk.ChunkType{chunk.ChunkTypeFunction},
	}})
	assert.Len(t, filtered, 1)
	assert.Equal(t, "A", filtered[0].Chunk.Name)
}

func TestIsTestFile(t *testing.T) {
	assert.True(t, IsTestFile("internal/store/store_test.go"))
	assert.True(t, IsTestFile("src/foo.test.ts"))
	assert.True(t, IsTestFile("tests/test_parser.py"))
	assert.False(t, IsTestFile("internal/store/store.go"))
}

func TestApplyTestFilePenalty_PenalizesAndResorts(t *testing.T) {
	results := []*SearchResult{
		{Chunk: &chunk.Chunk{Origin: "a_test.go"}, Score: 1.0},
		{Chunk: &chunk.Chunk{Origin: "b.go"}, Score: 0.9},
	}
	out := ApplyTestFilePenalty(results)
	assert.Equal(t, "b.go", out[0].Chunk.Origin)
}

func TestApplyPathBoost_BoostsInternalPenalizesCmd(t *testing.T) {
	results := []*SearchResult{
		{Chunk: &chunk.Chunk{Origin: "cmd/cqs/main.go"}, Score: 1.0},
		{Chunk: &chunk.Chunk{Origin: "internal/search/engine.go"}, Score: 1.0},
	}
	out := ApplyPathBoost(results)
	assert.Equal(t, "internal/search/engine.go", out[0].Chunk.Origin)
}

func TestApplyNameBoost_ExactMatchRanksAbovePartial(t *testing.T) {
	results := []*SearchResult{
		{Chunk: &chunk.Chunk{Name: "SearchHelper"}, Score: 1.0},
		{Chunk: &chunk.Chunk{Name: "Search"}, Score: 1.0},
	}
	out := ApplyNameBoost(results, "Search")
	assert.Equal(t, "Search", out[0].Chunk.Name)
}

func TestNormalizeScope_StripsSlashes(t *testing.T) {
	assert.Equal(t, "internal/store", NormalizeScope("/internal/store/"))
}
