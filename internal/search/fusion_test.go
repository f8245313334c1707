package search

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func resultMap(results []*FusedResult) map[string]*FusedResult {
	m := make(map[string]*FusedResult, len(results))
	for _, r := range results {
		m[r.ChunkID] = r
	}
	return m
}

func TestFuse_BothListsContributeToScore(t *testing.T) {
	f := NewRRFFusion()
	ftsIDs := []string{"A", "B", "C"}
	vecCandidates := []VecCandidate{{ID: "C", Score: 0.9}, {ID: "A", Score: 0.7}, {ID: "D", Score: 0.6}}

	results := f.Fuse(ftsIDs, vecCandidates, DefaultWeights())
	require.Len(t, results, 4)

	m := resultMap(results)
	assert.True(t, m["A"].InBothLists)
	assert.True(t, m["C"].InBothLists)
	assert.False(t, m["B"].InBothLists)
	assert.False(t, m["D"].InBothLists)
}

func TestFuse_MissingFromOneList_UsesMissingRank(t *testing.T) {
	f := NewRRFFusionWithK(60)
	ftsIDs := []string{"A", "B"}
	vecCandidates := []VecCandidate{{ID: "D", Score: 0.5}}

	results := f.Fuse(ftsIDs, vecCandidates, DefaultWeights())
	m := resultMap(results)

	require.NotNil(t, m["B"])
	assert.Equal(t, 2, m["B"].FTSRank)
	assert.Equal(t, 0, m["B"].VecRank)
	assert.Greater(t, m["B"].RRFScore, 0.0)
}

func TestFuse_InBothListsOutranksSingleListHit(t *testing.T) {
	f := NewRRFFusionWithK(60)
	ftsIDs := []string{"A", "B"}
	vecCandidates := []VecCandidate{{ID: "B", Score: 0.3}}

	results := f.Fuse(ftsIDs, vecCandidates, Weights{BM25: 0.5, Semantic: 0.5})
	require.True(t, len(results) >= 2)
	assert.Equal(t, "B", results[0].ChunkID)
}

func TestFuse_NormalizesTopScoreToOne(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse([]string{"A", "B"}, nil, DefaultWeights())
	require.NotEmpty(t, results)
	assert.Equal(t, 1.0, results[0].RRFScore)
}

func TestFuse_EmptyInputs_ReturnsEmptySlice(t *testing.T) {
	f := NewRRFFusion()
	results := f.Fuse(nil, nil, DefaultWeights())
	assert.Empty(t, results)
}

func TestNewRRFFusionWithK_NonPositive_FallsBackToDefault(t *testing.T) {
	f := NewRRFFusionWithK(0)
	assert.Equal(t, DefaultRRFConstant, f.K)
	f = NewRRFFusionWithK(-5)
	assert.Equal(t, DefaultRRFConstant, f.K)
}

func TestFuse_Deterministic_SameInputsSameOrder(t *testing.T) {
	f := NewRRFFusion()
	ftsIDs := []string{"X", "Y", "Z"}
	vecCandidates := []VecCandidate{{ID: "Z", Score: 0.8}, {ID: "X", Score: 0.4}}

	first := f.Fuse(ftsIDs, vecCandidates, DefaultWeights())
	second := f.Fuse(ftsIDs, vecCandidates, DefaultWeights())

	require.Equal(t, len(first), len(second))
	for i := range first {
		assert.Equal(t, first[i].ChunkID, second[i].ChunkID)
	}
}
