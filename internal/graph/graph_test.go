package graph

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/store"
)

func testChunk(id, origin, name string, lineStart int) *chunk.Chunk {
	return &chunk.Chunk{
		ID:          id,
		Origin:      origin,
		SourceType:  chunk.SourceTypeFile,
		Language:    "go",
		ChunkType:   chunk.ChunkTypeFunction,
		Name:        name,
		Signature:   name + "()",
		Content:     name + " body",
		ContentHash: id,
		LineStart:   lineStart,
		LineEnd:     lineStart + 2,
		SourceMtime: 100,
	}
}

// buildChainGraph wires a -> b -> c -> d and a TestA test that calls a.
func buildChainGraph(t *testing.T) *store.Store {
	t.Helper()
	s, err := store.Open(":memory:", "test-model", 769, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })

	ctx := context.Background()
	chunks := []*chunk.Chunk{
		testChunk("f.go:1:aaa1", "f.go", "a", 1),
		testChunk("f.go:5:aaa2", "f.go", "b", 5),
		testChunk("f.go:9:aaa3", "f.go", "c", 9),
		testChunk("f.go:13:aaa4", "f.go", "d", 13),
		testChunk("f_test.go:1:aaa5", "f_test.go", "TestA", 1),
	}
	require.NoError(t, s.UpsertChunksBatch(ctx, chunks))

	calls := []store.FunctionCall{
		{Caller: "a", Callee: "b", File: "f.go", Line: 2},
		{Caller: "b", Callee: "c", File: "f.go", Line: 6},
		{Caller: "c", Callee: "d", File: "f.go", Line: 10},
		{Caller: "TestA", Callee: "a", File: "f_test.go", Line: 2},
	}
	require.NoError(t, s.UpsertFunctionCalls(ctx, "f.go", calls[:3]))
	require.NoError(t, s.UpsertFunctionCalls(ctx, "f_test.go", calls[3:]))

	return s
}

func isTestName(name string) bool {
	return len(name) >= 4 && name[:4] == "Test"
}

func TestLoad_BuildsForwardAndReverseGraphs(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)
	require.NotNil(t, g)
}

func TestImpact_DirectAndTransitiveCallers(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)

	result, err := g.Impact(context.Background(), "d", MaxImpactDepth, false, isTestName)
	require.NoError(t, err)

	var directNames []string
	for _, c := range result.Direct {
		directNames = append(directNames, c.Name)
	}
	assert.Contains(t, directNames, "c")

	var transitiveNames []string
	for _, c := range result.Transitive {
		transitiveNames = append(transitiveNames, c.Name)
	}
	assert.Contains(t, transitiveNames, "b")
	assert.Contains(t, transitiveNames, "a")

	require.Len(t, result.AffectedTests, 1)
	assert.Equal(t, "TestA", result.AffectedTests[0].Name)
}

func TestTrace_FindsShortestPath(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)

	path, err := g.Trace(context.Background(), "a", "d", MaxTraceDepth)
	require.NoError(t, err)
	require.Len(t, path, 4)
	assert.Equal(t, "a", path[0].Name)
	assert.Equal(t, "d", path[3].Name)
}

func TestTrace_NoPath_ReturnsNilWithoutError(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)

	path, err := g.Trace(context.Background(), "d", "a", MaxTraceDepth)
	require.NoError(t, err)
	assert.Nil(t, path)
}

func TestTestMap_ReusesImpactWalk(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)

	entries, err := g.TestMap(context.Background(), "d", isTestName)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "TestA", entries[0].Name)
}

func TestDeadCode_FiltersByMinConfidence(t *testing.T) {
	s := buildChainGraph(t)
	g, err := Load(context.Background(), s)
	require.NoError(t, err)

	isExported := func(name string) bool { return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z' }
	_, _, err = g.DeadCode(context.Background(), isTestName, isExported, store.DeadConfidenceHigh)
	require.NoError(t, err)
}
