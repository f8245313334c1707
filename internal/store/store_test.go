package store

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie8johnson/cqs/internal/chunk"
)

func testChunk(id, origin, name, content string) *chunk.Chunk {
	return &chunk.Chunk{
		ID:          id,
		Origin:      origin,
		SourceType:  chunk.SourceTypeFile,
		Language:    "go",
		ChunkType:   chunk.ChunkTypeFunction,
		Name:        name,
		Signature:   name + "()",
		Content:     content,
		ContentHash: "deadbeef",
		LineStart:   1,
		LineEnd:     3,
		SourceMtime: 100,
	}
}

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:", "test-model", 769, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestOpen_FreshStore_StampsMetadata(t *testing.T) {
	s := openTestStore(t)
	version, err := s.GetMetadata(context.Background(), "schema_version")
	require.NoError(t, err)
	assert.Equal(t, "1", version)
}

func TestOpen_ModelMismatch_ReturnsError(t *testing.T) {
	path := t.TempDir() + "/store.db"
	s1, err := Open(path, "model-a", 769, nil)
	require.NoError(t, err)
	require.NoError(t, s1.Close())

	_, err = Open(path, "model-b", 769, nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "model-a")
}

func TestUpsertChunksBatch_ThenGetChunk_RoundTrips(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testChunk("a.go:1:abcd1234", "a.go", "Hello", "func Hello() {}")
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	got, err := s.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Hello", got.Name)
	assert.Equal(t, chunk.ChunkTypeFunction, got.ChunkType)
}

func TestUpsertChunksBatch_Replace_UpdatesExistingRow(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testChunk("a.go:1:abcd1234", "a.go", "Hello", "func Hello() {}")
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	c.Content = "func Hello() { println(1) }"
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	got, err := s.GetChunk(ctx, c.ID)
	require.NoError(t, err)
	assert.Contains(t, got.Content, "println")
}

func TestSearchFTS_FindsByName(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testChunk("a.go:1:abcd1234", "a.go", "ParseConfig", "func ParseConfig() {}")
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	ids, err := s.SearchFTS(ctx, "parse config", 10)
	require.NoError(t, err)
	assert.Contains(t, ids, c.ID)
}

func TestSearchFTS_EmptyQuery_ReturnsNoResults(t *testing.T) {
	s := openTestStore(t)
	ids, err := s.SearchFTS(context.Background(), "   ", 10)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestPruneMissing_RemovesChunksForGoneFiles(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	a := testChunk("a.go:1:abcd1234", "a.go", "A", "func A() {}")
	b := testChunk("b.go:1:beef0001", "b.go", "B", "func B() {}")
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{a, b}))

	require.NoError(t, s.PruneMissing(ctx, map[string]struct{}{"a.go": {}}))

	got, err := s.GetChunk(ctx, a.ID)
	require.NoError(t, err)
	assert.NotNil(t, got)

	got, err = s.GetChunk(ctx, b.ID)
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestNeedsReindex_NewerMtime_ReturnsPointer(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testChunk("a.go:1:abcd1234", "a.go", "A", "func A() {}")
	c.SourceMtime = 100
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	result, err := s.NeedsReindex(ctx, "a.go", 200)
	require.NoError(t, err)
	require.NotNil(t, result)
	assert.Equal(t, int64(200), *result)

	result, err = s.NeedsReindex(ctx, "a.go", 50)
	require.NoError(t, err)
	assert.Nil(t, result)
}

func TestGetEmbeddingsByHashes_ReturnsOnlyMatchingHashes(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	c := testChunk("a.go:1:abcd1234", "a.go", "A", "func A() {}")
	c.ContentHash = "hash-a"
	c.Embedding = []byte{1, 2, 3, 4}
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	out, err := s.GetEmbeddingsByHashes(ctx, []string{"hash-a", "hash-missing"})
	require.NoError(t, err)
	assert.Len(t, out, 1)
	assert.Equal(t, []byte{1, 2, 3, 4}, out["hash-a"])
}

func TestUpsertFunctionCalls_ReplacesPerFile(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.UpsertFunctionCalls(ctx, "a.go", []FunctionCall{
		{Caller: "Foo", Callee: "Bar", File: "a.go", Line: 5},
	}))
	forward, reverse, err := s.GetCallGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Bar"}, forward["Foo"])
	assert.Equal(t, []string{"Foo"}, reverse["Bar"])

	require.NoError(t, s.UpsertFunctionCalls(ctx, "a.go", []FunctionCall{
		{Caller: "Foo", Callee: "Baz", File: "a.go", Line: 6},
	}))
	forward, _, err = s.GetCallGraph(ctx)
	require.NoError(t, err)
	assert.Equal(t, []string{"Baz"}, forward["Foo"])
}

func TestDeadCode_NoCallers_ReportedByVisibility(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	priv := testChunk("a.go:1:aaaa0001", "a.go", "helper", "func helper() {}")
	pub := testChunk("a.go:10:aaaa0002", "a.go", "Helper", "func Helper() {}")
	require.NoError(t, s.UpsertChunksBatch(ctx, []*chunk.Chunk{priv, pub}))

	isTest := func(name string) bool { return false }
	isExported := func(name string) bool { return len(name) > 0 && name[0] >= 'A' && name[0] <= 'Z' }

	confident, possiblyPublic, err := s.DeadCode(ctx, isTest, isExported)
	require.NoError(t, err)
	require.Len(t, confident, 1)
	require.Len(t, possiblyPublic, 1)
	assert.Equal(t, "helper", confident[0].Name)
	assert.Equal(t, "Helper", possiblyPublic[0].Name)
}

func TestEmbeddingBatches_StreamsAllRows(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	var chunks []*chunk.Chunk
	for i := 0; i < 5; i++ {
		c := testChunk("a.go:"+string(rune('1'+i))+":aaaa000"+string(rune('1'+i)), "a.go", "F", "func F() {}")
		c.Embedding = []byte{byte(i)}
		chunks = append(chunks, c)
	}
	require.NoError(t, s.UpsertChunksBatch(ctx, chunks))

	var seen int
	require.NoError(t, s.EmbeddingBatches(ctx, 2, func(page []EmbeddingRow) error {
		seen += len(page)
		return nil
	}))
	assert.Equal(t, 5, seen)
}
