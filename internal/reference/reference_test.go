package reference

import (
	"context"
	"encoding/binary"
	"math"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/config"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/search"
	"github.com/jamie8johnson/cqs/internal/store"
	"github.com/jamie8johnson/cqs/internal/vectorindex"
)

// buildReferenceDir writes a tiny on-disk store + vector index under dir,
// in the layout Open expects: cqs.db and vectors.{hnsw.graph,...}.
func buildReferenceDir(t *testing.T, dir string, embedder embed.Embedder) {
	t.Helper()
	ctx := context.Background()

	st, err := store.Open(filepath.Join(dir, storeFile), embedder.ModelName(), embedder.Dimensions(), nil)
	require.NoError(t, err)
	defer func() { _ = st.Close() }()

	c := &chunk.Chunk{
		ID:          "ref.go:1:aaaa",
		Origin:      "ref.go",
		SourceType:  chunk.SourceTypeFile,
		Language:    "go",
		ChunkType:   chunk.ChunkTypeFunction,
		Name:        "Helper",
		Signature:   "Helper()",
		Content:     "func Helper() {}",
		ContentHash: "aaaa",
		LineStart:   1,
		LineEnd:     3,
		SourceMtime: 100,
	}
	vec, err := embedder.Embed(ctx, "Helper")
	require.NoError(t, err)
	c.Embedding = packEmbedding(vec)
	require.NoError(t, st.UpsertChunksBatch(ctx, []*chunk.Chunk{c}))

	idx := vectorindex.New()
	require.NoError(t, idx.Build([]string{c.ID}, [][]float32{vec}))
	require.NoError(t, idx.Save(dir, vectorName))
}

// packEmbedding mirrors internal/index's little-endian f32 packing;
// duplicated here rather than imported to avoid a test-only dependency
// from internal/reference on internal/index.
func packEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func TestOpen_SkipsMissingReferenceWithoutFailing(t *testing.T) {
	embedder := embed.NewStaticEmbedder768()
	refs, err := Open(context.Background(), []config.ReferenceConfig{
		{Name: "missing", Path: t.TempDir(), Weight: 1.0},
	}, embedder, search.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestOpen_RejectsNonPositiveWeight(t *testing.T) {
	embedder := embed.NewStaticEmbedder768()
	dir := t.TempDir()
	buildReferenceDir(t, dir, embedder)

	refs, err := Open(context.Background(), []config.ReferenceConfig{
		{Name: "zero-weight", Path: dir, Weight: 0},
	}, embedder, search.DefaultConfig(), nil)
	require.NoError(t, err)
	assert.Empty(t, refs)
}

func TestOpenAndMerge_DownweightsAndTagsResults(t *testing.T) {
	embedder := embed.NewStaticEmbedder768()
	dir := t.TempDir()
	buildReferenceDir(t, dir, embedder)

	refs, err := Open(context.Background(), []config.ReferenceConfig{
		{Name: "sibling", Path: dir, Weight: 0.5},
	}, embedder, search.DefaultConfig(), nil)
	require.NoError(t, err)
	require.Len(t, refs, 1)
	defer Close(refs)

	results, err := Merge(context.Background(), refs, "Helper", search.SearchOptions{Limit: 10})
	require.NoError(t, err)
	require.NotEmpty(t, results)
	for _, r := range results {
		assert.Equal(t, "sibling", r.Source)
		assert.NotEmpty(t, r.CorrelationID)
		assert.InDelta(t, r.Score*0.5, r.MergedScore, 1e-9)
	}
}

func TestMerge_NoReferences_ReturnsNil(t *testing.T) {
	results, err := Merge(context.Background(), nil, "query", search.SearchOptions{})
	require.NoError(t, err)
	assert.Nil(t, results)
}
