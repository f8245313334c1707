package index

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/scanner"
	"github.com/jamie8johnson/cqs/internal/store"
)

func newTestPipeline(t *testing.T, rootDir string) (*Pipeline, *store.Store) {
	t.Helper()
	embedder := embed.NewStaticEmbedder768()
	indexDir := t.TempDir()

	st, err := store.Open(":memory:", embedder.ModelName(), embedder.Dimensions(), nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	sc, err := scanner.New()
	require.NoError(t, err)

	deps := Dependencies{
		Store:       st,
		Embedder:    embedder,
		Scanner:     sc,
		CodeChunker: chunk.NewCodeChunker(),
	}
	cfg := Config{RootDir: rootDir, IndexDir: indexDir, Offline: true}
	return New(cfg, deps), st
}

func writeFile(t *testing.T, dir, name, content string) {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

const sampleGo = `package sample

func Helper() int {
	return 1
}

func Caller() int {
	return Helper() + Helper()
}
`

func TestPipeline_Run_IndexesNewFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGo)

	p, st := newTestPipeline(t, root)
	result, err := p.Run(context.Background())
	require.NoError(t, err)
	require.False(t, result.Interrupted)

	assert.Equal(t, 1, result.FilesScanned)
	assert.Greater(t, result.ChunksWritten, 0)
	assert.Equal(t, result.ChunksWritten, result.ChunksComputed)
	assert.Equal(t, 0, result.ChunksReused)
	require.NotNil(t, result.Vector)
	assert.Equal(t, result.ChunksWritten, result.Vector.Count())

	chunks, err := st.GetChunksByOrigin(context.Background(), "sample.go")
	require.NoError(t, err)
	assert.NotEmpty(t, chunks)
}

func TestPipeline_Run_ReusesUnchangedEmbeddings(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGo)

	p, st := newTestPipeline(t, root)
	ctx := context.Background()
	first, err := p.Run(ctx)
	require.NoError(t, err)
	require.Greater(t, first.ChunksWritten, 0)

	// A fresh pipeline sharing the same store: nothing on disk changed,
	// so NeedsReindex should skip the file entirely on the second pass.
	p2 := New(p.cfg, Dependencies{
		Store:       st,
		Embedder:    embed.NewStaticEmbedder768(),
		Scanner:     p.deps.Scanner,
		CodeChunker: p.deps.CodeChunker,
	})
	second, err := p2.Run(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, second.ChunksWritten)
	assert.Equal(t, 0, second.ChunksComputed)
}

func TestPipeline_Run_PrunesDeletedFiles(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "a.go", sampleGo)
	writeFile(t, root, "b.go", sampleGo)

	p, st := newTestPipeline(t, root)
	ctx := context.Background()
	_, err := p.Run(ctx)
	require.NoError(t, err)

	require.NoError(t, os.Remove(filepath.Join(root, "b.go")))

	p2 := New(p.cfg, Dependencies{
		Store:       st,
		Embedder:    embed.NewStaticEmbedder768(),
		Scanner:     p.deps.Scanner,
		CodeChunker: p.deps.CodeChunker,
	})
	_, err = p2.Run(ctx)
	require.NoError(t, err)

	remaining, err := st.GetChunksByOrigin(ctx, "b.go")
	require.NoError(t, err)
	assert.Empty(t, remaining)

	stillThere, err := st.GetChunksByOrigin(ctx, "a.go")
	require.NoError(t, err)
	assert.NotEmpty(t, stillThere)
}

func TestPipeline_Interrupt_StopsBeforeWrite(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "sample.go", sampleGo)

	p, st := newTestPipeline(t, root)
	p.Interrupt()

	result, err := p.Run(context.Background())
	require.NoError(t, err)
	assert.True(t, result.Interrupted)
	assert.Equal(t, 0, result.ChunksWritten)

	chunks, err := st.GetChunksByOrigin(context.Background(), "sample.go")
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestExtractCalls_FiltersToKnownNames(t *testing.T) {
	c := &chunk.Chunk{
		ID:        "sample.go:1:aaaa",
		Origin:    "sample.go",
		ChunkType: chunk.ChunkTypeFunction,
		Name:      "Caller",
		Content:   "func Caller() int {\n\treturn Helper() + fmt.Sprintf(\"x\")\n}",
	}
	known := map[string]struct{}{"Helper": {}}
	calls := ExtractCalls(c, known)
	require.Len(t, calls, 1)
	assert.Equal(t, "Helper", calls[0].Callee)
	assert.Equal(t, "Caller", calls[0].Caller)
}

func TestExtractTypeRefs_IncludesImplEdgeForMethods(t *testing.T) {
	c := &chunk.Chunk{
		ID:             "sample.go:1:aaaa",
		Origin:         "sample.go",
		ChunkType:      chunk.ChunkTypeMethod,
		Name:           "Process",
		ParentTypeName: "Worker",
		Signature:      "func (w *Worker) Process(job Job) (Result, error)",
	}
	refs := ExtractTypeRefs(c)

	var sawImpl, sawParam, sawReturn bool
	for _, r := range refs {
		switch {
		case r.TypeName == "Worker" && r.Kind == "impl_type":
			sawImpl = true
		case r.TypeName == "Job" && r.Kind == "param_type":
			sawParam = true
		case r.TypeName == "Result" && r.Kind == "return_type":
			sawReturn = true
		}
	}
	assert.True(t, sawImpl, "expected impl_type edge to Worker")
	assert.True(t, sawParam, "expected param_type edge to Job")
	assert.True(t, sawReturn, "expected return_type edge to Result")
}
