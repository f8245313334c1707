package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCodeChunker_ChunkGoFile_ReturnsFunctionChunks(t *testing.T) {
	source := `package main

import "fmt"

func Hello() {
	fmt.Println("Hello")
}

func Goodbye() {
	fmt.Println("Goodbye")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Contains(t, chunks[0].Content, "Hello")
	assert.Equal(t, ChunkTypeFunction, chunks[0].ChunkType)
	assert.Equal(t, "Hello", chunks[0].Name)
	assert.Equal(t, SourceTypeFile, chunks[0].SourceType)
	assert.Equal(t, "main.go", chunks[0].Origin)
}

func TestCodeChunker_ChunkID_MatchesOriginLineHashFormat(t *testing.T) {
	source := `package main

func Hello() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)

	parts := strings.Split(chunks[0].ID, ":")
	require.Len(t, parts, 3)
	assert.Equal(t, "main.go", parts[0])
	assert.Equal(t, "3", parts[1])
	assert.Len(t, parts[2], 8)
}

func TestCodeChunker_ContentHash_IsFullBlake3Digest(t *testing.T) {
	source := `package main

func Hello() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Len(t, chunks[0].ContentHash, 64) // 32-byte BLAKE3 digest, hex-encoded
	assert.True(t, strings.HasPrefix(chunks[0].ID, chunks[0].Origin))
	assert.Contains(t, chunks[0].ID, chunks[0].ContentHash[:8])
}

func TestCodeChunker_SameContentDifferentFile_DifferentID(t *testing.T) {
	source := `package main

func Hello() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunksA, err := chunker.Chunk(context.Background(), &FileInput{Path: "a.go", Content: []byte(source), Language: "go"})
	require.NoError(t, err)
	chunksB, err := chunker.Chunk(context.Background(), &FileInput{Path: "b.go", Content: []byte(source), Language: "go"})
	require.NoError(t, err)

	require.Len(t, chunksA, 1)
	require.Len(t, chunksB, 1)
	assert.NotEqual(t, chunksA[0].ID, chunksB[0].ID)
}

func TestCodeChunker_GoMethod_ExtractsReceiverType(t *testing.T) {
	source := `package main

type Store struct{}

func (s *Store) Search(query string) {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "store.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)

	var method *Chunk
	for _, c := range chunks {
		if c.ChunkType == ChunkTypeMethod {
			method = c
		}
	}
	require.NotNil(t, method)
	assert.Equal(t, "Search", method.Name)
	assert.Equal(t, "Store", method.ParentTypeName)
}

func TestCodeChunker_GoStructVsInterface_ClassifiedSeparately(t *testing.T) {
	source := `package main

type Widget struct {
	Name string
}

type Greeter interface {
	Greet() string
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "types.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)

	types := map[string]ChunkType{}
	for _, c := range chunks {
		types[c.Name] = c.ChunkType
	}
	assert.Equal(t, ChunkTypeStruct, types["Widget"])
	assert.Equal(t, ChunkTypeInterface, types["Greeter"])
}

func TestCodeChunker_OversizedSymbol_SplitsIntoWindows(t *testing.T) {
	var body strings.Builder
	body.WriteString("package main\n\nfunc Big() {\n")
	for i := 0; i < 400; i++ {
		body.WriteString("\tvar x = 1\n")
	}
	body.WriteString("}\n")

	chunker := NewCodeChunkerWithOptions(CodeChunkerOptions{MaxChunkTokens: 64, OverlapTokens: 8})
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "big.go",
		Content:  []byte(body.String()),
		Language: "go",
	})

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)
	for i, c := range chunks {
		assert.Equal(t, i, c.WindowIdx)
	}
}

func TestCodeChunker_UnsupportedLanguage_FallsBackToLineChunks(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	lines := make([]string, 200)
	for i := range lines {
		lines[i] = "some content here"
	}
	content := strings.Join(lines, "\n")

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "notes.rb",
		Content:  []byte(content),
		Language: "ruby",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, ChunkTypeSection, c.ChunkType)
	}
}

func TestCodeChunker_EmptyFile_ReturnsNoChunks(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "empty.go",
		Content:  []byte(""),
		Language: "go",
	})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestCodeChunker_SupportedExtensions_IncludesGo(t *testing.T) {
	chunker := NewCodeChunker()
	defer chunker.Close()

	assert.Contains(t, chunker.SupportedExtensions(), ".go")
}

func TestCodeChunker_DocComment_IncludedInContent(t *testing.T) {
	source := `package main

// Hello prints a greeting.
func Hello() {
	println("hi")
}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "Hello prints a greeting")
	assert.Equal(t, "Hello prints a greeting.", chunks[0].Doc)
}

func TestCodeChunker_FileContextEnrichment_PrependsFilePathMarker(t *testing.T) {
	source := `package main

func Hello() {}
`
	chunker := NewCodeChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "pkg/main.go",
		Content:  []byte(source),
		Language: "go",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Contains(t, chunks[0].Content, "// File: pkg/main.go")
}
