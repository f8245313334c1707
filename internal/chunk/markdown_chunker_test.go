package chunk

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarkdownChunker_SingleSection_ReturnsOneChunk(t *testing.T) {
	content := `# Title

Some body text here.
`
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "README.md",
		Content:  []byte(content),
		Language: "markdown",
	})

	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, ChunkTypeSection, chunks[0].ChunkType)
	assert.Equal(t, "Title", chunks[0].Name)
}

func TestMarkdownChunker_NestedHeadings_BuildsBreadcrumbPath(t *testing.T) {
	content := `# Guide

## Installation

### Requirements

You need Go 1.21+.
`
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "guide.md",
		Content:  []byte(content),
		Language: "markdown",
	})

	require.NoError(t, err)

	var leaf *Chunk
	for _, c := range chunks {
		if c.Name == "Requirements" {
			leaf = c
		}
	}
	require.NotNil(t, leaf)
	assert.Equal(t, "Guide > Installation > Requirements", leaf.Signature)
}

func TestMarkdownChunker_Frontmatter_ExtractedAsOwnChunk(t *testing.T) {
	content := "---\ntitle: Hello\n---\n\n# Body\n\nContent here.\n"
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "post.md",
		Content:  []byte(content),
		Language: "markdown",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	assert.Equal(t, "frontmatter", chunks[0].Name)
	assert.Contains(t, chunks[0].Content, "title: Hello")
}

func TestMarkdownChunker_NoHeadings_ChunksByParagraphs(t *testing.T) {
	content := "First paragraph.\n\nSecond paragraph.\n\nThird paragraph.\n"
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "notes.md",
		Content:  []byte(content),
		Language: "markdown",
	})

	require.NoError(t, err)
	require.NotEmpty(t, chunks)
	for _, c := range chunks {
		assert.Equal(t, ChunkTypeSection, c.ChunkType)
	}
}

func TestMarkdownChunker_OversizedSection_SplitsWithParentID(t *testing.T) {
	var body strings.Builder
	body.WriteString("# Big Section\n\n")
	for i := 0; i < 100; i++ {
		body.WriteString("This is a moderately long paragraph of filler text to inflate token count.\n\n")
	}

	chunker := NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{MaxChunkTokens: 64, OverlapTokens: 8})
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "big.md",
		Content:  []byte(body.String()),
		Language: "markdown",
	})

	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	parentID := chunks[0].ID
	for _, c := range chunks[1:] {
		assert.Equal(t, parentID, c.ParentID)
		assert.Greater(t, c.WindowIdx, 0)
	}
}

func TestMarkdownChunker_EmptyContent_ReturnsNoChunks(t *testing.T) {
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "empty.md",
		Content:  []byte("   \n\n  "),
		Language: "markdown",
	})

	require.NoError(t, err)
	assert.Empty(t, chunks)
}

func TestMarkdownChunker_HeaderOnlySection_IsSkipped(t *testing.T) {
	content := "# Title\n## Empty Heading\n## Next\n\nSome content.\n"
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	chunks, err := chunker.Chunk(context.Background(), &FileInput{
		Path:     "doc.md",
		Content:  []byte(content),
		Language: "markdown",
	})

	require.NoError(t, err)
	for _, c := range chunks {
		assert.NotEqual(t, "Empty Heading", c.Name)
	}
}

func TestMarkdownChunker_SupportedExtensions(t *testing.T) {
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	exts := chunker.SupportedExtensions()
	assert.Contains(t, exts, ".md")
	assert.Contains(t, exts, ".mdx")
}

func TestMarkdownChunker_ChunkID_IsStableAcrossRuns(t *testing.T) {
	content := "# Title\n\nBody text.\n"
	chunker := NewMarkdownChunker()
	defer chunker.Close()

	first, err := chunker.Chunk(context.Background(), &FileInput{Path: "a.md", Content: []byte(content), Language: "markdown"})
	require.NoError(t, err)
	second, err := chunker.Chunk(context.Background(), &FileInput{Path: "a.md", Content: []byte(content), Language: "markdown"})
	require.NoError(t, err)

	require.Len(t, first, 1)
	require.Len(t, second, 1)
	assert.Equal(t, first[0].ID, second[0].ID)
}
