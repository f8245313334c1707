package chunk

import (
	"context"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/zeebo/blake3"
)

// CodeChunkerOptions configures the code chunker behavior.
type CodeChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// CodeChunker implements AST-aware code chunking using tree-sitter.
type CodeChunker struct {
	parser    *Parser
	extractor *SymbolExtractor
	registry  *LanguageRegistry
	options   CodeChunkerOptions
}

// NewCodeChunker creates a new code chunker with default options.
func NewCodeChunker() *CodeChunker {
	return NewCodeChunkerWithOptions(CodeChunkerOptions{})
}

// NewCodeChunkerWithOptions creates a new code chunker with custom options.
func NewCodeChunkerWithOptions(opts CodeChunkerOptions) *CodeChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}

	registry := DefaultRegistry()
	return &CodeChunker{
		parser:    NewParserWithRegistry(registry),
		extractor: NewSymbolExtractorWithRegistry(registry),
		registry:  registry,
		options:   opts,
	}
}

// Close releases chunker resources.
func (c *CodeChunker) Close() {
	if c.parser != nil {
		c.parser.Close()
	}
}

// SupportedExtensions returns file extensions this chunker handles.
func (c *CodeChunker) SupportedExtensions() []string {
	return c.registry.SupportedExtensions()
}

// Chunk splits a file into semantic chunks, one per symbol (declarations
// inside a function or method body stay part of that body's chunk),
// falling back to a sliding line window for unsupported languages or
// parse failures (the "sanity-check fallback scan").
func (c *CodeChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	if len(file.Content) == 0 {
		return nil, nil
	}

	if _, supported := c.registry.GetByName(file.Language); !supported {
		return c.chunkByLines(file), nil
	}

	tree, err := c.parser.Parse(ctx, file.Content, file.Language)
	if err != nil {
		return c.chunkByLines(file), nil
	}

	fileContext := c.extractFileContext(tree, file.Content, file.Language)
	fileContext = c.enrichContextWithFilePath(file.Path, file.Language, fileContext)

	symbolNodes := c.findSymbolNodes(tree, file.Language)
	if len(symbolNodes) == 0 {
		return nil, nil
	}

	var chunks []*Chunk
	for _, node := range symbolNodes {
		chunks = append(chunks, c.createChunksFromNode(node, tree, file, fileContext)...)
	}

	return chunks, nil
}

type symbolNodeInfo struct {
	node   *Node
	symbol *Symbol
}

func (c *CodeChunker) findSymbolNodes(tree *Tree, language string) []*symbolNodeInfo {
	config, ok := c.registry.GetByName(language)
	if !ok {
		return []*symbolNodeInfo{}
	}

	var symbolNodes []*symbolNodeInfo

	tree.Root.Walk(func(n *Node) bool {
		if n.Type == "lexical_declaration" || n.Type == "variable_declaration" {
			if sym := c.extractor.extractSpecialSymbol(n, tree.Source, language); sym != nil {
				symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
				return false
			}
		}

		if sym := c.extractor.extractSymbolFromNode(n, tree.Source, config, language); sym != nil {
			symbolNodes = append(symbolNodes, &symbolNodeInfo{node: n, symbol: sym})
			if sym.Type == ChunkTypeFunction || sym.Type == ChunkTypeMethod {
				return false
			}
		}
		return true
	})

	return symbolNodes
}

func (c *CodeChunker) createChunksFromNode(info *symbolNodeInfo, tree *Tree, file *FileInput, fileContext string) []*Chunk {
	node := info.node
	content := string(tree.Source[node.StartByte:node.EndByte])
	if info.symbol.DocComment != "" {
		content = c.getRawContentWithDocComment(node, tree.Source, info.symbol.DocComment)
	}

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		return []*Chunk{c.createChunk(file, content, fileContext, info.symbol)}
	}

	return c.splitByLines(content, info.symbol, file, fileContext, int(node.StartPoint.Row)+1)
}

func (c *CodeChunker) getRawContentWithDocComment(n *Node, source []byte, docComment string) string {
	lineStart := int(n.StartByte)
	for lineStart > 0 && source[lineStart-1] != '\n' {
		lineStart--
	}

	docLines := strings.Count(docComment, "\n") + 1
	for i := 0; i < docLines && lineStart > 0; i++ {
		lineStart--
		for lineStart > 0 && source[lineStart-1] != '\n' {
			lineStart--
		}
	}

	return string(source[lineStart:n.EndByte])
}

// splitByLines splits an oversized symbol into overlapping windows, each
// becoming its own chunk with WindowIdx set and Name suffixed "_partN"
// (ParentTypeName is carried over unchanged) so the windows remain
// individually discoverable by search.
func (c *CodeChunker) splitByLines(content string, symbol *Symbol, file *FileInput, fileContext string, startLine int) []*Chunk {
	lines := strings.Split(content, "\n")
	if len(lines) == 0 {
		return []*Chunk{}
	}

	maxLinesPerChunk := (c.options.MaxChunkTokens * TokensPerChar) / 80
	if maxLinesPerChunk < 20 {
		maxLinesPerChunk = 20
	}
	overlapLines := (c.options.OverlapTokens * TokensPerChar) / 80
	if overlapLines < 2 {
		overlapLines = 2
	}

	var chunks []*Chunk
	windowIdx := 0
	for i := 0; i < len(lines); {
		end := i + maxLinesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		chunkStartLine := startLine + i
		chunkEndLine := startLine + end - 1

		sub := &Symbol{
			Name:           fmt.Sprintf("%s_part%d", symbol.Name, windowIdx+1),
			Type:           symbol.Type,
			StartLine:      chunkStartLine,
			EndLine:        chunkEndLine,
			ParentTypeName: symbol.ParentTypeName,
		}

		chunk := c.createChunk(file, chunkContent, fileContext, sub)
		chunk.WindowIdx = windowIdx
		chunks = append(chunks, chunk)
		windowIdx++

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// createChunk assembles a single Chunk from extracted symbol info.
func (c *CodeChunker) createChunk(file *FileInput, content, fileContext string, symbol *Symbol) *Chunk {
	full := combineContextAndContent(fileContext, content)
	hash := contentHash(full)

	return &Chunk{
		ID:             buildChunkID(file.Path, symbol.StartLine, hash),
		Origin:         file.Path,
		SourceType:     SourceTypeFile,
		Language:       file.Language,
		ChunkType:      symbol.Type,
		Name:           symbol.Name,
		Signature:      symbol.Signature,
		Content:        full,
		ContentHash:    hash,
		Doc:            symbol.DocComment,
		LineStart:      symbol.StartLine,
		LineEnd:        symbol.EndLine,
		SourceMtime:    file.Mtime,
		ParentTypeName: symbol.ParentTypeName,
	}
}

func (c *CodeChunker) extractFileContext(tree *Tree, source []byte, language string) string {
	var parts []string
	switch language {
	case "go":
		parts = c.extractGoContext(tree, source)
	case "typescript", "tsx":
		parts = c.extractTSContext(tree, source)
	case "javascript", "jsx":
		parts = c.extractJSContext(tree, source)
	case "python":
		parts = c.extractPythonContext(tree, source)
	}
	return strings.Join(parts, "\n\n")
}

func (c *CodeChunker) extractGoContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "package_clause" {
			parts = append(parts, node.GetContent(source))
			break
		}
	}
	for _, node := range tree.Root.Children {
		if node.Type == "import_declaration" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractTSContext(tree *Tree, source []byte) []string {
	return c.extractJSContext(tree, source)
}

func (c *CodeChunker) extractJSContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

func (c *CodeChunker) extractPythonContext(tree *Tree, source []byte) []string {
	var parts []string
	for _, node := range tree.Root.Children {
		if node.Type == "import_statement" || node.Type == "import_from_statement" {
			parts = append(parts, node.GetContent(source))
		}
	}
	return parts
}

// chunkByLines is the fallback for unsupported languages and parse failures.
func (c *CodeChunker) chunkByLines(file *FileInput) []*Chunk {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil
	}

	lines := strings.Split(content, "\n")
	linesPerChunk := 128
	overlapLines := 16

	var chunks []*Chunk
	windowIdx := 0
	for i := 0; i < len(lines); {
		end := i + linesPerChunk
		if end > len(lines) {
			end = len(lines)
		}

		chunkContent := strings.Join(lines[i:end], "\n")
		startLine := i + 1
		hash := contentHash(chunkContent)

		chunks = append(chunks, &Chunk{
			ID:          buildChunkID(file.Path, startLine, hash),
			Origin:      file.Path,
			SourceType:  SourceTypeFile,
			Language:    file.Language,
			ChunkType:   ChunkTypeSection,
			Name:        fmt.Sprintf("%s#%d", file.Path, windowIdx),
			Content:     chunkContent,
			ContentHash: hash,
			LineStart:   startLine,
			LineEnd:     end,
			SourceMtime: file.Mtime,
			WindowIdx:   windowIdx,
		})
		windowIdx++

		i = end - overlapLines
		if i <= 0 || end >= len(lines) {
			break
		}
	}

	return chunks
}

// contentHash returns the full BLAKE3 hex digest of content.
func contentHash(content string) string {
	sum := blake3.Sum256([]byte(content))
	return hex.EncodeToString(sum[:])
}

// buildChunkID assembles the "{origin}:{line_start}:{hash8}" identity.
func buildChunkID(origin string, lineStart int, fullHash string) string {
	hash8 := fullHash
	if len(hash8) > 8 {
		hash8 = hash8[:8]
	}
	return fmt.Sprintf("%s:%d:%s", origin, lineStart, hash8)
}

// estimateTokens estimates the number of tokens in content.
func estimateTokens(content string) int {
	return len(content) / TokensPerChar
}

// combineContextAndContent combines file-level context and raw content.
func combineContextAndContent(context, rawContent string) string {
	if context == "" {
		return rawContent
	}
	return context + "\n\n" + rawContent
}

// enrichContextWithFilePath prepends a language-appropriate file path
// marker so embedding models can see file location and scope.
func (c *CodeChunker) enrichContextWithFilePath(filePath, language, existingContext string) string {
	if filePath == "" {
		return existingContext
	}

	var marker string
	if language == "python" {
		marker = fmt.Sprintf("# File: %s", filePath)
	} else {
		marker = fmt.Sprintf("// File: %s", filePath)
	}

	if existingContext == "" {
		return marker
	}
	return marker + "\n" + existingContext
}
