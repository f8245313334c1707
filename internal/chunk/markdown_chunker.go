package chunk

import (
	"context"
	"regexp"
	"strings"
)

// MarkdownChunkerOptions configures the markdown chunker behavior.
type MarkdownChunkerOptions struct {
	MaxChunkTokens int
	OverlapTokens  int
}

// MarkdownChunker implements adaptive heading-hierarchy Markdown chunking:
// one chunk per section by default, oversized sections split into
// consecutive, non-overlapping windows, and undersized sections merged
// into the section that follows so short headings don't produce noise
// chunks.
type MarkdownChunker struct {
	options MarkdownChunkerOptions
}

var (
	headerPattern       = regexp.MustCompile(`(?m)^(#{1,6})\s+(.+)$`)
	frontmatterPattern  = regexp.MustCompile(`(?s)^---\n(.+?)\n---\n*`)
	codeBlockPattern    = regexp.MustCompile("(?s)```[^`]*```")
	mdxSelfClosingPattern = regexp.MustCompile(`<[A-Z][a-zA-Z0-9]*[^>]*/\s*>`)
	tablePattern        = regexp.MustCompile(`(?m)^\|.+\|$(\n^\|[-:|]+\|$)?(\n^\|.+\|$)*`)
)

// NewMarkdownChunker creates a new markdown chunker with default options.
func NewMarkdownChunker() *MarkdownChunker {
	return NewMarkdownChunkerWithOptions(MarkdownChunkerOptions{})
}

// NewMarkdownChunkerWithOptions creates a new markdown chunker with custom options.
func NewMarkdownChunkerWithOptions(opts MarkdownChunkerOptions) *MarkdownChunker {
	if opts.MaxChunkTokens == 0 {
		opts.MaxChunkTokens = DefaultMaxChunkTokens
	}
	if opts.OverlapTokens == 0 {
		opts.OverlapTokens = DefaultOverlapTokens
	}
	return &MarkdownChunker{options: opts}
}

// Close releases chunker resources. MarkdownChunker is stateless.
func (c *MarkdownChunker) Close() {}

// SupportedExtensions returns file extensions this chunker handles.
func (c *MarkdownChunker) SupportedExtensions() []string {
	return []string{".md", ".markdown", ".mdx"}
}

// Chunk splits a markdown file into semantic chunks.
func (c *MarkdownChunker) Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error) {
	content := string(file.Content)
	if strings.TrimSpace(content) == "" {
		return nil, nil
	}

	var chunks []*Chunk
	remainingContent := content
	baseLineOffset := 1

	if frontmatterMatch := frontmatterPattern.FindStringSubmatch(remainingContent); frontmatterMatch != nil {
		frontmatter := frontmatterMatch[0]
		chunks = append(chunks, c.createFrontmatterChunk(file, frontmatter))
		remainingContent = remainingContent[len(frontmatter):]
		baseLineOffset = strings.Count(frontmatter, "\n") + 1
	}

	sections := c.parseSections(remainingContent)
	if len(sections) == 0 {
		return append(chunks, c.chunkByParagraphs(file, remainingContent, "", baseLineOffset)...), nil
	}

	sections = mergeUndersizedSections(sections, c.options.MaxChunkTokens)

	for _, sec := range sections {
		chunks = append(chunks, c.createSectionChunks(file, sec, baseLineOffset)...)
	}

	return chunks, nil
}

// section is a markdown heading's span, with its breadcrumb path.
type section struct {
	headerLevel int
	headerTitle string
	headerPath  string // e.g. "Guide > Installation > Requirements"
	content     string
	startLine   int // 0-indexed within remainingContent
}

func (c *MarkdownChunker) parseSections(content string) []*section {
	lines := strings.Split(content, "\n")
	var sections []*section
	headerStack := make([]string, 6)

	var current *section
	var builder strings.Builder

	for lineNum, line := range lines {
		if match := headerPattern.FindStringSubmatch(line); match != nil {
			if current != nil {
				current.content = builder.String()
				sections = append(sections, current)
				builder.Reset()
			}

			level := len(match[1])
			title := strings.TrimSpace(match[2])

			headerStack[level-1] = title
			for i := level; i < 6; i++ {
				headerStack[i] = ""
			}

			var pathParts []string
			for i := 0; i < level; i++ {
				if headerStack[i] != "" {
					pathParts = append(pathParts, headerStack[i])
				}
			}

			current = &section{
				headerLevel: level,
				headerTitle: title,
				headerPath:  strings.Join(pathParts, " > "),
				startLine:   lineNum,
			}
			builder.WriteString(line)
			builder.WriteString("\n")
		} else {
			builder.WriteString(line)
			builder.WriteString("\n")
		}
	}

	if current != nil {
		current.content = builder.String()
		sections = append(sections, current)
	}

	return sections
}

// mergeUndersizedSections folds a section below MinChunkTokens into the
// section immediately following it, whatever that section's heading level,
// as long as the two together fit in maxTokens; the merged section takes
// the following section's title and breadcrumb. A one-line heading with no
// body therefore doesn't become its own noise chunk.
func mergeUndersizedSections(sections []*section, maxTokens int) []*section {
	var merged []*section
	for i := 0; i < len(sections); i++ {
		sec := sections[i]
		if estimateTokens(sec.content) >= MinChunkTokens {
			merged = append(merged, sec)
			continue
		}
		if i+1 < len(sections) && estimateTokens(sec.content)+estimateTokens(sections[i+1].content) <= maxTokens {
			next := sections[i+1]
			combined := &section{
				headerLevel: next.headerLevel,
				headerTitle: next.headerTitle,
				headerPath:  next.headerPath,
				content:     sec.content + next.content,
				startLine:   sec.startLine,
			}
			sections[i+1] = combined
			continue
		}
		merged = append(merged, sec)
	}
	return merged
}

func (c *MarkdownChunker) createFrontmatterChunk(file *FileInput, content string) *Chunk {
	lineCount := strings.Count(content, "\n")
	if lineCount == 0 {
		lineCount = 1
	}
	hash := contentHash(content)

	return &Chunk{
		ID:          buildChunkID(file.Path, 1, hash),
		Origin:      file.Path,
		SourceType:  SourceTypeFile,
		Language:    "markdown",
		ChunkType:   ChunkTypeSection,
		Name:        "frontmatter",
		Content:     content,
		ContentHash: hash,
		LineStart:   1,
		LineEnd:     lineCount,
		SourceMtime: file.Mtime,
	}
}

// createSectionChunks creates one chunk per section, or a parent chunk
// plus non-overlapping window chunks (ParentID/WindowIdx set) when the
// section overflows MaxChunkTokens.
func (c *MarkdownChunker) createSectionChunks(file *FileInput, sec *section, baseLineOffset int) []*Chunk {
	content := strings.TrimRight(sec.content, "\n")
	trimmed := strings.TrimSpace(content)
	lines := strings.Split(trimmed, "\n")
	if len(lines) <= 1 && headerPattern.MatchString(trimmed) {
		return []*Chunk{} // header with no body
	}

	startLine := baseLineOffset + sec.startLine

	if estimateTokens(content) <= c.options.MaxChunkTokens {
		return []*Chunk{c.newSectionChunk(file, sec, content, startLine, "", 0)}
	}

	return c.splitLargeSection(file, sec, content, startLine)
}

func (c *MarkdownChunker) newSectionChunk(file *FileInput, sec *section, content string, startLine int, parentID string, windowIdx int) *Chunk {
	hash := contentHash(content)
	return &Chunk{
		ID:          buildChunkID(file.Path, startLine, hash),
		Origin:      file.Path,
		SourceType:  SourceTypeFile,
		Language:    "markdown",
		ChunkType:   ChunkTypeSection,
		Name:        sec.headerTitle,
		Signature:   sec.headerPath,
		Content:     content,
		ContentHash: hash,
		LineStart:   startLine,
		LineEnd:     startLine + strings.Count(content, "\n"),
		SourceMtime: file.Mtime,
		ParentID:    parentID,
		WindowIdx:   windowIdx,
	}
}

func (c *MarkdownChunker) splitLargeSection(file *FileInput, sec *section, content string, startLine int) []*Chunk {
	atomicBlocks := c.findAtomicBlocks(content)
	paragraphs := c.splitByParagraphs(content, atomicBlocks)

	parent := c.newSectionChunk(file, sec, firstParagraphPreview(content), startLine, "", 0)

	var chunks []*Chunk
	var currentContent strings.Builder
	currentStartLine := startLine
	lineCount := 0
	windowIdx := 1

	flush := func() {
		if currentContent.Len() == 0 {
			return
		}
		chunk := c.newSectionChunk(file, sec, strings.TrimRight(currentContent.String(), "\n "), currentStartLine, parent.ID, windowIdx)
		chunks = append(chunks, chunk)
		windowIdx++
		currentContent.Reset()
		currentStartLine = startLine + lineCount
	}

	for i, para := range paragraphs {
		paraLines := strings.Count(para, "\n") + 1
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(currentContent.String())

		if currentContent.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			flush()
			if i > 0 {
				currentContent.WriteString("<!-- Section: ")
				currentContent.WriteString(sec.headerPath)
				currentContent.WriteString(" -->\n\n")
			}
		}

		currentContent.WriteString(para)
		currentContent.WriteString("\n\n")
		lineCount += paraLines + 1
	}
	flush()

	return append([]*Chunk{parent}, chunks...)
}

func firstParagraphPreview(content string) string {
	parts := strings.SplitN(content, "\n\n", 2)
	return strings.TrimSpace(parts[0])
}

func (c *MarkdownChunker) findAtomicBlocks(content string) [][]int {
	var blocks [][]int
	blocks = append(blocks, codeBlockPattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, tablePattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, mdxSelfClosingPattern.FindAllStringIndex(content, -1)...)
	blocks = append(blocks, c.findMDXBlockComponents(content)...)
	return blocks
}

func (c *MarkdownChunker) findMDXBlockComponents(content string) [][]int {
	var locs [][]int
	openTagPattern := regexp.MustCompile(`<([A-Z][a-zA-Z0-9]*)[^/>]*>`)
	matches := openTagPattern.FindAllStringSubmatchIndex(content, -1)

	for _, match := range matches {
		if len(match) < 4 {
			continue
		}
		tagName := content[match[2]:match[3]]
		closeTag := "</" + tagName + ">"
		startPos := match[0]

		if closePos := strings.Index(content[match[1]:], closeTag); closePos != -1 {
			locs = append(locs, []int{startPos, match[1] + closePos + len(closeTag)})
		}
	}

	return locs
}

func (c *MarkdownChunker) splitByParagraphs(content string, atomicBlocks [][]int) []string {
	parts := strings.Split(content, "\n\n")

	var paragraphs []string
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			paragraphs = append(paragraphs, trimmed)
		}
	}

	return c.mergeAtomicBlocks(paragraphs)
}

func (c *MarkdownChunker) mergeAtomicBlocks(paragraphs []string) []string {
	var result []string
	var inCodeBlock bool
	var codeBlockBuilder strings.Builder

	for _, para := range paragraphs {
		if inCodeBlock {
			codeBlockBuilder.WriteString("\n\n")
			codeBlockBuilder.WriteString(para)
			if strings.Contains(para, "```") {
				result = append(result, codeBlockBuilder.String())
				codeBlockBuilder.Reset()
				inCodeBlock = false
			}
			continue
		}

		if openCount := strings.Count(para, "```"); openCount > 0 && openCount%2 == 1 {
			inCodeBlock = true
			codeBlockBuilder.WriteString(para)
			continue
		}

		result = append(result, para)
	}

	if inCodeBlock {
		result = append(result, codeBlockBuilder.String())
	}

	return result
}

// chunkByParagraphs chunks content with no headings at all.
func (c *MarkdownChunker) chunkByParagraphs(file *FileInput, content, headerPath string, startLine int) []*Chunk {
	paragraphs := strings.Split(content, "\n\n")

	var chunks []*Chunk
	var currentContent strings.Builder
	currentStartLine := startLine
	lineCount := 0
	windowIdx := 0

	flush := func() {
		if currentContent.Len() == 0 {
			return
		}
		chunkContent := currentContent.String()
		hash := contentHash(chunkContent)
		chunks = append(chunks, &Chunk{
			ID:          buildChunkID(file.Path, currentStartLine, hash),
			Origin:      file.Path,
			SourceType:  SourceTypeFile,
			Language:    "markdown",
			ChunkType:   ChunkTypeSection,
			Name:        headerPath,
			Content:     chunkContent,
			ContentHash: hash,
			LineStart:   currentStartLine,
			LineEnd:     currentStartLine + lineCount,
			SourceMtime: file.Mtime,
			WindowIdx:   windowIdx,
		})
		windowIdx++
		currentContent.Reset()
		currentStartLine = startLine + lineCount
	}

	for _, para := range paragraphs {
		para = strings.TrimSpace(para)
		if para == "" {
			continue
		}

		paraLines := strings.Count(para, "\n") + 1
		paraTokens := estimateTokens(para)
		currentTokens := estimateTokens(currentContent.String())

		if currentContent.Len() > 0 && currentTokens+paraTokens > c.options.MaxChunkTokens {
			flush()
		}

		if currentContent.Len() > 0 {
			currentContent.WriteString("\n\n")
		}
		currentContent.WriteString(para)
		lineCount += paraLines + 1
	}
	flush()

	return chunks
}
