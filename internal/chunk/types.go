package chunk

import (
	"context"
)

// Chunk size defaults (based on 2025 RAG research)
const (
	DefaultMaxChunkTokens = 512 // Optimal for 85-90% recall
	DefaultOverlapTokens  = 64  // ~12.5% overlap
	MinChunkTokens        = 100 // Minimum viable chunk
	TokensPerChar         = 4   // Rough approximation: 4 chars = 1 token

	// EmbeddingDimensions is 768 model dimensions plus one sentiment slot.
	EmbeddingDimensions = 769
)

// ChunkType is the symbol kind a chunk was extracted from.
type ChunkType string

const (
	ChunkTypeFunction  ChunkType = "function"
	ChunkTypeMethod    ChunkType = "method"
	ChunkTypeClass     ChunkType = "class"
	ChunkTypeStruct    ChunkType = "struct"
	ChunkTypeEnum      ChunkType = "enum"
	ChunkTypeTrait     ChunkType = "trait"
	ChunkTypeInterface ChunkType = "interface"
	ChunkTypeConstant  ChunkType = "constant"
	ChunkTypeSection   ChunkType = "section"
	ChunkTypeProperty  ChunkType = "property"
	ChunkTypeDelegate  ChunkType = "delegate"
	ChunkTypeEvent     ChunkType = "event"
)

// SourceType distinguishes where a chunk's bytes came from. Everything
// indexed today originates from a file on disk, but the field exists so
// future sources (e.g. a generated doc) don't need a schema change.
type SourceType string

const SourceTypeFile SourceType = "file"

// Chunk is a retrievable, content-addressable unit of source.
//
// Identity: ID = "{Origin}:{LineStart}:{hash8}" where hash8 is the first
// 8 hex characters of BLAKE3(Content). Changing a chunk's body changes
// its ID; reformatting without changing content changes it too, because
// the hash covers the full content verbatim (see DESIGN.md Open
// Questions on whitespace-only edits).
type Chunk struct {
	ID         string
	Origin     string // project-root-relative, forward-slashed
	SourceType SourceType
	Language   string
	ChunkType  ChunkType
	Name       string
	Signature  string
	Content    string
	ContentHash string // full BLAKE3 hex digest of Content
	Doc        string

	LineStart int // 1-indexed
	LineEnd   int // inclusive

	Embedding []byte // 769 little-endian f32 packed into a BLOB; nil until embedded

	SourceMtime int64 // unix seconds, mtime of the origin file at parse time

	ParentID       string // optional: owning section/window chunk
	WindowIdx      int    // optional: position among sibling windows of a split symbol
	ParentTypeName string // optional: enclosing type for a method (e.g. the receiver/impl target)
}

// FileInput is input for the Chunker interface.
type FileInput struct {
	Path     string // project-root-relative path
	Content  []byte
	Language string
	Mtime    int64
}

// Chunker splits a file into semantic chunks.
type Chunker interface {
	Chunk(ctx context.Context, file *FileInput) ([]*Chunk, error)
	SupportedExtensions() []string
}

// Symbol is a code symbol extracted from parsing, prior to chunk assembly.
type Symbol struct {
	Name           string
	Type           ChunkType
	StartLine      int
	EndLine        int
	Signature      string
	DocComment     string
	ParentTypeName string
}

// Tree is a parsed AST.
type Tree struct {
	Root     *Node
	Source   []byte
	Language string
}

// Node is a node in the AST.
type Node struct {
	Type       string
	StartByte  uint32
	EndByte    uint32
	StartPoint Point
	EndPoint   Point
	Children   []*Node
	HasError   bool
}

// Point is a position in source code.
type Point struct {
	Row    uint32 // 0-indexed line number
	Column uint32
}

// LanguageConfig holds tree-sitter node-type mappings for a language.
type LanguageConfig struct {
	Name       string
	Extensions []string

	FunctionTypes  []string
	ClassTypes     []string
	StructTypes    []string
	EnumTypes      []string
	TraitTypes     []string
	InterfaceTypes []string
	MethodTypes    []string
	TypeDefTypes   []string
	ConstantTypes  []string
	VariableTypes  []string
	PropertyTypes  []string

	// NameField is the tree-sitter field name holding a symbol's identifier.
	NameField string
}

// GetContent returns the source content for a node.
func (n *Node) GetContent(source []byte) string {
	if n.StartByte >= n.EndByte || int(n.EndByte) > len(source) {
		return ""
	}
	return string(source[n.StartByte:n.EndByte])
}

// FindChildByType finds the first child with the given type.
func (n *Node) FindChildByType(nodeType string) *Node {
	for _, child := range n.Children {
		if child.Type == nodeType {
			return child
		}
	}
	return nil
}

// FindChildrenByType finds all children with the given type (non-recursive).
func (n *Node) FindChildrenByType(nodeType string) []*Node {
	var result []*Node
	for _, child := range n.Children {
		if child.Type == nodeType {
			result = append(result, child)
		}
	}
	return result
}

// FindAllByType recursively finds all nodes with the given type.
func (n *Node) FindAllByType(nodeType string) []*Node {
	var result []*Node
	if n.Type == nodeType {
		result = append(result, n)
	}
	for _, child := range n.Children {
		result = append(result, child.FindAllByType(nodeType)...)
	}
	return result
}

// Walk traverses the tree depth-first, calling fn for each node. fn
// returns false to skip a node's children.
func (n *Node) Walk(fn func(*Node) bool) {
	if !fn(n) {
		return
	}
	for _, child := range n.Children {
		child.Walk(fn)
	}
}
