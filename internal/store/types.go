// Package store owns the SQLite-backed persistence layer: chunks, their
// full-text index, the call/type graph, and index metadata. One store
// wraps one database file and enforces single-writer discipline through
// the connection pool, not through application-level locking (that is
// internal/lock's job at a higher level).
package store

import "github.com/jamie8johnson/cqs/internal/chunk"

// CurrentSchemaVersion is the schema version this build writes and expects
// to read. Opening a store with a lower version fails SchemaMismatch;
// higher fails SchemaNewerThanBinary.
const CurrentSchemaVersion = 1

// FunctionCall is a directed call edge, caller name to callee name.
// Callees are kept name-only when unresolved; resolution happens at
// query time by joining against chunks.name.
type FunctionCall struct {
	Caller string
	Callee string
	File   string
	Line   int
}

// TypeRefKind classifies why a chunk refers to a type.
type TypeRefKind string

const (
	TypeRefParam  TypeRefKind = "param_type"
	TypeRefReturn TypeRefKind = "return_type"
	TypeRefField  TypeRefKind = "field_type"
	TypeRefImpl   TypeRefKind = "impl_type"
	TypeRefBound  TypeRefKind = "bound_type"
	TypeRefAlias  TypeRefKind = "alias_type"
	TypeRefOther  TypeRefKind = "type_ref"
)

// TypeRef is a directed edge from a chunk to a type name it mentions.
type TypeRef struct {
	ReferrerChunkID string
	TypeName        string
	Kind            TypeRefKind
	File            string
}

// DeadFuncConfidence ranks how sure the dead-code detector is.
type DeadFuncConfidence string

const (
	DeadConfidenceHigh   DeadFuncConfidence = "high"
	DeadConfidenceMedium DeadFuncConfidence = "medium"
	DeadConfidenceLow    DeadFuncConfidence = "low"
)

// DeadFunc is a chunk with no incoming call edges.
type DeadFunc struct {
	ChunkID    string
	Name       string
	Origin     string
	LineStart  int
	Confidence DeadFuncConfidence
}

// EmbeddingRow is one page entry from EmbeddingBatches.
type EmbeddingRow struct {
	ID        string
	Embedding []byte
}

// StaleReport is the result of comparing stored mtimes against the
// files currently on disk.
type StaleReport struct {
	Stale   []string
	Missing []string
}

// chunkColumns lists the chunks table columns in the order every
// SELECT/INSERT in this package uses, so scans and binds stay aligned.
var chunkColumns = []string{
	"id", "origin", "source_type", "language", "chunk_type", "name",
	"signature", "content", "content_hash", "doc", "line_start", "line_end",
	"embedding", "source_mtime", "parent_id", "window_idx", "parent_type_name",
}

func chunkFromRow(scan func(dest ...any) error) (*chunk.Chunk, error) {
	c := &chunk.Chunk{}
	var parentID, parentTypeName *string
	var windowIdx *int
	err := scan(
		&c.ID, &c.Origin, &c.SourceType, &c.Language, &c.ChunkType, &c.Name,
		&c.Signature, &c.Content, &c.ContentHash, &c.Doc, &c.LineStart, &c.LineEnd,
		&c.Embedding, &c.SourceMtime, &parentID, &windowIdx, &parentTypeName,
	)
	if err != nil {
		return nil, err
	}
	if parentID != nil {
		c.ParentID = *parentID
	}
	if windowIdx != nil {
		c.WindowIdx = *windowIdx
	}
	if parentTypeName != nil {
		c.ParentTypeName = *parentTypeName
	}
	return c, nil
}
