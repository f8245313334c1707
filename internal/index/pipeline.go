// Package index runs the indexing pipeline: scan the project tree,
// chunk each file, reuse embeddings whose content hasn't changed,
// compute embeddings for the rest in batches, and write everything to
// the store and vector index in one pass per file group.
package index

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/embed"
	cqserrors "github.com/jamie8johnson/cqs/internal/errors"
	"github.com/jamie8johnson/cqs/internal/lock"
	"github.com/jamie8johnson/cqs/internal/scanner"
	"github.com/jamie8johnson/cqs/internal/store"
	"github.com/jamie8johnson/cqs/internal/vectorindex"
)

// embedBatchSize caps how many chunks are embedded in one EmbedBatch
// call, keeping memory and any remote-model request size bounded.
const embedBatchSize = 32

// hnswRebuildBatchSize matches the vector index's own guidance for
// streamed builds of large corpora.
const hnswRebuildBatchSize = 10000

// VectorIndexName is the base name vectorindex.Save/Load uses for the
// four files that make up one on-disk HNSW index, shared with callers
// that need to reload it after a run (e.g. a long-lived search process).
const VectorIndexName = "vectors"

// Config configures one pipeline run.
type Config struct {
	RootDir  string // project root to scan
	IndexDir string // directory holding the store file and vector index
	Offline  bool   // skip network-backed embedder providers
}

// Dependencies are the collaborators a Pipeline drives. All fields are
// required except MarkdownChunker, which defaults to chunk.NewMarkdownChunker,
// and Log, which defaults to slog.Default().
// The pipeline owns vector-index construction itself (see Result.Vector);
// it does not take a live *vectorindex.Index to mutate, since a rebuild
// replaces the whole structure rather than updating one in place.
type Dependencies struct {
	Store           *store.Store
	Embedder        embed.Embedder
	Scanner         *scanner.Scanner
	CodeChunker     chunk.Chunker
	MarkdownChunker chunk.Chunker
	Log             *slog.Logger
}

// Result summarizes one pipeline run.
type Result struct {
	FilesScanned   int
	ChunksWritten  int
	ChunksReused   int
	ChunksComputed int
	FilesPruned    int
	Duration       time.Duration
	Interrupted    bool
	Errors         []error

	// Vector is the freshly rebuilt, already-saved index when
	// ChunksWritten > 0. Callers that hold a live vector index for
	// querying in the same process should swap it in; a fresh CLI
	// invocation can just reload it from disk via vectorindex.Load.
	Vector *vectorindex.Index
}

// Pipeline runs the parse -> embed -> write stages against one index
// directory, serialized against other writers by internal/lock.
type Pipeline struct {
	cfg       Config
	deps      Dependencies
	interrupt atomic.Bool
}

// New returns a Pipeline. MarkdownChunker and Log default when nil.
func New(cfg Config, deps Dependencies) *Pipeline {
	if deps.MarkdownChunker == nil {
		deps.MarkdownChunker = chunk.NewMarkdownChunker()
	}
	if deps.Log == nil {
		deps.Log = slog.Default()
	}
	return &Pipeline{cfg: cfg, deps: deps}
}

// Interrupt requests the run stop at the next safe checkpoint (between
// files during parse, between batches during embed). Intended to be
// called from a signal handler; safe to call from any goroutine.
func (p *Pipeline) Interrupt() {
	p.interrupt.Store(true)
}

func (p *Pipeline) interrupted() bool {
	return p.interrupt.Load()
}

// Run executes one full index of cfg.RootDir. It acquires the
// process-wide index lock before the parse stage, holds it through
// embed and write, and releases it before returning.
func (p *Pipeline) Run(ctx context.Context) (*Result, error) {
	start := time.Now()
	result := &Result{}

	fileLock := lock.New(p.cfg.IndexDir)
	if err := fileLock.Lock(); err != nil {
		return nil, cqserrors.LockBusy(p.cfg.IndexDir, 0)
	}
	defer func() { _ = fileLock.Unlock() }()

	chunksByOrigin, existing, err := p.parse(ctx, result)
	if err != nil {
		return result, err
	}
	if p.interrupted() {
		result.Interrupted = true
		result.Duration = time.Since(start)
		return result, nil
	}

	allChunks := flatten(chunksByOrigin)
	known := knownNames(allChunks)

	if err := p.embed(ctx, allChunks, result); err != nil {
		return result, err
	}
	if p.interrupted() {
		result.Interrupted = true
		result.Duration = time.Since(start)
		return result, nil
	}

	if err := p.write(ctx, chunksByOrigin, known, result); err != nil {
		return result, err
	}

	if err := p.deps.Store.PruneMissing(ctx, existing); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("prune missing files: %w", err))
	}
	if err := p.deps.Store.PruneStaleCalls(ctx); err != nil {
		result.Errors = append(result.Errors, fmt.Errorf("prune stale calls: %w", err))
	}

	if result.ChunksWritten > 0 {
		vec, err := p.rebuildVectorIndex(ctx)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("rebuild vector index: %w", err))
		} else {
			result.Vector = vec
		}
	}

	result.Duration = time.Since(start)
	return result, nil
}

// parse scans the project tree and chunks every discovered file,
// skipping files whose stored mtime is already current. existing is the
// full set of origins seen on disk, including unchanged ones, for the
// prune-missing pass that follows.
func (p *Pipeline) parse(ctx context.Context, result *Result) (map[string][]*chunk.Chunk, map[string]struct{}, error) {
	resultsCh, err := p.deps.Scanner.Scan(ctx, &scanner.ScanOptions{
		RootDir:          p.cfg.RootDir,
		RespectGitignore: true,
	})
	if err != nil {
		return nil, nil, fmt.Errorf("scan project: %w", err)
	}

	chunksByOrigin := map[string][]*chunk.Chunk{}
	existing := map[string]struct{}{}

	for res := range resultsCh {
		if p.interrupted() {
			break
		}
		if res.Error != nil {
			result.Errors = append(result.Errors, res.Error)
			continue
		}
		file := res.File
		existing[file.Path] = struct{}{}
		result.FilesScanned++

		reindexFrom, err := p.deps.Store.NeedsReindex(ctx, file.Path, file.ModTime.Unix())
		if err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("check %s: %w", file.Path, err))
			continue
		}
		if reindexFrom == nil {
			continue
		}

		chunks, err := p.chunkFile(ctx, file)
		if err != nil {
			result.Errors = append(result.Errors, cqserrors.ParseErrorFor(file.Path, err))
			continue
		}
		if len(chunks) > 0 {
			chunksByOrigin[file.Path] = chunks
		}
	}
	return chunksByOrigin, existing, nil
}

func (p *Pipeline) chunkFile(ctx context.Context, file *scanner.FileInfo) ([]*chunk.Chunk, error) {
	content, err := os.ReadFile(file.AbsPath)
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", file.AbsPath, err)
	}

	chunker := p.deps.CodeChunker
	if file.ContentType == scanner.ContentTypeMarkdown {
		chunker = p.deps.MarkdownChunker
	}
	if chunker == nil {
		return nil, nil
	}

	input := &chunk.FileInput{
		Path:     file.Path,
		Content:  content,
		Language: file.Language,
		Mtime:    file.ModTime.Unix(),
	}
	return chunker.Chunk(ctx, input)
}

func flatten(byOrigin map[string][]*chunk.Chunk) []*chunk.Chunk {
	var all []*chunk.Chunk
	for _, chunks := range byOrigin {
		all = append(all, chunks...)
	}
	return all
}

func knownNames(chunks []*chunk.Chunk) map[string]struct{} {
	known := make(map[string]struct{}, len(chunks))
	for _, c := range chunks {
		if c.ChunkType == chunk.ChunkTypeFunction || c.ChunkType == chunk.ChunkTypeMethod {
			known[c.Name] = struct{}{}
		}
	}
	return known
}

// embed reuses embeddings for content hashes the store already has and
// computes the rest in fixed-size batches, checking the interrupt flag
// between batches so a signal lands within one batch of stopping. A
// batch that fails is retried once, split into two halves.
func (p *Pipeline) embed(ctx context.Context, chunks []*chunk.Chunk, result *Result) error {
	if len(chunks) == 0 {
		return nil
	}

	hashes := make([]string, 0, len(chunks))
	for _, c := range chunks {
		hashes = append(hashes, c.ContentHash)
	}
	cached, err := p.deps.Store.GetEmbeddingsByHashes(ctx, hashes)
	if err != nil {
		return fmt.Errorf("look up cached embeddings: %w", err)
	}

	var toCompute []*chunk.Chunk
	for _, c := range chunks {
		if emb, ok := cached[c.ContentHash]; ok {
			c.Embedding = emb
			result.ChunksReused++
			continue
		}
		toCompute = append(toCompute, c)
	}

	for i := 0; i < len(toCompute); i += embedBatchSize {
		if p.interrupted() {
			return nil
		}
		end := i + embedBatchSize
		if end > len(toCompute) {
			end = len(toCompute)
		}
		batch := toCompute[i:end]

		texts := make([]string, len(batch))
		for j, c := range batch {
			texts[j] = embedInput(c)
		}
		vectors, err := p.deps.Embedder.EmbedBatch(ctx, texts)
		if err != nil {
			p.deps.Log.Warn("embedding batch failed, retrying at reduced size", "size", len(texts), "error", err)
			vectors, err = nil, nil
			half := (len(texts) + 1) / 2
			for k := 0; k < len(texts) && err == nil; k += half {
				var part [][]float32
				part, err = p.deps.Embedder.EmbedBatch(ctx, texts[k:min(k+half, len(texts))])
				vectors = append(vectors, part...)
			}
		}
		if err != nil {
			return cqserrors.EmbeddingFailure(err)
		}
		if len(vectors) != len(batch) {
			return cqserrors.EmbeddingFailure(fmt.Errorf("embedder returned %d vectors for %d inputs", len(vectors), len(batch)))
		}
		for j, c := range batch {
			c.Embedding = packEmbedding(vectors[j])
			result.ChunksComputed++
		}
	}
	return nil
}

// embedInput is the text handed to the embedder: name and signature
// carry most of the semantic signal for short functions, so they're
// repeated ahead of the body.
func embedInput(c *chunk.Chunk) string {
	if c.Doc != "" {
		return c.Name + "\n" + c.Signature + "\n" + c.Doc + "\n" + c.Content
	}
	return c.Name + "\n" + c.Signature + "\n" + c.Content
}

func packEmbedding(vec []float32) []byte {
	buf := make([]byte, len(vec)*4)
	for i, f := range vec {
		binary.LittleEndian.PutUint32(buf[i*4:], math.Float32bits(f))
	}
	return buf
}

func unpackEmbedding(buf []byte) []float32 {
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[i*4:]))
	}
	return vec
}

// write upserts each file's chunks and derived call/type edges as one
// group per origin, so a crash mid-run leaves whole files consistent
// rather than partially-written ones.
func (p *Pipeline) write(ctx context.Context, chunksByOrigin map[string][]*chunk.Chunk, known map[string]struct{}, result *Result) error {
	for origin, chunks := range chunksByOrigin {
		if p.interrupted() {
			return nil
		}
		if err := p.deps.Store.UpsertChunksBatch(ctx, chunks); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("write chunks for %s: %w", origin, err))
			continue
		}
		result.ChunksWritten += len(chunks)

		var calls []store.FunctionCall
		var typeRefs []store.TypeRef
		for _, c := range chunks {
			calls = append(calls, ExtractCalls(c, known)...)
			typeRefs = append(typeRefs, ExtractTypeRefs(c)...)
		}
		if err := p.deps.Store.UpsertFunctionCalls(ctx, origin, calls); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("write calls for %s: %w", origin, err))
		}
		if err := p.deps.Store.UpsertTypeEdgesForFile(ctx, origin, typeRefs); err != nil {
			result.Errors = append(result.Errors, fmt.Errorf("write type edges for %s: %w", origin, err))
		}
	}
	return nil
}

// rebuildVectorIndex streams every chunk with an embedding out of the
// store in pages and rebuilds the HNSW graph from scratch, then saves
// it atomically into the index directory. A full rebuild (rather than
// an incremental insert) keeps the graph free of entries for chunks
// that were just pruned.
func (p *Pipeline) rebuildVectorIndex(ctx context.Context) (*vectorindex.Index, error) {
	fresh := vectorindex.New()

	var pages [][]store.EmbeddingRow
	if err := p.deps.Store.EmbeddingBatches(ctx, hnswRebuildBatchSize, func(page []store.EmbeddingRow) error {
		pages = append(pages, page)
		return nil
	}); err != nil {
		return nil, fmt.Errorf("stream embeddings: %w", err)
	}

	idx := 0
	if err := fresh.BuildBatched(func() ([]string, [][]float32, bool) {
		if idx >= len(pages) {
			return nil, nil, false
		}
		page := pages[idx]
		idx++
		ids := make([]string, len(page))
		vecs := make([][]float32, len(page))
		for i, row := range page {
			ids[i] = row.ID
			vecs[i] = unpackEmbedding(row.Embedding)
		}
		return ids, vecs, true
	}, hnswRebuildBatchSize); err != nil {
		return nil, fmt.Errorf("build index: %w", err)
	}

	if err := fresh.Save(p.cfg.IndexDir, VectorIndexName); err != nil {
		return nil, fmt.Errorf("save index: %w", err)
	}
	return vectorindex.Load(p.cfg.IndexDir, VectorIndexName)
}

// StoreFileName is the sqlite file name inside an index directory,
// shared with internal/reference's read-only-secondary-index convention.
const StoreFileName = "cqs.db"

// StorePath returns the sqlite file path for an index directory.
func StorePath(indexDir string) string {
	return filepath.Join(indexDir, StoreFileName)
}
