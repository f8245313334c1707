package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	cqserrors "github.com/jamie8johnson/cqs/internal/errors"
	"github.com/jamie8johnson/cqs/internal/chunk"
)

const schema = `
CREATE TABLE IF NOT EXISTS metadata (
	key   TEXT PRIMARY KEY,
	value TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS chunks (
	id               TEXT PRIMARY KEY,
	origin           TEXT NOT NULL,
	source_type      TEXT NOT NULL,
	language         TEXT NOT NULL,
	chunk_type       TEXT NOT NULL,
	name             TEXT NOT NULL,
	signature        TEXT NOT NULL,
	content          TEXT NOT NULL,
	content_hash     TEXT NOT NULL,
	doc              TEXT NOT NULL DEFAULT '',
	line_start       INTEGER NOT NULL,
	line_end         INTEGER NOT NULL,
	embedding        BLOB,
	source_mtime     INTEGER NOT NULL,
	parent_id        TEXT,
	window_idx       INTEGER,
	parent_type_name TEXT
);
CREATE INDEX IF NOT EXISTS idx_chunks_origin ON chunks(origin);
CREATE INDEX IF NOT EXISTS idx_chunks_name ON chunks(name);
CREATE INDEX IF NOT EXISTS idx_chunks_content_hash ON chunks(content_hash);
CREATE INDEX IF NOT EXISTS idx_chunks_parent ON chunks(parent_id);

CREATE VIRTUAL TABLE IF NOT EXISTS chunks_fts USING fts5(
	id UNINDEXED,
	name,
	signature,
	content,
	doc,
	tokenize='unicode61'
);

CREATE TABLE IF NOT EXISTS function_calls (
	caller TEXT NOT NULL,
	callee TEXT NOT NULL,
	file   TEXT NOT NULL,
	line   INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_calls_caller ON function_calls(caller);
CREATE INDEX IF NOT EXISTS idx_calls_callee ON function_calls(callee);
CREATE INDEX IF NOT EXISTS idx_calls_file ON function_calls(file);

CREATE TABLE IF NOT EXISTS type_refs (
	referrer_chunk_id TEXT NOT NULL,
	type_name         TEXT NOT NULL,
	kind              TEXT NOT NULL,
	file              TEXT NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_type_refs_name ON type_refs(type_name);
CREATE INDEX IF NOT EXISTS idx_type_refs_file ON type_refs(file);
`

// Store owns the chunk table, its FTS5 shadow index, the call/type graph
// tables and the metadata table, all in one SQLite file. It consolidates
// what an earlier iteration split across three separate components
// (metadata store, BM25 index, vector store): the vector index itself is
// a separate on-disk HNSW structure owned by internal/vectorindex, but
// everything that is naturally relational lives here behind one
// connection.
type Store struct {
	mu   sync.RWMutex
	db   *sql.DB
	path string
	log  *slog.Logger
}

// Open opens or creates the store at path (":memory:" for an ephemeral
// store used in tests). modelName and dim gate against the metadata
// row left by a previous run: a mismatch is a hard error before any
// write, per the embedding-dimension-is-fixed-at-compile-time invariant.
func Open(path string, modelName string, dim int, log *slog.Logger) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	var dsn string
	if path == ":memory:" || path == "" {
		dsn = "file::memory:?cache=shared"
	} else {
		if dir := filepath.Dir(path); dir != "." {
			if err := os.MkdirAll(dir, 0o700); err != nil {
				return nil, cqserrors.New(cqserrors.ErrCodeNoIndex, "create store directory", err)
			}
		}
		dsn = path + "?_journal_mode=WAL&_synchronous=NORMAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeNoIndex, "open store", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	for _, pragma := range []string{
		"PRAGMA journal_mode = WAL",
		"PRAGMA busy_timeout = 5000",
		"PRAGMA synchronous = NORMAL",
		"PRAGMA cache_size = -65536",
		"PRAGMA temp_store = MEMORY",
		"PRAGMA foreign_keys = ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, cqserrors.New(cqserrors.ErrCodeNoIndex, "set pragma", err)
		}
	}

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, cqserrors.New(cqserrors.ErrCodeNoIndex, "init schema", err)
	}

	s := &Store{db: db, path: path, log: log}
	if err := s.checkSchemaGate(modelName, dim); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) checkSchemaGate(modelName string, dim int) error {
	ctx := context.Background()
	version, err := s.getMetadata(ctx, "schema_version")
	if err != nil {
		return err
	}
	if version == "" {
		// Fresh store: stamp it.
		now := time.Now().UTC().Format(time.RFC3339)
		for k, v := range map[string]string{
			"schema_version": fmt.Sprintf("%d", CurrentSchemaVersion),
			"model_name":     modelName,
			"embedding_dim":  fmt.Sprintf("%d", dim),
			"created_at":     now,
			"updated_at":     now,
		} {
			if err := s.setMetadata(ctx, k, v); err != nil {
				return err
			}
		}
		return nil
	}

	var storedVersion int
	fmt.Sscanf(version, "%d", &storedVersion)
	if storedVersion < CurrentSchemaVersion {
		return cqserrors.New(cqserrors.ErrCodeSchemaMismatch, "index schema older than binary, rebuild required", nil)
	}
	if storedVersion > CurrentSchemaVersion {
		return cqserrors.New(cqserrors.ErrCodeSchemaNewerThanBin, "index schema newer than binary, upgrade required", nil)
	}

	storedModel, err := s.getMetadata(ctx, "model_name")
	if err != nil {
		return err
	}
	if storedModel != "" && modelName != "" && storedModel != modelName {
		return cqserrors.New(cqserrors.ErrCodeModelMismatch, fmt.Sprintf("index was built with model %q, running model is %q", storedModel, modelName), nil)
	}
	return nil
}

func (s *Store) getMetadata(ctx context.Context, key string) (string, error) {
	var value string
	err := s.db.QueryRowContext(ctx, `SELECT value FROM metadata WHERE key = ?`, key).Scan(&value)
	if err == sql.ErrNoRows {
		return "", nil
	}
	if err != nil {
		return "", cqserrors.New(cqserrors.ErrCodeInternal, "read metadata", err)
	}
	return value, nil
}

func (s *Store) setMetadata(ctx context.Context, key, value string) error {
	_, err := s.db.ExecContext(ctx, `INSERT INTO metadata(key, value) VALUES(?, ?)
		ON CONFLICT(key) DO UPDATE SET value = excluded.value`, key, value)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "write metadata", err)
	}
	return nil
}

// Close shuts the underlying connection down.
func (s *Store) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.db == nil {
		return nil
	}
	_, _ = s.db.Exec("PRAGMA wal_checkpoint(TRUNCATE)")
	return s.db.Close()
}

// UpsertChunksBatch replaces the given chunks and their FTS rows inside
// one transaction. normalize() tokenizes name/signature/content/doc the
// same way queries are normalized, so MATCH and indexing stay consistent.
func (s *Store) UpsertChunksBatch(ctx context.Context, chunks []*chunk.Chunk) error {
	if len(chunks) == 0 {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "begin upsert transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	insertChunk, err := tx.PrepareContext(ctx, `
		INSERT INTO chunks(id, origin, source_type, language, chunk_type, name, signature,
			content, content_hash, doc, line_start, line_end, embedding, source_mtime,
			parent_id, window_idx, parent_type_name)
		VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)
		ON CONFLICT(id) DO UPDATE SET
			origin=excluded.origin, source_type=excluded.source_type, language=excluded.language,
			chunk_type=excluded.chunk_type, name=excluded.name, signature=excluded.signature,
			content=excluded.content, content_hash=excluded.content_hash, doc=excluded.doc,
			line_start=excluded.line_start, line_end=excluded.line_end, embedding=excluded.embedding,
			source_mtime=excluded.source_mtime, parent_id=excluded.parent_id,
			window_idx=excluded.window_idx, parent_type_name=excluded.parent_type_name`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prepare chunk upsert", err)
	}
	defer insertChunk.Close()

	deleteFTS, err := tx.PrepareContext(ctx, `DELETE FROM chunks_fts WHERE id = ?`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prepare fts delete", err)
	}
	defer deleteFTS.Close()

	insertFTS, err := tx.PrepareContext(ctx, `INSERT INTO chunks_fts(id, name, signature, content, doc) VALUES (?,?,?,?,?)`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prepare fts insert", err)
	}
	defer insertFTS.Close()

	for _, c := range chunks {
		var parentID, parentTypeName any
		var windowIdx any
		if c.ParentID != "" {
			parentID = c.ParentID
		}
		if c.ParentTypeName != "" {
			parentTypeName = c.ParentTypeName
		}
		if c.WindowIdx != 0 || c.ParentID != "" {
			windowIdx = c.WindowIdx
		}

		if _, err := insertChunk.ExecContext(ctx, c.ID, c.Origin, string(c.SourceType), c.Language,
			string(c.ChunkType), c.Name, c.Signature, c.Content, c.ContentHash, c.Doc,
			c.LineStart, c.LineEnd, c.Embedding, c.SourceMtime, parentID, windowIdx, parentTypeName); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, fmt.Sprintf("upsert chunk %s", c.ID), err)
		}
		if _, err := deleteFTS.ExecContext(ctx, c.ID); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, "delete stale fts row", err)
		}
		if _, err := insertFTS.ExecContext(ctx, c.ID, normalize(c.Name), normalize(c.Signature), normalize(c.Content), normalize(c.Doc)); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, "insert fts row", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "commit upsert transaction", err)
	}
	return nil
}

// GetChunk returns a single chunk by id, or nil if absent.
func (s *Store) GetChunk(ctx context.Context, id string) (*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	row := s.db.QueryRowContext(ctx, `SELECT `+strings.Join(chunkColumns, ",")+` FROM chunks WHERE id = ?`, id)
	c, err := chunkFromRow(row.Scan)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "get chunk", err)
	}
	return c, nil
}

// GetChunks batch-loads chunks by id, in the order sqlite returns them.
func (s *Store) GetChunks(ctx context.Context, ids []string) ([]*chunk.Chunk, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := inClause(ids)
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(chunkColumns, ",")+` FROM chunks WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "get chunks", err)
	}
	defer rows.Close()

	var out []*chunk.Chunk
	for rows.Next() {
		c, err := chunkFromRow(rows.Scan)
		if err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksByOrigin returns every chunk extracted from a given file.
func (s *Store) GetChunksByOrigin(ctx context.Context, origin string) ([]*chunk.Chunk, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(chunkColumns, ",")+` FROM chunks WHERE origin = ?`, origin)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "get chunks by origin", err)
	}
	defer rows.Close()

	var out []*chunk.Chunk
	for rows.Next() {
		c, err := chunkFromRow(rows.Scan)
		if err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan chunk", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetChunksByNames batch-resolves chunk names to their chunks. Names are
// not unique (overloads, same-named methods on different types), so each
// name may map to more than one chunk; callers that need one pick by file
// or take the first.
func (s *Store) GetChunksByNames(ctx context.Context, names []string) (map[string][]*chunk.Chunk, error) {
	if len(names) == 0 {
		return map[string][]*chunk.Chunk{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := inClause(names)
	rows, err := s.db.QueryContext(ctx, `SELECT `+strings.Join(chunkColumns, ",")+` FROM chunks WHERE name IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "get chunks by name", err)
	}
	defer rows.Close()

	out := map[string][]*chunk.Chunk{}
	for rows.Next() {
		c, err := chunkFromRow(rows.Scan)
		if err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan chunk", err)
		}
		out[c.Name] = append(out[c.Name], c)
	}
	return out, rows.Err()
}

// NeedsReindex compares the stored mtime for origin against currentMtime.
// It returns currentMtime when reindexing is required, else nil.
func (s *Store) NeedsReindex(ctx context.Context, origin string, currentMtime int64) (*int64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var storedMtime int64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(source_mtime) FROM chunks WHERE origin = ?`, origin).Scan(&storedMtime)
	if err == sql.ErrNoRows || storedMtime == 0 {
		return &currentMtime, nil
	}
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "check reindex staleness", err)
	}
	if storedMtime < currentMtime {
		return &currentMtime, nil
	}
	return nil, nil
}

// ListStaleFiles reports which indexed origins are stale against the
// current mtimes map, and which no longer exist on disk at all.
func (s *Store) ListStaleFiles(ctx context.Context, existing map[string]int64) (*StaleReport, error) {
	s.mu.RLock()
	rows, err := s.db.QueryContext(ctx, `SELECT origin, MAX(source_mtime) FROM chunks GROUP BY origin`)
	s.mu.RUnlock()
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "list stale files", err)
	}
	defer rows.Close()

	report := &StaleReport{}
	seen := make(map[string]bool)
	for rows.Next() {
		var origin string
		var storedMtime int64
		if err := rows.Scan(&origin, &storedMtime); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan stale row", err)
		}
		seen[origin] = true
		currentMtime, ok := existing[origin]
		if !ok {
			report.Missing = append(report.Missing, origin)
			continue
		}
		if currentMtime > storedMtime {
			report.Stale = append(report.Stale, origin)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return report, nil
}

// PruneMissing deletes every chunk whose origin is absent from existing,
// in batches of at most 100 origins to stay under SQLite's parameter limit.
func (s *Store) PruneMissing(ctx context.Context, existing map[string]struct{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.QueryContext(ctx, `SELECT DISTINCT origin FROM chunks`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "list origins for prune", err)
	}
	var stale []string
	for rows.Next() {
		var origin string
		if err := rows.Scan(&origin); err != nil {
			rows.Close()
			return cqserrors.New(cqserrors.ErrCodeInternal, "scan origin for prune", err)
		}
		if _, ok := existing[origin]; !ok {
			stale = append(stale, origin)
		}
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for i := 0; i < len(stale); i += 100 {
		end := i + 100
		if end > len(stale) {
			end = len(stale)
		}
		placeholders, args := inClause(stale[i:end])
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks WHERE origin IN (`+placeholders+`)`, args...); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, "prune chunks batch", err)
		}
		if _, err := s.db.ExecContext(ctx, `DELETE FROM chunks_fts WHERE id IN (SELECT id FROM chunks WHERE origin IN (`+placeholders+`))`, args...); err != nil {
			// chunks already deleted above; fts cleanup best-effort via id list captured before delete
			s.log.Warn("fts_prune_skip", slog.String("reason", err.Error()))
		}
	}
	return nil
}

// PruneStaleCalls removes call edges whose caller no longer owns any chunk.
func (s *Store) PruneStaleCalls(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, err := s.db.ExecContext(ctx, `DELETE FROM function_calls WHERE caller NOT IN (SELECT DISTINCT name FROM chunks)`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prune stale calls", err)
	}
	return nil
}

// GetEmbeddingsByHashes returns content_hash -> embedding for reuse
// before re-embedding unchanged content.
func (s *Store) GetEmbeddingsByHashes(ctx context.Context, hashes []string) (map[string][]byte, error) {
	if len(hashes) == 0 {
		return map[string][]byte{}, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	placeholders, args := inClause(hashes)
	rows, err := s.db.QueryContext(ctx, `SELECT content_hash, embedding FROM chunks WHERE content_hash IN (`+placeholders+`) AND embedding IS NOT NULL`, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "get embeddings by hash", err)
	}
	defer rows.Close()

	out := make(map[string][]byte, len(hashes))
	for rows.Next() {
		var hash string
		var embedding []byte
		if err := rows.Scan(&hash, &embedding); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan embedding row", err)
		}
		out[hash] = embedding
	}
	return out, rows.Err()
}

// EmbeddingBatches streams (id, embedding) pages of batchSize rows via
// LIMIT/OFFSET, calling fn once per page, for memory-bounded HNSW rebuilds.
func (s *Store) EmbeddingBatches(ctx context.Context, batchSize int, fn func([]EmbeddingRow) error) error {
	if batchSize <= 0 {
		batchSize = 1000
	}
	offset := 0
	for {
		s.mu.RLock()
		rows, err := s.db.QueryContext(ctx, `SELECT id, embedding FROM chunks WHERE embedding IS NOT NULL ORDER BY id LIMIT ? OFFSET ?`, batchSize, offset)
		if err != nil {
			s.mu.RUnlock()
			return cqserrors.New(cqserrors.ErrCodeInternal, "stream embeddings", err)
		}
		var page []EmbeddingRow
		for rows.Next() {
			var r EmbeddingRow
			if err := rows.Scan(&r.ID, &r.Embedding); err != nil {
				rows.Close()
				s.mu.RUnlock()
				return cqserrors.New(cqserrors.ErrCodeInternal, "scan embedding page", err)
			}
			page = append(page, r)
		}
		rerr := rows.Err()
		rows.Close()
		s.mu.RUnlock()
		if rerr != nil {
			return rerr
		}
		if len(page) == 0 {
			return nil
		}
		if err := fn(page); err != nil {
			return err
		}
		offset += batchSize
	}
}

// UpsertFunctionCalls replaces all call edges originating in file.
func (s *Store) UpsertFunctionCalls(ctx context.Context, file string, calls []FunctionCall) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "begin call edge transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM function_calls WHERE file = ?`, file); err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "clear call edges", err)
	}
	insert, err := tx.PrepareContext(ctx, `INSERT INTO function_calls(caller, callee, file, line) VALUES (?,?,?,?)`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prepare call edge insert", err)
	}
	defer insert.Close()
	for _, c := range calls {
		if _, err := insert.ExecContext(ctx, c.Caller, c.Callee, c.File, c.Line); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, "insert call edge", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "commit call edges", err)
	}
	return nil
}

// UpsertTypeEdgesForFile replaces all type-reference edges originating in file.
func (s *Store) UpsertTypeEdgesForFile(ctx context.Context, file string, edges []TypeRef) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "begin type edge transaction", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM type_refs WHERE file = ?`, file); err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "clear type edges", err)
	}
	insert, err := tx.PrepareContext(ctx, `INSERT INTO type_refs(referrer_chunk_id, type_name, kind, file) VALUES (?,?,?,?)`)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "prepare type edge insert", err)
	}
	defer insert.Close()
	for _, e := range edges {
		if _, err := insert.ExecContext(ctx, e.ReferrerChunkID, e.TypeName, string(e.Kind), e.File); err != nil {
			return cqserrors.New(cqserrors.ErrCodeInternal, "insert type edge", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return cqserrors.New(cqserrors.ErrCodeInternal, "commit type edges", err)
	}
	return nil
}

// GetTypeRefsByType returns every chunk that references typeName.
func (s *Store) GetTypeRefsByType(ctx context.Context, typeName string) ([]TypeRef, error) {
	return s.queryTypeRefs(ctx, `SELECT referrer_chunk_id, type_name, kind, file FROM type_refs WHERE type_name = ?`, typeName)
}

// GetTypeRefsByChunk returns every type a chunk references.
func (s *Store) GetTypeRefsByChunk(ctx context.Context, chunkID string) ([]TypeRef, error) {
	return s.queryTypeRefs(ctx, `SELECT referrer_chunk_id, type_name, kind, file FROM type_refs WHERE referrer_chunk_id = ?`, chunkID)
}

func (s *Store) queryTypeRefs(ctx context.Context, query string, args ...any) ([]TypeRef, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "query type refs", err)
	}
	defer rows.Close()
	var out []TypeRef
	for rows.Next() {
		var t TypeRef
		var kind string
		if err := rows.Scan(&t.ReferrerChunkID, &t.TypeName, &kind, &t.File); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan type ref", err)
		}
		t.Kind = TypeRefKind(kind)
		out = append(out, t)
	}
	return out, rows.Err()
}

// GetCallGraph returns forward (caller -> callees) and reverse
// (callee -> callers) adjacency maps keyed by name.
func (s *Store) GetCallGraph(ctx context.Context) (forward, reverse map[string][]string, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `SELECT caller, callee FROM function_calls`)
	if err != nil {
		return nil, nil, cqserrors.New(cqserrors.ErrCodeInternal, "load call graph", err)
	}
	defer rows.Close()

	forward = map[string][]string{}
	reverse = map[string][]string{}
	for rows.Next() {
		var caller, callee string
		if err := rows.Scan(&caller, &callee); err != nil {
			return nil, nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan call graph row", err)
		}
		forward[caller] = append(forward[caller], callee)
		reverse[callee] = append(reverse[callee], caller)
	}
	return forward, reverse, rows.Err()
}

// GetCallersFull returns detailed caller edges into name.
func (s *Store) GetCallersFull(ctx context.Context, name string) ([]FunctionCall, error) {
	return s.queryCalls(ctx, `SELECT caller, callee, file, line FROM function_calls WHERE callee = ?`, name)
}

// GetCalleesFull returns detailed callee edges out of name, optionally
// scoped to a file to disambiguate same-named callers.
func (s *Store) GetCalleesFull(ctx context.Context, name, file string) ([]FunctionCall, error) {
	if file == "" {
		return s.queryCalls(ctx, `SELECT caller, callee, file, line FROM function_calls WHERE caller = ?`, name)
	}
	return s.queryCalls(ctx, `SELECT caller, callee, file, line FROM function_calls WHERE caller = ? AND file = ?`, name, file)
}

func (s *Store) queryCalls(ctx context.Context, query string, args ...any) ([]FunctionCall, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "query call edges", err)
	}
	defer rows.Close()
	var out []FunctionCall
	for rows.Next() {
		var c FunctionCall
		if err := rows.Scan(&c.Caller, &c.Callee, &c.File, &c.Line); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan call edge", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetCallerCountsBatch returns caller counts for many names in one query.
func (s *Store) GetCallerCountsBatch(ctx context.Context, names []string) (map[string]int, error) {
	return s.countsBatch(ctx, "callee", names)
}

// GetCalleeCountsBatch returns callee counts for many names in one query.
func (s *Store) GetCalleeCountsBatch(ctx context.Context, names []string) (map[string]int, error) {
	return s.countsBatch(ctx, "caller", names)
}

func (s *Store) countsBatch(ctx context.Context, column string, names []string) (map[string]int, error) {
	out := make(map[string]int, len(names))
	if len(names) == 0 {
		return out, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	placeholders, args := inClause(names)
	rows, err := s.db.QueryContext(ctx, `SELECT `+column+`, COUNT(*) FROM function_calls WHERE `+column+` IN (`+placeholders+`) GROUP BY `+column, args...)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "count call edges", err)
	}
	defer rows.Close()
	for rows.Next() {
		var name string
		var count int
		if err := rows.Scan(&name, &count); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan count row", err)
		}
		out[name] = count
	}
	return out, rows.Err()
}

// DeadCode returns functions/methods with no caller edges, split into a
// confident list (private, not matching test-name conventions) and a
// possibly-dead list (public, same criteria otherwise).
func (s *Store) DeadCode(ctx context.Context, isTestName func(string) bool, isExported func(string) bool) (confident, possiblyPublic []DeadFunc, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	rows, err := s.db.QueryContext(ctx, `
		SELECT c.id, c.name, c.origin, c.line_start FROM chunks c
		WHERE c.chunk_type IN ('function', 'method')
		AND c.name NOT IN (SELECT DISTINCT callee FROM function_calls)`)
	if err != nil {
		return nil, nil, cqserrors.New(cqserrors.ErrCodeInternal, "query dead code candidates", err)
	}
	defer rows.Close()

	for rows.Next() {
		var d DeadFunc
		if err := rows.Scan(&d.ChunkID, &d.Name, &d.Origin, &d.LineStart); err != nil {
			return nil, nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan dead code row", err)
		}
		if isTestName(d.Name) {
			continue
		}
		if isExported(d.Name) {
			d.Confidence = DeadConfidenceMedium
			possiblyPublic = append(possiblyPublic, d)
		} else {
			d.Confidence = DeadConfidenceHigh
			confident = append(confident, d)
		}
	}
	return confident, possiblyPublic, rows.Err()
}

// SearchFTS normalizes query the same way documents are normalized and
// runs an FTS5 MATCH, returning chunk ids ordered by relevance.
func (s *Store) SearchFTS(ctx context.Context, query string, limit int) ([]string, error) {
	normalized := normalize(query)
	if strings.TrimSpace(normalized) == "" {
		return nil, nil
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM chunks_fts WHERE chunks_fts MATCH ? ORDER BY bm25(chunks_fts) LIMIT ?`, normalized, limit)
	if err != nil {
		if strings.Contains(err.Error(), "fts5:") || strings.Contains(err.Error(), "syntax error") {
			return nil, nil
		}
		return nil, cqserrors.New(cqserrors.ErrCodeInternal, "fts search", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, cqserrors.New(cqserrors.ErrCodeInternal, "scan fts result", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// GetMetadata exposes a metadata row for callers that need to display
// index provenance (schema version, model name, timestamps).
func (s *Store) GetMetadata(ctx context.Context, key string) (string, error) {
	return s.getMetadata(ctx, key)
}

// SetMetadata updates a metadata row, bumping updated_at.
func (s *Store) SetMetadata(ctx context.Context, key, value string) error {
	if err := s.setMetadata(ctx, key, value); err != nil {
		return err
	}
	return s.setMetadata(ctx, "updated_at", time.Now().UTC().Format(time.RFC3339))
}

func inClause(values []string) (string, []any) {
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = v
	}
	return strings.Join(placeholders, ","), args
}
