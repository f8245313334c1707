// Package vectorindex wraps coder/hnsw with the on-disk format, size
// ceilings, and checksum verification the store's vector search needs:
// an index that can be rebuilt from scratch, swapped in atomically, and
// loaded back without trusting a possibly-corrupt file.
package vectorindex

import (
	"bufio"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"

	"github.com/coder/hnsw"
	"github.com/zeebo/blake3"

	cqserrors "github.com/jamie8johnson/cqs/internal/errors"
)

// Tuning parameters chosen for 10k-100k chunks, per the vector index's
// own sizing guidance; larger corpora want a lower Ml / higher ef.
const (
	M             = 24
	MaxLayer      = 16
	EfConstruct   = 200
	EfSearch      = 100
	defaultMl     = 1.0 / 2.772588722 // 1/ln(M) at M=16, kept from the library's own default
	graphSizeCap  = 500 * 1024 * 1024
	dataSizeCap   = 1024 * 1024 * 1024
	idsSizeCap    = 500 * 1024 * 1024
	idsReadOnlyCap = 100 * 1024 * 1024
)

// Result is one nearest-neighbor hit.
type Result struct {
	ID       string
	Distance float32
}

// Index is an in-memory HNSW graph plus its string-id mapping. The
// loaded form keeps the backing file handle reachable for as long as
// the graph references it and closes it only after the graph is
// discarded, since coder/hnsw's Import can stream directly off the
// handle rather than fully materializing it.
type Index struct {
	mu      sync.RWMutex
	graph   *hnsw.Graph[uint64]
	idMap   map[string]uint64 // chunk id -> internal key
	keyMap  map[uint64]string // internal key -> chunk id
	nextKey uint64
	loaded  bool // true once backed by Load; incremental insert is then refused
	file    *os.File
	vectors map[string][]float32 // chunk id -> normalized vector, mirrored into the data file
}

// New creates an empty, writable index ready for Build/InsertBatch.
func New() *Index {
	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = M
	g.Ml = defaultMl
	g.EfSearch = EfSearch
	return &Index{
		graph:  g,
		idMap:  make(map[string]uint64),
		keyMap: make(map[uint64]string),
	}
}

// Build adds every embedding in one pass. Embeddings must all share the
// index's fixed dimensionality; callers validate that before calling in.
func (idx *Index) Build(ids []string, embeddings [][]float32) error {
	return idx.InsertBatch(ids, embeddings)
}

// BuildBatched streams embeddings in fixed-size batches, bounding peak
// memory at the cost of marginally lower graph quality versus Build.
func (idx *Index) BuildBatched(next func() (ids []string, embeddings [][]float32, ok bool), batchSize int) error {
	for {
		ids, embeddings, ok := next()
		if !ok {
			return nil
		}
		if err := idx.InsertBatch(ids, embeddings); err != nil {
			return err
		}
	}
}

// InsertBatch appends vectors to an Owned (in-memory) index, assigning
// internal keys sequentially. It fails on a Loaded index: callers must
// rebuild rather than mutate a just-loaded graph.
func (idx *Index) InsertBatch(ids []string, embeddings [][]float32) error {
	if len(ids) != len(embeddings) {
		return cqserrors.New(cqserrors.ErrCodeInvalidInput, "ids and embeddings length mismatch", nil)
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()

	if idx.loaded {
		return cqserrors.New(cqserrors.ErrCodeInvalidInput, "cannot insert into a loaded index, rebuild instead", nil)
	}

	vectorsByID := make(map[string][]float32, len(ids))
	for i, id := range ids {
		if existing, ok := idx.idMap[id]; ok {
			delete(idx.keyMap, existing)
		}
		key := idx.nextKey
		idx.nextKey++
		idx.idMap[id] = key
		idx.keyMap[key] = id
		vec := normalize(embeddings[i])
		vectorsByID[id] = vec
		idx.graph.Add(hnsw.MakeNode(key, vec))
	}
	if idx.vectors == nil {
		idx.vectors = map[string][]float32{}
	}
	for id, vec := range vectorsByID {
		idx.vectors[id] = vec
	}
	return nil
}

// Search returns up to k nearest neighbors to query by cosine distance.
func (idx *Index) Search(query []float32, k int) ([]Result, error) {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if idx.graph.Len() == 0 {
		return nil, nil
	}
	normalized := normalize(query)
	nodes := idx.graph.Search(normalized, k)

	results := make([]Result, 0, len(nodes))
	for _, n := range nodes {
		id, ok := idx.keyMap[n.Key]
		if !ok {
			continue // lazily-deleted entry
		}
		results = append(results, Result{ID: id, Distance: idx.graph.Distance(normalized, n.Value)})
	}
	return results, nil
}

// Delete lazily removes ids from the id mapping; the underlying graph
// node stays until the next rebuild, matching coder/hnsw's own guidance
// against deleting the last remaining node.
func (idx *Index) Delete(ids []string) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for _, id := range ids {
		if key, ok := idx.idMap[id]; ok {
			delete(idx.keyMap, key)
			delete(idx.idMap, id)
			delete(idx.vectors, id)
		}
	}
}

// Count returns the number of live (non-deleted) vectors.
func (idx *Index) Count() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.idMap)
}

func normalize(v []float32) []float32 {
	var sumSq float64
	for _, f := range v {
		sumSq += float64(f) * float64(f)
	}
	if sumSq == 0 {
		return v
	}
	norm := float32(1.0 / sqrt(sumSq))
	out := make([]float32, len(v))
	for i, f := range v {
		out[i] = f * norm
	}
	return out
}

func sqrt(f float64) float64 {
	// avoid importing math just for one call site's worth of readability;
	// kept as a local so the normalize hot path has no surprise allocs.
	x := f
	if x == 0 {
		return 0
	}
	guess := x
	for i := 0; i < 32; i++ {
		guess = 0.5 * (guess + x/guess)
	}
	return guess
}

// filePaths returns the four on-disk paths for a named index under dir.
func filePaths(dir, name string) (graph, data, ids, checksum string) {
	base := filepath.Join(dir, name)
	return base + ".hnsw.graph", base + ".hnsw.data", base + ".hnsw.ids", base + ".hnsw.checksum"
}

// Save writes the four index files to a temp subdirectory of dir, then
// atomically renames each into place. Cross-device renames fall back to
// copy+delete.
func (idx *Index) Save(dir, name string) error {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o700); err != nil {
		return cqserrors.New(cqserrors.ErrCodeNoIndex, "create index directory", err)
	}
	tmpDir, err := os.MkdirTemp(dir, ".vectorindex-tmp-")
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeNoIndex, "create temp directory", err)
	}
	defer os.RemoveAll(tmpDir)

	graphPath, dataPath, idsPath, checksumPath := filePaths(dir, name)
	tmpGraph, tmpData, tmpIDs, tmpChecksum := filePaths(tmpDir, name)

	graphHash, err := writeFileHashed(tmpGraph, idx.graph.Export)
	if err != nil {
		return err
	}

	vectors := idx.exportVectors()
	dataHash, err := writeFileHashed(tmpData, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(vectors)
	})
	if err != nil {
		return err
	}

	idList := idx.exportIDList()
	idsHash, err := writeFileHashed(tmpIDs, func(w io.Writer) error {
		return json.NewEncoder(w).Encode(idList)
	})
	if err != nil {
		return err
	}

	checksumContent := fmt.Sprintf("graph:%s\ndata:%s\nids:%s\n", graphHash, dataHash, idsHash)
	if err := os.WriteFile(tmpChecksum, []byte(checksumContent), 0o600); err != nil {
		return cqserrors.New(cqserrors.ErrCodeNoIndex, "write checksum file", err)
	}

	for src, dst := range map[string]string{
		tmpGraph: graphPath, tmpData: dataPath, tmpIDs: idsPath, tmpChecksum: checksumPath,
	} {
		if err := renameOrCopy(src, dst); err != nil {
			return cqserrors.New(cqserrors.ErrCodeNoIndex, fmt.Sprintf("install %s", filepath.Base(dst)), err)
		}
	}
	return nil
}

func writeFileHashed(path string, write func(io.Writer) error) (string, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return "", cqserrors.New(cqserrors.ErrCodeNoIndex, "create index file", err)
	}
	hasher := blake3.New()
	mw := io.MultiWriter(f, hasher)
	werr := write(mw)
	cerr := f.Close()
	if werr != nil {
		return "", cqserrors.New(cqserrors.ErrCodeNoIndex, "write index file", werr)
	}
	if cerr != nil {
		return "", cqserrors.New(cqserrors.ErrCodeNoIndex, "close index file", cerr)
	}
	return hex.EncodeToString(hasher.Sum(nil)), nil
}

func renameOrCopy(src, dst string) error {
	if err := os.Rename(src, dst); err == nil {
		return nil
	}
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()
	out, err := os.OpenFile(dst, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, in); err != nil {
		out.Close()
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Remove(src)
}

func (idx *Index) exportVectors() map[string][]float32 {
	// Keyed by chunk id so the data file is independently inspectable
	// even though the graph file already carries the same vectors.
	return idx.vectors
}

func (idx *Index) exportIDList() []string {
	list := make([]string, idx.nextKey)
	for key, id := range idx.keyMap {
		if int(key) < len(list) {
			list[key] = id
		}
	}
	return list
}

// Load verifies checksums and size ceilings before decoding anything,
// then parses the id map, loads the graph, and cross-checks that the
// graph's vector count equals the id map length. The returned Index
// owns the file handle backing the graph's lazy decode; Close must be
// called before the handle is released, and Close always drops the
// graph before closing the file so neither outlives its backing reader.
func Load(dir, name string) (*Index, error) {
	graphPath, dataPath, idsPath, checksumPath := filePaths(dir, name)

	checksums, err := readChecksums(checksumPath)
	if err != nil {
		return nil, err
	}
	if err := verifyFile(graphPath, checksums["graph"], graphSizeCap); err != nil {
		return nil, err
	}
	if err := verifyFile(dataPath, checksums["data"], dataSizeCap); err != nil {
		return nil, err
	}
	if err := verifyFile(idsPath, checksums["ids"], idsSizeCap); err != nil {
		return nil, err
	}

	idList, err := readIDList(idsPath, idsSizeCap)
	if err != nil {
		return nil, err
	}

	vectors, err := readVectors(dataPath, dataSizeCap)
	if err != nil {
		return nil, err
	}

	f, err := os.Open(graphPath)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "open graph file", err)
	}

	g := hnsw.NewGraph[uint64]()
	g.Distance = hnsw.CosineDistance
	g.M = M
	g.Ml = defaultMl
	g.EfSearch = EfSearch
	if err := g.Import(bufio.NewReader(f)); err != nil {
		f.Close()
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "import graph", err)
	}

	if g.Len() != len(idList) {
		f.Close()
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt,
			fmt.Sprintf("graph vector count %d does not match id map length %d", g.Len(), len(idList)), nil)
	}

	idMap := make(map[string]uint64, len(idList))
	keyMap := make(map[uint64]string, len(idList))
	for key, id := range idList {
		if id == "" {
			continue
		}
		idMap[id] = uint64(key)
		keyMap[uint64(key)] = id
	}

	return &Index{
		graph:   g,
		idMap:   idMap,
		keyMap:  keyMap,
		nextKey: uint64(len(idList)),
		loaded:  true,
		file:    f,
		vectors: vectors,
	}, nil
}

func readVectors(path string, sizeCap int64) (map[string][]float32, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "stat vector data file", err)
	}
	if info.Size() > sizeCap {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "vector data file exceeds size ceiling", nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "open vector data file", err)
	}
	defer f.Close()
	var vectors map[string][]float32
	if err := json.NewDecoder(f).Decode(&vectors); err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "decode vector data file", err)
	}
	return vectors, nil
}

// Close releases the index's backing file handle, if any. The graph
// itself holds no finalizer-sensitive state, but dropping the handle
// first would leave a Loaded graph referencing a closed reader if
// coder/hnsw ever moves to true lazy decoding; closing last keeps the
// invariant correct either way.
func (idx *Index) Close() error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	idx.graph = nil
	if idx.file != nil {
		err := idx.file.Close()
		idx.file = nil
		return err
	}
	return nil
}

func readChecksums(path string) (map[string]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeChecksumMismatch, "read checksum file", err)
	}
	out := map[string]string{}
	for _, line := range splitLines(string(data)) {
		ext, hash, ok := cut(line, ':')
		if !ok {
			continue
		}
		out[ext] = hash
	}
	return out, nil
}

func splitLines(s string) []string {
	var lines []string
	start := 0
	for i := 0; i < len(s); i++ {
		if s[i] == '\n' {
			if i > start {
				lines = append(lines, s[start:i])
			}
			start = i + 1
		}
	}
	if start < len(s) {
		lines = append(lines, s[start:])
	}
	return lines
}

func cut(s string, sep byte) (before, after string, found bool) {
	for i := 0; i < len(s); i++ {
		if s[i] == sep {
			return s[:i], s[i+1:], true
		}
	}
	return s, "", false
}

func verifyFile(path, expectedHash string, sizeCap int64) error {
	info, err := os.Stat(path)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeChecksumMismatch, "stat index file", err)
	}
	if info.Size() > sizeCap {
		return cqserrors.New(cqserrors.ErrCodeIndexCorrupt, fmt.Sprintf("%s exceeds size ceiling (%d > %d)", filepath.Base(path), info.Size(), sizeCap), nil)
	}
	if expectedHash == "" {
		return cqserrors.New(cqserrors.ErrCodeChecksumMismatch, fmt.Sprintf("no recorded checksum for %s", filepath.Base(path)), nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return cqserrors.New(cqserrors.ErrCodeChecksumMismatch, "open index file", err)
	}
	defer f.Close()
	hasher := blake3.New()
	if _, err := io.Copy(hasher, f); err != nil {
		return cqserrors.New(cqserrors.ErrCodeChecksumMismatch, "hash index file", err)
	}
	actual := hex.EncodeToString(hasher.Sum(nil))
	if actual != expectedHash {
		return cqserrors.New(cqserrors.ErrCodeChecksumMismatch, fmt.Sprintf("%s checksum mismatch", filepath.Base(path)), nil)
	}
	return nil
}

func readIDList(path string, sizeCap int64) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "stat id map", err)
	}
	if info.Size() > sizeCap {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "id map exceeds size ceiling", nil)
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "open id map", err)
	}
	defer f.Close()
	var ids []string
	if err := json.NewDecoder(f).Decode(&ids); err != nil {
		return nil, cqserrors.New(cqserrors.ErrCodeIndexCorrupt, "decode id map", err)
	}
	return ids, nil
}

// CountVectors answers "how many vectors are indexed?" by reading only
// the id map file, under its own tighter read-only size cap, without
// paying the cost of loading the graph.
func CountVectors(dir, name string) (int, error) {
	_, _, idsPath, _ := filePaths(dir, name)
	ids, err := readIDList(idsPath, idsReadOnlyCap)
	if err != nil {
		return 0, err
	}
	count := 0
	for _, id := range ids {
		if id != "" {
			count++
		}
	}
	return count, nil
}
