package config

import (
	"fmt"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/BurntSushi/toml"
)

// Config is the complete cqs configuration, loaded from .cqs.toml at the
// project root. Keys at the top level mirror spec.md §6 directly; the
// nested sections are ambient knobs the distilled spec leaves implicit.
type Config struct {
	Version int `toml:"version"`

	// Limit, Threshold, NameBoost, NoteWeight, NoteOnly, Quiet, Verbose and
	// References are the literal §6 config keys.
	Limit      int    `toml:"limit"`
	Threshold  float64 `toml:"threshold"`
	NameBoost  float64 `toml:"name_boost"`
	NoteWeight float64 `toml:"note_weight"`
	NoteOnly   bool    `toml:"note_only"`
	Quiet      bool    `toml:"quiet"`
	Verbose    bool    `toml:"verbose"`

	References []ReferenceConfig `toml:"references"`

	Paths       PathsConfig       `toml:"paths"`
	Search      SearchConfig      `toml:"search"`
	Embeddings  EmbeddingsConfig  `toml:"embeddings"`
	Performance PerformanceConfig `toml:"performance"`
}

// ReferenceConfig names a secondary, read-only index to merge into search
// results. See spec.md §9 "References are an asymmetric merge".
type ReferenceConfig struct {
	Name   string  `toml:"name"`
	Path   string  `toml:"path"`
	Source string  `toml:"source"`
	Weight float64 `toml:"weight"`
}

// PathsConfig configures which paths to include and exclude from indexing.
type PathsConfig struct {
	Include []string `toml:"include"`
	Exclude []string `toml:"exclude"`
}

// SearchConfig configures hybrid search fusion and chunking parameters.
type SearchConfig struct {
	BM25Weight     float64 `toml:"bm25_weight"`
	SemanticWeight float64 `toml:"semantic_weight"`
	// RRFConstant is the RRF fusion smoothing parameter (k). Default 60,
	// matching spec.md §4.3's Reciprocal Rank Fusion formula.
	RRFConstant  int `toml:"rrf_constant"`
	ChunkSize    int `toml:"chunk_size"`
	ChunkOverlap int `toml:"chunk_overlap"`
}

// EmbeddingsConfig configures the embedding provider. The embedder itself
// is an opaque external capability (spec.md §1); this only configures how
// to reach it.
type EmbeddingsConfig struct {
	Provider   string `toml:"provider"`
	Model      string `toml:"model"`
	Dimensions int    `toml:"dimensions"`
	BatchSize  int    `toml:"batch_size"`
	Endpoint   string `toml:"endpoint"`
}

// PerformanceConfig configures resource usage during indexing.
type PerformanceConfig struct {
	MaxFiles      int `toml:"max_files"`
	IndexWorkers  int `toml:"index_workers"`
	CacheSize     int `toml:"cache_size"`
	SQLiteCacheMB int `toml:"sqlite_cache_mb"`
}

var defaultExcludePatterns = []string{
	"**/node_modules/**",
	"**/.git/**",
	"**/vendor/**",
	"**/__pycache__/**",
	"**/dist/**",
	"**/build/**",
	"**/*.min.js",
	"**/*.min.css",
	"**/package-lock.json",
	"**/yarn.lock",
	"**/pnpm-lock.yaml",
	"**/go.sum",
}

// NewConfig returns a Config with sensible defaults.
func NewConfig() *Config {
	return &Config{
		Version:    1,
		Limit:      10,
		Threshold:  0.3,
		NameBoost:  0.2,
		NoteWeight: 0.15,
		NoteOnly:   false,
		Quiet:      false,
		Verbose:    false,
		Paths: PathsConfig{
			Include: []string{},
			Exclude: defaultExcludePatterns,
		},
		Search: SearchConfig{
			BM25Weight:     0.5,
			SemanticWeight: 0.5,
			RRFConstant:    60,
			ChunkSize:      1500,
			ChunkOverlap:   200,
		},
		Embeddings: EmbeddingsConfig{
			Provider:   "",
			Model:      "",
			Dimensions: 769,
			BatchSize:  32,
			Endpoint:   "",
		},
		Performance: PerformanceConfig{
			MaxFiles:      100000,
			IndexWorkers:  runtime.NumCPU(),
			CacheSize:     1000,
			SQLiteCacheMB: 64,
		},
	}
}

// Load loads configuration for a project directory, applying, in order of
// increasing precedence:
//  1. Hardcoded defaults
//  2. .cqs.toml at the project root
//  3. CQS_* environment variables
func Load(dir string) (*Config, error) {
	cfg := NewConfig()

	if err := cfg.loadFromFile(dir); err != nil {
		return nil, err
	}

	cfg.applyEnvOverrides()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return cfg, nil
}

func (c *Config) loadFromFile(dir string) error {
	path := filepath.Join(dir, ".cqs.toml")
	if _, err := os.Stat(path); err != nil {
		return nil // no config file is fine - use defaults
	}
	return c.loadTOML(path)
}

func (c *Config) loadTOML(path string) error {
	var parsed Config
	if _, err := toml.DecodeFile(path, &parsed); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	c.mergeWith(&parsed)
	return nil
}

// mergeWith merges non-zero values from other into c.
func (c *Config) mergeWith(other *Config) {
	if other.Version != 0 {
		c.Version = other.Version
	}
	if other.Limit != 0 {
		c.Limit = other.Limit
	}
	if other.Threshold != 0 {
		c.Threshold = other.Threshold
	}
	if other.NameBoost != 0 {
		c.NameBoost = other.NameBoost
	}
	if other.NoteWeight != 0 {
		c.NoteWeight = other.NoteWeight
	}
	c.NoteOnly = other.NoteOnly
	c.Quiet = other.Quiet
	c.Verbose = other.Verbose
	if len(other.References) > 0 {
		c.References = other.References
	}

	if len(other.Paths.Include) > 0 {
		c.Paths.Include = other.Paths.Include
	}
	if len(other.Paths.Exclude) > 0 {
		c.Paths.Exclude = append(c.Paths.Exclude, other.Paths.Exclude...)
	}

	if other.Search.BM25Weight != 0 {
		c.Search.BM25Weight = other.Search.BM25Weight
	}
	if other.Search.SemanticWeight != 0 {
		c.Search.SemanticWeight = other.Search.SemanticWeight
	}
	if other.Search.RRFConstant != 0 {
		c.Search.RRFConstant = other.Search.RRFConstant
	}
	if other.Search.ChunkSize != 0 {
		c.Search.ChunkSize = other.Search.ChunkSize
	}
	if other.Search.ChunkOverlap != 0 {
		c.Search.ChunkOverlap = other.Search.ChunkOverlap
	}

	if other.Embeddings.Provider != "" {
		c.Embeddings.Provider = other.Embeddings.Provider
	}
	if other.Embeddings.Model != "" {
		c.Embeddings.Model = other.Embeddings.Model
	}
	if other.Embeddings.Dimensions != 0 {
		c.Embeddings.Dimensions = other.Embeddings.Dimensions
	}
	if other.Embeddings.BatchSize != 0 {
		c.Embeddings.BatchSize = other.Embeddings.BatchSize
	}
	if other.Embeddings.Endpoint != "" {
		c.Embeddings.Endpoint = other.Embeddings.Endpoint
	}

	if other.Performance.MaxFiles != 0 {
		c.Performance.MaxFiles = other.Performance.MaxFiles
	}
	if other.Performance.IndexWorkers != 0 {
		c.Performance.IndexWorkers = other.Performance.IndexWorkers
	}
	if other.Performance.CacheSize != 0 {
		c.Performance.CacheSize = other.Performance.CacheSize
	}
	if other.Performance.SQLiteCacheMB != 0 {
		c.Performance.SQLiteCacheMB = other.Performance.SQLiteCacheMB
	}
}

// applyEnvOverrides applies CQS_* environment variable overrides, the
// highest-precedence layer.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("CQS_LIMIT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Limit = n
		}
	}
	if v := os.Getenv("CQS_THRESHOLD"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.Threshold = f
		}
	}
	if v := os.Getenv("CQS_NAME_BOOST"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.NameBoost = f
		}
	}
	if v := os.Getenv("CQS_NOTE_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil {
			c.NoteWeight = f
		}
	}
	if v := os.Getenv("CQS_BM25_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Search.BM25Weight = f
		}
	}
	if v := os.Getenv("CQS_SEMANTIC_WEIGHT"); v != "" {
		if f, err := parseFloat64(v); err == nil && f >= 0 && f <= 1 {
			c.Search.SemanticWeight = f
		}
	}
	if v := os.Getenv("CQS_RRF_CONSTANT"); v != "" {
		if k, err := strconv.Atoi(v); err == nil && k > 0 {
			c.Search.RRFConstant = k
		}
	}
	if v := os.Getenv("CQS_EMBEDDINGS_PROVIDER"); v != "" {
		c.Embeddings.Provider = v
	}
	if v := os.Getenv("CQS_EMBEDDINGS_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}
}

func parseFloat64(s string) (float64, error) {
	var f float64
	_, err := fmt.Sscanf(strings.TrimSpace(s), "%f", &f)
	return f, err
}

// Validate checks the configuration for consistency, matching the enum and
// range constraints the corpus's Config.Validate enforces.
func (c *Config) Validate() error {
	if c.Search.BM25Weight < 0 || c.Search.BM25Weight > 1 {
		return fmt.Errorf("search.bm25_weight must be between 0 and 1, got %f", c.Search.BM25Weight)
	}
	if c.Search.SemanticWeight < 0 || c.Search.SemanticWeight > 1 {
		return fmt.Errorf("search.semantic_weight must be between 0 and 1, got %f", c.Search.SemanticWeight)
	}
	if sum := c.Search.BM25Weight + c.Search.SemanticWeight; math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.bm25_weight + search.semantic_weight must equal 1.0, got %.2f", sum)
	}
	if c.Limit < 0 {
		return fmt.Errorf("limit must be non-negative, got %d", c.Limit)
	}
	if c.Threshold < 0 || c.Threshold > 1 {
		return fmt.Errorf("threshold must be between 0 and 1, got %f", c.Threshold)
	}
	if c.NameBoost < 0 || c.NameBoost > 1 {
		return fmt.Errorf("name_boost must be between 0 and 1, got %f", c.NameBoost)
	}
	if c.NoteWeight < 0 || c.NoteWeight > 1 {
		return fmt.Errorf("note_weight must be between 0 and 1, got %f", c.NoteWeight)
	}
	for i, ref := range c.References {
		if ref.Name == "" {
			return fmt.Errorf("references[%d].name is required", i)
		}
		if ref.Path == "" {
			return fmt.Errorf("references[%d].path is required", i)
		}
	}
	return nil
}

// WriteTOML writes the configuration to a TOML file.
func (c *Config) WriteTOML(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create config file: %w", err)
	}
	defer func() { _ = f.Close() }()

	if err := toml.NewEncoder(f).Encode(c); err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return nil
}

// FindProjectRoot walks up from startDir looking for .git or .cqs.toml.
func FindProjectRoot(startDir string) (string, error) {
	absDir, err := filepath.Abs(startDir)
	if err != nil {
		return "", fmt.Errorf("failed to get absolute path: %w", err)
	}

	currentDir := absDir
	for {
		if dirExists(filepath.Join(currentDir, ".git")) {
			return currentDir, nil
		}
		if fileExists(filepath.Join(currentDir, ".cqs.toml")) {
			return currentDir, nil
		}
		parentDir := filepath.Dir(currentDir)
		if parentDir == currentDir {
			return absDir, nil
		}
		currentDir = parentDir
	}
}

func fileExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return !info.IsDir()
}

func dirExists(path string) bool {
	info, err := os.Stat(path)
	if err != nil {
		return false
	}
	return info.IsDir()
}
