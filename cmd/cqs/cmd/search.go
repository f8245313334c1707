package cmd

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jamie8johnson/cqs/internal/config"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/index"
	"github.com/jamie8johnson/cqs/internal/output"
	"github.com/jamie8johnson/cqs/internal/reference"
	"github.com/jamie8johnson/cqs/internal/search"
	"github.com/jamie8johnson/cqs/internal/store"
	"github.com/jamie8johnson/cqs/internal/vectorindex"
)

type searchOptions struct {
	limit    int
	language string
	format   string
	scopes   []string
	ftsOnly  bool
	explain  bool
}

func newSearchCmd() *cobra.Command {
	var opts searchOptions

	cmd := &cobra.Command{
		Use:   "search <query>",
		Short: "Search the indexed codebase",
		Long: `Searches the indexed codebase using hybrid lexical/semantic
search, fused with Reciprocal Rank Fusion.

Any references configured in .cqs.toml are searched alongside the
primary index, down-weighted and merged into the same result list.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			query := strings.Join(args, " ")
			return runSearch(cmd.Context(), cmd, query, opts)
		},
	}

	cmd.Flags().IntVarP(&opts.limit, "limit", "n", 10, "Maximum number of results")
	cmd.Flags().StringVarP(&opts.language, "language", "l", "", "Filter by language")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "text", "Output format: text, json")
	cmd.Flags().StringSliceVarP(&opts.scopes, "scope", "s", nil, "Filter by path scope (repeatable)")
	cmd.Flags().BoolVar(&opts.ftsOnly, "fts-only", false, "Keyword search only, skip semantic search")
	cmd.Flags().BoolVar(&opts.explain, "explain", false, "Show the fusion decision behind the results")

	return cmd
}

func runSearch(ctx context.Context, cmd *cobra.Command, query string, opts searchOptions) error {
	out := output.New(cmd.OutOrStdout())

	root, err := config.FindProjectRoot(".")
	if err != nil {
		root, _ = os.Getwd()
	}
	dataDir := filepath.Join(root, indexDirName)
	storePath := index.StorePath(dataDir)
	if _, err := os.Stat(storePath); os.IsNotExist(err) {
		return fmt.Errorf("no index found at %s, run 'cqs index' first", dataDir)
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	var embedder embed.Embedder
	if opts.ftsOnly {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("initialize embedder: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	st, err := store.Open(storePath, embedder.ModelName(), embedder.Dimensions(), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	vec, err := vectorindex.Load(dataDir, index.VectorIndexName)
	if err != nil {
		return fmt.Errorf("load vector index: %w", err)
	}
	defer func() { _ = vec.Close() }()

	engineConfig := search.DefaultConfig()
	if cfg.Search.BM25Weight > 0 || cfg.Search.SemanticWeight > 0 {
		engineConfig.DefaultWeights = search.Weights{
			BM25:     cfg.Search.BM25Weight,
			Semantic: cfg.Search.SemanticWeight,
		}
	}
	if cfg.Search.RRFConstant > 0 {
		engineConfig.RRFConstant = cfg.Search.RRFConstant
	}
	if cfg.Limit > 0 {
		engineConfig.DefaultLimit = cfg.Limit
	}

	engine, err := search.NewEngine(st, vec, embedder, engineConfig)
	if err != nil {
		return fmt.Errorf("build search engine: %w", err)
	}
	defer func() { _ = engine.Close() }()

	searchOpts := search.SearchOptions{
		Limit:   opts.limit,
		FTSOnly: opts.ftsOnly,
		Explain: opts.explain,
		Filter: search.SearchFilter{
			Scopes: opts.scopes,
		},
	}
	if opts.language != "" {
		searchOpts.Filter.Languages = []string{opts.language}
	}

	results, err := engine.Search(ctx, query, searchOpts)
	if err != nil {
		return fmt.Errorf("search: %w", err)
	}

	refs, err := reference.Open(ctx, cfg.References, embedder, engineConfig, nil)
	if err != nil {
		return fmt.Errorf("open references: %w", err)
	}
	defer reference.Close(refs)

	var refResults []reference.Result
	if len(refs) > 0 {
		refResults, err = reference.Merge(ctx, refs, query, searchOpts)
		if err != nil {
			out.Warning(err.Error())
		}
	}

	if len(results) == 0 && len(refResults) == 0 {
		out.Status("", fmt.Sprintf("No results found for %q", query))
		return nil
	}

	if opts.format == "json" {
		return formatJSON(cmd, results, refResults)
	}
	return formatText(out, query, results, refResults)
}

func formatText(out *output.Writer, query string, results []*search.SearchResult, refResults []reference.Result) error {
	total := len(results) + len(refResults)
	out.Statusf("", "Found %d results for %q:", total, query)
	out.Newline()

	for i, r := range results {
		if r.Chunk == nil {
			continue
		}
		printResult(out, i+1, r.Chunk.Origin, r.Chunk.LineStart, r.Score, r.Chunk.Content, "")
	}
	for i, r := range refResults {
		if r.Chunk == nil {
			continue
		}
		printResult(out, len(results)+i+1, r.Chunk.Origin, r.Chunk.LineStart, r.MergedScore, r.Chunk.Content, r.Source)
	}
	return nil
}

func printResult(out *output.Writer, idx int, origin string, line int, score float64, content, source string) {
	location := origin
	if line > 0 {
		location = fmt.Sprintf("%s:%d", origin, line)
	}
	if source != "" {
		out.Statusf("", "%d. %s (score: %.3f, ref: %s)", idx, location, score, source)
	} else {
		out.Statusf("", "%d. %s (score: %.3f)", idx, location, score)
	}
	for _, line := range snippet(content, 3) {
		out.Status("", "   "+line)
	}
	out.Newline()
}

func snippet(content string, n int) []string {
	lines := strings.Split(content, "\n")
	if len(lines) > n {
		lines = lines[:n]
	}
	for len(lines) > 0 && strings.TrimSpace(lines[len(lines)-1]) == "" {
		lines = lines[:len(lines)-1]
	}
	return lines
}

func formatJSON(cmd *cobra.Command, results []*search.SearchResult, refResults []reference.Result) error {
	type jsonResult struct {
		Origin    string  `json:"origin"`
		LineStart int     `json:"line_start"`
		Score     float64 `json:"score"`
		Content   string  `json:"content"`
		Language  string  `json:"language,omitempty"`
		Source    string  `json:"source,omitempty"`
	}

	var out []jsonResult
	for _, r := range results {
		if r.Chunk == nil {
			continue
		}
		out = append(out, jsonResult{
			Origin:    r.Chunk.Origin,
			LineStart: r.Chunk.LineStart,
			Score:     r.Score,
			Content:   r.Chunk.Content,
			Language:  r.Chunk.Language,
		})
	}
	for _, r := range refResults {
		if r.Chunk == nil {
			continue
		}
		out = append(out, jsonResult{
			Origin:    r.Chunk.Origin,
			LineStart: r.Chunk.LineStart,
			Score:     r.MergedScore,
			Content:   r.Chunk.Content,
			Language:  r.Chunk.Language,
			Source:    r.Source,
		})
	}

	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}
