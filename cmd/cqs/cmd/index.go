package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/jamie8johnson/cqs/internal/chunk"
	"github.com/jamie8johnson/cqs/internal/config"
	"github.com/jamie8johnson/cqs/internal/embed"
	"github.com/jamie8johnson/cqs/internal/index"
	"github.com/jamie8johnson/cqs/internal/output"
	"github.com/jamie8johnson/cqs/internal/scanner"
	"github.com/jamie8johnson/cqs/internal/store"
)

// indexDirName is the hidden directory inside a project root holding the
// store file and vector index, the cqs analogue of a .git directory.
const indexDirName = ".cqs"

func newIndexCmd() *cobra.Command {
	var offline bool

	cmd := &cobra.Command{
		Use:   "index [path]",
		Short: "Index a directory for searching",
		Long: `Scans a directory, chunks its code and documentation, embeds
each chunk, and writes a hybrid lexical/semantic index next to it.

Re-running index is incremental: unchanged files are skipped and their
embeddings are reused by content hash.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			path := "."
			if len(args) > 0 {
				path = args[0]
			}
			return runIndex(ctx, cmd, path, offline)
		},
	}

	cmd.Flags().BoolVar(&offline, "offline", false, "Use a static embedder, skipping any network-backed provider")
	return cmd
}

func runIndex(ctx context.Context, cmd *cobra.Command, path string, offline bool) error {
	out := output.New(cmd.OutOrStdout())

	absPath, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("resolve path: %w", err)
	}
	info, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("access path: %w", err)
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", absPath)
	}

	root, err := config.FindProjectRoot(absPath)
	if err != nil {
		root = absPath
	}

	cfg, err := config.Load(root)
	if err != nil {
		cfg = config.NewConfig()
	}

	dataDir := filepath.Join(root, indexDirName)
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	var embedder embed.Embedder
	if offline {
		embedder = embed.NewStaticEmbedder768()
	} else {
		provider := embed.ParseProvider(cfg.Embeddings.Provider)
		embedder, err = embed.NewEmbedder(ctx, provider, cfg.Embeddings.Model)
		if err != nil {
			return fmt.Errorf("initialize embedder: %w", err)
		}
	}
	defer func() { _ = embedder.Close() }()

	st, err := store.Open(index.StorePath(dataDir), embedder.ModelName(), embedder.Dimensions(), nil)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer func() { _ = st.Close() }()

	sc, err := scanner.New()
	if err != nil {
		return fmt.Errorf("create scanner: %w", err)
	}

	pipeline := index.New(index.Config{
		RootDir:  root,
		IndexDir: dataDir,
		Offline:  offline,
	}, index.Dependencies{
		Store:       st,
		Embedder:    embedder,
		Scanner:     sc,
		CodeChunker: chunk.NewCodeChunker(),
	})

	out.Statusf("", "Indexing %s...", root)
	result, err := pipeline.Run(ctx)
	if err != nil {
		return fmt.Errorf("index: %w", err)
	}
	if result.Interrupted {
		out.Warning("Indexing interrupted")
		return nil
	}
	for _, e := range result.Errors {
		out.Warning(e.Error())
	}

	out.Successf("Indexed %d files: %d chunks written (%d reused, %d computed)",
		result.FilesScanned, result.ChunksWritten, result.ChunksReused, result.ChunksComputed)
	return nil
}
