// Package cmd provides the CLI commands for cqs.
package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/jamie8johnson/cqs/internal/logging"
	"github.com/jamie8johnson/cqs/pkg/version"
)

var (
	debugMode      bool
	loggingCleanup func()
)

// NewRootCmd creates the root command for the cqs CLI.
func NewRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "cqs",
		Short: "Local semantic code search",
		Long: `cqs indexes a codebase and answers hybrid lexical/semantic queries
against it, entirely offline once a model is cached.

Run 'cqs index' in a project directory, then 'cqs search <query>'.`,
		Version: version.Version,
	}

	cmd.SetVersionTemplate("cqs version {{.Version}}\n")
	cmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "Enable debug logging to ~/.cqs/logs/")
	cmd.PersistentPreRunE = startLogging
	cmd.PersistentPostRunE = stopLogging

	cmd.AddCommand(newIndexCmd())
	cmd.AddCommand(newSearchCmd())
	cmd.AddCommand(newVersionCmd())

	return cmd
}

func startLogging(_ *cobra.Command, _ []string) error {
	if !debugMode {
		return nil
	}
	logger, cleanup, err := logging.Setup(logging.DebugConfig())
	if err != nil {
		return err
	}
	loggingCleanup = cleanup
	slog.SetDefault(logger)
	return nil
}

func stopLogging(_ *cobra.Command, _ []string) error {
	if loggingCleanup != nil {
		loggingCleanup()
		loggingCleanup = nil
	}
	return nil
}

// Execute runs the root command.
func Execute() error {
	return NewRootCmd().Execute()
}
