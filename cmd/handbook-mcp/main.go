package main

import (
	"context"
	"os"

	"github.com/sha1n/mcp-handbook-server/internal/app"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

var (
	// Version is injected at build time
	Version = "dev"
	// Build is injected at build time
	Build = "unknown"
	// ProgramName is injected at build time
	ProgramName = "handbook-mcp"
)

func main() {
	runMain(os.Args, os.Exit)
}

func runMain(args []string, exit func(int)) {
	if err := Execute(Version, Build, ProgramName, args[1:]); err != nil {
		exit(1)
	}
}

// Execute is the entry point for the CLI, extracted for testing
func Execute(version, build, programName string, args []string) error {
	rootCmd := &cobra.Command{
		Use:     programName,
		Short:   "Handbook MCP Server",
		Long:    "MCP server answering employee questions from an indexed policy handbook",
		Version: version,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWithFlags(cmd.Flags(), version)
		},
	}

	rootCmd.SetVersionTemplate(`{{.Version}}
`)

	app.RegisterFlags(rootCmd.PersistentFlags())
	rootCmd.AddCommand(newIndexCommand())
	rootCmd.SetArgs(args)

	return rootCmd.Execute()
}

func newIndexCommand() *cobra.Command {
	var source string
	cmd := &cobra.Command{
		Use:   "index <file>",
		Short: "Index a handbook PDF and exit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return app.RunIndex(cmd.Context(), app.DefaultIndexParams(), cmd.Flags(), args[0], source, cmd.OutOrStdout())
		},
	}
	cmd.Flags().StringVar(&source, "source", "", "Source tag to index under (defaults to the configured handbook)")
	return cmd
}

func runWithFlags(flags *pflag.FlagSet, version string) error {
	return app.RunWithDeps(context.Background(), app.DefaultRunParams(), flags, version)
}
