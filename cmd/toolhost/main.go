// Command toolhost connects to the tool servers declared in a YAML manifest
// and lists, invokes, or pings their tools from the command line. It also
// doubles as a reference tool server via the echo-server subcommand, so a
// manifest can point at the toolhost binary itself.
package main

import (
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
)

// Set via ldflags at build time.
var version = "dev"

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "toolhost",
	Short: "Tool server connection manager CLI",
	Long:  "toolhost connects to stdio or SSE tool servers, lists their tools, and invokes them.",
	// SilenceUsage prevents printing usage on every error
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, _ []string) {
		verbose, _ := cmd.Flags().GetBool("verbose")
		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
	},
}

func init() {
	rootCmd.PersistentFlags().StringP("config", "c", "toolhost.yaml", "Path to the server manifest")
	rootCmd.PersistentFlags().Bool("verbose", false, "Enable verbose/debug logging")

	rootCmd.Version = version
	rootCmd.SetVersionTemplate(fmt.Sprintf("toolhost version %s\n", version))

	rootCmd.AddCommand(newListCmd())
	rootCmd.AddCommand(newCallCmd())
	rootCmd.AddCommand(newPingCmd())
	rootCmd.AddCommand(newEchoServerCmd())
}
