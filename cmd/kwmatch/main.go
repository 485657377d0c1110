package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/dshills/kwmatch/internal/storage"
)

var (
	version   = "dev"
	buildTime = "unknown"
)

// configPath is set by the persistent --config flag
var configPath string

var rootCmd = &cobra.Command{
	Use:   "kwmatch",
	Short: "Map SEO keywords to the pages of a site",
	Long: `kwmatch assigns each keyword to the page of a site that best answers it,
using embedding similarity, BM25, title overlap and shared numbers.

Keywords that match no page well enough are reported as orphans. With
Search Console configured, keywords whose best-performing page differs
from the assigned one are flagged as cannibalization.`,
	SilenceUsage:  true,
	SilenceErrors: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version and build information",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "kwmatch %s\n", version)
		fmt.Fprintf(out, "Build Time: %s\n", buildTime)
		fmt.Fprintf(out, "Build Mode: %s\n", storage.BuildMode)
		fmt.Fprintf(out, "SQLite Driver: %s\n", storage.DriverName)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "path to a YAML config file")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(matchCmd)
	rootCmd.AddCommand(cacheCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
