package main

import (
	"fmt"

	"github.com/spf13/cobra"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Manage the persistent embedding cache",
	Long: `Manage the embedding cache kept in the SQLite database.

Available subcommands:
  stats - Show cached embeddings and stored jobs
  clear - Delete every cached embedding`,
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show cache and job store statistics",
	Args:  cobra.NoArgs,
	RunE:  runCacheStats,
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Delete every cached embedding",
	Args:  cobra.NoArgs,
	RunE:  runCacheClear,
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
}

func runCacheStats(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	status, err := store.GetStatus(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to read status: %w", err)
	}

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Schema Version: %s\n", status.SchemaVersion)
	fmt.Fprintf(out, "Embeddings: %d\n", status.EmbeddingsCount)
	fmt.Fprintf(out, "Jobs: %d\n", status.JobsCount)
	fmt.Fprintf(out, "Results: %d\n", status.ResultsCount)
	fmt.Fprintf(out, "Driver: %s (%s)\n", status.Driver, status.BuildMode)
	return nil
}

func runCacheClear(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer store.Close()

	n, err := store.ClearEmbeddings(cmd.Context())
	if err != nil {
		return fmt.Errorf("failed to clear embeddings: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d cached embeddings\n", n)
	return nil
}
