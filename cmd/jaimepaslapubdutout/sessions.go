package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/storage"
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List recorded and converted sessions",
	RunE:  runSessions,
}

var cleanupCmd = &cobra.Command{
	Use:   "cleanup",
	Short: "Delete sessions older than a number of days",
	RunE:  runCleanup,
}

func init() {
	cleanupCmd.Flags().Int("days", 30, "delete sessions older than this many days")
	rootCmd.AddCommand(sessionsCmd)
	rootCmd.AddCommand(cleanupCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	store, err := storage.New(cfg.OutputDir, cfg.ProcessedDir)
	if err != nil {
		return err
	}

	raw, err := store.ListRawSessions()
	if err != nil {
		return err
	}
	processed, err := store.ListProcessedSessions()
	if err != nil {
		return err
	}

	fmt.Printf("Sessions brutes (%d):\n", len(raw))
	for _, id := range raw {
		fmt.Printf("  • %s\n", id)
	}

	fmt.Printf("\nSessions converties (%d):\n", len(processed))
	for _, id := range processed {
		fmt.Printf("  • %s\n", id)
	}
	return nil
}

func runCleanup(cmd *cobra.Command, args []string) error {
	days, _ := cmd.Flags().GetInt("days")

	store, err := storage.New(cfg.OutputDir, cfg.ProcessedDir)
	if err != nil {
		return err
	}

	deleted, err := store.CleanupOlderThan(days)
	if err != nil {
		return err
	}

	if len(deleted) == 0 {
		fmt.Println("Aucune session à supprimer")
		return nil
	}
	for _, id := range deleted {
		fmt.Printf("✗ %s\n", id)
	}
	fmt.Printf("%d session(s) supprimée(s)\n", len(deleted))
	return nil
}
