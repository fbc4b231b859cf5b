package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/convert"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/storage"
)

var convertCmd = &cobra.Command{
	Use:   "convert [session-id]",
	Short: "Convert raw sessions into annotation databases",
	RunE:  runConvert,
}

func init() {
	convertCmd.Flags().Bool("all", false, "convert every unconverted session")
	convertCmd.Flags().Bool("force", false, "re-convert even if a database already exists")
	rootCmd.AddCommand(convertCmd)
}

func runConvert(cmd *cobra.Command, args []string) error {
	all, _ := cmd.Flags().GetBool("all")
	force, _ := cmd.Flags().GetBool("force")

	store, err := storage.New(cfg.OutputDir, cfg.ProcessedDir)
	if err != nil {
		return err
	}
	converter := convert.NewConverter(store, log)

	if all {
		converted, err := converter.ConvertAll(force)
		if err != nil {
			return err
		}
		for _, path := range converted {
			fmt.Printf("✓ %s\n", path)
		}
		return nil
	}

	if len(args) != 1 {
		return fmt.Errorf("expected a session id (or --all)")
	}

	dbPath, err := converter.ConvertSession(args[0], force)
	if err != nil {
		return err
	}
	fmt.Printf("✓ Session convertie: %s\n", dbPath)
	return nil
}
