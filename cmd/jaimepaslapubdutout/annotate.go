package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/annotate"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/convert"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/storage"
)

var annotateCmd = &cobra.Command{
	Use:   "annotate <session-id>",
	Short: "Classify the blocks of a session interactively",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnnotate,
}

func init() {
	annotateCmd.Flags().Bool("force-convert", false, "re-convert the session before annotating")
	rootCmd.AddCommand(annotateCmd)
}

func runAnnotate(cmd *cobra.Command, args []string) error {
	sessionID := args[0]
	forceConvert, _ := cmd.Flags().GetBool("force-convert")

	store, err := storage.New(cfg.OutputDir, cfg.ProcessedDir)
	if err != nil {
		return err
	}

	if !store.SessionExists(sessionID, false) && !store.SessionExists(sessionID, true) {
		return fmt.Errorf("session introuvable: %s", sessionID)
	}

	dbPath := store.ProcessedSessionPath(sessionID)
	if !store.SessionExists(sessionID, true) || forceConvert {
		fmt.Printf("Conversion de la session '%s'...\n", sessionID)
		converter := convert.NewConverter(store, log)
		dbPath, err = converter.ConvertSession(sessionID, forceConvert)
		if err != nil {
			return err
		}
		fmt.Printf("✓ Session convertie: %s\n", dbPath)
	}

	// Playback is best-effort: headless machines still get to annotate.
	player, err := annotate.NewPlayer(log)
	if err != nil {
		log.Warn().Err(err).Msg("Audio playback unavailable")
		player = nil
	} else {
		defer player.Close()
	}

	annotator, err := annotate.New(dbPath, player, log)
	if err != nil {
		return err
	}
	return annotator.Run()
}
