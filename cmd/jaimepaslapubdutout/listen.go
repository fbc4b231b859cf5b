package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/capture"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/display"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/listener"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/recorder"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/storage"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/transcribe"
)

var listenCmd = &cobra.Command{
	Use:   "listen",
	Short: "Capture and transcribe a radio stream in real time",
	RunE:  runListen,
}

func init() {
	listenCmd.Flags().String("stream-url", "", "audio stream URL (RTSP, HTTP, HLS)")
	listenCmd.Flags().Int("block-duration", 0, "duration of each audio block in seconds")
	listenCmd.Flags().String("whisper-model", "", "whisper model size (tiny, base, small, medium, large)")
	listenCmd.Flags().String("language", "", "language code for transcription")
	listenCmd.Flags().String("output-dir", "", "output directory for recordings")
	listenCmd.Flags().String("session-id", "", "custom session id (auto-generated if not provided)")
	rootCmd.AddCommand(listenCmd)
}

func runListen(cmd *cobra.Command, args []string) error {
	applyListenFlags(cmd)

	if cfg.StreamURL == "" {
		return fmt.Errorf("no stream URL configured (use --stream-url or the config file)")
	}

	store, err := storage.New(cfg.OutputDir, cfg.ProcessedDir)
	if err != nil {
		return err
	}

	sessionID := cfg.SessionID
	if sessionID == "" {
		sessionID = store.GenerateSessionID()
	}

	src := capture.New(capture.Config{
		StreamURL:     cfg.StreamURL,
		SampleRate:    cfg.SampleRate,
		BufferSeconds: cfg.BufferSeconds,
		Logger:        log,
	})

	stt, err := transcribe.New(cfg.Whisper)
	if err != nil {
		return fmt.Errorf("failed to initialize whisper: %w", err)
	}
	defer stt.Close()

	rec, err := recorder.New(cfg.OutputDir, sessionID, cfg.SampleRate, log)
	if err != nil {
		return err
	}

	l := listener.New(listener.Config{
		Source:        src,
		Transcriber:   stt,
		Recorder:      rec,
		Display:       display.NewConsole(),
		SessionID:     sessionID,
		StreamURL:     cfg.StreamURL,
		BlockDuration: cfg.BlockDuration,
		WhisperModel:  cfg.Whisper.Model,
		Logger:        log,
	})

	// Graceful shutdown on SIGINT/SIGTERM
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		log.Info().Str("signal", sig.String()).Msg("Received signal")
		l.Stop()
	}()

	return l.Run()
}

func applyListenFlags(cmd *cobra.Command) {
	if v, _ := cmd.Flags().GetString("stream-url"); v != "" {
		cfg.StreamURL = v
	}
	if v, _ := cmd.Flags().GetInt("block-duration"); v > 0 {
		cfg.BlockDuration = v
	}
	if v, _ := cmd.Flags().GetString("whisper-model"); v != "" {
		cfg.Whisper.Model = v
	}
	if v, _ := cmd.Flags().GetString("language"); v != "" {
		cfg.Whisper.Language = v
	}
	if v, _ := cmd.Flags().GetString("output-dir"); v != "" {
		cfg.OutputDir = v
	}
	if v, _ := cmd.Flags().GetString("session-id"); v != "" {
		cfg.SessionID = v
	}
}
