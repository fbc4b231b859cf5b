package listener

import (
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/capture"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/display"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/transcribe"
)

// Source is the capture side of the pipeline.
type Source interface {
	Start() error
	Stop(grace time.Duration)
	IsAlive() bool
	Stats() capture.Stats
	ReadBlock(durationSeconds int) []float32
}

// Recorder persists blocks and session metadata.
type Recorder interface {
	SaveBlock(samples []float32, result *transcribe.Result, blockNumber int, timestamp time.Time, blockDuration int) (string, error)
	UpdateMetadata(streamURL string, blockDuration int, whisperModel string)
	FinalizeSession() error
	SessionDir() string
}

// Config wires the listener's collaborators.
type Config struct {
	Source        Source
	Transcriber   transcribe.Transcriber
	Recorder      Recorder
	Display       display.Display
	SessionID     string
	StreamURL     string
	BlockDuration int
	WhisperModel  string
	StopGrace     time.Duration
	Logger        zerolog.Logger
}

// Listener runs the capture -> transcribe -> record -> display loop for one
// session.
type Listener struct {
	src           Source
	stt           transcribe.Transcriber
	rec           Recorder
	disp          display.Display
	sessionID     string
	streamURL     string
	blockDuration int
	whisperModel  string
	stopGrace     time.Duration
	log           zerolog.Logger

	stopOnce   sync.Once
	stopCh     chan struct{}
	blockCount atomic.Int64
}

func New(cfg Config) *Listener {
	if cfg.BlockDuration <= 0 {
		cfg.BlockDuration = 10
	}
	if cfg.StopGrace <= 0 {
		cfg.StopGrace = 5 * time.Second
	}
	return &Listener{
		src:           cfg.Source,
		stt:           cfg.Transcriber,
		rec:           cfg.Recorder,
		disp:          cfg.Display,
		sessionID:     cfg.SessionID,
		streamURL:     cfg.StreamURL,
		blockDuration: cfg.BlockDuration,
		whisperModel:  cfg.WhisperModel,
		stopGrace:     cfg.StopGrace,
		log:           cfg.Logger,
		stopCh:        make(chan struct{}),
	}
}

// Run starts capture and processes blocks until the stream dies or Stop is
// called, then finalizes the session. Blocks until the session is over.
func (l *Listener) Run() error {
	l.log.Info().Str("session", l.sessionID).Msg("Starting radio listener")

	l.disp.Init(l.sessionID)
	l.disp.ShowInfo("Starting audio capture...")

	if err := l.src.Start(); err != nil {
		l.disp.ShowError(err.Error())
		return fmt.Errorf("failed to start capture: %w", err)
	}

	l.rec.UpdateMetadata(l.streamURL, l.blockDuration, l.whisperModel)
	l.disp.ShowInfo("Audio capture started, beginning transcription...")

	l.processLoop()
	l.shutdown()
	return nil
}

// Stop ends the session. Safe to call from a signal handler goroutine at any
// point, even before Run: the request is latched, so a run that begins after
// Stop shuts down without processing a single block. Unblocks an in-flight
// ReadBlock by stopping the capture.
func (l *Listener) Stop() {
	l.stopOnce.Do(func() {
		l.log.Info().Msg("Stop requested")
		close(l.stopCh)
		l.src.Stop(l.stopGrace)
	})
}

func (l *Listener) stopRequested() bool {
	select {
	case <-l.stopCh:
		return true
	default:
		return false
	}
}

// BlockCount returns the number of fully processed blocks.
func (l *Listener) BlockCount() int {
	return int(l.blockCount.Load())
}

func (l *Listener) processLoop() {
	for !l.stopRequested() && l.src.IsAlive() {
		block := int(l.blockCount.Load())

		samples := l.src.ReadBlock(l.blockDuration)
		if len(samples) == 0 {
			l.log.Warn().Msg("No audio data received")
			continue
		}

		// Per-block failures are reported and absorbed: one bad block must
		// never end the session.
		result, err := l.stt.Transcribe(samples)
		if err != nil {
			l.log.Error().Err(err).Int("block", block).Msg("Error processing block")
			l.disp.ShowError(fmt.Sprintf("Error processing block: %v", err))
			continue
		}

		if _, err := l.rec.SaveBlock(samples, result, block, time.Now(), l.blockDuration); err != nil {
			l.log.Error().Err(err).Int("block", block).Msg("Error processing block")
			l.disp.ShowError(fmt.Sprintf("Error processing block: %v", err))
			continue
		}

		l.disp.UpdateStatus(block, result.Text, l.src.Stats())

		l.log.Info().
			Int("block", block).
			Int("chars", len(result.Text)).
			Msg("Block processed")

		l.blockCount.Add(1)
	}
}

func (l *Listener) shutdown() {
	l.src.Stop(l.stopGrace)

	if err := l.rec.FinalizeSession(); err != nil {
		l.log.Error().Err(err).Msg("Failed to finalize session")
	}

	l.disp.ShowInfo(fmt.Sprintf("Session saved: %s", l.rec.SessionDir()))
	l.disp.ShowInfo(fmt.Sprintf("Total blocks recorded: %d", l.BlockCount()))

	l.log.Info().Int("blocks", l.BlockCount()).Msg("Radio listener stopped")
}
