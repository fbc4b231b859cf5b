package transcribe

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	whisper "github.com/ggerganov/whisper.cpp/bindings/go/pkg/whisper"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/config"
)

type whisperTranscriber struct {
	mu       sync.Mutex
	model    whisper.Model
	language string
	threads  int
}

// New creates a whisper.cpp-backed transcriber, downloading the model file
// on first use.
func New(cfg config.WhisperConfig) (Transcriber, error) {
	modelPath := filepath.Join(config.ModelsPath(), "ggml-"+cfg.Model+".bin")

	if _, err := os.Stat(modelPath); os.IsNotExist(err) {
		if err := downloadModel(cfg.Model, modelPath); err != nil {
			return nil, fmt.Errorf("failed to download model: %w", err)
		}
	}

	model, err := whisper.New(modelPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load model: %w", err)
	}

	return &whisperTranscriber{
		model:    model,
		language: cfg.Language,
		threads:  cfg.Threads,
	}, nil
}

func (t *whisperTranscriber) Transcribe(samples []float32) (*Result, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model == nil {
		return nil, ErrModelNotLoaded
	}

	ctx, err := t.model.NewContext()
	if err != nil {
		return nil, fmt.Errorf("failed to create whisper context: %w", err)
	}

	if t.threads > 0 {
		ctx.SetThreads(uint(t.threads))
	}
	if t.language != "auto" && t.language != "" {
		if err := ctx.SetLanguage(t.language); err != nil {
			return nil, fmt.Errorf("failed to set language: %w", err)
		}
	}
	ctx.SetTranslate(false)

	if err := ctx.Process(samples, nil, nil); err != nil {
		return nil, fmt.Errorf("whisper process failed: %w", err)
	}

	var (
		segments []Segment
		parts    []string
	)
	for i := 0; ; i++ {
		segment, err := ctx.NextSegment()
		if err != nil {
			break // EOF
		}
		text := strings.TrimSpace(segment.Text)
		segments = append(segments, Segment{
			ID:    i,
			Start: segment.Start.Seconds(),
			End:   segment.End.Seconds(),
			Text:  text,
		})
		parts = append(parts, text)
	}

	return &Result{
		Text:     strings.TrimSpace(strings.Join(parts, " ")),
		Segments: segments,
		Language: ctx.Language(),
	}, nil
}

// Close unloads the model. Transcribe calls after Close fail with
// ErrModelNotLoaded.
func (t *whisperTranscriber) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.model != nil {
		t.model.Close()
		t.model = nil
	}
	return nil
}
