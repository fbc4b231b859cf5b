package recorder

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/rs/zerolog"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/transcribe"
)

// TimestampLayout is the format used for block timestamps in transcription
// headers and metadata.json.
const TimestampLayout = "2006-01-02T15:04:05"

// Metadata describes one capture session, persisted as metadata.json when
// the session is finalized.
type Metadata struct {
	SessionID     string `json:"session_id"`
	StartTime     string `json:"start_time"`
	EndTime       string `json:"end_time"`
	SampleRate    int    `json:"sample_rate"`
	TotalBlocks   int    `json:"total_blocks"`
	StreamURL     string `json:"stream_url,omitempty"`
	BlockDuration int    `json:"block_duration,omitempty"`
	WhisperModel  string `json:"whisper_model,omitempty"`
}

// BlockRecorder persists audio blocks and their transcriptions under one
// session directory:
//
//	<outputDir>/<sessionID>/metadata.json
//	<outputDir>/<sessionID>/blocks/block_NNNN.wav
//	<outputDir>/<sessionID>/blocks/block_NNNN.txt
type BlockRecorder struct {
	sessionDir string
	blocksDir  string
	sampleRate int
	log        zerolog.Logger

	mu   sync.Mutex
	meta Metadata
}

// New creates the session directory layout and an empty metadata record.
func New(outputDir, sessionID string, sampleRate int, logger zerolog.Logger) (*BlockRecorder, error) {
	sessionDir := filepath.Join(outputDir, sessionID)
	blocksDir := filepath.Join(sessionDir, "blocks")

	if err := os.MkdirAll(blocksDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create session directory: %w", err)
	}

	r := &BlockRecorder{
		sessionDir: sessionDir,
		blocksDir:  blocksDir,
		sampleRate: sampleRate,
		log:        logger,
		meta: Metadata{
			SessionID:  sessionID,
			StartTime:  time.Now().Format(TimestampLayout),
			SampleRate: sampleRate,
		},
	}

	logger.Info().Str("session", sessionID).Msg("Block recorder initialized")
	return r, nil
}

// SaveBlock writes one block's WAV and transcription files. Returns the
// audio file path.
func (r *BlockRecorder) SaveBlock(samples []float32, result *transcribe.Result, blockNumber int, timestamp time.Time, blockDuration int) (string, error) {
	blockID := fmt.Sprintf("block_%04d", blockNumber)
	audioPath := filepath.Join(r.blocksDir, blockID+".wav")
	textPath := filepath.Join(r.blocksDir, blockID+".txt")

	if err := r.saveWAV(audioPath, samples); err != nil {
		return "", fmt.Errorf("failed to save block %d audio: %w", blockNumber, err)
	}

	if err := r.saveTranscription(textPath, result, timestamp); err != nil {
		return "", fmt.Errorf("failed to save block %d transcription: %w", blockNumber, err)
	}

	r.mu.Lock()
	if blockNumber+1 > r.meta.TotalBlocks {
		r.meta.TotalBlocks = blockNumber + 1
	}
	r.mu.Unlock()

	r.log.Debug().Int("block", blockNumber).Str("path", audioPath).Msg("Block saved")
	return audioPath, nil
}

// saveWAV writes normalized float samples as a mono 16-bit WAV file.
func (r *BlockRecorder) saveWAV(path string, samples []float32) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	enc := wav.NewEncoder(f, r.sampleRate, 16, 1, 1)

	buf := &audio.IntBuffer{
		Format:         &audio.Format{NumChannels: 1, SampleRate: r.sampleRate},
		Data:           make([]int, len(samples)),
		SourceBitDepth: 16,
	}
	for i, s := range samples {
		buf.Data[i] = int(s * 32767)
	}

	if err := enc.Write(buf); err != nil {
		enc.Close()
		return err
	}
	return enc.Close()
}

func (r *BlockRecorder) saveTranscription(path string, result *transcribe.Result, timestamp time.Time) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()

	fmt.Fprintf(f, "# Timestamp: %s\n", timestamp.Format(TimestampLayout))
	fmt.Fprintf(f, "# Language: %s\n", result.Language)
	fmt.Fprintf(f, "# Segments: %d\n", len(result.Segments))
	fmt.Fprintln(f)

	fmt.Fprintln(f, "## Full Transcription")
	fmt.Fprintln(f, result.Text)
	fmt.Fprintln(f)

	if len(result.Segments) > 0 {
		fmt.Fprintln(f, "## Segments")
		for _, seg := range result.Segments {
			fmt.Fprintf(f, "[%.2fs - %.2fs] %s\n", seg.Start, seg.End, seg.Text)
		}
	}

	return nil
}

// UpdateMetadata records session-level fields known only to the caller.
func (r *BlockRecorder) UpdateMetadata(streamURL string, blockDuration int, whisperModel string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.meta.StreamURL = streamURL
	r.meta.BlockDuration = blockDuration
	r.meta.WhisperModel = whisperModel
}

// FinalizeSession stamps the end time and writes metadata.json. Call once
// when the session ends.
func (r *BlockRecorder) FinalizeSession() error {
	r.mu.Lock()
	r.meta.EndTime = time.Now().Format(TimestampLayout)
	meta := r.meta
	r.mu.Unlock()

	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal metadata: %w", err)
	}

	path := filepath.Join(r.sessionDir, "metadata.json")
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write metadata: %w", err)
	}

	r.log.Info().Int("blocks", meta.TotalBlocks).Msg("Session finalized")
	return nil
}

// SessionDir returns the session directory path.
func (r *BlockRecorder) SessionDir() string {
	return r.sessionDir
}
