package convert

import (
	"bufio"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"
)

// DefaultCategory marks a block that has not been annotated yet.
const DefaultCategory = "A classifier"

// Block is one persisted audio block with its transcription, as read back
// from a raw session directory.
type Block struct {
	Number        int
	Timestamp     time.Time
	AudioPath     string
	Transcription string
	Category      string
}

// SessionReader loads a raw session's metadata and blocks from disk.
type SessionReader struct {
	sessionPath string
	blocksDir   string
}

// NewSessionReader opens a raw session directory.
func NewSessionReader(sessionPath string) (*SessionReader, error) {
	blocksDir := filepath.Join(sessionPath, "blocks")

	if _, err := os.Stat(sessionPath); err != nil {
		return nil, fmt.Errorf("session directory not found: %s", sessionPath)
	}
	if _, err := os.Stat(blocksDir); err != nil {
		return nil, fmt.Errorf("blocks directory not found: %s", blocksDir)
	}

	return &SessionReader{sessionPath: sessionPath, blocksDir: blocksDir}, nil
}

// Metadata loads the session's metadata.json as a generic map.
func (r *SessionReader) Metadata() (map[string]any, error) {
	data, err := os.ReadFile(filepath.Join(r.sessionPath, "metadata.json"))
	if err != nil {
		return nil, fmt.Errorf("metadata file not found: %w", err)
	}

	var meta map[string]any
	if err := json.Unmarshal(data, &meta); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return meta, nil
}

// Blocks returns all blocks in the session in block-number order.
func (r *SessionReader) Blocks() ([]Block, error) {
	wavFiles, err := filepath.Glob(filepath.Join(r.blocksDir, "block_*.wav"))
	if err != nil {
		return nil, err
	}
	sort.Strings(wavFiles)

	blocks := make([]Block, 0, len(wavFiles))
	for _, wavFile := range wavFiles {
		block, err := r.readBlock(wavFile)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}
	return blocks, nil
}

// Count returns the number of blocks in the session.
func (r *SessionReader) Count() (int, error) {
	wavFiles, err := filepath.Glob(filepath.Join(r.blocksDir, "block_*.wav"))
	if err != nil {
		return 0, err
	}
	return len(wavFiles), nil
}

func (r *SessionReader) readBlock(wavFile string) (Block, error) {
	stem := strings.TrimSuffix(filepath.Base(wavFile), ".wav")
	numberStr := strings.TrimPrefix(stem, "block_")
	number, err := strconv.Atoi(numberStr)
	if err != nil {
		return Block{}, fmt.Errorf("bad block filename %q: %w", wavFile, err)
	}

	txtFile := strings.TrimSuffix(wavFile, ".wav") + ".txt"
	transcription, timestamp := parseTranscriptionFile(txtFile)

	return Block{
		Number:        number,
		Timestamp:     timestamp,
		AudioPath:     wavFile,
		Transcription: transcription,
		Category:      DefaultCategory,
	}, nil
}

// parseTranscriptionFile extracts the full-transcription section and the
// timestamp header from a block txt file. Missing files or headers degrade
// to an empty transcription and the current time.
func parseTranscriptionFile(path string) (string, time.Time) {
	f, err := os.Open(path)
	if err != nil {
		return "", time.Now()
	}
	defer f.Close()

	var (
		parts           []string
		timestamp       = time.Now()
		inTranscription bool
	)

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())

		if strings.HasPrefix(line, "# Timestamp:") {
			raw := strings.TrimSpace(strings.TrimPrefix(line, "# Timestamp:"))
			if t, err := parseTimestamp(raw); err == nil {
				timestamp = t
			}
			continue
		}

		switch {
		case line == "## Full Transcription":
			inTranscription = true
		case strings.HasPrefix(line, "##"):
			inTranscription = false
		case inTranscription && line != "":
			parts = append(parts, line)
		}
	}

	return strings.Join(parts, " "), timestamp
}

func parseTimestamp(raw string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04:05", time.RFC3339} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp: %q", raw)
}
