package transcribe

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"

	"github.com/rs/zerolog/log"
)

// modelURLs maps model names to their Hugging Face download locations.
var modelURLs = map[string]string{
	"tiny":   "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-tiny.bin",
	"base":   "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-base.bin",
	"small":  "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small.bin",
	"medium": "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium.bin",
	"large":  "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3.bin",
}

// downloadProgress logs a line every ten percent of the transfer. Model
// files run from ~75 MB (tiny) to several GB, so per-write logging is noise.
type downloadProgress struct {
	model    string
	total    int64
	received int64
	lastStep int
}

func (d *downloadProgress) Write(p []byte) (int, error) {
	d.received += int64(len(p))

	step := int(d.received * 10 / d.total)
	if step > d.lastStep {
		d.lastStep = step
		log.Info().
			Str("model", d.model).
			Int("percent", step*10).
			Float64("received_mb", float64(d.received)/1024/1024).
			Msg("Downloading model")
	}
	return len(p), nil
}

// downloadModel fetches a whisper model file to destPath. The transfer goes
// through a temp file so an interrupted download never leaves a truncated
// model behind.
func downloadModel(model string, destPath string) error {
	url, ok := modelURLs[model]
	if !ok {
		return fmt.Errorf("unknown model: %s", model)
	}

	if err := os.MkdirAll(filepath.Dir(destPath), 0755); err != nil {
		return fmt.Errorf("failed to create models directory: %w", err)
	}

	log.Info().Str("model", model).Str("url", url).Msg("Model file missing, downloading")

	resp, err := http.Get(url)
	if err != nil {
		return fmt.Errorf("failed to download model: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("failed to download model: HTTP %d", resp.StatusCode)
	}

	tmpPath := destPath + ".tmp"
	defer os.Remove(tmpPath)

	out, err := os.Create(tmpPath)
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer out.Close()

	var dst io.Writer = out
	if resp.ContentLength > 0 {
		dst = io.MultiWriter(out, &downloadProgress{model: model, total: resp.ContentLength})
	} else {
		log.Warn().Str("model", model).Msg("No Content-Length, download progress unavailable")
	}

	if _, err := io.Copy(dst, resp.Body); err != nil {
		return fmt.Errorf("failed to write model file: %w", err)
	}
	if err := out.Close(); err != nil {
		return fmt.Errorf("failed to flush model file: %w", err)
	}

	// TODO: verify a checksum before the rename once upstream publishes them
	// in a machine-readable form.
	if err := os.Rename(tmpPath, destPath); err != nil {
		return fmt.Errorf("failed to move model file: %w", err)
	}

	log.Info().Str("model", model).Str("path", destPath).Msg("Model downloaded")
	return nil
}
