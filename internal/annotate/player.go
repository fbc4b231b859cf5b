package annotate

import (
	"fmt"
	"os"
	"sync"

	"github.com/go-audio/wav"
	"github.com/gordonklaus/portaudio"
	"github.com/rs/zerolog"
)

// Player plays block WAV files through the default output device.
// Playback is non-blocking so the annotator stays responsive.
type Player struct {
	log zerolog.Logger

	mu      sync.Mutex
	stopCh  chan struct{}
	playing bool
}

// NewPlayer initializes PortAudio. Callers must Close when done.
func NewPlayer(logger zerolog.Logger) (*Player, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("failed to initialize PortAudio: %w", err)
	}
	return &Player{log: logger}, nil
}

// Play starts playback of a WAV file, stopping any current playback first.
func (p *Player) Play(path string) error {
	samples, sampleRate, err := loadWAV(path)
	if err != nil {
		return err
	}

	p.Stop()

	p.mu.Lock()
	stopCh := make(chan struct{})
	p.stopCh = stopCh
	p.playing = true
	p.mu.Unlock()

	go p.playLoop(samples, sampleRate, stopCh)

	p.log.Debug().Str("path", path).Msg("Playing audio")
	return nil
}

func (p *Player) playLoop(samples []float32, sampleRate int, stopCh chan struct{}) {
	defer func() {
		p.mu.Lock()
		p.playing = false
		p.mu.Unlock()
	}()

	buffer := make([]float32, 512)
	stream, err := portaudio.OpenDefaultStream(0, 1, float64(sampleRate), len(buffer), &buffer)
	if err != nil {
		p.log.Error().Err(err).Msg("Failed to open output stream")
		return
	}
	defer stream.Close()

	if err := stream.Start(); err != nil {
		p.log.Error().Err(err).Msg("Failed to start output stream")
		return
	}
	defer stream.Stop()

	for offset := 0; offset < len(samples); offset += len(buffer) {
		select {
		case <-stopCh:
			return
		default:
		}

		n := copy(buffer, samples[offset:])
		for i := n; i < len(buffer); i++ {
			buffer[i] = 0
		}
		if err := stream.Write(); err != nil {
			p.log.Debug().Err(err).Msg("Output stream write failed")
			return
		}
	}
}

// Stop ends the current playback, if any. Idempotent.
func (p *Player) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.stopCh != nil {
		select {
		case <-p.stopCh:
		default:
			close(p.stopCh)
		}
		p.stopCh = nil
	}
}

// IsPlaying reports whether a playback goroutine is active.
func (p *Player) IsPlaying() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.playing
}

// Close stops playback and terminates PortAudio.
func (p *Player) Close() {
	p.Stop()
	portaudio.Terminate()
}

// loadWAV decodes a mono 16-bit WAV file into normalized float32 samples.
func loadWAV(path string) ([]float32, int, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, 0, fmt.Errorf("audio file not found: %w", err)
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to decode wav: %w", err)
	}

	samples := make([]float32, len(buf.Data))
	for i, v := range buf.Data {
		samples[i] = float32(v) / 32768.0
	}

	return samples, buf.Format.SampleRate, nil
}
