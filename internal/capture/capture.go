package capture

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
)

// errorLimit is the cumulative read-error count beyond which a capture
// session is considered dead.
const errorLimit = 10

var (
	// ErrAlreadyStarted is returned by Start on a running capture.
	ErrAlreadyStarted = errors.New("capture already started")
	// ErrSessionEnded is returned by Start on a stopped capture; a stopped
	// session cannot be restarted, create a new Capture instead.
	ErrSessionEnded = errors.New("capture session already ended")
)

// Stats is a point-in-time snapshot of capture counters.
type Stats struct {
	BytesRead int64
	Errors    int64
	BufferLen int
	Alive     bool
}

// Config configures a Capture.
type Config struct {
	StreamURL     string
	SampleRate    int // defaults to 16000
	BufferSeconds int // ring holds 2x this many one-second chunks, defaults to 10
	Logger        zerolog.Logger
}

type captureState int

const (
	stateIdle captureState = iota
	stateRunning
	stateStopped
)

// Capture drives one external decoder process and buffers its decoded audio
// as one-second chunks. One Capture is one session: Idle -> Running ->
// Stopped, no restart.
type Capture struct {
	streamURL     string
	kind          StreamKind
	sampleRate    int
	bufferSeconds int
	log           zerolog.Logger

	// spawn is swappable so tests can inject a fake decoder.
	spawn func(streamURL string, kind StreamKind, sampleRate int) (decoder, error)

	mu          sync.Mutex
	state       captureState
	proc        decoder
	ring        *ringBuffer
	stopCh      chan struct{}
	loopDone    chan struct{}
	monitorDone chan struct{}

	bytesRead  atomic.Int64
	errorCount atomic.Int64
}

// New creates a capture session for the given stream. The stream kind is
// derived from the URL once and fixed for the session's lifetime.
func New(cfg Config) *Capture {
	if cfg.SampleRate <= 0 {
		cfg.SampleRate = 16000
	}
	if cfg.BufferSeconds <= 0 {
		cfg.BufferSeconds = 10
	}
	return &Capture{
		streamURL:     cfg.StreamURL,
		kind:          ClassifyStream(cfg.StreamURL),
		sampleRate:    cfg.SampleRate,
		bufferSeconds: cfg.BufferSeconds,
		log:           cfg.Logger,
		spawn:         spawnDecoder,
	}
}

// Start spawns the decoder process and launches the capture and diagnostic
// goroutines. Starting twice is rejected with ErrAlreadyStarted.
func (c *Capture) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch c.state {
	case stateRunning:
		c.log.Warn().Msg("Capture already started")
		return ErrAlreadyStarted
	case stateStopped:
		return ErrSessionEnded
	}

	c.log.Info().
		Str("url", c.streamURL).
		Str("kind", c.kind.String()).
		Int("sample_rate", c.sampleRate).
		Msg("Starting audio capture")

	proc, err := c.spawn(c.streamURL, c.kind, c.sampleRate)
	if err != nil {
		return fmt.Errorf("failed to start decoder: %w", err)
	}

	c.proc = proc
	c.ring = newRingBuffer(2 * c.bufferSeconds)
	c.stopCh = make(chan struct{})
	c.loopDone = make(chan struct{})
	c.monitorDone = make(chan struct{})
	c.state = stateRunning

	go c.captureLoop(proc.Stdout())
	go c.monitorDiagnostics(proc.Stderr())

	c.log.Info().Msg("Audio capture started")
	return nil
}

// Stop signals the background goroutines, unblocks any in-flight ReadBlock
// and guarantees the decoder process is dead before returning. Safe to call
// from any goroutine, idempotent.
func (c *Capture) Stop(grace time.Duration) {
	c.mu.Lock()
	if c.state != stateRunning {
		c.mu.Unlock()
		return
	}
	c.state = stateStopped
	proc := c.proc
	c.proc = nil
	stopCh := c.stopCh
	ring := c.ring
	loopDone := c.loopDone
	monitorDone := c.monitorDone
	c.mu.Unlock()

	if grace <= 0 {
		grace = 5 * time.Second
	}

	c.log.Info().Msg("Stopping audio capture")

	close(stopCh)
	ring.Close()
	proc.Terminate(grace)

	waitWithTimeout(loopDone, grace)
	waitWithTimeout(monitorDone, grace)

	c.log.Info().Msg("Audio capture stopped")
}

// IsAlive reports whether the decoder process is running and the capture
// loop has not terminated.
func (c *Capture) IsAlive() bool {
	c.mu.Lock()
	state := c.state
	proc := c.proc
	loopDone := c.loopDone
	c.mu.Unlock()

	if state != stateRunning || proc == nil {
		return false
	}
	select {
	case <-loopDone:
		return false
	default:
	}
	return !proc.Exited()
}

// Stats returns a snapshot of the capture counters. Never blocks.
func (c *Capture) Stats() Stats {
	c.mu.Lock()
	ring := c.ring
	c.mu.Unlock()

	s := Stats{
		BytesRead: c.bytesRead.Load(),
		Errors:    c.errorCount.Load(),
		Alive:     c.IsAlive(),
	}
	if ring != nil {
		s.BufferLen = ring.Len()
	}
	return s
}

// ReadBlock drains durationSeconds one-second chunks from the ring into one
// contiguous sample slice. On a pop timeout it returns whatever was already
// collected, or nil if nothing was. Returns nil if capture is not active.
func (c *Capture) ReadBlock(durationSeconds int) []float32 {
	if !c.IsAlive() {
		c.log.Error().Msg("Cannot read block: capture not active")
		return nil
	}

	c.mu.Lock()
	ring := c.ring
	c.mu.Unlock()

	timeout := time.Duration(durationSeconds+1) * time.Second
	chunks := make([][]float32, 0, durationSeconds)
	total := 0

	for i := 0; i < durationSeconds; i++ {
		chunk, ok := ring.Pop(timeout)
		if !ok {
			if len(chunks) == 0 {
				c.log.Warn().
					Int("duration", durationSeconds).
					Msg("Timeout waiting for first audio chunk")
				return nil
			}
			c.log.Warn().
				Int("collected", len(chunks)).
				Int("wanted", durationSeconds).
				Msg("Timeout reading audio chunk, returning partial block")
			break
		}
		chunks = append(chunks, chunk)
		total += len(chunk)
	}

	samples := make([]float32, 0, total)
	for _, chunk := range chunks {
		samples = append(samples, chunk...)
	}
	return samples
}

// captureLoop reads one second of raw PCM per iteration, converts it to
// normalized float32 samples and pushes it into the ring. Runs until the
// stream ends, the error limit is exceeded or Stop is called.
func (c *Capture) captureLoop(stdout io.Reader) {
	defer close(c.loopDone)

	chunkBytes := c.sampleRate * 2 // 16-bit mono, one second
	buf := make([]byte, chunkBytes)

	for {
		n, err := io.ReadFull(stdout, buf)

		if n > 0 {
			if c.ring.TryPush(pcm16ToFloat32(buf[:n])) {
				c.bytesRead.Add(int64(n))
			}
		}

		select {
		case <-c.stopCh:
			return
		default:
		}

		if err != nil {
			switch {
			case err == io.EOF:
				c.log.Warn().Msg("No data received from decoder, stream may have ended")
				return
			case err == io.ErrUnexpectedEOF:
				// Short final chunk, the next read reports EOF.
			default:
				errs := c.errorCount.Add(1)
				c.log.Error().Err(err).Int64("errors", errs).Msg("Error in capture loop")
				if errs > errorLimit {
					c.log.Error().Msg("Too many errors, stopping capture")
					return
				}
			}
		}
	}
}

// monitorDiagnostics reads line-oriented diagnostics from the decoder's
// stderr and classifies them for observability. Advisory only: no line
// affects the capture control flow.
func (c *Capture) monitorDiagnostics(stderr io.Reader) {
	defer close(c.monitorDone)

	scanner := bufio.NewScanner(stderr)
	for scanner.Scan() {
		select {
		case <-c.stopCh:
			return
		default:
		}
		c.classifyDiagnostic(scanner.Text())
	}
}

func (c *Capture) classifyDiagnostic(line string) {
	lower := strings.ToLower(line)
	switch {
	case strings.Contains(lower, "error") ||
		strings.Contains(lower, "failed") ||
		strings.Contains(lower, "invalid") ||
		strings.Contains(lower, "could not"):
		c.log.Error().Str("decoder", line).Msg("Decoder reported error")
	case strings.Contains(lower, "warning"):
		c.log.Warn().Str("decoder", line).Msg("Decoder reported warning")
	case strings.Contains(lower, "input #0") ||
		strings.Contains(lower, "stream #0") ||
		strings.Contains(lower, "duration:"):
		c.log.Info().Str("decoder", line).Msg("Decoder stream info")
	default:
		c.log.Debug().Str("decoder", line).Msg("Decoder output")
	}
}

// pcm16ToFloat32 converts little-endian signed 16-bit PCM to float32 in
// [-1.0, 1.0]. The divisor keeps the asymmetric int16 range: -32768 maps to
// exactly -1.0, 32767 to just under 1.0.
func pcm16ToFloat32(raw []byte) []float32 {
	samples := make([]float32, len(raw)/2)
	for i := range samples {
		s := int16(binary.LittleEndian.Uint16(raw[2*i:]))
		samples[i] = float32(s) / 32768.0
	}
	return samples
}

func waitWithTimeout(done <-chan struct{}, timeout time.Duration) {
	select {
	case <-done:
	case <-time.After(timeout):
	}
}
