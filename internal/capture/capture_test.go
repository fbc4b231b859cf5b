package capture

import (
	"bytes"
	"encoding/binary"
	"errors"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

// testSampleRate keeps one-second chunks tiny: 4 samples, 8 bytes.
const testSampleRate = 4

// blockingReader serves its data, then blocks until unblocked, then
// reports EOF. This mimics a live decoder pipe: data flows, the pipe stays
// open, and EOF only arrives when the process dies.
type blockingReader struct {
	mu      sync.Mutex
	data    []byte
	pos     int
	unblock chan struct{}
}

func newBlockingReader(data []byte) *blockingReader {
	return &blockingReader{data: data, unblock: make(chan struct{})}
}

func (r *blockingReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.pos < len(r.data) {
		n := copy(p, r.data[r.pos:])
		r.pos += n
		r.mu.Unlock()
		return n, nil
	}
	r.mu.Unlock()

	<-r.unblock
	return 0, io.EOF
}

func (r *blockingReader) endStream() {
	select {
	case <-r.unblock:
	default:
		close(r.unblock)
	}
}

type fakeDecoder struct {
	stdout io.Reader
	stderr io.Reader

	mu           sync.Mutex
	exited       bool
	terminations int
	onTerminate  func()
}

func (f *fakeDecoder) Stdout() io.Reader { return f.stdout }
func (f *fakeDecoder) Stderr() io.Reader { return f.stderr }

func (f *fakeDecoder) Exited() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.exited
}

func (f *fakeDecoder) Terminate(grace time.Duration) {
	f.mu.Lock()
	f.exited = true
	f.terminations++
	cb := f.onTerminate
	f.mu.Unlock()
	if cb != nil {
		cb()
	}
}

func (f *fakeDecoder) terminateCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.terminations
}

func newTestCapture(stdout io.Reader, bufferSeconds int) (*Capture, *fakeDecoder) {
	fd := &fakeDecoder{stdout: stdout, stderr: strings.NewReader("")}
	c := New(Config{
		StreamURL:     "rtsp://example/stream",
		SampleRate:    testSampleRate,
		BufferSeconds: bufferSeconds,
		Logger:        zerolog.Nop(),
	})
	c.spawn = func(string, StreamKind, int) (decoder, error) { return fd, nil }
	return c, fd
}

// pcmChunks builds n one-second chunks; every sample of chunk i holds the
// int16 value i*100.
func pcmChunks(n int) []byte {
	var buf bytes.Buffer
	for i := 0; i < n; i++ {
		for s := 0; s < testSampleRate; s++ {
			binary.Write(&buf, binary.LittleEndian, int16(i*100))
		}
	}
	return buf.Bytes()
}

func waitFor(t *testing.T, what string, cond func() bool) {
	t.Helper()
	for i := 0; i < 200; i++ {
		if cond() {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", what)
}

func TestPCM16ToFloat32(t *testing.T) {
	raw := make([]byte, 6)
	minSample := int16(-32768)
	binary.LittleEndian.PutUint16(raw[0:], uint16(minSample))
	binary.LittleEndian.PutUint16(raw[2:], uint16(int16(32767)))
	binary.LittleEndian.PutUint16(raw[4:], 0)

	samples := pcm16ToFloat32(raw)

	if samples[0] != -1.0 {
		t.Errorf("-32768 should convert to exactly -1.0, got %v", samples[0])
	}
	if samples[1] >= 1.0 || samples[1] < 0.9999 {
		t.Errorf("32767 should convert to just under 1.0, got %v", samples[1])
	}
	if samples[2] != 0 {
		t.Errorf("0 should convert to 0, got %v", samples[2])
	}
}

func TestCaptureEndToEnd(t *testing.T) {
	// 25 seconds of audio, ring big enough to hold all of it.
	reader := newBlockingReader(pcmChunks(25))
	c, fd := newTestCapture(reader, 13)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "all chunks buffered", func() bool {
		return c.Stats().BytesRead == int64(25*testSampleRate*2)
	})

	if !c.IsAlive() {
		t.Fatal("capture should be alive while the stream is open")
	}

	// Two full 10-second blocks.
	for block := 0; block < 2; block++ {
		samples := c.ReadBlock(10)
		if len(samples) != 10*testSampleRate {
			t.Fatalf("block %d: expected %d samples, got %d", block, 10*testSampleRate, len(samples))
		}
		// FIFO: the first sample of each second identifies its chunk.
		for sec := 0; sec < 10; sec++ {
			want := float32(int16((block*10+sec)*100)) / 32768.0
			if samples[sec*testSampleRate] != want {
				t.Fatalf("block %d second %d: expected %v, got %v",
					block, sec, want, samples[sec*testSampleRate])
			}
		}
	}

	// Stream ends: the capture loop observes EOF and dies.
	reader.endStream()
	waitFor(t, "capture loop exit", func() bool { return !c.IsAlive() })

	// The third block is refused (or partial, but never a hang): capture
	// is no longer alive.
	start := time.Now()
	samples := c.ReadBlock(10)
	if elapsed := time.Since(start); elapsed > 11*time.Second {
		t.Fatalf("ReadBlock took %v, longer than duration+1 seconds", elapsed)
	}
	if len(samples) != 0 && len(samples) != 5*testSampleRate {
		t.Errorf("expected nil or 5-second partial block, got %d samples", len(samples))
	}
}

func TestReadBlockPartialOnStop(t *testing.T) {
	reader := newBlockingReader(pcmChunks(4))
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	waitFor(t, "chunks buffered", func() bool {
		return c.Stats().BufferLen == 4
	})

	// Stop mid-read: the 5th pop must unblock immediately and the block
	// comes back partial.
	go func() {
		time.Sleep(200 * time.Millisecond)
		c.Stop(time.Second)
	}()

	start := time.Now()
	samples := c.ReadBlock(10)
	elapsed := time.Since(start)

	if len(samples) != 4*testSampleRate {
		t.Errorf("expected 4-second partial block, got %d samples", len(samples))
	}
	if elapsed > 5*time.Second {
		t.Errorf("ReadBlock blocked %v after Stop, expected prompt return", elapsed)
	}
}

func TestReadBlockPartialOnTimeout(t *testing.T) {
	reader := newBlockingReader(pcmChunks(1))
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "chunk buffered", func() bool { return c.Stats().BufferLen == 1 })

	// One chunk available, two wanted: the second pop times out after
	// duration+1 seconds and the single collected chunk is returned.
	samples := c.ReadBlock(2)
	if len(samples) != testSampleRate {
		t.Errorf("expected 1-second partial block, got %d samples", len(samples))
	}
}

func TestReadBlockNoData(t *testing.T) {
	reader := newBlockingReader(nil)
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	// No chunks at all: the very first pop times out and nil comes back.
	if samples := c.ReadBlock(1); samples != nil {
		t.Errorf("expected nil block, got %d samples", len(samples))
	}
}

func TestReadBlockBeforeStart(t *testing.T) {
	c, _ := newTestCapture(newBlockingReader(nil), 10)

	if samples := c.ReadBlock(10); samples != nil {
		t.Errorf("expected nil before Start, got %d samples", len(samples))
	}
}

// errReader fails a fixed number of reads, then blocks.
type errReader struct {
	mu       sync.Mutex
	failures int
	served   int
	unblock  chan struct{}
}

func (r *errReader) Read(p []byte) (int, error) {
	r.mu.Lock()
	if r.served < r.failures {
		r.served++
		r.mu.Unlock()
		return 0, errors.New("simulated read error")
	}
	r.mu.Unlock()

	<-r.unblock
	return 0, io.EOF
}

func TestErrorThresholdNotExceeded(t *testing.T) {
	reader := &errReader{failures: 10, unblock: make(chan struct{})}
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = func() { close(reader.unblock) }

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "all errors counted", func() bool { return c.Stats().Errors == 10 })

	if !c.IsAlive() {
		t.Error("10 errors must not terminate the capture loop")
	}
}

func TestErrorThresholdExceeded(t *testing.T) {
	reader := &errReader{failures: 11, unblock: make(chan struct{})}
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = func() { close(reader.unblock) }

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "capture loop termination", func() bool { return !c.IsAlive() })

	if errs := c.Stats().Errors; errs != 11 {
		t.Errorf("expected 11 recorded errors, got %d", errs)
	}
}

func TestStartTwice(t *testing.T) {
	reader := newBlockingReader(nil)
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("first Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	if err := c.Start(); !errors.Is(err, ErrAlreadyStarted) {
		t.Errorf("second Start = %v, want ErrAlreadyStarted", err)
	}
}

func TestStartAfterStop(t *testing.T) {
	reader := newBlockingReader(nil)
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	c.Stop(time.Second)

	if err := c.Start(); !errors.Is(err, ErrSessionEnded) {
		t.Errorf("Start after Stop = %v, want ErrSessionEnded", err)
	}
}

func TestStopIdempotent(t *testing.T) {
	reader := newBlockingReader(nil)
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}

	c.Stop(time.Second)
	c.Stop(time.Second) // second call is a no-op

	if got := fd.terminateCount(); got != 1 {
		t.Errorf("decoder terminated %d times, want 1", got)
	}
	if c.IsAlive() {
		t.Error("capture should not be alive after Stop")
	}
}

func TestStopBeforeStart(t *testing.T) {
	c, fd := newTestCapture(newBlockingReader(nil), 10)

	c.Stop(time.Second) // harmless no-op from Idle

	if got := fd.terminateCount(); got != 0 {
		t.Errorf("decoder terminated %d times without Start", got)
	}
}

func TestDiagnosticClassification(t *testing.T) {
	var buf bytes.Buffer
	c := New(Config{
		StreamURL: "rtsp://example/stream",
		Logger:    zerolog.New(&buf),
	})

	tests := []struct {
		line  string
		level string
	}{
		{"Connection to server failed", "error"},
		{"Invalid data found when processing input", "error"},
		{"Could not find codec parameters", "error"},
		{"[wav] Warning: missing header", "warn"},
		{"Input #0, rtsp, from 'rtsp://example'", "info"},
		{"  Duration: N/A, start: 0.000000", "info"},
		{"frame=  100 fps= 25", "debug"},
	}

	for _, tt := range tests {
		buf.Reset()
		c.classifyDiagnostic(tt.line)
		if !strings.Contains(buf.String(), `"level":"`+tt.level+`"`) {
			t.Errorf("line %q logged as %s, want level %s", tt.line, buf.String(), tt.level)
		}
	}
}

func TestStatsSnapshot(t *testing.T) {
	reader := newBlockingReader(pcmChunks(3))
	c, fd := newTestCapture(reader, 10)
	fd.onTerminate = reader.endStream

	if err := c.Start(); err != nil {
		t.Fatalf("Start failed: %v", err)
	}
	defer c.Stop(time.Second)

	waitFor(t, "bytes counted", func() bool {
		return c.Stats().BytesRead == int64(3*testSampleRate*2)
	})

	stats := c.Stats()
	if stats.Errors != 0 {
		t.Errorf("expected no errors, got %d", stats.Errors)
	}
	if stats.BufferLen != 3 {
		t.Errorf("expected 3 buffered chunks, got %d", stats.BufferLen)
	}
	if !stats.Alive {
		t.Error("expected alive snapshot")
	}
}
