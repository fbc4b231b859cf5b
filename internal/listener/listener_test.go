package listener

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/capture"
	"github.com/manuelpayet/jaimepaslapubdutout/internal/transcribe"
)

// mockSource serves a fixed number of blocks, then reports dead.
type mockSource struct {
	mu         sync.Mutex
	blocks     [][]float32
	served     int
	startErr   error
	started    bool
	stopCalls  int
	aliveAfter bool // alive even once blocks run out
}

func (m *mockSource) Start() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.startErr != nil {
		return m.startErr
	}
	m.started = true
	return nil
}

func (m *mockSource) Stop(grace time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopCalls++
	m.aliveAfter = false
}

func (m *mockSource) IsAlive() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.started && (m.served < len(m.blocks) || m.aliveAfter)
}

func (m *mockSource) Stats() capture.Stats { return capture.Stats{} }

func (m *mockSource) ReadBlock(durationSeconds int) []float32 {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.served >= len(m.blocks) {
		return nil
	}
	block := m.blocks[m.served]
	m.served++
	return block
}

type mockTranscriber struct {
	mu     sync.Mutex
	errOn  map[int]error // call index -> error
	calls  int
	closed bool
}

func (m *mockTranscriber) Transcribe(samples []float32) (*transcribe.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	call := m.calls
	m.calls++
	if err := m.errOn[call]; err != nil {
		return nil, err
	}
	return &transcribe.Result{Text: "transcription", Language: "fr"}, nil
}

func (m *mockTranscriber) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.closed = true
	return nil
}

type mockRecorder struct {
	mu        sync.Mutex
	saved     []int
	saveErrOn map[int]error
	finalized bool
	metaURL   string
}

func (m *mockRecorder) SaveBlock(samples []float32, result *transcribe.Result, blockNumber int, timestamp time.Time, blockDuration int) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if err := m.saveErrOn[blockNumber]; err != nil {
		return "", err
	}
	m.saved = append(m.saved, blockNumber)
	return "block.wav", nil
}

func (m *mockRecorder) UpdateMetadata(streamURL string, blockDuration int, whisperModel string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.metaURL = streamURL
}

func (m *mockRecorder) FinalizeSession() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.finalized = true
	return nil
}

func (m *mockRecorder) SessionDir() string { return "data/raw/session_test" }

type mockDisplay struct {
	mu      sync.Mutex
	errors  []string
	infos   []string
	updates int
}

func (m *mockDisplay) Init(sessionID string) {}

func (m *mockDisplay) UpdateStatus(blockNumber int, transcription string, stats capture.Stats) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates++
}

func (m *mockDisplay) ShowInfo(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.infos = append(m.infos, msg)
}

func (m *mockDisplay) ShowError(msg string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.errors = append(m.errors, msg)
}

func blockOf(n int) []float32 { return make([]float32, n) }

func newTestListener(src *mockSource, stt *mockTranscriber, rec *mockRecorder, disp *mockDisplay) *Listener {
	return New(Config{
		Source:        src,
		Transcriber:   stt,
		Recorder:      rec,
		Display:       disp,
		SessionID:     "session_test",
		StreamURL:     "rtsp://host/stream",
		BlockDuration: 10,
		WhisperModel:  "base",
		StopGrace:     time.Second,
		Logger:        zerolog.Nop(),
	})
}

func TestRunProcessesAllBlocks(t *testing.T) {
	src := &mockSource{blocks: [][]float32{blockOf(10), blockOf(10), blockOf(10)}}
	stt := &mockTranscriber{}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, stt, rec, disp)
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if l.BlockCount() != 3 {
		t.Errorf("block count = %d, want 3", l.BlockCount())
	}
	if len(rec.saved) != 3 {
		t.Errorf("saved blocks = %v, want 3 entries", rec.saved)
	}
	for i, n := range rec.saved {
		if n != i {
			t.Errorf("saved[%d] = %d, block numbers must be sequential", i, n)
		}
	}
	if !rec.finalized {
		t.Error("session must be finalized on shutdown")
	}
	if rec.metaURL != "rtsp://host/stream" {
		t.Error("metadata must be updated before processing")
	}
	if src.stopCalls == 0 {
		t.Error("source must be stopped on shutdown")
	}

	var savedInfo bool
	for _, info := range disp.infos {
		if strings.Contains(info, "data/raw/session_test") {
			savedInfo = true
		}
	}
	if !savedInfo {
		t.Errorf("summary should name the session directory, got %v", disp.infos)
	}
}

func TestRunStartFailure(t *testing.T) {
	src := &mockSource{startErr: errors.New("ffmpeg not found")}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, &mockTranscriber{}, rec, disp)
	if err := l.Run(); err == nil {
		t.Fatal("expected error when capture fails to start")
	}

	if rec.finalized {
		t.Error("failed start must not finalize a session")
	}
	if len(disp.errors) == 0 {
		t.Error("start failure must be shown to the user")
	}
}

func TestRunAbsorbsTranscribeError(t *testing.T) {
	src := &mockSource{blocks: [][]float32{blockOf(10), blockOf(10)}}
	stt := &mockTranscriber{errOn: map[int]error{0: errors.New("model choked")}}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, stt, rec, disp)
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	// First block failed transcription, second succeeded: the session
	// continues and the failed block is not counted or saved.
	if l.BlockCount() != 1 {
		t.Errorf("block count = %d, want 1", l.BlockCount())
	}
	if len(rec.saved) != 1 || rec.saved[0] != 0 {
		t.Errorf("saved = %v, the surviving block reuses number 0", rec.saved)
	}
	if len(disp.errors) != 1 {
		t.Errorf("errors shown = %v, want 1", disp.errors)
	}
	if !rec.finalized {
		t.Error("session must still be finalized")
	}
}

func TestRunAbsorbsSaveError(t *testing.T) {
	src := &mockSource{blocks: [][]float32{blockOf(10), blockOf(10)}}
	rec := &mockRecorder{saveErrOn: map[int]error{0: errors.New("disk full")}}
	disp := &mockDisplay{}

	l := newTestListener(src, &mockTranscriber{}, rec, disp)
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if l.BlockCount() != 1 {
		t.Errorf("block count = %d, want 1", l.BlockCount())
	}
	if len(disp.errors) != 1 {
		t.Errorf("errors shown = %v, want 1", disp.errors)
	}
}

func TestRunSkipsEmptyBlocks(t *testing.T) {
	src := &mockSource{blocks: [][]float32{blockOf(10), nil, blockOf(10)}}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, &mockTranscriber{}, rec, disp)
	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if l.BlockCount() != 2 {
		t.Errorf("block count = %d, want 2 (empty block skipped)", l.BlockCount())
	}
}

func TestStopEndsRun(t *testing.T) {
	src := &mockSource{blocks: [][]float32{blockOf(10)}, aliveAfter: true}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, &mockTranscriber{}, rec, disp)

	done := make(chan error, 1)
	go func() { done <- l.Run() }()

	// Let the loop drain the one block, then stop from another goroutine,
	// as a signal handler would.
	time.Sleep(100 * time.Millisecond)
	l.Stop()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("Run failed: %v", err)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("Run did not return after Stop")
	}

	if !rec.finalized {
		t.Error("session must be finalized after Stop")
	}
	if src.stopCalls == 0 {
		t.Error("Stop must reach the source")
	}
}

func TestStopIdempotent(t *testing.T) {
	src := &mockSource{}
	l := newTestListener(src, &mockTranscriber{}, &mockRecorder{}, &mockDisplay{})

	l.Stop()
	l.Stop()

	if src.stopCalls != 1 {
		t.Errorf("source stopped %d times, repeated Stop must collapse to one", src.stopCalls)
	}
}

func TestStopBeforeRun(t *testing.T) {
	// A signal can land between the capture starting and the process loop's
	// first iteration. The request must be latched, not lost.
	src := &mockSource{blocks: [][]float32{blockOf(10), blockOf(10), blockOf(10)}}
	rec := &mockRecorder{}
	disp := &mockDisplay{}

	l := newTestListener(src, &mockTranscriber{}, rec, disp)
	l.Stop()

	if err := l.Run(); err != nil {
		t.Fatalf("Run failed: %v", err)
	}

	if l.BlockCount() != 0 {
		t.Errorf("block count = %d, a pre-run Stop must prevent processing", l.BlockCount())
	}
	if len(rec.saved) != 0 {
		t.Errorf("saved blocks = %v, want none", rec.saved)
	}
	if !rec.finalized {
		t.Error("session must still be finalized")
	}
}
