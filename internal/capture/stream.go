package capture

import (
	"fmt"
	"io"
	"net/url"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"
)

// StreamKind identifies the transport family of a stream URL. The kind
// decides which ffmpeg flags are used to keep a flaky stream connected.
type StreamKind int

const (
	KindUnknown StreamKind = iota
	KindRTSP
	KindHTTP
	KindHLS
)

func (k StreamKind) String() string {
	switch k {
	case KindRTSP:
		return "rtsp"
	case KindHTTP:
		return "http"
	case KindHLS:
		return "hls"
	default:
		return "unknown"
	}
}

// ClassifyStream derives the stream kind from the URL scheme and path suffix.
func ClassifyStream(rawURL string) StreamKind {
	u, err := url.Parse(rawURL)
	if err != nil {
		return KindUnknown
	}

	scheme := strings.ToLower(u.Scheme)
	path := strings.ToLower(u.Path)

	switch {
	case scheme == "rtsp" || scheme == "rtsps":
		return KindRTSP
	case strings.HasSuffix(path, ".m3u8") || strings.HasSuffix(path, ".m3u"):
		return KindHLS
	case scheme == "http" || scheme == "https":
		return KindHTTP
	default:
		return KindUnknown
	}
}

// decoderArgs builds the ffmpeg invocation for a stream URL. Every kind
// requests mono signed 16-bit little-endian PCM at sampleRate on stdout;
// RTSP forces TCP transport, HTTP/HLS enables auto-reconnect.
func decoderArgs(streamURL string, kind StreamKind, sampleRate int) []string {
	var args []string

	switch kind {
	case KindRTSP:
		args = append(args,
			"-rtsp_transport", "tcp",
			"-timeout", "10000000", // connection timeout, microseconds
		)
	case KindHTTP, KindHLS:
		args = append(args,
			"-reconnect", "1",
			"-reconnect_streamed", "1",
			"-reconnect_delay_max", "10",
			"-timeout", "10000000",
		)
	}

	args = append(args,
		"-i", streamURL,
		"-vn", // no video
		"-acodec", "pcm_s16le",
		"-ar", strconv.Itoa(sampleRate),
		"-ac", "1",
		"-f", "s16le",
		"pipe:1",
	)

	return args
}

// decoder is the handle held over the external decoding process. The
// interface exists so tests can drive the capture loop with a fake decoder.
type decoder interface {
	Stdout() io.Reader
	Stderr() io.Reader
	// Exited reports whether the process is no longer running.
	Exited() bool
	// Terminate requests a graceful stop, escalating to a kill after grace.
	// Safe to call more than once.
	Terminate(grace time.Duration)
}

type decoderProcess struct {
	cmd    *exec.Cmd
	stdout io.ReadCloser
	stderr io.ReadCloser

	waitOnce sync.Once
	waitDone chan struct{}
}

// spawnDecoder starts one ffmpeg process converting the stream into raw PCM
// on its stdout.
func spawnDecoder(streamURL string, kind StreamKind, sampleRate int) (decoder, error) {
	args := decoderArgs(streamURL, kind, sampleRate)
	cmd := exec.Command("ffmpeg", args...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder stdout: %w", err)
	}

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to open decoder stderr: %w", err)
	}

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start ffmpeg: %w", err)
	}

	return &decoderProcess{
		cmd:      cmd,
		stdout:   stdout,
		stderr:   stderr,
		waitDone: make(chan struct{}),
	}, nil
}

func (p *decoderProcess) Stdout() io.Reader { return p.stdout }
func (p *decoderProcess) Stderr() io.Reader { return p.stderr }

// Exited probes the process with signal 0. Once Terminate has reaped the
// process this reports true.
func (p *decoderProcess) Exited() bool {
	select {
	case <-p.waitDone:
		return true
	default:
	}
	if p.cmd.Process == nil {
		return true
	}
	return p.cmd.Process.Signal(syscall.Signal(0)) != nil
}

func (p *decoderProcess) Terminate(grace time.Duration) {
	if p.cmd.Process == nil {
		return
	}

	p.cmd.Process.Signal(syscall.SIGTERM)

	p.waitOnce.Do(func() {
		go func() {
			p.cmd.Wait()
			close(p.waitDone)
		}()
	})

	select {
	case <-p.waitDone:
	case <-time.After(grace):
		p.cmd.Process.Kill()
		<-p.waitDone
	}
}
