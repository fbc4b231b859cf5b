package display

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/manuelpayet/jaimepaslapubdutout/internal/capture"
)

// Display is the status sink the listener reports to.
type Display interface {
	Init(sessionID string)
	UpdateStatus(blockNumber int, transcription string, stats capture.Stats)
	ShowInfo(msg string)
	ShowError(msg string)
}

const panelWidth = 60

// Console renders a fixed status panel with ANSI escape codes. Redraws are
// throttled to keep CPU usage negligible.
type Console struct {
	out         io.Writer
	refreshRate time.Duration
	lastUpdate  time.Time
	initialized bool

	sessionID     string
	currentBlock  int
	transcription string
	stats         capture.Stats
}

// NewConsole creates a console display writing to stdout.
func NewConsole() *Console {
	return &Console{out: os.Stdout, refreshRate: 500 * time.Millisecond}
}

func (c *Console) Init(sessionID string) {
	c.sessionID = sessionID
	c.initialized = true
	fmt.Fprint(c.out, "\033[2J") // clear screen
	c.drawHeader()
}

func (c *Console) UpdateStatus(blockNumber int, transcription string, stats capture.Stats) {
	now := time.Now()
	if now.Sub(c.lastUpdate) < c.refreshRate {
		return
	}

	c.currentBlock = blockNumber
	c.transcription = transcription
	c.stats = stats

	c.redraw()
	c.lastUpdate = now
}

func (c *Console) ShowInfo(msg string) {
	fmt.Fprintf(c.out, "\n\033[94mINFO\033[0m: %s\n", msg)
}

func (c *Console) ShowError(msg string) {
	fmt.Fprintf(os.Stderr, "\n\033[91mERROR\033[0m: %s\n", msg)
}

func (c *Console) redraw() {
	if !c.initialized {
		return
	}

	fmt.Fprint(c.out, "\033[H") // cursor home
	c.drawHeader()
	c.drawStatus()
	c.drawTranscription()
}

func (c *Console) drawHeader() {
	border := strings.Repeat("═", panelWidth)
	title := fmt.Sprintf(" Radio Listener - %s ", c.sessionID)

	fmt.Fprintf(c.out, "╔%s╗\n", border)
	fmt.Fprintf(c.out, "║%s║\n", center(title, panelWidth))
	fmt.Fprintf(c.out, "╠%s╣\n", border)
}

func (c *Console) drawStatus() {
	fmt.Fprintf(c.out, "║%-*s║\n", panelWidth, fmt.Sprintf(" Block: %04d", c.currentBlock))
	fmt.Fprintf(c.out, "║%-*s║\n", panelWidth, fmt.Sprintf(
		" Bytes: %s | Buffer: %d | Errors: %d",
		formatBytes(c.stats.BytesRead), c.stats.BufferLen, c.stats.Errors))
	fmt.Fprintf(c.out, "║%-*s║\n", panelWidth, " Time: "+time.Now().Format("2006-01-02 15:04:05"))
	fmt.Fprintf(c.out, "╠%s╣\n", strings.Repeat("─", panelWidth))
}

func (c *Console) drawTranscription() {
	fmt.Fprintf(c.out, "║ %-*s║\n", panelWidth-1, "Transcription:")

	if c.transcription != "" {
		lines := wrapText(c.transcription, panelWidth-4)
		if len(lines) > 10 {
			lines = lines[:10]
		}
		for _, line := range lines {
			fmt.Fprintf(c.out, "║ %-*s║\n", panelWidth-1, line)
		}
	} else {
		fmt.Fprintf(c.out, "║ %-*s║\n", panelWidth-1, "(waiting for audio...)")
	}

	fmt.Fprintf(c.out, "╚%s╝\n", strings.Repeat("═", panelWidth))
}

func center(s string, width int) string {
	if len(s) >= width {
		return s[:width]
	}
	left := (width - len(s)) / 2
	right := width - len(s) - left
	return strings.Repeat(" ", left) + s + strings.Repeat(" ", right)
}

// wrapText breaks text into lines no wider than width, splitting on spaces.
// Words wider than a line are hard-split across as many lines as needed.
func wrapText(text string, width int) []string {
	words := strings.Fields(text)
	var lines []string
	var current []string
	length := 0

	flush := func() {
		if len(current) > 0 {
			lines = append(lines, strings.Join(current, " "))
			current = nil
			length = 0
		}
	}

	for _, word := range words {
		for len(word) > width {
			flush()
			lines = append(lines, word[:width])
			word = word[width:]
		}
		if length+len(word)+1 > width {
			flush()
		}
		current = append(current, word)
		length += len(word) + 1
	}

	flush()
	return lines
}

func formatBytes(n int64) string {
	value := float64(n)
	for _, unit := range []string{"B", "KB", "MB", "GB"} {
		if value < 1024.0 {
			return fmt.Sprintf("%.1f %s", value, unit)
		}
		value /= 1024.0
	}
	return fmt.Sprintf("%.1f TB", value)
}
