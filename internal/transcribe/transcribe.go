package transcribe

import "errors"

// ErrModelNotLoaded is returned when Transcribe is called after the model
// has been unloaded.
var ErrModelNotLoaded = errors.New("whisper model not loaded")

// Transcriber converts normalized audio samples into text.
type Transcriber interface {
	Transcribe(samples []float32) (*Result, error)
	Close() error
}

// Segment is a span of transcribed text with timing information.
type Segment struct {
	ID    int     `json:"id"`
	Start float64 `json:"start"` // seconds
	End   float64 `json:"end"`   // seconds
	Text  string  `json:"text"`
}

// Result is the outcome of transcribing one audio block.
type Result struct {
	Text     string    `json:"text"`
	Segments []Segment `json:"segments"`
	Language string    `json:"language"`
}
