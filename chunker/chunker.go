// Package chunker splits item text into ordered, non-overlapping spans.
//
// Chunkers are deterministic for identical (text, config), so rebuilds of the
// same corpus produce identical chunk ids and row order.
package chunker

import (
	"fmt"
	"iter"

	"github.com/retrago/retrago/model"
)

// Chunk is one contiguous span of an item's text with exact byte offsets.
type Chunk struct {
	Start int
	End   int
	Text  string
}

// Span returns the chunk's byte span.
func (c Chunk) Span() model.Span {
	return model.Span{Start: c.Start, End: c.End}
}

// Chunker produces a lazy, finite, restartable sequence of chunks in
// increasing, non-overlapping span order.
type Chunker interface {
	// Chunks returns the chunk sequence for text. The sequence may be
	// iterated multiple times and always yields identical chunks.
	Chunks(text string) iter.Seq[Chunk]
}

// Config selects and parameterizes a chunker.
type Config struct {
	// Name identifies the chunking strategy: "paragraph" or "window".
	Name string `json:"name" mapstructure:"name"`

	// WindowSize is the window length in runes (window chunker only).
	// Windows are adjacent, never overlapping, so row order mirrors text order.
	WindowSize int `json:"window_size,omitempty" mapstructure:"window_size"`
}

// ErrUnknownChunker indicates an unrecognized chunker name.
type ErrUnknownChunker struct {
	Name string
}

func (e *ErrUnknownChunker) Error() string {
	return fmt.Sprintf("unknown chunker: %q", e.Name)
}

// New creates a chunker from config.
func New(cfg Config) (Chunker, error) {
	switch cfg.Name {
	case "paragraph":
		return NewParagraph(), nil
	case "window":
		return NewWindow(cfg.WindowSize)
	default:
		return nil, &ErrUnknownChunker{Name: cfg.Name}
	}
}
