package chunker

import (
	"fmt"
	"iter"
	"unicode/utf8"
)

// DefaultWindowSize is used when no window size is configured.
const DefaultWindowSize = 512

// Window splits text into adjacent fixed-size rune windows.
// Spans never split a UTF-8 sequence; offsets are byte positions.
type Window struct {
	size int
}

// NewWindow creates a window chunker with the given window size in runes.
// size of 0 selects DefaultWindowSize.
func NewWindow(size int) (*Window, error) {
	if size == 0 {
		size = DefaultWindowSize
	}
	if size < 1 {
		return nil, fmt.Errorf("window chunker: invalid window size %d", size)
	}
	return &Window{size: size}, nil
}

// Chunks implements Chunker.
func (w *Window) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		start := 0
		for start < len(text) {
			end := start
			for n := 0; n < w.size && end < len(text); n++ {
				_, width := utf8.DecodeRuneInString(text[end:])
				end += width
			}
			if !yield(Chunk{Start: start, End: end, Text: text[start:end]}) {
				return
			}
			start = end
		}
	}
}
