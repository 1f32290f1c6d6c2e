package chunker

import (
	"iter"
	"strings"
	"unicode"
)

// Paragraph splits text on blank lines, one chunk per paragraph.
// Leading and trailing whitespace is excluded from each span, so the recorded
// offsets point at the visible text.
type Paragraph struct{}

// NewParagraph creates a paragraph chunker.
func NewParagraph() *Paragraph {
	return &Paragraph{}
}

// Chunks implements Chunker.
func (p *Paragraph) Chunks(text string) iter.Seq[Chunk] {
	return func(yield func(Chunk) bool) {
		offset := 0
		for offset < len(text) {
			rest := text[offset:]
			end := strings.Index(rest, "\n\n")
			var para string
			if end < 0 {
				para = rest
				end = len(rest)
			} else {
				para = rest[:end]
			}

			start, stop := trimOffsets(para)
			if stop > start {
				c := Chunk{
					Start: offset + start,
					End:   offset + stop,
					Text:  para[start:stop],
				}
				if !yield(c) {
					return
				}
			}

			offset += end
			// Skip the separating blank line(s).
			for offset < len(text) && text[offset] == '\n' {
				offset++
			}
		}
	}
}

// trimOffsets returns the sub-range of s with surrounding whitespace removed.
func trimOffsets(s string) (start, stop int) {
	stop = len(s)
	for start < stop && unicode.IsSpace(rune(s[start])) {
		start++
	}
	for stop > start && unicode.IsSpace(rune(s[stop-1])) {
		stop--
	}
	return start, stop
}
