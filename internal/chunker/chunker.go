// Package chunker splits extracted document text into ordered, overlapping
// chunks with recorded character offsets.
package chunker

import (
	"strings"
	"unicode"
)

// DefaultChunkSize is the default chunk length in characters.
const DefaultChunkSize = 500

// DefaultChunkOverlap is the default number of characters carried over
// between consecutive chunks.
const DefaultChunkOverlap = 50

// DefaultSeparator is the segment boundary used before falling back to
// sentence splitting: a blank line.
const DefaultSeparator = "\n\n"

// Chunk is one bounded slice of the source text. Offsets are rune positions
// into the text handed to Split; the offset ranges of consecutive chunks
// tile the text, with at most ChunkOverlap characters shared between
// neighbours. Text is the trimmed content of the offset range.
type Chunk struct {
	Text        string
	StartOffset int
	EndOffset   int
	Index       int
	TotalChunks int
}

// Splitter produces chunks of roughly chunkSize characters from text, seeding
// each chunk after the first with the tail of its predecessor.
//
// An overlap >= chunkSize is accepted but degrades to near-duplicate chunks:
// the seed is clamped to the closed chunk's length, so every chunk after the
// first advances by at most one segment. Callers wanting distinct chunks
// should keep overlap well below chunkSize.
type Splitter struct {
	chunkSize int
	overlap   int
	separator string
}

// New creates a Splitter. Non-positive size or negative overlap fall back to
// the defaults; an empty separator means blank-line splitting.
func New(chunkSize, overlap int, separator string) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if separator == "" {
		separator = DefaultSeparator
	}
	return &Splitter{chunkSize: chunkSize, overlap: overlap, separator: separator}
}

// segment is a half-open rune range [start, end) into the source text.
// Segments tile the text completely, each carrying its trailing separator.
type segment struct {
	start, end int
}

// Split divides text into chunks. Empty or whitespace-only input yields nil.
// A single segment longer than chunkSize is emitted as its own oversized
// chunk; segments are never hard-split in the middle.
func (s *Splitter) Split(text string) []Chunk {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	runes := []rune(text)
	segments := splitBySeparator(runes, []rune(s.separator))
	if len(segments) == 1 {
		// No separator present; fall back to sentence boundaries.
		if sentences := splitBySentence(runes); len(sentences) > 1 {
			segments = sentences
		}
	}

	var chunks []Chunk
	bufStart, bufEnd := segments[0].start, segments[0].start
	orphanStart := -1 // start of a leading whitespace-only range not yet owned by a chunk

	flush := func() {
		trimmed := strings.TrimSpace(string(runes[bufStart:bufEnd]))
		if trimmed == "" {
			// Whitespace-only buffer: fold the range into the previous chunk,
			// or carry it forward to the next one, so offset coverage stays
			// gapless.
			if n := len(chunks); n > 0 {
				chunks[n-1].EndOffset = bufEnd
			} else if orphanStart < 0 {
				orphanStart = bufStart
			}
			return
		}
		start := bufStart
		if orphanStart >= 0 {
			start = orphanStart
			orphanStart = -1
		}
		chunks = append(chunks, Chunk{
			Text:        trimmed,
			StartOffset: start,
			EndOffset:   bufEnd,
			Index:       len(chunks),
		})
	}

	for _, seg := range segments {
		if bufEnd > bufStart && seg.end-bufStart > s.chunkSize {
			flush()
			// Seed the next buffer with the overlap tail of the closed chunk,
			// clamped to the buffer length.
			seed := s.overlap
			if seed > bufEnd-bufStart {
				seed = bufEnd - bufStart
			}
			bufStart = bufEnd - seed
		}
		bufEnd = seg.end
	}
	if bufEnd > bufStart {
		flush()
	}

	for i := range chunks {
		chunks[i].TotalChunks = len(chunks)
	}
	return chunks
}

// splitBySeparator cuts runes into segments ending just after each separator
// occurrence. The final segment runs to the end of the text.
func splitBySeparator(runes, sep []rune) []segment {
	var segs []segment
	start := 0
	for i := 0; i+len(sep) <= len(runes); {
		if !runesEqual(runes[i:i+len(sep)], sep) {
			i++
			continue
		}
		segs = append(segs, segment{start: start, end: i + len(sep)})
		start = i + len(sep)
		i += len(sep)
	}
	segs = append(segs, segment{start: start, end: len(runes)})
	return segs
}

// splitBySentence cuts runes into segments ending after sentence-final
// punctuation followed by whitespace. The trailing whitespace run belongs to
// the preceding segment so that segments tile the text.
func splitBySentence(runes []rune) []segment {
	var segs []segment
	start := 0
	for i := 0; i < len(runes); i++ {
		if !isSentenceEnd(runes[i]) {
			continue
		}
		j := i + 1
		if j < len(runes) && !unicode.IsSpace(runes[j]) {
			continue
		}
		for j < len(runes) && unicode.IsSpace(runes[j]) {
			j++
		}
		segs = append(segs, segment{start: start, end: j})
		start = j
		i = j - 1
	}
	if start < len(runes) {
		segs = append(segs, segment{start: start, end: len(runes)})
	}
	if len(segs) == 0 {
		segs = append(segs, segment{start: 0, end: len(runes)})
	}
	return segs
}

// isSentenceEnd reports whether r ends a sentence, including the full-width
// forms used in CJK text.
func isSentenceEnd(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}

func runesEqual(a, b []rune) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
