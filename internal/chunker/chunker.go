// Package chunker splits extracted document text into overlapping, boundary-aware windows.
package chunker

import (
	"regexp"
	"strings"
)

const (
	// DefaultSize is the maximum number of characters per chunk.
	DefaultSize = 1000

	// DefaultOverlap is the number of characters shared by consecutive chunks.
	DefaultOverlap = 200
)

// boundaries are tried in order; the first one found in the back half of a window wins.
var boundaries = [][]rune{
	[]rune("\n\n"),
	[]rune("! "),
	[]rune("? "),
	[]rune(". "),
}

// Chunker splits text into windows of at most size characters, preferring to cut at paragraph
// or sentence boundaries. It holds no state and is safe for concurrent use.
type Chunker struct {
	size    int
	overlap int
}

// Option configures a Chunker.
type Option func(*Chunker)

// WithSize sets the window size in characters. Non-positive values are ignored.
func WithSize(size int) Option {
	return func(c *Chunker) {
		if size > 0 {
			c.size = size
		}
	}
}

// WithOverlap sets the overlap in characters. Negative values are ignored.
func WithOverlap(overlap int) Option {
	return func(c *Chunker) {
		if overlap >= 0 {
			c.overlap = overlap
		}
	}
}

// New creates a Chunker with DefaultSize and DefaultOverlap unless overridden.
func New(opts ...Option) *Chunker {
	c := &Chunker{
		size:    DefaultSize,
		overlap: DefaultOverlap,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Size returns the configured window size.
func (c *Chunker) Size() int { return c.size }

// Overlap returns the configured overlap.
func (c *Chunker) Overlap() int { return c.overlap }

// Split returns the ordered chunks of text. Empty input yields no chunks; any non-empty input
// yields at least one. Output depends only on text, size and overlap.
func (c *Chunker) Split(text string) []string {
	if text == "" {
		return nil
	}

	runes := []rune(text)
	windows := c.windows(runes)
	chunks := make([]string, len(windows))
	for i, w := range windows {
		chunks[i] = string(runes[w.start:w.end])
	}
	return chunks
}

// window is a half-open rune range [start, end) of the input.
type window struct {
	start, end int
}

func (c *Chunker) windows(runes []rune) []window {
	n := len(runes)

	var out []window
	start := 0
	for start < n {
		if n-start <= c.size {
			out = append(out, window{start: start, end: n})
			break
		}

		end := start + c.size
		cut := findCut(runes, start, end)
		out = append(out, window{start: start, end: cut})

		// The cursor must strictly advance even when overlap swallows the whole window.
		next := cut - c.overlap
		if next <= start {
			next = cut
		}
		start = next
	}
	return out
}

// findCut returns the exclusive end of the window [start, end). It searches backward from end
// for each boundary in preference order and only accepts cuts in the back half of the window,
// so a stray early boundary can't produce a tiny chunk.
func findCut(runes []rune, start, end int) int {
	minCut := start + (end-start)/2
	for _, sep := range boundaries {
		if idx := lastIndex(runes[start:end], sep); idx >= 0 {
			cut := start + idx + len(sep)
			if cut > minCut {
				return cut
			}
		}
	}
	return end
}

func lastIndex(haystack, needle []rune) int {
	for i := len(haystack) - len(needle); i >= 0; i-- {
		match := true
		for j := range needle {
			if haystack[i+j] != needle[j] {
				match = false
				break
			}
		}
		if match {
			return i
		}
	}
	return -1
}

var (
	excessBlankLines = regexp.MustCompile(`\n{3,}`)
	trailingSpace    = regexp.MustCompile(`[ \t]+\n`)
)

// Normalize prepares extracted text for chunking: unix newlines, no trailing spaces on lines,
// at most one blank line between paragraphs, and no surrounding whitespace.
func Normalize(text string) string {
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	text = trailingSpace.ReplaceAllString(text, "\n")
	text = excessBlankLines.ReplaceAllString(text, "\n\n")
	return strings.TrimSpace(text)
}
