package ingestion

import (
	"maps"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Default splitter settings.
const (
	DefaultChunkSize    = 512
	DefaultChunkOverlap = 50
)

// DefaultSeparators are tried in order: paragraphs, lines, sentences, words
// and finally single characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// Chunk is one ordered text span of a source file.
type Chunk struct {
	// Text is the chunk content.
	Text string
	// Index is the zero-based position of the chunk in its source.
	Index int
	// Total is the number of chunks the source was split into.
	Total int
	// Metadata carries source and position keys (chunk_index, total_chunks).
	Metadata map[string]string
}

// Splitter breaks text into chunks of at most Size characters (runes),
// consecutive chunks sharing up to Overlap characters. It splits on the
// first separator present in the text and recurses with the remaining
// separators into any piece that is still too long.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
}

// NewSplitter returns a Splitter with the default separators. Non-positive
// size falls back to DefaultChunkSize; an overlap outside [0, size) falls
// back to a tenth of size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 || overlap >= size {
		overlap = size / 10
	}
	return &Splitter{Size: size, Overlap: overlap, Separators: DefaultSeparators}
}

// Split chunks text and stamps every chunk with base metadata plus
// chunk_index and total_chunks. Markdown text is first cut at #, ## and ###
// headings, and the enclosing headings are recorded as header_1..header_3.
func (s *Splitter) Split(text string, base map[string]string, markdown bool) []Chunk {
	type piece struct {
		text string
		meta map[string]string
	}
	var pieces []piece
	if markdown {
		for _, sec := range splitMarkdownSections(text) {
			for _, t := range s.SplitText(sec.body) {
				pieces = append(pieces, piece{text: t, meta: sec.headers})
			}
		}
	} else {
		for _, t := range s.SplitText(text) {
			pieces = append(pieces, piece{text: t})
		}
	}

	chunks := make([]Chunk, len(pieces))
	for i, p := range pieces {
		meta := maps.Clone(base)
		if meta == nil {
			meta = make(map[string]string)
		}
		maps.Copy(meta, p.meta)
		meta["chunk_index"] = strconv.Itoa(i)
		meta["total_chunks"] = strconv.Itoa(len(pieces))
		chunks[i] = Chunk{Text: p.text, Index: i, Total: len(pieces), Metadata: meta}
	}
	return chunks
}

// SplitText returns the chunk texts of text, trimmed and non-empty.
func (s *Splitter) SplitText(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) split(text string, seps []string) []string {
	// Pick the first separator that occurs; "" always does.
	sep, rest := seps[len(seps)-1], []string(nil)
	for i, c := range seps {
		if c == "" || strings.Contains(text, c) {
			sep, rest = c, seps[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		parts = strings.Split(text, "")
	} else {
		parts = strings.Split(text, sep)
	}

	var out, fitting []string
	for _, p := range parts {
		if p == "" {
			continue
		}
		if runeLen(p) < s.Size {
			fitting = append(fitting, p)
			continue
		}
		if len(fitting) > 0 {
			out = append(out, s.merge(fitting, sep)...)
			fitting = nil
		}
		if len(rest) == 0 {
			out = append(out, p)
		} else {
			out = append(out, s.split(p, rest)...)
		}
	}
	if len(fitting) > 0 {
		out = append(out, s.merge(fitting, sep)...)
	}
	return out
}

// merge greedily joins parts with sep into chunks no longer than Size,
// carrying up to Overlap characters of trailing parts into the next chunk.
func (s *Splitter) merge(parts []string, sep string) []string {
	sepLen := runeLen(sep)
	var (
		out     []string
		current []string
		total   int
	)
	joinedLen := func(extra int) int {
		if len(current) > 0 {
			return total + extra + sepLen
		}
		return total + extra
	}

	for _, p := range parts {
		n := runeLen(p)
		if joinedLen(n) > s.Size && len(current) > 0 {
			if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
				out = append(out, doc)
			}
			// Drop leading parts until what remains fits as overlap and
			// leaves room for p.
			for total > s.Overlap || (total > 0 && joinedLen(n) > s.Size) {
				drop := runeLen(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		if len(current) > 0 {
			total += sepLen
		}
		current = append(current, p)
		total += n
	}
	if doc := strings.TrimSpace(strings.Join(current, sep)); doc != "" {
		out = append(out, doc)
	}
	return out
}

func runeLen(s string) int { return utf8.RuneCountInString(s) }
