package ingestion

import (
	"path/filepath"
	"strings"
	"time"
)

// FileMetadata returns the per-file metadata stamped on every chunk of path:
// source (base name), file_path (absolute when resolvable), file_type
// (lower-cased extension with dot) and loaded_at (RFC 3339, UTC).
func FileMetadata(path string, loadedAt time.Time) map[string]string {
	abs, err := filepath.Abs(path)
	if err != nil {
		abs = path
	}
	return map[string]string{
		"source":    filepath.Base(path),
		"file_path": abs,
		"file_type": strings.ToLower(filepath.Ext(path)),
		"loaded_at": loadedAt.UTC().Format(time.RFC3339),
	}
}

// isMarkdown reports whether fileName should be split along its headings.
func isMarkdown(fileName string) bool {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".md", ".markdown":
		return true
	}
	return false
}

// mdSection is the body under one markdown heading together with the
// headings enclosing it.
type mdSection struct {
	headers map[string]string
	body    string
}

// splitMarkdownSections cuts text at #, ## and ### headings. Heading lines
// are removed from the body and recorded as header_1..header_3; a new
// heading clears any deeper ones. Text inside fenced code blocks is never
// treated as a heading.
func splitMarkdownSections(text string) []mdSection {
	var (
		out     []mdSection
		headers = map[string]string{}
		body    strings.Builder
		inFence bool
	)
	flush := func() {
		if strings.TrimSpace(body.String()) != "" {
			h := make(map[string]string, len(headers))
			for k, v := range headers {
				h[k] = v
			}
			out = append(out, mdSection{headers: h, body: strings.TrimSpace(body.String())})
		}
		body.Reset()
	}

	for _, line := range strings.Split(text, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "```") || strings.HasPrefix(trimmed, "~~~") {
			inFence = !inFence
		}
		if level, title, ok := headingOf(trimmed); ok && !inFence {
			flush()
			for l := level; l <= 3; l++ {
				delete(headers, headerKey(l))
			}
			headers[headerKey(level)] = title
			continue
		}
		body.WriteString(line)
		body.WriteByte('\n')
	}
	flush()
	return out
}

// headingOf parses an ATX heading of level 1 to 3.
func headingOf(line string) (int, string, bool) {
	level := 0
	for level < len(line) && line[level] == '#' {
		level++
	}
	if level == 0 || level > 3 || level >= len(line) || line[level] != ' ' {
		return 0, "", false
	}
	title := strings.TrimSpace(line[level:])
	if title == "" {
		return 0, "", false
	}
	return level, title, true
}

func headerKey(level int) string {
	return "header_" + string(rune('0'+level))
}
