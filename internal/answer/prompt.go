package answer

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/54b3r/ragctx-go/internal/rag"
)

// Format selects how passages are serialised into the prompt.
type Format string

const (
	// FormatJSON renders passages as indented JSON.
	FormatJSON Format = "json"
	// FormatYAML renders passages as YAML, which costs fewer tokens.
	FormatYAML Format = "yaml"
)

// ParseFormat validates s, defaulting to YAML when empty.
func ParseFormat(s string) (Format, error) {
	switch f := Format(strings.ToLower(strings.TrimSpace(s))); f {
	case "":
		return FormatYAML, nil
	case FormatJSON, FormatYAML:
		return f, nil
	default:
		return "", fmt.Errorf("answer: unknown passage format %q (json, yaml)", s)
	}
}

// DefaultSystemContext describes the documents when no description is set.
const DefaultSystemContext = "the documents available in this context"

const systemPromptTemplate = `You answer questions about %s.

Help the user understand what the documents say, clearly and completely.

How to answer:
1. Read every passage. When there is no literal answer, look for related information that still helps.
2. Be complete. Explain what the documents say about the subject instead of replying in one line.
3. Cite your sources. Name the file each piece of information comes from.
4. Give context. Explain practical implications and the reasons behind rules when the documents state them.
5. Mention closely related points the user should know even if they did not ask.
6. Organise long answers in paragraphs or lists.
7. Only when the passages hold nothing relevant at all, say so politely.

Answer in the language of the question.`

// SystemPrompt returns the system prompt for a context. description is the
// context's description; when empty DefaultSystemContext is used.
func SystemPrompt(contextName, description string) string {
	subject := strings.TrimSpace(description)
	if subject == "" {
		subject = DefaultSystemContext
	}
	if contextName != "" && contextName != "default" {
		subject = fmt.Sprintf("the documents of context %q: %s", contextName, subject)
	}
	return fmt.Sprintf(systemPromptTemplate, subject)
}

// passage is the serialised form of one retrieved chunk.
type passage struct {
	ID        int     `json:"id" yaml:"id"`
	Content   string  `json:"content" yaml:"content"`
	File      string  `json:"file" yaml:"file"`
	Chunk     string  `json:"chunk,omitempty" yaml:"chunk,omitempty"`
	Relevance float64 `json:"relevance" yaml:"relevance"`
}

type passages struct {
	Sources []passage `json:"sources" yaml:"sources"`
}

// FormatPassages serialises docs for the prompt. Passages are numbered from
// 1; chunk positions are rendered 1-based as "i/n"; relevance is rounded to
// three decimals. maxContent > 0 truncates each passage.
func FormatPassages(docs []rag.Document, f Format, maxContent int) (string, error) {
	out := passages{Sources: make([]passage, len(docs))}
	for i, d := range docs {
		content := d.Content
		if maxContent > 0 && len([]rune(content)) > maxContent {
			content = string([]rune(content)[:maxContent]) + "..."
		}
		p := passage{
			ID:        i + 1,
			Content:   content,
			File:      d.Source,
			Relevance: round3(d.Relevance),
		}
		if p.File == "" {
			p.File = "unknown"
		}
		if d.TotalChunks > 0 {
			p.Chunk = fmt.Sprintf("%d/%d", d.ChunkIndex+1, d.TotalChunks)
		}
		out.Sources[i] = p
	}

	switch f {
	case FormatJSON:
		b, err := json.MarshalIndent(out, "", "  ")
		if err != nil {
			return "", fmt.Errorf("answer: encode passages: %w", err)
		}
		return string(b), nil
	default:
		b, err := yaml.Marshal(out)
		if err != nil {
			return "", fmt.Errorf("answer: encode passages: %w", err)
		}
		return string(b), nil
	}
}

func round3(v float32) float64 {
	return math.Round(float64(v)*1000) / 1000
}
