// Package answer implements retrieval-augmented question answering over one
// context: it retrieves the closest passages, fits them and the prior Q&A
// turns into the token budget, streams the chat model's answer and records
// the exchange in the context's history.
package answer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"

	"github.com/cloudwego/eino/components/model"
	"github.com/cloudwego/eino/schema"

	"github.com/54b3r/ragctx-go/internal/budget"
	"github.com/54b3r/ragctx-go/internal/errkind"
	"github.com/54b3r/ragctx-go/internal/logging"
	"github.com/54b3r/ragctx-go/internal/rag"
	"github.com/54b3r/ragctx-go/internal/store"
)

// excerptLength bounds the passage excerpt returned with each source.
const excerptLength = 200

// Config holds the dependencies required to construct a Chain.
type Config struct {
	// ChatModel is the LLM backend constructed by the provider factory.
	ChatModel model.BaseChatModel

	// Retriever fetches the passages of a context.
	Retriever rag.Retriever

	// TopK controls how many passages are retrieved per question.
	// Defaults to rag.DefaultTopK if zero.
	TopK int

	// Format selects the passage serialisation. Defaults to YAML.
	Format Format

	// History is the optional Q&A store. If nil, each question is stateless.
	History store.HistoryStore

	// HistoryDepth is the number of prior exchanges (question and answer
	// pairs) replayed per question. Defaults to 5 if zero.
	HistoryDepth int

	// MaxContextTokens is the estimated token budget of the whole prompt.
	// Defaults to budget.DefaultMaxContextTokens if zero.
	MaxContextTokens int

	// SystemContext describes the documents of contexts that have no
	// description of their own.
	SystemContext string
}

// Chain answers questions against contexts.
type Chain struct {
	chatModel        model.BaseChatModel
	retriever        rag.Retriever
	topK             int
	format           Format
	history          store.HistoryStore
	historyDepth     int
	maxContextTokens int
	systemContext    string
}

// Source is one passage an answer drew on.
type Source struct {
	File      string  `json:"file"`
	Chunk     string  `json:"chunk,omitempty"`
	Relevance float64 `json:"relevance"`
	Excerpt   string  `json:"excerpt"`
}

// Answer is the result of Ask.
type Answer struct {
	Context  string   `json:"context"`
	Question string   `json:"question"`
	Text     string   `json:"answer"`
	Format   Format   `json:"context_format"`
	Sources  []Source `json:"sources"`
}

// New constructs a Chain from the provided Config.
func New(cfg *Config) (*Chain, error) {
	if cfg.ChatModel == nil {
		return nil, fmt.Errorf("answer: ChatModel must not be nil")
	}
	if cfg.Retriever == nil {
		return nil, fmt.Errorf("answer: Retriever must not be nil")
	}
	topK := cfg.TopK
	if topK <= 0 {
		topK = rag.DefaultTopK
	}
	format := cfg.Format
	if format == "" {
		format = FormatYAML
	}
	depth := cfg.HistoryDepth
	if depth <= 0 {
		depth = 5
	}
	maxCtx := cfg.MaxContextTokens
	if maxCtx <= 0 {
		maxCtx = budget.DefaultMaxContextTokens
	}
	return &Chain{
		chatModel:        cfg.ChatModel,
		retriever:        cfg.Retriever,
		topK:             topK,
		format:           format,
		history:          cfg.History,
		historyDepth:     depth,
		maxContextTokens: maxCtx,
		systemContext:    strings.TrimSpace(cfg.SystemContext),
	}, nil
}

// Ask answers question from contextName's documents. The answer text is
// streamed to w as it is generated (w may be io.Discard) and also returned.
// description is the context's description, used in the system prompt.
func (c *Chain) Ask(ctx context.Context, contextName, description, question string, w io.Writer) (*Answer, error) {
	question = strings.TrimSpace(question)
	if question == "" {
		return nil, fmt.Errorf("answer: %w: empty question", errkind.ErrInput)
	}

	docs, err := c.retriever.Retrieve(ctx, contextName, question, c.topK)
	if err != nil {
		return nil, fmt.Errorf("answer: retrieve: %w", err)
	}

	messages, docs, err := c.buildMessages(ctx, contextName, description, question, docs)
	if err != nil {
		return nil, err
	}

	sr, err := c.chatModel.Stream(ctx, messages)
	if err != nil {
		return nil, errkind.WrapProvider("chat", fmt.Errorf("stream: %w", err))
	}
	defer sr.Close()

	var buf strings.Builder
	for {
		msg, err := sr.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return nil, errkind.WrapProvider("chat", fmt.Errorf("stream receive: %w", err))
		}
		if msg == nil || msg.Content == "" {
			continue
		}
		buf.WriteString(msg.Content)
		if _, err := io.WriteString(w, msg.Content); err != nil {
			return nil, fmt.Errorf("answer: write error: %w", err)
		}
	}

	ans := &Answer{
		Context:  contextName,
		Question: question,
		Text:     buf.String(),
		Format:   c.format,
		Sources:  sourcesOf(docs),
	}
	c.record(ctx, ans)
	return ans, nil
}

// buildMessages assembles [system, ...history, passages, question]. Passages
// beyond the budget are dropped lowest-ranked first, then history oldest
// first. It returns the passages actually sent.
func (c *Chain) buildMessages(ctx context.Context, contextName, description, question string, docs []rag.Document) ([]*schema.Message, []rag.Document, error) {
	log := logging.FromContext(ctx)
	if strings.TrimSpace(description) == "" {
		description = c.systemContext
	}
	system := schema.SystemMessage(SystemPrompt(contextName, description))
	user := schema.UserMessage(question)

	contents := make([]string, len(docs))
	for i, d := range docs {
		contents[i] = d.Content
	}
	if keep := budget.FitPassages([]*schema.Message{system, user}, contents, c.maxContextTokens); keep < len(docs) {
		log.Warn("budget: dropped passages to fit context window",
			slog.Int("dropped", len(docs)-keep),
			slog.Int("retained", keep),
			slog.Int("max_tokens", c.maxContextTokens),
		)
		docs = docs[:keep]
	}

	formatted, err := FormatPassages(docs, c.format, 0)
	if err != nil {
		return nil, nil, err
	}
	passages := schema.SystemMessage("Documents available:\n\n" + formatted)

	var historyMsgs []*schema.Message
	if c.history != nil {
		prior, err := c.history.Recent(ctx, contextName, c.historyDepth*2)
		if err != nil {
			log.Warn("history: failed to load prior messages", slog.Any("error", err))
		}
		for _, m := range prior {
			switch m.Role {
			case store.RoleUser:
				historyMsgs = append(historyMsgs, schema.UserMessage(m.Content))
			case store.RoleAssistant:
				historyMsgs = append(historyMsgs, schema.AssistantMessage(m.Content, nil))
			}
		}
	}

	fixed := []*schema.Message{system, passages, user}
	before := len(historyMsgs)
	historyMsgs = budget.TrimHistory(fixed, historyMsgs, c.maxContextTokens)
	if dropped := before - len(historyMsgs); dropped > 0 {
		log.Warn("budget: dropped history messages to fit context window",
			slog.Int("dropped", dropped),
			slog.Int("retained", len(historyMsgs)),
			slog.Int("max_tokens", c.maxContextTokens),
		)
	}

	out := make([]*schema.Message, 0, len(historyMsgs)+3)
	out = append(out, system)
	out = append(out, historyMsgs...)
	out = append(out, passages, user)
	return out, docs, nil
}

// record persists the exchange. Failures are logged, never returned.
func (c *Chain) record(ctx context.Context, ans *Answer) {
	if c.history == nil {
		return
	}
	log := logging.FromContext(ctx)
	if err := c.history.Append(ctx, ans.Context, store.RoleUser, ans.Question, nil); err != nil {
		log.Warn("history: failed to persist question", slog.Any("error", err))
		return
	}
	if err := c.history.Append(ctx, ans.Context, store.RoleAssistant, ans.Text, sourceFiles(ans.Sources)); err != nil {
		log.Warn("history: failed to persist answer", slog.Any("error", err))
	}
}

func sourcesOf(docs []rag.Document) []Source {
	out := make([]Source, len(docs))
	for i, d := range docs {
		excerpt := d.Content
		if r := []rune(excerpt); len(r) > excerptLength {
			excerpt = string(r[:excerptLength]) + "..."
		}
		s := Source{File: d.Source, Relevance: round3(d.Relevance), Excerpt: excerpt}
		if d.TotalChunks > 0 {
			s.Chunk = fmt.Sprintf("%d/%d", d.ChunkIndex+1, d.TotalChunks)
		}
		out[i] = s
	}
	return out
}

// sourceFiles lists the distinct files of sources in first-seen order.
func sourceFiles(sources []Source) []string {
	seen := make(map[string]bool, len(sources))
	var files []string
	for _, s := range sources {
		if !seen[s.File] {
			seen[s.File] = true
			files = append(files, s.File)
		}
	}
	return files
}
