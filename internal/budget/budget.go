// Package budget estimates token counts and trims the retrieved passages and
// prior Q&A turns that go into an answer prompt. Chat backends use different
// tokenizers, so the estimate is a character heuristic of 1 token per 4
// characters, which over-counts slightly for English prose.
package budget

import (
	"github.com/cloudwego/eino/schema"
)

const (
	charsPerToken = 4

	// messageOverhead is the per-message framing cost most chat APIs charge.
	messageOverhead = 4

	// DefaultMaxContextTokens is the default input budget in tokens. It fits
	// 8k-context models while leaving room for the answer.
	DefaultMaxContextTokens = 6000
)

// Estimate returns a rough token count for s.
func Estimate(s string) int {
	n := len(s) / charsPerToken
	if n == 0 && len(s) > 0 {
		return 1
	}
	return n
}

// EstimateMessages returns the estimated token count of msgs, role and
// content included.
func EstimateMessages(msgs []*schema.Message) int {
	total := 0
	for _, m := range msgs {
		total += messageOverhead + Estimate(string(m.Role)) + Estimate(m.Content)
	}
	return total
}

// FitPassages returns how many of passages, taken in rank order, fit next to
// fixed within maxTokens. At least one passage is always kept when any exist,
// so a question never goes out with no grounding at all.
func FitPassages(fixed []*schema.Message, passages []string, maxTokens int) int {
	if len(passages) == 0 {
		return 0
	}
	used := EstimateMessages(fixed)
	n := 0
	for _, p := range passages {
		cost := Estimate(p)
		if n > 0 && used+cost > maxTokens {
			break
		}
		used += cost
		n++
	}
	return n
}

// TrimHistory drops the oldest turns of history until fixed plus history
// fits within maxTokens. fixed (system prompt, passages, the question) is
// never trimmed; when fixed alone exceeds the budget the result is empty.
func TrimHistory(fixed, history []*schema.Message, maxTokens int) []*schema.Message {
	fixedTokens := EstimateMessages(fixed)
	for len(history) > 0 && fixedTokens+EstimateMessages(history) > maxTokens {
		history = history[1:]
	}
	return history
}
