package budget

import (
	"fmt"
	"strings"
	"testing"

	"github.com/cloudwego/eino/schema"
)

func Test_Estimate(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]int{
		"":                      0,
		"ok":                    1,
		"boiler":                1,
		"caretaker":             2,
		strings.Repeat("ab", 50): 25,
	} {
		if got := Estimate(s); got != want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(s), got, want)
		}
	}
}

func Test_EstimateMessages(t *testing.T) {
	t.Parallel()
	msgs := []*schema.Message{
		schema.SystemMessage("answer from context"), // 4 + 1 + 4
		schema.AssistantMessage("done", nil),        // 4 + 2 + 1
	}
	if got := EstimateMessages(msgs); got != 16 {
		t.Errorf("EstimateMessages = %d, want 16", got)
	}
	if got := EstimateMessages(nil); got != 0 {
		t.Errorf("EstimateMessages(nil) = %d", got)
	}
}

// turns builds n user messages of 15 estimated tokens each, labelled 1..n.
func turns(n int) []*schema.Message {
	out := make([]*schema.Message, n)
	for i := range out {
		out[i] = schema.UserMessage(fmt.Sprintf("%d%s", i+1, strings.Repeat(".", 39)))
	}
	return out
}

func Test_TrimHistory(t *testing.T) {
	t.Parallel()
	huge := []*schema.Message{schema.SystemMessage(strings.Repeat("x", 4000))}

	cases := map[string]struct {
		fixed   []*schema.Message
		history []*schema.Message
		budget  int
		want    []string
	}{
		"fits":           {history: turns(4), budget: 100, want: []string{"1", "2", "3", "4"}},
		"drops oldest":   {history: turns(4), budget: 31, want: []string{"3", "4"}},
		"no history":     {fixed: huge, budget: DefaultMaxContextTokens},
		"fixed too long": {fixed: huge, history: turns(2), budget: 1000},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			got := TrimHistory(tc.fixed, tc.history, tc.budget)
			if len(got) != len(tc.want) {
				t.Fatalf("kept %d turns, want %d", len(got), len(tc.want))
			}
			for i, m := range got {
				if !strings.HasPrefix(m.Content, tc.want[i]) {
					t.Errorf("turn %d = %q, want label %s", i, m.Content[:1], tc.want[i])
				}
			}
		})
	}
}

func Test_FitPassages(t *testing.T) {
	t.Parallel()
	fixed := []*schema.Message{schema.UserMessage("q?")} // 6 tokens
	passages := []string{
		strings.Repeat("a", 40),
		strings.Repeat("b", 40),
		strings.Repeat("c", 40),
	}
	for budget, want := range map[int]int{100: 3, 26: 2, 25: 1, 1: 1} {
		if got := FitPassages(fixed, passages, budget); got != want {
			t.Errorf("FitPassages(budget=%d) = %d, want %d", budget, got, want)
		}
	}
	if got := FitPassages(fixed, nil, 100); got != 0 {
		t.Errorf("FitPassages(nil) = %d, want 0", got)
	}
}
