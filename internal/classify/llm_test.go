package classify

import (
	"context"
	"errors"
	"testing"

	"github.com/linnemanlabs/mnemon/internal/event"
)

type mockCompleter struct {
	response string
	err      error
	calls    int
}

func (m *mockCompleter) Complete(_ context.Context, _, _ string, _ int) (string, error) {
	m.calls++
	return m.response, m.err
}

func TestLLM_ValidResponse(t *testing.T) {
	t.Parallel()

	mc := &mockCompleter{response: `{"primary":"incident","secondary":["security","bug_fix"]}`}
	l := NewLLM(mc, nil)

	res := l.Classify(context.Background(), &event.SourceEvent{Title: "whatever"})

	if res.Primary != CategoryIncident {
		t.Errorf("Primary = %q, want %q", res.Primary, CategoryIncident)
	}
	if len(res.Secondary) != 2 {
		t.Errorf("Secondary = %v, want 2 entries", res.Secondary)
	}
	if mc.calls != 1 {
		t.Errorf("completer calls = %d, want 1", mc.calls)
	}
}

func TestLLM_FencedResponse(t *testing.T) {
	t.Parallel()

	mc := &mockCompleter{response: "```json\n{\"primary\":\"release\"}\n```"}
	l := NewLLM(mc, nil)

	res := l.Classify(context.Background(), &event.SourceEvent{Title: "whatever"})
	if res.Primary != CategoryRelease {
		t.Errorf("Primary = %q, want %q", res.Primary, CategoryRelease)
	}
}

func TestLLM_ErrorFallsBackToRules(t *testing.T) {
	t.Parallel()

	mc := &mockCompleter{err: errors.New("rate limited")}
	l := NewLLM(mc, nil)

	res := l.Classify(context.Background(), &event.SourceEvent{Title: "fix: null pointer in parser"})
	if res.Primary != CategoryBugFix {
		t.Errorf("Primary = %q, want rule-table %q", res.Primary, CategoryBugFix)
	}
}

func TestLLM_UnparseableFallsBackToRules(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name     string
		response string
	}{
		{"prose", "This looks like an incident to me."},
		{"unknown category", `{"primary":"catastrophe"}`},
		{"empty", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			l := NewLLM(&mockCompleter{response: tt.response}, nil)
			res := l.Classify(context.Background(), &event.SourceEvent{Title: "fix: crash on boot"})
			if res.Primary != CategoryBugFix {
				t.Errorf("Primary = %q, want rule-table %q", res.Primary, CategoryBugFix)
			}
		})
	}
}

func TestParseLLMResult_DedupsAndCaps(t *testing.T) {
	t.Parallel()

	res, ok := parseLLMResult(`{"primary":"release","secondary":["release","security","incident","bug_fix","feature"]}`)
	if !ok {
		t.Fatal("parseLLMResult returned !ok")
	}
	if res.Primary != CategoryRelease {
		t.Errorf("Primary = %q", res.Primary)
	}
	if len(res.Secondary) != MaxSecondary {
		t.Fatalf("len(Secondary) = %d, want %d", len(res.Secondary), MaxSecondary)
	}
	for _, c := range res.Secondary {
		if c == CategoryRelease {
			t.Error("Secondary contains the primary category")
		}
	}
}
