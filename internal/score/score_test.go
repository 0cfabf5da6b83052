package score

import (
	"strings"
	"testing"

	"github.com/linnemanlabs/mnemon/internal/event"
)

func TestScore_BaseWeights(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	tests := []struct {
		name       string
		sourceType string
		want       int
	}{
		{"incident", "incident", 60},
		{"deployment", "deployment", 50},
		{"merged PR", "pull_request.merged", 40},
		{"comment", "comment", 10},
		{"unknown type gets default", "something_else", 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := s.Score(&event.SourceEvent{SourceType: tt.sourceType, Title: "plain event"})
			if res.Score != tt.want {
				t.Errorf("Score = %d, want %d (factors %v)", res.Score, tt.want, res.Factors)
			}
		})
	}
}

func TestScore_Patterns(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	tests := []struct {
		name  string
		title string
		body  string
		want  int
	}{
		{"outage bonus", "Production outage in eu-west", "", 20 + 25},
		{"security bonus", "Patched CVE-2024-12345", "", 20 + 20},
		{"wip penalty", "WIP: new dashboard", "", 20 - 15},
		{"chore penalty", "chore: bump deps", "", 20 - 10},
		{"stacked penalties", "chore: fix typo", "", 20 - 10 - 15},
		{"pattern counted once", "outage after outage", "another outage", 20 + 25},
		{"body is scanned too", "quiet title", "we declared an incident", 20 + 20},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			res := s.Score(&event.SourceEvent{SourceType: "custom", Title: tt.title, Body: tt.body})
			if res.Score != tt.want {
				t.Errorf("Score = %d, want %d (factors %v)", res.Score, tt.want, res.Factors)
			}
		})
	}
}

func TestScore_ReferenceBonusCapped(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	refs := make([]event.Reference, 8)
	res := s.Score(&event.SourceEvent{SourceType: "custom", Title: "linked work", References: refs})

	// 8 refs at +2 each would be 16; the cap is 10.
	if res.Score != 20+10 {
		t.Errorf("Score = %d, want %d (factors %v)", res.Score, 20+10, res.Factors)
	}
}

func TestScore_LengthTiers(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	short := s.Score(&event.SourceEvent{SourceType: "custom", Title: "t", Body: strings.Repeat("a", 100)})
	if short.Score != 20 {
		t.Errorf("short Score = %d, want 20", short.Score)
	}

	medium := s.Score(&event.SourceEvent{SourceType: "custom", Title: "t", Body: strings.Repeat("a", 600)})
	if medium.Score != 25 {
		t.Errorf("medium Score = %d, want 25", medium.Score)
	}

	long := s.Score(&event.SourceEvent{SourceType: "custom", Title: "t", Body: strings.Repeat("a", 2500)})
	if long.Score != 30 {
		t.Errorf("long Score = %d, want 30", long.Score)
	}
}

func TestScore_ClampedToRange(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	// Everything negative: default base minus stacked penalties.
	cfg := DefaultConfig()
	cfg.DefaultWeight = 0
	low := New(cfg).Score(&event.SourceEvent{SourceType: "x", Title: "wip chore typo draft"})
	if low.Score < 0 {
		t.Errorf("Score = %d, want >= 0", low.Score)
	}

	// Everything positive at once.
	high := s.Score(&event.SourceEvent{
		SourceType: "incident",
		Title:      "critical outage incident security breaking change migration",
		Body:       strings.Repeat("details ", 300),
		References: make([]event.Reference, 10),
	})
	if high.Score > 100 {
		t.Errorf("Score = %d, want <= 100", high.Score)
	}
	if high.Score != 100 {
		t.Errorf("Score = %d, want exactly 100 for maximal event", high.Score)
	}
}

func TestScore_Deterministic(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())
	ev := &event.SourceEvent{
		SourceType: "deployment",
		Title:      "Deploy api v2.3.1 with rollback plan",
		Body:       "rollout to production",
		References: make([]event.Reference, 2),
	}

	first := s.Score(ev)
	for i := 0; i < 5; i++ {
		if got := s.Score(ev); got.Score != first.Score {
			t.Fatalf("Score changed between runs: %d then %d", first.Score, got.Score)
		}
	}
}

func TestScore_FactorsExplainTotal(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())
	res := s.Score(&event.SourceEvent{SourceType: "incident", Title: "outage in db tier"})

	if len(res.Factors) != 2 {
		t.Fatalf("factors = %v, want base + one pattern", res.Factors)
	}
	if res.Factors[0] != "base:incident=60" {
		t.Errorf("factors[0] = %q", res.Factors[0])
	}
	if res.Factors[1] != "pattern:outage=+25" {
		t.Errorf("factors[1] = %q", res.Factors[1])
	}
}

func TestPasses(t *testing.T) {
	t.Parallel()

	s := New(DefaultConfig())

	if s.Passes(29) {
		t.Error("Passes(29) = true, want false")
	}
	if !s.Passes(30) {
		t.Error("Passes(30) = false, want true")
	}
	if got := s.Threshold(); got != 30 {
		t.Errorf("Threshold() = %d, want 30", got)
	}
}
