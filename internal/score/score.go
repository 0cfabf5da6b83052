// Package score computes the significance of a source event. The score
// gates everything downstream: events below the threshold are dropped
// before any persistence happens.
package score

import (
	"fmt"
	"regexp"

	"github.com/linnemanlabs/mnemon/internal/event"
)

// Pattern is one row of the signed-weight keyword table. Each row
// contributes to the score at most once per event.
type Pattern struct {
	Name   string
	Re     *regexp.Regexp
	Weight int
}

// LengthTier adds a bonus once combined title+body length reaches MinLen.
type LengthTier struct {
	MinLen int
	Bonus  int
}

// Config holds all scoring weights and caps. Values are tunable defaults,
// not derived constants.
type Config struct {
	BaseWeights   map[string]int // by event subtype
	DefaultWeight int            // unknown subtype
	Patterns      []Pattern      // evaluated in order
	RefBonusPer   int            // per reference
	RefBonusCap   int
	LengthTiers   []LengthTier // evaluated in order, all matching tiers apply
	Threshold     int          // significance gate
}

// DefaultConfig returns the stock scoring table.
func DefaultConfig() Config {
	return Config{
		BaseWeights: map[string]int{
			"incident":            60,
			"deployment":          50,
			"pull_request.merged": 40,
			"release":             45,
			"issue.opened":        30,
			"issue.closed":        25,
			"push":                25,
			"pull_request.opened": 25,
			"comment":             10,
		},
		DefaultWeight: 20,
		Patterns: []Pattern{
			{"outage", regexp.MustCompile(`(?i)\b(outage|downtime|sev[- ]?[12])\b`), 25},
			{"incident", regexp.MustCompile(`(?i)\b(incident|postmortem|data loss)\b`), 20},
			{"security", regexp.MustCompile(`(?i)\b(security|vulnerab\w+|CVE-\d{4}-\d+|exploit)\b`), 20},
			{"critical", regexp.MustCompile(`(?i)\b(critical|urgent|hotfix|rollback|revert)\b`), 15},
			{"breaking", regexp.MustCompile(`(?i)\bbreaking change\b`), 15},
			{"migration", regexp.MustCompile(`(?i)\b(migration|schema change)\b`), 10},
			{"wip", regexp.MustCompile(`(?i)\b(wip|work in progress|draft)\b`), -15},
			{"trivial", regexp.MustCompile(`(?i)\b(typo|whitespace|formatting|lint)\b`), -15},
			{"chore", regexp.MustCompile(`(?i)\b(chore|bump|dependabot|renovate)\b`), -10},
		},
		RefBonusPer: 2,
		RefBonusCap: 10,
		LengthTiers: []LengthTier{
			{MinLen: 500, Bonus: 5},
			{MinLen: 2000, Bonus: 5},
		},
		Threshold: 30,
	}
}

// Result is the scoring outcome: the clamped score and the factors that
// contributed to it, in evaluation order.
type Result struct {
	Score   int      `json:"score"`
	Factors []string `json:"factors"`
}

// Scorer scores source events. Pure and deterministic, no I/O.
type Scorer struct {
	cfg Config
}

// New creates a Scorer with the given config.
func New(cfg Config) *Scorer {
	return &Scorer{cfg: cfg}
}

// Score computes the significance of an event.
func (s *Scorer) Score(ev *event.SourceEvent) Result {
	var factors []string

	base, ok := s.cfg.BaseWeights[ev.SourceType]
	if !ok {
		base = s.cfg.DefaultWeight
	}
	total := base
	factors = append(factors, fmt.Sprintf("base:%s=%d", ev.SourceType, base))

	text := ev.Title + "\n" + ev.Body
	for _, p := range s.cfg.Patterns {
		if p.Re.MatchString(text) {
			total += p.Weight
			factors = append(factors, fmt.Sprintf("pattern:%s=%+d", p.Name, p.Weight))
		}
	}

	if n := len(ev.References); n > 0 {
		bonus := n * s.cfg.RefBonusPer
		if bonus > s.cfg.RefBonusCap {
			bonus = s.cfg.RefBonusCap
		}
		total += bonus
		factors = append(factors, fmt.Sprintf("references:%d=%+d", n, bonus))
	}

	for _, tier := range s.cfg.LengthTiers {
		if len(text) >= tier.MinLen {
			total += tier.Bonus
			factors = append(factors, fmt.Sprintf("length>=%d=%+d", tier.MinLen, tier.Bonus))
		}
	}

	if total < 0 {
		total = 0
	}
	if total > 100 {
		total = 100
	}
	return Result{Score: total, Factors: factors}
}

// Passes reports whether a score clears the significance gate.
func (s *Scorer) Passes(score int) bool {
	return score >= s.cfg.Threshold
}

// Threshold returns the configured significance gate.
func (s *Scorer) Threshold() int {
	return s.cfg.Threshold
}
