// Package notify turns completion events into notification decisions and
// dispatches them to the delivery provider.
package notify

import (
	"fmt"
	"strings"

	"github.com/linnemanlabs/mnemon/internal/observe"
)

// Maturity describes how much history a workspace has accumulated. Young
// workspaces get fewer notifications so early noise does not train users
// to ignore them.
type Maturity string

const (
	MaturityNew         Maturity = "new"
	MaturityGrowing     Maturity = "growing"
	MaturityEstablished Maturity = "established"
)

// Category buckets an observation for notification purposes.
type Category string

const (
	CategoryUrgent    Category = "urgent"    // incidents, security events
	CategoryMilestone Category = "milestone" // releases, deployments
	CategoryInsight   Category = "insight"   // decisions, discussions worth surfacing
	CategoryRoutine   Category = "routine"   // everything else
)

// TargetKind selects how recipients are resolved from the org roster.
type TargetKind string

const (
	TargetAllMembers   TargetKind = "all_members"
	TargetExcludeActor TargetKind = "exclude_actor"
	TargetRole         TargetKind = "role"
)

// TargetingRule is a closed variant: Kind selects the rule, the other
// fields carry its data.
type TargetingRule struct {
	Kind           TargetKind `json:"kind"`
	Role           string     `json:"role,omitempty"`
	ExcludeActorID string     `json:"exclude_actor_id,omitempty"`
}

// Tier is the delivery channel tier.
type Tier string

const (
	TierImmediate Tier = "immediate"
	TierDigest    Tier = "digest"
)

// Worthiness is the rubric's composite score for whether an observation
// merits alerting a human.
type Worthiness struct {
	Signal       int `json:"signal"`       // from significance score
	Relationship int `json:"relationship"` // cross-system cluster linkage
	Total        int `json:"total"`
}

// Decision is the full notification verdict for one completion event.
type Decision struct {
	Category       Category      `json:"category"`
	Worthiness     Worthiness    `json:"worthiness"`
	Suppressed     bool          `json:"suppressed"`
	SuppressReason string        `json:"suppress_reason,omitempty"`
	Targeting      TargetingRule `json:"targeting"`
	Tier           Tier          `json:"tier"`
	WorkflowKey    string        `json:"workflow_key"`
}

// Config holds the rubric's tunable weights and thresholds.
type Config struct {
	// SignalWeight scales the 0..100 significance score into the signal
	// component.
	SignalWeight int
	// RelationshipBonus is granted when the observation joined an
	// existing cluster.
	RelationshipBonus int
	// WorthinessFloor is the minimum total below which nothing is sent.
	WorthinessFloor int
	// GrowingAt and EstablishedAt are observation-count thresholds for
	// workspace maturity.
	GrowingAt     int
	EstablishedAt int
}

// DefaultConfig returns the default rubric tuning.
func DefaultConfig() Config {
	return Config{
		SignalWeight:      70,
		RelationshipBonus: 30,
		WorthinessFloor:   50,
		GrowingAt:         50,
		EstablishedAt:     500,
	}
}

// Validate checks the config for usable values.
func (c Config) Validate() error {
	if c.SignalWeight <= 0 {
		return fmt.Errorf("signal weight must be positive")
	}
	if c.GrowingAt <= 0 || c.EstablishedAt <= c.GrowingAt {
		return fmt.Errorf("maturity thresholds must be increasing and positive")
	}
	return nil
}

// MaturityFor maps a workspace observation count onto a maturity stage.
func (c Config) MaturityFor(observationCount int) Maturity {
	switch {
	case observationCount < c.GrowingAt:
		return MaturityNew
	case observationCount < c.EstablishedAt:
		return MaturityGrowing
	default:
		return MaturityEstablished
	}
}

// Rubric derives notification decisions. Classify is a pure function of
// its inputs.
type Rubric struct {
	cfg Config
}

// NewRubric creates a Rubric with the given tuning.
func NewRubric(cfg Config) *Rubric {
	return &Rubric{cfg: cfg}
}

// Classify applies the rubric to one completion event.
func (r *Rubric) Classify(ev observe.CompletionEvent, maturity Maturity) Decision {
	cat := categorize(ev)
	w := r.worthiness(ev)

	d := Decision{
		Category:    cat,
		Worthiness:  w,
		Targeting:   targeting(cat, ev),
		Tier:        tier(cat),
		WorkflowKey: workflowKey(cat),
	}

	// The floor applies to every category, urgency included.
	if w.Total < r.cfg.WorthinessFloor {
		d.Suppressed = true
		d.SuppressReason = fmt.Sprintf("worthiness %d below floor %d", w.Total, r.cfg.WorthinessFloor)
		return d
	}

	if reason, ok := maturitySuppression(cat, maturity); ok {
		d.Suppressed = true
		d.SuppressReason = reason
	}
	return d
}

func (r *Rubric) worthiness(ev observe.CompletionEvent) Worthiness {
	score := ev.Score
	if score < 0 {
		score = 0
	}
	if score > 100 {
		score = 100
	}
	w := Worthiness{Signal: score * r.cfg.SignalWeight / 100}
	if ev.HasRelationships {
		w.Relationship = r.cfg.RelationshipBonus
	}
	w.Total = w.Signal + w.Relationship
	return w
}

func categorize(ev observe.CompletionEvent) Category {
	if hasAny(ev, "incident", "security") {
		return CategoryUrgent
	}
	if hasAny(ev, "release", "deployment", "infrastructure") {
		return CategoryMilestone
	}
	if hasAny(ev, "decision", "discussion") {
		return CategoryInsight
	}
	return CategoryRoutine
}

// hasAny checks the observation type and every topic against the labels.
func hasAny(ev observe.CompletionEvent, labels ...string) bool {
	for _, l := range labels {
		if strings.EqualFold(ev.ObservationType, l) {
			return true
		}
		for _, t := range ev.Topics {
			if strings.EqualFold(t, l) {
				return true
			}
		}
	}
	return false
}

// maturitySuppression returns a suppression reason when the category is
// too routine for the workspace's history. Urgent and milestone events
// always pass.
func maturitySuppression(cat Category, maturity Maturity) (string, bool) {
	switch cat {
	case CategoryRoutine:
		if maturity != MaturityEstablished {
			return fmt.Sprintf("routine activity suppressed for %s workspace", maturity), true
		}
	case CategoryInsight:
		if maturity == MaturityNew {
			return "insights suppressed for new workspace", true
		}
	case CategoryUrgent, CategoryMilestone:
	}
	return "", false
}

func targeting(cat Category, ev observe.CompletionEvent) TargetingRule {
	switch cat {
	case CategoryUrgent:
		return TargetingRule{Kind: TargetAllMembers}
	case CategoryInsight:
		return TargetingRule{Kind: TargetRole, Role: "lead"}
	default:
		// The actor already knows what they did.
		return TargetingRule{Kind: TargetExcludeActor, ExcludeActorID: ev.ActorID}
	}
}

func tier(cat Category) Tier {
	if cat == CategoryUrgent {
		return TierImmediate
	}
	return TierDigest
}

func workflowKey(cat Category) string {
	return "observation-" + string(cat)
}
