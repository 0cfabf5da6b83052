// Package extract pulls structured entities out of event text and
// references. The pattern tier is pure and synchronous; the optional
// semantic tier (language model) is best-effort and merged by the caller.
package extract

import (
	"regexp"
	"sort"
	"strings"

	"github.com/linnemanlabs/mnemon/internal/event"
)

// Category is the closed set of entity categories.
type Category string

const (
	CategoryEngineer   Category = "engineer"
	CategoryProject    Category = "project"
	CategoryIssue      Category = "issue"
	CategoryFile       Category = "file"
	CategoryVersion    Category = "version"
	CategoryURL        Category = "url"
	CategoryConfig     Category = "config"
	CategoryTechnology Category = "technology"
)

// Entity is one extracted entity with its evidence.
type Entity struct {
	Category   Category `json:"category"`
	Key        string   `json:"key"`
	Value      string   `json:"value,omitempty"`
	Confidence float64  `json:"confidence"`
	Evidence   string   `json:"evidence,omitempty"`
}

// DedupKey is the collision key for the max-confidence merge.
func (e Entity) DedupKey() string {
	return string(e.Category) + ":" + strings.ToLower(e.Key)
}

// Rule is one row of the extraction table.
type Rule struct {
	Category   Category
	Re         *regexp.Regexp
	Confidence float64
	// Key selects the dedup key from the regex match groups. When nil the
	// whole match is the key.
	Key func(m []string) string
	// Value optionally extracts an associated value.
	Value func(m []string) string
}

// Config holds extraction tunables.
type Config struct {
	Rules         []Rule
	MaxEntities   int
	RefConfidence float64 // structured references are trusted
	SnippetRadius int     // evidence chars either side of the match
}

// DefaultConfig returns the stock extraction table.
func DefaultConfig() Config {
	return Config{
		Rules: []Rule{
			{
				Category:   CategoryEngineer,
				Re:         regexp.MustCompile(`@([a-zA-Z0-9][a-zA-Z0-9_-]*)`),
				Confidence: 0.9,
				Key:        func(m []string) string { return "@" + m[1] },
			},
			{
				Category:   CategoryProject,
				Re:         regexp.MustCompile(`#(\d+)`),
				Confidence: 0.9,
				Key:        func(m []string) string { return "#" + m[1] },
			},
			{
				Category:   CategoryIssue,
				Re:         regexp.MustCompile(`\b([A-Z]{2,10}-\d+)\b`),
				Confidence: 0.85,
				Key:        func(m []string) string { return m[1] },
			},
			{
				Category:   CategoryVersion,
				Re:         regexp.MustCompile(`\bv?(\d+\.\d+\.\d+(?:-[\w.]+)?)\b`),
				Confidence: 0.85,
				Key:        func(m []string) string { return "v" + m[1] },
			},
			{
				Category:   CategoryFile,
				Re:         regexp.MustCompile(`\b([\w./-]+\.(?:go|ts|tsx|js|py|rs|sql|yaml|yml|tf|proto|md))\b`),
				Confidence: 0.8,
				Key:        func(m []string) string { return m[1] },
			},
			{
				Category:   CategoryURL,
				Re:         regexp.MustCompile(`https?://[^\s)>\]]+`),
				Confidence: 0.8,
			},
			{
				Category:   CategoryTechnology,
				Re:         regexp.MustCompile(`(?i)\b(postgres(?:ql)?|redis|kafka|kubernetes|docker|terraform|grafana|prometheus|nginx|rabbitmq)\b`),
				Confidence: 0.7,
				Key:        func(m []string) string { return strings.ToLower(m[1]) },
			},
			{
				Category:   CategoryConfig,
				Re:         regexp.MustCompile(`\b([A-Z][A-Z0-9]*(?:_[A-Z0-9]+)+)\b`),
				Confidence: 0.6,
				Key:        func(m []string) string { return m[1] },
			},
		},
		MaxEntities:   30,
		RefConfidence: 0.95,
		SnippetRadius: 50,
	}
}

// blacklist holds common false-positive keys (protocol verbs and friends).
var blacklist = map[string]struct{}{
	"get": {}, "post": {}, "put": {}, "patch": {}, "delete": {}, "head": {},
	"http": {}, "https": {}, "ssh": {}, "tcp": {}, "udp": {}, "api": {},
	"todo": {}, "n/a": {},
}

// Extractor applies the pattern tier.
type Extractor struct {
	cfg Config
}

// New creates an Extractor with the given config.
func New(cfg Config) *Extractor {
	return &Extractor{cfg: cfg}
}

// Extract runs the pattern tier over text and maps structured references,
// returning deduplicated entities capped at MaxEntities.
func (x *Extractor) Extract(text string, refs []event.Reference) []Entity {
	merged := make(map[string]Entity)

	for _, rule := range x.cfg.Rules {
		for _, idx := range rule.Re.FindAllStringSubmatchIndex(text, -1) {
			m := submatches(text, idx)
			key := m[0]
			if rule.Key != nil {
				key = rule.Key(m)
			}
			if !usableKey(key) {
				continue
			}
			e := Entity{
				Category:   rule.Category,
				Key:        key,
				Confidence: rule.Confidence,
				Evidence:   snippet(text, idx[0], idx[1], x.cfg.SnippetRadius),
			}
			if rule.Value != nil {
				e.Value = rule.Value(m)
			}
			Merge(merged, e)
		}
	}

	for _, ref := range refs {
		cat, ok := refCategory(ref.Type)
		if !ok || !usableKey(ref.ID) {
			continue
		}
		Merge(merged, Entity{
			Category:   cat,
			Key:        ref.ID,
			Value:      ref.Label,
			Confidence: x.cfg.RefConfidence,
			Evidence:   ref.URL,
		})
	}

	return capped(merged, x.cfg.MaxEntities)
}

// Merge folds an entity into the dedup map, keeping the higher-confidence
// entry on collision. Commutative and idempotent, so the reduction stays
// correct under retries and reordering.
func Merge(m map[string]Entity, e Entity) {
	k := e.DedupKey()
	if prev, ok := m[k]; ok && prev.Confidence >= e.Confidence {
		return
	}
	m[k] = e
}

// capped flattens the merge map, keeping the highest-confidence entries when
// over the limit. Output order is deterministic.
func capped(m map[string]Entity, limit int) []Entity {
	out := make([]Entity, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Confidence != out[j].Confidence {
			return out[i].Confidence > out[j].Confidence
		}
		return out[i].DedupKey() < out[j].DedupKey()
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// usableKey rejects blacklisted, too-short, and pure-digit keys.
func usableKey(key string) bool {
	k := strings.ToLower(strings.TrimSpace(key))
	if len(k) < 2 {
		return false
	}
	if _, ok := blacklist[k]; ok {
		return false
	}
	digits := true
	for _, r := range k {
		if r < '0' || r > '9' {
			digits = false
			break
		}
	}
	return !digits
}

// refCategory maps a structured reference type to an entity category.
func refCategory(refType string) (Category, bool) {
	switch strings.ToLower(refType) {
	case "pull_request", "pr", "project":
		return CategoryProject, true
	case "issue", "ticket":
		return CategoryIssue, true
	case "user", "engineer", "actor":
		return CategoryEngineer, true
	case "file", "path":
		return CategoryFile, true
	case "url", "link":
		return CategoryURL, true
	case "version", "tag":
		return CategoryVersion, true
	default:
		return "", false
	}
}

var spaceRe = regexp.MustCompile(`\s+`)

// snippet returns the evidence window around a match: radius chars either
// side, whitespace collapsed, ellipsis-truncated at cut edges.
func snippet(text string, start, end, radius int) string {
	lo := start - radius
	if lo < 0 {
		lo = 0
	}
	hi := end + radius
	if hi > len(text) {
		hi = len(text)
	}
	s := spaceRe.ReplaceAllString(strings.TrimSpace(text[lo:hi]), " ")
	if lo > 0 {
		s = "…" + s
	}
	if hi < len(text) {
		s += "…"
	}
	return s
}

// submatches expands a FindAllStringSubmatchIndex entry into strings.
func submatches(text string, idx []int) []string {
	out := make([]string, 0, len(idx)/2)
	for i := 0; i < len(idx); i += 2 {
		if idx[i] < 0 {
			out = append(out, "")
			continue
		}
		out = append(out, text[idx[i]:idx[i+1]])
	}
	return out
}
