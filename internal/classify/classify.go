// Package classify derives observation categories from source events.
//
// The default implementation is an ordered decision table of regex groups;
// the first matching group wins as primary. A language-model backed
// implementation can swap in behind the same interface without touching
// callers.
package classify

import (
	"context"
	"regexp"
	"strings"

	"github.com/linnemanlabs/mnemon/internal/event"
)

// Category is the closed set of observation categories.
type Category string

const (
	CategoryRelease        Category = "release"
	CategorySecurity       Category = "security"
	CategoryIncident       Category = "incident"
	CategoryBugFix         Category = "bug_fix"
	CategoryFeature        Category = "feature"
	CategoryPerformance    Category = "performance"
	CategoryTesting        Category = "testing"
	CategoryDocumentation  Category = "documentation"
	CategoryInfrastructure Category = "infrastructure"
	CategoryRefactor       Category = "refactor"
	CategoryDiscussion     Category = "discussion"
	CategoryDecision       Category = "decision"
	CategoryOther          Category = "other"
)

// MaxSecondary caps the number of secondary categories.
const MaxSecondary = 3

// Result is the classification outcome.
type Result struct {
	Primary   Category   `json:"primary"`
	Secondary []Category `json:"secondary,omitempty"`
}

// Classifier turns a source event into categories.
type Classifier interface {
	Classify(ctx context.Context, ev *event.SourceEvent) Result
}

// group is one row of the decision table: a category and the pattern set
// that selects it. Priority is encoded by table order.
type group struct {
	category Category
	re       *regexp.Regexp
}

// rules is the ordered decision table. First match wins as primary; every
// later matching group becomes a secondary, capped at MaxSecondary.
var rules = []group{
	{CategoryRelease, regexp.MustCompile(`(?i)\b(release|deploy\w*|ship(ped)?|rollout|v\d+\.\d+)\b`)},
	{CategorySecurity, regexp.MustCompile(`(?i)\b(security|vulnerab\w+|CVE-\d{4}-\d+|auth\w* bypass|xss|injection)\b`)},
	{CategoryIncident, regexp.MustCompile(`(?i)\b(incident|outage|downtime|postmortem|sev[- ]?[12]|on[- ]?call)\b`)},
	{CategoryBugFix, regexp.MustCompile(`(?i)\b(fix(es|ed)?|bug|crash|regression|null pointer|panic|defect)\b`)},
	{CategoryFeature, regexp.MustCompile(`(?i)\b(feat(ure)?|add(s|ed)?|implement\w*|introduce\w*|new endpoint)\b`)},
	{CategoryPerformance, regexp.MustCompile(`(?i)\b(perf\w*|optimi[sz]\w*|latency|slow query|throughput|memory leak)\b`)},
	{CategoryTesting, regexp.MustCompile(`(?i)\b(test(s|ing)?|coverage|flaky|e2e|integration test)\b`)},
	{CategoryDocumentation, regexp.MustCompile(`(?i)\b(docs?|documentation|readme|changelog|runbook)\b`)},
	{CategoryInfrastructure, regexp.MustCompile(`(?i)\b(infra\w*|terraform|kubernetes|k8s|docker|ci/?cd|pipeline|helm)\b`)},
	{CategoryRefactor, regexp.MustCompile(`(?i)\b(refactor\w*|cleanup|restructur\w*|rename\w*|extract\w*)\b`)},
	{CategoryDiscussion, regexp.MustCompile(`(?i)\b(discuss\w*|proposal|rfc|question|thoughts\??)\b`)},
	{CategoryDecision, regexp.MustCompile(`(?i)\b(decision|decided|adr|agreed|consensus)\b`)},
}

// Rules is the table-driven classifier.
type Rules struct{}

// NewRules creates the rule-based classifier.
func NewRules() *Rules {
	return &Rules{}
}

// Classify implements Classifier. Total and closed: the primary is always
// one of the Category constants.
func (r *Rules) Classify(_ context.Context, ev *event.SourceEvent) Result {
	var sb strings.Builder
	sb.WriteString(ev.SourceType)
	sb.WriteString("\n")
	sb.WriteString(ev.Title)
	sb.WriteString("\n")
	sb.WriteString(ev.Body)
	text := sb.String()

	res := Result{Primary: CategoryOther}
	for _, g := range rules {
		if !g.re.MatchString(text) {
			continue
		}
		if res.Primary == CategoryOther {
			res.Primary = g.category
			continue
		}
		if len(res.Secondary) < MaxSecondary {
			res.Secondary = append(res.Secondary, g.category)
		}
	}
	return res
}

// Topics flattens a result into an ordered topic list, primary first.
func (r Result) Topics() []string {
	topics := make([]string, 0, 1+len(r.Secondary))
	topics = append(topics, string(r.Primary))
	for _, c := range r.Secondary {
		topics = append(topics, string(c))
	}
	return topics
}

// valid reports whether c is a known category.
func valid(c Category) bool {
	switch c {
	case CategoryRelease, CategorySecurity, CategoryIncident, CategoryBugFix,
		CategoryFeature, CategoryPerformance, CategoryTesting, CategoryDocumentation,
		CategoryInfrastructure, CategoryRefactor, CategoryDiscussion, CategoryDecision,
		CategoryOther:
		return true
	}
	return false
}
