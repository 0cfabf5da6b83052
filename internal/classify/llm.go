package classify

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/linnemanlabs/go-core/log"
	"github.com/linnemanlabs/mnemon/internal/event"
)

// Completer is the minimal language-model surface this package needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

const llmSystemPrompt = `You classify engineering events. Respond with JSON only, no prose:
{"primary": "<category>", "secondary": ["<category>", ...]}
Categories: release, security, incident, bug_fix, feature, performance,
testing, documentation, infrastructure, refactor, discussion, decision, other.
At most 3 secondary categories.`

// LLM classifies via a language model, falling back to the rule table on
// any error or malformed response. Classification is best-effort: callers
// always get a valid Result.
type LLM struct {
	completer Completer
	fallback  *Rules
	logger    log.Logger
}

// NewLLM creates a language-model backed classifier.
func NewLLM(completer Completer, logger log.Logger) *LLM {
	if logger == nil {
		logger = log.Nop()
	}
	return &LLM{
		completer: completer,
		fallback:  NewRules(),
		logger:    logger,
	}
}

// Classify implements Classifier.
func (l *LLM) Classify(ctx context.Context, ev *event.SourceEvent) Result {
	prompt := "Event type: " + ev.SourceType + "\nTitle: " + ev.Title + "\nBody:\n" + ev.Body

	raw, err := l.completer.Complete(ctx, llmSystemPrompt, prompt, 256)
	if err != nil {
		l.logger.Warn(ctx, "llm classification failed, using rules", "error", err)
		return l.fallback.Classify(ctx, ev)
	}

	res, ok := parseLLMResult(raw)
	if !ok {
		l.logger.Warn(ctx, "llm classification unparseable, using rules")
		return l.fallback.Classify(ctx, ev)
	}
	return res
}

// parseLLMResult decodes and validates the model response. Unknown
// categories invalidate the whole response rather than being coerced.
func parseLLMResult(raw string) (Result, bool) {
	raw = strings.TrimSpace(raw)
	// tolerate fenced output
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out struct {
		Primary   string   `json:"primary"`
		Secondary []string `json:"secondary"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return Result{}, false
	}

	primary := Category(out.Primary)
	if !valid(primary) {
		return Result{}, false
	}

	res := Result{Primary: primary}
	for _, s := range out.Secondary {
		c := Category(s)
		if !valid(c) || c == primary {
			continue
		}
		res.Secondary = append(res.Secondary, c)
		if len(res.Secondary) == MaxSecondary {
			break
		}
	}
	return res, true
}
