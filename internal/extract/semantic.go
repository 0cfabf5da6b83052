package extract

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// Completer is the minimal language-model surface the semantic tier needs.
type Completer interface {
	Complete(ctx context.Context, system, prompt string, maxTokens int) (string, error)
}

const semanticSystemPrompt = `You extract structured entities from engineering event text.
Respond with JSON only, no prose:
{"entities": [{"category": "<category>", "key": "<key>", "value": "<optional>", "confidence": 0.0}]}
Categories: engineer, project, issue, file, version, url, config, technology.
Only include entities you are confident about. confidence is between 0 and 1.`

// Semantic is the optional language-model extraction tier. It is invoked
// best-effort by the caller and must never block or fail the pattern-tier
// result; errors are returned for logging only.
type Semantic struct {
	completer     Completer
	minConfidence float64
}

// NewSemantic creates the semantic tier. Results below minConfidence are
// discarded before merging.
func NewSemantic(completer Completer, minConfidence float64) *Semantic {
	return &Semantic{completer: completer, minConfidence: minConfidence}
}

// Extract asks the model for entities in text. The returned entities have
// already been confidence-filtered and key-validated; the caller merges
// them into the pattern-tier result with Merge.
func (s *Semantic) Extract(ctx context.Context, text string) ([]Entity, error) {
	raw, err := s.completer.Complete(ctx, semanticSystemPrompt, text, 1024)
	if err != nil {
		return nil, fmt.Errorf("semantic extraction: %w", err)
	}

	raw = strings.TrimSpace(raw)
	raw = strings.TrimPrefix(raw, "```json")
	raw = strings.TrimPrefix(raw, "```")
	raw = strings.TrimSuffix(raw, "```")

	var out struct {
		Entities []Entity `json:"entities"`
	}
	if err := json.Unmarshal([]byte(strings.TrimSpace(raw)), &out); err != nil {
		return nil, fmt.Errorf("semantic extraction: decode: %w", err)
	}

	kept := out.Entities[:0]
	for _, e := range out.Entities {
		if e.Confidence < s.minConfidence || e.Confidence > 1 {
			continue
		}
		if !knownCategory(e.Category) || !usableKey(e.Key) {
			continue
		}
		kept = append(kept, e)
	}
	return kept, nil
}

func knownCategory(c Category) bool {
	switch c {
	case CategoryEngineer, CategoryProject, CategoryIssue, CategoryFile,
		CategoryVersion, CategoryURL, CategoryConfig, CategoryTechnology:
		return true
	}
	return false
}
