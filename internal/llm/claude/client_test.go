package claude

import (
	"strings"
	"testing"

	"github.com/anthropics/anthropic-sdk-go"
)

func TestTextContent_SingleBlock(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: `{"primary":"bug_fix"}`},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	got, err := textContent(msg)
	if err != nil {
		t.Fatalf("textContent: %v", err)
	}
	if got != `{"primary":"bug_fix"}` {
		t.Errorf("text = %q", got)
	}
}

func TestTextContent_ConcatenatesAndTrims(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content: []anthropic.ContentBlockUnion{
			{Type: "text", Text: "  part one"},
			{Type: "text", Text: " part two  "},
		},
		StopReason: anthropic.StopReasonEndTurn,
	}

	got, err := textContent(msg)
	if err != nil {
		t.Fatalf("textContent: %v", err)
	}
	if got != "part one part two" {
		t.Errorf("text = %q, want %q", got, "part one part two")
	}
}

func TestTextContent_NoText(t *testing.T) {
	t.Parallel()

	msg := &anthropic.Message{
		Content:    []anthropic.ContentBlockUnion{},
		StopReason: anthropic.StopReasonToolUse,
	}

	_, err := textContent(msg)
	if err == nil {
		t.Fatal("expected error for empty response")
	}
	if !strings.Contains(err.Error(), "no text") {
		t.Errorf("error = %v", err)
	}
}
