package llm

import (
	"context"
	"fmt"
	"strings"
)

const stubMaxKeywords = 5

// Stub is a deterministic offline generator. It answers from the prompt's
// metadata block only and never invents figures.
type Stub struct{}

func NewStub() *Stub { return &Stub{} }

func (*Stub) Name() string { return "stub" }

func (*Stub) Generate(ctx context.Context, prompt string, _ Options) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	h, ok := ParsePromptHeader(prompt)
	if !ok {
		return "No indexed metadata was supplied for this segment, so no answer can be given.", nil
	}

	var sb strings.Builder
	fmt.Fprintf(&sb, "Segment %d", h.Segment)
	if h.Pages != "" {
		fmt.Fprintf(&sb, " (pages %s)", h.Pages)
	}
	if len(h.Sections) > 0 {
		fmt.Fprintf(&sb, " covers %s.", strings.Join(h.Sections, ", "))
	} else {
		sb.WriteString(" has no structural headings.")
	}
	if h.Summary != "" {
		fmt.Fprintf(&sb, " It states: %s", h.Summary)
		if !strings.HasSuffix(h.Summary, ".") {
			sb.WriteString(".")
		}
	}
	if len(h.Keywords) > 0 {
		kw := h.Keywords
		if len(kw) > stubMaxKeywords {
			kw = kw[:stubMaxKeywords]
		}
		fmt.Fprintf(&sb, " Relevant terms: %s.", strings.Join(kw, ", "))
	}
	return sb.String(), nil
}
