package llm

import (
	"fmt"
	"strconv"
	"strings"
)

// PromptHeader is the indexed metadata block that opens every segment prompt.
// The Stub answers from this block alone.
type PromptHeader struct {
	Segment  int
	Pages    string
	Sections []string
	Summary  string
	Keywords []string
}

const (
	headerSegment  = "Segment: "
	headerPages    = "Pages: "
	headerSections = "Sections: "
	headerSummary  = "Summary: "
	headerKeywords = "Keywords: "

	// HeaderEnd separates the metadata block from the segment text.
	HeaderEnd = "\n---\n"

	sectionSep = " | "
	keywordSep = ", "
)

// Format renders the header block, terminated by HeaderEnd.
func (h PromptHeader) Format() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "%s%d\n", headerSegment, h.Segment)
	fmt.Fprintf(&sb, "%s%s\n", headerPages, h.Pages)
	fmt.Fprintf(&sb, "%s%s\n", headerSections, strings.Join(h.Sections, sectionSep))
	fmt.Fprintf(&sb, "%s%s\n", headerSummary, oneLine(h.Summary))
	fmt.Fprintf(&sb, "%s%s", headerKeywords, strings.Join(h.Keywords, keywordSep))
	sb.WriteString(HeaderEnd)
	return sb.String()
}

// ParsePromptHeader reads the metadata block from a prompt. ok is false when
// the prompt carries no segment line.
func ParsePromptHeader(prompt string) (h PromptHeader, ok bool) {
	block, _, found := strings.Cut(prompt, HeaderEnd)
	if !found {
		return h, false
	}
	for _, line := range strings.Split(block, "\n") {
		switch {
		case strings.HasPrefix(line, headerSegment):
			n, err := strconv.Atoi(strings.TrimSpace(strings.TrimPrefix(line, headerSegment)))
			if err != nil {
				return h, false
			}
			h.Segment = n
			ok = true
		case strings.HasPrefix(line, headerPages):
			h.Pages = strings.TrimSpace(strings.TrimPrefix(line, headerPages))
		case strings.HasPrefix(line, headerSections):
			h.Sections = splitNonEmpty(strings.TrimPrefix(line, headerSections), sectionSep)
		case strings.HasPrefix(line, headerSummary):
			h.Summary = strings.TrimSpace(strings.TrimPrefix(line, headerSummary))
		case strings.HasPrefix(line, headerKeywords):
			h.Keywords = splitNonEmpty(strings.TrimPrefix(line, headerKeywords), keywordSep)
		}
	}
	return h, ok
}

func splitNonEmpty(s, sep string) []string {
	var out []string
	for _, p := range strings.Split(s, sep) {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func oneLine(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
