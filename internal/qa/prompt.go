package qa

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
)

// DefaultMaxPromptChars bounds the segment text placed in a prompt,
// independently of the chunking budget.
const DefaultMaxPromptChars = 12000

const truncatedMarker = "\n[segment text truncated]"

const AnswerPrompt = `Answer the question using only the document segment below.

Rules:
- Quote figures, dates and names exactly as they appear in the segment
- Cite the section heading when the answer comes from a specific section
- If the segment does not contain the answer, say that it does not
- Keep the answer under 200 words`

// BuildPrompt assembles the prompt for one segment. The segment text is cut
// to maxChars runes.
func BuildPrompt(documentName, question string, seg index.Segment, body string, maxChars int) string {
	if maxChars <= 0 {
		maxChars = DefaultMaxPromptChars
	}
	header := llm.PromptHeader{
		Segment:  seg.Number,
		Pages:    seg.PageRange,
		Sections: seg.Sections,
		Summary:  seg.Summary,
		Keywords: seg.Keywords,
	}

	var sb strings.Builder
	sb.WriteString(AnswerPrompt)
	sb.WriteString("\n\n")
	if documentName != "" {
		sb.WriteString(fmt.Sprintf("Document: %q\n", documentName))
	}
	sb.WriteString(header.Format())
	sb.WriteString(truncateText(body, maxChars))
	sb.WriteString(llm.HeaderEnd)
	sb.WriteString("\nQuestion: ")
	sb.WriteString(strings.TrimSpace(question))
	sb.WriteString("\n")
	return sb.String()
}

func truncateText(s string, maxChars int) string {
	if utf8.RuneCountInString(s) <= maxChars {
		return s
	}
	n := 0
	for i := range s {
		if n == maxChars {
			return s[:i] + truncatedMarker
		}
		n++
	}
	return s
}
