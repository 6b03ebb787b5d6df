package chunker

import (
	"regexp"
	"strings"
)

// Header is a structural marker found in a document.
type Header struct {
	Offset int    // Byte offset of the start of the header line.
	Level  int    // 1 is the outermost level.
	Label  string // Header text without markup.
}

// HeaderDetector finds structural headers in text. Implementations must
// return headers ordered by Offset.
type HeaderDetector interface {
	DetectHeaders(text string) []Header
}

// maxHeaderLine keeps prose that happens to start with "Section 4 of the Act
// provides..." from being treated as a heading.
const maxHeaderLine = 120

var (
	markedHeading = regexp.MustCompile(`^(#{1,6})\s+(.+?)\s*#*$`)
	plainHeading  = regexp.MustCompile(`^(?i)(title|part|schedule|division|chapter|subdivision|article|section|sec\.)\s+([0-9]+[A-Za-z]?(?:\.[0-9]+)*|[IVXLCivxlc]+)\b`)
)

var levelByKeyword = map[string]int{
	"title":       1,
	"part":        1,
	"schedule":    1,
	"division":    2,
	"chapter":     2,
	"subdivision": 3,
	"article":     3,
	"section":     4,
	"sec.":        4,
}

// PatternDetector recognizes hierarchical labels ("Part 3", "Division 2",
// "Section 12A", "SEC. 101.") on their own line, and Markdown-style marked
// headings ("## Funding"). A marked heading whose label is itself a
// hierarchical label takes that label's level.
type PatternDetector struct{}

// DetectHeaders scans text line by line.
func (PatternDetector) DetectHeaders(text string) []Header {
	var headers []Header
	offset := 0
	for offset < len(text) {
		end := strings.IndexByte(text[offset:], '\n')
		var line string
		if end < 0 {
			line = text[offset:]
			end = len(text)
		} else {
			line = text[offset : offset+end]
			end = offset + end + 1
		}

		if h, ok := matchHeader(line); ok {
			h.Offset = offset
			headers = append(headers, h)
		}
		offset = end
	}
	return headers
}

func matchHeader(line string) (Header, bool) {
	trimmed := strings.TrimSpace(line)
	if trimmed == "" || len(trimmed) > maxHeaderLine {
		return Header{}, false
	}

	if m := markedHeading.FindStringSubmatch(trimmed); m != nil {
		label := strings.TrimSpace(m[2])
		if label == "" {
			return Header{}, false
		}
		level := len(m[1])
		if kw := plainHeading.FindStringSubmatch(label); kw != nil {
			level = levelByKeyword[strings.ToLower(kw[1])]
		}
		return Header{Level: level, Label: label}, true
	}

	if m := plainHeading.FindStringSubmatch(trimmed); m != nil {
		// Prose that merely starts with a label ends in punctuation and
		// continues in lower case; "SEC. 101. SHORT TITLE." does not.
		rest := trimmed[len(m[0]):]
		if strings.HasSuffix(trimmed, ",") || strings.HasSuffix(trimmed, ";") {
			return Header{}, false
		}
		if strings.HasSuffix(trimmed, ".") && strings.ToUpper(rest) != rest {
			return Header{}, false
		}
		return Header{Level: levelByKeyword[strings.ToLower(m[1])], Label: trimmed}, true
	}
	return Header{}, false
}

// DetectHeaders runs the default PatternDetector.
func DetectHeaders(text string) []Header {
	return PatternDetector{}.DetectHeaders(text)
}
