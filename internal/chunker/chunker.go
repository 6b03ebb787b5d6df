package chunker

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docquery/internal/tokens"
)

// Strategy selects how a document is partitioned.
type Strategy string

const (
	StrategyStructure Strategy = "structure"
	StrategySliding   Strategy = "sliding"
)

// ParseStrategy accepts the short and long strategy names.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "structure", "structure-aware", "structural":
		return StrategyStructure, nil
	case "sliding", "sliding-window", "window":
		return StrategySliding, nil
	}
	return "", fmt.Errorf("unknown chunking strategy %q (want structure or sliding)", s)
}

// ContinuationMarker separates a segment's own text from the lookahead
// borrowed from the following section.
const ContinuationMarker = "\n\n[continued from next section]\n"

// Config controls chunking behavior.
type Config struct {
	MaxUnits     int // Maximum units per segment.
	OverlapUnits int // Units shared with the neighbouring segment.
	Strategy     Strategy

	Detector HeaderDetector        // Defaults to PatternDetector.
	Count    func(text string) int // Unit counter. Defaults to tokens.Fast.
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxUnits:     2000,
		OverlapUnits: 200,
		Strategy:     StrategyStructure,
	}
}

func (c Config) withDefaults() Config {
	if c.MaxUnits <= 0 {
		c.MaxUnits = 2000
	}
	if c.OverlapUnits < 0 {
		c.OverlapUnits = 0
	}
	if c.OverlapUnits >= c.MaxUnits {
		c.OverlapUnits = c.MaxUnits / 4
	}
	if c.Strategy == "" {
		c.Strategy = StrategyStructure
	}
	if c.Detector == nil {
		c.Detector = PatternDetector{}
	}
	if c.Count == nil {
		c.Count = tokens.Fast
	}
	return c
}

// Segment is a bounded slice of the source document.
type Segment struct {
	Text         string   // Segment content, text[Start:End].
	Continuation string   // Lookahead from the next section; not counted in Units.
	Units        int      // Estimated units of Text.
	Start, End   int      // Byte range [Start, End) in the source.
	Headers      []string // Structural headers covered by the segment.
	Oversized    bool     // Units exceeds the configured maximum.
}

// Body is the text persisted for the segment.
func (s Segment) Body() string {
	if s.Continuation == "" {
		return s.Text
	}
	return s.Text + ContinuationMarker + s.Continuation
}

// Result is the output of one chunking run.
type Result struct {
	Segments  []Segment
	Requested Strategy
	Used      Strategy
	Fallback  bool     // Structure-aware found no headers and used the sliding window.
	Headers   []Header // Headers detected in the document.
}

// Oversized counts segments over budget.
func (r Result) Oversized() int {
	n := 0
	for _, s := range r.Segments {
		if s.Oversized {
			n++
		}
	}
	return n
}

// Chunk splits text into ordered segments. Segment byte ranges never leave a
// gap and the output depends only on text and cfg.
func Chunk(text string, cfg Config) Result {
	cfg = cfg.withDefaults()
	headers := cfg.Detector.DetectHeaders(text)
	res := Result{Requested: cfg.Strategy, Headers: headers}

	if cfg.Strategy == StrategyStructure {
		if len(headers) > 0 {
			res.Used = StrategyStructure
			res.Segments = chunkByStructure(text, headers, cfg)
			return res
		}
		res.Fallback = true
	}
	res.Used = StrategySliding
	res.Segments = chunkBySlidingWindow(text, headers, cfg)
	return res
}

type section struct {
	start, end int
	label      string
}

// sections turns header offsets into contiguous spans. Text before the first
// header belongs to the first section.
func sections(text string, headers []Header) []section {
	out := make([]section, 0, len(headers))
	for i, h := range headers {
		s := section{start: h.Offset, end: len(text), label: h.Label}
		if i == 0 {
			s.start = 0
		}
		if i+1 < len(headers) {
			s.end = headers[i+1].Offset
		}
		if s.end > s.start {
			out = append(out, s)
		}
	}
	return out
}

// chunkByStructure greedily packs whole sections into segments. A section
// larger than the budget is never split; it becomes its own oversized segment.
func chunkByStructure(text string, headers []Header, cfg Config) []Segment {
	secs := sections(text, headers)
	overlapChars := cfg.OverlapUnits * tokens.CharsPerUnit

	var segments []Segment
	open := false
	var cur Segment

	closeSeg := func(next *section) {
		cur.Text = text[cur.Start:cur.End]
		cur.Units = cfg.Count(cur.Text)
		cur.Oversized = cur.Units > cfg.MaxUnits
		if next != nil && overlapChars > 0 {
			end := min(next.start+overlapChars, next.end)
			end = runeFloor(text, end, next.start)
			cur.Continuation = text[next.start:end]
		}
		segments = append(segments, cur)
		open = false
	}

	for i := range secs {
		sec := secs[i]
		if open && cfg.Count(text[cur.Start:sec.end]) > cfg.MaxUnits {
			closeSeg(&sec)
		}
		if !open {
			cur = Segment{Start: sec.start}
			open = true
		}
		cur.End = sec.end
		cur.Headers = append(cur.Headers, sec.label)
	}
	if open {
		closeSeg(nil)
	}
	return segments
}

// chunkBySlidingWindow cuts fixed character windows, preferring a paragraph
// break, then a sentence end, within the last fifth of each window.
func chunkBySlidingWindow(text string, headers []Header, cfg Config) []Segment {
	n := len(text)
	maxChars := cfg.MaxUnits * tokens.CharsPerUnit
	overlapChars := cfg.OverlapUnits * tokens.CharsPerUnit

	var segments []Segment
	start := 0
	for start < n {
		end := min(start+maxChars, n)
		if end < n {
			end = runeFloor(text, end, start+1)
			end = cutPoint(text, start, end, maxChars/5)
		}

		seg := Segment{
			Text:    text[start:end],
			Start:   start,
			End:     end,
			Headers: headersInRange(headers, start, end),
		}
		seg.Units = cfg.Count(seg.Text)
		seg.Oversized = seg.Units > cfg.MaxUnits
		segments = append(segments, seg)

		if end >= n {
			break
		}
		next := max(start+1, end-overlapChars)
		for next < end && !utf8.RuneStart(text[next]) {
			next++
		}
		start = next
	}
	return segments
}

// cutPoint searches text[end-window:end] backwards for a paragraph break,
// then a sentence end. It returns end unchanged when neither exists.
func cutPoint(text string, start, end, window int) int {
	lo := max(end-window, start+1)
	if lo >= end {
		return end
	}
	if p := strings.LastIndex(text[lo:end], "\n\n"); p >= 0 {
		return lo + p + 2
	}
	for i := end - 1; i >= lo; i-- {
		switch text[i] {
		case '.', '!', '?':
			if i+1 < len(text) && isSpace(text[i+1]) && i+2 <= end {
				return i + 2
			}
		}
	}
	return end
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}

// runeFloor moves i back to a rune boundary, never below lo.
func runeFloor(text string, i, lo int) int {
	for i > lo && i < len(text) && !utf8.RuneStart(text[i]) {
		i--
	}
	return i
}

// headersInRange returns the header in effect at start plus every header
// that begins inside [start, end).
func headersInRange(headers []Header, start, end int) []string {
	var out []string
	for i, h := range headers {
		if h.Offset >= end {
			break
		}
		if h.Offset >= start {
			out = append(out, h.Label)
			continue
		}
		if i+1 == len(headers) || headers[i+1].Offset > start {
			out = append(out, h.Label)
		}
	}
	return out
}
