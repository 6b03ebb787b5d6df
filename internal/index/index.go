// Package index derives searchable metadata for document segments and
// persists it alongside the segment bodies.
package index

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"regexp"
	"sort"
	"strings"
	"unicode/utf8"

	"github.com/dgallion1/docquery/internal/chunker"
)

const (
	WordsPerPage = 300
	CharsPerWord = 5
	CharsPerPage = WordsPerPage * CharsPerWord

	MaxSummaryChars = 200
	MaxKeywords     = 20
)

// Segment is the indexed metadata for one segment. The body text is stored
// separately and loaded on demand.
type Segment struct {
	ID        int      `json:"id"`
	Number    int      `json:"number"`
	PageRange string   `json:"pageRange"`
	Sections  []string `json:"sections"`
	Summary   string   `json:"summary"`
	Keywords  []string `json:"keywords"`
	UnitCount int      `json:"unitCount"`
	CharRange [2]int   `json:"charRange"`
	Oversized bool     `json:"oversized,omitempty"`
}

// UnmarshalJSON accepts the legacy "chunkId" identifier, preferring "id".
func (s *Segment) UnmarshalJSON(data []byte) error {
	type plain Segment
	var aux struct {
		plain
		ID      *int `json:"id"`
		ChunkID *int `json:"chunkId"`
		Number  *int `json:"number"`
	}
	if err := json.Unmarshal(data, &aux); err != nil {
		return err
	}
	*s = Segment(aux.plain)
	switch {
	case aux.ID != nil:
		s.ID = *aux.ID
	case aux.ChunkID != nil:
		s.ID = *aux.ChunkID
	default:
		return fmt.Errorf("segment entry has neither id nor chunkId")
	}
	if aux.Number != nil {
		s.Number = *aux.Number
	} else {
		s.Number = s.ID + 1
	}
	return nil
}

// ChunkIndex is the persisted description of one chunking run.
type ChunkIndex struct {
	DocumentName      string    `json:"documentName"`
	Strategy          string    `json:"strategy,omitempty"`
	Fallback          bool      `json:"fallback,omitempty"`
	TotalSegments     int       `json:"totalSegments"`
	TotalUnits        int       `json:"totalUnits"`
	AverageUnits      int       `json:"averageUnitsPerSegment"`
	OversizedSegments int       `json:"oversizedSegments,omitempty"`
	Segments          []Segment `json:"segments"`
}

// Segment returns the entry with the given id.
func (c *ChunkIndex) Segment(id int) (Segment, bool) {
	for _, s := range c.Segments {
		if s.ID == id {
			return s, true
		}
	}
	return Segment{}, false
}

// Build indexes the segments of one chunking run. Indexing never fails: a
// segment that cannot be described gets an empty summary and keyword list.
func Build(res chunker.Result, documentName string, log *slog.Logger) *ChunkIndex {
	if log == nil {
		log = slog.Default()
	}
	idx := &ChunkIndex{
		DocumentName:  documentName,
		Strategy:      string(res.Used),
		Fallback:      res.Fallback,
		TotalSegments: len(res.Segments),
		Segments:      make([]Segment, 0, len(res.Segments)),
	}
	for i, seg := range res.Segments {
		entry := Segment{
			ID:        i,
			Number:    i + 1,
			PageRange: PageRange(seg.Start, seg.End),
			Sections:  copyStrings(seg.Headers),
			UnitCount: seg.Units,
			CharRange: [2]int{seg.Start, seg.End},
			Oversized: seg.Oversized,
		}
		summary, keywords, err := describe(seg)
		if err != nil {
			log.Warn("segment metadata degraded", "segment", i+1, "error", err)
		}
		entry.Summary = summary
		entry.Keywords = keywords
		if entry.Keywords == nil {
			entry.Keywords = []string{}
		}

		idx.TotalUnits += seg.Units
		if seg.Oversized {
			idx.OversizedSegments++
		}
		idx.Segments = append(idx.Segments, entry)
	}
	if idx.TotalSegments > 0 {
		idx.AverageUnits = idx.TotalUnits / idx.TotalSegments
	}
	return idx
}

func describe(seg chunker.Segment) (summary string, keywords []string, err error) {
	defer func() {
		if r := recover(); r != nil {
			summary, keywords, err = "", nil, fmt.Errorf("describe segment: %v", r)
		}
	}()
	if seg.End < seg.Start {
		return "", nil, fmt.Errorf("invalid range [%d,%d)", seg.Start, seg.End)
	}
	if !utf8.ValidString(seg.Text) {
		return "", nil, fmt.Errorf("segment text is not valid UTF-8")
	}
	return Summary(seg.Text), Keywords(seg.Text, MaxKeywords), nil
}

// PageRange approximates the 1-based page span of a byte range.
func PageRange(start, end int) string {
	first := start/CharsPerPage + 1
	last := first
	if end > start {
		last = (end-1)/CharsPerPage + 1
	}
	if first == last {
		return fmt.Sprintf("%d", first)
	}
	return fmt.Sprintf("%d-%d", first, last)
}

var sentenceEnd = regexp.MustCompile(`[.!?](\s|$)`)

// Summary returns the first sentence of text, whitespace-collapsed and
// truncated to MaxSummaryChars.
func Summary(text string) string {
	flat := strings.Join(strings.Fields(text), " ")
	if loc := sentenceEnd.FindStringIndex(flat); loc != nil {
		flat = flat[:loc[0]+1]
	}
	return truncateRunes(flat, MaxSummaryChars)
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	runes := []rune(s)
	return strings.TrimSpace(string(runes[:n-3])) + "..."
}

var capitalizedPhrase = regexp.MustCompile(`\b[A-Z][A-Za-z'’-]+(?:[ \t]+[A-Z][A-Za-z'’-]+)*`)

// stopNouns are structural words and sentence starters that say nothing
// about a segment's subject.
var stopNouns = map[string]bool{
	"part": true, "parts": true, "section": true, "sections": true, "division": true,
	"subdivision": true, "chapter": true, "article": true, "schedule": true, "title": true,
	"clause": true, "subsection": true, "paragraph": true, "item": true, "page": true, "sec": true,
	"the": true, "this": true, "that": true, "these": true, "those": true, "there": true,
	"and": true, "for": true, "but": true, "not": true, "any": true, "all": true, "each": true,
	"if": true, "in": true, "on": true, "of": true, "to": true, "an": true, "by": true, "or": true,
	"it": true, "its": true, "as": true, "at": true, "be": true, "is": true, "are": true,
	"a": true, "i": true, "we": true, "our": true, "with": true, "from": true, "where": true,
	"when": true, "what": true, "which": true, "who": true, "under": true, "subject": true,
}

// Keywords returns up to limit salient capitalized phrases ordered by
// frequency, ties broken by first appearance.
func Keywords(text string, limit int) []string {
	type count struct {
		phrase string
		n      int
		first  int
	}
	counts := map[string]*count{}
	order := 0
	for _, m := range capitalizedPhrase.FindAllString(text, -1) {
		phrase := trimStopWords(strings.Fields(m))
		if phrase == "" {
			continue
		}
		key := strings.ToLower(phrase)
		if c, ok := counts[key]; ok {
			c.n++
			continue
		}
		counts[key] = &count{phrase: phrase, n: 1, first: order}
		order++
	}

	ranked := make([]*count, 0, len(counts))
	for _, c := range counts {
		ranked = append(ranked, c)
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].n != ranked[j].n {
			return ranked[i].n > ranked[j].n
		}
		return ranked[i].first < ranked[j].first
	})
	if len(ranked) > limit {
		ranked = ranked[:limit]
	}
	out := make([]string, len(ranked))
	for i, c := range ranked {
		out[i] = c.phrase
	}
	return out
}

// trimStopWords drops stop nouns from both ends of a phrase and rejects
// phrases that are too short to be meaningful.
func trimStopWords(words []string) string {
	isStop := func(w string) bool {
		return stopNouns[strings.ToLower(strings.Trim(w, "'’-"))]
	}
	for len(words) > 0 && isStop(words[0]) {
		words = words[1:]
	}
	for len(words) > 0 && isStop(words[len(words)-1]) {
		words = words[:len(words)-1]
	}
	if len(words) == 0 {
		return ""
	}
	phrase := strings.Join(words, " ")
	if len(words) == 1 && utf8.RuneCountInString(phrase) < 3 {
		return ""
	}
	return phrase
}

func copyStrings(in []string) []string {
	if len(in) == 0 {
		return []string{}
	}
	out := make([]string, len(in))
	copy(out, in)
	return out
}
