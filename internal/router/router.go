// Package router selects which indexed segments are worth querying for a
// question.
package router

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"unicode"

	"github.com/dgallion1/docquery/internal/index"
)

// Strategy names a routing mode.
type Strategy string

const (
	StrategyKeyword       Strategy = "keyword"
	StrategySemantic      Strategy = "semantic"
	StrategyComprehensive Strategy = "comprehensive"
	StrategyQuick         Strategy = "quick"
)

// DefaultThreshold is the minimum keyword score a segment needs to be routed.
const DefaultThreshold = 0.3

// Score weights.
const (
	synopsisWeight = 0.4
	keywordWeight  = 0.4
	headerWeight   = 0.2
	boostPerMatch  = 0.1
	minKeywordLen  = 4
)

// ParseStrategy validates a routing strategy name. Empty means keyword.
func ParseStrategy(s string) (Strategy, error) {
	switch st := Strategy(strings.ToLower(strings.TrimSpace(s))); st {
	case "":
		return StrategyKeyword, nil
	case StrategyKeyword, StrategySemantic, StrategyComprehensive, StrategyQuick:
		return st, nil
	}
	return "", fmt.Errorf("unknown routing strategy %q (want keyword, semantic, comprehensive or quick)", s)
}

// Result is the ordered selection for one question.
type Result struct {
	Segments  []index.Segment
	Scores    []float64 // Parallel to Segments for ranked strategies, nil otherwise.
	Requested Strategy
	Used      Strategy
	Warning   string // Non-empty when the requested strategy was substituted.
}

// Degraded reports whether a different strategy than requested was applied.
func (r Result) Degraded() bool {
	return r.Requested != r.Used
}

// Router routes questions against a chunk index.
type Router struct {
	log *slog.Logger
}

// New creates a Router. A nil logger uses slog.Default.
func New(log *slog.Logger) *Router {
	if log == nil {
		log = slog.Default()
	}
	return &Router{log: log}
}

// Route selects segments from idx for question. Unknown strategies route by
// keyword. An empty selection is a valid outcome, not an error.
func (r *Router) Route(question string, idx *index.ChunkIndex, strategy Strategy, threshold float64) Result {
	res := Result{Requested: strategy, Used: strategy}
	if idx == nil || len(idx.Segments) == 0 {
		if strategy == StrategySemantic {
			res.Used = StrategyKeyword
			res.Warning = semanticWarning
		}
		return res
	}

	switch strategy {
	case StrategyComprehensive:
		res.Segments = append([]index.Segment(nil), idx.Segments...)
		return res
	case StrategyQuick:
		res.Segments = []index.Segment{idx.Segments[0]}
		return res
	case StrategySemantic:
		r.log.Warn("semantic routing is not implemented, using keyword ranking")
		res.Used = StrategyKeyword
		res.Warning = semanticWarning
	case StrategyKeyword:
	default:
		r.log.Warn("unknown routing strategy, using keyword ranking", "strategy", strategy)
		res.Used = StrategyKeyword
		res.Warning = fmt.Sprintf("routing strategy %q is unknown; keyword ranking used", strategy)
	}

	res.Segments, res.Scores = rankByKeyword(question, idx.Segments, threshold)
	r.log.Debug("routed question",
		"strategy", res.Used,
		"candidates", len(idx.Segments),
		"selected", len(res.Segments),
		"threshold", threshold,
	)
	return res
}

const semanticWarning = "semantic routing is not implemented; keyword ranking used"

func rankByKeyword(question string, segments []index.Segment, threshold float64) ([]index.Segment, []float64) {
	keywords := Keywords(question)

	type scored struct {
		seg   index.Segment
		score float64
	}
	var kept []scored
	for _, seg := range segments {
		s := Score(keywords, seg)
		if s >= threshold {
			kept = append(kept, scored{seg, s})
		}
	}
	sort.SliceStable(kept, func(i, j int) bool {
		return kept[i].score > kept[j].score
	})

	out := make([]index.Segment, len(kept))
	scores := make([]float64, len(kept))
	for i, k := range kept {
		out[i] = k.seg
		scores[i] = k.score
	}
	return out, scores
}

// Score computes the weighted keyword relevance of a segment in [0, 1].
func Score(keywords []string, seg index.Segment) float64 {
	return weighted(keywords,
		func(kw string) bool { return strings.Contains(strings.ToLower(seg.Summary), kw) },
		func(kw string) bool { return anyContains(seg.Keywords, kw) },
		func(kw string) bool { return anyContains(seg.Sections, kw) },
	)
}

// OverlapScore measures how many question keywords appear among the answer
// keywords, with the same weighting and boost as Score.
func OverlapScore(questionKeywords, answerKeywords []string) float64 {
	set := make(map[string]bool, len(answerKeywords))
	for _, k := range answerKeywords {
		set[k] = true
	}
	in := func(kw string) bool { return set[kw] }
	return weighted(questionKeywords, in, in, in)
}

func weighted(keywords []string, inSynopsis, inKeywords, inHeaders func(string) bool) float64 {
	if len(keywords) == 0 {
		return 0
	}
	var synopsis, kwMatches, headers, distinct int
	for _, kw := range keywords {
		a, b, c := inSynopsis(kw), inKeywords(kw), inHeaders(kw)
		if a {
			synopsis++
		}
		if b {
			kwMatches++
		}
		if c {
			headers++
		}
		if a || b || c {
			distinct++
		}
	}
	n := float64(len(keywords))
	score := synopsisWeight*float64(synopsis)/n +
		keywordWeight*float64(kwMatches)/n +
		headerWeight*float64(headers)/n
	if distinct > 1 {
		score *= 1 + boostPerMatch*float64(distinct)
	}
	return min(score, 1.0)
}

func anyContains(list []string, kw string) bool {
	for _, s := range list {
		if strings.Contains(strings.ToLower(s), kw) {
			return true
		}
	}
	return false
}

// stopWords are ignored when extracting question keywords. Structural nouns
// are included so that "Part 3" does not match every part.
var stopWords = map[string]bool{
	"what": true, "which": true, "when": true, "where": true, "whom": true, "whose": true,
	"does": true, "have": true, "that": true, "this": true, "with": true, "from": true,
	"about": true, "there": true, "their": true, "they": true, "them": true, "these": true,
	"those": true, "into": true, "will": true, "would": true, "should": true, "could": true,
	"been": true, "being": true, "were": true, "than": true, "then": true, "also": true,
	"under": true, "over": true, "some": true, "such": true, "tell": true, "much": true,
	"many": true, "more": true, "most": true, "only": true, "other": true, "each": true,
	"part": true, "parts": true, "section": true, "sections": true, "division": true,
	"subdivision": true, "chapter": true, "article": true, "schedule": true, "title": true,
	"clause": true, "document": true, "say": true, "says": true,
}

// Keywords extracts distinct lower-cased tokens of at least four
// letters or digits, in order of first appearance, minus stop words.
func Keywords(text string) []string {
	fields := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r) && !unicode.IsDigit(r)
	})
	seen := make(map[string]bool, len(fields))
	var out []string
	for _, f := range fields {
		if len([]rune(f)) < minKeywordLen || stopWords[f] || seen[f] {
			continue
		}
		seen[f] = true
		out = append(out, f)
	}
	return out
}
