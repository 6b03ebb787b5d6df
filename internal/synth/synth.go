// Package synth merges per-segment answers into one attributed answer.
package synth

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/qa"
)

// Strategy names a synthesis mode.
type Strategy string

const (
	StrategyConcatenate Strategy = "concatenate"
	StrategySummarize   Strategy = "summarize"
	StrategyMapReduce   Strategy = "mapreduce"
)

// ParseStrategy validates a synthesis strategy name. Empty means concatenate.
func ParseStrategy(s string) (Strategy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "concatenate", "concat":
		return StrategyConcatenate, nil
	case "summarize", "summarise":
		return StrategySummarize, nil
	case "mapreduce", "map-reduce", "map_reduce":
		return StrategyMapReduce, nil
	}
	return "", fmt.Errorf("unknown synthesis strategy %q (want concatenate, summarize or mapreduce)", s)
}

// NoRelevantInfo is the answer text when no segment produced an answer.
const NoRelevantInfo = "No relevant information found"

const (
	maxSourceSections = 3
	confidenceBoost   = 1.2
)

// Answer is the final result of one question.
type Answer struct {
	Question          string          `json:"question"`
	Answer            string          `json:"answer"`
	Sources           []index.Segment `json:"sources"`
	SegmentsQueried   int             `json:"segmentsQueried"`
	TotalElapsed      time.Duration   `json:"-"`
	TotalElapsedMs    int64           `json:"totalElapsedMs"`
	Confidence        float64         `json:"confidence"`
	RoutingStrategy   string          `json:"routingStrategy"`
	SynthesisStrategy string          `json:"synthesisStrategy"`
	Results           []qa.Result     `json:"results"`
	Warnings          []string        `json:"warnings,omitempty"`
}

// SetElapsed records the wall-clock time of the whole query.
func (a *Answer) SetElapsed(d time.Duration) {
	a.TotalElapsed = d
	a.TotalElapsedMs = d.Milliseconds()
}

// Synthesizer combines segment results.
type Synthesizer struct {
	log *slog.Logger
}

func New(log *slog.Logger) *Synthesizer {
	if log == nil {
		log = slog.Default()
	}
	return &Synthesizer{log: log}
}

// Synthesize builds the answer for question from results in routed order.
// Failed results stay in Answer.Results but contribute nothing else.
func (s *Synthesizer) Synthesize(question string, results []qa.Result, strategy Strategy) Answer {
	ans := Answer{
		Question:          question,
		SegmentsQueried:   len(results),
		SynthesisStrategy: string(StrategyConcatenate),
		Sources:           []index.Segment{},
		Results:           results,
	}
	if ans.Results == nil {
		ans.Results = []qa.Result{}
	}

	switch strategy {
	case StrategyConcatenate, "":
	case StrategySummarize, StrategyMapReduce:
		s.log.Warn("synthesis strategy not implemented, falling back to concatenate", "strategy", strategy)
		ans.Warnings = append(ans.Warnings, fmt.Sprintf("synthesis strategy %q is not implemented; fell back to concatenate", strategy))
	default:
		s.log.Warn("unknown synthesis strategy, falling back to concatenate", "strategy", strategy)
		ans.Warnings = append(ans.Warnings, fmt.Sprintf("synthesis strategy %q is unknown; fell back to concatenate", strategy))
	}

	var ok []qa.Result
	for _, r := range results {
		if r.OK() {
			ok = append(ok, r)
		}
	}
	if failed := len(results) - len(ok); failed > 0 {
		ans.Warnings = append(ans.Warnings, fmt.Sprintf("%d of %d segment queries failed", failed, len(results)))
	}
	if len(ok) == 0 {
		ans.Answer = NoRelevantInfo
		return ans
	}

	ans.Answer, ans.Sources = concatenate(ok)
	ans.Confidence = confidence(ok)
	return ans
}

func concatenate(results []qa.Result) (string, []index.Segment) {
	var sb strings.Builder
	sources := make([]index.Segment, 0, len(results))
	for i, r := range results {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		fmt.Fprintf(&sb, "[%d] %s\n", i+1, strings.TrimSpace(r.Answer))
		sb.WriteString(SourceLine(r.Segment))
		sources = append(sources, r.Segment)
	}
	return sb.String(), sources
}

// SourceLine cites a segment by number, page range and up to three headers.
func SourceLine(seg index.Segment) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Source: Segment %d", seg.Number)
	if seg.PageRange != "" {
		fmt.Fprintf(&sb, ", pages %s", seg.PageRange)
	}
	if len(seg.Sections) > 0 {
		shown := seg.Sections
		if len(shown) > maxSourceSections {
			shown = shown[:maxSourceSections]
		}
		fmt.Fprintf(&sb, ", %s", strings.Join(shown, "; "))
		if extra := len(seg.Sections) - len(shown); extra > 0 {
			fmt.Fprintf(&sb, " (+%d more)", extra)
		}
	}
	return sb.String()
}

func confidence(results []qa.Result) float64 {
	if len(results) == 0 {
		return 0
	}
	var sum float64
	for _, r := range results {
		sum += r.Relevance
	}
	return min(1.0, sum/float64(len(results))*confidenceBoost)
}
