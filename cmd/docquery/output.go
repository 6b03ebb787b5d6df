package main

import (
	"fmt"
	"io"

	"github.com/fatih/color"

	"github.com/dgallion1/docquery/internal/synth"
)

var (
	heading = color.New(color.FgCyan, color.Bold).SprintFunc()
	subtle  = color.New(color.FgHiBlack).SprintFunc()
	warning = color.New(color.FgYellow, color.Bold).SprintFunc()
	failure = color.New(color.FgRed).SprintFunc()
)

// renderAnswer prints a human-readable answer. With detail set it also lists
// every segment result, including failures.
func renderAnswer(w io.Writer, ans synth.Answer, detail bool) {
	fmt.Fprintf(w, "%s %s\n\n", heading("Q:"), ans.Question)
	fmt.Fprintln(w, ans.Answer)
	fmt.Fprintln(w)
	fmt.Fprintf(w, "%s\n", subtle(fmt.Sprintf(
		"confidence %.2f | %d segment(s) queried | routing %s | synthesis %s | %dms",
		ans.Confidence, ans.SegmentsQueried, ans.RoutingStrategy, ans.SynthesisStrategy, ans.TotalElapsedMs,
	)))
	for _, wmsg := range ans.Warnings {
		fmt.Fprintf(w, "%s %s\n", warning("warning:"), wmsg)
	}
	if !detail {
		return
	}
	for _, r := range ans.Results {
		status := string(r.Status)
		if !r.OK() {
			status = failure(status)
		}
		fmt.Fprintf(w, "  segment %d [%s] relevance %.2f %dms (%d attempt(s))\n",
			r.Segment.Number, status, r.Relevance, r.ElapsedMs, r.Attempts)
	}
}
