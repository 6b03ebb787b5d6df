package main

import (
	"context"
	"fmt"
	"io"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docquery/internal/chunker"
	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/parser"
	"github.com/dgallion1/docquery/internal/tokens"
)

var (
	chunkOut      string
	chunkMaxUnits int
	chunkOverlap  int
	chunkStrategy string
	chunkEstimate string
)

var chunkCmd = &cobra.Command{
	Use:   "chunk [document]",
	Short: "Split a document into indexed segments",
	Long: `Parses a .txt, .md, .html, .pdf or .docx document, splits it into
segments within the unit budget and writes index.json plus one body file per
segment to the output directory.`,
	Args: cobra.ExactArgs(1),
	RunE: runChunk,
}

func init() {
	chunkCmd.Flags().StringVarP(&chunkOut, "out", "o", "", "output directory (default <document>_chunks)")
	chunkCmd.Flags().IntVar(&chunkMaxUnits, "max-units", 0, "maximum units per segment (default from config)")
	chunkCmd.Flags().IntVar(&chunkOverlap, "overlap", 0, "overlap units between segments (default from config)")
	chunkCmd.Flags().StringVar(&chunkStrategy, "strategy", "", "structure or sliding (default from config)")
	chunkCmd.Flags().StringVar(&chunkEstimate, "estimate", "", "unit counting: fast or subwordTokenizer (default from config)")
	rootCmd.AddCommand(chunkCmd)
}

func runChunk(cmd *cobra.Command, args []string) error {
	doc, err := parser.Load(args[0], parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext})
	if err != nil {
		return err
	}
	if doc.Text == "" {
		return fmt.Errorf("%s: no extractable text", doc.Name)
	}

	if cmd.Flags().Changed("max-units") {
		cfg.MaxUnitsPerSegment = chunkMaxUnits
	}
	if cmd.Flags().Changed("overlap") {
		cfg.OverlapUnits = chunkOverlap
	}
	if chunkStrategy != "" {
		cfg.ChunkStrategy = chunkStrategy
	}
	if chunkEstimate != "" {
		cfg.EstimateMethod = chunkEstimate
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	method, _ := tokens.ParseMethod(cfg.EstimateMethod)
	if method == tokens.MethodPrecise {
		// One remote call per boundary check is too slow; count locally.
		logger.Warn("precise counting is not used for chunking", "using", tokens.MethodSubword)
		method = tokens.MethodSubword
	}
	ccfg := cfg.ChunkConfig()
	if method == tokens.MethodSubword {
		est := tokens.NewEstimator(tokens.WithLogger(logger))
		ctx := context.Background()
		ccfg.Count = func(text string) int { return est.Estimate(ctx, text, method).Units }
	}

	out := chunkOut
	if out == "" {
		out = filepath.Join(filepath.Dir(args[0]), index.Slugify(doc.Title)+"_chunks")
	}

	chunked := engine.Chunk(doc.Text, doc.Name, ccfg, logger)
	if err := chunked.Save(out); err != nil {
		return err
	}
	printChunkSummary(cmd.OutOrStdout(), chunked, out)
	return nil
}

func printChunkSummary(w io.Writer, c engine.Chunked, out string) {
	idx := c.Index
	fmt.Fprintf(w, "%s %s\n", heading("Chunked"), idx.DocumentName)
	fmt.Fprintf(w, "  strategy:  %s\n", c.Result.Used)
	fmt.Fprintf(w, "  segments:  %d (avg %d units, total %d)\n", idx.TotalSegments, idx.AverageUnits, idx.TotalUnits)
	fmt.Fprintf(w, "  headers:   %d\n", len(c.Result.Headers))
	fmt.Fprintf(w, "  written:   %s\n", out)
	if c.Result.Fallback {
		fmt.Fprintf(w, "%s no structural headers found; used %s\n", warning("warning:"), chunker.StrategySliding)
	}
	if n := c.Result.Oversized(); n > 0 {
		fmt.Fprintf(w, "%s %d segment(s) exceed the unit budget\n", warning("warning:"), n)
	}
}
