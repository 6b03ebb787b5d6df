package main

import (
	"context"
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/parser"
	"github.com/dgallion1/docquery/internal/tokens"
)

var (
	estimateMethod string
	estimateModel  string

	// estimateTokenizer overrides the subword tokenizer when set.
	estimateTokenizer tokens.TokenizerLoader
)

var estimateCmd = &cobra.Command{
	Use:   "estimate [document|-]",
	Short: "Estimate the context units in a document",
	Long: `Counts the context units in a document (or stdin with "-") using the fast
character heuristic, a local subword tokenizer, or the configured model's
exact counter. Unavailable methods fall back and say so.`,
	Args: cobra.ExactArgs(1),
	RunE: runEstimate,
}

func init() {
	estimateCmd.Flags().StringVar(&estimateMethod, "method", "", "fast, subwordTokenizer or precise (default from config)")
	estimateCmd.Flags().StringVar(&estimateModel, "model", "", "model whose counter serves the precise method")
	rootCmd.AddCommand(estimateCmd)
}

func runEstimate(cmd *cobra.Command, args []string) error {
	method := cfg.EstimateMethod
	if estimateMethod != "" {
		method = estimateMethod
	}
	m, err := tokens.ParseMethod(method)
	if err != nil {
		return err
	}

	var text string
	if args[0] == "-" {
		data, err := io.ReadAll(cmd.InOrStdin())
		if err != nil {
			return fmt.Errorf("read stdin: %w", err)
		}
		text = string(data)
	} else {
		doc, err := parser.Load(args[0], parser.Options{PDFFallbackPdftotext: cfg.PDFFallbackPdftotext})
		if err != nil {
			return err
		}
		text = doc.Text
	}

	ctx := context.Background()
	opts := []tokens.Option{tokens.WithLogger(logger), tokens.WithTokenizerLoader(estimateTokenizer)}
	if m == tokens.MethodPrecise {
		model := cfg.Model
		if estimateModel != "" {
			model = estimateModel
		}
		gen, err := llm.New(ctx, model, cfg.Keys())
		if err != nil {
			logger.Warn("precise counter unavailable", "model", model, "error", err)
		} else {
			defer closeGenerator(gen)
			if counter, ok := gen.(llm.TokenCounter); ok {
				opts = append(opts, tokens.WithCounter(counter))
			}
		}
	}

	est := tokens.NewEstimator(opts...).Estimate(ctx, text, m)
	w := cmd.OutOrStdout()
	fmt.Fprintf(w, "%d units (%s, %s accuracy)\n", est.Units, est.Method, est.Accuracy)
	if est.Degraded() {
		fmt.Fprintf(w, "%s %s unavailable, fell back to %s\n", warning("warning:"), est.Requested, est.Method)
	}
	if cfg.MaxUnitsPerSegment > 0 && est.Units > 0 {
		fmt.Fprintf(w, "%s\n", subtle(fmt.Sprintf("about %d segment(s) at %d units each",
			(est.Units+cfg.MaxUnitsPerSegment-1)/cfg.MaxUnitsPerSegment, cfg.MaxUnitsPerSegment)))
	}
	return nil
}
