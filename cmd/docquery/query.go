package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/qa"
	"github.com/dgallion1/docquery/internal/router"
	"github.com/dgallion1/docquery/internal/synth"
)

var (
	queryIndex       string
	queryModel       string
	queryRouting     string
	querySynthesis   string
	queryThreshold   float64
	queryOutput      string
	queryConcurrency int
	queryTimeout     time.Duration
	queryJSON        bool
)

var queryCmd = &cobra.Command{
	Use:   "query [chunks-dir] [question]",
	Short: "Answer a question against a chunked document",
	Long: `Loads the segment index from the chunks directory, routes the question to
the relevant segments, queries each one and prints a combined answer with
segment and page citations.`,
	Args: cobra.ExactArgs(2),
	RunE: runQuery,
}

func init() {
	f := queryCmd.Flags()
	f.StringVar(&queryIndex, "index", "", "index file (default <chunks-dir>/index.json)")
	f.StringVar(&queryModel, "model", "", "generation model: stub, claude-*, gemini-* (default from config)")
	f.StringVar(&queryRouting, "routing", "", "keyword, semantic, comprehensive or quick")
	f.StringVar(&querySynthesis, "synthesis", "", "concatenate, summarize or mapreduce")
	f.Float64Var(&queryThreshold, "threshold", router.DefaultThreshold, "minimum relevance for keyword routing")
	f.StringVar(&queryOutput, "output", "", "also write the full answer as JSON to this file")
	f.IntVar(&queryConcurrency, "concurrency", 0, "segments queried in parallel (default from config)")
	f.DurationVar(&queryTimeout, "timeout", 0, "overall query deadline (default from config)")
	f.BoolVar(&queryJSON, "json", false, "print the answer as JSON")
	rootCmd.AddCommand(queryCmd)
}

func runQuery(cmd *cobra.Command, args []string) error {
	flags := cmd.Flags()
	model := cfg.Model
	if queryModel != "" {
		model = queryModel
	}
	checked := cfg
	checked.Model = model
	if err := checked.Validate(); err != nil {
		return err
	}

	ecfg := cfg.EngineConfig(args[0])
	if queryIndex != "" {
		ecfg.IndexPath = queryIndex
	}
	if queryRouting != "" {
		r, err := router.ParseStrategy(queryRouting)
		if err != nil {
			return err
		}
		ecfg.Routing = r
	}
	if querySynthesis != "" {
		s, err := synth.ParseStrategy(querySynthesis)
		if err != nil {
			return err
		}
		ecfg.Synthesis = s
	}
	if flags.Changed("threshold") {
		if queryThreshold < 0 || queryThreshold > 1 {
			return fmt.Errorf("--threshold must be in [0, 1], got %g", queryThreshold)
		}
		ecfg.Threshold = queryThreshold
	}
	if queryConcurrency > 0 {
		ecfg.Concurrency = queryConcurrency
	}
	if queryTimeout > 0 {
		ecfg.QueryTimeout = queryTimeout
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	gen, err := llm.New(ctx, model, cfg.Keys())
	if err != nil {
		return err
	}
	defer closeGenerator(gen)

	eng, err := engine.Open(ecfg, gen, engine.WithLogger(logger))
	if err != nil {
		return err
	}

	var opts engine.QueryOptions
	if verbose {
		errOut := cmd.ErrOrStderr()
		opts.Observer = qa.ObserverFunc(func(current, total int, message string) {
			fmt.Fprintf(errOut, "[%d/%d] %s\n", current, total, message)
		})
	}
	ans := eng.Query(ctx, args[1], opts)

	if queryOutput != "" {
		if err := writeAnswerFile(queryOutput, ans); err != nil {
			return err
		}
	}
	if queryJSON {
		enc := json.NewEncoder(cmd.OutOrStdout())
		enc.SetIndent("", "  ")
		return enc.Encode(ans)
	}
	renderAnswer(cmd.OutOrStdout(), ans, verbose)
	return nil
}

func writeAnswerFile(path string, ans synth.Answer) error {
	data, err := json.MarshalIndent(ans, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal answer: %w", err)
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("write answer: %w", err)
	}
	return nil
}

func closeGenerator(gen llm.Generator) {
	if c, ok := gen.(interface{ Close() }); ok {
		c.Close()
	}
}
