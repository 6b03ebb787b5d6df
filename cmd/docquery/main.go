// Command docquery chunks long documents into indexed segments and answers
// questions against them by routing each question to the relevant segments.
package main

import (
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docquery/internal/config"
)

var (
	configFile string
	verbose    bool

	cfg    config.Config
	logger *slog.Logger
)

var rootCmd = &cobra.Command{
	Use:   "docquery",
	Short: "Chunk long documents and answer questions against them",
	Long: `docquery splits a document into segments that fit a model's context,
indexes them with synopses and keywords, and answers questions by querying
only the segments a question is routed to.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
		c, err := config.Load(configFile)
		if err != nil {
			return err
		}
		cfg = c

		level := slog.LevelWarn
		if verbose {
			level = slog.LevelDebug
		}
		logger = slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configFile, "config", "", "TOML config file (default $DOCQUERY_CONFIG)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "debug logging and progress on stderr")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
