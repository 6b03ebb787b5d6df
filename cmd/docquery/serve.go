package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dgallion1/docquery/internal/api"
	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/pipeline"
)

var servePort string

var serveCmd = &cobra.Command{
	Use:   "serve [chunks-dir]",
	Short: "Serve questions over HTTP",
	Long: `Loads one chunked document and serves /api/query for single questions and
/api/batch for queued question batches. Requests need a bearer token matching
DOCQUERY_API_KEY.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	serveCmd.Flags().StringVar(&servePort, "port", "", "listen port (default $PORT or 8090)")
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	log := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	if err := cfg.ValidateServer(); err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}
	if servePort != "" {
		cfg.Port = servePort
	}
	dir := ""
	if len(args) == 1 {
		dir = args[0]
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	gen, err := llm.New(ctx, cfg.Model, cfg.Keys())
	if err != nil {
		return err
	}
	defer closeGenerator(gen)

	eng, err := engine.Open(cfg.EngineConfig(dir), gen, engine.WithLogger(log))
	if err != nil {
		log.Error("load index failed", "error", err)
		return err
	}

	orch := pipeline.NewOrchestrator(cfg, eng, log)
	orch.Start(ctx)

	srv := api.NewServer(eng, orch, log, cfg)
	// Synchronous queries can run up to the query deadline.
	httpServer := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      srv,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: cfg.QueryTimeout + 30*time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Graceful shutdown.
	done := make(chan struct{})
	go func() {
		defer close(done)
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		log.Info("shutting down...")

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		httpServer.Shutdown(shutdownCtx)

		orch.Stop()
	}()

	log.Info("starting docquery",
		"port", cfg.Port,
		"document", eng.Index().DocumentName,
		"segments", eng.Index().TotalSegments,
		"generator", eng.Generator(),
	)
	if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Error("server error", "error", err)
		return err
	}
	<-done
	return nil
}
