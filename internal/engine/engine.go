// Package engine wires chunking, indexing, routing, segment querying and
// synthesis into a single question-answering call over one document.
package engine

import (
	"context"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docquery/internal/chunker"
	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/qa"
	"github.com/dgallion1/docquery/internal/router"
	"github.com/dgallion1/docquery/internal/synth"
)

// Config holds query-time settings.
type Config struct {
	ChunksDir      string
	IndexPath      string // Defaults to ChunksDir/index.json.
	Routing        router.Strategy
	Synthesis      synth.Strategy
	Threshold      float64
	Concurrency    int
	QueryTimeout   time.Duration
	MaxPromptChars int
	BodyCacheSize  int
	Generation     llm.Options
}

// DefaultConfig returns the query defaults for chunksDir.
func DefaultConfig(chunksDir string) Config {
	return Config{
		ChunksDir:      chunksDir,
		Routing:        router.StrategyKeyword,
		Synthesis:      synth.StrategyConcatenate,
		Threshold:      router.DefaultThreshold,
		Concurrency:    1,
		QueryTimeout:   10 * time.Minute,
		MaxPromptChars: qa.DefaultMaxPromptChars,
		BodyCacheSize:  index.DefaultCacheSize,
		Generation:     llm.DefaultOptions(),
	}
}

// Engine answers questions against one chunked document. It is safe for
// concurrent use; the index is read-only after Open.
type Engine struct {
	cfg    Config
	idx    *index.ChunkIndex
	gen    llm.Generator
	router *router.Router
	synth  *synth.Synthesizer
	exec   *qa.Executor
	stats  *llm.Stats
	log    *slog.Logger
}

// Option configures an Engine.
type Option func(*Engine)

func WithLogger(log *slog.Logger) Option { return func(e *Engine) { e.log = log } }

// WithStats shares a latency tracker with the caller.
func WithStats(s *llm.Stats) Option { return func(e *Engine) { e.stats = s } }

// Open loads the index and prepares the segment store. A missing or
// unparseable index is the only error Open or Query report.
func Open(cfg Config, gen llm.Generator, opts ...Option) (*Engine, error) {
	e := &Engine{cfg: cfg, gen: gen, log: slog.Default()}
	for _, o := range opts {
		o(e)
	}
	if e.stats == nil {
		e.stats = llm.NewStats(time.Hour)
	}
	if gen == nil {
		return nil, fmt.Errorf("open engine: no generator configured")
	}
	if cfg.IndexPath == "" {
		e.cfg.IndexPath = filepath.Join(cfg.ChunksDir, index.IndexFileName)
	}

	idx, err := index.LoadIndex(e.cfg.IndexPath)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}
	store, err := index.NewStore(cfg.ChunksDir, cfg.BodyCacheSize)
	if err != nil {
		return nil, fmt.Errorf("open engine: %w", err)
	}

	e.idx = idx
	e.router = router.New(e.log)
	e.synth = synth.New(e.log)
	e.exec = qa.NewExecutor(gen, store,
		qa.WithLogger(e.log),
		qa.WithOptions(cfg.Generation),
		qa.WithMaxPromptChars(cfg.MaxPromptChars),
		qa.WithConcurrency(cfg.Concurrency),
		qa.WithDocumentName(idx.DocumentName),
		qa.WithStats(e.stats),
	)
	e.log.Info("index loaded",
		"document", idx.DocumentName,
		"segments", idx.TotalSegments,
		"generator", gen.Name(),
	)
	return e, nil
}

// QueryOptions override the configured defaults for one question.
type QueryOptions struct {
	Routing   router.Strategy
	Synthesis synth.Strategy
	Threshold *float64
	Observer  qa.Observer
}

// Query answers question. It never fails: routing misses, segment failures
// and strategy fallbacks all produce a well-formed answer.
func (e *Engine) Query(ctx context.Context, question string, opts QueryOptions) synth.Answer {
	start := time.Now()
	log := e.log.With("query_id", uuid.NewString())

	if e.cfg.QueryTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.QueryTimeout)
		defer cancel()
	}

	routing := opts.Routing
	if routing == "" {
		routing = e.cfg.Routing
	}
	synthesis := opts.Synthesis
	if synthesis == "" {
		synthesis = e.cfg.Synthesis
	}
	threshold := e.cfg.Threshold
	if opts.Threshold != nil {
		threshold = *opts.Threshold
	}

	routed := e.router.Route(question, e.idx, routing, threshold)
	log.Info("question routed",
		"routing", routed.Used,
		"segments", len(routed.Segments),
		"of", len(e.idx.Segments),
	)

	var obs qa.Observer
	var notifier *qa.Notifier
	if opts.Observer != nil {
		notifier = qa.NewNotifier(opts.Observer, len(routed.Segments)+1)
		obs = notifier
	}
	results := e.exec.QueryAll(ctx, question, routed.Segments, obs)
	if notifier != nil {
		notifier.Close()
	}

	ans := e.synth.Synthesize(question, results, synthesis)
	ans.RoutingStrategy = string(routed.Used)
	if routed.Warning != "" {
		ans.Warnings = append([]string{routed.Warning}, ans.Warnings...)
	}
	if len(routed.Segments) == 0 {
		log.Info("no segment met the relevance threshold", "threshold", threshold)
	}
	ans.SetElapsed(time.Since(start))
	log.Info("question answered",
		"segments_queried", ans.SegmentsQueried,
		"sources", len(ans.Sources),
		"confidence", ans.Confidence,
		"elapsed_ms", ans.TotalElapsedMs,
	)
	return ans
}

// Index returns the loaded index.
func (e *Engine) Index() *index.ChunkIndex { return e.idx }

// Stats returns the generation latency tracker.
func (e *Engine) Stats() *llm.Stats { return e.stats }

// Generator names the generation backend in use.
func (e *Engine) Generator() string { return e.gen.Name() }

// Chunked is the output of one chunking run, ready to be saved.
type Chunked struct {
	Index  *index.ChunkIndex
	Bodies []string
	Result chunker.Result
}

// Chunk partitions and indexes a document.
func Chunk(text, documentName string, cfg chunker.Config, log *slog.Logger) Chunked {
	if log == nil {
		log = slog.Default()
	}
	res := chunker.Chunk(text, cfg)
	if res.Fallback {
		log.Warn("no structural headers found, used sliding window",
			"requested", res.Requested, "used", res.Used)
	}
	if n := res.Oversized(); n > 0 {
		log.Warn("segments exceed the unit budget",
			"oversized", n, "max_units", cfg.MaxUnits)
	}

	idx := index.Build(res, documentName, log)
	bodies := make([]string, len(res.Segments))
	for i, seg := range res.Segments {
		bodies[i] = seg.Body()
	}
	log.Info("document chunked",
		"document", documentName,
		"strategy", res.Used,
		"segments", idx.TotalSegments,
		"total_units", idx.TotalUnits,
		"headers", len(res.Headers),
	)
	return Chunked{Index: idx, Bodies: bodies, Result: res}
}

// Save writes the index and segment bodies under dir.
func (c Chunked) Save(dir string) error {
	return index.Save(dir, c.Index, c.Bodies)
}
