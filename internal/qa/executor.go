// Package qa queries routed segments against a generation capability.
package qa

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/sync/semaphore"

	"github.com/dgallion1/docquery/internal/index"
	"github.com/dgallion1/docquery/internal/llm"
	"github.com/dgallion1/docquery/internal/router"
)

// Status is the outcome of one segment query.
type Status string

const (
	StatusOK     Status = "ok"
	StatusFailed Status = "failed"
)

// FailureMissingBody marks a result whose segment text was not on disk.
const FailureMissingBody = "missing_body"

// Result is the answer obtained from one segment. A failed result carries
// the failure message in Answer.
type Result struct {
	Segment   index.Segment `json:"segment"`
	Answer    string        `json:"answer"`
	Relevance float64       `json:"relevance"`
	Elapsed   time.Duration `json:"-"`
	ElapsedMs int64         `json:"elapsedMs"`
	Generator string        `json:"generator"`
	Status    Status        `json:"status"`
	Failure   string        `json:"failure,omitempty"`
	Attempts  int           `json:"attempts"`
}

// OK reports whether the segment produced an answer.
func (r Result) OK() bool { return r.Status == StatusOK }

// BodyLoader returns a segment's full text by id.
type BodyLoader interface {
	Body(id int) (string, error)
}

// Executor queries segments one prompt at a time, optionally in parallel.
type Executor struct {
	gen            llm.Generator
	bodies         BodyLoader
	log            *slog.Logger
	opts           llm.Options
	maxPromptChars int
	concurrency    int
	documentName   string
	stats          *llm.Stats
	maxRetries     int
	backoff        func(attempt int) time.Duration
}

// Option configures an Executor.
type Option func(*Executor)

func WithLogger(log *slog.Logger) Option { return func(e *Executor) { e.log = log } }

func WithOptions(opts llm.Options) Option { return func(e *Executor) { e.opts = opts } }

func WithMaxPromptChars(n int) Option { return func(e *Executor) { e.maxPromptChars = n } }

// WithConcurrency sets how many segments may be queried at once.
func WithConcurrency(n int) Option { return func(e *Executor) { e.concurrency = n } }

func WithDocumentName(name string) Option { return func(e *Executor) { e.documentName = name } }

// WithStats records the latency of every generation call.
func WithStats(s *llm.Stats) Option { return func(e *Executor) { e.stats = s } }

// WithRetry overrides the retry budget and backoff schedule.
func WithRetry(maxRetries int, backoff func(attempt int) time.Duration) Option {
	return func(e *Executor) {
		e.maxRetries = maxRetries
		e.backoff = backoff
	}
}

func NewExecutor(gen llm.Generator, bodies BodyLoader, opts ...Option) *Executor {
	e := &Executor{
		gen:            gen,
		bodies:         bodies,
		log:            slog.Default(),
		opts:           llm.DefaultOptions(),
		maxPromptChars: DefaultMaxPromptChars,
		concurrency:    1,
		maxRetries:     llm.MaxRetries,
		backoff:        llm.Backoff,
	}
	for _, o := range opts {
		o(e)
	}
	if e.concurrency < 1 {
		e.concurrency = 1
	}
	if e.maxRetries < 1 {
		e.maxRetries = 1
	}
	return e
}

// QuerySegment answers question from one segment. It never returns an error:
// a missing body or a failed generation becomes a failed Result.
func (e *Executor) QuerySegment(ctx context.Context, question string, seg index.Segment) Result {
	start := time.Now()
	res := Result{Segment: seg, Generator: e.gen.Name()}
	log := e.log.With("segment", seg.Number)

	finish := func() Result {
		res.Elapsed = time.Since(start)
		res.ElapsedMs = res.Elapsed.Milliseconds()
		return res
	}

	if err := ctx.Err(); err != nil {
		res = cancelled(seg, res.Generator, err)
		return finish()
	}

	body, err := e.bodies.Body(seg.ID)
	if err != nil {
		var missing *index.MissingBodyError
		if errors.As(err, &missing) {
			log.Warn("segment body missing", "path", missing.Path)
			res.Failure = FailureMissingBody
			res.Answer = fmt.Sprintf("Segment text not found: %s", missing.Path)
		} else {
			log.Error("load segment body", "error", err)
			res.Failure = FailureMissingBody
			res.Answer = fmt.Sprintf("Segment text could not be read: %s", err)
		}
		res.Status = StatusFailed
		return finish()
	}

	prompt := BuildPrompt(e.documentName, question, seg, body, e.maxPromptChars)
	answer, attempts, err := e.generate(ctx, log, prompt)
	res.Attempts = attempts
	if e.stats != nil {
		e.stats.Record(time.Since(start), err != nil)
	}
	if err != nil {
		kind := llm.Classify(err)
		log.Error("segment query failed", "failure", kind, "attempts", attempts, "error", err)
		res.Status = StatusFailed
		res.Failure = string(kind)
		res.Answer = fmt.Sprintf("Query failed (%s): %s", kind, err)
		return finish()
	}

	res.Status = StatusOK
	res.Answer = answer
	res.Relevance = router.OverlapScore(router.Keywords(question), router.Keywords(answer))
	log.Debug("segment answered", "relevance", res.Relevance, "attempts", attempts)
	return finish()
}

func (e *Executor) generate(ctx context.Context, log *slog.Logger, prompt string) (string, int, error) {
	var (
		answer  string
		lastErr error
	)
	for attempt := range e.maxRetries {
		answer, lastErr = e.gen.Generate(ctx, prompt, e.opts)
		if lastErr == nil || !llm.IsRetryable(lastErr) || attempt == e.maxRetries-1 {
			return answer, attempt + 1, lastErr
		}
		log.Warn("retryable generation error", "attempt", attempt, "error", lastErr)
		select {
		case <-time.After(e.backoff(attempt)):
		case <-ctx.Done():
			return "", attempt + 1, ctx.Err()
		}
	}
	return answer, e.maxRetries, lastErr
}

// QueryAll queries every segment and returns results in the order of segs,
// whatever order they complete in. Segments not started before ctx ends are
// reported as cancelled. obs may be nil.
func (e *Executor) QueryAll(ctx context.Context, question string, segs []index.Segment, obs Observer) []Result {
	results := make([]Result, len(segs))
	if len(segs) == 0 {
		return results
	}

	sem := semaphore.NewWeighted(int64(e.concurrency))
	var (
		wg   sync.WaitGroup
		done atomic.Int64
	)
	total := len(segs)
	for i, seg := range segs {
		if err := sem.Acquire(ctx, 1); err != nil {
			for j := i; j < total; j++ {
				results[j] = cancelled(segs[j], e.gen.Name(), err)
			}
			break
		}
		wg.Add(1)
		go func() {
			defer wg.Done()
			defer sem.Release(1)
			results[i] = e.QuerySegment(ctx, question, seg)
			n := int(done.Add(1))
			if obs != nil {
				obs.OnProgress(n, total, fmt.Sprintf("segment %d %s", seg.Number, results[i].Status))
			}
		}()
	}
	wg.Wait()
	return results
}

func cancelled(seg index.Segment, generator string, err error) Result {
	return Result{
		Segment:   seg,
		Generator: generator,
		Status:    StatusFailed,
		Failure:   string(llm.FailureCancelled),
		Answer:    fmt.Sprintf("Query not started: %s", err),
	}
}
