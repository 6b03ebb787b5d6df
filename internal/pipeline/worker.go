package pipeline

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/dgallion1/docquery/internal/synth"
)

// Worker answers the questions of one job at a time.
type Worker struct {
	querier Querier
	log     *slog.Logger
}

func NewWorker(q Querier, log *slog.Logger) *Worker {
	return &Worker{querier: q, log: log}
}

// Process answers every question of job in order. A question whose routed
// segments all failed counts as an error; the job is partial when some
// questions succeeded and failed when none did.
func (w *Worker) Process(ctx context.Context, job *Job) {
	log := w.log.With("job_id", job.ID)
	job.SetStatus(StatusRunning, "answering")

	failed := 0
	for i, q := range job.Questions {
		if err := ctx.Err(); err != nil {
			for j := i; j < len(job.Questions); j++ {
				job.AddError(fmt.Sprintf("question %d: %s", j+1, err))
			}
			failed += len(job.Questions) - i
			log.Warn("batch cancelled", "answered", i, "total", len(job.Questions))
			break
		}

		ans := w.querier.Query(ctx, q, job.opts)
		job.RecordAnswer(i, ans)
		if n := failedQueries(ans); n > 0 && n == len(ans.Results) {
			failed++
			job.AddError(fmt.Sprintf("question %d: all %d segment queries failed", i+1, n))
			log.Error("question failed", "question", i+1, "segments", n)
			continue
		}
		log.Debug("question answered", "question", i+1, "confidence", ans.Confidence)
	}

	switch {
	case failed == 0:
		job.SetStatus(StatusCompleted, "done")
	case failed < len(job.Questions):
		job.SetStatus(StatusPartial, "done")
	default:
		job.SetStatus(StatusFailed, "done")
	}
	log.Info("batch job finished", "questions", len(job.Questions), "failed", failed)
}

func failedQueries(ans synth.Answer) int {
	n := 0
	for _, r := range ans.Results {
		if !r.OK() {
			n++
		}
	}
	return n
}
