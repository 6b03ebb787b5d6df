package pipeline

import (
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dgallion1/docquery/internal/engine"
	"github.com/dgallion1/docquery/internal/synth"
)

// JobStatus represents the state of a batch question job.
type JobStatus string

const (
	StatusQueued    JobStatus = "queued"
	StatusRunning   JobStatus = "running"
	StatusCompleted JobStatus = "completed"
	StatusPartial   JobStatus = "partial"
	StatusFailed    JobStatus = "failed"
)

// Job tracks one batch of questions answered against the loaded document.
type Job struct {
	mu sync.Mutex

	ID     string    `json:"job_id"`
	Status JobStatus `json:"status"`
	Phase  string    `json:"phase"`

	Questions []string `json:"questions"`
	Progress  Progress `json:"progress"`

	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`

	// Internal: not serialized.
	opts    engine.QueryOptions
	answers []*synth.Answer
	errors  []string
}

// Progress tracks processing progress.
type Progress struct {
	TotalQuestions    int      `json:"total_questions"`
	QuestionsAnswered int      `json:"questions_answered"`
	Errors            []string `json:"errors"`
}

// NewJob creates a queued job for questions.
func NewJob(questions []string, opts engine.QueryOptions) *Job {
	now := time.Now()
	return &Job{
		ID:        uuid.NewString(),
		Status:    StatusQueued,
		Phase:     "queued",
		Questions: questions,
		Progress:  Progress{TotalQuestions: len(questions)},
		CreatedAt: now,
		UpdatedAt: now,
		opts:      opts,
		answers:   make([]*synth.Answer, len(questions)),
	}
}

// JobStore is a thread-safe in-memory job registry with TTL eviction.
type JobStore struct {
	mu   sync.Mutex
	jobs map[string]*Job
	ttl  time.Duration
}

func NewJobStore(ttl time.Duration) *JobStore {
	return &JobStore{
		jobs: make(map[string]*Job),
		ttl:  ttl,
	}
}

func (s *JobStore) Put(job *Job) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.jobs[job.ID] = job
}

func (s *JobStore) Get(id string) *Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.jobs[id]
}

// Len returns the number of tracked jobs.
func (s *JobStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.jobs)
}

// Cleanup removes expired jobs.
func (s *JobStore) Cleanup() {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now()
	for id, job := range s.jobs {
		job.mu.Lock()
		updated := job.UpdatedAt
		job.mu.Unlock()
		if now.Sub(updated) > s.ttl {
			delete(s.jobs, id)
		}
	}
}

// SetStatus updates job status atomically.
func (j *Job) SetStatus(status JobStatus, phase string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.Status = status
	j.Phase = phase
	j.UpdatedAt = time.Now()
}

// AddError records an error.
func (j *Job) AddError(err string) {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.errors = append(j.errors, err)
	j.Progress.Errors = j.errors
	j.UpdatedAt = time.Now()
}

// RecordAnswer stores the answer for question i and counts it.
func (j *Job) RecordAnswer(i int, ans synth.Answer) {
	j.mu.Lock()
	defer j.mu.Unlock()
	if i < 0 || i >= len(j.answers) {
		return
	}
	if j.answers[i] == nil {
		j.Progress.QuestionsAnswered++
	}
	j.answers[i] = &ans
	j.UpdatedAt = time.Now()
}

// JobSnapshot is a read-only, JSON-safe copy of job state. Answers holds
// one entry per question; unanswered questions are null.
type JobSnapshot struct {
	ID        string          `json:"job_id"`
	Status    JobStatus       `json:"status"`
	Phase     string          `json:"phase"`
	Questions []string        `json:"questions"`
	Progress  Progress        `json:"progress"`
	Answers   []*synth.Answer `json:"answers"`
	CreatedAt time.Time       `json:"created_at"`
	UpdatedAt time.Time       `json:"updated_at"`
}

// Snapshot returns a JSON-safe copy of the job state.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.Lock()
	defer j.mu.Unlock()
	errs := append([]string{}, j.Progress.Errors...)
	questions := append([]string{}, j.Questions...)
	answers := make([]*synth.Answer, len(j.answers))
	copy(answers, j.answers)
	return JobSnapshot{
		ID:        j.ID,
		Status:    j.Status,
		Phase:     j.Phase,
		Questions: questions,
		Progress: Progress{
			TotalQuestions:    j.Progress.TotalQuestions,
			QuestionsAnswered: j.Progress.QuestionsAnswered,
			Errors:            errs,
		},
		Answers:   answers,
		CreatedAt: j.CreatedAt,
		UpdatedAt: j.UpdatedAt,
	}
}
