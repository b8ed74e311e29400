package jobs

import (
	"fmt"
	"log/slog"
)

// Job is a scheduled background task.
type Job interface {
	Name() string
	Start() error
	Stop()
}

// JobManager coordinates all scheduled jobs in the process.
type JobManager struct {
	jobs    []Job
	started []Job
	logger  *slog.Logger
}

func NewJobManager(logger *slog.Logger, jobs ...Job) *JobManager {
	if logger == nil {
		logger = slog.Default()
	}
	return &JobManager{jobs: jobs, logger: logger.With("component", "job_manager")}
}

// StartAll starts every job. If one fails, those already started are stopped.
func (jm *JobManager) StartAll() error {
	for _, job := range jm.jobs {
		if err := job.Start(); err != nil {
			jm.StopAll()
			return fmt.Errorf("start job %s: %w", job.Name(), err)
		}
		jm.started = append(jm.started, job)
	}
	jm.logger.Info("all jobs started", "count", len(jm.started))
	return nil
}

// StopAll stops started jobs in reverse order.
func (jm *JobManager) StopAll() {
	for i := len(jm.started) - 1; i >= 0; i-- {
		jm.started[i].Stop()
	}
	jm.started = nil
}
