package store

import (
	"context"
	"fmt"
	"time"
)

// Run statuses. Terminal rows always carry finished_at.
const (
	RunStatusRunning = "running"
	RunStatusSuccess = "success"
	RunStatusError   = "error"
)

// RunStart describes the start record for one job run.
type RunStart struct {
	RunID       string
	Module      string
	Queue       string
	Job         string
	TriggerType string
	TriggerJSON []byte
	StartedAt   time.Time
}

// StartRun creates the running row for a job run and touches the job state's
// lastRunAt. The insert is keyed by run id and does nothing on conflict, so
// duplicate deliveries of the same runId collapse and a terminal row is
// never reset to running.
func (s *Store) StartRun(ctx context.Context, start RunStart) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO job_runs
			(id, module, queue, job, status, trigger_type, trigger_json, started_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO NOTHING`,
		start.RunID, start.Module, start.Queue, start.Job,
		RunStatusRunning, start.TriggerType, start.TriggerJSON, start.StartedAt)
	if err != nil {
		return fmt.Errorf("start run %s: %w", start.RunID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_states (module, job, last_run_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (module, job) DO UPDATE SET last_run_at = EXCLUDED.last_run_at`,
		start.Module, start.Job, start.StartedAt)
	if err != nil {
		return fmt.Errorf("touch job state %s/%s: %w", start.Module, start.Job, err)
	}
	return nil
}

// FinishSuccess transitions a running row to success and refreshes the job
// state. The status guard makes the running-to-terminal transition happen at
// most once.
func (s *Store) FinishSuccess(ctx context.Context, runID, module, job string, finishedAt time.Time, metricsJSON []byte) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		   SET status = $2, finished_at = $3, error = NULL,
		       metrics_json = $4, updated_at = now()
		 WHERE id = $1 AND status = $5`,
		runID, RunStatusSuccess, finishedAt, metricsJSON, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_states (module, job, last_run_at, last_success_at, last_metrics)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (module, job) DO UPDATE SET
			last_run_at     = EXCLUDED.last_run_at,
			last_success_at = EXCLUDED.last_success_at,
			last_error      = NULL,
			last_error_at   = NULL,
			last_metrics    = EXCLUDED.last_metrics`,
		module, job, finishedAt, metricsJSON)
	if err != nil {
		return fmt.Errorf("record success state %s/%s: %w", module, job, err)
	}
	return nil
}

// FinishError transitions a running row to error and records the serialized
// failure on the job state.
func (s *Store) FinishError(ctx context.Context, runID, module, job string, finishedAt time.Time, runErr string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE job_runs
		   SET status = $2, finished_at = $3, error = $4, updated_at = now()
		 WHERE id = $1 AND status = $5`,
		runID, RunStatusError, finishedAt, runErr, RunStatusRunning)
	if err != nil {
		return fmt.Errorf("finish run %s: %w", runID, err)
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO job_states (module, job, last_run_at, last_error_at, last_error)
		VALUES ($1, $2, $3, $3, $4)
		ON CONFLICT (module, job) DO UPDATE SET
			last_run_at   = EXCLUDED.last_run_at,
			last_error_at = EXCLUDED.last_error_at,
			last_error    = EXCLUDED.last_error`,
		module, job, finishedAt, runErr)
	if err != nil {
		return fmt.Errorf("record error state %s/%s: %w", module, job, err)
	}
	return nil
}
