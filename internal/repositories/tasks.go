package repositories

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/MXC1/spotiseek/internal/models"
)

// TaskRepository persists scheduler bookkeeping: one state row per task
// and an append-only run history.
type TaskRepository struct {
	db *sql.DB
}

func NewTaskRepository(db *sql.DB) *TaskRepository {
	return &TaskRepository{db: db}
}

// GetState fetches a task's state row; returns nil when the task has
// never run.
func (r *TaskRepository) GetState(ctx context.Context, taskName string) (*models.TaskState, error) {
	row := r.db.QueryRowContext(ctx, `
		SELECT task_name, last_run_at, last_success_at, last_status, running
		FROM task_state WHERE task_name = ?
	`, taskName)

	var state models.TaskState
	err := row.Scan(&state.TaskName, &state.LastRunAt, &state.LastSuccessAt, &state.LastStatus, &state.Running)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, fmt.Errorf("failed to get task state: %w", err)
	}
	return &state, nil
}

// ListStates returns all recorded task states keyed by task name.
func (r *TaskRepository) ListStates(ctx context.Context) (map[string]models.TaskState, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT task_name, last_run_at, last_success_at, last_status, running FROM task_state")
	if err != nil {
		return nil, fmt.Errorf("failed to list task states: %w", err)
	}
	defer rows.Close()

	states := make(map[string]models.TaskState)
	for rows.Next() {
		var state models.TaskState
		if err := rows.Scan(&state.TaskName, &state.LastRunAt, &state.LastSuccessAt, &state.LastStatus, &state.Running); err != nil {
			return nil, fmt.Errorf("failed to scan task state: %w", err)
		}
		states[state.TaskName] = state
	}
	return states, rows.Err()
}

// HasSucceeded reports whether the task has any recorded success.
func (r *TaskRepository) HasSucceeded(ctx context.Context, taskName string) (bool, error) {
	state, err := r.GetState(ctx, taskName)
	if err != nil {
		return false, err
	}
	return state != nil && state.LastSuccessAt.Valid, nil
}

// RecordStart inserts a running task_runs row and flags the state row as
// running. Returns the run id for [TaskRepository.RecordCompletion].
func (r *TaskRepository) RecordStart(ctx context.Context, taskName string) (int64, error) {
	result, err := r.db.ExecContext(ctx,
		"INSERT INTO task_runs (task_name, status) VALUES (?, 'running')", taskName)
	if err != nil {
		return 0, fmt.Errorf("failed to record task start: %w", err)
	}

	runID, err := result.LastInsertId()
	if err != nil {
		return 0, err
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO task_state (task_name, last_run_at, running) VALUES (?, CURRENT_TIMESTAMP, 1)
		ON CONFLICT (task_name) DO UPDATE SET last_run_at = CURRENT_TIMESTAMP, running = 1
	`, taskName)
	if err != nil {
		return 0, fmt.Errorf("failed to update task state: %w", err)
	}

	return runID, nil
}

// RecordCompletion closes a run and updates the state row.
// last_success_at only advances on success.
func (r *TaskRepository) RecordCompletion(ctx context.Context, runID int64, taskName string, success bool, errMsg string, tracksProcessed int) error {
	status := "succeeded"
	if !success {
		status = "failed"
	}

	var errValue any
	if errMsg != "" {
		errValue = errMsg
	}

	_, err := r.db.ExecContext(ctx, `
		UPDATE task_runs
		SET completed_at = CURRENT_TIMESTAMP, status = ?, error = ?, tracks_processed = ?
		WHERE id = ?
	`, status, errValue, tracksProcessed, runID)
	if err != nil {
		return fmt.Errorf("failed to record task completion: %w", err)
	}

	if success {
		_, err = r.db.ExecContext(ctx, `
			UPDATE task_state
			SET last_success_at = CURRENT_TIMESTAMP, last_status = ?, running = 0
			WHERE task_name = ?
		`, status, taskName)
	} else {
		_, err = r.db.ExecContext(ctx, `
			UPDATE task_state SET last_status = ?, running = 0 WHERE task_name = ?
		`, status, taskName)
	}
	if err != nil {
		return fmt.Errorf("failed to update task state: %w", err)
	}

	return nil
}

// RecentRuns returns the newest run rows for a task, newest first.
func (r *TaskRepository) RecentRuns(ctx context.Context, taskName string, limit int) ([]models.TaskRun, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, task_name, started_at, completed_at, status, error, tracks_processed
		FROM task_runs WHERE task_name = ?
		ORDER BY started_at DESC, id DESC LIMIT ?
	`, taskName, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list task runs: %w", err)
	}
	defer rows.Close()

	var runs []models.TaskRun
	for rows.Next() {
		var run models.TaskRun
		if err := rows.Scan(&run.ID, &run.TaskName, &run.StartedAt, &run.CompletedAt, &run.Status, &run.Error, &run.TracksProcessed); err != nil {
			return nil, fmt.Errorf("failed to scan task run: %w", err)
		}
		runs = append(runs, run)
	}
	return runs, rows.Err()
}
