package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

type Workflow struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Topology   string     `json:"topology"`
	Pattern    string     `json:"pattern"`
	Agents     []string   `json:"agents"`
	Status     string     `json:"status"`
	Quality    float64    `json:"quality"`
	Efficiency float64    `json:"efficiency"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`
	DurationMs *int64     `json:"duration_ms,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
}

// WorkflowRun is one execution of a workflow against a task.
type WorkflowRun struct {
	ID           string          `json:"id"`
	WorkflowID   string          `json:"workflow_id"`
	Task         string          `json:"task"`
	Strategy     string          `json:"strategy,omitempty"`
	Success      bool            `json:"success"`
	Stages       int             `json:"stages"`
	Quality      float64         `json:"quality"`
	DurationMs   int64           `json:"duration_ms"`
	Output       string          `json:"output,omitempty"`
	StageResults json.RawMessage `json:"stage_results,omitempty"`
	Error        string          `json:"error,omitempty"`
	StartedAt    time.Time       `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at,omitempty"`
}

const workflowColumns = `id, name, topology, pattern, agents, status, quality,
	efficiency, started_at, ended_at, duration_ms, created_at, updated_at`

func scanWorkflow(sc scanner) (*Workflow, error) {
	w := &Workflow{}
	var agents string
	err := sc.Scan(&w.ID, &w.Name, &w.Topology, &w.Pattern, &agents, &w.Status, &w.Quality,
		&w.Efficiency, &w.StartedAt, &w.EndedAt, &w.DurationMs, &w.CreatedAt, &w.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(agents), &w.Agents); err != nil {
		return nil, fmt.Errorf("decode agents: %w", err)
	}
	return w, nil
}

func (s *Store) SaveWorkflow(w *Workflow) error {
	agents, err := json.Marshal(w.Agents)
	if err != nil {
		return fmt.Errorf("encode agents: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO workflows (id, name, topology, pattern, agents, status, quality,
			efficiency, started_at, ended_at, duration_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			quality = excluded.quality,
			efficiency = excluded.efficiency,
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			duration_ms = excluded.duration_ms,
			updated_at = CURRENT_TIMESTAMP`,
		w.ID, w.Name, w.Topology, w.Pattern, string(agents), w.Status, w.Quality,
		w.Efficiency, w.StartedAt, w.EndedAt, w.DurationMs)
	if err != nil {
		return fmt.Errorf("save workflow: %w", err)
	}
	return nil
}

func (s *Store) GetWorkflow(id string) (*Workflow, error) {
	row := s.db.QueryRow(`SELECT `+workflowColumns+` FROM workflows WHERE id = ?`, id)
	w, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get workflow: %w", err)
	}
	return w, nil
}

func (s *Store) ListWorkflows() ([]Workflow, error) {
	rows, err := s.db.Query(`SELECT ` + workflowColumns + ` FROM workflows ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list workflows: %w", err)
	}
	defer rows.Close()

	var workflows []Workflow
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return nil, fmt.Errorf("scan workflow: %w", err)
		}
		workflows = append(workflows, *w)
	}
	return workflows, rows.Err()
}

const runColumns = `id, workflow_id, task, strategy, success, stages, quality,
	duration_ms, output, stage_results, error, started_at, completed_at`

func scanRun(sc scanner) (*WorkflowRun, error) {
	r := &WorkflowRun{}
	var strategy, output, stageResults, runErr sql.NullString
	err := sc.Scan(&r.ID, &r.WorkflowID, &r.Task, &strategy, &r.Success, &r.Stages, &r.Quality,
		&r.DurationMs, &output, &stageResults, &runErr, &r.StartedAt, &r.CompletedAt)
	if err != nil {
		return nil, err
	}
	r.Strategy = strategy.String
	r.Output = output.String
	r.Error = runErr.String
	if stageResults.Valid && stageResults.String != "" {
		r.StageResults = json.RawMessage(stageResults.String)
	}
	return r, nil
}

func (s *Store) SaveRun(r *WorkflowRun) error {
	_, err := s.db.Exec(`
		INSERT INTO workflow_runs (id, workflow_id, task, strategy, success, stages,
			quality, duration_ms, output, stage_results, error)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			strategy = excluded.strategy,
			success = excluded.success,
			stages = excluded.stages,
			quality = excluded.quality,
			duration_ms = excluded.duration_ms,
			output = excluded.output,
			stage_results = excluded.stage_results,
			error = excluded.error,
			completed_at = CURRENT_TIMESTAMP`,
		r.ID, r.WorkflowID, r.Task, r.Strategy, boolToInt(r.Success), r.Stages,
		r.Quality, r.DurationMs, r.Output, nullableRaw(r.StageResults), r.Error)
	if err != nil {
		return fmt.Errorf("save run: %w", err)
	}
	return nil
}

func (s *Store) GetRun(id string) (*WorkflowRun, error) {
	row := s.db.QueryRow(`SELECT `+runColumns+` FROM workflow_runs WHERE id = ?`, id)
	r, err := scanRun(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get run: %w", err)
	}
	return r, nil
}

func (s *Store) ListRuns(workflowID string) ([]WorkflowRun, error) {
	rows, err := s.db.Query(`SELECT `+runColumns+` FROM workflow_runs
		WHERE workflow_id = ? ORDER BY started_at`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	defer rows.Close()

	var runs []WorkflowRun
	for rows.Next() {
		r, err := scanRun(rows)
		if err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		runs = append(runs, *r)
	}
	return runs, rows.Err()
}

func nullableRaw(raw json.RawMessage) any {
	if len(raw) == 0 {
		return nil
	}
	return string(raw)
}
