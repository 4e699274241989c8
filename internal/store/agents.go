package store

import (
	"database/sql"
	"encoding/json"
	"fmt"
	"time"
)

// Agent is the persisted snapshot of a registry agent.
type Agent struct {
	ID             string     `json:"id"`
	Type           string     `json:"type"`
	Role           string     `json:"role"`
	Capabilities   []string   `json:"capabilities,omitempty"`
	Status         string     `json:"status"`
	TasksCompleted int        `json:"tasks_completed"`
	AverageQuality float64    `json:"average_quality"`
	SuccessRate    float64    `json:"success_rate"`
	AvgResponseMs  float64    `json:"avg_response_ms"`
	LastHeartbeat  *time.Time `json:"last_heartbeat,omitempty"`
	LastActivity   *time.Time `json:"last_activity,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

const agentColumns = `id, type, role, capabilities, status, tasks_completed,
	average_quality, success_rate, avg_response_ms, last_heartbeat, last_activity,
	created_at, updated_at`

func scanAgent(sc scanner) (*Agent, error) {
	a := &Agent{}
	var caps sql.NullString
	err := sc.Scan(&a.ID, &a.Type, &a.Role, &caps, &a.Status, &a.TasksCompleted,
		&a.AverageQuality, &a.SuccessRate, &a.AvgResponseMs, &a.LastHeartbeat, &a.LastActivity,
		&a.CreatedAt, &a.UpdatedAt)
	if err != nil {
		return nil, err
	}
	if caps.Valid && caps.String != "" {
		if err := json.Unmarshal([]byte(caps.String), &a.Capabilities); err != nil {
			return nil, fmt.Errorf("decode capabilities: %w", err)
		}
	}
	return a, nil
}

func (s *Store) SaveAgent(a *Agent) error {
	caps, err := json.Marshal(a.Capabilities)
	if err != nil {
		return fmt.Errorf("encode capabilities: %w", err)
	}
	_, err = s.db.Exec(`
		INSERT INTO agents (id, type, role, capabilities, status, tasks_completed,
			average_quality, success_rate, avg_response_ms, last_heartbeat, last_activity)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			status = excluded.status,
			tasks_completed = excluded.tasks_completed,
			average_quality = excluded.average_quality,
			success_rate = excluded.success_rate,
			avg_response_ms = excluded.avg_response_ms,
			last_heartbeat = excluded.last_heartbeat,
			last_activity = excluded.last_activity,
			updated_at = CURRENT_TIMESTAMP`,
		a.ID, a.Type, a.Role, string(caps), a.Status, a.TasksCompleted,
		a.AverageQuality, a.SuccessRate, a.AvgResponseMs, a.LastHeartbeat, a.LastActivity)
	if err != nil {
		return fmt.Errorf("save agent: %w", err)
	}
	return nil
}

func (s *Store) GetAgent(id string) (*Agent, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get agent: %w", err)
	}
	return a, nil
}

func (s *Store) ListAgents() ([]Agent, error) {
	rows, err := s.db.Query(`SELECT ` + agentColumns + ` FROM agents ORDER BY created_at`)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent: %w", err)
		}
		agents = append(agents, *a)
	}
	return agents, rows.Err()
}
