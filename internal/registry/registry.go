package registry

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

type Role string

const (
	RoleQueen       Role = "queen"
	RoleWorker      Role = "worker"
	RoleCoordinator Role = "coordinator"
	RoleSpecialist  Role = "specialist"
)

type Status string

const (
	StatusActive  Status = "active"
	StatusIdle    Status = "idle"
	StatusBusy    Status = "busy"
	StatusOffline Status = "offline"
)

// Performance tracks running means over an agent's completed tasks.
type Performance struct {
	TasksCompleted int     `json:"tasks_completed"`
	AverageQuality float64 `json:"average_quality"`
	SuccessRate    float64 `json:"success_rate"`
	AvgResponseMs  float64 `json:"avg_response_ms"`
}

type Agent struct {
	ID            string      `json:"id"`
	Type          string      `json:"type"`
	Role          Role        `json:"role"`
	Capabilities  []string    `json:"capabilities,omitempty"`
	Status        Status      `json:"status"`
	Performance   Performance `json:"performance"`
	LastHeartbeat time.Time   `json:"last_heartbeat"`
	LastActivity  time.Time   `json:"last_activity"`
	SpawnedAt     time.Time   `json:"spawned_at"`
}

// Spec describes an agent to spawn.
type Spec struct {
	Type         string   `json:"type"`
	Role         Role     `json:"role"`
	Capabilities []string `json:"capabilities,omitempty"`
}

// Completion is one finished task attempt by an agent.
type Completion struct {
	DurationMs int64   `json:"duration_ms"`
	Quality    float64 `json:"quality"`
	Success    bool    `json:"success"`
}

// Registry owns every agent record. Other components hold agent ids and
// read snapshots; all mutation happens here, under one lock, so concurrent
// stage completions against the same agent never lose updates.
type Registry struct {
	mu     sync.RWMutex
	agents map[string]*Agent
	order  []string
}

func New() *Registry {
	return &Registry{
		agents: make(map[string]*Agent),
	}
}

// Spawn creates a new agent. Two spawns with identical specs yield two
// distinct agents.
func (r *Registry) Spawn(spec Spec) *Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	a := &Agent{
		ID:           uuid.NewString(),
		Type:         spec.Type,
		Role:         spec.Role,
		Capabilities: append([]string(nil), spec.Capabilities...),
		Status:       StatusActive,
		SpawnedAt:    time.Now(),
	}
	r.agents[a.ID] = a
	r.order = append(r.order, a.ID)
	return snapshot(a)
}

// Get returns a snapshot of the agent, or false when the id is unknown.
// Absence is not an error at this level; callers decide fatality.
func (r *Registry) Get(id string) (*Agent, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}
	return snapshot(a), true
}

// ListByIDs returns snapshots for the ids that exist, silently skipping
// the rest.
func (r *Registry) ListByIDs(ids []string) []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(ids))
	for _, id := range ids {
		if a, ok := r.agents[id]; ok {
			out = append(out, snapshot(a))
		}
	}
	return out
}

// List returns all agents in spawn order.
func (r *Registry) List() []*Agent {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, snapshot(r.agents[id]))
	}
	return out
}

func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.agents)
}

// RecordCompletion folds one task attempt into the agent's running means
// and returns the updated snapshot. The mean uses the post-increment count:
// newMean = (oldMean*(n-1) + x) / n.
func (r *Registry) RecordCompletion(id string, c Completion) (*Agent, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return nil, false
	}

	a.Performance.TasksCompleted++
	n := float64(a.Performance.TasksCompleted)
	a.Performance.AverageQuality = runningMean(a.Performance.AverageQuality, c.Quality, n)
	a.Performance.AvgResponseMs = runningMean(a.Performance.AvgResponseMs, float64(c.DurationMs), n)
	success := 0.0
	if c.Success {
		success = 1.0
	}
	a.Performance.SuccessRate = runningMean(a.Performance.SuccessRate, success, n)
	a.Status = StatusIdle
	a.LastActivity = time.Now()
	return snapshot(a), true
}

// SetStatus updates an agent's status, reporting whether the id exists.
func (r *Registry) SetStatus(id string, status Status) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	a, ok := r.agents[id]
	if !ok {
		return false
	}
	a.Status = status
	return true
}

// HeartbeatAll stamps every agent and returns the snapshots, so the bus
// can emit one heartbeat message per agent.
func (r *Registry) HeartbeatAll() []*Agent {
	r.mu.Lock()
	defer r.mu.Unlock()

	now := time.Now()
	out := make([]*Agent, 0, len(r.order))
	for _, id := range r.order {
		a := r.agents[id]
		a.LastHeartbeat = now
		out = append(out, snapshot(a))
	}
	return out
}

// SweepIdle marks agents offline when they have been workless past the
// cutoff. Busy and already-offline agents are skipped. Returns the ids
// swept this pass.
func (r *Registry) SweepIdle(idleFor time.Duration) []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	cutoff := time.Now().Add(-idleFor)
	var swept []string
	for _, id := range r.order {
		a := r.agents[id]
		if a.Status == StatusBusy || a.Status == StatusOffline {
			continue
		}
		last := a.LastActivity
		if last.IsZero() {
			last = a.SpawnedAt
		}
		if last.Before(cutoff) {
			a.Status = StatusOffline
			swept = append(swept, id)
		}
	}
	return swept
}

func runningMean(old, x, n float64) float64 {
	return (old*(n-1) + x) / n
}

func snapshot(a *Agent) *Agent {
	cp := *a
	cp.Capabilities = append([]string(nil), a.Capabilities...)
	return &cp
}
