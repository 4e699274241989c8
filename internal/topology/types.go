// Package topology executes workflows over a pool of agents under one of
// six coordination strategies. The executor owns strategy dispatch and stage
// settlement; agent records stay in the registry and the actual stage work
// happens behind the Runner interface.
package topology

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
)

// Topology labels the shape a workflow was created with. Hybrid leaves the
// strategy choice entirely to the coordination pattern.
type Topology string

const (
	TopologyHierarchical Topology = "hierarchical"
	TopologyMesh         Topology = "mesh"
	TopologyAdaptive     Topology = "adaptive"
	TopologyHybrid       Topology = "hybrid"
)

func (t Topology) Valid() bool {
	switch t {
	case TopologyHierarchical, TopologyMesh, TopologyAdaptive, TopologyHybrid:
		return true
	}
	return false
}

type WorkflowStatus string

const (
	StatusPending   WorkflowStatus = "pending"
	StatusRunning   WorkflowStatus = "running"
	StatusCompleted WorkflowStatus = "completed"
	StatusFailed    WorkflowStatus = "failed"
	StatusPaused    WorkflowStatus = "paused"
)

// Metrics captures the timing and scoring of a workflow's latest run.
type Metrics struct {
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	DurationMs int64     `json:"duration_ms"`
	Efficiency float64   `json:"efficiency"`
	Quality    float64   `json:"quality"`
}

// Workflow binds an ordered agent list to a named coordination pattern.
// The coordinator owns all status and metrics writes; the executor only
// reads ID and Agents.
type Workflow struct {
	ID        string         `json:"id"`
	Name      string         `json:"name"`
	Topology  Topology       `json:"topology"`
	Agents    []string       `json:"agents"`
	Pattern   string         `json:"pattern"`
	Status    WorkflowStatus `json:"status"`
	Metrics   Metrics        `json:"metrics"`
	CreatedAt time.Time      `json:"created_at"`
}

func NewWorkflow(name string, topo Topology, pattern string, agents []string) *Workflow {
	return &Workflow{
		ID:        uuid.NewString(),
		Name:      name,
		Topology:  topo,
		Agents:    agents,
		Pattern:   pattern,
		Status:    StatusPending,
		CreatedAt: time.Now().UTC(),
	}
}

// StageResult is one settled stage execution. A stage is never re-executed
// within a strategy pass.
type StageResult struct {
	Stage      string  `json:"stage"`
	AgentID    string  `json:"agent_id"`
	Output     string  `json:"output"`
	Quality    float64 `json:"quality"`
	Confidence float64 `json:"confidence"`
	DurationMs int64   `json:"duration_ms"`
}

// WorkflowResult aggregates one workflow run. Iterations is set only by the
// adaptive strategy.
type WorkflowResult struct {
	WorkflowID   string               `json:"workflow_id"`
	Success      bool                 `json:"success"`
	Stages       int                  `json:"stages"`
	Quality      float64              `json:"quality"`
	DurationMs   int64                `json:"duration_ms"`
	Output       string               `json:"output"`
	StageResults []StageResult        `json:"stage_results"`
	Strategy     catalog.Coordination `json:"strategy"`
	Iterations   int                  `json:"iterations,omitempty"`
}

// Outcome is what a runner returns for one stage attempt.
type Outcome struct {
	Output      string   `json:"output"`
	Quality     float64  `json:"quality"`
	Confidence  float64  `json:"confidence"`
	NextActions []string `json:"next_actions,omitempty"`
}

// Runner executes a single stage task on behalf of an agent. The engine
// never looks behind this interface; provider identity, cost and token
// accounting belong to the implementation.
type Runner interface {
	Execute(ctx context.Context, agent *registry.Agent, stageTask string, taskCtx map[string]any) (*Outcome, error)
}

// Publisher receives lifecycle events emitted during a run. Implementations
// must be safe for concurrent use; fan-out strategies publish from multiple
// goroutines.
type Publisher interface {
	PublishEvent(channel string, payload map[string]any)
}
