package topology

import (
	"context"
	"strings"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
)

// Scoring weights for the queen's delegation plan.
const (
	capabilityWeight  = 0.40
	loadWeight        = 0.25
	performanceWeight = 0.20
	healthWeight      = 0.15
)

// runHierarchical requires exactly one queen among the workflow's agents.
// The queen computes the full delegation plan before any stage executes;
// the plan then runs with the same merge and abort semantics as linear.
func (e *Executor) runHierarchical(ctx context.Context, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	agents := e.registry.ListByIDs(wf.Agents)

	var queen *registry.Agent
	workers := make([]*registry.Agent, 0, len(agents))
	for _, a := range agents {
		if a.Role == registry.RoleQueen {
			if queen != nil {
				return nil, &ConfigurationError{Reason: "multiple queen agents found"}
			}
			queen = a
			continue
		}
		workers = append(workers, a)
	}
	if queen == nil {
		return nil, &ConfigurationError{Reason: "no queen agent found"}
	}

	plan := delegationPlan(pat.Stages, queen, workers)
	return e.runSequence(ctx, wf.ID, catalog.Hierarchical, plan, task, taskCtx)
}

// delegationPlan assigns every stage up front. Workers are scored on
// capability fit, current load, past performance and health; ties go to the
// worker that appears earlier in the workflow's agent list. The queen takes
// stages itself only when it has no workers.
func delegationPlan(stages []string, queen *registry.Agent, workers []*registry.Agent) []assignment {
	plan := make([]assignment, 0, len(stages))
	for _, stage := range stages {
		best := queen
		if len(workers) > 0 {
			best = workers[0]
			bestScore := delegationScore(workers[0], stage)
			for _, w := range workers[1:] {
				if s := delegationScore(w, stage); s > bestScore {
					best, bestScore = w, s
				}
			}
		}
		plan = append(plan, assignment{stage: stage, agentID: best.ID})
	}
	return plan
}

func delegationScore(a *registry.Agent, stage string) float64 {
	return capabilityWeight*capabilityScore(a, stage) +
		loadWeight*loadScore(a.Status) +
		performanceWeight*performanceScore(a.Performance) +
		healthWeight*healthScore(a.Status)
}

// capabilityScore is 1 when any declared capability matches the stage name,
// by equality or substring in either direction.
func capabilityScore(a *registry.Agent, stage string) float64 {
	s := strings.ToLower(stage)
	for _, c := range a.Capabilities {
		c = strings.ToLower(c)
		if c == s || strings.Contains(s, c) || strings.Contains(c, s) {
			return 1
		}
	}
	return 0
}

func loadScore(s registry.Status) float64 {
	switch s {
	case registry.StatusIdle:
		return 1.0
	case registry.StatusActive:
		return 0.7
	case registry.StatusBusy:
		return 0.3
	}
	return 0
}

// performanceScore blends success rate and average quality. Agents with no
// history score a flat 0.8.
func performanceScore(p registry.Performance) float64 {
	if p.TasksCompleted == 0 {
		return 0.8
	}
	return (p.SuccessRate + p.AverageQuality) / 2
}

func healthScore(s registry.Status) float64 {
	if s == registry.StatusOffline {
		return 0
	}
	return 1
}
