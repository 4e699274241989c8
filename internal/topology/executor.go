package topology

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
)

// DefaultStageBudget is the per-stage latency budget used when none is
// configured. Efficiency scoring compares elapsed time against it.
const DefaultStageBudget = 2 * time.Second

// Executor runs workflows under the strategy named by their coordination
// pattern.
type Executor struct {
	registry    *registry.Registry
	runner      Runner
	events      Publisher
	stageBudget time.Duration
}

func NewExecutor(reg *registry.Registry, r Runner, events Publisher, stageBudget time.Duration) *Executor {
	if stageBudget <= 0 {
		stageBudget = DefaultStageBudget
	}
	return &Executor{
		registry:    reg,
		runner:      r,
		events:      events,
		stageBudget: stageBudget,
	}
}

// Run executes one workflow pass under the pattern's coordination kind and
// returns the aggregated result. Workflow status bookkeeping belongs to the
// caller; Run only reads the workflow. The coordination enum is closed, an
// unknown kind is a ConfigurationError, never a silent fallback.
func (e *Executor) Run(ctx context.Context, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	if len(wf.Agents) == 0 {
		return nil, &ConfigurationError{Reason: "workflow has no agents"}
	}

	switch pat.Coordination {
	case catalog.Linear, catalog.Parallel, catalog.Hierarchical:
		return e.runStrategy(ctx, pat.Coordination, wf, pat, task, taskCtx)
	case catalog.Mesh:
		return e.runMesh(ctx, wf, task, taskCtx)
	case catalog.Adaptive:
		return e.runAdaptive(ctx, wf, pat, task, taskCtx)
	case catalog.Swarm:
		return e.runSwarm(ctx, wf, task, taskCtx)
	}
	return nil, &ConfigurationError{Reason: fmt.Sprintf("unsupported coordination kind %q", pat.Coordination)}
}

// runStrategy dispatches the three strategies the adaptive controller may
// also pick between iterations.
func (e *Executor) runStrategy(ctx context.Context, kind catalog.Coordination, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	switch kind {
	case catalog.Linear:
		return e.runLinear(ctx, wf, pat, task, taskCtx)
	case catalog.Parallel:
		return e.runParallel(ctx, wf, pat, task, taskCtx)
	case catalog.Hierarchical:
		return e.runHierarchical(ctx, wf, pat, task, taskCtx)
	}
	return nil, &ConfigurationError{Reason: fmt.Sprintf("coordination kind %q cannot be nested", kind)}
}

// executeStage resolves the assigned agent and runs one stage. Absence of
// the agent is fatal here; strategies that tolerate it resolve on their own.
func (e *Executor) executeStage(ctx context.Context, workflowID, stage, agentID, task string, taskCtx map[string]any) (*StageResult, error) {
	agent, ok := e.registry.Get(agentID)
	if !ok {
		return nil, &AgentNotFoundError{ID: agentID}
	}
	return e.invoke(ctx, workflowID, stage, agent, task, taskCtx)
}

// invoke runs a single runner call for an already-resolved agent, records
// the completion against the registry and publishes the stage events.
func (e *Executor) invoke(ctx context.Context, workflowID, stage string, agent *registry.Agent, task string, taskCtx map[string]any) (*StageResult, error) {
	e.registry.SetStatus(agent.ID, registry.StatusBusy)

	start := time.Now()
	out, err := e.runner.Execute(ctx, agent, task, taskCtx)
	elapsed := time.Since(start).Milliseconds()

	if err != nil {
		updated, _ := e.registry.RecordCompletion(agent.ID, registry.Completion{DurationMs: elapsed, Success: false})
		payload := map[string]any{
			"type":     "stage-failed",
			"agent_id": agent.ID,
			"task":     task,
			"error":    err.Error(),
		}
		if updated != nil {
			payload["performance"] = updated.Performance
		}
		e.publish("hive-update", payload)
		return nil, &TaskExecutionError{Stage: stage, AgentID: agent.ID, Err: err}
	}

	updated, _ := e.registry.RecordCompletion(agent.ID, registry.Completion{DurationMs: elapsed, Quality: out.Quality, Success: true})

	res := &StageResult{
		Stage:      stage,
		AgentID:    agent.ID,
		Output:     out.Output,
		Quality:    out.Quality,
		Confidence: out.Confidence,
		DurationMs: elapsed,
	}

	e.publish("stage-completed", map[string]any{
		"workflow_id": workflowID,
		"stage":       stage,
		"agent_id":    agent.ID,
		"result":      res,
	})
	payload := map[string]any{
		"type":     "stage-completed",
		"agent_id": agent.ID,
		"task":     task,
		"result":   out.Output,
	}
	if updated != nil {
		payload["performance"] = updated.Performance
	}
	e.publish("hive-update", payload)

	return res, nil
}

func (e *Executor) publish(channel string, payload map[string]any) {
	if e.events == nil {
		return
	}
	e.events.PublishEvent(channel, payload)
}

// aggregate folds settled stage results into a workflow result: quality is
// the mean over stages, duration the sum. Output defaults to the last
// stage's output; fan-out strategies overwrite it with a merged view.
func aggregate(workflowID string, strategy catalog.Coordination, results []StageResult) *WorkflowResult {
	res := &WorkflowResult{
		WorkflowID:   workflowID,
		Success:      true,
		Stages:       len(results),
		Strategy:     strategy,
		StageResults: results,
	}
	if len(results) == 0 {
		return res
	}

	var quality float64
	for _, r := range results {
		quality += r.Quality
		res.DurationMs += r.DurationMs
	}
	res.Quality = quality / float64(len(results))
	res.Output = results[len(results)-1].Output
	return res
}

func mergeOutputs(results []StageResult) string {
	var sb strings.Builder
	for _, r := range results {
		if r.Output == "" {
			continue
		}
		fmt.Fprintf(&sb, "### %s\n\n%s\n\n", r.Stage, r.Output)
	}
	return strings.TrimSpace(sb.String())
}
