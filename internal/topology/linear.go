package topology

import (
	"context"

	"github.com/vtkrishna/kypseli/internal/catalog"
)

// assignAgent maps a stage onto one of the workflow's agents by summing the
// byte values of the stage name modulo the agent count. The same stage
// always lands on the same agent for a given agent list.
func assignAgent(stage string, agents []string) string {
	sum := 0
	for i := 0; i < len(stage); i++ {
		sum += int(stage[i])
	}
	return agents[sum%len(agents)]
}

func stageTask(stage, task string) string {
	return stage + ": " + task
}

type assignment struct {
	stage   string
	agentID string
}

func (e *Executor) runLinear(ctx context.Context, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	plan := make([]assignment, 0, len(pat.Stages))
	for _, stage := range pat.Stages {
		plan = append(plan, assignment{stage: stage, agentID: assignAgent(stage, wf.Agents)})
	}
	return e.runSequence(ctx, wf.ID, catalog.Linear, plan, task, taskCtx)
}

// runSequence executes a stage plan in order, merging every stage's output
// into the context under the stage name so that later stages observe all
// earlier outputs. The first failure aborts the rest of the plan. The
// caller's context map is never mutated.
func (e *Executor) runSequence(ctx context.Context, workflowID string, strategy catalog.Coordination, plan []assignment, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	stageCtx := make(map[string]any, len(taskCtx)+len(plan))
	for k, v := range taskCtx {
		stageCtx[k] = v
	}

	results := make([]StageResult, 0, len(plan))
	for _, a := range plan {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		res, err := e.executeStage(ctx, workflowID, a.stage, a.agentID, stageTask(a.stage, task), stageCtx)
		if err != nil {
			return nil, err
		}
		stageCtx[a.stage] = res.Output
		results = append(results, *res)
	}
	return aggregate(workflowID, strategy, results), nil
}
