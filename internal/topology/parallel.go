package topology

import (
	"context"
	"errors"
	"sync"

	"github.com/vtkrishna/kypseli/internal/catalog"
)

// runParallel executes every stage concurrently against the same, unmodified
// context and joins them all. Any failure fails the workflow, carrying the
// stage results that did complete.
func (e *Executor) runParallel(ctx context.Context, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type slot struct {
		res *StageResult
		err error
	}
	slots := make([]slot, len(pat.Stages))

	var wg sync.WaitGroup
	for i, stage := range pat.Stages {
		wg.Add(1)
		go func(i int, stage string) {
			defer wg.Done()
			res, err := e.executeStage(ctx, wf.ID, stage, assignAgent(stage, wf.Agents), stageTask(stage, task), taskCtx)
			slots[i] = slot{res: res, err: err}
		}(i, stage)
	}
	wg.Wait()

	completed := make([]StageResult, 0, len(slots))
	var firstErr error
	for _, s := range slots {
		if s.err != nil {
			if firstErr == nil {
				firstErr = s.err
			}
			continue
		}
		completed = append(completed, *s.res)
	}
	if firstErr != nil {
		var execErr *TaskExecutionError
		if errors.As(firstErr, &execErr) {
			execErr.Partial = completed
		}
		return nil, firstErr
	}

	res := aggregate(wf.ID, catalog.Parallel, completed)
	res.Output = mergeOutputs(completed)
	return res, nil
}
