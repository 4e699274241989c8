package topology

import (
	"context"
	"sync"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
)

// runMesh has every agent attempt the whole task concurrently and merges the
// contributions that come back into a consensus output. An agent whose id no
// longer resolves, or whose attempt fails, contributes nothing; a missing
// contribution never fails the workflow. All contributions missing is still
// a success, with zero stages and zero quality.
func (e *Executor) runMesh(ctx context.Context, wf *Workflow, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	contributions := make([]*StageResult, len(wf.Agents))
	var wg sync.WaitGroup
	for i, id := range wf.Agents {
		agent, ok := e.registry.Get(id)
		if !ok {
			continue
		}
		wg.Add(1)
		go func(i int, agent *registry.Agent) {
			defer wg.Done()
			res, err := e.invoke(ctx, wf.ID, agent.Type, agent, task, taskCtx)
			if err != nil {
				return
			}
			contributions[i] = res
		}(i, agent)
	}
	wg.Wait()

	settled := make([]StageResult, 0, len(contributions))
	for _, c := range contributions {
		if c != nil {
			settled = append(settled, *c)
		}
	}

	res := aggregate(wf.ID, catalog.Mesh, settled)
	res.Output = mergeOutputs(settled)
	return res, nil
}
