package topology

import (
	"context"
	"fmt"
	"math"
	"sort"
	"strings"
	"sync"

	"github.com/vtkrishna/kypseli/internal/catalog"
)

// Approach directives handed to exploration agents, cycled by position.
var swarmApproaches = [...]string{"divergent", "methodical", "contrarian"}

const swarmTopApproaches = 3

// runSwarm splits the agents into an exploration group, the first
// ceil(0.3*N) in workflow order, and an exploitation group holding the rest.
// Explorers attempt the task in parallel under diverse approach directives;
// the best attempts by quality are then refined round-robin by the
// exploitation group, and a convergence step merges both phases into one
// output. A failed phase aborts the remaining phases once its joins settle.
func (e *Executor) runSwarm(ctx context.Context, wf *Workflow, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	split := int(math.Ceil(0.3 * float64(len(wf.Agents))))
	explorers := wf.Agents[:split]
	exploiters := wf.Agents[split:]

	explored, err := e.swarmPhase(ctx, wf.ID, explorers, func(i int) (string, string, map[string]any) {
		stage := fmt.Sprintf("explore-%d", i+1)
		directive := swarmApproaches[i%len(swarmApproaches)]
		return stage, fmt.Sprintf("%s (%s): %s", stage, directive, task), taskCtx
	})
	if err != nil {
		return nil, err
	}

	best := topByQuality(explored, swarmTopApproaches)

	var refined []StageResult
	if len(exploiters) > 0 && len(best) > 0 {
		refined, err = e.swarmPhase(ctx, wf.ID, exploiters, func(i int) (string, string, map[string]any) {
			stage := fmt.Sprintf("refine-%d", i+1)
			approach := best[i%len(best)]
			refCtx := make(map[string]any, len(taskCtx)+1)
			for k, v := range taskCtx {
				refCtx[k] = v
			}
			refCtx["approach"] = approach.Output
			return stage, fmt.Sprintf("%s: %s", stage, task), refCtx
		})
		if err != nil {
			return nil, err
		}
	}

	all := append(append([]StageResult{}, explored...), refined...)
	res := aggregate(wf.ID, catalog.Swarm, all)
	res.Output = convergeSwarm(best, refined)
	return res, nil
}

// swarmPhase runs one agent group concurrently. Every attempt settles
// before the phase reports its first error.
func (e *Executor) swarmPhase(ctx context.Context, workflowID string, agents []string, build func(i int) (stage, task string, taskCtx map[string]any)) ([]StageResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	type slot struct {
		res *StageResult
		err error
	}
	slots := make([]slot, len(agents))

	var wg sync.WaitGroup
	for i, id := range agents {
		stage, task, taskCtx := build(i)
		wg.Add(1)
		go func(i int, id, stage, task string, taskCtx map[string]any) {
			defer wg.Done()
			res, err := e.executeStage(ctx, workflowID, stage, id, task, taskCtx)
			slots[i] = slot{res: res, err: err}
		}(i, id, stage, task, taskCtx)
	}
	wg.Wait()

	results := make([]StageResult, 0, len(agents))
	for _, s := range slots {
		if s.err != nil {
			return nil, s.err
		}
		results = append(results, *s.res)
	}
	return results, nil
}

func topByQuality(results []StageResult, k int) []StageResult {
	best := append([]StageResult{}, results...)
	sort.SliceStable(best, func(i, j int) bool { return best[i].Quality > best[j].Quality })
	if len(best) > k {
		best = best[:k]
	}
	return best
}

func convergeSwarm(best, refined []StageResult) string {
	var sb strings.Builder
	if len(refined) > 0 {
		sb.WriteString("## Refined\n\n")
		for _, r := range refined {
			if r.Output == "" {
				continue
			}
			fmt.Fprintf(&sb, "### %s\n\n%s\n\n", r.Stage, r.Output)
		}
	}
	if len(best) > 0 {
		sb.WriteString("## Best approaches\n\n")
		for _, r := range best {
			if r.Output == "" {
				continue
			}
			fmt.Fprintf(&sb, "### %s\n\n%s\n\n", r.Stage, r.Output)
		}
	}
	return strings.TrimSpace(sb.String())
}
