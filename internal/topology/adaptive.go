package topology

import (
	"context"
	"time"

	"github.com/vtkrishna/kypseli/internal/catalog"
)

const adaptiveMaxIterations = 3

// Rotation order when an iteration fails outright.
var adaptiveCycle = [...]catalog.Coordination{catalog.Parallel, catalog.Linear, catalog.Hierarchical}

// runAdaptive searches for an acceptable result under a bounded iteration
// budget, starting parallel. Each iteration is scored on quality and
// efficiency; a run that meets both thresholds converges and returns
// immediately. A run that scores too low switches strategy: hierarchical
// when efficiency dropped below 0.5, linear when quality stayed below 0.7,
// parallel otherwise. An iteration that errors rotates through the fixed
// cycle instead. Exhausting the budget is an AdaptiveConvergenceError.
func (e *Executor) runAdaptive(ctx context.Context, wf *Workflow, pat catalog.Pattern, task string, taskCtx map[string]any) (*WorkflowResult, error) {
	strategy := catalog.Parallel
	var lastQuality, lastEfficiency float64

	for i := 1; i <= adaptiveMaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		res, err := e.runStrategy(ctx, strategy, wf, pat, task, taskCtx)
		if err != nil {
			strategy = nextStrategy(strategy)
			continue
		}

		lastQuality = res.Quality
		lastEfficiency = Efficiency(res.Stages, res.DurationMs, e.stageBudget)

		if lastQuality >= 0.8 && lastEfficiency >= 0.7 {
			res.Strategy = catalog.Adaptive
			res.Iterations = i
			return res, nil
		}

		switch {
		case lastEfficiency < 0.5:
			strategy = catalog.Hierarchical
		case lastQuality < 0.7:
			strategy = catalog.Linear
		default:
			strategy = catalog.Parallel
		}
	}

	return nil, &AdaptiveConvergenceError{
		Iterations: adaptiveMaxIterations,
		Quality:    lastQuality,
		Efficiency: lastEfficiency,
	}
}

func nextStrategy(cur catalog.Coordination) catalog.Coordination {
	for i, s := range adaptiveCycle {
		if s == cur {
			return adaptiveCycle[(i+1)%len(adaptiveCycle)]
		}
	}
	return adaptiveCycle[0]
}

// Efficiency scores elapsed time against the latency budget for a run of
// the given stage count. A run that takes no time scores 1; a run that
// takes exactly its budget scores 0.5.
func Efficiency(stages int, durationMs int64, stageBudget time.Duration) float64 {
	budget := float64(stages) * float64(stageBudget.Milliseconds())
	if budget <= 0 {
		return 1
	}
	return budget / (budget + float64(durationMs))
}
