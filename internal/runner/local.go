package runner

import (
	"context"
	"fmt"

	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// Local synthesizes stage outcomes in-process. Quality and confidence are
// deterministic functions of the task text.
type Local struct{}

func NewLocal() *Local {
	return &Local{}
}

func (l *Local) Execute(ctx context.Context, agent *registry.Agent, task string, taskCtx map[string]any) (*topology.Outcome, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	default:
	}

	sum := 0
	for i := 0; i < len(task); i++ {
		sum += int(task[i])
	}

	return &topology.Outcome{
		Output:     fmt.Sprintf("[%s] completed: %s", agent.Type, task),
		Quality:    0.82 + float64(sum%17)/100,
		Confidence: 0.75 + float64(sum%23)/100,
	}, nil
}
