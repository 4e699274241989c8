package topology

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
)

func explorePattern() catalog.Pattern {
	return catalog.Pattern{
		Name:         "explore-exploit",
		Stages:       []string{"whole"},
		Coordination: catalog.Swarm,
	}
}

func TestSwarmSplitsExplorationExploitation(t *testing.T) {
	stub := &stubRunner{}
	e, reg := newTestExecutor(stub)
	wf := NewWorkflow("swarmed", TopologyMesh, "explore-exploit", spawnWorkers(reg, 10))

	res, err := e.Run(context.Background(), wf, explorePattern(), "optimize the cache", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success || res.Stages != 10 {
		t.Fatalf("success=%v stages=%d, want success with 10 attempts", res.Success, res.Stages)
	}

	if got := len(stub.callsWithPrefix("explore-")); got != 3 {
		t.Fatalf("exploration attempts = %d, want ceil(0.3*10) = 3", got)
	}
	if got := len(stub.callsWithPrefix("refine-")); got != 7 {
		t.Fatalf("refinement attempts = %d, want 7", got)
	}
}

func TestSwarmRefinesBestApproachesRoundRobin(t *testing.T) {
	stub := &stubRunner{}
	stub.execute = func(_ *registry.Agent, task string, _ map[string]any) (*Outcome, error) {
		q := 0.8
		switch {
		case strings.HasPrefix(task, "explore-1"):
			q = 0.4
		case strings.HasPrefix(task, "explore-2"):
			q = 0.9
		}
		return &Outcome{Output: "approach for " + task, Quality: q}, nil
	}
	e, reg := newTestExecutor(stub)
	wf := NewWorkflow("swarmed", TopologyMesh, "explore-exploit", spawnWorkers(reg, 5))

	res, err := e.Run(context.Background(), wf, explorePattern(), "polish", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if res.Stages != 5 {
		t.Fatalf("stages = %d, want 2 explorations + 3 refinements", res.Stages)
	}

	weak := "approach for explore-1 (divergent): polish"
	strong := "approach for explore-2 (methodical): polish"
	counts := map[string]int{}
	for _, c := range stub.callsWithPrefix("refine-") {
		counts[c.approach]++
	}
	// Three refiners over two ranked approaches: the stronger one is
	// refined twice, the weaker once.
	if counts[strong] != 2 || counts[weak] != 1 {
		t.Fatalf("refinement spread = %v, want strong twice and weak once", counts)
	}
}

func TestSwarmExplorationFailureAborts(t *testing.T) {
	stub := &stubRunner{}
	stub.execute = func(_ *registry.Agent, task string, _ map[string]any) (*Outcome, error) {
		if strings.HasPrefix(task, "explore-2") {
			return nil, errors.New("boom")
		}
		return &Outcome{Output: "ok", Quality: 0.9}, nil
	}
	e, reg := newTestExecutor(stub)
	wf := NewWorkflow("swarmed", TopologyMesh, "explore-exploit", spawnWorkers(reg, 4))

	_, err := e.Run(context.Background(), wf, explorePattern(), "polish", nil)
	var execErr *TaskExecutionError
	if !errors.As(err, &execErr) {
		t.Fatalf("error = %T (%v), want TaskExecutionError", err, err)
	}
	if execErr.Stage != "explore-2" {
		t.Fatalf("failed stage = %q, want explore-2", execErr.Stage)
	}
	if got := len(stub.callsWithPrefix("refine-")); got != 0 {
		t.Fatalf("refinement attempts = %d, want 0 after a failed exploration phase", got)
	}
	if got := stub.callCount(); got != 2 {
		t.Fatalf("runner calls = %d, want the 2 exploration attempts only", got)
	}
}

func TestSwarmSingleAgent(t *testing.T) {
	stub := &stubRunner{}
	e, reg := newTestExecutor(stub)
	wf := NewWorkflow("swarmed", TopologyMesh, "explore-exploit", spawnWorkers(reg, 1))

	res, err := e.Run(context.Background(), wf, explorePattern(), "polish", nil)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if !res.Success || res.Stages != 1 {
		t.Fatalf("success=%v stages=%d, want a lone exploration", res.Success, res.Stages)
	}
	if len(stub.callsWithPrefix("refine-")) != 0 {
		t.Fatal("no refinement without exploitation agents")
	}
	if !strings.Contains(res.Output, "Best approaches") {
		t.Fatalf("output = %q, want the convergence merge", res.Output)
	}
}
