package hive

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// Coordinator is the workflow facade. It creates workflows (spawning their
// agents), executes them through the topology executor, and is the single
// writer of workflow status and metrics.
type Coordinator struct {
	registry    *registry.Registry
	catalog     *catalog.Catalog
	bus         *Bus
	executor    *topology.Executor
	stageBudget time.Duration

	mu        sync.RWMutex
	workflows map[string]*topology.Workflow
	order     []string
}

func NewCoordinator(reg *registry.Registry, cat *catalog.Catalog, bus *Bus, exec *topology.Executor, stageBudget time.Duration) *Coordinator {
	if stageBudget <= 0 {
		stageBudget = topology.DefaultStageBudget
	}
	return &Coordinator{
		registry:    reg,
		catalog:     cat,
		bus:         bus,
		executor:    exec,
		stageBudget: stageBudget,
		workflows:   make(map[string]*topology.Workflow),
	}
}

// CreateWorkflow validates the topology and pattern name, spawns one agent
// per spec, connects each to the bus and registers a pending workflow over
// them.
func (c *Coordinator) CreateWorkflow(name string, topo topology.Topology, pattern string, specs []registry.Spec) (*topology.Workflow, error) {
	if !topo.Valid() {
		return nil, &topology.ConfigurationError{Reason: fmt.Sprintf("unknown topology %q", topo)}
	}
	if _, ok := c.catalog.Get(pattern); !ok {
		return nil, &topology.ConfigurationError{Reason: fmt.Sprintf("unknown coordination pattern %q", pattern)}
	}
	if len(specs) == 0 {
		return nil, &topology.ConfigurationError{Reason: "workflow needs at least one agent"}
	}

	ids := make([]string, 0, len(specs))
	for _, spec := range specs {
		ids = append(ids, c.SpawnAgent(spec).ID)
	}

	wf := topology.NewWorkflow(name, topo, pattern, ids)

	c.mu.Lock()
	c.workflows[wf.ID] = wf
	c.order = append(c.order, wf.ID)
	c.mu.Unlock()

	slog.Info("workflow created", "workflow", wf.ID, "name", name, "pattern", pattern, "agents", len(ids))
	c.bus.PublishEvent("workflow-created", map[string]any{
		"workflow_id": wf.ID,
		"name":        wf.Name,
		"agent_count": len(ids),
	})
	return snapshotWorkflow(wf), nil
}

// SpawnAgent adds one agent to the hive and connects it to the bus.
func (c *Coordinator) SpawnAgent(spec registry.Spec) *registry.Agent {
	a := c.registry.Spawn(spec)
	c.bus.Connect(a.ID)
	c.bus.PublishEvent("agent-spawned", map[string]any{
		"agent_id": a.ID,
		"type":     a.Type,
		"role":     string(a.Role),
	})
	return a
}

// ExecuteWorkflow runs the workflow's pattern against the task. Paused and
// currently running workflows are refused. The workflow transitions to
// running on entry and to exactly one terminal state on exit.
func (c *Coordinator) ExecuteWorkflow(ctx context.Context, id, task string, taskCtx map[string]any) (*topology.WorkflowResult, error) {
	c.mu.Lock()
	wf, ok := c.workflows[id]
	if !ok {
		c.mu.Unlock()
		return nil, &WorkflowNotFoundError{ID: id}
	}
	switch wf.Status {
	case topology.StatusPaused:
		c.mu.Unlock()
		return nil, &topology.ConfigurationError{Reason: fmt.Sprintf("workflow %s is paused", id)}
	case topology.StatusRunning:
		c.mu.Unlock()
		return nil, &topology.ConfigurationError{Reason: fmt.Sprintf("workflow %s is already running", id)}
	}
	started := time.Now().UTC()
	wf.Status = topology.StatusRunning
	wf.Metrics = topology.Metrics{StartTime: started}
	run := snapshotWorkflow(wf)
	c.mu.Unlock()

	pat, ok := c.catalog.Get(run.Pattern)
	if !ok {
		err := &topology.ConfigurationError{Reason: fmt.Sprintf("unknown coordination pattern %q", run.Pattern)}
		c.finish(id, started, nil, err)
		return nil, err
	}

	slog.Info("workflow started", "workflow", id, "pattern", run.Pattern, "strategy", string(pat.Coordination))
	c.bus.PublishEvent("workflow-started", map[string]any{
		"workflow_id": id,
		"task":        task,
	})

	res, err := c.executor.Run(ctx, run, pat, task, taskCtx)
	c.finish(id, started, res, err)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// finish applies the terminal transition and emits the matching event.
func (c *Coordinator) finish(id string, started time.Time, res *topology.WorkflowResult, runErr error) {
	ended := time.Now().UTC()

	c.mu.Lock()
	if wf, ok := c.workflows[id]; ok {
		wf.Metrics.EndTime = ended
		wf.Metrics.DurationMs = ended.Sub(started).Milliseconds()
		if runErr != nil {
			wf.Status = topology.StatusFailed
		} else {
			wf.Status = topology.StatusCompleted
			wf.Metrics.Quality = res.Quality
			wf.Metrics.Efficiency = topology.Efficiency(res.Stages, res.DurationMs, c.stageBudget)
		}
	}
	c.mu.Unlock()

	if runErr != nil {
		slog.Error("workflow failed", "workflow", id, "error", runErr)
		c.bus.PublishEvent("workflow-failed", map[string]any{
			"workflow_id": id,
			"error":       runErr.Error(),
		})
		return
	}
	slog.Info("workflow completed", "workflow", id,
		"stages", res.Stages, "quality", res.Quality, "duration_ms", res.DurationMs)
	c.bus.PublishEvent("workflow-completed", map[string]any{
		"workflow_id": id,
		"result":      res,
		"duration_ms": res.DurationMs,
	})
}

// Pause marks the workflow paused so ExecuteWorkflow refuses it until
// Resume. A running workflow cannot be paused.
func (c *Coordinator) Pause(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[id]
	if !ok {
		return &WorkflowNotFoundError{ID: id}
	}
	if wf.Status == topology.StatusRunning {
		return &topology.ConfigurationError{Reason: fmt.Sprintf("workflow %s is running and cannot be paused", id)}
	}
	wf.Status = topology.StatusPaused
	return nil
}

// Resume returns a paused workflow to pending. Resuming a workflow that
// is not paused is a no-op.
func (c *Coordinator) Resume(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wf, ok := c.workflows[id]
	if !ok {
		return &WorkflowNotFoundError{ID: id}
	}
	if wf.Status == topology.StatusPaused {
		wf.Status = topology.StatusPending
	}
	return nil
}

func (c *Coordinator) GetWorkflow(id string) (*topology.Workflow, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()

	wf, ok := c.workflows[id]
	if !ok {
		return nil, &WorkflowNotFoundError{ID: id}
	}
	return snapshotWorkflow(wf), nil
}

// ListWorkflows returns snapshots in creation order.
func (c *Coordinator) ListWorkflows() []*topology.Workflow {
	c.mu.RLock()
	defer c.mu.RUnlock()

	out := make([]*topology.Workflow, 0, len(c.order))
	for _, id := range c.order {
		out = append(out, snapshotWorkflow(c.workflows[id]))
	}
	return out
}

// StartHeartbeat stamps and messages every agent each interval until the
// context ends. Blocks; run it on its own goroutine.
func (c *Coordinator) StartHeartbeat(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			c.bus.Heartbeat(c.registry.HeartbeatAll())
		}
	}
}

// StartSweeper marks agents offline once they sit workless past idleAfter,
// disconnecting them from the bus. Blocks; run it on its own goroutine.
func (c *Coordinator) StartSweeper(ctx context.Context, interval, idleAfter time.Duration) {
	if interval <= 0 || idleAfter <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for _, id := range c.registry.SweepIdle(idleAfter) {
				slog.Info("agent swept offline", "agent", id, "idle_after", idleAfter)
				c.bus.Disconnect(id)
				c.bus.PublishEvent("hive-update", map[string]any{
					"type":     "agent-offline",
					"agent_id": id,
				})
			}
		}
	}
}

func snapshotWorkflow(wf *topology.Workflow) *topology.Workflow {
	cp := *wf
	cp.Agents = append([]string(nil), wf.Agents...)
	return &cp
}
