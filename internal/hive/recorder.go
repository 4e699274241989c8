package hive

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// Recorder persists engine activity by listening on the lifecycle event
// channels: workflow rows on every transition, one run row per execution,
// and agent snapshots. The engine itself never touches the store.
type Recorder struct {
	bus      *Bus
	store    *store.Store
	coord    *Coordinator
	registry *registry.Registry

	mu      sync.Mutex
	pending map[string]pendingRun
	subs    []*Subscription
}

// pendingRun joins a workflow-started event with the terminal event that
// follows it.
type pendingRun struct {
	runID string
	task  string
}

func NewRecorder(bus *Bus, st *store.Store, coord *Coordinator, reg *registry.Registry) *Recorder {
	return &Recorder{
		bus:      bus,
		store:    st,
		coord:    coord,
		registry: reg,
		pending:  make(map[string]pendingRun),
	}
}

// Start subscribes to every channel the recorder persists.
func (r *Recorder) Start() error {
	channels := map[string]func(map[string]any){
		"agent-spawned":      r.onAgentSpawned,
		"workflow-created":   r.onWorkflowChanged,
		"workflow-started":   r.onWorkflowStarted,
		"workflow-completed": r.onWorkflowCompleted,
		"workflow-failed":    r.onWorkflowFailed,
	}
	for channel, handler := range channels {
		sub, err := r.bus.SubscribeEvents(channel, handler)
		if err != nil {
			r.Stop()
			return err
		}
		r.subs = append(r.subs, sub)
	}
	return nil
}

func (r *Recorder) Stop() {
	for _, sub := range r.subs {
		_ = sub.Unsubscribe()
	}
	r.subs = nil
}

// StartSync writes a registry snapshot to the store each interval until
// the context ends. Blocks; run it on its own goroutine.
func (r *Recorder) StartSync(ctx context.Context, interval time.Duration) {
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
			for _, a := range r.registry.List() {
				if err := r.store.SaveAgent(toStoreAgent(a)); err != nil {
					slog.Warn("agent snapshot write failed", "agent", a.ID, "error", err)
				}
			}
		}
	}
}

func (r *Recorder) onAgentSpawned(payload map[string]any) {
	id, _ := payload["agent_id"].(string)
	if id == "" {
		return
	}
	r.syncAgent(id)
}

func (r *Recorder) onWorkflowChanged(payload map[string]any) {
	id, _ := payload["workflow_id"].(string)
	if id == "" {
		return
	}
	r.syncWorkflow(id)
}

func (r *Recorder) onWorkflowStarted(payload map[string]any) {
	id, _ := payload["workflow_id"].(string)
	if id == "" {
		return
	}
	task, _ := payload["task"].(string)

	r.mu.Lock()
	r.pending[id] = pendingRun{runID: uuid.NewString(), task: task}
	r.mu.Unlock()

	r.syncWorkflow(id)
}

func (r *Recorder) onWorkflowCompleted(payload map[string]any) {
	id, _ := payload["workflow_id"].(string)
	if id == "" {
		return
	}
	var res topology.WorkflowResult
	if !decodeValue(payload["result"], &res) {
		slog.Warn("workflow-completed event without a result", "workflow", id)
		return
	}

	run := r.takePending(id)
	stageResults, _ := json.Marshal(res.StageResults)
	err := r.store.SaveRun(&store.WorkflowRun{
		ID:           run.runID,
		WorkflowID:   id,
		Task:         run.task,
		Strategy:     string(res.Strategy),
		Success:      res.Success,
		Stages:       res.Stages,
		Quality:      res.Quality,
		DurationMs:   res.DurationMs,
		Output:       res.Output,
		StageResults: stageResults,
	})
	if err != nil {
		slog.Warn("run write failed", "workflow", id, "error", err)
	}

	r.syncWorkflow(id)
	if wf, err := r.coord.GetWorkflow(id); err == nil {
		for _, agentID := range wf.Agents {
			r.syncAgent(agentID)
		}
	}
}

func (r *Recorder) onWorkflowFailed(payload map[string]any) {
	id, _ := payload["workflow_id"].(string)
	if id == "" {
		return
	}
	errMsg, _ := payload["error"].(string)

	run := r.takePending(id)
	err := r.store.SaveRun(&store.WorkflowRun{
		ID:         run.runID,
		WorkflowID: id,
		Task:       run.task,
		Success:    false,
		Error:      errMsg,
	})
	if err != nil {
		slog.Warn("run write failed", "workflow", id, "error", err)
	}
	r.syncWorkflow(id)
}

// takePending resolves the started-event state for a terminal event. A
// terminal event with no matching start still gets a run row.
func (r *Recorder) takePending(id string) pendingRun {
	r.mu.Lock()
	defer r.mu.Unlock()

	run, ok := r.pending[id]
	if !ok {
		run = pendingRun{runID: uuid.NewString()}
	}
	delete(r.pending, id)
	return run
}

func (r *Recorder) syncAgent(id string) {
	a, ok := r.registry.Get(id)
	if !ok {
		return
	}
	if err := r.store.SaveAgent(toStoreAgent(a)); err != nil {
		slog.Warn("agent snapshot write failed", "agent", id, "error", err)
	}
}

func (r *Recorder) syncWorkflow(id string) {
	wf, err := r.coord.GetWorkflow(id)
	if err != nil {
		return
	}
	if err := r.store.SaveWorkflow(toStoreWorkflow(wf)); err != nil {
		slog.Warn("workflow write failed", "workflow", id, "error", err)
	}
}

func toStoreAgent(a *registry.Agent) *store.Agent {
	sa := &store.Agent{
		ID:             a.ID,
		Type:           a.Type,
		Role:           string(a.Role),
		Capabilities:   a.Capabilities,
		Status:         string(a.Status),
		TasksCompleted: a.Performance.TasksCompleted,
		AverageQuality: a.Performance.AverageQuality,
		SuccessRate:    a.Performance.SuccessRate,
		AvgResponseMs:  a.Performance.AvgResponseMs,
	}
	if !a.LastHeartbeat.IsZero() {
		hb := a.LastHeartbeat
		sa.LastHeartbeat = &hb
	}
	if !a.LastActivity.IsZero() {
		la := a.LastActivity
		sa.LastActivity = &la
	}
	return sa
}

func toStoreWorkflow(wf *topology.Workflow) *store.Workflow {
	sw := &store.Workflow{
		ID:         wf.ID,
		Name:       wf.Name,
		Topology:   string(wf.Topology),
		Pattern:    wf.Pattern,
		Agents:     wf.Agents,
		Status:     string(wf.Status),
		Quality:    wf.Metrics.Quality,
		Efficiency: wf.Metrics.Efficiency,
	}
	if !wf.Metrics.StartTime.IsZero() {
		st := wf.Metrics.StartTime
		sw.StartedAt = &st
	}
	if !wf.Metrics.EndTime.IsZero() {
		et := wf.Metrics.EndTime
		sw.EndedAt = &et
		d := wf.Metrics.DurationMs
		sw.DurationMs = &d
	}
	return sw
}

// decodeValue round-trips a decoded JSON value into a typed struct.
func decodeValue(v any, into any) bool {
	if v == nil {
		return false
	}
	data, err := json.Marshal(v)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, into) == nil
}
