package hive

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/schedule"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/topology"
	"github.com/vtkrishna/kypseli/internal/vault"
)

// Command is the request envelope on the hive.ipc subject.
type Command struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

// Waker nudges the scheduler loop after schedule writes.
type Waker interface {
	Wake()
}

// defaultRunTimeout bounds workflow.run commands that carry no timeout.
const defaultRunTimeout = 10 * time.Minute

// IPC answers request/reply commands on hive.ipc so the CLI and workers
// can drive the engine without linking it.
type IPC struct {
	client *natsbus.Client
	coord  *Coordinator
	store  *store.Store
	vault  *vault.Vault
	waker  Waker
	sub    *nats.Subscription
}

func NewIPC(client *natsbus.Client, coord *Coordinator, st *store.Store, v *vault.Vault, waker Waker) *IPC {
	return &IPC{
		client: client,
		coord:  coord,
		store:  st,
		vault:  v,
		waker:  waker,
	}
}

func (i *IPC) Start() error {
	sub, err := i.client.Subscribe(natsbus.TopicIPC, i.handle)
	if err != nil {
		return fmt.Errorf("subscribe ipc: %w", err)
	}
	i.sub = sub
	return nil
}

func (i *IPC) Stop() {
	if i.sub != nil {
		_ = i.sub.Unsubscribe()
	}
}

func (i *IPC) handle(msg *nats.Msg) {
	var cmd Command
	if err := json.Unmarshal(msg.Data, &cmd); err != nil {
		slog.Warn("invalid ipc command", "error", err)
		i.respond(msg, map[string]any{"error": "invalid command"})
		return
	}

	slog.Info("ipc command", "type", cmd.Type)

	switch cmd.Type {
	case "workflow.create":
		i.workflowCreate(msg, cmd.Payload)
	case "workflow.run":
		// Runs block until the workflow settles; keep the subscription
		// free for other commands meanwhile.
		go i.workflowRun(msg, cmd.Payload)
	case "workflow.get":
		i.workflowGet(msg, cmd.Payload)
	case "workflow.list":
		i.respond(msg, map[string]any{"ok": true, "workflows": i.coord.ListWorkflows()})
	case "workflow.pause":
		i.workflowPause(msg, cmd.Payload, true)
	case "workflow.resume":
		i.workflowPause(msg, cmd.Payload, false)
	case "agent.spawn":
		i.agentSpawn(msg, cmd.Payload)
	case "agent.list":
		i.respond(msg, map[string]any{"ok": true, "agents": i.coord.registry.List()})
	case "pattern.list":
		i.respond(msg, map[string]any{"ok": true, "patterns": i.coord.catalog.List()})
	case "schedule.create":
		i.scheduleCreate(msg, cmd.Payload)
	case "schedule.list":
		i.scheduleList(msg)
	case "schedule.delete":
		i.scheduleDelete(msg, cmd.Payload)
	case "secrets.fetch":
		i.secretsFetch(msg, cmd.Payload)
	default:
		slog.Warn("unknown ipc command", "type", cmd.Type)
		i.respond(msg, map[string]any{"error": "unknown command: " + cmd.Type})
	}
}

func (i *IPC) respond(msg *nats.Msg, data any) {
	resp, err := json.Marshal(data)
	if err != nil {
		slog.Error("ipc response marshal failed", "error", err)
		return
	}
	if err := msg.Respond(resp); err != nil {
		slog.Error("ipc respond failed", "error", err)
	}
}

func (i *IPC) workflowCreate(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		Name     string          `json:"name"`
		Topology string          `json:"topology"`
		Pattern  string          `json:"pattern"`
		Agents   []registry.Spec `json:"agents"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		i.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}

	topo := topology.Topology(req.Topology)
	if req.Topology == "" {
		topo = topology.TopologyHybrid
	}
	wf, err := i.coord.CreateWorkflow(req.Name, topo, req.Pattern, req.Agents)
	if err != nil {
		i.respond(msg, map[string]any{"error": err.Error()})
		return
	}
	i.respond(msg, map[string]any{"ok": true, "workflow": wf})
}

func (i *IPC) workflowRun(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID        string         `json:"id"`
		Task      string         `json:"task"`
		Context   map[string]any `json:"context,omitempty"`
		TimeoutMs int64          `json:"timeout_ms,omitempty"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" || req.Task == "" {
		i.respond(msg, map[string]any{"error": "id and task are required"})
		return
	}

	timeout := defaultRunTimeout
	if req.TimeoutMs > 0 {
		timeout = time.Duration(req.TimeoutMs) * time.Millisecond
	}
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	res, err := i.coord.ExecuteWorkflow(ctx, req.ID, req.Task, req.Context)
	if err != nil {
		i.respond(msg, map[string]any{"error": err.Error()})
		return
	}
	i.respond(msg, map[string]any{"ok": true, "result": res})
}

func (i *IPC) workflowGet(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		i.respond(msg, map[string]any{"error": "id is required"})
		return
	}
	wf, err := i.coord.GetWorkflow(req.ID)
	if err != nil {
		i.respond(msg, map[string]any{"error": err.Error()})
		return
	}
	i.respond(msg, map[string]any{"ok": true, "workflow": wf})
}

func (i *IPC) workflowPause(msg *nats.Msg, payload json.RawMessage, pause bool) {
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		i.respond(msg, map[string]any{"error": "id is required"})
		return
	}

	var err error
	if pause {
		err = i.coord.Pause(req.ID)
	} else {
		err = i.coord.Resume(req.ID)
	}
	if err != nil {
		i.respond(msg, map[string]any{"error": err.Error()})
		return
	}
	i.respond(msg, map[string]any{"ok": true})
}

func (i *IPC) agentSpawn(msg *nats.Msg, payload json.RawMessage) {
	var spec registry.Spec
	if err := json.Unmarshal(payload, &spec); err != nil || spec.Type == "" {
		i.respond(msg, map[string]any{"error": "type is required"})
		return
	}
	if spec.Role == "" {
		spec.Role = registry.RoleWorker
	}
	a := i.coord.SpawnAgent(spec)
	i.respond(msg, map[string]any{"ok": true, "agent": a})
}

func (i *IPC) scheduleCreate(msg *nats.Msg, payload json.RawMessage) {
	if i.store == nil {
		i.respond(msg, map[string]any{"error": "no store configured"})
		return
	}
	var req struct {
		Name     string          `json:"name"`
		Schedule string          `json:"schedule"`
		Workflow json.RawMessage `json:"workflow"`
		Task     string          `json:"task"`
	}
	if err := json.Unmarshal(payload, &req); err != nil {
		i.respond(msg, map[string]any{"error": "invalid payload"})
		return
	}
	if req.Name == "" || req.Schedule == "" || len(req.Workflow) == 0 {
		i.respond(msg, map[string]any{"error": "name, schedule, and workflow are required"})
		return
	}

	normalized, err := schedule.Normalize(req.Schedule)
	if err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("invalid schedule: %v", err)})
		return
	}
	if _, err := schedule.ParseTemplate(req.Workflow); err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("invalid workflow template: %v", err)})
		return
	}

	sch := &store.Schedule{
		ID:        uuid.NewString(),
		Name:      req.Name,
		Schedule:  normalized,
		Workflow:  req.Workflow,
		Task:      req.Task,
		Status:    "active",
		NextRunAt: schedule.NextRun(normalized),
	}
	if err := i.store.SaveSchedule(sch); err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("save failed: %v", err)})
		return
	}
	if i.waker != nil {
		i.waker.Wake()
	}

	slog.Info("schedule created via ipc", "id", sch.ID, "name", sch.Name)
	i.respond(msg, map[string]any{"ok": true, "id": sch.ID, "next_run": sch.NextRunAt})
}

func (i *IPC) scheduleList(msg *nats.Msg) {
	if i.store == nil {
		i.respond(msg, map[string]any{"error": "no store configured"})
		return
	}
	schedules, err := i.store.ListSchedules()
	if err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("list failed: %v", err)})
		return
	}
	i.respond(msg, map[string]any{"ok": true, "schedules": schedules})
}

func (i *IPC) scheduleDelete(msg *nats.Msg, payload json.RawMessage) {
	if i.store == nil {
		i.respond(msg, map[string]any{"error": "no store configured"})
		return
	}
	var req struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.ID == "" {
		i.respond(msg, map[string]any{"error": "id is required"})
		return
	}
	if err := i.store.DeleteSchedule(req.ID); err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("delete failed: %v", err)})
		return
	}
	slog.Info("schedule deleted via ipc", "id", req.ID)
	i.respond(msg, map[string]any{"ok": true})
}

// secretsFetch hands a worker the credentials assigned to its agent type.
// Secrets decrypt only here, inside the daemon.
func (i *IPC) secretsFetch(msg *nats.Msg, payload json.RawMessage) {
	var req struct {
		AgentType string `json:"agent_type"`
	}
	if err := json.Unmarshal(payload, &req); err != nil || req.AgentType == "" {
		i.respond(msg, map[string]any{"error": "agent_type is required"})
		return
	}
	if i.store == nil || i.vault == nil {
		i.respond(msg, map[string]any{"error": "no vault configured"})
		return
	}

	secrets, err := i.store.SecretsForType(req.AgentType)
	if err != nil {
		i.respond(msg, map[string]any{"error": fmt.Sprintf("fetch failed: %v", err)})
		return
	}
	out := make(map[string]string, len(secrets))
	for _, sec := range secrets {
		plaintext, err := i.vault.OpenString(sec.Value, sec.Nonce)
		if err != nil {
			slog.Warn("secret decrypt failed", "secret", sec.Name, "error", err)
			continue
		}
		out[sec.Name] = plaintext
	}
	i.respond(msg, map[string]any{"ok": true, "secrets": out})
}
