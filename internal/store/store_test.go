package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/vtkrishna/kypseli/internal/config"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	s, err := New(config.StoreConfig{Path: filepath.Join(dir, "test.db")})
	if err != nil {
		t.Fatalf("failed to create store: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestAgentUpsert(t *testing.T) {
	s := newTestStore(t)

	a := &Agent{
		ID:           "agent-1",
		Type:         "researcher",
		Role:         "worker",
		Capabilities: []string{"search", "summarize"},
		Status:       "active",
	}
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("save agent: %v", err)
	}

	got, err := s.GetAgent("agent-1")
	if err != nil {
		t.Fatalf("get agent: %v", err)
	}
	if got == nil {
		t.Fatal("expected agent, got nil")
	}
	if got.Type != "researcher" || got.Role != "worker" {
		t.Errorf("unexpected agent: %+v", got)
	}
	if len(got.Capabilities) != 2 {
		t.Errorf("expected 2 capabilities, got %d", len(got.Capabilities))
	}

	// Performance update goes through the same upsert
	a.TasksCompleted = 4
	a.AverageQuality = 0.85
	a.SuccessRate = 0.75
	a.Status = "idle"
	if err := s.SaveAgent(a); err != nil {
		t.Fatalf("update agent: %v", err)
	}
	got, _ = s.GetAgent("agent-1")
	if got.TasksCompleted != 4 {
		t.Errorf("expected tasks_completed 4, got %d", got.TasksCompleted)
	}
	if got.AverageQuality != 0.85 {
		t.Errorf("expected average_quality 0.85, got %v", got.AverageQuality)
	}
	if got.Status != "idle" {
		t.Errorf("expected status idle, got %s", got.Status)
	}

	// Not found
	got, err = s.GetAgent("nonexistent")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got != nil {
		t.Error("expected nil for nonexistent agent")
	}

	agents, err := s.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	if len(agents) != 1 {
		t.Errorf("expected 1 agent, got %d", len(agents))
	}
}

func TestWorkflowAndRuns(t *testing.T) {
	s := newTestStore(t)

	w := &Workflow{
		ID:       "wf-1",
		Name:     "release-prep",
		Topology: "hierarchical",
		Pattern:  "delegation",
		Agents:   []string{"a1", "a2", "a3"},
		Status:   "pending",
	}
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatalf("save workflow: %v", err)
	}

	got, err := s.GetWorkflow("wf-1")
	if err != nil {
		t.Fatalf("get workflow: %v", err)
	}
	if got == nil {
		t.Fatal("expected workflow, got nil")
	}
	if len(got.Agents) != 3 {
		t.Errorf("expected 3 agent ids, got %d", len(got.Agents))
	}
	if got.Status != "pending" {
		t.Errorf("expected status pending, got %s", got.Status)
	}

	// Terminal update
	now := time.Now()
	dur := int64(1234)
	w.Status = "completed"
	w.Quality = 0.9
	w.StartedAt = &now
	w.EndedAt = &now
	w.DurationMs = &dur
	if err := s.SaveWorkflow(w); err != nil {
		t.Fatalf("update workflow: %v", err)
	}
	got, _ = s.GetWorkflow("wf-1")
	if got.Status != "completed" {
		t.Errorf("expected completed, got %s", got.Status)
	}
	if got.DurationMs == nil || *got.DurationMs != 1234 {
		t.Errorf("expected duration 1234, got %v", got.DurationMs)
	}

	stageResults, _ := json.Marshal([]map[string]any{{"stage": "plan", "quality": 0.9}})
	run := &WorkflowRun{
		ID:           "run-1",
		WorkflowID:   "wf-1",
		Task:         "cut the release",
		Strategy:     "hierarchical",
		Success:      true,
		Stages:       3,
		Quality:      0.9,
		DurationMs:   1234,
		Output:       "done",
		StageResults: stageResults,
	}
	if err := s.SaveRun(run); err != nil {
		t.Fatalf("save run: %v", err)
	}

	gotRun, err := s.GetRun("run-1")
	if err != nil {
		t.Fatalf("get run: %v", err)
	}
	if gotRun == nil {
		t.Fatal("expected run, got nil")
	}
	if !gotRun.Success || gotRun.Stages != 3 {
		t.Errorf("unexpected run: %+v", gotRun)
	}
	if len(gotRun.StageResults) == 0 {
		t.Error("expected stage results payload")
	}

	runs, err := s.ListRuns("wf-1")
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	if len(runs) != 1 {
		t.Errorf("expected 1 run, got %d", len(runs))
	}
}

func TestMessageLog(t *testing.T) {
	s := newTestStore(t)

	msgs := []Message{
		{ID: "m1", Sender: "hive", Recipient: "a1", Type: "heartbeat", Priority: "low", Content: "ping"},
		{ID: "m2", Sender: "a1", Recipient: "broadcast", Type: "coordination", Priority: "medium", Content: "starting"},
		{ID: "m3", Sender: "a2", Recipient: "a1", Type: "result", Priority: "high", Content: "done"},
	}
	for i := range msgs {
		if err := s.SaveMessage(&msgs[i]); err != nil {
			t.Fatalf("save message: %v", err)
		}
	}

	recent, err := s.RecentMessages(10)
	if err != nil {
		t.Fatalf("recent messages: %v", err)
	}
	if len(recent) != 3 {
		t.Errorf("expected 3 messages, got %d", len(recent))
	}

	forA1, err := s.MessagesFor("a1", 10)
	if err != nil {
		t.Fatalf("messages for a1: %v", err)
	}
	// Direct messages plus the broadcast
	if len(forA1) != 3 {
		t.Errorf("expected 3 messages for a1, got %d", len(forA1))
	}

	forA2, err := s.MessagesFor("a2", 10)
	if err != nil {
		t.Fatalf("messages for a2: %v", err)
	}
	if len(forA2) != 1 {
		t.Errorf("expected 1 message for a2, got %d", len(forA2))
	}
	if forA2[0].Recipient != "broadcast" {
		t.Errorf("expected the broadcast, got %+v", forA2[0])
	}
}

func TestScheduleCRUD(t *testing.T) {
	s := newTestStore(t)

	now := time.Now()
	nextRun := now.Add(-1 * time.Minute) // Due now
	workflow, _ := json.Marshal(map[string]any{
		"name":     "nightly-report",
		"topology": "mesh",
		"pattern":  "consensus",
	})
	sch := &Schedule{
		ID:        "sched-1",
		Name:      "Nightly Report",
		Schedule:  `{"kind":"cron","expr":"0 2 * * *"}`,
		Workflow:  workflow,
		Task:      "summarize the day",
		Status:    "active",
		NextRunAt: &nextRun,
	}

	if err := s.SaveSchedule(sch); err != nil {
		t.Fatalf("save schedule: %v", err)
	}

	got, err := s.GetSchedule("sched-1")
	if err != nil {
		t.Fatalf("get schedule: %v", err)
	}
	if got.Name != "Nightly Report" {
		t.Errorf("expected 'Nightly Report', got '%s'", got.Name)
	}

	due, err := s.GetDueSchedules(time.Now())
	if err != nil {
		t.Fatalf("get due schedules: %v", err)
	}
	if len(due) != 1 {
		t.Errorf("expected 1 due schedule, got %d", len(due))
	}

	// Record a run and push next_run into the future
	future := now.Add(time.Hour)
	if err := s.UpdateScheduleRun("sched-1", "ok", "", &future); err != nil {
		t.Fatalf("update schedule run: %v", err)
	}
	due, _ = s.GetDueSchedules(time.Now())
	if len(due) != 0 {
		t.Errorf("expected 0 due schedules after update, got %d", len(due))
	}

	// Pause
	_ = s.UpdateScheduleStatus("sched-1", "paused")
	past := now.Add(-time.Hour)
	_ = s.UpdateScheduleRun("sched-1", "ok", "", &past)
	due, _ = s.GetDueSchedules(time.Now())
	if len(due) != 0 {
		t.Errorf("expected 0 due schedules while paused, got %d", len(due))
	}

	if err := s.DeleteSchedule("sched-1"); err != nil {
		t.Fatalf("delete schedule: %v", err)
	}
	got, _ = s.GetSchedule("sched-1")
	if got != nil {
		t.Error("expected nil after delete")
	}
}

func TestSecretAssignments(t *testing.T) {
	s := newTestStore(t)

	sec := &Secret{
		ID:    "sec-1",
		Name:  "SEARCH_API_KEY",
		Value: []byte{0x01, 0x02},
		Nonce: []byte{0x03},
	}
	if err := s.SaveSecret(sec); err != nil {
		t.Fatalf("save secret: %v", err)
	}

	// Unassigned, not global: invisible to any type
	secrets, err := s.SecretsForType("researcher")
	if err != nil {
		t.Fatalf("secrets for type: %v", err)
	}
	if len(secrets) != 0 {
		t.Errorf("expected 0 secrets, got %d", len(secrets))
	}

	if err := s.AssignSecret("sec-1", "researcher"); err != nil {
		t.Fatalf("assign secret: %v", err)
	}
	secrets, _ = s.SecretsForType("researcher")
	if len(secrets) != 1 {
		t.Fatalf("expected 1 secret, got %d", len(secrets))
	}
	if string(secrets[0].Value) != "\x01\x02" {
		t.Error("expected ciphertext roundtrip")
	}

	// Other types still see nothing
	secrets, _ = s.SecretsForType("builder")
	if len(secrets) != 0 {
		t.Errorf("expected 0 secrets for builder, got %d", len(secrets))
	}

	// Global flips visibility for everyone
	if err := s.SetSecretGlobal("sec-1", true); err != nil {
		t.Fatalf("set global: %v", err)
	}
	secrets, _ = s.SecretsForType("builder")
	if len(secrets) != 1 {
		t.Errorf("expected 1 global secret for builder, got %d", len(secrets))
	}

	types, err := s.SecretAssignments("sec-1")
	if err != nil {
		t.Fatalf("secret assignments: %v", err)
	}
	if len(types) != 1 || types[0] != "researcher" {
		t.Errorf("unexpected assignments: %v", types)
	}

	if err := s.DeleteSecret("sec-1"); err != nil {
		t.Fatalf("delete secret: %v", err)
	}
	got, _ := s.GetSecret("sec-1")
	if got != nil {
		t.Error("expected nil after delete")
	}
}
