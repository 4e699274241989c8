package hive

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/topology"
)

func newTestRecorder(t *testing.T, r topology.Runner) (*Recorder, *Coordinator, *store.Store, *registry.Registry) {
	t.Helper()
	client := newNatsClient(t)
	st := newTestStore(t)
	reg := registry.New()
	cat, err := catalog.New(nil)
	if err != nil {
		t.Fatalf("catalog: %v", err)
	}
	bus := NewBus(client, st)
	exec := topology.NewExecutor(reg, r, bus, time.Second)
	coord := NewCoordinator(reg, cat, bus, exec, time.Second)
	return NewRecorder(bus, st, coord, reg), coord, st, reg
}

// waitFor polls cond until it reports done or the deadline passes.
func waitFor(t *testing.T, timeout time.Duration, cond func() (bool, string)) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for {
		done, state := cond()
		if done {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("condition never held: %s", state)
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestRecorderPersistsLifecycle(t *testing.T) {
	rec, coord, st, _ := newTestRecorder(t, &hiveRunner{})
	if err := rec.Start(); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	t.Cleanup(rec.Stop)
	if err := rec.bus.client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	wf, err := coord.CreateWorkflow("etl", topology.TopologyHybrid, "pipeline",
		workerSpecs("extractor", "transformer"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := coord.ExecuteWorkflow(context.Background(), wf.ID, "transform the dataset", nil); err != nil {
		t.Fatalf("execute: %v", err)
	}

	waitFor(t, 3*time.Second, func() (bool, string) {
		row, err := st.GetWorkflow(wf.ID)
		if err != nil || row == nil || row.Status != string(topology.StatusCompleted) {
			return false, "workflow row not completed yet"
		}
		runs, err := st.ListRuns(wf.ID)
		if err != nil || len(runs) != 1 {
			return false, "run row missing"
		}
		agents, err := st.ListAgents()
		if err != nil || len(agents) != 2 {
			return false, "agent rows missing"
		}
		return true, ""
	})

	row, err := st.GetWorkflow(wf.ID)
	if err != nil {
		t.Fatalf("get workflow row: %v", err)
	}
	if row.Name != "etl" || row.Pattern != "pipeline" {
		t.Errorf("workflow row = %+v", row)
	}
	if row.StartedAt == nil || row.EndedAt == nil || row.DurationMs == nil {
		t.Errorf("workflow timing missing: %+v", row)
	}
	if row.Quality <= 0 || row.Efficiency <= 0 {
		t.Errorf("workflow scores missing: quality=%v efficiency=%v", row.Quality, row.Efficiency)
	}

	runs, err := st.ListRuns(wf.ID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	run := runs[0]
	if run.Task != "transform the dataset" {
		t.Errorf("run task = %q", run.Task)
	}
	if !run.Success || run.Stages != 3 || run.Strategy != string(catalog.Linear) {
		t.Errorf("run row = %+v", run)
	}
	if run.Output == "" || len(run.StageResults) == 0 {
		t.Errorf("run output missing: %+v", run)
	}
}

func TestRecorderRecordsFailedRun(t *testing.T) {
	boom := errors.New("pipeline exploded")
	r := &hiveRunner{fn: func(agent *registry.Agent, stageTask string) (*topology.Outcome, error) {
		return nil, boom
	}}
	rec, coord, st, _ := newTestRecorder(t, r)
	if err := rec.Start(); err != nil {
		t.Fatalf("start recorder: %v", err)
	}
	t.Cleanup(rec.Stop)
	if err := rec.bus.client.Flush(); err != nil {
		t.Fatalf("flush: %v", err)
	}

	wf, err := coord.CreateWorkflow("doomed", topology.TopologyHybrid, "pipeline", workerSpecs("coder"))
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := coord.ExecuteWorkflow(context.Background(), wf.ID, "break things", nil); err == nil {
		t.Fatal("execute succeeded with a failing runner")
	}

	waitFor(t, 3*time.Second, func() (bool, string) {
		row, err := st.GetWorkflow(wf.ID)
		if err != nil || row == nil || row.Status != string(topology.StatusFailed) {
			return false, "workflow row not failed yet"
		}
		runs, err := st.ListRuns(wf.ID)
		if err != nil || len(runs) != 1 {
			return false, "run row missing"
		}
		return true, ""
	})

	runs, err := st.ListRuns(wf.ID)
	if err != nil {
		t.Fatalf("list runs: %v", err)
	}
	run := runs[0]
	if run.Success {
		t.Error("run recorded as success")
	}
	if !strings.Contains(run.Error, "pipeline exploded") {
		t.Errorf("run error = %q", run.Error)
	}
	if run.Task != "break things" {
		t.Errorf("run task = %q", run.Task)
	}
}

func TestStartSyncWritesSnapshots(t *testing.T) {
	rec, _, st, reg := newTestRecorder(t, &hiveRunner{})

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)
	go rec.StartSync(ctx, 20*time.Millisecond)

	reg.Spawn(registry.Spec{Type: "coder", Role: registry.RoleWorker})
	reg.Spawn(registry.Spec{Type: "queen", Role: registry.RoleQueen})

	waitFor(t, 3*time.Second, func() (bool, string) {
		agents, err := st.ListAgents()
		if err != nil || len(agents) != 2 {
			return false, "agent snapshots not written yet"
		}
		return true, ""
	})

	agents, err := st.ListAgents()
	if err != nil {
		t.Fatalf("list agents: %v", err)
	}
	byType := make(map[string]store.Agent, len(agents))
	for _, a := range agents {
		byType[a.Type] = a
	}
	coder, ok := byType["coder"]
	if !ok || coder.Role != string(registry.RoleWorker) || coder.Status != string(registry.StatusActive) {
		t.Errorf("coder snapshot = %+v", coder)
	}
	if _, ok := byType["queen"]; !ok {
		t.Error("queen snapshot missing")
	}
}
