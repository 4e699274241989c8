// Package scheduler turns due schedules into workflow runs.
package scheduler

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/vtkrishna/kypseli/internal/config"
	"github.com/vtkrishna/kypseli/internal/hive"
	"github.com/vtkrishna/kypseli/internal/schedule"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// Scheduler polls the store for due schedules and materializes each into
// one workflow run through the coordinator.
type Scheduler struct {
	store        *store.Store
	coord        *hive.Coordinator
	pollInterval time.Duration
	wakeCh       chan struct{}
}

func New(st *store.Store, coord *hive.Coordinator, cfg config.SchedulerConfig) *Scheduler {
	return &Scheduler{
		store:        st,
		coord:        coord,
		pollInterval: cfg.PollInterval,
		wakeCh:       make(chan struct{}, 1),
	}
}

// Wake nudges the run loop to poll now instead of waiting out the tick.
func (s *Scheduler) Wake() {
	select {
	case s.wakeCh <- struct{}{}:
	default:
	}
}

func (s *Scheduler) Start(ctx context.Context) {
	if s.pollInterval <= 0 {
		s.pollInterval = 30 * time.Second
	}

	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	slog.Info("scheduler started", "poll_interval", s.pollInterval)

	for {
		select {
		case <-ctx.Done():
			slog.Info("scheduler stopped")
			return
		case <-s.wakeCh:
			s.poll(ctx)
		case <-ticker.C:
			s.poll(ctx)
		}
	}
}

func (s *Scheduler) poll(ctx context.Context) {
	due, err := s.store.GetDueSchedules(time.Now())
	if err != nil {
		slog.Error("due schedule query failed", "error", err)
		return
	}
	for _, sch := range due {
		s.execute(ctx, sch)
	}
}

func (s *Scheduler) execute(ctx context.Context, sch store.Schedule) {
	slog.Info("schedule due", "id", sch.ID, "name", sch.Name)

	lastStatus := "success"
	var lastError string
	if err := s.runOnce(ctx, sch); err != nil {
		lastStatus = "error"
		lastError = err.Error()
		slog.Error("scheduled run failed", "id", sch.ID, "error", err)
	}

	nextRun := schedule.NextRun(sch.Schedule)
	if err := s.store.UpdateScheduleRun(sch.ID, lastStatus, lastError, nextRun); err != nil {
		slog.Error("schedule update failed", "id", sch.ID, "error", err)
	}

	// Schedules with no future run are spent.
	if nextRun == nil {
		slog.Info("schedule exhausted", "id", sch.ID, "name", sch.Name)
		if err := s.store.UpdateScheduleStatus(sch.ID, "completed"); err != nil {
			slog.Error("schedule completion failed", "id", sch.ID, "error", err)
		}
	}
}

// runOnce creates a fresh workflow from the schedule's template and
// executes it. Every due fire spawns new agents; templates never share
// workflow instances across runs.
func (s *Scheduler) runOnce(ctx context.Context, sch store.Schedule) error {
	tpl, err := schedule.ParseTemplate(sch.Workflow)
	if err != nil {
		return fmt.Errorf("workflow template: %w", err)
	}

	name := tpl.Name
	if name == "" {
		name = sch.Name
	}
	topo := topology.Topology(tpl.Topology)
	if tpl.Topology == "" {
		topo = topology.TopologyHybrid
	}
	task := tpl.Task
	if task == "" {
		task = sch.Task
	}

	wf, err := s.coord.CreateWorkflow(name, topo, tpl.Pattern, tpl.Agents)
	if err != nil {
		return fmt.Errorf("create workflow: %w", err)
	}
	if _, err := s.coord.ExecuteWorkflow(ctx, wf.ID, task, nil); err != nil {
		return fmt.Errorf("execute workflow: %w", err)
	}
	return nil
}
