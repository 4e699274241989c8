package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/vtkrishna/kypseli/internal/catalog"
	"github.com/vtkrishna/kypseli/internal/config"
	"github.com/vtkrishna/kypseli/internal/hive"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/runner"
	"github.com/vtkrishna/kypseli/internal/scheduler"
	"github.com/vtkrishna/kypseli/internal/store"
	"github.com/vtkrishna/kypseli/internal/topology"
	"github.com/vtkrishna/kypseli/internal/vault"
)

var version = "dev"

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	switch os.Args[1] {
	case "version":
		fmt.Printf("kypseli %s\n", version)
	case "daemon":
		if err := runDaemon(); err != nil {
			slog.Error("daemon failed", "error", err)
			os.Exit(1)
		}
	case "vault":
		if err := runVault(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "backup":
		if err := runBackup(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	case "restore":
		if err := runRestore(os.Args[2:]); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	default:
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Fprintf(os.Stderr, `Usage: kypseli <command>

Commands:
  daemon     Start the hive daemon
  vault      Manage runner secrets
  backup     Archive the data directory
  restore    Restore a data directory archive
  version    Print version
`)
}

func runDaemon() error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	setupLogging(cfg.Log.Level)

	slog.Info("starting kypseli daemon", "version", version)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// SQLite store
	db, err := store.New(cfg.Store)
	if err != nil {
		return fmt.Errorf("init store: %w", err)
	}
	defer db.Close()
	slog.Info("store initialized", "path", cfg.Store.Path)

	// Embedded NATS
	srv, err := natsbus.New(cfg.NATS)
	if err != nil {
		return fmt.Errorf("init nats: %w", err)
	}
	defer srv.Close()
	client, err := natsbus.NewClient(srv)
	if err != nil {
		return fmt.Errorf("connect to nats: %w", err)
	}
	defer client.Close()
	slog.Info("nats started", "port", cfg.NATS.Port)

	// Engine core
	reg := registry.New()
	cat, err := catalog.New(cfg.Patterns)
	if err != nil {
		return fmt.Errorf("build pattern catalog: %w", err)
	}
	bus := hive.NewBus(client, db)

	rn, err := runner.New(cfg.Runner, client)
	if err != nil {
		return fmt.Errorf("init runner: %w", err)
	}
	slog.Info("runner ready", "mode", cfg.Runner.Mode)

	exec := topology.NewExecutor(reg, rn, bus, cfg.Hive.StageBudget)
	coord := hive.NewCoordinator(reg, cat, bus, exec, cfg.Hive.StageBudget)
	spawnConfigured(coord, cfg.Agents)

	// Persistence recorder
	rec := hive.NewRecorder(bus, db, coord, reg)
	if err := rec.Start(); err != nil {
		return fmt.Errorf("start recorder: %w", err)
	}
	defer rec.Stop()

	// Scheduler
	sched := scheduler.New(db, coord, cfg.Scheduler)
	go sched.Start(ctx)
	slog.Info("scheduler started")

	// Vault is optional; without it secrets.fetch is refused.
	var v *vault.Vault
	if passphrase := os.Getenv("KYPSELI_VAULT_PASSPHRASE"); passphrase != "" {
		v, err = vault.New(passphrase)
		if err != nil {
			return fmt.Errorf("init vault: %w", err)
		}
		slog.Info("vault unlocked")
	} else {
		slog.Warn("vault passphrase not set, secrets disabled")
	}

	// IPC command surface
	ipc := hive.NewIPC(client, coord, db, v, sched)
	if err := ipc.Start(); err != nil {
		return fmt.Errorf("start ipc: %w", err)
	}
	defer ipc.Stop()

	// Maintenance loops
	go coord.StartHeartbeat(ctx, cfg.Hive.HeartbeatInterval)
	go coord.StartSweeper(ctx, cfg.Hive.SweepInterval, cfg.Hive.IdleTimeout)
	go rec.StartSync(ctx, cfg.Hive.SyncInterval)

	// Wait for shutdown signal
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	cancel()
	return nil
}

// spawnConfigured brings up the agents declared in config at boot.
func spawnConfigured(coord *hive.Coordinator, templates []config.AgentTemplate) {
	for _, tpl := range templates {
		role := registry.Role(tpl.Role)
		if role == "" {
			role = registry.RoleWorker
		}
		count := tpl.Count
		if count <= 0 {
			count = 1
		}
		for i := 0; i < count; i++ {
			a := coord.SpawnAgent(registry.Spec{
				Type:         tpl.Type,
				Role:         role,
				Capabilities: tpl.Capabilities,
			})
			slog.Info("agent spawned from config", "id", a.ID, "type", a.Type)
		}
	}
}

func setupLogging(level string) {
	var lvl slog.Level
	switch strings.ToLower(level) {
	case "debug":
		lvl = slog.LevelDebug
	case "warn":
		lvl = slog.LevelWarn
	case "error":
		lvl = slog.LevelError
	default:
		lvl = slog.LevelInfo
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl})))
}
