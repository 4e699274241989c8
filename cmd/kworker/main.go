package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/runner"
	"github.com/vtkrishna/kypseli/internal/topology"
)

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type secretsResponse struct {
	OK      bool              `json:"ok,omitempty"`
	Error   string            `json:"error,omitempty"`
	Secrets map[string]string `json:"secrets,omitempty"`
}

// worker answers exec requests for one agent type. The stock handler is the
// deterministic local runner; a real tool harness replaces it here.
type worker struct {
	client    *natsbus.Client
	agentType string
	exec      topology.Runner
	sub       *nats.Subscription
}

func main() {
	agentType := flag.String("type", "", "agent type to serve (required)")
	natsURL := flag.String("nats", "", "NATS URL (defaults to NATS_URL or nats://localhost:4222)")
	flag.Parse()

	if *agentType == "" {
		fmt.Fprintln(os.Stderr, "Usage: kworker -type <agent-type> [-nats <url>]")
		os.Exit(1)
	}

	url := *natsURL
	if url == "" {
		url = os.Getenv("NATS_URL")
	}
	if url == "" {
		url = "nats://localhost:4222"
	}

	client, err := natsbus.NewClientFromURL(url)
	if err != nil {
		slog.Error("connect failed", "url", url, "error", err)
		os.Exit(1)
	}
	defer client.Close()

	// Credentials assigned to this agent type flow into the environment so
	// tool subprocesses inherit them.
	secrets, err := fetchSecrets(client, *agentType)
	if err != nil {
		slog.Warn("secrets unavailable", "error", err)
	} else {
		for name, value := range secrets {
			os.Setenv(name, value)
		}
		slog.Info("secrets loaded", "count", len(secrets))
	}

	w := &worker{client: client, agentType: *agentType, exec: runner.NewLocal()}
	if err := w.start(); err != nil {
		slog.Error("subscribe failed", "error", err)
		os.Exit(1)
	}
	slog.Info("worker ready", "type", *agentType, "subject", natsbus.TopicExec(*agentType))

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	slog.Info("shutting down", "signal", sig)
	w.stop()
}

func (w *worker) start() error {
	sub, err := w.client.QueueSubscribe(natsbus.TopicExec(w.agentType), runner.ExecQueue, w.handle)
	if err != nil {
		return fmt.Errorf("subscribe exec: %w", err)
	}
	w.sub = sub
	return w.client.Flush()
}

func (w *worker) stop() {
	if w.sub != nil {
		_ = w.sub.Drain()
	}
}

func (w *worker) handle(msg *nats.Msg) {
	var req runner.Request
	if err := json.Unmarshal(msg.Data, &req); err != nil {
		w.respond(msg, runner.Response{Error: "invalid exec request"})
		return
	}

	slog.Info("stage request", "agent", req.AgentID, "task", req.Task)

	agent := &registry.Agent{ID: req.AgentID, Type: req.AgentType}
	out, err := w.exec.Execute(context.Background(), agent, req.Task, req.Context)
	if err != nil {
		w.respond(msg, runner.Response{Error: err.Error()})
		return
	}

	w.respond(msg, runner.Response{
		OK:          true,
		Output:      out.Output,
		Quality:     out.Quality,
		Confidence:  out.Confidence,
		NextActions: out.NextActions,
	})
}

func (w *worker) respond(msg *nats.Msg, resp runner.Response) {
	data, err := json.Marshal(resp)
	if err != nil {
		slog.Error("marshal response failed", "error", err)
		return
	}
	if err := msg.Respond(data); err != nil {
		slog.Error("respond failed", "error", err)
	}
}

// fetchSecrets asks the daemon for the credentials assigned to this agent
// type. The daemon refuses when no vault is configured.
func fetchSecrets(client *natsbus.Client, agentType string) (map[string]string, error) {
	data, err := json.Marshal(ipcRequest{
		Type:    "secrets.fetch",
		Payload: map[string]any{"agent_type": agentType},
	})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := client.Request(natsbus.TopicIPC, data, 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp secretsResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	if resp.Error != "" {
		return nil, fmt.Errorf("daemon refused: %s", resp.Error)
	}
	return resp.Secrets, nil
}
