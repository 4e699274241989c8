package main

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
)

const ipcSubject = "hive.ipc"

type ipcRequest struct {
	Type    string         `json:"type"`
	Payload map[string]any `json:"payload"`
}

type ipcResponse struct {
	OK        bool           `json:"ok,omitempty"`
	Error     string         `json:"error,omitempty"`
	ID        string         `json:"id,omitempty"`
	NextRun   *time.Time     `json:"next_run,omitempty"`
	Workflow  *workflowView  `json:"workflow,omitempty"`
	Workflows []workflowView `json:"workflows,omitempty"`
	Result    *resultView    `json:"result,omitempty"`
	Agent     *agentView     `json:"agent,omitempty"`
	Agents    []agentView    `json:"agents,omitempty"`
	Patterns  []patternView  `json:"patterns,omitempty"`
	Schedules []scheduleView `json:"schedules,omitempty"`
}

type workflowView struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Topology string   `json:"topology"`
	Pattern  string   `json:"pattern"`
	Status   string   `json:"status"`
	Agents   []string `json:"agents"`
	Metrics  struct {
		DurationMs int64   `json:"duration_ms"`
		Quality    float64 `json:"quality"`
		Efficiency float64 `json:"efficiency"`
	} `json:"metrics"`
}

type resultView struct {
	Success    bool    `json:"success"`
	Stages     int     `json:"stages"`
	Quality    float64 `json:"quality"`
	DurationMs int64   `json:"duration_ms"`
	Output     string  `json:"output"`
	Strategy   string  `json:"strategy"`
}

type agentView struct {
	ID          string `json:"id"`
	Type        string `json:"type"`
	Role        string `json:"role"`
	Status      string `json:"status"`
	Performance struct {
		TasksCompleted int     `json:"tasks_completed"`
		AverageQuality float64 `json:"average_quality"`
	} `json:"performance"`
}

type patternView struct {
	Name         string   `json:"name"`
	Description  string   `json:"description"`
	Stages       []string `json:"stages"`
	Coordination string   `json:"coordination"`
}

type scheduleView struct {
	ID         string     `json:"id"`
	Name       string     `json:"name"`
	Schedule   string     `json:"schedule"`
	Task       string     `json:"task"`
	Status     string     `json:"status"`
	NextRunAt  *time.Time `json:"next_run_at,omitempty"`
	LastStatus string     `json:"last_status,omitempty"`
}

func sendIPC(natsURL, reqType string, payload map[string]any, timeout time.Duration) (*ipcResponse, error) {
	conn, err := nats.Connect(natsURL)
	if err != nil {
		return nil, fmt.Errorf("connect to nats: %w", err)
	}
	defer conn.Close()

	data, err := json.Marshal(ipcRequest{Type: reqType, Payload: payload})
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	msg, err := conn.Request(ipcSubject, data, timeout)
	if err != nil {
		return nil, fmt.Errorf("ipc request: %w", err)
	}

	var resp ipcResponse
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &resp, nil
}

func parseArgs(args []string) map[string]string {
	result := make(map[string]string)
	for i := 0; i < len(args); i++ {
		if len(args[i]) > 2 && args[i][:2] == "--" && i+1 < len(args) {
			result[args[i][2:]] = args[i+1]
			i++
		}
	}
	return result
}

// parseAgentSpecs turns "coder,reviewer:specialist" into agent specs. A
// bare type gets the worker role on the daemon side.
func parseAgentSpecs(s string) []map[string]string {
	var specs []map[string]string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		spec := map[string]string{}
		if typ, role, ok := strings.Cut(part, ":"); ok {
			spec["type"] = strings.TrimSpace(typ)
			spec["role"] = strings.TrimSpace(role)
		} else {
			spec["type"] = part
		}
		specs = append(specs, spec)
	}
	return specs
}

func usage() {
	fmt.Fprintln(os.Stderr, "Usage:")
	fmt.Fprintln(os.Stderr, `  kflow create --name "..." --pattern "..." --agents "type[:role],..." [--topology "..."]`)
	fmt.Fprintln(os.Stderr, `  kflow run --id "..." --task "..." [--timeout 5m]`)
	fmt.Fprintln(os.Stderr, `  kflow get --id "..."`)
	fmt.Fprintln(os.Stderr, "  kflow list")
	fmt.Fprintln(os.Stderr, `  kflow pause --id "..."`)
	fmt.Fprintln(os.Stderr, `  kflow resume --id "..."`)
	fmt.Fprintln(os.Stderr, `  kflow spawn --type "..." [--role "..."]`)
	fmt.Fprintln(os.Stderr, "  kflow agents")
	fmt.Fprintln(os.Stderr, "  kflow patterns")
	fmt.Fprintln(os.Stderr, `  kflow schedule --name "..." --schedule "..." --template <file.json> [--task "..."]`)
	fmt.Fprintln(os.Stderr, "  kflow schedules")
	fmt.Fprintln(os.Stderr, `  kflow unschedule --id "..."`)
	os.Exit(1)
}

func fatal(format string, args ...any) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

func main() {
	natsURL := os.Getenv("NATS_URL")
	if natsURL == "" {
		natsURL = "nats://localhost:4222"
	}

	if len(os.Args) < 2 {
		usage()
	}

	command := os.Args[1]
	args := parseArgs(os.Args[2:])

	switch command {
	case "create":
		if args["name"] == "" || args["pattern"] == "" || args["agents"] == "" {
			fatal("--name, --pattern, and --agents are required")
		}
		payload := map[string]any{
			"name":    args["name"],
			"pattern": args["pattern"],
			"agents":  parseAgentSpecs(args["agents"]),
		}
		if args["topology"] != "" {
			payload["topology"] = args["topology"]
		}
		resp := must(sendIPC(natsURL, "workflow.create", payload, 10*time.Second))
		fmt.Printf("Workflow created: %s\n", resp.Workflow.ID)

	case "run":
		if args["id"] == "" || args["task"] == "" {
			fatal("--id and --task are required")
		}
		payload := map[string]any{"id": args["id"], "task": args["task"]}
		wait := 10 * time.Minute
		if args["timeout"] != "" {
			d, err := time.ParseDuration(args["timeout"])
			if err != nil {
				fatal("invalid --timeout: %v", err)
			}
			payload["timeout_ms"] = d.Milliseconds()
			wait = d
		}
		// The reply only arrives once the workflow settles.
		resp := must(sendIPC(natsURL, "workflow.run", payload, wait+10*time.Second))
		r := resp.Result
		fmt.Printf("Run finished: success=%v stages=%d quality=%.2f duration=%dms strategy=%s\n",
			r.Success, r.Stages, r.Quality, r.DurationMs, r.Strategy)
		if r.Output != "" {
			fmt.Println()
			fmt.Println(r.Output)
		}

	case "get":
		if args["id"] == "" {
			fatal("--id is required")
		}
		resp := must(sendIPC(natsURL, "workflow.get", map[string]any{"id": args["id"]}, 10*time.Second))
		printWorkflow(resp.Workflow)

	case "list":
		resp := must(sendIPC(natsURL, "workflow.list", map[string]any{}, 10*time.Second))
		if len(resp.Workflows) == 0 {
			fmt.Println("No workflows found.")
			return
		}
		for _, wf := range resp.Workflows {
			fmt.Printf("  %s  %-9s  %s  [%s/%s, %d agents]\n",
				wf.ID, wf.Status, wf.Name, wf.Topology, wf.Pattern, len(wf.Agents))
		}

	case "pause", "resume":
		if args["id"] == "" {
			fatal("--id is required")
		}
		must(sendIPC(natsURL, "workflow."+command, map[string]any{"id": args["id"]}, 10*time.Second))
		fmt.Printf("Workflow %s %sd.\n", args["id"], command)

	case "spawn":
		if args["type"] == "" {
			fatal("--type is required")
		}
		payload := map[string]any{"type": args["type"]}
		if args["role"] != "" {
			payload["role"] = args["role"]
		}
		resp := must(sendIPC(natsURL, "agent.spawn", payload, 10*time.Second))
		fmt.Printf("Agent spawned: %s (%s/%s)\n", resp.Agent.ID, resp.Agent.Type, resp.Agent.Role)

	case "agents":
		resp := must(sendIPC(natsURL, "agent.list", map[string]any{}, 10*time.Second))
		if len(resp.Agents) == 0 {
			fmt.Println("No agents spawned.")
			return
		}
		for _, a := range resp.Agents {
			fmt.Printf("  %s  %-8s  %s/%s  tasks=%d quality=%.2f\n",
				a.ID, a.Status, a.Type, a.Role, a.Performance.TasksCompleted, a.Performance.AverageQuality)
		}

	case "patterns":
		resp := must(sendIPC(natsURL, "pattern.list", map[string]any{}, 10*time.Second))
		for _, p := range resp.Patterns {
			fmt.Printf("  %-16s %-13s %s\n", p.Name, p.Coordination, strings.Join(p.Stages, " > "))
			fmt.Printf("  %-16s %s\n", "", p.Description)
		}

	case "schedule":
		if args["name"] == "" || args["schedule"] == "" || args["template"] == "" {
			fatal("--name, --schedule, and --template are required")
		}
		template, err := os.ReadFile(args["template"])
		if err != nil {
			fatal("read template: %v", err)
		}
		resp := must(sendIPC(natsURL, "schedule.create", map[string]any{
			"name":     args["name"],
			"schedule": args["schedule"],
			"workflow": json.RawMessage(template),
			"task":     args["task"],
		}, 10*time.Second))
		next := "unknown"
		if resp.NextRun != nil {
			next = resp.NextRun.Local().Format(time.RFC3339)
		}
		fmt.Printf("Schedule created: %s (next run %s)\n", resp.ID, next)

	case "schedules":
		resp := must(sendIPC(natsURL, "schedule.list", map[string]any{}, 10*time.Second))
		if len(resp.Schedules) == 0 {
			fmt.Println("No schedules found.")
			return
		}
		for _, s := range resp.Schedules {
			next := "-"
			if s.NextRunAt != nil {
				next = s.NextRunAt.Local().Format("2006-01-02 15:04")
			}
			fmt.Printf("  %s  %-9s  %s  next=%s last=%s\n", s.ID, s.Status, s.Name, next, s.LastStatus)
		}

	case "unschedule":
		if args["id"] == "" {
			fatal("--id is required")
		}
		must(sendIPC(natsURL, "schedule.delete", map[string]any{"id": args["id"]}, 10*time.Second))
		fmt.Println("Schedule deleted.")

	default:
		fatal("unknown command: %s", command)
	}
}

func must(resp *ipcResponse, err error) *ipcResponse {
	if err != nil {
		fatal("%v", err)
	}
	if resp.Error != "" {
		fatal("%s", resp.Error)
	}
	return resp
}

func printWorkflow(wf *workflowView) {
	if wf == nil {
		fmt.Println("No workflow in response.")
		return
	}
	fmt.Printf("Workflow %s\n", wf.ID)
	fmt.Printf("  name:      %s\n", wf.Name)
	fmt.Printf("  status:    %s\n", wf.Status)
	fmt.Printf("  topology:  %s\n", wf.Topology)
	fmt.Printf("  pattern:   %s\n", wf.Pattern)
	fmt.Printf("  agents:    %d\n", len(wf.Agents))
	if wf.Metrics.DurationMs > 0 {
		fmt.Printf("  last run:  %dms quality=%.2f efficiency=%.2f\n",
			wf.Metrics.DurationMs, wf.Metrics.Quality, wf.Metrics.Efficiency)
	}
}
