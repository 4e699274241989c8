package runner

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/registry"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// Request is the wire shape workers receive on hive.exec.<agentType>.
type Request struct {
	AgentID   string         `json:"agent_id"`
	AgentType string         `json:"agent_type"`
	Task      string         `json:"task"`
	Context   map[string]any `json:"context,omitempty"`
}

// Response is a worker's answer to a Request.
type Response struct {
	OK          bool     `json:"ok"`
	Output      string   `json:"output,omitempty"`
	Quality     float64  `json:"quality,omitempty"`
	Confidence  float64  `json:"confidence,omitempty"`
	NextActions []string `json:"next_actions,omitempty"`
	Error       string   `json:"error,omitempty"`
}

// NATS hands each stage to an external worker over request/reply. Workers
// queue-subscribe per agent type; the per-call timeout is capped by the
// context deadline when one is set.
type NATS struct {
	client  *natsbus.Client
	timeout time.Duration
}

func NewNATS(client *natsbus.Client, timeout time.Duration) *NATS {
	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	return &NATS{client: client, timeout: timeout}
}

func (r *NATS) Execute(ctx context.Context, agent *registry.Agent, task string, taskCtx map[string]any) (*topology.Outcome, error) {
	data, err := json.Marshal(Request{
		AgentID:   agent.ID,
		AgentType: agent.Type,
		Task:      task,
		Context:   taskCtx,
	})
	if err != nil {
		return nil, fmt.Errorf("marshal exec request: %w", err)
	}

	timeout := r.timeout
	if deadline, ok := ctx.Deadline(); ok {
		if remaining := time.Until(deadline); remaining < timeout {
			timeout = remaining
		}
	}
	if timeout <= 0 {
		return nil, context.DeadlineExceeded
	}

	msg, err := r.client.Request(natsbus.TopicExec(agent.Type), data, timeout)
	if err != nil {
		return nil, fmt.Errorf("exec request for %s: %w", agent.Type, err)
	}

	var resp Response
	if err := json.Unmarshal(msg.Data, &resp); err != nil {
		return nil, fmt.Errorf("decode exec response: %w", err)
	}
	if !resp.OK {
		if resp.Error == "" {
			resp.Error = "worker reported failure"
		}
		return nil, errors.New(resp.Error)
	}

	return &topology.Outcome{
		Output:      resp.Output,
		Quality:     resp.Quality,
		Confidence:  resp.Confidence,
		NextActions: resp.NextActions,
	}, nil
}
