// Package runner provides the execution backends behind the engine's Runner
// interface: a NATS request/reply runner that hands stages to external
// worker processes, and a deterministic local runner for development and
// scheduled runs without workers.
package runner

import (
	"fmt"

	"github.com/vtkrishna/kypseli/internal/config"
	"github.com/vtkrishna/kypseli/internal/natsbus"
	"github.com/vtkrishna/kypseli/internal/topology"
)

// ExecQueue is the queue group workers join on hive.exec subjects. Each
// request reaches exactly one worker of the matching agent type.
const ExecQueue = "workers"

// New selects the runner backend from config.
func New(cfg config.RunnerConfig, client *natsbus.Client) (topology.Runner, error) {
	switch cfg.Mode {
	case "", "local":
		return NewLocal(), nil
	case "nats":
		if client == nil {
			return nil, fmt.Errorf("nats runner requires a bus client")
		}
		return NewNATS(client, cfg.Timeout), nil
	}
	return nil, fmt.Errorf("unknown runner mode %q", cfg.Mode)
}
