package topology

import "fmt"

// ConfigurationError reports a workflow or pattern setup that cannot be
// executed, detected before any runner call.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return e.Reason
}

// AgentNotFoundError reports a registry lookup of an id that is not present,
// in a position where the strategy treats absence as fatal.
type AgentNotFoundError struct {
	ID string
}

func (e *AgentNotFoundError) Error() string {
	return fmt.Sprintf("agent %s not found", e.ID)
}

// TaskExecutionError wraps a runner failure with the stage and agent it
// happened on. Partial holds the stage results that did settle before the
// failure surfaced; only the parallel strategy fills it.
type TaskExecutionError struct {
	Stage   string
	AgentID string
	Err     error
	Partial []StageResult
}

func (e *TaskExecutionError) Error() string {
	return fmt.Sprintf("stage %q failed on agent %s: %v", e.Stage, e.AgentID, e.Err)
}

func (e *TaskExecutionError) Unwrap() error {
	return e.Err
}

// AdaptiveConvergenceError reports an adaptive run that exhausted its
// iteration budget without meeting the quality and efficiency thresholds.
// Quality and Efficiency carry the last scored iteration, zero when every
// iteration failed outright.
type AdaptiveConvergenceError struct {
	Iterations int
	Quality    float64
	Efficiency float64
}

func (e *AdaptiveConvergenceError) Error() string {
	return fmt.Sprintf("no convergence after %d iterations (quality %.2f, efficiency %.2f)", e.Iterations, e.Quality, e.Efficiency)
}
