package hive

import "fmt"

// WorkflowNotFoundError reports a workflow id the coordinator does not know.
type WorkflowNotFoundError struct {
	ID string
}

func (e *WorkflowNotFoundError) Error() string {
	return fmt.Sprintf("workflow not found: %s", e.ID)
}
