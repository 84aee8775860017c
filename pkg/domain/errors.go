package domain

import (
	"errors"
	"fmt"
	"strings"
)

// ErrWorkflowNotFound is returned when a workflow id cannot be found in the store.
var ErrWorkflowNotFound = errors.New("workflow not found")

// ErrNotPaused is returned when resuming a workflow that is not awaiting input.
var ErrNotPaused = errors.New("workflow is not paused")

// ConfigurationError reports a structural defect in a graph. It is always
// raised at build time, before any node executes.
type ConfigurationError struct {
	Node   string
	Reason string
}

func (e *ConfigurationError) Error() string {
	if e.Node == "" {
		return fmt.Sprintf("invalid graph: %s", e.Reason)
	}
	return fmt.Sprintf("invalid graph: node %q: %s", e.Node, e.Reason)
}

// ConflictError reports that two ready nodes would write the same value name
// within one superstep. The build-time exclusivity proof is necessary but not
// sufficient: caller-supplied inputs can still make two statically-exclusive
// branches simultaneously ready.
type ConflictError struct {
	Name  string
	Nodes []string
	// ReadyInputs names, per node, the inputs that made it ready.
	ReadyInputs map[string][]string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("write conflict on %q: nodes %s are ready in the same superstep",
		e.Name, strings.Join(e.Nodes, ", "))
}

// MissingInputError reports an absent required input, including a cycle's
// seed value. Raised before execution.
type MissingInputError struct {
	Params []string
}

func (e *MissingInputError) Error() string {
	return fmt.Sprintf("missing required input(s): %s", strings.Join(e.Params, ", "))
}

// InvalidRouteError reports a gate returning a value outside its declared
// target set. Attributable to node logic, not the engine.
type InvalidRouteError struct {
	Node   string
	Target string
}

func (e *InvalidRouteError) Error() string {
	return fmt.Sprintf("route %q returned undeclared target %q", e.Node, e.Target)
}

// InfiniteLoopError reports that the superstep cap was exceeded. It is
// deliberately distinct from "legitimately slow": the run was making
// progress but never terminating.
type InfiniteLoopError struct {
	Supersteps int
}

func (e *InfiniteLoopError) Error() string {
	return fmt.Sprintf("run did not terminate within %d supersteps", e.Supersteps)
}

// NodeExecutionError wraps an error escaping a node body. Fatal to the
// current run, which remains resumable from its last persisted superstep.
type NodeExecutionError struct {
	Node string
	Err  error
}

func (e *NodeExecutionError) Error() string {
	return fmt.Sprintf("node %q failed: %v", e.Node, e.Err)
}

func (e *NodeExecutionError) Unwrap() error { return e.Err }
