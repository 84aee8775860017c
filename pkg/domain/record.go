package domain

import "time"

// StepStatus is the terminal status of one persisted node execution.
type StepStatus string

const (
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepStopped   StepStatus = "stopped"
)

// RunState is the overall state of one workflow run.
type RunState string

const (
	RunRunning   RunState = "running"
	RunCompleted RunState = "completed"
	RunPaused    RunState = "paused"
	RunStopped   RunState = "stopped"
	RunFailed    RunState = "failed"
)

// Terminal reports whether the run can make no further progress on its own.
func (s RunState) Terminal() bool {
	return s == RunCompleted || s == RunStopped || s == RunFailed
}

// StepRecord is the atomic persistence unit: one node execution, written
// exactly once, immediately upon completion. There is no persisted
// "in progress" state; recovery reduces to "record present = done,
// absent = redo".
type StepRecord struct {
	WorkflowID string     `json:"workflow_id" yaml:"workflow_id"`
	Superstep  int        `json:"superstep" yaml:"superstep"`
	// StepIndex orders nodes within one superstep alphabetically by name.
	// It exists purely to make replay reproducible.
	StepIndex int        `json:"step_index" yaml:"step_index"`
	Node      string     `json:"node" yaml:"node"`
	Status    StepStatus `json:"status" yaml:"status"`

	// InputVersions snapshots exactly which version of each parameter the
	// node consumed.
	InputVersions map[string]int `json:"input_versions,omitempty" yaml:"input_versions,omitempty"`

	// Outputs holds the value(s) produced, keyed by output name.
	Outputs map[string]any `json:"outputs,omitempty" yaml:"outputs,omitempty"`

	// Decision holds the target names opened by a gate node, or the
	// termination sentinel.
	Decision []string `json:"decision,omitempty" yaml:"decision,omitempty"`

	Err string `json:"error,omitempty" yaml:"error,omitempty"`

	// ChildWorkflowID references the persisted workflow of a nested graph.
	// The child's records live under their own workflow id; nesting is flat
	// and linked only by this string.
	ChildWorkflowID string `json:"child_workflow_id,omitempty" yaml:"child_workflow_id,omitempty"`

	At time.Time `json:"at" yaml:"at"`
}

// InterruptInfo describes a paused run: which interrupt node is pending,
// the prompt value already resident in state, and the parameter that must
// be supplied to resume.
type InterruptInfo struct {
	Node          string `json:"node" yaml:"node"`
	Prompt        any    `json:"prompt,omitempty" yaml:"prompt,omitempty"`
	ResponseParam string `json:"response_param" yaml:"response_param"`
}

// WorkflowStatus is the persisted status of a workflow.
type WorkflowStatus struct {
	State     RunState       `json:"state" yaml:"state"`
	Interrupt *InterruptInfo `json:"interrupt,omitempty" yaml:"interrupt,omitempty"`
	UpdatedAt time.Time      `json:"updated_at" yaml:"updated_at"`
}

// ChildWorkflowID derives the workflow id of a nested graph node.
func ChildWorkflowID(parentID, nodeName string) string {
	return parentID + "/" + nodeName
}
