package graph

import (
	"context"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// Kind identifies the control-flow behavior of a node.
type Kind string

const (
	// KindTask is a plain unit of computation.
	KindTask Kind = "task"
	// KindBranch is a boolean gate with exactly two named targets.
	KindBranch Kind = "branch"
	// KindRoute is a gate returning one or more targets from a declared
	// closed set, or End.
	KindRoute Kind = "route"
	// KindInterrupt pauses the run until an external caller supplies its
	// response parameter.
	KindInterrupt Kind = "interrupt"
	// KindSubgraph runs a nested graph as a single node.
	KindSubgraph Kind = "subgraph"
)

// End is the reserved route result that terminates a cyclic run successfully.
const End = "__end__"

// Func is the node contract for tasks and subgraph adapters: named inputs in,
// a result out. The result may be a single value, a map[string]any of named
// values, or a domain.Stream of chunks.
type Func func(ctx context.Context, in domain.Inputs) (any, error)

// BranchFunc decides between the two targets of a branch.
type BranchFunc func(ctx context.Context, in domain.Inputs) (bool, error)

// RouteFunc selects one or more declared targets, or End.
type RouteFunc func(ctx context.Context, in domain.Inputs) ([]string, error)

// Target is one member of a route's closed target set. The description is
// optional metadata for tooling; it plays no part in execution.
type Target struct {
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description,omitempty" yaml:"description,omitempty"`
}

// Node is one named unit in a graph. Data edges are never wired manually:
// they are inferred by matching Params against other nodes' Outputs.
type Node struct {
	Name    string
	Kind    Kind
	Params  []string
	Outputs []string

	Run    Func
	Branch BranchFunc
	Route  RouteFunc

	// Branch targets.
	IfTrue  string
	IfFalse string

	// Route closed target set.
	Targets []Target

	// Interrupt configuration: the prompt parameter read before pausing and
	// the response parameter an external caller must supply.
	Prompt        string
	ResponseParam string

	// Subgraph configuration.
	Child *Graph
	// ChildCompleteOnStop opts the nested run into the complete-on-stop
	// cancellation policy. If the outer run enables the policy, every
	// subgraph node must enable it too.
	ChildCompleteOnStop bool
}

// Gate reports whether the node's result opens downstream targets.
func (n *Node) Gate() bool {
	return n.Kind == KindBranch || n.Kind == KindRoute
}

// Task declares a plain computation node consuming params and producing the
// named outputs.
func Task(name string, params []string, outputs []string, fn Func) Node {
	return Node{Name: name, Kind: KindTask, Params: params, Outputs: outputs, Run: fn}
}

// Branch declares a boolean gate. A true result opens ifTrue, a false result
// opens ifFalse.
func Branch(name string, params []string, fn BranchFunc, ifTrue, ifFalse string) Node {
	return Node{Name: name, Kind: KindBranch, Params: params, Branch: fn, IfTrue: ifTrue, IfFalse: ifFalse}
}

// Route declares a multi-way gate over a closed target set. The function may
// return any subset of the declared target names, or End to complete the run.
func Route(name string, params []string, fn RouteFunc, targets ...Target) Node {
	return Node{Name: name, Kind: KindRoute, Params: params, Route: fn, Targets: targets}
}

// Interrupt declares a pause point. When ready it reads prompt, suspends the
// run, and waits for an external caller to supply responseParam, which
// becomes this node's output.
func Interrupt(name, prompt, responseParam string) Node {
	return Node{
		Name:          name,
		Kind:          KindInterrupt,
		Params:        []string{prompt},
		Outputs:       []string{responseParam},
		Prompt:        prompt,
		ResponseParam: responseParam,
	}
}

// SubgraphOption tunes a subgraph node declaration.
type SubgraphOption func(*Node)

// WithChildCompleteOnStop enables the complete-on-stop cancellation policy
// for the nested run.
func WithChildCompleteOnStop() SubgraphOption {
	return func(n *Node) {
		n.ChildCompleteOnStop = true
	}
}

// Subgraph declares a nested graph as a single node. Params feed the child's
// external inputs by name; outputs are read from the child's final state by
// name. The child persists as its own workflow, addressed parentID/name.
func Subgraph(name string, params []string, outputs []string, child *Graph, opts ...SubgraphOption) Node {
	n := Node{Name: name, Kind: KindSubgraph, Params: params, Outputs: outputs, Child: child}
	for _, opt := range opts {
		opt(&n)
	}
	return n
}
