package runtime

import (
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

// graphState is the per-run mutable store: versioned values, per-node
// execution snapshots, and the currently open gate targets. It is owned
// exclusively by one engine invocation; every mutation is the side effect of
// a node execution (or a caller-supplied input write), never an external API.
type graphState struct {
	values domain.Values
	// executed snapshots, per node, the input versions consumed by its last
	// execution.
	executed map[string]map[string]int
	// open holds the gate targets currently allowed to run. Openings are
	// one-shot: a target is removed when it executes.
	open map[string]bool
}

func newGraphState() *graphState {
	return &graphState{
		values:   make(domain.Values),
		executed: make(map[string]map[string]int),
		open:     make(map[string]bool),
	}
}

func (s *graphState) write(name string, value any) int {
	return s.values.Write(name, value)
}

func (s *graphState) recordExecution(node string, snapshot map[string]int) {
	s.executed[node] = snapshot
}

// snapshot captures the versions of the node's parameters as currently
// resident in state.
func (s *graphState) snapshot(params []string) map[string]int {
	snap := make(map[string]int, len(params))
	for _, p := range params {
		snap[p] = s.values.Version(p)
	}
	return snap
}

// stale reports whether the node needs to (re)execute: never executed, or
// some input's version exceeds the version recorded at its last run. Inputs
// the node itself solely produces are skipped, which lets an accumulator
// settle instead of re-triggering off its own writes.
func (s *graphState) stale(g *graph.Graph, name string, n *graph.Node) bool {
	last, ok := s.executed[name]
	if !ok {
		return true
	}
	for _, p := range n.Params {
		if g.SoleProducer(name, p) {
			continue
		}
		if s.values.Version(p) > last[p] {
			return true
		}
	}
	return false
}

// inputsFor materializes the node's current input values.
func (s *graphState) inputsFor(n *graph.Node) domain.Inputs {
	in := make(domain.Inputs, len(n.Params))
	for _, p := range n.Params {
		if v, ok := s.values.Get(p); ok {
			in[p] = v
		}
	}
	return in
}
