package graph

import (
	"sort"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// Requirement is one (gate, decision) pair controlling a node. For a branch
// the decisions are "true" and "false"; for a route each declared target name
// is its own decision.
type Requirement struct {
	Gate     string
	Decision string
}

// Graph is the immutable structural definition of a workflow: nodes, data
// edges inferred from parameter/output name matching, and control edges
// derived from gate declarations. Build it once with New; it is never
// mutated afterwards.
type Graph struct {
	nodes map[string]*Node
	order []string

	// producers maps a value name to the sorted nodes that statically
	// produce it.
	producers map[string][]string
	// consumers maps a parameter name to the sorted nodes that consume it.
	consumers map[string][]string
	// controls maps a node to the direct (gate, decision) pairs that open it.
	controls map[string][]Requirement
	// succ is the combined digraph: data edges (producer -> consumer) plus
	// control edges (gate -> target).
	succ map[string][]string

	requirements map[string]map[Requirement]bool
}

// New builds and validates a graph. It returns a *domain.ConfigurationError
// on the first structural violation found; a graph that New accepts can
// never fail for structural reasons at run time (run-time conflict detection
// remains, because caller-supplied inputs can defeat the static proof).
func New(nodes ...Node) (*Graph, error) {
	g := &Graph{
		nodes:        make(map[string]*Node, len(nodes)),
		producers:    make(map[string][]string),
		consumers:    make(map[string][]string),
		controls:     make(map[string][]Requirement),
		succ:         make(map[string][]string),
		requirements: make(map[string]map[Requirement]bool),
	}

	for i := range nodes {
		n := nodes[i]
		if n.Name == "" {
			return nil, &domain.ConfigurationError{Reason: "node with empty name"}
		}
		if _, dup := g.nodes[n.Name]; dup {
			return nil, &domain.ConfigurationError{Node: n.Name, Reason: "duplicate node name"}
		}
		g.nodes[n.Name] = &n
		g.order = append(g.order, n.Name)
	}
	sort.Strings(g.order)

	g.index()
	if err := g.validate(); err != nil {
		return nil, err
	}
	return g, nil
}

// index derives data and control edges. Pure name matching; no manual wiring.
func (g *Graph) index() {
	for _, name := range g.order {
		n := g.nodes[name]
		for _, out := range n.Outputs {
			g.producers[out] = append(g.producers[out], name)
		}
		for _, p := range n.Params {
			g.consumers[p] = append(g.consumers[p], name)
		}
		for _, req := range directControls(n) {
			if req.target == "" || req.target == End {
				continue
			}
			g.controls[req.target] = append(g.controls[req.target], Requirement{Gate: name, Decision: req.decision})
			g.succ[name] = append(g.succ[name], req.target)
		}
	}

	// Data edges: producer -> every consumer of the produced name.
	for out, prods := range g.producers {
		for _, p := range prods {
			g.succ[p] = append(g.succ[p], g.consumers[out]...)
		}
	}

	for k := range g.succ {
		sort.Strings(g.succ[k])
	}
}

type controlEdge struct {
	decision string
	target   string
}

func directControls(n *Node) []controlEdge {
	switch n.Kind {
	case KindBranch:
		return []controlEdge{
			{decision: "true", target: n.IfTrue},
			{decision: "false", target: n.IfFalse},
		}
	case KindRoute:
		edges := make([]controlEdge, 0, len(n.Targets))
		for _, t := range n.Targets {
			edges = append(edges, controlEdge{decision: t.Name, target: t.Name})
		}
		return edges
	default:
		return nil
	}
}

// Nodes returns node names in deterministic (alphabetical) order.
func (g *Graph) Nodes() []string {
	return append([]string(nil), g.order...)
}

// Node returns the named node, or nil.
func (g *Graph) Node(name string) *Node {
	return g.nodes[name]
}

// Producers returns the nodes that statically produce the named value.
func (g *Graph) Producers(name string) []string {
	return g.producers[name]
}

// SoleProducer reports whether node is the unique static producer of name.
// Staleness checks skip such self-consumed values, which is what lets an
// accumulator node terminate instead of re-triggering off its own writes.
func (g *Graph) SoleProducer(node, name string) bool {
	p := g.producers[name]
	return len(p) == 1 && p[0] == node
}

// Controls returns the direct (gate, decision) pairs that open the node.
// A node with controls only runs while it is in the open gate set.
func (g *Graph) Controls(node string) []Requirement {
	return g.controls[node]
}

// Requirements computes the transitive gate requirements of a node: its
// direct controls unioned with the requirements of everything it
// data-depends on. This is the basis of the mutual-exclusivity proof and
// keeps branches-of-branches provably exclusive at any depth.
func (g *Graph) Requirements(node string) map[Requirement]bool {
	if req, ok := g.requirements[node]; ok {
		return req
	}
	visiting := make(map[string]bool)
	req := g.collectRequirements(node, visiting)
	g.requirements[node] = req
	return req
}

func (g *Graph) collectRequirements(node string, visiting map[string]bool) map[Requirement]bool {
	if cached, ok := g.requirements[node]; ok {
		return cached
	}
	if visiting[node] {
		// Cycle member: contribute nothing further along this path.
		return nil
	}
	visiting[node] = true
	defer delete(visiting, node)

	req := make(map[Requirement]bool)
	for _, r := range g.controls[node] {
		req[r] = true
	}
	n := g.nodes[node]
	if n == nil {
		return req
	}
	for _, p := range n.Params {
		for _, producer := range g.producers[p] {
			if producer == node {
				continue
			}
			for r := range g.collectRequirements(producer, visiting) {
				req[r] = true
			}
		}
	}
	return req
}

// MutuallyExclusive reports whether two nodes can never be reached in the
// same run: their requirement sets contain opposing decisions from a common
// gate.
func (g *Graph) MutuallyExclusive(a, b string) bool {
	ra := g.Requirements(a)
	rb := g.Requirements(b)
	for x := range ra {
		for y := range rb {
			if x.Gate == y.Gate && x.Decision != y.Decision {
				return true
			}
		}
	}
	return false
}

// ExternalParams returns the sorted parameter names that no node produces.
// They must be supplied by the caller (interrupt response parameters are the
// one exception: they arrive on resume).
func (g *Graph) ExternalParams() []string {
	var out []string
	for p := range g.consumers {
		if len(g.producers[p]) == 0 {
			out = append(out, p)
		}
	}
	sort.Strings(out)
	return out
}

// Leaves returns the sorted nodes with no outgoing data or control edges.
func (g *Graph) Leaves() []string {
	var out []string
	for _, name := range g.order {
		if len(g.succ[name]) == 0 {
			out = append(out, name)
		}
	}
	return out
}
