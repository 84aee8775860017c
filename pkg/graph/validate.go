package graph

import (
	"fmt"
	"sort"
	"strings"

	"github.com/sluicelabs/sluice/pkg/domain"
)

// validate runs every build-time check, in an order that yields the most
// specific error first. A graph rejected here never reaches execution.
func (g *Graph) validate() error {
	if err := g.checkNodeShapes(); err != nil {
		return err
	}
	if err := g.checkGateTargets(); err != nil {
		return err
	}
	if err := g.checkSelfReference(); err != nil {
		return err
	}
	if err := g.checkSharedOutputs(); err != nil {
		return err
	}
	if err := g.checkCycles(); err != nil {
		return err
	}
	return g.checkStopPolicy()
}

func (g *Graph) checkNodeShapes() error {
	for _, name := range g.order {
		n := g.nodes[name]
		if strings.HasPrefix(name, "__") {
			return &domain.ConfigurationError{Node: name, Reason: "names beginning with __ are reserved"}
		}
		switch n.Kind {
		case KindTask:
			if n.Run == nil {
				return &domain.ConfigurationError{Node: name, Reason: "task has no function"}
			}
		case KindBranch:
			if n.Branch == nil {
				return &domain.ConfigurationError{Node: name, Reason: "branch has no decision function"}
			}
		case KindRoute:
			if n.Route == nil {
				return &domain.ConfigurationError{Node: name, Reason: "route has no decision function"}
			}
			if len(n.Targets) == 0 {
				return &domain.ConfigurationError{Node: name, Reason: "route declares no targets"}
			}
		case KindInterrupt:
			if n.Prompt == "" || n.ResponseParam == "" {
				return &domain.ConfigurationError{Node: name, Reason: "interrupt requires a prompt and a response parameter"}
			}
		case KindSubgraph:
			if n.Child == nil {
				return &domain.ConfigurationError{Node: name, Reason: "subgraph has no child graph"}
			}
			for _, out := range n.Outputs {
				if len(n.Child.producers[out]) == 0 {
					return &domain.ConfigurationError{Node: name,
						Reason: fmt.Sprintf("subgraph output %q is produced by no child node", out)}
				}
			}
		default:
			return &domain.ConfigurationError{Node: name, Reason: fmt.Sprintf("unknown node kind %q", n.Kind)}
		}
	}
	return nil
}

func (g *Graph) checkGateTargets() error {
	for _, name := range g.order {
		n := g.nodes[name]
		switch n.Kind {
		case KindBranch:
			for _, target := range []string{n.IfTrue, n.IfFalse} {
				if target == "" {
					return &domain.ConfigurationError{Node: name, Reason: "branch requires both targets"}
				}
				if g.nodes[target] == nil {
					return &domain.ConfigurationError{Node: name,
						Reason: fmt.Sprintf("branch target %q does not exist", target)}
				}
			}
		case KindRoute:
			for _, t := range n.Targets {
				if t.Name == End {
					return &domain.ConfigurationError{Node: name,
						Reason: "the termination sentinel is implicit and must not be declared as a target"}
				}
				if g.nodes[t.Name] == nil {
					return &domain.ConfigurationError{Node: name,
						Reason: fmt.Sprintf("route target %q does not exist", t.Name)}
				}
			}
		}
	}
	return nil
}

// checkSelfReference rejects nodes that would re-trigger off their own
// writes forever: consumers of a value they co-produce with other nodes
// (the sole-producer staleness exception does not apply), unless a gate can
// break the loop.
func (g *Graph) checkSelfReference() error {
	for _, name := range g.order {
		n := g.nodes[name]
		for _, p := range n.Params {
			if !contains(n.Outputs, p) {
				continue
			}
			if g.SoleProducer(name, p) {
				continue // protected by the sole-producer rule
			}
			if len(g.controls[name]) > 0 {
				continue // a gate decides whether it re-runs
			}
			return &domain.ConfigurationError{Node: name,
				Reason: fmt.Sprintf("consumes its own output %q without sole producership or a protecting gate", p)}
		}
	}
	return nil
}

func (g *Graph) checkSharedOutputs() error {
	names := make([]string, 0, len(g.producers))
	for out := range g.producers {
		names = append(names, out)
	}
	sort.Strings(names)

	for _, out := range names {
		prods := g.producers[out]
		for i := 0; i < len(prods); i++ {
			for j := i + 1; j < len(prods); j++ {
				if !g.MutuallyExclusive(prods[i], prods[j]) {
					return &domain.ConfigurationError{Node: prods[i],
						Reason: fmt.Sprintf("output %q is also produced by %q and the two are not mutually exclusive",
							out, prods[j])}
				}
			}
		}
	}
	return nil
}

// cycleSucc is the digraph used for cycle analysis. It differs from succ in
// one way: a data self-edge on a sole-produced name is omitted, because the
// sole-producer staleness rule guarantees that edge never re-triggers.
func (g *Graph) cycleSucc() map[string][]string {
	out := make(map[string][]string, len(g.succ))
	for from, tos := range g.succ {
		for _, to := range tos {
			if to == from && g.selfEdgeSoleProducedOnly(from) {
				continue
			}
			out[from] = append(out[from], to)
		}
	}
	return out
}

func (g *Graph) selfEdgeSoleProducedOnly(node string) bool {
	n := g.nodes[node]
	self := false
	for _, p := range n.Params {
		if !contains(n.Outputs, p) {
			continue
		}
		self = true
		if !g.SoleProducer(node, p) {
			return false
		}
	}
	return self
}

func (g *Graph) checkCycles() error {
	succ := g.cycleSucc()
	for _, scc := range stronglyConnected(g.order, succ) {
		if len(scc) == 1 && !contains(succ[scc[0]], scc[0]) {
			continue
		}
		if err := g.checkCycleTermination(scc, succ); err != nil {
			return err
		}
		if err := g.checkCycleStart(scc); err != nil {
			return err
		}
	}
	return nil
}

// checkCycleTermination requires a reachable way out of the cycle: a route
// member (which may always return End), or a path to a leaf.
func (g *Graph) checkCycleTermination(scc []string, succ map[string][]string) error {
	for _, m := range scc {
		if g.nodes[m].Kind == KindRoute {
			return nil
		}
	}
	seen := make(map[string]bool)
	stack := append([]string(nil), scc...)
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		if seen[cur] {
			continue
		}
		seen[cur] = true
		if len(succ[cur]) == 0 {
			return nil // leaf reachable
		}
		stack = append(stack, succ[cur]...)
	}
	return &domain.ConfigurationError{Node: scc[0],
		Reason: fmt.Sprintf("cycle %v has no route able to terminate and no path to a leaf", scc)}
}

// checkCycleStart requires at least one member executable using only inputs
// external to the cycle. Data inputs are always externally satisfiable (the
// caller may seed any value, and a missing seed is a run-time
// MissingInputError), so the unbreakable deadlock is a cycle whose every
// member waits on a gate that sits inside the cycle itself.
func (g *Graph) checkCycleStart(scc []string) error {
	inCycle := make(map[string]bool, len(scc))
	for _, m := range scc {
		inCycle[m] = true
	}
	for _, m := range scc {
		if g.startableOutside(m, inCycle) {
			return nil
		}
	}
	return &domain.ConfigurationError{Node: scc[0],
		Reason: fmt.Sprintf("cycle %v has no valid starting point: every member is blocked by a gate inside the cycle", scc)}
}

func (g *Graph) startableOutside(node string, inCycle map[string]bool) bool {
	controls := g.controls[node]
	if len(controls) == 0 {
		return true
	}
	for _, r := range controls {
		if !inCycle[r.Gate] {
			return true // an outside gate can open it
		}
	}
	return false
}

// checkStopPolicy enforces that a subgraph opting into complete-on-stop has
// the policy enabled at every deeper nesting level as well. A stop signal
// must never silently abandon a descendant mid-flight while an ancestor
// waits for completion.
func (g *Graph) checkStopPolicy() error {
	for _, name := range g.order {
		n := g.nodes[name]
		if n.Kind != KindSubgraph || !n.ChildCompleteOnStop {
			continue
		}
		if err := requireCompleteOnStop(n.Child, name); err != nil {
			return err
		}
	}
	return nil
}

// RequireCompleteOnStop verifies that every subgraph node in g enables the
// complete-on-stop policy. The engine calls this when the policy is enabled
// at the outermost level.
func (g *Graph) RequireCompleteOnStop() error {
	return requireCompleteOnStop(g, "")
}

func requireCompleteOnStop(g *Graph, parent string) error {
	for _, name := range g.order {
		n := g.nodes[name]
		if n.Kind != KindSubgraph {
			continue
		}
		if !n.ChildCompleteOnStop {
			reason := "complete-on-stop is enabled at an outer level but not on this subgraph"
			if parent != "" {
				reason = fmt.Sprintf("complete-on-stop is enabled on %q but not on this nested subgraph", parent)
			}
			return &domain.ConfigurationError{Node: name, Reason: reason}
		}
		if err := requireCompleteOnStop(n.Child, name); err != nil {
			return err
		}
	}
	return nil
}

// stronglyConnected returns the strongly connected components of the
// digraph, each sorted, in deterministic order (Tarjan).
func stronglyConnected(order []string, succ map[string][]string) [][]string {
	index := make(map[string]int, len(order))
	low := make(map[string]int, len(order))
	onStack := make(map[string]bool, len(order))
	var stack []string
	var components [][]string
	next := 0

	var strongconnect func(v string)
	strongconnect = func(v string) {
		index[v] = next
		low[v] = next
		next++
		stack = append(stack, v)
		onStack[v] = true

		for _, w := range succ[v] {
			if _, seen := index[w]; !seen {
				strongconnect(w)
				if low[w] < low[v] {
					low[v] = low[w]
				}
			} else if onStack[w] && index[w] < low[v] {
				low[v] = index[w]
			}
		}

		if low[v] == index[v] {
			var scc []string
			for {
				w := stack[len(stack)-1]
				stack = stack[:len(stack)-1]
				onStack[w] = false
				scc = append(scc, w)
				if w == v {
					break
				}
			}
			sort.Strings(scc)
			components = append(components, scc)
		}
	}

	for _, v := range order {
		if _, seen := index[v]; !seen {
			strongconnect(v)
		}
	}
	return components
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
