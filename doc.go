/*
Package sluice is a graph execution engine for multi-step workflows, built
around versioned dataflow rather than a program counter.

A workflow is a set of named nodes whose data edges are inferred: a node
declaring parameter "draft" is wired to whichever node declares "draft" as an
output. Every value in state carries a version, and a node re-executes
whenever an input's version exceeds what it last consumed. One scheduling
loop, the superstep, covers strict pipelines, conditional branching, and
cyclic agent-style state machines.

# Concepts

  - Tasks compute values. Branch and Route nodes are gates: they open
    downstream targets instead of producing data, which is how conditional
    and cyclic control flow is expressed.
  - Graph construction validates structure up front: gate targets must
    exist, nodes sharing an output name must be provably mutually exclusive,
    and cycles must have both a termination mechanism and a reachable
    starting point.
  - Each node execution persists as one append-only StepRecord; run state is
    a fold over the log. Recovery is therefore "record present = done,
    absent = redo".
  - Interrupt nodes pause the run for an external response. Resumption is
    not a special execution path: the response lands in state and the same
    loop continues.

# Usage

	package main

	import (
		"context"
		"log"

		"github.com/sluicelabs/sluice"
		"github.com/sluicelabs/sluice/pkg/domain"
		"github.com/sluicelabs/sluice/pkg/graph"
	)

	func main() {
		g, err := graph.New(
			graph.Task("draft", []string{"topic"}, []string{"text"},
				func(ctx context.Context, in domain.Inputs) (any, error) {
					return "a note about " + in.String("topic"), nil
				}),
			graph.Interrupt("approve", "text", "feedback"),
			graph.Task("publish", []string{"feedback"}, []string{"url"},
				func(ctx context.Context, in domain.Inputs) (any, error) {
					return "https://example.com/" + in.String("feedback"), nil
				}),
		)
		if err != nil {
			log.Fatal(err)
		}

		eng := sluice.New()
		ctx := context.Background()

		res, err := eng.Run(ctx, g, "", map[string]any{"topic": "go"})
		if err != nil {
			log.Fatal(err)
		}
		// res.Status is paused; res.Interrupt carries the prompt.

		res, err = eng.Resume(ctx, g, res.WorkflowID, map[string]any{"feedback": "ok"})
		if err != nil {
			log.Fatal(err)
		}
		log.Println(res.Outputs["url"])
	}

Persistence backends live under pkg/adapters (memory, file, redis), metrics
and event streaming under pkg/observability, and a read-only HTTP inspection
surface under pkg/adapters/http.
*/
package sluice
