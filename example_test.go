package sluice_test

import (
	"context"
	"fmt"

	"github.com/sluicelabs/sluice"
	"github.com/sluicelabs/sluice/pkg/domain"
	"github.com/sluicelabs/sluice/pkg/graph"
)

// An agent loop: a worker refines a value, a router decides whether another
// iteration is needed, and the run completes when the router returns End.
func Example() {
	g, err := graph.New(
		graph.Task("refine", []string{"draft"}, []string{"draft"},
			func(ctx context.Context, in domain.Inputs) (any, error) {
				return in.String("draft") + "+", nil
			}),
		graph.Route("judge", []string{"draft"},
			func(ctx context.Context, in domain.Inputs) ([]string, error) {
				if len(in.String("draft")) < 5 {
					return []string{"refine"}, nil
				}
				return []string{graph.End}, nil
			},
			graph.Target{Name: "refine", Description: "needs another pass"}),
	)
	if err != nil {
		panic(err)
	}

	eng := sluice.New()
	res, err := eng.Run(context.Background(), g, "", map[string]any{"draft": "v"})
	if err != nil {
		panic(err)
	}

	fmt.Println(res.Status)
	fmt.Println(res.Outputs["draft"])
	// Output:
	// completed
	// v++++
}
