/*
Package graph defines the immutable structural model of a sluice workflow:
nodes, data edges inferred purely from parameter/output name matching, and
control edges derived from branch and route declarations.

Construction and validation happen once, in New. Validation is exhaustive:
gate targets must exist, shared outputs must be provably mutually exclusive
through transitive gate ancestry, cycles must have a reachable termination
and a valid starting point, and self-consuming nodes must be protected by
either sole producership or a gate. A graph accepted here cannot fail
structurally at run time.
*/
package graph
