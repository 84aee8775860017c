/*
Package domain holds the value, record, event and error model shared by the
sluice engine, its persistence adapters and its observers.

The central shapes are VersionedValue (a value plus its strictly increasing
write version), StepRecord (the append-only persistence unit: one node
execution, written exactly once upon completion), and WorkflowStatus (the
persisted run state, including a pending interrupt descriptor).

Every state change in a run is the side effect of exactly one node execution,
so every value in a reconstructed state is traceable to exactly one
StepRecord. There is no external state-mutation API.
*/
package domain
