/*
Package ports declares the boundary contracts of the sluice engine, chiefly
the StepStore persistence backend. Adapters (memory, file, redis) implement
these interfaces; the engine depends only on the contracts.

The storetest subpackage provides a reusable conformance suite every adapter
runs against its own backend.
*/
package ports
