package domain

import (
	"context"
	"time"
)

// EventType categorizes observability events.
type EventType string

const (
	EventRunStart     EventType = "run_start"
	EventRunEnd       EventType = "run_end"
	EventNodeStart    EventType = "node_start"
	EventNodeEnd      EventType = "node_end"
	EventGateDecision EventType = "gate_decision"
	EventInterrupt    EventType = "interrupt"
	EventResume       EventType = "resume"
	EventChunk        EventType = "chunk"
)

// EventBase contains common fields for all events.
type EventBase struct {
	Timestamp  time.Time `json:"timestamp"`
	Type       EventType `json:"type"`
	WorkflowID string    `json:"workflow_id"`
}

// RunEvent marks the start or end of a run.
type RunEvent struct {
	EventBase
	Status RunState `json:"status,omitempty"`
	Err    string   `json:"error,omitempty"`
}

// NodeEvent marks a node execution boundary.
type NodeEvent struct {
	EventBase
	Node      string     `json:"node"`
	Superstep int        `json:"superstep"`
	Status    StepStatus `json:"status,omitempty"`
}

// GateEvent records a branch or route decision.
type GateEvent struct {
	EventBase
	Node    string   `json:"node"`
	Targets []string `json:"targets"`
}

// InterruptEvent records a pause or a resume of the run.
type InterruptEvent struct {
	EventBase
	Node          string `json:"node"`
	ResponseParam string `json:"response_param"`
}

// ChunkEvent surfaces one chunk of a streaming node result. Chunk emission
// is an observability signal, not a scheduling suspension.
type ChunkEvent struct {
	EventBase
	Node  string `json:"node"`
	Index int    `json:"index"`
	Chunk any    `json:"chunk"`
}

// Hooks defines callbacks for engine observability. The engine invokes them
// inline; implementations must return promptly and must not influence
// execution outcome.
type Hooks struct {
	OnRunStart     func(context.Context, *RunEvent)
	OnRunEnd       func(context.Context, *RunEvent)
	OnNodeStart    func(context.Context, *NodeEvent)
	OnNodeEnd      func(context.Context, *NodeEvent)
	OnGateDecision func(context.Context, *GateEvent)
	OnInterrupt    func(context.Context, *InterruptEvent)
	OnResume       func(context.Context, *InterruptEvent)
	OnChunk        func(context.Context, *ChunkEvent)
}

// Merge layers other's callbacks after h's, so multiple observers can be
// registered without the caller composing closures by hand.
func (h Hooks) Merge(other Hooks) Hooks {
	return Hooks{
		OnRunStart:     chain(h.OnRunStart, other.OnRunStart),
		OnRunEnd:       chain(h.OnRunEnd, other.OnRunEnd),
		OnNodeStart:    chain(h.OnNodeStart, other.OnNodeStart),
		OnNodeEnd:      chain(h.OnNodeEnd, other.OnNodeEnd),
		OnGateDecision: chain(h.OnGateDecision, other.OnGateDecision),
		OnInterrupt:    chain(h.OnInterrupt, other.OnInterrupt),
		OnResume:       chain(h.OnResume, other.OnResume),
		OnChunk:        chain(h.OnChunk, other.OnChunk),
	}
}

func chain[E any](a, b func(context.Context, *E)) func(context.Context, *E) {
	if a == nil {
		return b
	}
	if b == nil {
		return a
	}
	return func(ctx context.Context, ev *E) {
		a(ctx, ev)
		b(ctx, ev)
	}
}
