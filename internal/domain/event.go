package domain

import "time"

// InterruptNode is the node name emitted when a run suspends for human
// confirmation.
const InterruptNode = "__interrupt__"

// Event is emitted once per completed node, plus a terminal event for every
// run outcome. The presentation layer renders the stream; the engine never
// lets an error escape the stream without a terminal event.
type Event struct {
	RunID     string         `json:"run_id"`
	Node      string         `json:"node"`
	Status    RunStatus      `json:"status"`
	Summary   string         `json:"summary,omitempty"`
	Delta     map[string]any `json:"state_delta,omitempty"`
	Err       string         `json:"error,omitempty"`
	Timestamp time.Time      `json:"timestamp"`
}

// Interrupt reports whether this event marks the suspend point.
func (e Event) Interrupt() bool {
	return e.Node == InterruptNode
}

// Terminal reports whether this event closes the stream.
func (e Event) Terminal() bool {
	return e.Status.Terminal()
}
