package scheduler

// EventType names one entry of the streaming event vocabulary. The engine
// emits plan, assemble_start, final, and stats; the scheduler emits the
// per-task events.
type EventType string

const (
	EventPlan          EventType = "plan"
	EventDecision      EventType = "decision"
	EventTaskStart     EventType = "task_start"
	EventTaskArtifact  EventType = "task_artifact"
	EventTaskVerified  EventType = "task_verified"
	EventTaskRepaired  EventType = "task_repaired"
	EventTaskFailed    EventType = "task_failed"
	EventAssembleStart EventType = "assemble_start"
	EventFinal         EventType = "final"
	EventStats         EventType = "stats"
)

// Event is one streaming event. Payload keys follow the event vocabulary;
// the whole struct serializes as the SSE data payload.
type Event struct {
	Type    EventType      `json:"type"`
	TaskID  string         `json:"task_id,omitempty"`
	Payload map[string]any `json:"payload,omitempty"`
}

// EventBufferSize is the bounded event channel capacity. Emitters block when
// the consumer falls behind; events are never dropped.
const EventBufferSize = 64
