package agent

// EventType discriminates the side-channel annotations emitted during a run.
type EventType string

const (
	EventAction  EventType = "action"
	EventSources EventType = "sources"
	EventUsage   EventType = "usage"
)

// Event is a fire-and-forget notification for transport layers: chosen
// actions with reasoning, newly discovered sources, and running token totals.
type Event struct {
	Type        EventType `json:"type"`
	Step        int       `json:"step,omitempty"`
	Action      string    `json:"action,omitempty"`
	Reasoning   string    `json:"reasoning,omitempty"`
	Plan        string    `json:"plan,omitempty"`
	Queries     []string  `json:"queries,omitempty"`
	Sources     []string  `json:"sources,omitempty"`
	TotalTokens int       `json:"totalTokens,omitempty"`
}

func emit(onEvent func(Event), event Event) {
	if onEvent != nil {
		onEvent(event)
	}
}
