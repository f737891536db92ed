package pipeline

import "imagin3d/internal/types"

type EventType string

const (
	EventError     EventType = "error"
	EventProgress  EventType = "progress"
	EventWeights   EventType = "weights"
	EventCancelled EventType = "cancelled"
	EventComplete  EventType = "complete"
)

// Event is one message of the extraction stream.
type Event struct {
	Type      EventType `json:"type"`
	Data      any       `json:"data"`
	SessionID string    `json:"session_id,omitempty"`
}

// Terminal reports whether the stream ends after this event.
func (e Event) Terminal() bool {
	switch e.Type {
	case EventError, EventCancelled, EventComplete:
		return true
	}
	return false
}

type ProgressData struct {
	Current int    `json:"current"`
	Total   int    `json:"total"`
	Stage   string `json:"stage"`
}

type WeightsData struct {
	Weights        map[int]types.WeightInfo `json:"weights"`
	ClusterWeights map[int]types.WeightInfo `json:"cluster_weights"`
}

type CompleteData struct {
	Count int    `json:"count"`
	File  string `json:"file"`
}

func errorEvent(msg string) Event     { return Event{Type: EventError, Data: msg} }
func cancelledEvent(msg string) Event { return Event{Type: EventCancelled, Data: msg} }
