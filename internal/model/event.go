package model

// StreamStatus is the kind of a streamed event frame.
type StreamStatus string

const (
	StreamInProgress     StreamStatus = "in_progress"
	StreamUpdatedHistory StreamStatus = "updated_history"
)

// EventMarker prefixes every event line of a query response.
const EventMarker = "data:"

// StreamEvent is the JSON payload carried by one event line.
type StreamEvent struct {
	Status StreamStatus `json:"status"`
	Delta  []DeltaPart  `json:"delta,omitempty"`
	ID     string       `json:"id,omitempty"`
}

// DeltaPart is one element of an in_progress delta list.
type DeltaPart struct {
	Text DeltaText `json:"text"`
}

// DeltaText holds a text fragment.
type DeltaText struct {
	Value string `json:"value"`
}

// NewDeltaEvent builds an in_progress event carrying text.
func NewDeltaEvent(text string) StreamEvent {
	return StreamEvent{
		Status: StreamInProgress,
		Delta:  []DeltaPart{{Text: DeltaText{Value: text}}},
	}
}

// NewHistoryEvent builds an updated_history event carrying the final id.
func NewHistoryEvent(id string) StreamEvent {
	return StreamEvent{Status: StreamUpdatedHistory, ID: id}
}
