package stream

import (
	"encoding/json"

	"github.com/capitalize-ai/repochat/internal/apperr"
	"github.com/capitalize-ai/repochat/internal/model"
)

// EventKind identifies a typed stream event.
type EventKind int

const (
	// EventDelta carries a text fragment for the open assistant message.
	EventDelta EventKind = iota + 1
	// EventHistoryUpdated carries the server-confirmed assistant message id.
	EventHistoryUpdated
)

func (k EventKind) String() string {
	switch k {
	case EventDelta:
		return "delta"
	case EventHistoryUpdated:
		return "updated_history"
	default:
		return "unknown"
	}
}

// Event is one interpreted frame.
type Event struct {
	Kind EventKind
	Text string
	ID   string
}

// Interpret maps a frame payload to at most one event. ok is false for
// well-formed payloads of an unrecognized kind. A payload that cannot be
// parsed yields a MALFORMED_FRAME error; callers skip the frame and go on.
func Interpret(payload string) (ev Event, ok bool, err error) {
	var wire model.StreamEvent
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Event{}, false, apperr.Wrap(apperr.CodeMalformedFrame, "stream.Interpret", err)
	}

	switch wire.Status {
	case model.StreamInProgress:
		if len(wire.Delta) == 0 {
			return Event{}, false, apperr.New(apperr.CodeMalformedFrame, "stream.Interpret", "in_progress without delta")
		}
		return Event{Kind: EventDelta, Text: wire.Delta[0].Text.Value}, true, nil
	case model.StreamUpdatedHistory:
		if wire.ID == "" {
			return Event{}, false, apperr.New(apperr.CodeMalformedFrame, "stream.Interpret", "updated_history without id")
		}
		return Event{Kind: EventHistoryUpdated, ID: wire.ID}, true, nil
	default:
		return Event{}, false, nil
	}
}
