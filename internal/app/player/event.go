package player

import "github.com/20Josy07/harmonia/internal/domain/track"

// EventType represents an orchestrator event type.
type EventType int

const (
	EventTrackChanged      EventType = iota // Current track replaced
	EventStateChanged                       // Transport state changed
	EventQueueChanged                       // Queue contents or order changed
	EventConnectionChanged                  // Remote session connected or lost
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventStateChanged:
		return "state_changed"
	case EventQueueChanged:
		return "queue_changed"
	case EventConnectionChanged:
		return "connection_changed"
	default:
		return "unknown"
	}
}

// Event represents an orchestrator event for UI subscribers.
type Event struct {
	Type      EventType
	Track     *track.Track // Current track (nil for some events)
	State     State
	Connected bool
}
