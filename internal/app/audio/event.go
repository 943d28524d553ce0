package audio

// EventType represents a local audio engine event type.
type EventType int

const (
	EventLoaded  EventType = iota // Track decoded and playback started
	EventPlaying                  // Playback resumed
	EventPaused                   // Playback paused
	EventEnded                    // Track reached its natural end
	EventFailed                   // Load or playback failed
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventLoaded:
		return "loaded"
	case EventPlaying:
		return "playing"
	case EventPaused:
		return "paused"
	case EventEnded:
		return "ended"
	case EventFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Event represents a discrete engine event. The orchestrator drains these
// from the Events channel and applies state transitions; the engine itself
// decides no playback policy.
type Event struct {
	Type    EventType
	TrackID string
	Err     error
}
