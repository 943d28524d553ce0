// Package player provides unified playback orchestration over the local
// audio engine and Spotify Connect.
package player

// State represents the transport state of the current track.
type State int

const (
	StateIdle    State = iota // No current track
	StateLoading              // Backend transition in progress
	StatePlaying              // Track is playing
	StatePaused               // Track is paused
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateLoading:
		return "loading"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	default:
		return "unknown"
	}
}

// RepeatMode represents the queue repeat behavior.
type RepeatMode int

const (
	RepeatNone RepeatMode = iota // Stop at queue end
	RepeatAll                    // Wrap around at queue end
	RepeatOne                    // Restart the current track
)

// String returns the string representation of the repeat mode.
func (m RepeatMode) String() string {
	switch m {
	case RepeatAll:
		return "all"
	case RepeatOne:
		return "one"
	default:
		return "none"
	}
}

// RemoteValue maps the mode to the Spotify repeat state vocabulary.
func (m RepeatMode) RemoteValue() string {
	switch m {
	case RepeatAll:
		return "context"
	case RepeatOne:
		return "track"
	default:
		return "off"
	}
}

// Next cycles none -> all -> one -> none.
func (m RepeatMode) Next() RepeatMode {
	switch m {
	case RepeatNone:
		return RepeatAll
	case RepeatAll:
		return RepeatOne
	default:
		return RepeatNone
	}
}

// RepeatFromRemote maps the Spotify repeat state back to a mode.
func RepeatFromRemote(s string) RepeatMode {
	switch s {
	case "context":
		return RepeatAll
	case "track":
		return RepeatOne
	default:
		return RepeatNone
	}
}

// RepeatFromString parses the local vocabulary ("none", "all", "one").
func RepeatFromString(s string) (RepeatMode, bool) {
	switch s {
	case "none":
		return RepeatNone, true
	case "all":
		return RepeatAll, true
	case "one":
		return RepeatOne, true
	default:
		return RepeatNone, false
	}
}
