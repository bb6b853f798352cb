package playback

// EventType represents a session change type.
type EventType int

const (
	EventTrackChanged    EventType = iota // Current track replaced by a different value
	EventTrackRestarted                   // Same track restarts from position 0
	EventStateChanged                     // Playing flag flipped
	EventQueueChanged                     // Queue replaced
	EventSeeked                           // Explicit seek requested
	EventPositionChanged                  // Position reported by the backend
	EventDurationChanged                  // Duration reported by the backend
	EventVolumeChanged                    // Volume set
	EventModeChanged                      // Shuffle or repeat changed
	EventPlaybackFailed                   // Load or start failed, playback stopped
)

// String returns the string representation of the event type.
func (e EventType) String() string {
	switch e {
	case EventTrackChanged:
		return "track_changed"
	case EventTrackRestarted:
		return "track_restarted"
	case EventStateChanged:
		return "state_changed"
	case EventQueueChanged:
		return "queue_changed"
	case EventSeeked:
		return "seeked"
	case EventPositionChanged:
		return "position_changed"
	case EventDurationChanged:
		return "duration_changed"
	case EventVolumeChanged:
		return "volume_changed"
	case EventModeChanged:
		return "mode_changed"
	case EventPlaybackFailed:
		return "playback_failed"
	default:
		return "unknown"
	}
}

// Event represents a session change together with the state right after it.
type Event struct {
	Type     EventType
	Snapshot Snapshot
	Err      error // Set for EventPlaybackFailed
}
