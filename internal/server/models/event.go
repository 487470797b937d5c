package models

// Event names a user-facing notification.
type Event string

const (
	EventSignup        Event = "signup"
	EventFileProcessed Event = "file_processed"
	EventFileFailed    Event = "file_failed"
)

// EventForStatus maps a terminal status to the event announcing it.
func EventForStatus(s Status) (Event, bool) {
	switch s {
	case StatusProcessed:
		return EventFileProcessed, true
	case StatusFailed:
		return EventFileFailed, true
	default:
		return "", false
	}
}
