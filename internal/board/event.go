package board

// EventType classifies a change-feed event.
type EventType string

const (
	EventInsert EventType = "INSERT"
	EventUpdate EventType = "UPDATE"
	EventDelete EventType = "DELETE"
)

// Event is one note mutation delivered by the change feed. New is set for
// inserts and updates, Old for updates and deletes; either may be nil when
// the feed's payload is insufficient.
type Event struct {
	Type EventType
	New  *Note
	Old  *Note
}

// NoteID returns the id the event refers to, preferring the new row.
func (e Event) NoteID() string {
	if e.New != nil && e.New.ID != "" {
		return e.New.ID
	}
	if e.Old != nil {
		return e.Old.ID
	}
	return ""
}
