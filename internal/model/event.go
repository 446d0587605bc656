package model

import "time"

// EventKind identifies the state transition an event describes
type EventKind string

const (
	EventRecordStored  EventKind = "record_stored"
	EventRecordDeleted EventKind = "record_deleted"
	EventFieldChanged  EventKind = "field_changed"
	EventEdgeLinked    EventKind = "edge_linked"
	EventEdgeUnlinked  EventKind = "edge_unlinked"
)

// Event is an ephemeral notification payload. Events are not persisted.
type Event struct {
	Kind      EventKind
	Key       string
	Field     string // set for EventFieldChanged
	OldValue  any
	NewValue  any
	OldRecord Record // set for record-level events
	NewRecord Record
	Edge      *RelationshipEdge // set for edge events
	Identity  string
	Timestamp time.Time
}
