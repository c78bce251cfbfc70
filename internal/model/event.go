// Package model defines core data structures for callflow.
package model

// EventType classifies an event log entry for the animation layer.
type EventType string

const (
	EventTypeArrivalDeparture EventType = "arrival_departure"
	EventTypeQueue            EventType = "queue"
	EventTypeResourceUse      EventType = "resource_use"
)

// Lifecycle event names that do not depend on a node label.
const (
	EventArrival = "arrival"
	EventDepart  = "depart"
)

// Suffixes appended to a node label to form per-node event names.
const (
	SuffixWaitBegins = "_wait_begins"
	SuffixBegins     = "_begins"
	SuffixEnds       = "_ends"
)

// DefaultPathway is the pathway label written on every entry.
const DefaultPathway = "Model"

// EventLogEntry is one row of the canonical event log.
// Field names mirror the columns the animation layer expects.
type EventLogEntry struct {
	// Patient is the entity identifier.
	Patient int `json:"patient"`

	// Pathway is a constant label for the whole log.
	Pathway string `json:"pathway"`

	EventType EventType `json:"event_type"`
	Event     string    `json:"event"`

	// Time is simulation time, in the engine's time unit.
	Time float64 `json:"time"`

	// ResourceID identifies the server instance. Only set on
	// resource_use entries.
	ResourceID *int `json:"resource_id,omitempty"`
}

// HasResource reports whether the entry carries a resource identifier.
func (e EventLogEntry) HasResource() bool {
	return e.ResourceID != nil
}

// EventLogColumns are the column names of the event log table, in order.
var EventLogColumns = []string{"patient", "pathway", "event_type", "event", "time", "resource_id"}
