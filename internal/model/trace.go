package model

// TraceRecord is one entity's visit to one network node, as emitted by the
// simulation engine. A record's node is implied by its position among the
// entity's records.
type TraceRecord struct {
	// EntityID identifies the simulated caller across all of its records.
	EntityID int `json:"entity_id"`

	// ArrivalDate is when the entity started waiting for this node.
	ArrivalDate float64 `json:"arrival_date"`

	// ServiceStartDate is when service began (>= ArrivalDate).
	ServiceStartDate float64 `json:"service_start_date"`

	// ServiceEndDate is when service ended (>= ServiceStartDate).
	ServiceEndDate float64 `json:"service_end_date"`

	// ServerID identifies the resource instance that served the entity.
	ServerID int `json:"server_id"`

	// ExitDate is when the entity left the node. Required on the entity's
	// last record, where it marks departure from the system.
	ExitDate *float64 `json:"exit_date,omitempty"`
}

// WaitingTime returns the time spent queueing for this node.
func (r TraceRecord) WaitingTime() float64 {
	return r.ServiceStartDate - r.ArrivalDate
}

// ServiceTime returns the time spent in service at this node.
func (r TraceRecord) ServiceTime() float64 {
	return r.ServiceEndDate - r.ServiceStartDate
}

// HasExit reports whether the record carries an exit timestamp.
func (r TraceRecord) HasExit() bool {
	return r.ExitDate != nil
}

// TraceCollection is the raw output of one replication.
type TraceCollection []TraceRecord

// Float returns a pointer to v. Handy for ExitDate literals.
func Float(v float64) *float64 {
	return &v
}

// Int returns a pointer to v.
func Int(v int) *int {
	return &v
}
