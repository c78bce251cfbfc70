// Package eventlog reconstructs the canonical event log consumed by the
// animation layer from per-entity, per-node trace records.
//
// For an entity that visited k nodes the log holds 1 + 3k + 1 entries:
//
//	arrival
//	{node}_wait_begins, {node}_begins, {node}_ends   (once per node)
//	depart
//
// Entries for one entity are contiguous and in causal order. The order of
// entity blocks follows each entity's first appearance in the input.
package eventlog

import (
	"math"
	"strings"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
)

// Builder turns trace records into event log entries. A Builder holds only
// immutable configuration and is safe for concurrent use.
type Builder struct {
	nodeNames []string
	pathway   string
}

// Option configures a Builder.
type Option func(*Builder)

// WithPathway overrides the pathway label written on every entry.
func WithPathway(pathway string) Option {
	return func(b *Builder) {
		if pathway != "" {
			b.pathway = pathway
		}
	}
}

// NewBuilder creates a Builder for an ordered list of node labels.
// Labels must be non-empty and unique, otherwise event names would collide.
func NewBuilder(nodeNames []string, opts ...Option) (*Builder, error) {
	seen := make(map[string]struct{}, len(nodeNames))
	for i, name := range nodeNames {
		if strings.TrimSpace(name) == "" {
			return nil, errors.InvalidConfig("node_names", i, "node label must not be empty")
		}
		if _, dup := seen[name]; dup {
			return nil, errors.InvalidConfig("node_names", name, "duplicate node label")
		}
		seen[name] = struct{}{}
	}

	b := &Builder{
		nodeNames: append([]string(nil), nodeNames...),
		pathway:   model.DefaultPathway,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b, nil
}

// NodeNames returns a copy of the configured node labels.
func (b *Builder) NodeNames() []string {
	return append([]string(nil), b.nodeNames...)
}

// Build expands records into the event log.
//
// It fails with CodeNodeLabelMismatch when some entity visited more nodes
// than there are labels, and with CodeMalformedRecord when a record breaks
// the timestamp ordering the engine guarantees. Empty input yields an empty
// log.
func (b *Builder) Build(records []model.TraceRecord) ([]model.EventLogEntry, error) {
	if len(records) == 0 {
		return []model.EventLogEntry{}, nil
	}

	groups := GroupByEntity(records)
	if depth := Depth(groups); depth > len(b.nodeNames) {
		return nil, errors.NodeLabelMismatch(len(b.nodeNames), depth)
	}

	for _, g := range groups {
		if err := checkGroup(g); err != nil {
			return nil, err
		}
	}

	entries := make([]model.EventLogEntry, 0, 2*len(groups)+3*len(records))
	for _, g := range groups {
		entries = b.appendEntity(entries, g)
	}
	return entries, nil
}

// appendEntity emits one entity's block. The group has been checked.
func (b *Builder) appendEntity(dst []model.EventLogEntry, g Group) []model.EventLogEntry {
	first := g.Records[0]
	dst = append(dst, b.entry(g.EntityID, model.EventTypeArrivalDeparture, model.EventArrival, first.ArrivalDate, nil))

	for i, rec := range g.Records {
		node := b.nodeNames[i]
		dst = append(dst,
			b.entry(g.EntityID, model.EventTypeQueue, node+model.SuffixWaitBegins, rec.ArrivalDate, nil),
			b.entry(g.EntityID, model.EventTypeResourceUse, node+model.SuffixBegins, rec.ServiceStartDate, model.Int(rec.ServerID)),
			b.entry(g.EntityID, model.EventTypeResourceUse, node+model.SuffixEnds, rec.ServiceEndDate, model.Int(rec.ServerID)),
		)
	}

	last := g.Records[len(g.Records)-1]
	return append(dst, b.entry(g.EntityID, model.EventTypeArrivalDeparture, model.EventDepart, *last.ExitDate, nil))
}

func (b *Builder) entry(patient int, typ model.EventType, event string, t float64, resource *int) model.EventLogEntry {
	return model.EventLogEntry{
		Patient:    patient,
		Pathway:    b.pathway,
		EventType:  typ,
		Event:      event,
		Time:       t,
		ResourceID: resource,
	}
}

// checkGroup verifies the engine's ordering guarantees for one entity:
// arrival <= start <= end within a record, each arrival no earlier than the
// previous service end, and an exit on the last record no earlier than its
// service end.
func checkGroup(g Group) error {
	prevEnd := 0.0
	for i, rec := range g.Records {
		switch {
		case !finite(rec.ArrivalDate, rec.ServiceStartDate, rec.ServiceEndDate):
			return errors.MalformedRecord(g.EntityID, i, "timestamps must be finite")
		case rec.ServiceStartDate < rec.ArrivalDate:
			return errors.MalformedRecord(g.EntityID, i, "service starts before arrival")
		case rec.ServiceEndDate < rec.ServiceStartDate:
			return errors.MalformedRecord(g.EntityID, i, "service ends before it starts")
		case i > 0 && rec.ArrivalDate < prevEnd:
			return errors.MalformedRecord(g.EntityID, i, "arrival precedes previous service end")
		}
		prevEnd = rec.ServiceEndDate
	}

	last := g.Records[len(g.Records)-1]
	if !last.HasExit() {
		return errors.MalformedRecord(g.EntityID, len(g.Records)-1, "last record has no exit date")
	}
	if !finite(*last.ExitDate) {
		return errors.MalformedRecord(g.EntityID, len(g.Records)-1, "exit date must be finite")
	}
	if *last.ExitDate < last.ServiceEndDate {
		return errors.MalformedRecord(g.EntityID, len(g.Records)-1, "exit precedes service end")
	}
	return nil
}

func finite(values ...float64) bool {
	for _, v := range values {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return false
		}
	}
	return true
}

// Build is a convenience wrapper around NewBuilder and Builder.Build using
// the default pathway.
func Build(records []model.TraceRecord, nodeNames []string) ([]model.EventLogEntry, error) {
	b, err := NewBuilder(nodeNames)
	if err != nil {
		return nil, err
	}
	return b.Build(records)
}
