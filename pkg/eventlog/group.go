package eventlog

import "github.com/callflow/callflow/internal/model"

// Group is one entity's records in visit order.
type Group struct {
	EntityID int
	Records  []model.TraceRecord
}

// GroupByEntity partitions records by entity in a single pass. Groups are
// returned in order of each entity's first appearance and records keep their
// input order within a group, so the output is deterministic for a given input.
func GroupByEntity(records []model.TraceRecord) []Group {
	index := make(map[int]int, len(records)/2+1)
	groups := make([]Group, 0, len(records)/2+1)

	for _, rec := range records {
		slot, ok := index[rec.EntityID]
		if !ok {
			slot = len(groups)
			index[rec.EntityID] = slot
			groups = append(groups, Group{EntityID: rec.EntityID})
		}
		groups[slot].Records = append(groups[slot].Records, rec)
	}

	return groups
}

// Depth returns the largest number of nodes visited by any entity.
func Depth(groups []Group) int {
	depth := 0
	for _, g := range groups {
		if len(g.Records) > depth {
			depth = len(g.Records)
		}
	}
	return depth
}

// DistinctEvents returns the event names present in entries, in order of
// first appearance.
func DistinctEvents(entries []model.EventLogEntry) []string {
	seen := make(map[string]struct{})
	var events []string
	for _, e := range entries {
		if _, ok := seen[e.Event]; ok {
			continue
		}
		seen[e.Event] = struct{}{}
		events = append(events, e.Event)
	}
	return events
}
