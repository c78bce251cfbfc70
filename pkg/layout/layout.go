// Package layout describes where each event of the event log is drawn by the
// animation renderer, and which resource pools back the drawn stages.
package layout

import (
	"sort"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/eventlog"
)

// Resource pool names a layout may reference.
const (
	PoolOperators = "n_operators"
	PoolNurses    = "n_nurses"
)

// ExitEvent is the layout event under which departing entities are drawn.
const ExitEvent = "exit"

// Position places one event on the animation canvas.
type Position struct {
	Event    string  `yaml:"event" json:"event"`
	X        float64 `yaml:"x" json:"x"`
	Y        float64 `yaml:"y" json:"y"`
	Label    string  `yaml:"label" json:"label"`
	Resource string  `yaml:"resource,omitempty" json:"resource,omitempty"`
}

// Scenario carries the resource capacities the renderer draws as slots.
type Scenario struct {
	Operators int `json:"n_operators"`
	Nurses    int `json:"n_nurses"`
}

// Capacity returns the size of the named pool.
func (s Scenario) Capacity(pool string) (int, bool) {
	switch pool {
	case PoolOperators:
		return s.Operators, true
	case PoolNurses:
		return s.Nurses, true
	default:
		return 0, false
	}
}

// Default returns the call-centre layout.
func Default() []Position {
	return []Position{
		{Event: model.EventArrival, X: 30, Y: 350, Label: "Arrival"},
		{Event: "operator" + model.SuffixWaitBegins, X: 220, Y: 270, Label: "Waiting for Operator"},
		{Event: "operator" + model.SuffixBegins, X: 220, Y: 210, Label: "Speaking to operator", Resource: PoolOperators},
		{Event: "nurse" + model.SuffixWaitBegins, X: 220, Y: 110, Label: "Waiting for Nurse"},
		{Event: "nurse" + model.SuffixBegins, X: 220, Y: 50, Label: "Speaking to Nurse", Resource: PoolNurses},
		{Event: ExitEvent, X: 270, Y: 10, Label: "Exit"},
	}
}

// Validate rejects duplicate events, empty event names and resource pools the
// scenario does not define.
func Validate(positions []Position, scenario Scenario) error {
	seen := make(map[string]struct{}, len(positions))
	for i, p := range positions {
		if p.Event == "" {
			return errors.InvalidConfig("animation.layout", i, "layout entry has no event")
		}
		if _, dup := seen[p.Event]; dup {
			return errors.InvalidConfig("animation.layout", p.Event, "event positioned twice")
		}
		seen[p.Event] = struct{}{}

		if p.Resource == "" {
			continue
		}
		capacity, ok := scenario.Capacity(p.Resource)
		if !ok {
			return errors.InvalidConfig("animation.layout", p.Resource, "unknown resource pool")
		}
		if capacity < 1 {
			return errors.InvalidConfig("animation.layout", p.Resource, "resource pool is empty")
		}
	}
	return nil
}

// Missing lists events present in the log that have no position, sorted.
// Departures are drawn at the exit position.
func Missing(entries []model.EventLogEntry, positions []Position) []string {
	placed := make(map[string]struct{}, len(positions))
	for _, p := range positions {
		placed[p.Event] = struct{}{}
	}

	var missing []string
	for _, event := range eventlog.DistinctEvents(entries) {
		key := event
		if event == model.EventDepart {
			key = ExitEvent
		}
		if _, ok := placed[key]; !ok {
			missing = append(missing, event)
		}
	}
	sort.Strings(missing)
	return missing
}
