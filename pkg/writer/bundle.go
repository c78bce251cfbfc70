package writer

import (
	"encoding/json"
	"io"

	"github.com/callflow/callflow/internal/model"
	"github.com/callflow/callflow/pkg/errors"
	"github.com/callflow/callflow/pkg/layout"
)

// Bundle is everything the animation renderer needs for one run.
type Bundle struct {
	EventLog       []model.EventLogEntry `json:"event_log"`
	EventPositions []layout.Position     `json:"event_positions"`
	Scenario       layout.Scenario       `json:"scenario"`
	Options        layout.RenderOptions  `json:"options"`
}

// NewBundle validates the layout against the scenario and assembles a bundle.
func NewBundle(entries []model.EventLogEntry, positions []layout.Position, scenario layout.Scenario, opts layout.RenderOptions) (Bundle, error) {
	if err := layout.Validate(positions, scenario); err != nil {
		return Bundle{}, err
	}
	if entries == nil {
		entries = []model.EventLogEntry{}
	}
	return Bundle{
		EventLog:       entries,
		EventPositions: positions,
		Scenario:       scenario,
		Options:        opts,
	}, nil
}

// WriteBundle writes b as indented JSON.
func WriteBundle(w io.Writer, b Bundle) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return errors.Wrap(err, errors.CodeWriteFailed, "failed to encode animation bundle")
	}
	return nil
}
