package layout

// RenderOptions are passed through untouched to the animation renderer.
type RenderOptions struct {
	EveryXTimeUnits    float64 `yaml:"every_x_time_units" json:"every_x_time_units"`
	LimitDuration      float64 `yaml:"limit_duration" json:"limit_duration"`
	WrapQueuesAt       int     `yaml:"wrap_queues_at" json:"wrap_queues_at"`
	StepSnapshotMax    int     `yaml:"step_snapshot_max" json:"step_snapshot_max"`
	FrameDuration      int     `yaml:"frame_duration" json:"frame_duration"`
	TimeDisplayUnits   string  `yaml:"time_display_units" json:"time_display_units"`
	IconAndTextSize    int     `yaml:"icon_and_text_size" json:"icon_and_text_size"`
	GapBetweenEntities int     `yaml:"gap_between_entities" json:"gap_between_entities"`
	GapBetweenRows     int     `yaml:"gap_between_rows" json:"gap_between_rows"`
	PlotlyHeight       int     `yaml:"plotly_height" json:"plotly_height"`
	PlotlyWidth        int     `yaml:"plotly_width" json:"plotly_width"`
	OverrideXMax       float64 `yaml:"override_x_max,omitempty" json:"override_x_max,omitempty"`
	IncludePlayButton  bool    `yaml:"include_play_button" json:"include_play_button"`
	DisplayStageLabels bool    `yaml:"display_stage_labels" json:"display_stage_labels"`
}

// DefaultRenderOptions returns the dashboard's animation settings for a
// collection period of limit minutes.
func DefaultRenderOptions(limit float64) RenderOptions {
	return RenderOptions{
		EveryXTimeUnits:    1,
		LimitDuration:      limit,
		WrapQueuesAt:       25,
		StepSnapshotMax:    75,
		FrameDuration:      200,
		TimeDisplayUnits:   "dhm",
		IconAndTextSize:    20,
		GapBetweenEntities: 8,
		GapBetweenRows:     25,
		PlotlyHeight:       700,
		PlotlyWidth:        1200,
		OverrideXMax:       300,
		IncludePlayButton:  true,
		DisplayStageLabels: true,
	}
}
