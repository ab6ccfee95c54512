package model

// Hypers is the per-experiment suggestion engine state. State is opaque to
// everything but the chooser that wrote it; the remaining fields record which
// fit produced it.
type Hypers struct {
	Version          int            `json:"version"`
	ObservationCount int            `json:"observation_count"`
	FitID            string         `json:"fit_id,omitempty"`
	FittedAt         *Timestamp     `json:"fitted_at,omitempty"`
	Chooser          string         `json:"chooser,omitempty"`
	State            map[string]any `json:"state,omitempty"`
}

// Empty reports whether the record carries no chooser state.
func (h *Hypers) Empty() bool {
	return h == nil || (len(h.State) == 0 && h.Version == 0)
}
