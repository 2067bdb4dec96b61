package model

import "time"

// FlowStatus is the externally observable phase of a collection flow.
type FlowStatus string

const (
	FlowStatusPending     FlowStatus = "pending"
	FlowStatusGenerating  FlowStatus = "generating"
	FlowStatusAggregating FlowStatus = "aggregating"
	FlowStatusReady       FlowStatus = "ready"
	FlowStatusFailed      FlowStatus = "failed"
)

// flowTransitions lists the legal next states for each status.
var flowTransitions = map[FlowStatus][]FlowStatus{
	FlowStatusPending:     {FlowStatusGenerating, FlowStatusFailed},
	FlowStatusGenerating:  {FlowStatusAggregating, FlowStatusFailed},
	FlowStatusAggregating: {FlowStatusReady, FlowStatusFailed},
	FlowStatusReady:       {FlowStatusPending},
	FlowStatusFailed:      {FlowStatusPending},
}

// CanTransition reports whether a flow may move from s to next.
func (s FlowStatus) CanTransition(next FlowStatus) bool {
	for _, allowed := range flowTransitions[s] {
		if allowed == next {
			return true
		}
	}
	return false
}

// Active reports whether a run is in progress in this status.
func (s FlowStatus) Active() bool {
	return s == FlowStatusGenerating || s == FlowStatusAggregating
}

// Valid reports whether s is a known status.
func (s FlowStatus) Valid() bool {
	_, ok := flowTransitions[s]
	return ok
}

// Flow owns one questionnaire generation run and its phase status.
type Flow struct {
	ID        string        `json:"id"`
	Status    FlowStatus    `json:"status"`
	Error     string        `json:"error,omitempty"`
	AssetIDs  []string      `json:"asset_ids"`
	Gaps      []Gap         `json:"gaps"`
	Tenant    TenantContext `json:"tenant"`
	Report    *RunReport    `json:"report,omitempty"`
	CreatedAt time.Time     `json:"created_at"`
	UpdatedAt time.Time     `json:"updated_at"`
}

// PairFailure records a degraded (asset, section) attempt.
type PairFailure struct {
	AssetID   string `json:"asset_id"`
	SectionID string `json:"section_id"`
	Kind      string `json:"kind"`
	Reason    string `json:"reason"`
}

// RunReport summarizes the pair attempts of the latest run.
type RunReport struct {
	Attempted  int           `json:"attempted"`
	Generated  int           `json:"generated"`
	CacheHits  int           `json:"cache_hits"`
	Skipped    int           `json:"skipped"`
	Failed     []PairFailure `json:"failed,omitempty"`
	Questions  int           `json:"questions"`
	DurationMs int64         `json:"duration_ms"`
}

// Degraded reports whether any pair failed during the run.
func (r *RunReport) Degraded() bool {
	return r != nil && len(r.Failed) > 0
}
