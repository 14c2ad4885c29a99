package usage

import "time"

// UsageData represents the root structure stored in persistence.
type UsageData struct {
	Version   string          `json:"version"`
	Aggregate AggregatedStats `json:"aggregate"`

	// Remaining is the last daily quota reported by the API, -1 when unknown.
	Remaining   int       `json:"remaining"`
	RemainingAt time.Time `json:"remaining_at,omitempty"`
}

// AggregatedStats holds counters broken down by various dimensions.
type AggregatedStats struct {
	Total    CallCounts            `json:"total"`
	ByMethod map[string]CallCounts `json:"by_method"` // GET, PUT
	ByStatus map[string]CallCounts `json:"by_status"` // 2xx, 4xx, 429, 5xx
	ByRun    map[string]CallCounts `json:"by_run"`
	ByDay    map[string]CallCounts `json:"by_day"` // YYYY-MM-DD, UTC
}

// CallCounts holds call and failure sums.
type CallCounts struct {
	Calls  int64 `json:"calls"`
	Failed int64 `json:"failed"`
}

func (cc *CallCounts) Add(failed bool) {
	cc.Calls++
	if failed {
		cc.Failed++
	}
}
