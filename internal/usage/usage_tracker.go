package usage

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/pkg/errors"
)

type contextKey struct{}

type runKey struct{}

// Tracker records catalog API calls and persists the counters.
type Tracker struct {
	mu       sync.Mutex
	data     UsageData
	filePath string
	now      func() time.Time
}

// NewTracker creates a tracker persisting to usage.json in stateDir.
func NewTracker(stateDir string) (*Tracker, error) {
	if err := os.MkdirAll(stateDir, 0755); err != nil {
		return nil, errors.Wrap(err, "create state dir")
	}

	t := &Tracker{
		filePath: filepath.Join(stateDir, "usage.json"),
		data:     emptyData(),
		now:      time.Now,
	}

	if err := t.Load(); err != nil {
		return nil, errors.Wrap(err, "load usage data")
	}

	return t, nil
}

func emptyData() UsageData {
	return UsageData{
		Version:   "1.0",
		Remaining: -1,
		Aggregate: AggregatedStats{
			ByMethod: make(map[string]CallCounts),
			ByStatus: make(map[string]CallCounts),
			ByRun:    make(map[string]CallCounts),
			ByDay:    make(map[string]CallCounts),
		},
	}
}

// Load reads the usage data from disk.
func (t *Tracker) Load() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := os.ReadFile(t.filePath)
	if os.IsNotExist(err) {
		return nil
	}
	if err != nil {
		return errors.Wrap(err, "read usage file")
	}

	loaded := emptyData()
	if err := json.Unmarshal(data, &loaded); err != nil {
		return errors.Wrapf(err, "decode %s", t.filePath)
	}

	// Ensure maps are initialized if file was empty/partial
	if loaded.Aggregate.ByMethod == nil {
		loaded.Aggregate.ByMethod = make(map[string]CallCounts)
	}
	if loaded.Aggregate.ByStatus == nil {
		loaded.Aggregate.ByStatus = make(map[string]CallCounts)
	}
	if loaded.Aggregate.ByRun == nil {
		loaded.Aggregate.ByRun = make(map[string]CallCounts)
	}
	if loaded.Aggregate.ByDay == nil {
		loaded.Aggregate.ByDay = make(map[string]CallCounts)
	}
	t.data = loaded

	return nil
}

// Save writes the usage data to disk.
func (t *Tracker) Save() error {
	t.mu.Lock()
	defer t.mu.Unlock()

	data, err := json.MarshalIndent(t.data, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encode usage data")
	}
	return errors.Wrap(os.WriteFile(t.filePath, data, 0644), "write usage file")
}

// Track records one API call. status is the HTTP status, or 0 when the
// request never got a response. remaining is the daily quota reported by the
// API, negative when the response carried none.
func (t *Tracker) Track(ctx context.Context, method string, status int, remaining int) {
	t.mu.Lock()
	defer t.mu.Unlock()

	failed := status < 200 || status > 299
	now := t.now()

	t.data.Aggregate.Total.Add(failed)
	addToMap(t.data.Aggregate.ByMethod, method, failed)
	addToMap(t.data.Aggregate.ByStatus, statusClass(status), failed)
	addToMap(t.data.Aggregate.ByDay, now.UTC().Format("2006-01-02"), failed)
	if runID := RunFromContext(ctx); runID != "" {
		addToMap(t.data.Aggregate.ByRun, runID, failed)
	}

	if remaining >= 0 {
		t.data.Remaining = remaining
		t.data.RemainingAt = now
	}
}

// Stats returns a copy of the aggregated stats.
func (t *Tracker) Stats() AggregatedStats {
	t.mu.Lock()
	defer t.mu.Unlock()
	stats := t.data.Aggregate
	stats.ByMethod = copyCountsMap(stats.ByMethod)
	stats.ByStatus = copyCountsMap(stats.ByStatus)
	stats.ByRun = copyCountsMap(stats.ByRun)
	stats.ByDay = copyCountsMap(stats.ByDay)
	return stats
}

// Remaining returns the last reported daily quota and when it was reported.
// ok is false when no response has carried one yet.
func (t *Tracker) Remaining() (remaining int, at time.Time, ok bool) {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.data.Remaining, t.data.RemainingAt, t.data.Remaining >= 0
}

func statusClass(status int) string {
	switch {
	case status == 0:
		return "error"
	case status == 429:
		return "429"
	default:
		return fmt.Sprintf("%dxx", status/100)
	}
}

func copyCountsMap(src map[string]CallCounts) map[string]CallCounts {
	if src == nil {
		return nil
	}
	dst := make(map[string]CallCounts, len(src))
	for key, counts := range src {
		dst[key] = counts
	}
	return dst
}

func addToMap(m map[string]CallCounts, key string, failed bool) {
	entry := m[key]
	entry.Add(failed)
	m[key] = entry
}

// Context Helpers

// NewContext returns a new context carrying the tracker.
func NewContext(ctx context.Context, t *Tracker) context.Context {
	return context.WithValue(ctx, contextKey{}, t)
}

// FromContext retrieves the tracker from the context.
func FromContext(ctx context.Context) *Tracker {
	t, _ := ctx.Value(contextKey{}).(*Tracker)
	return t
}

// WithRun tags calls made under ctx with a batch run id.
func WithRun(ctx context.Context, runID string) context.Context {
	return context.WithValue(ctx, runKey{}, runID)
}

// RunFromContext returns the run id set by WithRun, if any.
func RunFromContext(ctx context.Context) string {
	id, _ := ctx.Value(runKey{}).(string)
	return id
}
