// Package batch runs the single pass over an item export: parse each
// description, then write the derived enumeration and chronology to Alma.
package batch

import (
	"context"
	"time"

	"enumchron/internal/alma"
	"enumchron/internal/enumchron"
	"enumchron/internal/inventory"
	"enumchron/internal/store"

	"github.com/pkg/errors"
	"go.uber.org/zap"
)

// ItemService reads and writes item records.
type ItemService interface {
	GetItem(ctx context.Context, ref alma.ItemRef) (*alma.Item, error)
	UpdateItem(ctx context.Context, ref alma.ItemRef, item *alma.Item) (*alma.Item, error)
}

// Ledger remembers what earlier runs wrote.
type Ledger interface {
	Applied(ctx context.Context, itemPID string) (enumchron.Fields, bool, error)
	RecordItem(ctx context.Context, rec store.ItemRecord) error
}

// Reporter observes a run.
type Reporter interface {
	Start(total int)
	Step(done int, outcome Outcome)
	Finish(summary *Summary)
}

// Status is the result of processing one row.
type Status string

const (
	StatusFilled    Status = store.StatusFilled
	StatusUnmatched Status = store.StatusUnmatched
	StatusSkipped   Status = store.StatusSkipped
	StatusFailed    Status = store.StatusFailed
	StatusHalted    Status = store.StatusHalted
)

// Outcome is what happened to one row.
type Outcome struct {
	Row      *inventory.Row
	Status   Status
	Rule     string
	Fields   enumchron.Fields
	Previous enumchron.Fields // set when an overwrite replaced existing values
	Barcode  string
	Reason   string // why a row was skipped
	Err      error
}

// Options controls how rows are written.
type Options struct {
	DryRun    bool // parse and count, never call the API
	Overwrite bool // update items that already carry enumeration/chronology
}

// Summary is the result of a run.
type Summary struct {
	RunID  string
	Counts store.Counts
	Halted bool

	// Filled lists rows written to Alma (or that would be, in a dry run).
	Filled []inventory.Filled
	// Resolved holds the rows that need no further work: filled or skipped.
	Resolved map[*inventory.Row]bool
	Outcomes []Outcome
}

// Runner processes rows strictly one after another.
type Runner struct {
	Cascade  *enumchron.Cascade
	Items    ItemService
	Ledger   Ledger   // optional
	Reporter Reporter // optional
	Options  Options
	Logger   *zap.Logger
	ErrorLog *zap.Logger // per-row failures, optional
	RunID    string
	Now      func() time.Time
}

// Run processes rows in order. A 429 from the API or a cancelled context
// stops the run: the current row and everything after it stay unresolved
// and the returned error wraps the cause. Per-row failures are counted and
// logged, not returned.
func (r *Runner) Run(ctx context.Context, rows []*inventory.Row) (*Summary, error) {
	r.defaults()

	summary := &Summary{
		RunID:    r.RunID,
		Resolved: make(map[*inventory.Row]bool),
	}
	summary.Counts.Total = len(rows)
	if r.Reporter != nil {
		r.Reporter.Start(len(rows))
	}

	var haltErr error
	for i, row := range rows {
		var outcome Outcome
		if err := ctx.Err(); err != nil {
			outcome = Outcome{Row: row, Status: StatusHalted, Err: err}
		} else {
			outcome = r.process(ctx, row)
		}

		r.tally(summary, outcome)
		r.record(ctx, outcome)
		if r.Reporter != nil {
			r.Reporter.Step(i+1, outcome)
		}

		if outcome.Status == StatusHalted {
			summary.Halted = true
			haltErr = errors.Wrapf(outcome.Err, "halted at record %d (item %s) after %d of %d rows",
				row.Line, row.ItemID, i, len(rows))
			r.Logger.Warn("batch halted",
				zap.Int("processed", i),
				zap.Int("remaining", len(rows)-i),
				zap.Error(outcome.Err))
			break
		}
	}

	if r.Reporter != nil {
		r.Reporter.Finish(summary)
	}
	return summary, haltErr
}

func (r *Runner) defaults() {
	if r.Logger == nil {
		r.Logger = zap.NewNop()
	}
	if r.ErrorLog == nil {
		r.ErrorLog = zap.NewNop()
	}
	if r.Cascade == nil {
		r.Cascade = enumchron.DefaultCascade()
	}
	if r.Now == nil {
		r.Now = time.Now
	}
}

func (r *Runner) process(ctx context.Context, row *inventory.Row) Outcome {
	res, ok := r.Cascade.Parse(row.Description)
	if !ok {
		r.Logger.Debug("description not matched",
			zap.String("item_pid", row.ItemID),
			zap.String("description", row.Description))
		return Outcome{Row: row, Status: StatusUnmatched}
	}
	outcome := Outcome{Row: row, Rule: res.Rule, Fields: res.Fields}

	if r.Ledger != nil {
		prev, applied, err := r.Ledger.Applied(ctx, row.ItemID)
		if err != nil {
			r.Logger.Warn("ledger lookup failed", zap.String("item_pid", row.ItemID), zap.Error(err))
		} else if applied && prev == res.Fields {
			outcome.Status = StatusSkipped
			outcome.Reason = "already applied"
			return outcome
		}
	}

	if r.Options.DryRun {
		outcome.Status = StatusFilled
		return outcome
	}

	ref := alma.ItemRef{MMSID: row.MMSID, HoldingID: row.HoldingID, ItemPID: row.ItemID}
	item, err := r.Items.GetItem(ctx, ref)
	if err != nil {
		return r.failure(ctx, outcome, err)
	}
	outcome.Barcode = item.Barcode

	if item.HasEnumChron() && !r.Options.Overwrite {
		outcome.Status = StatusSkipped
		outcome.Reason = "item already has enumeration/chronology"
		return outcome
	}
	if item.HasEnumChron() {
		outcome.Previous = item.Fields
	}

	if err := item.Apply(res.Fields); err != nil {
		return r.failure(ctx, outcome, err)
	}
	if _, err := r.Items.UpdateItem(ctx, ref, item); err != nil {
		return r.failure(ctx, outcome, err)
	}

	r.Logger.Debug("item updated",
		zap.String("item_pid", row.ItemID),
		zap.String("rule", res.Rule),
		zap.Any("fields", res.Fields))
	outcome.Status = StatusFilled
	return outcome
}

func (r *Runner) failure(ctx context.Context, outcome Outcome, err error) Outcome {
	outcome.Err = err
	outcome.Status = StatusFailed
	if alma.IsRateLimited(err) || ctx.Err() != nil {
		outcome.Status = StatusHalted
	}

	row := outcome.Row
	r.ErrorLog.Error("item update failed",
		zap.Int("record", row.Line),
		zap.String("mms_id", row.MMSID),
		zap.String("holding_id", row.HoldingID),
		zap.String("item_pid", row.ItemID),
		zap.String("description", row.Description),
		zap.String("status", string(outcome.Status)),
		zap.Error(err))
	return outcome
}

func (r *Runner) tally(summary *Summary, outcome Outcome) {
	summary.Outcomes = append(summary.Outcomes, outcome)
	switch outcome.Status {
	case StatusFilled:
		summary.Counts.Filled++
		summary.Resolved[outcome.Row] = true
		summary.Filled = append(summary.Filled, inventory.Filled{Row: outcome.Row, Fields: outcome.Fields})
	case StatusSkipped:
		summary.Counts.Skipped++
		summary.Resolved[outcome.Row] = true
	case StatusUnmatched:
		summary.Counts.Unmatched++
	case StatusFailed:
		summary.Counts.Failed++
	}
}

func (r *Runner) record(ctx context.Context, outcome Outcome) {
	if r.Ledger == nil || r.RunID == "" {
		return
	}
	row := outcome.Row
	rec := store.ItemRecord{
		RunID:       r.RunID,
		ItemPID:     row.ItemID,
		MMSID:       row.MMSID,
		HoldingID:   row.HoldingID,
		Barcode:     outcome.Barcode,
		Description: row.Description,
		Rule:        outcome.Rule,
		Fields:      outcome.Fields,
		Previous:    outcome.Previous,
		Status:      string(outcome.Status),
		Error:       outcome.Reason,
		At:          r.Now(),
	}
	if outcome.Err != nil {
		rec.Error = outcome.Err.Error()
	}
	// The context may already be cancelled when a halt is recorded.
	if err := r.Ledger.RecordItem(context.WithoutCancel(ctx), rec); err != nil {
		r.Logger.Warn("ledger write failed", zap.String("item_pid", row.ItemID), zap.Error(err))
	}
}
