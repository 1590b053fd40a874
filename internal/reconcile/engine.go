// Package reconcile sweeps the ledger's item range, compares cached
// artifacts against live mutation counts, and regenerates whatever is
// missing or behind. A pass always runs to completion; individual item
// failures are tallied, never fatal.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"framevault/internal/artifact"
	"framevault/internal/ledger"
	"framevault/internal/storage"
)

// Generator is the slice of the job driver the engine needs.
type Generator interface {
	GenerateOne(ctx context.Context, itemID int64) (*artifact.Artifact, error)
}

// ItemError records a per-item failure inside a pass.
type ItemError struct {
	ItemID int64
	Err    error
}

// Report is the outcome of one reconciliation pass.
type Report struct {
	TotalSupply int64
	Missing     []int64 // no artifact stored
	Stale       []int64 // stored mutation count differs from the ledger's
	UpToDate    int

	// ReadErrors lists items whose ledger or storage read failed during
	// classification. Those items are also counted as Missing: the engine
	// fails open toward re-render rather than silently skipping.
	ReadErrors []ItemError

	Succeeded   int
	Failed      int
	FailedItems []ItemError

	StartedAt  time.Time
	FinishedAt time.Time
}

// Remediated reports how many items the pass attempted to regenerate.
func (r *Report) Remediated() int {
	return r.Succeeded + r.Failed
}

// Duration returns the wall-clock length of the pass.
func (r *Report) Duration() time.Duration {
	return r.FinishedAt.Sub(r.StartedAt)
}

// Engine drives reconciliation passes.
type Engine struct {
	ledger ledger.Client
	store  storage.Store
	gen    Generator
	logger *slog.Logger
}

// New creates an engine over the given collaborators.
func New(lc ledger.Client, store storage.Store, gen Generator, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	return &Engine{ledger: lc, store: store, gen: gen, logger: logger}
}

// Classify walks item ids 1..totalSupply and buckets each as missing, stale,
// or up to date. It performs no remediation; `sync --dry-run` and the full
// pass both go through here.
func (e *Engine) Classify(ctx context.Context) (*Report, error) {
	report := &Report{StartedAt: time.Now().UTC()}

	total, err := e.ledger.TotalCount(ctx)
	if err != nil {
		return nil, fmt.Errorf("reading total supply: %w", err)
	}
	report.TotalSupply = total
	if total == 0 {
		report.FinishedAt = time.Now().UTC()
		e.logger.Info("nothing to sync, ledger reports zero supply")
		return report, nil
	}

	for id := int64(1); id <= total; id++ {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("classification interrupted at item %d: %w", id, err)
		}

		meta, err := e.store.Stat(ctx, id)
		if errors.Is(err, storage.ErrNotFound) {
			report.Missing = append(report.Missing, id)
			continue
		}
		if err != nil {
			// Fail open: an unreadable artifact is treated as absent so the
			// item gets re-rendered instead of silently skipped.
			report.ReadErrors = append(report.ReadErrors, ItemError{ItemID: id, Err: err})
			report.Missing = append(report.Missing, id)
			continue
		}

		mutations, err := e.ledger.MutationCount(ctx, id)
		if err != nil {
			report.ReadErrors = append(report.ReadErrors, ItemError{ItemID: id, Err: err})
			report.Missing = append(report.Missing, id)
			continue
		}

		if meta.MutationCount != mutations {
			report.Stale = append(report.Stale, id)
			continue
		}
		report.UpToDate++
	}

	report.FinishedAt = time.Now().UTC()
	return report, nil
}

// Run performs a full pass: classify, then regenerate every missing and
// stale item sequentially, missing first. Item failures are recorded on the
// report and never abort the pass; only context cancellation stops it early.
func (e *Engine) Run(ctx context.Context) (*Report, error) {
	report, err := e.Classify(ctx)
	if err != nil {
		return nil, err
	}

	worklist := make([]int64, 0, len(report.Missing)+len(report.Stale))
	worklist = append(worklist, report.Missing...)
	worklist = append(worklist, report.Stale...)
	if len(worklist) == 0 {
		e.logger.Info("reconciliation pass clean",
			"supply", report.TotalSupply, "up_to_date", report.UpToDate)
		return report, nil
	}

	e.logger.Info("reconciliation pass remediating",
		"supply", report.TotalSupply,
		"missing", len(report.Missing), "stale", len(report.Stale))

	for _, id := range worklist {
		if err := ctx.Err(); err != nil {
			report.FinishedAt = time.Now().UTC()
			return report, fmt.Errorf("remediation interrupted at item %d: %w", id, err)
		}

		if _, err := e.gen.GenerateOne(ctx, id); err != nil {
			report.Failed++
			report.FailedItems = append(report.FailedItems, ItemError{ItemID: id, Err: err})
			e.logger.Warn("remediation failed", "item", id, "error", err)
			continue
		}
		report.Succeeded++
	}

	report.FinishedAt = time.Now().UTC()
	e.logger.Info("reconciliation pass complete",
		"supply", report.TotalSupply,
		"succeeded", report.Succeeded, "failed", report.Failed,
		"elapsed", report.Duration())
	return report, nil
}
