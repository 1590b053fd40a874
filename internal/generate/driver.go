package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"framevault/internal/artifact"
	"framevault/internal/render"
	"framevault/internal/storage"
)

// ErrBatchTooLarge is returned when a batch exceeds the configured cap. No
// item in the batch is attempted.
var ErrBatchTooLarge = errors.New("batch too large")

// ErrInvalidItem is returned for non-positive item ids.
var ErrInvalidItem = errors.New("item id must be positive")

// DefaultMaxBatch is the batch cap used when Options leaves it zero.
const DefaultMaxBatch = 10

// Options configures a Driver.
type Options struct {
	// MaxBatch caps GenerateBatch input size. Defaults to DefaultMaxBatch.
	MaxBatch int
	// Timeout bounds one generation episode end to end.
	Timeout time.Duration
	// Concurrency caps simultaneous renders across all items. Defaults to 1:
	// the rendering collaborator is heavyweight and sequential by design.
	Concurrency int64
	Logger      *slog.Logger
}

// Driver executes single and batch generations. It owns the deduplicator,
// so every path into rendering (HTTP, webhook, reconciliation) shares the
// same per-item serialization.
type Driver struct {
	dedup    *Deduplicator
	maxBatch int
	logger   *slog.Logger
}

// ItemResult is one item's outcome within a batch.
type ItemResult struct {
	ItemID   int64
	Artifact *artifact.Artifact
	Err      error
}

// NewDriver wires renderer and store into a generation pipeline. A
// generation episode renders the item and persists the artifact; persistence
// failures are part of the episode outcome, so joined callers see them too.
func NewDriver(renderer render.Renderer, store storage.Store, opts Options) *Driver {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	maxBatch := opts.MaxBatch
	if maxBatch <= 0 {
		maxBatch = DefaultMaxBatch
	}

	run := func(ctx context.Context, itemID int64) (*artifact.Artifact, error) {
		res, err := renderer.Render(ctx, itemID)
		if err != nil {
			return nil, fmt.Errorf("item %d: %w", itemID, err)
		}
		a := &artifact.Artifact{
			ItemID:        itemID,
			Width:         res.Width,
			Height:        res.Height,
			Frames:        res.Frames,
			MutationCount: res.MutationCount,
			RenderedAt:    time.Now().UTC(),
		}
		if err := store.Upload(ctx, a); err != nil {
			return nil, fmt.Errorf("item %d: %w", itemID, err)
		}
		return a, nil
	}

	return &Driver{
		dedup:    NewDeduplicator(run, opts.Timeout, opts.Concurrency, logger),
		maxBatch: maxBatch,
		logger:   logger,
	}
}

// Request starts (or joins) the item's generation episode without waiting.
func (d *Driver) Request(itemID int64) (h *Handle, joined bool, err error) {
	if itemID <= 0 {
		return nil, false, fmt.Errorf("item %d: %w", itemID, ErrInvalidItem)
	}
	h, joined = d.dedup.Request(itemID)
	return h, joined, nil
}

// InFlight reports whether the item has an active generation episode.
func (d *Driver) InFlight(itemID int64) bool {
	return d.dedup.InFlight(itemID)
}

// Close cancels in-flight generation episodes and waits for their renderer
// sessions to be released, or until ctx expires.
func (d *Driver) Close(ctx context.Context) error {
	return d.dedup.Close(ctx)
}

// GenerateOne renders and persists a single item, blocking until the episode
// completes or ctx expires.
func (d *Driver) GenerateOne(ctx context.Context, itemID int64) (*artifact.Artifact, error) {
	h, _, err := d.Request(itemID)
	if err != nil {
		return nil, err
	}
	return h.Wait(ctx)
}

// GenerateBatch processes the items sequentially, one render at a time, and
// records per-item outcomes. A failed item never aborts the rest. Batches
// over the cap are rejected before any render starts.
func (d *Driver) GenerateBatch(ctx context.Context, itemIDs []int64) ([]ItemResult, error) {
	if len(itemIDs) == 0 {
		return nil, errors.New("empty batch")
	}
	if len(itemIDs) > d.maxBatch {
		return nil, fmt.Errorf("%w: %d items, cap is %d", ErrBatchTooLarge, len(itemIDs), d.maxBatch)
	}

	results := make([]ItemResult, 0, len(itemIDs))
	for _, id := range itemIDs {
		if ctx.Err() != nil {
			results = append(results, ItemResult{ItemID: id, Err: ctx.Err()})
			continue
		}
		a, err := d.GenerateOne(ctx, id)
		if err != nil {
			d.logger.Warn("batch item failed", "item", id, "error", err)
			results = append(results, ItemResult{ItemID: id, Err: err})
			continue
		}
		results = append(results, ItemResult{ItemID: id, Artifact: a})
	}
	return results, nil
}

// MaxBatch returns the configured batch cap.
func (d *Driver) MaxBatch() int {
	return d.maxBatch
}
