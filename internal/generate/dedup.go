package generate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/semaphore"

	"framevault/internal/artifact"
	"framevault/internal/render"
)

// RunFunc executes one full generation episode for an item: render, persist,
// return the stored artifact.
type RunFunc func(ctx context.Context, itemID int64) (*artifact.Artifact, error)

// ErrShuttingDown is returned for episodes cut short (or refused) because
// the deduplicator was closed.
var ErrShuttingDown = errors.New("generator shutting down")

// episode is an in-flight generation for one item. It lives only in the
// deduplicator's map and dies with the process. All waiters for the same
// item observe the same artifact/err pair.
type episode struct {
	id        string
	itemID    int64
	startedAt time.Time
	done      chan struct{}

	// set exactly once, before done is closed
	artifact *artifact.Artifact
	err      error
}

// Handle resolves to a generation episode's outcome.
type Handle struct {
	ep *episode
}

// Wait blocks until the episode finishes or ctx expires. An expired ctx
// abandons the wait, not the render; the episode keeps running for any
// other waiters and for the cache.
func (h *Handle) Wait(ctx context.Context) (*artifact.Artifact, error) {
	select {
	case <-h.ep.done:
		return h.ep.artifact, h.ep.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Deduplicator guarantees at most one in-flight generation episode per item
// id. Concurrent requesters for the same item join the running episode; the
// map entry is removed before waiters are released, so a request arriving
// after completion always starts fresh.
type Deduplicator struct {
	run     RunFunc
	timeout time.Duration
	sem     *semaphore.Weighted
	logger  *slog.Logger

	// baseCtx parents every episode context; cancel ends them all on Close.
	baseCtx context.Context
	cancel  context.CancelFunc
	wg      sync.WaitGroup

	mu       sync.Mutex
	inflight map[int64]*episode
	closed   bool
}

// NewDeduplicator creates a deduplicator around run. timeout bounds each
// episode end to end (semaphore wait included); concurrency caps how many
// episodes may render at once across all items (minimum 1).
func NewDeduplicator(run RunFunc, timeout time.Duration, concurrency int64, logger *slog.Logger) *Deduplicator {
	if concurrency < 1 {
		concurrency = 1
	}
	if logger == nil {
		logger = slog.Default()
	}
	baseCtx, cancel := context.WithCancel(context.Background())
	return &Deduplicator{
		run:      run,
		timeout:  timeout,
		sem:      semaphore.NewWeighted(concurrency),
		logger:   logger,
		baseCtx:  baseCtx,
		cancel:   cancel,
		inflight: make(map[int64]*episode),
	}
}

// Request returns a handle to the item's generation episode, starting one if
// none is active. joined reports whether an already-running episode was
// reused.
func (d *Deduplicator) Request(itemID int64) (h *Handle, joined bool) {
	d.mu.Lock()
	if ep, ok := d.inflight[itemID]; ok {
		d.mu.Unlock()
		return &Handle{ep: ep}, true
	}

	ep := &episode{
		id:        uuid.New().String(),
		itemID:    itemID,
		startedAt: time.Now().UTC(),
		done:      make(chan struct{}),
	}
	if d.closed {
		d.mu.Unlock()
		ep.err = fmt.Errorf("generating item %d: %w", itemID, ErrShuttingDown)
		close(ep.done)
		return &Handle{ep: ep}, false
	}
	d.inflight[itemID] = ep
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		d.execute(ep)
	}()
	return &Handle{ep: ep}, false
}

// Close cancels every in-flight episode and waits for the renderer sessions
// to be released, or until ctx expires. Requests arriving after Close fail
// with ErrShuttingDown instead of starting new episodes.
func (d *Deduplicator) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()
	d.cancel()

	drained := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(drained)
	}()
	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return fmt.Errorf("waiting for in-flight generations: %w", ctx.Err())
	}
}

// InFlight reports whether a generation episode is currently active for the
// item.
func (d *Deduplicator) InFlight(itemID int64) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	_, ok := d.inflight[itemID]
	return ok
}

// execute runs one episode on a context detached from any caller, so the
// render survives an individual waiter giving up (webhook callers never wait
// at all). The context is still a child of baseCtx: Close cancels it.
func (d *Deduplicator) execute(ep *episode) {
	ctx := d.baseCtx
	var cancel context.CancelFunc
	if d.timeout > 0 {
		ctx, cancel = context.WithTimeout(ctx, d.timeout)
	} else {
		ctx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	a, err := d.runEpisode(ctx, ep)
	switch {
	case err == nil:
	case errors.Is(d.baseCtx.Err(), context.Canceled) && !errors.Is(err, ErrShuttingDown):
		err = fmt.Errorf("generating item %d: %w", ep.itemID, ErrShuttingDown)
	case errors.Is(ctx.Err(), context.DeadlineExceeded) && !errors.Is(err, render.ErrTimeout):
		err = fmt.Errorf("generating item %d: %w", ep.itemID, render.ErrTimeout)
	}

	ep.artifact = a
	ep.err = err

	// Remove before release: a caller arriving after done closes must never
	// find this episode in the map.
	d.mu.Lock()
	delete(d.inflight, ep.itemID)
	d.mu.Unlock()
	close(ep.done)

	elapsed := time.Since(ep.startedAt)
	if err != nil {
		d.logger.Warn("generation failed",
			"episode", ep.id, "item", ep.itemID, "elapsed", elapsed, "error", err)
		return
	}
	d.logger.Info("generation complete",
		"episode", ep.id, "item", ep.itemID, "elapsed", elapsed,
		"frames", len(a.Frames), "mutations", a.MutationCount)
}

func (d *Deduplicator) runEpisode(ctx context.Context, ep *episode) (*artifact.Artifact, error) {
	if err := d.sem.Acquire(ctx, 1); err != nil {
		return nil, fmt.Errorf("waiting for render slot for item %d: %w", ep.itemID, err)
	}
	defer d.sem.Release(1)

	return d.run(ctx, ep.itemID)
}
