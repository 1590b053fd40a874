// Package ledger reads collectible state from the external ledger. The core
// never writes to the ledger; it only needs the item count and per-item
// mutation counts to judge cache staleness.
package ledger

import "context"

// Client is the read-only view of the ledger the core depends on.
type Client interface {
	// TotalCount returns the number of minted items. Item ids run 1..TotalCount.
	TotalCount(ctx context.Context) (int64, error)
	// MutationCount returns the item's monotonic mutation counter.
	MutationCount(ctx context.Context, itemID int64) (int64, error)
	// Exists reports whether the item has been minted. Used by peripheral
	// status checks, not by reconciliation.
	Exists(ctx context.Context, itemID int64) (bool, error)
}
