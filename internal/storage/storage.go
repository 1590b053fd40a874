package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"framevault/internal/artifact"
)

// ErrNotFound is returned when no artifact exists for the requested item.
// It is a normal outcome for Download, not a failure.
var ErrNotFound = errors.New("artifact not found")

// Descriptor identifies a stored artifact without its payload.
type Descriptor struct {
	ItemID       int64
	LastModified time.Time
}

// Store persists rendered artifacts. Exactly one artifact exists per item id
// at any time; Upload is the sole mutator and overwrites atomically, so a
// failed Upload leaves any prior artifact readable.
type Store interface {
	Upload(ctx context.Context, a *artifact.Artifact) error
	// Download returns ErrNotFound when no artifact exists for itemID.
	Download(ctx context.Context, itemID int64) (*artifact.Artifact, error)
	// Stat returns the artifact's metadata without reading frame payloads.
	// It returns ErrNotFound when no artifact exists for itemID.
	Stat(ctx context.Context, itemID int64) (*artifact.Meta, error)
	// List returns descriptors for all stored artifacts, ordered by item id.
	List(ctx context.Context) ([]Descriptor, error)
	// Delete is idempotent; deleting a missing artifact is not an error.
	Delete(ctx context.Context, itemID int64) error
	// Location returns a backend-scheme URI for the item's artifact. It does
	// not imply the artifact exists.
	Location(itemID int64) string
	Close() error
}

// Open constructs the backend named by kind. dataDir is ignored by the
// memory backend.
func Open(kind, dataDir string) (Store, error) {
	switch kind {
	case "sqlite":
		return OpenSQLite(dataDir)
	case "fs":
		return OpenFS(dataDir)
	case "memory":
		return NewMemory(), nil
	default:
		return nil, fmt.Errorf("unknown storage backend %q", kind)
	}
}
