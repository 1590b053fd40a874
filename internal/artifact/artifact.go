package artifact

import (
	"errors"
	"fmt"
	"time"
)

// ErrBadEnvelope is returned when a stored payload cannot be decoded.
var ErrBadEnvelope = errors.New("bad artifact envelope")

// BytesPerPixel is the sample width of a single pixel (RGBA).
const BytesPerPixel = 4

// Artifact is the cached render output for one ledger item. It is immutable
// once written; a regeneration replaces the whole artifact.
type Artifact struct {
	ItemID        int64
	Width         int
	Height        int
	Frames        [][]byte // each frame is Width*Height*BytesPerPixel bytes
	MutationCount int64
	RenderedAt    time.Time
}

// FrameSize returns the expected byte length of a single frame.
func (a *Artifact) FrameSize() int {
	return a.Width * a.Height * BytesPerPixel
}

// Validate checks structural invariants before the artifact is encoded or
// uploaded.
func (a *Artifact) Validate() error {
	if a.ItemID <= 0 {
		return fmt.Errorf("artifact item id %d: must be positive", a.ItemID)
	}
	if a.Width <= 0 || a.Height <= 0 {
		return fmt.Errorf("artifact %d: invalid dimensions %dx%d", a.ItemID, a.Width, a.Height)
	}
	if len(a.Frames) == 0 {
		return fmt.Errorf("artifact %d: no frames", a.ItemID)
	}
	if a.MutationCount < 0 {
		return fmt.Errorf("artifact %d: negative mutation count %d", a.ItemID, a.MutationCount)
	}
	want := a.FrameSize()
	for i, f := range a.Frames {
		if len(f) != want {
			return fmt.Errorf("artifact %d: frame %d is %d bytes, want %d", a.ItemID, i, len(f), want)
		}
	}
	return nil
}
